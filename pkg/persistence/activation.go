package persistence

import (
	"fmt"
	"sync"
)

// State is the role of a factory in the replica set.
type State int

const (
	// Inactive factories have not loaded data yet, or were deactivated.
	Inactive State = iota
	// Secondary factories apply replicated changes.
	Secondary
	// Primary factories accept change lists and ignore replicated changes.
	Primary
)

func (s State) String() string {
	switch s {
	case Inactive:
		return "inactive"
	case Secondary:
		return "secondary"
	case Primary:
		return "primary"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

type activation struct {
	stateMu *sync.RWMutex
	state   State
	core    Core
	client  Client
}

func newActivation() *activation {
	return &activation{
		stateMu: &sync.RWMutex{},
		state:   Inactive,
	}
}

func (f *Factory) State() State {
	f.stateMu.RLock()
	defer f.stateMu.RUnlock()
	return f.state
}

func (f *Factory) IsPrimary() bool {
	return f.State() == Primary
}

// IsCorePrimary reports whether the tree engine attached by Activate
// considers itself primary.
func (f *Factory) IsCorePrimary() bool {
	f.stateMu.RLock()
	core := f.core
	f.stateMu.RUnlock()
	return core != nil && core.IsPrimary()
}

// Activate makes the factory primary. The client is asked whether it can
// become primary and is told once it has.
func (f *Factory) Activate(core Core, client Client) error {
	if core == nil || client == nil {
		return fmt.Errorf("activate: %w: core and client are required", ErrInvalidArgument)
	}
	if !client.CanBecomePrimary() {
		return fmt.Errorf("activate: %w", ErrNotEligible)
	}

	f.stateMu.Lock()
	previous := f.state
	f.state = Primary
	f.core = core
	f.client = client
	f.stateMu.Unlock()

	// Ids handed out as primary continue after everything replicated so far.
	f.SetLastUniqueID(f.MaxID())
	f.log.WithField("previous", previous).Info("became primary")
	client.OnBecomePrimary()
	return nil
}

// Deactivate stops the factory from being primary. It loads again as a
// secondary.
func (f *Factory) Deactivate() {
	f.stateMu.Lock()
	previous := f.state
	f.state = Inactive
	f.core = nil
	f.client = nil
	f.stateMu.Unlock()

	f.log.WithField("previous", previous).Info("deactivated")
	f.store.OnDeactivate()
}

// markLoaded moves an inactive factory to secondary after a load.
func (f *Factory) markLoaded() {
	f.stateMu.Lock()
	defer f.stateMu.Unlock()
	if f.state == Inactive {
		f.state = Secondary
	}
}

// HealthDefinition is the health of one factory.
type HealthDefinition struct {
	Primary bool
	Loaded  bool
	State   State
}

// Health reports whether the factory is primary and whether it has a tree.
func (f *Factory) Health() map[string]HealthDefinition {
	return map[string]HealthDefinition{
		f.name: {
			Primary: f.IsCorePrimary(),
			Loaded:  f.Root() != nil,
			State:   f.State(),
		},
	}
}
