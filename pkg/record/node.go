package record

import (
	"sort"
	"sync"
)

// Node is the in-memory tree node of a record. Children are referenced by id,
// the records themselves live in the registry.
type Node struct {
	mu       *sync.RWMutex
	children map[string]uint64
}

func NewNode() *Node {
	return &Node{
		mu: &sync.RWMutex{},
		// Init the children to an empty map instead of nil to avoid panics when writing to
		// a nil map.
		children: map[string]uint64{},
	}
}

// Child returns the id of the child with the given name.
func (n *Node) Child(name string) (uint64, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	id, ok := n.children[name]
	return id, ok
}

// AddChild links a child by name. It returns false without changing anything
// if a child with that name is already linked.
func (n *Node) AddChild(name string, id uint64) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.children[name]; ok {
		return false
	}
	n.children[name] = id
	return true
}

// RemoveChild unlinks the child with the given name and returns its id.
func (n *Node) RemoveChild(name string) (uint64, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	id, ok := n.children[name]
	if ok {
		delete(n.children, name)
	}
	return id, ok
}

func (n *Node) Len() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.children)
}

// Names returns the sorted names of all children.
func (n *Node) Names() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	names := make([]string, 0, len(n.children))
	for name := range n.children {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clear unlinks every child.
func (n *Node) Clear() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.children = map[string]uint64{}
}
