// Package certrules decides whether a TLS peer certificate is accepted.
// Rules return a Behavior, and behaviors of several rules are reduced with
// Compose.
package certrules

import (
	"errors"
	"fmt"
)

var ErrUnknownBehavior = errors.New("unknown behavior")

type Behavior int

const (
	EmptyMask                   Behavior = 0
	BlackListed                 Behavior = 1
	BreakGlassUnlessBlackListed Behavior = 2
	NotAllowed                  Behavior = 4
	Allowed                     Behavior = 8
	Neutral                     Behavior = 16
)

func (b Behavior) String() string {
	switch b {
	case EmptyMask:
		return "EmptyMask"
	case BlackListed:
		return "BlackListed"
	case BreakGlassUnlessBlackListed:
		return "BreakGlassUnlessBlackListed"
	case NotAllowed:
		return "NotAllowed"
	case Allowed:
		return "Allowed"
	case Neutral:
		return "Neutral"
	}
	return fmt.Sprintf("Behavior(%d)", int(b))
}

// Accepted reports whether a final behavior lets the peer in.
func (b Behavior) Accepted() bool {
	return b == Allowed || b == BreakGlassUnlessBlackListed
}

// Compose folds the behavior of the next rule into base. BlackListed wins
// over everything. BreakGlassUnlessBlackListed wins over NotAllowed and
// Allowed, NotAllowed wins over Allowed, and Neutral changes nothing.
func Compose(base, next Behavior) (Behavior, error) {
	if base == BlackListed || next == BlackListed {
		return BlackListed, nil
	}
	switch next {
	case Neutral:
	case BreakGlassUnlessBlackListed:
		base = next
	case NotAllowed:
		if base != BreakGlassUnlessBlackListed {
			base = next
		}
	case Allowed:
		if base != NotAllowed && base != BreakGlassUnlessBlackListed {
			base = next
		}
	default:
		return base, fmt.Errorf("%w: %s", ErrUnknownBehavior, next)
	}
	return base, nil
}

// Role says which side of a connection a rule checks.
type Role int

const (
	RoleNone   Role = 0
	RoleClient Role = 1
	RoleServer Role = 2
	RoleAll    Role = RoleClient | RoleServer
)

func (r Role) String() string {
	switch r {
	case RoleNone:
		return "none"
	case RoleClient:
		return "client"
	case RoleServer:
		return "server"
	case RoleAll:
		return "all"
	}
	return fmt.Sprintf("Role(%d)", int(r))
}

func (r Role) Includes(other Role) bool {
	return r&other != RoleNone
}
