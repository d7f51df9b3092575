package certrules

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompose(t *testing.T) {
	behaviors := []Behavior{BlackListed, BreakGlassUnlessBlackListed, NotAllowed, Allowed, Neutral}
	// expected[base][next]
	expected := map[Behavior]map[Behavior]Behavior{
		BlackListed: {
			BlackListed:                 BlackListed,
			BreakGlassUnlessBlackListed: BlackListed,
			NotAllowed:                  BlackListed,
			Allowed:                     BlackListed,
			Neutral:                     BlackListed,
		},
		BreakGlassUnlessBlackListed: {
			BlackListed:                 BlackListed,
			BreakGlassUnlessBlackListed: BreakGlassUnlessBlackListed,
			NotAllowed:                  BreakGlassUnlessBlackListed,
			Allowed:                     BreakGlassUnlessBlackListed,
			Neutral:                     BreakGlassUnlessBlackListed,
		},
		NotAllowed: {
			BlackListed:                 BlackListed,
			BreakGlassUnlessBlackListed: BreakGlassUnlessBlackListed,
			NotAllowed:                  NotAllowed,
			Allowed:                     NotAllowed,
			Neutral:                     NotAllowed,
		},
		Allowed: {
			BlackListed:                 BlackListed,
			BreakGlassUnlessBlackListed: BreakGlassUnlessBlackListed,
			NotAllowed:                  NotAllowed,
			Allowed:                     Allowed,
			Neutral:                     Allowed,
		},
		Neutral: {
			BlackListed:                 BlackListed,
			BreakGlassUnlessBlackListed: BreakGlassUnlessBlackListed,
			NotAllowed:                  NotAllowed,
			Allowed:                     Allowed,
			Neutral:                     Neutral,
		},
	}
	for _, base := range behaviors {
		for _, next := range behaviors {
			t.Run(base.String()+"/"+next.String(), func(t *testing.T) {
				got, err := Compose(base, next)
				assert.NoError(t, err)
				assert.Equal(t, expected[base][next], got)
			})
		}
	}
}

func TestCompose_Unknown(t *testing.T) {
	tests := []struct {
		name string
		next Behavior
	}{
		{
			name: "empty mask",
			next: EmptyMask,
		},
		{
			name: "combined bits",
			next: Allowed | Neutral,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := Compose(Neutral, test.next)
			assert.ErrorIs(t, err, ErrUnknownBehavior)
		})
	}

	// A blacklisted side wins before the behavior is checked.
	b, err := Compose(BlackListed, EmptyMask)
	assert.NoError(t, err)
	assert.Equal(t, BlackListed, b)
}

func TestRole_Includes(t *testing.T) {
	assert.True(t, RoleAll.Includes(RoleClient))
	assert.True(t, RoleAll.Includes(RoleServer))
	assert.True(t, RoleClient.Includes(RoleClient))
	assert.False(t, RoleClient.Includes(RoleServer))
	assert.False(t, RoleNone.Includes(RoleAll))
	assert.Equal(t, "Behavior(3)", Behavior(3).String())
}
