package synchro

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"packetworld.ai/internal/sim/ids"
	"packetworld.ai/internal/sim/world"
)

type roster []ids.ID

func (r roster) IDs() []ids.ID { return r }

func TestCentral_EveryoneButSelf(t *testing.T) {
	c := Central{Roster: roster{1, 2, 3}}
	assert.Equal(t, []ids.ID{1, 3}, c.Dependencies(2, world.Perception{}))
}

func TestIndependent_Empty(t *testing.T) {
	assert.Empty(t, (Independent{}).Dependencies(1, world.Perception{}))
}

func TestStatic_SetAndSelfExcluded(t *testing.T) {
	s := NewStatic(map[ids.ID][]ids.ID{1: {3, 2, 1}})
	assert.Equal(t, []ids.ID{2, 3}, s.Dependencies(1, world.Perception{}))
	s.Set(1, nil)
	assert.Empty(t, s.Dependencies(1, world.Perception{}))
}

func TestRadius_FiltersByChebyshevDistance(t *testing.T) {
	p := world.Perception{
		Self: 1, X: 5, Y: 5,
		Nearby: []world.Sighting{
			{ID: 2, X: 6, Y: 7},
			{ID: 3, X: 8, Y: 5},
			{ID: 1, X: 5, Y: 5},
			{ID: 4, X: 3, Y: 3},
		},
	}
	assert.Equal(t, []ids.ID{2, 4}, Radius{R: 2}.Dependencies(1, p))
}

func TestByName(t *testing.T) {
	for _, name := range []string{"central", "Independent", "radius", ""} {
		_, err := ByName(name, 2, roster{})
		require.NoError(t, err, name)
	}
	_, err := ByName("ring", 0, nil)
	assert.Error(t, err, "unknown synchronizer")
	_, err = ByName("radius", -1, nil)
	assert.Error(t, err, "negative radius")
}
