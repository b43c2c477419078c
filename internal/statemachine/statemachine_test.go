package statemachine

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func abcMachine() *StateMachine[string] {
	return New(map[string][]string{
		"a": {"b"},
		"b": {"c"},
		"c": {"a"},
	}, "a")
}

func TestSetStateFollowsTable(t *testing.T) {
	sm := abcMachine()

	assert.True(t, sm.SetState("b"))
	assert.Equal(t, "b", sm.State())

	assert.False(t, sm.SetState("a"))
	assert.Equal(t, "b", sm.State())

	assert.True(t, sm.SetState("c"))
	assert.True(t, sm.SetState("a"))
	assert.Equal(t, "a", sm.State())
}

func TestMustSetStateReportsPair(t *testing.T) {
	sm := abcMachine()
	require.NoError(t, sm.MustSetState("b"))

	err := sm.MustSetState("a")
	require.Error(t, err)
	assert.EqualError(t, err, "invalid state transition (b -> a)")
	assert.True(t, errors.Is(err, ErrInvalidTransition))

	var te *TransitionError[string]
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "b", te.From)
	assert.Equal(t, "a", te.To)
	assert.Equal(t, "b", sm.State())
}

func TestUnknownStateHasNoSuccessors(t *testing.T) {
	sm := New(map[int][]int{1: {2}}, 2)
	assert.False(t, sm.CanTransition(1))
	assert.False(t, sm.SetState(1))
	assert.Equal(t, 2, sm.State())
}

func TestSelfLoopMustBeDeclared(t *testing.T) {
	sm := New(map[string][]string{"on": {"on", "off"}, "off": {}}, "on")
	assert.True(t, sm.CanTransition("on"))
	assert.True(t, sm.SetState("on"))
	assert.True(t, sm.SetState("off"))
	assert.False(t, sm.SetState("off"))
}
