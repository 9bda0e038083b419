package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fieldsight-io/fieldsight/pkg/types"
)

func TestValidTransitions(t *testing.T) {
	tests := []struct {
		from  types.RunStatus
		to    types.RunStatus
		valid bool
	}{
		{types.RunPending, types.RunRunning, true},
		{types.RunPending, types.RunCancelled, true},
		{types.RunPending, types.RunSucceeded, false},
		{types.RunPending, types.RunSkipped, false},
		{types.RunRunning, types.RunSucceeded, true},
		{types.RunRunning, types.RunFailed, true},
		{types.RunRunning, types.RunSkipped, true},
		{types.RunRunning, types.RunCancelled, true},
		{types.RunRunning, types.RunPending, false},
		{types.RunSucceeded, types.RunFailed, false},
		{types.RunSucceeded, types.RunRunning, false},
		{types.RunFailed, types.RunPending, false},
		{types.RunSkipped, types.RunRunning, false},
		{types.RunCancelled, types.RunPending, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.valid, CanTransition(tt.from, tt.to))
			err := Transition(tt.from, tt.to)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, IsTerminal(types.RunSucceeded))
	assert.True(t, IsTerminal(types.RunFailed))
	assert.True(t, IsTerminal(types.RunSkipped))
	assert.True(t, IsTerminal(types.RunCancelled))
	assert.False(t, IsTerminal(types.RunPending))
	assert.False(t, IsTerminal(types.RunRunning))
}
