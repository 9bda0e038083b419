// Package lifecycle implements the materialization run state machine.
package lifecycle

import (
	"fmt"

	"github.com/fieldsight-io/fieldsight/pkg/types"
)

// Transition table: from -> allowed tos
var validTransitions = map[types.RunStatus][]types.RunStatus{
	types.RunPending:   {types.RunRunning, types.RunCancelled},
	types.RunRunning:   {types.RunSucceeded, types.RunFailed, types.RunSkipped, types.RunCancelled},
	types.RunSucceeded: {},
	types.RunFailed:    {},
	types.RunSkipped:   {},
	types.RunCancelled: {},
}

// CanTransition checks if transitioning from one run status to another is valid.
func CanTransition(from, to types.RunStatus) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// Transition validates the move, returning an error if it is invalid.
func Transition(from, to types.RunStatus) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}
	return nil
}

// IsTerminal returns true if the status is a terminal (final) state.
func IsTerminal(status types.RunStatus) bool {
	switch status {
	case types.RunSucceeded, types.RunFailed, types.RunSkipped, types.RunCancelled:
		return true
	}
	return false
}
