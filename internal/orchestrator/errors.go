package orchestrator

import (
	"errors"
	"strings"
)

var (
	// ErrNotFound is returned when no execution exists for an id.
	ErrNotFound = errors.New("orchestrator: execution not found")
	// ErrNoPendingConfirmation is returned when a resolve call targets an
	// execution that is not waiting for one.
	ErrNoPendingConfirmation = errors.New("orchestrator: no pending confirmation")
	// ErrConfirmationMismatch is returned when the supplied confirmation
	// id does not match the pending one.
	ErrConfirmationMismatch = errors.New("orchestrator: confirmation id does not match pending confirmation")
)

// ValidationError rejects a start request before any execution exists.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "orchestrator: invalid start request: " + e.Reason
}

// criticalGraphPhrases identify the narrow class of start errors that
// warrant a one-shot engine rebuild. Classification is by message
// because the phrases originate in graph construction, several layers
// below the recovery controller.
var criticalGraphPhrases = []string{
	"graph node already present",
	"graph not initialized",
	"unreachable node",
}

// IsCriticalGraphError reports whether err is a fatal agent-graph error.
func IsCriticalGraphError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, phrase := range criticalGraphPhrases {
		if strings.Contains(msg, phrase) {
			return true
		}
	}
	return false
}
