package capability

import (
	"errors"
	"fmt"
)

// Error taxonomy. Capability call sites convert these into default values;
// none of them aborts a run.
var (
	// ErrOracleFailure covers network, auth and timeout failures talking to a capability.
	ErrOracleFailure = errors.New("oracle failure")

	// ErrMalformedResponse means the capability replied but not in the required shape.
	ErrMalformedResponse = errors.New("malformed response")

	// ErrNoCandidates means every worker call for a sub-task failed.
	ErrNoCandidates = errors.New("no candidates")

	// ErrNoReadyTasks means unresolved sub-tasks remain but none can be dispatched.
	ErrNoReadyTasks = errors.New("no ready tasks")

	// ErrThresholdNotMet means attempts were exhausted without reaching the accept threshold.
	ErrThresholdNotMet = errors.New("threshold not met")
)

// OracleFailure wraps err as an ErrOracleFailure.
func OracleFailure(capability string, err error) error {
	return fmt.Errorf("%s: %w: %w", capability, ErrOracleFailure, err)
}

// Malformed builds an ErrMalformedResponse with a formatted reason.
func Malformed(capability string, format string, args ...any) error {
	return fmt.Errorf("%s: %w: %s", capability, ErrMalformedResponse, fmt.Sprintf(format, args...))
}
