package traffic

import (
	"errors"
	"fmt"
)

var (
	ErrOverrideDenied   = errors.New("override denied")
	ErrCapacityExceeded = errors.New("capacity exceeded")
	// ErrSignalFault is returned for override requests while the signals
	// of an intersection are out of service.
	ErrSignalFault = errors.New("signal malfunction")
)

// ConfigError reports an invalid configuration value. It is fatal: a world
// is never started from a config that produced one.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// OverrideDeniedError is returned when a conflicting approach already holds
// an emergency override. Callers may retry on a later tick.
type OverrideDeniedError struct {
	Intersection int
	Approach     Approach
	HeldBy       Approach
}

func (e *OverrideDeniedError) Error() string {
	return fmt.Sprintf("intersection %d: override for %s denied: %s holds a conflicting override", e.Intersection, e.Approach, e.HeldBy)
}

func (e *OverrideDeniedError) Unwrap() error { return ErrOverrideDenied }

func positive(field string, v float64) error {
	if v <= 0 {
		return &ConfigError{Field: field, Reason: "must be > 0"}
	}
	return nil
}
