package orchestrator

import "fmt"

// ConfigurationError is an invalid job. It is returned before any strategy
// runs and is never retried.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid job: %s %s", e.Field, e.Reason)
}
