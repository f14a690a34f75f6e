package workflow

import "fmt"

// ConfigurationError reports an invalid input detected before any external
// tool runs.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
