package policy

import "fmt"

// ConfigError is a fatal startup problem with the offending field and value.
type ConfigError struct {
	Field  string
	Value  string
	Reason string
}

// Error implements error interface
func (e *ConfigError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid configuration: %s=%s: %s", e.Field, e.Value, e.Reason)
}
