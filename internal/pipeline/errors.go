package pipeline

import "fmt"

// ConfigError marks a tenant misconfiguration. Jobs failing with it carry a
// message the operator can act on directly.
type ConfigError struct {
	msg string
}

func (e *ConfigError) Error() string { return e.msg }

func configErrorf(format string, args ...any) *ConfigError {
	return &ConfigError{msg: fmt.Sprintf(format, args...)}
}
