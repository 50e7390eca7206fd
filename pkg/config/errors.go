package config

import (
	"fmt"
	"strings"
)

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field       string
	Value       interface{}
	Reason      string
	Suggestions []string
}

func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("configuration error in field '%s': %s", e.Field, e.Reason)
	if len(e.Suggestions) > 0 {
		msg += " (" + strings.Join(e.Suggestions, "; ") + ")"
	}
	return msg
}

// WithSuggestion appends an operator hint to the error.
func (e *ConfigError) WithSuggestion(suggestion string) *ConfigError {
	e.Suggestions = append(e.Suggestions, suggestion)
	return e
}

// NewConfigMissingError reports a required field that is empty.
func NewConfigMissingError(field string) *ConfigError {
	return &ConfigError{
		Field:  field,
		Reason: fmt.Sprintf("required field '%s' is missing", field),
	}
}

// NewConfigValidationError reports a field holding an unusable value.
func NewConfigValidationError(field string, value interface{}, reason string) *ConfigError {
	return &ConfigError{
		Field:  field,
		Value:  value,
		Reason: reason,
	}
}
