package domain

import "fmt"

// ConfigError means the caller supplied missing or invalid configuration.
// Fixable by the user, never retryable.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string { return e.Message }

func ConfigErrorf(format string, args ...any) *ConfigError {
	return &ConfigError{Message: fmt.Sprintf(format, args...)}
}

// RemoteAPIError means an upstream HTTP call failed after retries were
// exhausted, or returned a shape we could not use. The message only ever
// contains redacted URLs.
type RemoteAPIError struct {
	Message string
}

func (e *RemoteAPIError) Error() string { return e.Message }

func RemoteAPIErrorf(format string, args ...any) *RemoteAPIError {
	return &RemoteAPIError{Message: fmt.Sprintf(format, args...)}
}

// ParseError means a payload from a trusted-format source (feed XML, model
// output) violated its contract.
type ParseError struct {
	Message string
	Err     error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ParseError) Unwrap() error { return e.Err }

func ParseErrorf(format string, args ...any) *ParseError {
	return &ParseError{Message: fmt.Sprintf(format, args...)}
}
