package crawler

import (
	"fmt"
)

// ConfigError reports an invalid descriptor or setting. It is fatal before any fetch starts.
type ConfigError struct {
	Descriptor string
	Field      string
	Reason     string
}

func (e *ConfigError) Error() string {
	switch {
	case e.Descriptor != "" && e.Field != "":
		return fmt.Sprintf("descriptor %q: field %q: %s", e.Descriptor, e.Field, e.Reason)
	case e.Descriptor != "":
		return fmt.Sprintf("descriptor %q: %s", e.Descriptor, e.Reason)
	case e.Field != "":
		return fmt.Sprintf("field %q: %s", e.Field, e.Reason)
	default:
		return e.Reason
	}
}

// FetchError wraps a failed retrieval. Retryable marks timeouts and 5xx responses.
type FetchError struct {
	URL        string
	StatusCode int
	Retryable  bool
	Err        error
}

func (e *FetchError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("fetch %s: status %d", e.URL, e.StatusCode)
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("fetch %s: status %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// LedgerCorruptionError describes a ledger line that could not be parsed.
type LedgerCorruptionError struct {
	Line int
	Text string
}

func (e *LedgerCorruptionError) Error() string {
	return fmt.Sprintf("ledger line %d malformed: %q", e.Line, e.Text)
}

// LogicError reports a caller mistake that was ignored, such as failing a completed URL.
type LogicError struct {
	Op     string
	URL    string
	Reason string
}

func (e *LogicError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Op, e.URL, e.Reason)
}
