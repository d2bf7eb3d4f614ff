package models

import "fmt"

// DecodeError is returned when a wire value does not have one of the
// shapes the protocol allows, e.g. an id that is an object or params that
// are a bare scalar.
type DecodeError struct {
	Field  string
	Reason string
}

func (e *DecodeError) Error() string {
	if e.Field == "" {
		return "decode error: " + e.Reason
	}
	return fmt.Sprintf("decode error: %s: %s", e.Field, e.Reason)
}

// InvalidArgumentError is returned for malformed local construction.
// Such a message is never sent.
type InvalidArgumentError struct {
	Argument string
	Reason   string
}

func (e *InvalidArgumentError) Error() string {
	return fmt.Sprintf("invalid argument %s: %s", e.Argument, e.Reason)
}
