package models

import (
	"encoding/json"
	"fmt"
)

// Version is the only protocol version this package speaks.
const Version = "2.0"

// ErrorDetail represents a JSON-RPC error object.
type ErrorDetail struct {
	// Code is a number that indicates the error type that occurred.
	// Reserved codes are in internal/errors; the client treats it opaquely.
	Code int `json:"code"`
	// Message is a short description of the error.
	Message string `json:"message"`
	// Data is a primitive or structured value with additional information
	// about the error. It may be omitted.
	Data json.RawMessage `json:"data,omitempty"`
}

// HasData reports whether the error object carried a data member.
func (e *ErrorDetail) HasData() bool {
	return e != nil && len(e.Data) > 0
}

func (e *ErrorDetail) String() string {
	if e == nil {
		return "<nil>"
	}
	if e.HasData() {
		return fmt.Sprintf("%d %s (data: %s)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("%d %s", e.Code, e.Message)
}
