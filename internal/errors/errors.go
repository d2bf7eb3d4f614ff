package errors

import (
	"encoding/json"
	"fmt"
	"net/http"

	"jsonrpc-client/internal/codec"
	"jsonrpc-client/internal/models"
)

// JSON-RPC Error Codes (as per JSON-RPC 2.0 Specification)
const (
	CodeParseError     = -32700 // Invalid JSON was received by the server. An error occurred on the server while parsing the JSON text.
	CodeInvalidRequest = -32600 // The JSON sent is not a valid Request object.
	CodeMethodNotFound = -32601 // The method does not exist / is not available.
	CodeInvalidParams  = -32602 // Invalid method parameter(s).
	CodeInternalError  = -32603 // Internal JSON-RPC error.
)

// Implementation-defined server error range.
const (
	CodeServerErrorMin = -32099
	CodeServerErrorMax = -32000

	// CodeApplicationError is returned by the loopback server's "fail" method.
	CodeApplicationError = -32000
)

// --- Client-side error taxonomy ---

// InvalidArgumentError reports malformed local construction. Such a
// message never reaches the wire.
type InvalidArgumentError = models.InvalidArgumentError

// DecodeError reports a wire value that is not one of the legal shapes.
type DecodeError = models.DecodeError

// MalformedResponseError reports a response object that violates the protocol.
type MalformedResponseError = codec.MalformedResponseError

// RemoteError is a protocol-level error object sent by the server.
// Code, message and data are carried verbatim.
type RemoteError struct {
	Code    int
	Message string
	Data    json.RawMessage
	// ID is the id of the response that carried the error. It is null when
	// the server could not determine the request.
	ID models.Identifier
}

func (e *RemoteError) Error() string {
	if len(e.Data) > 0 {
		return fmt.Sprintf("rpc error %d: %s (data: %s)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// IsReserved reports whether the code is in the range reserved by the protocol.
func (e *RemoteError) IsReserved() bool {
	return e.Code >= -32768 && e.Code <= -32000
}

// IDMismatchError reports a response whose id is not the id of the
// request it answers.
type IDMismatchError struct {
	RequestID  models.Identifier
	ResponseID models.Identifier
}

func (e *IDMismatchError) Error() string {
	return fmt.Sprintf("request id (%s) does not match response id (%s)", e.RequestID, e.ResponseID)
}

// MissingResponseError reports a batch entry the server did not answer.
type MissingResponseError struct {
	ID models.Identifier
}

func (e *MissingResponseError) Error() string {
	return fmt.Sprintf("no response for request id %s", e.ID)
}

// ConnectionError wraps a transport failure without interpreting it.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	if e.Op == "" {
		return "connection error: " + e.Err.Error()
	}
	return fmt.Sprintf("connection error: %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// NewRemoteError converts an error object received from the server.
func NewRemoteError(id models.Identifier, detail *models.ErrorDetail) *RemoteError {
	if detail == nil {
		return &RemoteError{Code: CodeInternalError, Message: "error object missing", ID: id}
	}
	return &RemoteError{
		Code:    detail.Code,
		Message: detail.Message,
		Data:    detail.Data,
		ID:      id,
	}
}

// --- Helper functions to create models.ErrorDetail ---

// NewErrorDetail creates a new ErrorDetail. data is encoded as JSON; a nil
// data omits the member.
func NewErrorDetail(code int, message string, data interface{}) *models.ErrorDetail {
	detail := &models.ErrorDetail{
		Code:    code,
		Message: message,
	}
	if data != nil {
		if raw, err := json.Marshal(data); err == nil {
			detail.Data = raw
		}
	}
	return detail
}

// NewParseError creates an ErrorDetail for JSON parsing errors.
// JSON-RPC: -32700
func NewParseError(details string) *models.ErrorDetail {
	return NewErrorDetail(CodeParseError, "Parse error", map[string]string{"details": details})
}

// NewInvalidRequestError creates an ErrorDetail for invalid JSON-RPC Request objects.
// JSON-RPC: -32600
func NewInvalidRequestError(details string) *models.ErrorDetail {
	return NewErrorDetail(CodeInvalidRequest, "Invalid Request", map[string]string{"details": details})
}

// NewMethodNotFoundError creates an ErrorDetail when a JSON-RPC method is not found.
// JSON-RPC: -32601
func NewMethodNotFoundError(methodName string) *models.ErrorDetail {
	return NewErrorDetail(CodeMethodNotFound, "Method not found", map[string]string{"method": methodName})
}

// NewInvalidParamsError creates an ErrorDetail for invalid method parameters.
// JSON-RPC: -32602
func NewInvalidParamsError(summaryMessage string) *models.ErrorDetail {
	message := "Invalid params"
	if summaryMessage == "" {
		return NewErrorDetail(CodeInvalidParams, message, nil)
	}
	return NewErrorDetail(CodeInvalidParams, message, map[string]string{"details": summaryMessage})
}

// NewInternalError creates an ErrorDetail for unexpected server errors.
// JSON-RPC: -32603
func NewInternalError(details string) *models.ErrorDetail {
	return NewErrorDetail(CodeInternalError, "Internal error", map[string]string{"details": details})
}

// NewApplicationError creates an ErrorDetail in the implementation-defined range.
func NewApplicationError(code int, message string, data interface{}) *models.ErrorDetail {
	if code < CodeServerErrorMin || code > CodeServerErrorMax {
		code = CodeApplicationError
	}
	return NewErrorDetail(code, message, data)
}

// --- HTTP Status Mapping ---

// MapErrorToHTTPStatus maps a payload-level error code to the HTTP status the
// loopback server answers with. Errors that belong to a single call are
// always sent with 200 because they travel inside a valid response.
func MapErrorToHTTPStatus(errorCode int) int {
	switch errorCode {
	case CodeParseError:
		return http.StatusBadRequest
	case CodeInvalidRequest:
		return http.StatusBadRequest
	case CodeInternalError:
		return http.StatusInternalServerError
	default:
		return http.StatusOK
	}
}
