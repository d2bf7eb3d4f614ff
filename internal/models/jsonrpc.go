package models

import (
	"encoding/json"
	"fmt"
	"strings"

	"go.mau.fi/util/ptr"
)

// Request represents a JSON-RPC request object.
//
// A Request without an id is a notification: the server sends no
// response for it. A Request whose id is NullID() is an ordinary request
// that expects a response and is sent with "id": null.
type Request struct {
	id     *Identifier
	method string
	params *Params
}

// NewRequest creates a request that expects a response.
// params may be nil when the call takes no parameters.
func NewRequest(id Identifier, method string, params *Params) (Request, error) {
	if !id.Valid() {
		return Request{}, &InvalidArgumentError{Argument: "id", Reason: "identifier must be a string, a number or null"}
	}
	req, err := newRequest(method, params)
	if err != nil {
		return Request{}, err
	}
	req.id = &id
	return req, nil
}

// NewStringRequest is a shortcut for NewRequest(StringID(id), method, params).
func NewStringRequest(id string, method string, params *Params) (Request, error) {
	return NewRequest(StringID(id), method, params)
}

// NewNumberRequest is a shortcut for NewRequest(IntID(id), method, params).
func NewNumberRequest(id int64, method string, params *Params) (Request, error) {
	return NewRequest(IntID(id), method, params)
}

// NewNotification creates a request without an id.
func NewNotification(method string, params *Params) (Request, error) {
	return newRequest(method, params)
}

func newRequest(method string, params *Params) (Request, error) {
	if strings.TrimSpace(method) == "" {
		return Request{}, &InvalidArgumentError{Argument: "method", Reason: "method is required"}
	}
	req := Request{method: method}
	if params != nil {
		if !params.Valid() {
			return Request{}, &InvalidArgumentError{Argument: "params", Reason: "params must be an array or an object"}
		}
		req.params = ptr.Clone(params)
	}
	return req, nil
}

// ID returns the request id and whether it is present.
func (r Request) ID() (Identifier, bool) {
	return ptr.Val(r.id), r.id != nil
}

// IDRef returns the id field as it is encoded: nil for notifications.
func (r Request) IDRef() *Identifier { return ptr.Clone(r.id) }

// Method returns the name of the method to be invoked.
func (r Request) Method() string { return r.method }

// Params returns the params and whether they are present.
func (r Request) Params() (Params, bool) {
	return ptr.Val(r.params), r.params != nil
}

// ParamsRef returns the params field as it is encoded: nil when omitted.
func (r Request) ParamsRef() *Params { return ptr.Clone(r.params) }

// IsNotification reports whether no response is expected.
func (r Request) IsNotification() bool { return r.id == nil }

// Equal reports whether both requests have the same id presence and
// value, method and params presence and value.
func (r Request) Equal(other Request) bool {
	if (r.id == nil) != (other.id == nil) {
		return false
	}
	if r.id != nil && !r.id.Equal(*other.id) {
		return false
	}
	if r.method != other.method {
		return false
	}
	if (r.params == nil) != (other.params == nil) {
		return false
	}
	return r.params == nil || r.params.Equal(*other.params)
}

func (r Request) String() string {
	id := "<notification>"
	if r.id != nil {
		id = r.id.String()
	}
	return fmt.Sprintf("request{id: %s, method: %q}", id, r.method)
}

// Response represents a JSON-RPC response object. Exactly one of result
// and error is present.
type Response struct {
	id     Identifier
	result json.RawMessage
	err    *ErrorDetail
}

// NewSuccessResponse creates a response carrying a result. A nil or empty
// result is encoded as JSON null.
func NewSuccessResponse(id Identifier, result json.RawMessage) (Response, error) {
	if !id.Valid() {
		return Response{}, &InvalidArgumentError{Argument: "id", Reason: "identifier must be a string, a number or null"}
	}
	if len(result) == 0 {
		result = json.RawMessage("null")
	}
	return Response{id: id, result: append(json.RawMessage(nil), result...)}, nil
}

// NewErrorResponse creates a response carrying an error object.
func NewErrorResponse(id Identifier, detail ErrorDetail) (Response, error) {
	if !id.Valid() {
		return Response{}, &InvalidArgumentError{Argument: "id", Reason: "identifier must be a string, a number or null"}
	}
	return Response{id: id, err: &detail}, nil
}

// ID returns the id of the request this response answers. A null id
// means the server could not determine it.
func (r Response) ID() Identifier { return r.id }

// Result returns the raw result. It is nil for error responses.
func (r Response) Result() json.RawMessage { return r.result }

// Error returns the error object. It is nil for successful responses.
func (r Response) Error() *ErrorDetail { return r.err }

// IsSuccess reports whether the response carries a result.
func (r Response) IsSuccess() bool { return r.err == nil }

// Equal reports whether both responses carry the same id and the same
// result or error.
func (r Response) Equal(other Response) bool {
	if !r.id.Equal(other.id) {
		return false
	}
	if r.IsSuccess() != other.IsSuccess() {
		return false
	}
	if r.IsSuccess() {
		return JSONEqual(r.result, other.result)
	}
	if r.err.Code != other.err.Code || r.err.Message != other.err.Message {
		return false
	}
	if r.err.HasData() != other.err.HasData() {
		return false
	}
	return !r.err.HasData() || JSONEqual(r.err.Data, other.err.Data)
}

func (r Response) String() string {
	if r.err != nil {
		return fmt.Sprintf("response{id: %s, error: %s}", r.id, r.err)
	}
	return fmt.Sprintf("response{id: %s, result: %s}", r.id, truncate(r.result, 64))
}
