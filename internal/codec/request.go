package codec

import (
	"bytes"
	"encoding/json"
	"fmt"

	"go.mau.fi/util/ptr"

	"jsonrpc-client/internal/models"
)

// RequestDecodeError describes why an incoming request could not be
// decoded. Parse is set when the text is not JSON at all. ID holds the
// request id when it could be read, null otherwise.
type RequestDecodeError struct {
	Parse  bool
	ID     models.Identifier
	Reason string
}

func (e *RequestDecodeError) Error() string {
	if e.Parse {
		return "parse error: " + e.Reason
	}
	return "invalid request: " + e.Reason
}

// SplitPayload separates an incoming payload into request elements.
// isBatch reports whether the payload was a JSON array.
func SplitPayload(data []byte) (elements []json.RawMessage, isBatch bool, err error) {
	data = bytes.TrimSpace(data)
	if !json.Valid(data) {
		return nil, false, &RequestDecodeError{Parse: true, ID: models.NullID(), Reason: "invalid JSON"}
	}
	if data[0] != '[' {
		return []json.RawMessage{data}, false, nil
	}
	if err := json.Unmarshal(data, &elements); err != nil {
		return nil, true, &RequestDecodeError{Parse: true, ID: models.NullID(), Reason: err.Error()}
	}
	if len(elements) == 0 {
		return nil, true, &RequestDecodeError{ID: models.NullID(), Reason: "empty batch"}
	}
	return elements, true, nil
}

// DecodeRequest parses a single request or notification object.
func DecodeRequest(data []byte) (models.Request, error) {
	data = bytes.TrimSpace(data)
	var members map[string]json.RawMessage
	if err := json.Unmarshal(data, &members); err != nil {
		if !json.Valid(data) {
			return models.Request{}, &RequestDecodeError{Parse: true, ID: models.NullID(), Reason: err.Error()}
		}
		return models.Request{}, &RequestDecodeError{ID: models.NullID(), Reason: "request must be a JSON object"}
	}
	if members == nil {
		return models.Request{}, &RequestDecodeError{ID: models.NullID(), Reason: "request must be a JSON object"}
	}

	var id *models.Identifier
	errID := models.NullID()
	if rawID, ok := members["id"]; ok {
		parsed, err := models.ParseIdentifier(rawID)
		if err != nil {
			return models.Request{}, &RequestDecodeError{ID: errID, Reason: err.Error()}
		}
		id = ptr.Ptr(parsed)
		errID = parsed
	}

	var version string
	if raw, ok := members["jsonrpc"]; !ok || json.Unmarshal(raw, &version) != nil || version != models.Version {
		return models.Request{}, &RequestDecodeError{ID: errID, Reason: "jsonrpc must be \"2.0\""}
	}

	var method string
	if raw, ok := members["method"]; !ok || json.Unmarshal(raw, &method) != nil {
		return models.Request{}, &RequestDecodeError{ID: errID, Reason: "method must be a string"}
	}

	var params *models.Params
	if raw, ok := members["params"]; ok {
		parsed, err := models.ParamsFromJSON(raw)
		if err != nil {
			return models.Request{}, &RequestDecodeError{ID: errID, Reason: err.Error()}
		}
		params = ptr.Ptr(parsed)
	}

	var (
		req models.Request
		err error
	)
	if id == nil {
		req, err = models.NewNotification(method, params)
	} else {
		req, err = models.NewRequest(*id, method, params)
	}
	if err != nil {
		return models.Request{}, &RequestDecodeError{ID: errID, Reason: err.Error()}
	}
	return req, nil
}

// DecodeBatchRequest parses a batch of requests. It fails on the first
// invalid element; servers that must answer element by element use
// SplitPayload and DecodeRequest instead.
func DecodeBatchRequest(data []byte) ([]models.Request, error) {
	elements, isBatch, err := SplitPayload(data)
	if err != nil {
		return nil, err
	}
	if !isBatch {
		return nil, &RequestDecodeError{ID: models.NullID(), Reason: "payload is not a batch"}
	}
	out := make([]models.Request, 0, len(elements))
	for i, el := range elements {
		req, err := DecodeRequest(el)
		if err != nil {
			return nil, fmt.Errorf("batch element %d: %w", i, err)
		}
		out = append(out, req)
	}
	return out, nil
}
