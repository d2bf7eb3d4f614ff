// Package codec converts JSON-RPC messages to and from their wire text.
//
// Field presence is decided by the wire structs below: the id of a
// request is a pointer marked omitempty, so a notification never carries
// the member while a request built with a null id encodes "id":null.
package codec

import (
	"bytes"
	"encoding/json"
	"fmt"

	"jsonrpc-client/internal/models"
)

// MalformedResponseError is returned when a response object violates the
// protocol: missing or illegal id, wrong version, both or neither of
// result and error.
type MalformedResponseError struct {
	Reason string
	Body   string
}

func (e *MalformedResponseError) Error() string {
	return "malformed response: " + e.Reason
}

type wireRequest struct {
	JSONRPC string             `json:"jsonrpc"`
	ID      *models.Identifier `json:"id,omitempty"`
	Method  string             `json:"method"`
	Params  *models.Params     `json:"params,omitempty"`
}

type wireResponse struct {
	JSONRPC string              `json:"jsonrpc"`
	ID      models.Identifier   `json:"id"`
	Result  json.RawMessage     `json:"result,omitempty"`
	Error   *models.ErrorDetail `json:"error,omitempty"`
}

func toWire(req models.Request) wireRequest {
	return wireRequest{
		JSONRPC: models.Version,
		ID:      req.IDRef(),
		Method:  req.Method(),
		Params:  req.ParamsRef(),
	}
}

// EncodeRequest returns the wire text of a single request or notification.
func EncodeRequest(req models.Request) ([]byte, error) {
	if req.Method() == "" {
		return nil, &models.InvalidArgumentError{Argument: "request", Reason: "request was not built with a constructor"}
	}
	data, err := json.Marshal(toWire(req))
	if err != nil {
		return nil, fmt.Errorf("encoding request %s: %w", req, err)
	}
	return data, nil
}

// EncodeBatch returns the wire text of a batch: a JSON array of requests.
// An empty batch is rejected because the protocol answers it with an error.
func EncodeBatch(reqs []models.Request) ([]byte, error) {
	if len(reqs) == 0 {
		return nil, &models.InvalidArgumentError{Argument: "batch", Reason: "batch must contain at least one request"}
	}
	wire := make([]wireRequest, 0, len(reqs))
	for i, req := range reqs {
		if req.Method() == "" {
			return nil, &models.InvalidArgumentError{Argument: fmt.Sprintf("batch[%d]", i), Reason: "request was not built with a constructor"}
		}
		wire = append(wire, toWire(req))
	}
	data, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("encoding batch: %w", err)
	}
	return data, nil
}

// EncodeResponse returns the wire text of a response.
func EncodeResponse(res models.Response) ([]byte, error) {
	return json.Marshal(responseToWire(res))
}

// EncodeBatchResponse returns the wire text of a batch of responses.
func EncodeBatchResponse(responses []models.Response) ([]byte, error) {
	wire := make([]wireResponse, 0, len(responses))
	for _, res := range responses {
		wire = append(wire, responseToWire(res))
	}
	return json.Marshal(wire)
}

func responseToWire(res models.Response) wireResponse {
	w := wireResponse{JSONRPC: models.Version, ID: res.ID()}
	if res.IsSuccess() {
		w.Result = res.Result()
	} else {
		w.Error = res.Error()
	}
	return w
}

// DecodeResponse parses a single response object.
func DecodeResponse(data []byte) (models.Response, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		return models.Response{}, malformed("response must be a JSON object", data)
	}
	var members map[string]json.RawMessage
	if err := json.Unmarshal(data, &members); err != nil {
		return models.Response{}, malformed(err.Error(), data)
	}
	return responseFromMembers(members, data)
}

// DecodeBatchResponse parses the reply to a batch. An empty body yields
// no responses, which is what a server sends for a batch made only of
// notifications. A single object is accepted too: servers answer a batch
// they cannot read at all with one error object.
func DecodeBatchResponse(data []byte) ([]models.Response, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}
	switch data[0] {
	case '{':
		res, err := DecodeResponse(data)
		if err != nil {
			return nil, err
		}
		return []models.Response{res}, nil
	case '[':
	default:
		return nil, malformed("batch response must be an array or an object", data)
	}
	var elements []json.RawMessage
	if err := json.Unmarshal(data, &elements); err != nil {
		return nil, malformed(err.Error(), data)
	}
	if len(elements) == 0 {
		return nil, malformed("batch response must not be an empty array", data)
	}
	out := make([]models.Response, 0, len(elements))
	for i, el := range elements {
		res, err := DecodeResponse(el)
		if err != nil {
			return nil, fmt.Errorf("batch element %d: %w", i, err)
		}
		out = append(out, res)
	}
	return out, nil
}

func responseFromMembers(members map[string]json.RawMessage, body []byte) (models.Response, error) {
	if err := checkVersion(members, body); err != nil {
		return models.Response{}, err
	}
	rawID, ok := members["id"]
	if !ok {
		return models.Response{}, malformed("id is missing", body)
	}
	id, err := models.ParseIdentifier(rawID)
	if err != nil {
		return models.Response{}, malformed(err.Error(), body)
	}

	result, hasResult := members["result"]
	rawErr, hasError := members["error"]
	switch {
	case hasResult && hasError:
		return models.Response{}, malformed("both result and error are present", body)
	case !hasResult && !hasError:
		return models.Response{}, malformed("neither result nor error is present", body)
	case hasResult:
		return models.NewSuccessResponse(id, result)
	}

	detail, err := decodeErrorDetail(rawErr)
	if err != nil {
		return models.Response{}, malformed(err.Error(), body)
	}
	return models.NewErrorResponse(id, detail)
}

func decodeErrorDetail(raw json.RawMessage) (models.ErrorDetail, error) {
	var members map[string]json.RawMessage
	if err := json.Unmarshal(raw, &members); err != nil || members == nil {
		return models.ErrorDetail{}, fmt.Errorf("error must be an object")
	}
	var detail models.ErrorDetail
	code, ok := members["code"]
	if !ok {
		return detail, fmt.Errorf("error code is missing")
	}
	if err := json.Unmarshal(code, &detail.Code); err != nil {
		return detail, fmt.Errorf("error code must be an integer")
	}
	if msg, ok := members["message"]; ok {
		if err := json.Unmarshal(msg, &detail.Message); err != nil {
			return detail, fmt.Errorf("error message must be a string")
		}
	}
	if data, ok := members["data"]; ok {
		detail.Data = append(json.RawMessage(nil), data...)
	}
	return detail, nil
}

func checkVersion(members map[string]json.RawMessage, body []byte) error {
	raw, ok := members["jsonrpc"]
	if !ok {
		return malformed("jsonrpc member is missing", body)
	}
	var version string
	if err := json.Unmarshal(raw, &version); err != nil || version != models.Version {
		return malformed(fmt.Sprintf("unsupported jsonrpc version %s", raw), body)
	}
	return nil
}

func malformed(reason string, body []byte) *MalformedResponseError {
	const maxBody = 256
	s := string(body)
	if len(s) > maxBody {
		s = s[:maxBody] + "..."
	}
	return &MalformedResponseError{Reason: reason, Body: s}
}
