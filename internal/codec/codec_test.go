package codec

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"jsonrpc-client/internal/models"
)

func mustRequest(t *testing.T, id *models.Identifier, method string, params *models.Params) models.Request {
	t.Helper()
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
		t.Fatalf("building request: %v", err)
	}
	return req
}

func idPtr(id models.Identifier) *models.Identifier { return &id }

func paramsPtr(raw string) *models.Params {
	p := models.MustParams(raw)
	return &p
}

func TestEncodeRequest_FieldPresence(t *testing.T) {
	tests := []struct {
		name string
		req  models.Request
		want string
	}{
		{
			name: "string id without params",
			req:  mustRequest(t, idPtr(models.StringID("con0-0")), "ping", nil),
			want: `{"jsonrpc":"2.0","id":"con0-0","method":"ping"}`,
		},
		{
			name: "number id with array params",
			req:  mustRequest(t, idPtr(models.IntID(7)), "sum", paramsPtr(`[1,2]`)),
			want: `{"jsonrpc":"2.0","id":7,"method":"sum","params":[1,2]}`,
		},
		{
			name: "explicit null id",
			req:  mustRequest(t, idPtr(models.NullID()), "ping", nil),
			want: `{"jsonrpc":"2.0","id":null,"method":"ping"}`,
		},
		{
			name: "notification omits id",
			req:  mustRequest(t, nil, "log", paramsPtr(`{"level":"info"}`)),
			want: `{"jsonrpc":"2.0","method":"log","params":{"level":"info"}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EncodeRequest(tt.req)
			if err != nil {
				t.Fatalf("EncodeRequest failed: %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestEncodeRequest_NullIDAndNotificationDiffer(t *testing.T) {
	withNull, _ := EncodeRequest(mustRequest(t, idPtr(models.NullID()), "m", nil))
	notification, _ := EncodeRequest(mustRequest(t, nil, "m", nil))
	if string(withNull) == string(notification) {
		t.Fatalf("null id request and notification encode identically: %s", withNull)
	}
	if !strings.Contains(string(withNull), `"id":null`) {
		t.Errorf("expected explicit null id in %s", withNull)
	}
	if strings.Contains(string(notification), `"id"`) {
		t.Errorf("notification must not carry an id: %s", notification)
	}
}

func TestEncodeRequest_ZeroValueRejected(t *testing.T) {
	_, err := EncodeRequest(models.Request{})
	var argErr *models.InvalidArgumentError
	if !errors.As(err, &argErr) {
		t.Fatalf("expected InvalidArgumentError, got %v", err)
	}
}

func TestRequestRoundTrip(t *testing.T) {
	huge, _ := models.NumberID("123456789012345678901234567890")
	reqs := []models.Request{
		mustRequest(t, idPtr(models.StringID("a")), "m", nil),
		mustRequest(t, idPtr(models.IntID(0)), "m", paramsPtr(`[]`)),
		mustRequest(t, idPtr(huge), "m", paramsPtr(`{"x":[1,{"y":null}]}`)),
		mustRequest(t, idPtr(models.NullID()), "m", paramsPtr(`{}`)),
		mustRequest(t, nil, "m", nil),
		mustRequest(t, nil, "m", paramsPtr(`["a"]`)),
	}
	for _, req := range reqs {
		data, err := EncodeRequest(req)
		if err != nil {
			t.Fatalf("EncodeRequest(%s) failed: %v", req, err)
		}
		decoded, err := DecodeRequest(data)
		if err != nil {
			t.Fatalf("DecodeRequest(%s) failed: %v", data, err)
		}
		if !decoded.Equal(req) {
			t.Errorf("round trip changed request: %s -> %s", req, decoded)
		}
		if decoded.IsNotification() != req.IsNotification() {
			t.Errorf("round trip changed notification flag for %s", data)
		}
		_, hadParams := req.Params()
		_, hasParams := decoded.Params()
		if hadParams != hasParams {
			t.Errorf("round trip changed params presence for %s", data)
		}
	}
}

func TestEncodeBatch(t *testing.T) {
	batch := []models.Request{
		mustRequest(t, idPtr(models.IntID(1)), "a", nil),
		mustRequest(t, nil, "b", nil),
	}
	got, err := EncodeBatch(batch)
	if err != nil {
		t.Fatalf("EncodeBatch failed: %v", err)
	}
	want := `[{"jsonrpc":"2.0","id":1,"method":"a"},{"jsonrpc":"2.0","method":"b"}]`
	if string(got) != want {
		t.Errorf("expected %s, got %s", want, got)
	}
	if _, err := EncodeBatch(nil); err == nil {
		t.Error("expected error for empty batch")
	}

	decoded, err := DecodeBatchRequest(got)
	if err != nil {
		t.Fatalf("DecodeBatchRequest failed: %v", err)
	}
	if len(decoded) != 2 || !decoded[0].Equal(batch[0]) || !decoded[1].Equal(batch[1]) {
		t.Errorf("batch round trip mismatch: %v", decoded)
	}
}

func TestDecodeResponse(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantErr    bool
		wantID     string
		wantResult string
		wantCode   int
	}{
		{name: "success", body: `{"jsonrpc":"2.0","id":"con0-0","result":"pong"}`, wantID: `"con0-0"`, wantResult: `"pong"`},
		{name: "null result is success", body: `{"jsonrpc":"2.0","id":1,"result":null}`, wantID: `1`, wantResult: `null`},
		{name: "error with null id", body: `{"jsonrpc":"2.0","id":null,"error":{"code":-32700,"message":"Parse error"}}`, wantID: `null`, wantCode: -32700},
		{name: "both", body: `{"jsonrpc":"2.0","id":1,"result":1,"error":{"code":1,"message":"x"}}`, wantErr: true},
		{name: "neither", body: `{"jsonrpc":"2.0","id":1}`, wantErr: true},
		{name: "missing id", body: `{"jsonrpc":"2.0","result":1}`, wantErr: true},
		{name: "object id", body: `{"jsonrpc":"2.0","id":{},"result":1}`, wantErr: true},
		{name: "wrong version", body: `{"jsonrpc":"1.0","id":1,"result":1}`, wantErr: true},
		{name: "missing version", body: `{"id":1,"result":1}`, wantErr: true},
		{name: "error not object", body: `{"jsonrpc":"2.0","id":1,"error":"boom"}`, wantErr: true},
		{name: "error code not integer", body: `{"jsonrpc":"2.0","id":1,"error":{"code":"x","message":"m"}}`, wantErr: true},
		{name: "not json", body: `pong`, wantErr: true},
		{name: "array", body: `[]`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := DecodeResponse([]byte(tt.body))
			if tt.wantErr {
				var malformedErr *MalformedResponseError
				if !errors.As(err, &malformedErr) {
					t.Fatalf("expected *MalformedResponseError, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeResponse failed: %v", err)
			}
			if res.ID().String() != tt.wantID {
				t.Errorf("expected id %s, got %s", tt.wantID, res.ID())
			}
			if tt.wantCode != 0 {
				if res.IsSuccess() || res.Error().Code != tt.wantCode {
					t.Errorf("expected error code %d, got %v", tt.wantCode, res)
				}
				if res.Error().HasData() {
					t.Errorf("expected no error data, got %s", res.Error().Data)
				}
				return
			}
			if string(res.Result()) != tt.wantResult {
				t.Errorf("expected result %s, got %s", tt.wantResult, res.Result())
			}
		})
	}
}

func TestDecodeResponse_ErrorData(t *testing.T) {
	res, err := DecodeResponse([]byte(`{"jsonrpc":"2.0","id":3,"error":{"code":-32000,"message":"busy","data":{"retry":5}}}`))
	if err != nil {
		t.Fatalf("DecodeResponse failed: %v", err)
	}
	want := models.ErrorDetail{Code: -32000, Message: "busy", Data: json.RawMessage(`{"retry":5}`)}
	if diff := cmp.Diff(want, *res.Error()); diff != "" {
		t.Errorf("error detail mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeBatchResponse(t *testing.T) {
	t.Run("empty body", func(t *testing.T) {
		for _, body := range []string{"", "  \n"} {
			got, err := DecodeBatchResponse([]byte(body))
			if err != nil || got != nil {
				t.Errorf("expected no responses for %q, got %v %v", body, got, err)
			}
		}
	})
	t.Run("array", func(t *testing.T) {
		got, err := DecodeBatchResponse([]byte(`[{"jsonrpc":"2.0","id":2,"result":2},{"jsonrpc":"2.0","id":1,"result":1}]`))
		if err != nil {
			t.Fatalf("DecodeBatchResponse failed: %v", err)
		}
		if len(got) != 2 || !got[0].ID().Equal(models.IntID(2)) {
			t.Errorf("unexpected responses: %v", got)
		}
	})
	t.Run("single error object", func(t *testing.T) {
		got, err := DecodeBatchResponse([]byte(`{"jsonrpc":"2.0","id":null,"error":{"code":-32600,"message":"Invalid Request"}}`))
		if err != nil || len(got) != 1 || got[0].IsSuccess() {
			t.Errorf("expected one error response, got %v %v", got, err)
		}
	})
	t.Run("malformed element", func(t *testing.T) {
		_, err := DecodeBatchResponse([]byte(`[{"jsonrpc":"2.0","id":1}]`))
		var malformedErr *MalformedResponseError
		if !errors.As(err, &malformedErr) {
			t.Errorf("expected *MalformedResponseError, got %v", err)
		}
	})
	t.Run("empty array", func(t *testing.T) {
		if _, err := DecodeBatchResponse([]byte(`[]`)); err == nil {
			t.Error("expected error for empty array")
		}
	})
}

func TestEncodeResponse(t *testing.T) {
	ok, _ := models.NewSuccessResponse(models.StringID("x"), json.RawMessage(`"pong"`))
	got, _ := EncodeResponse(ok)
	if string(got) != `{"jsonrpc":"2.0","id":"x","result":"pong"}` {
		t.Errorf("unexpected success encoding: %s", got)
	}
	failed, _ := models.NewErrorResponse(models.NullID(), models.ErrorDetail{Code: -32700, Message: "Parse error"})
	got, _ = EncodeResponse(failed)
	if string(got) != `{"jsonrpc":"2.0","id":null,"error":{"code":-32700,"message":"Parse error"}}` {
		t.Errorf("unexpected error encoding: %s", got)
	}
	decoded, err := DecodeResponse(got)
	if err != nil || !decoded.Equal(failed) {
		t.Errorf("response round trip failed: %v %v", decoded, err)
	}
}

func TestDecodeRequest_Errors(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantParse bool
		wantID    string
	}{
		{"not json", `{"jsonrpc"`, true, "null"},
		{"scalar", `1`, false, "null"},
		{"wrong version", `{"jsonrpc":"1.0","id":4,"method":"m"}`, false, "4"},
		{"missing method", `{"jsonrpc":"2.0","id":"a"}`, false, `"a"`},
		{"scalar params", `{"jsonrpc":"2.0","id":1,"method":"m","params":3}`, false, "1"},
		{"bad id", `{"jsonrpc":"2.0","id":true,"method":"m"}`, false, "null"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeRequest([]byte(tt.body))
			var reqErr *RequestDecodeError
			if !errors.As(err, &reqErr) {
				t.Fatalf("expected *RequestDecodeError, got %v", err)
			}
			if reqErr.Parse != tt.wantParse {
				t.Errorf("expected Parse=%v, got %v", tt.wantParse, reqErr.Parse)
			}
			if reqErr.ID.String() != tt.wantID {
				t.Errorf("expected id %s, got %s", tt.wantID, reqErr.ID)
			}
		})
	}
}
