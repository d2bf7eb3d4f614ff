package client

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"jsonrpc-client/internal/errors"
	"jsonrpc-client/internal/models"
	"jsonrpc-client/internal/transport"
)

// mockTransport records payloads and answers through SendFunc.
type mockTransport struct {
	mu       sync.Mutex
	sent     []string
	SendFunc func(payload []byte) ([]byte, error)
}

func (m *mockTransport) Send(_ context.Context, payload []byte) ([]byte, error) {
	m.mu.Lock()
	m.sent = append(m.sent, string(payload))
	m.mu.Unlock()
	if m.SendFunc == nil {
		return nil, nil
	}
	return m.SendFunc(payload)
}

func (m *mockTransport) payloads() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.sent...)
}

// mockNotifier also implements transport.Notifier.
type mockNotifier struct {
	mockTransport
	notified   []string
	NotifyFunc func(payload []byte) error
}

func (m *mockNotifier) Notify(_ context.Context, payload []byte) error {
	m.notified = append(m.notified, string(payload))
	if m.NotifyFunc == nil {
		return nil
	}
	return m.NotifyFunc(payload)
}

func replyWith(body string) func([]byte) ([]byte, error) {
	return func([]byte) ([]byte, error) { return []byte(body), nil }
}

type recordingObserver struct {
	mu    sync.Mutex
	kinds []string
	errs  []error
}

func (o *recordingObserver) ObserveExchange(kind, _ string, _ time.Duration, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.kinds = append(o.kinds, kind)
	o.errs = append(o.errs, err)
}

func TestCall_PingPong(t *testing.T) {
	mt := &mockTransport{SendFunc: replyWith(`{"jsonrpc":"2.0","id":"con0-0","result":"pong"}`)}
	conn := New(mt, WithPrefix("con0"))

	result, err := conn.Call(context.Background(), "ping", nil)
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if string(result) != `"pong"` {
		t.Errorf("expected \"pong\", got %s", result)
	}
	if got := mt.payloads(); len(got) != 1 || got[0] != `{"jsonrpc":"2.0","id":"con0-0","method":"ping"}` {
		t.Errorf("unexpected wire request: %v", got)
	}
	if conn.RequestsMade() != 1 {
		t.Errorf("expected 1 request made, got %d", conn.RequestsMade())
	}
}

func TestCall_IntegerIDsWithoutPrefix(t *testing.T) {
	mt := &mockTransport{}
	mt.SendFunc = func(payload []byte) ([]byte, error) {
		var req struct {
			ID json.RawMessage `json:"id"`
		}
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, err
		}
		return []byte(fmt.Sprintf(`{"jsonrpc":"2.0","id":%s,"result":true}`, req.ID)), nil
	}
	conn := New(mt)
	for i := 0; i < 2; i++ {
		if _, err := conn.Call(context.Background(), "m", nil); err != nil {
			t.Fatalf("call %d failed: %v", i, err)
		}
	}
	want := []string{
		`{"jsonrpc":"2.0","id":0,"method":"m"}`,
		`{"jsonrpc":"2.0","id":1,"method":"m"}`,
	}
	got := mt.payloads()
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("request %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestCall_IDMismatch(t *testing.T) {
	conn := New(&mockTransport{SendFunc: replyWith(`{"jsonrpc":"2.0","id":"wrong","result":"x"}`)}, WithPrefix("con0"))

	_, err := conn.Call(context.Background(), "ping", nil)
	var mismatch *errors.IDMismatchError
	if !stdErrors.As(err, &mismatch) {
		t.Fatalf("expected IDMismatchError, got %T: %v", err, err)
	}
	if !mismatch.RequestID.Equal(models.StringID("con0-0")) || !mismatch.ResponseID.Equal(models.StringID("wrong")) {
		t.Errorf("unexpected ids: %s / %s", mismatch.RequestID, mismatch.ResponseID)
	}
}

func TestCall_NumberAndStringIDsDoNotMatch(t *testing.T) {
	conn := New(&mockTransport{SendFunc: replyWith(`{"jsonrpc":"2.0","id":"0","result":1}`)})
	_, err := conn.Call(context.Background(), "m", nil)
	var mismatch *errors.IDMismatchError
	if !stdErrors.As(err, &mismatch) {
		t.Fatalf("expected IDMismatchError for \"0\" vs 0, got %v", err)
	}
}

func TestCall_ParseErrorWithNullID(t *testing.T) {
	conn := New(&mockTransport{SendFunc: replyWith(`{"jsonrpc":"2.0","id":null,"error":{"code":-32700,"message":"Parse error"}}`)}, WithPrefix("con0"))

	_, err := conn.Call(context.Background(), "ping", nil)
	var remote *errors.RemoteError
	if !stdErrors.As(err, &remote) {
		t.Fatalf("expected RemoteError, got %T: %v", err, err)
	}
	if remote.Code != -32700 || remote.Message != "Parse error" || remote.Data != nil {
		t.Errorf("unexpected remote error: %+v", remote)
	}
	if !remote.ID.IsNull() {
		t.Errorf("expected null id, got %s", remote.ID)
	}
}

func TestCall_RemoteErrorCarriesData(t *testing.T) {
	conn := New(&mockTransport{SendFunc: replyWith(`{"jsonrpc":"2.0","id":0,"error":{"code":-32001,"message":"busy","data":{"retry":5}}}`)})
	_, err := conn.Call(context.Background(), "m", nil)
	var remote *errors.RemoteError
	if !stdErrors.As(err, &remote) {
		t.Fatalf("expected RemoteError, got %v", err)
	}
	if !models.JSONEqual(remote.Data, []byte(`{"retry":5}`)) {
		t.Errorf("unexpected data: %s", remote.Data)
	}
}

func TestCall_TransportFailureIsConnectionError(t *testing.T) {
	conn := New(&mockTransport{SendFunc: func([]byte) ([]byte, error) { return nil, io.ErrUnexpectedEOF }})
	_, err := conn.Call(context.Background(), "m", nil)
	var connErr *errors.ConnectionError
	if !stdErrors.As(err, &connErr) {
		t.Fatalf("expected ConnectionError, got %T: %v", err, err)
	}
	if !stdErrors.Is(err, io.ErrUnexpectedEOF) {
		t.Error("ConnectionError must wrap the transport error")
	}
}

func TestCall_MalformedResponse(t *testing.T) {
	tests := map[string]string{
		"both":    `{"jsonrpc":"2.0","id":0,"result":1,"error":{"code":1,"message":"x"}}`,
		"neither": `{"jsonrpc":"2.0","id":0}`,
		"empty":   ``,
		"no id":   `{"jsonrpc":"2.0","result":1}`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			conn := New(&mockTransport{SendFunc: replyWith(body)})
			_, err := conn.Call(context.Background(), "m", nil)
			var malformed *errors.MalformedResponseError
			if !stdErrors.As(err, &malformed) {
				t.Errorf("expected MalformedResponseError, got %T: %v", err, err)
			}
		})
	}
}

func TestCall_InvalidMethodAllocatesNothing(t *testing.T) {
	mt := &mockTransport{}
	conn := New(mt)
	_, err := conn.Call(context.Background(), " ", nil)
	var invalid *errors.InvalidArgumentError
	if !stdErrors.As(err, &invalid) {
		t.Fatalf("expected InvalidArgumentError, got %v", err)
	}
	if conn.RequestsMade() != 0 {
		t.Errorf("expected no id allocated, got %d", conn.RequestsMade())
	}
	if len(mt.payloads()) != 0 {
		t.Error("nothing must reach the transport")
	}
}

func TestCall_SendsParams(t *testing.T) {
	mt := &mockTransport{SendFunc: replyWith(`{"jsonrpc":"2.0","id":"p-0","result":3}`)}
	conn := New(mt, WithPrefix("p"))
	params, err := models.NewArrayParams(1, 2)
	if err != nil {
		t.Fatal(err)
	}
	var sum int
	if err := conn.CallInto(context.Background(), "sum", &params, &sum); err != nil {
		t.Fatalf("CallInto failed: %v", err)
	}
	if sum != 3 {
		t.Errorf("expected 3, got %d", sum)
	}
	if got := mt.payloads()[0]; got != `{"jsonrpc":"2.0","id":"p-0","method":"sum","params":[1,2]}` {
		t.Errorf("unexpected wire request: %s", got)
	}
}

func TestNotify_DoesNotReadReplyOrConsumeID(t *testing.T) {
	// The body is garbage: a notification must not try to decode it.
	mt := &mockTransport{SendFunc: replyWith(`not json`)}
	conn := New(mt, WithPrefix("con0"))

	if err := conn.Notify(context.Background(), "log", nil); err != nil {
		t.Fatalf("Notify failed: %v", err)
	}
	if got := mt.payloads(); got[0] != `{"jsonrpc":"2.0","method":"log"}` {
		t.Errorf("unexpected wire notification: %s", got[0])
	}
	if conn.RequestsMade() != 0 {
		t.Errorf("notifications must not consume ids, got %d", conn.RequestsMade())
	}
}

func TestNotify_PrefersNotifier(t *testing.T) {
	mn := &mockNotifier{}
	conn := New(mn)
	if err := conn.Notify(context.Background(), "log", nil); err != nil {
		t.Fatal(err)
	}
	if len(mn.notified) != 1 || len(mn.payloads()) != 0 {
		t.Errorf("expected Notify to be used, notified=%d sent=%d", len(mn.notified), len(mn.payloads()))
	}
}

func TestNotify_TransportFailure(t *testing.T) {
	mn := &mockNotifier{NotifyFunc: func([]byte) error { return transport.ErrClosed }}
	err := New(mn).Notify(context.Background(), "log", nil)
	var connErr *errors.ConnectionError
	if !stdErrors.As(err, &connErr) || !stdErrors.Is(err, transport.ErrClosed) {
		t.Errorf("expected ConnectionError wrapping ErrClosed, got %v", err)
	}
}

func TestSendRequest_ReturnsResponseUninterpreted(t *testing.T) {
	conn := New(&mockTransport{SendFunc: replyWith(`{"jsonrpc":"2.0","id":"other","error":{"code":-32601,"message":"Method not found"}}`)})
	req, err := models.NewRequest(models.NullID(), "missing", nil)
	if err != nil {
		t.Fatal(err)
	}
	res, err := conn.SendRequest(context.Background(), req)
	if err != nil {
		t.Fatalf("SendRequest failed: %v", err)
	}
	if res == nil || res.Error() == nil || res.Error().Code != -32601 {
		t.Errorf("unexpected response: %v", res)
	}

	note, _ := models.NewNotification("log", nil)
	res, err = conn.SendRequest(context.Background(), note)
	if err != nil || res != nil {
		t.Errorf("expected nil response for notification, got %v, %v", res, err)
	}
}

func TestConnection_ConcurrentIDsAreUnique(t *testing.T) {
	conn := New(&mockTransport{}, WithPrefix("c"))
	const workers, perWorker = 8, 100

	var wg sync.WaitGroup
	ids := make(chan string, workers*perWorker)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				req, err := conn.NewRequest("m", nil)
				if err != nil {
					t.Error(err)
					return
				}
				id, _ := req.ID()
				ids <- id.Key()
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]bool)
	for id := range ids {
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
	}
	if len(seen) != workers*perWorker || conn.RequestsMade() != workers*perWorker {
		t.Errorf("expected %d ids, got %d (counter %d)", workers*perWorker, len(seen), conn.RequestsMade())
	}
}

func TestConnection_ObserverSeesEveryExchange(t *testing.T) {
	obs := &recordingObserver{}
	conn := New(&mockTransport{SendFunc: replyWith(`{"jsonrpc":"2.0","id":0,"result":null}`)}, WithObserver(obs))
	_, _ = conn.Call(context.Background(), "a", nil)
	_ = conn.Notify(context.Background(), "b", nil)
	_, _ = conn.Call(context.Background(), "c", nil) // id 1 answered with 0

	want := []string{KindCall, KindNotify, KindCall}
	if len(obs.kinds) != len(want) {
		t.Fatalf("expected %d observations, got %d", len(want), len(obs.kinds))
	}
	for i := range want {
		if obs.kinds[i] != want[i] {
			t.Errorf("observation %d: expected %s, got %s", i, want[i], obs.kinds[i])
		}
	}
	if obs.errs[0] != nil || obs.errs[2] == nil {
		t.Errorf("unexpected observed errors: %v", obs.errs)
	}
}

func TestConnection_CloseClosesTransport(t *testing.T) {
	r, w := io.Pipe()
	st := transport.NewStdioTransport(r, w, nil)
	conn := New(st)
	if err := conn.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := conn.Call(context.Background(), "m", nil); !stdErrors.Is(err, transport.ErrClosed) {
		t.Errorf("expected ErrClosed after Close, got %v", err)
	}
}
