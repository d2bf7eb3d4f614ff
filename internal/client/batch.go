package client

import (
	"bytes"
	"context"
	"encoding/json"
	stdErrors "errors"
	"time"

	"jsonrpc-client/internal/codec"
	"jsonrpc-client/internal/errors"
	"jsonrpc-client/internal/models"
)

// Result is the outcome of one request of a batch.
type Result struct {
	ID    models.Identifier
	Value json.RawMessage
	// Err is a *errors.RemoteError when the server answered with an error
	// object and a *errors.MissingResponseError when it did not answer.
	Err error
}

// Batch holds the outcome of CallBatch.
type Batch struct {
	// Results has one entry per request that expects a response, in the
	// order the requests were given. Notifications have no entry.
	Results []Result
	// Unmatched holds responses whose id matched no request of the batch,
	// or matched one that already had a response.
	Unmatched []models.Response
}

// Err joins the errors of all results.
func (b *Batch) Err() error {
	var errs []error
	for _, r := range b.Results {
		if r.Err != nil {
			errs = append(errs, r.Err)
		}
	}
	return stdErrors.Join(errs...)
}

// Lookup returns the result for id.
func (b *Batch) Lookup(id models.Identifier) (Result, bool) {
	for _, r := range b.Results {
		if r.ID.Equal(id) {
			return r, true
		}
	}
	return Result{}, false
}

// CallBatch sends reqs as one batch. Requests are built by the caller,
// typically with NewRequest, and may mix calls and notifications.
//
// Responses are matched to requests by id, never by position. The call
// itself fails only when the batch cannot be sent, the reply cannot be
// read, or the server rejected the batch as a whole with a single error
// object. Per request failures are reported in the Results.
func (c *Connection) CallBatch(ctx context.Context, reqs []models.Request) (*Batch, error) {
	start := time.Now()
	batch, err := c.callBatch(ctx, reqs)
	c.observe(KindBatch, "", start, err)
	return batch, err
}

func (c *Connection) callBatch(ctx context.Context, reqs []models.Request) (*Batch, error) {
	pending, err := pendingIDs(reqs)
	if err != nil {
		return nil, err
	}
	payload, err := codec.EncodeBatch(reqs)
	if err != nil {
		return nil, err
	}
	c.log.Debug().Int("size", len(reqs)).Int("expected", len(pending)).RawJSON("payload", payload).Msg("Sending batch")

	if len(pending) == 0 {
		if err := c.push(ctx, payload); err != nil {
			return nil, &errors.ConnectionError{Op: "send batch", Err: err}
		}
		return &Batch{}, nil
	}

	body, err := c.transport.Send(ctx, payload)
	if err != nil {
		return nil, &errors.ConnectionError{Op: "send batch", Err: err}
	}
	c.log.Debug().Bytes("body", body).Msg("Received batch response")

	responses, err := codec.DecodeBatchResponse(body)
	if err != nil {
		return nil, err
	}
	if rejected := batchRejection(body, responses); rejected != nil {
		return nil, rejected
	}
	return match(pending, responses), nil
}

// pendingIDs returns the ids of the requests that expect a response, in
// order. Ids must be unique within a batch or responses cannot be matched.
func pendingIDs(reqs []models.Request) ([]models.Identifier, error) {
	if len(reqs) == 0 {
		return nil, &errors.InvalidArgumentError{Argument: "requests", Reason: "batch must not be empty"}
	}
	seen := make(map[string]struct{}, len(reqs))
	var ids []models.Identifier
	for _, req := range reqs {
		id, ok := req.ID()
		if !ok {
			continue
		}
		if _, dup := seen[id.Key()]; dup {
			return nil, &errors.InvalidArgumentError{Argument: "requests", Reason: "duplicate id " + id.String() + " in batch"}
		}
		seen[id.Key()] = struct{}{}
		ids = append(ids, id)
	}
	return ids, nil
}

// batchRejection reports a single error object with a null id sent in
// place of the response array.
func batchRejection(body []byte, responses []models.Response) error {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || body[0] != '{' || len(responses) != 1 {
		return nil
	}
	res := responses[0]
	if res.Error() == nil || !res.ID().IsNull() {
		return nil
	}
	return errors.NewRemoteError(res.ID(), res.Error())
}

func match(pending []models.Identifier, responses []models.Response) *Batch {
	index := make(map[string]int, len(pending))
	for i, id := range pending {
		index[id.Key()] = i
	}
	slots := make([]*models.Response, len(pending))
	batch := &Batch{Results: make([]Result, len(pending))}

	for i := range responses {
		res := responses[i]
		pos, ok := index[res.ID().Key()]
		if !ok || slots[pos] != nil {
			batch.Unmatched = append(batch.Unmatched, res)
			continue
		}
		slots[pos] = &res
	}

	for i, id := range pending {
		r := Result{ID: id}
		switch res := slots[i]; {
		case res == nil:
			r.Err = &errors.MissingResponseError{ID: id}
		case res.Error() != nil:
			r.Err = errors.NewRemoteError(id, res.Error())
		default:
			r.Value = res.Result()
		}
		batch.Results[i] = r
	}
	return batch
}
