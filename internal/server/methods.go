package server

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"jsonrpc-client/internal/errors"
	"jsonrpc-client/internal/models"
)

func handlePing(context.Context, *models.Params) (any, *models.ErrorDetail) {
	return "pong", nil
}

// handleEcho returns the params as they were received, or null.
func handleEcho(_ context.Context, params *models.Params) (any, *models.ErrorDetail) {
	if params == nil {
		return nil, nil
	}
	return params.Raw(), nil
}

type sumParams struct {
	Values []json.Number `json:"values"`
}

// handleSum adds numbers given either as an array or as {"values": [...]}.
// Sums are exact: big decimal literals do not lose precision.
func handleSum(_ context.Context, params *models.Params) (any, *models.ErrorDetail) {
	if params == nil {
		return nil, errors.NewInvalidParamsError("sum needs an array of numbers")
	}
	var values []json.Number
	switch params.Kind() {
	case models.ArrayParams:
		if err := params.Decode(&values); err != nil {
			return nil, errors.NewInvalidParamsError(fmt.Sprintf("sum needs an array of numbers: %v", err))
		}
	case models.ObjectParams:
		var obj sumParams
		if err := params.Decode(&obj); err != nil {
			return nil, errors.NewInvalidParamsError(fmt.Sprintf("values must be an array of numbers: %v", err))
		}
		values = obj.Values
	}

	total := new(big.Rat)
	for i, v := range values {
		n, ok := new(big.Rat).SetString(v.String())
		if !ok {
			return nil, errors.NewInvalidParamsError(fmt.Sprintf("value %d is not a number", i))
		}
		total.Add(total, n)
	}
	if total.IsInt() {
		return json.Number(total.Num().String()), nil
	}
	text := strings.TrimRight(total.FloatString(10), "0")
	return json.Number(strings.TrimSuffix(text, ".")), nil
}

// handleFail always answers with an application error carrying the params
// as data.
func handleFail(_ context.Context, params *models.Params) (any, *models.ErrorDetail) {
	var data any
	if params != nil {
		data = params.Raw()
	}
	return nil, errors.NewApplicationError(errors.CodeApplicationError, "Application error", data)
}

func (p *Processor) handleStats(context.Context, *models.Params) (any, *models.ErrorDetail) {
	return map[string]any{
		"notifications": p.Notifications(),
		"methods":       p.Methods(),
	}, nil
}
