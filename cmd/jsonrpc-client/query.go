package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/itchyny/gojq"
)

// applyQuery runs the jq expression over result and writes every value it
// yields as one line of JSON.
func applyQuery(expr string, result json.RawMessage, w io.Writer) error {
	q, err := gojq.Parse(expr)
	if err != nil {
		return fmt.Errorf("parsing query %q: %w", expr, err)
	}
	code, err := gojq.Compile(q)
	if err != nil {
		return fmt.Errorf("compiling query %q: %w", expr, err)
	}

	var input any
	if err := json.Unmarshal(result, &input); err != nil {
		return fmt.Errorf("decoding result: %w", err)
	}

	enc := json.NewEncoder(w)
	iter := code.Run(input)
	for {
		v, ok := iter.Next()
		if !ok {
			return nil
		}
		if err, isErr := v.(error); isErr {
			var halt *gojq.HaltError
			if errors.As(err, &halt) && halt.Value() == nil {
				return nil
			}
			return fmt.Errorf("running query %q: %w", expr, err)
		}
		if err := enc.Encode(v); err != nil {
			return err
		}
	}
}
