package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/big"
	"sort"

	"github.com/ucarion/jcs"
)

// ParamsKind tells whether a parameter set is positional or named.
type ParamsKind uint8

const (
	paramsInvalid ParamsKind = iota
	// ArrayParams are positional parameters, sent as a JSON array.
	ArrayParams
	// ObjectParams are named parameters, sent as a JSON object.
	ObjectParams
)

func (k ParamsKind) String() string {
	switch k {
	case ArrayParams:
		return "array"
	case ObjectParams:
		return "object"
	default:
		return "invalid"
	}
}

// Params is the value of the "params" member. Per protocol it is either an
// ordered list or a name to value mapping; a bare scalar is not allowed.
// Params is immutable: it holds the encoded JSON text.
type Params struct {
	kind ParamsKind
	raw  json.RawMessage
}

// NewArrayParams builds positional params from values.
// Calling it without values yields an empty array.
func NewArrayParams(values ...any) (Params, error) {
	if values == nil {
		values = []any{}
	}
	raw, err := json.Marshal(values)
	if err != nil {
		return Params{}, &InvalidArgumentError{Argument: "params", Reason: err.Error()}
	}
	return Params{kind: ArrayParams, raw: raw}, nil
}

// NewObjectParams builds named params from a map. A nil map yields an empty object.
func NewObjectParams(values map[string]any) (Params, error) {
	if values == nil {
		values = map[string]any{}
	}
	raw, err := json.Marshal(values)
	if err != nil {
		return Params{}, &InvalidArgumentError{Argument: "params", Reason: err.Error()}
	}
	return Params{kind: ObjectParams, raw: raw}, nil
}

// ParamsFromJSON wraps already encoded params. The first token must be
// '[' or '{'; anything else fails with a *DecodeError.
func ParamsFromJSON(raw []byte) (Params, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return Params{}, &DecodeError{Field: "params", Reason: "empty value"}
	}
	var kind ParamsKind
	switch raw[0] {
	case '[':
		kind = ArrayParams
	case '{':
		kind = ObjectParams
	default:
		return Params{}, &DecodeError{Field: "params", Reason: fmt.Sprintf("must be an array or an object, got %s", truncate(raw, 32))}
	}
	if !json.Valid(raw) {
		return Params{}, &DecodeError{Field: "params", Reason: "invalid JSON"}
	}
	if kind == ObjectParams {
		if name, dup := duplicateMember(raw); dup {
			return Params{}, &DecodeError{Field: "params", Reason: fmt.Sprintf("member %q appears more than once", name)}
		}
	}
	return Params{kind: kind, raw: append(json.RawMessage(nil), raw...)}, nil
}

// duplicateMember reports the first top-level member name that occurs
// twice in the JSON object raw. raw must be valid JSON.
func duplicateMember(raw []byte) (string, bool) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	if _, err := dec.Token(); err != nil {
		return "", false
	}
	seen := make(map[string]struct{})
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return "", false
		}
		name, _ := tok.(string)
		if _, ok := seen[name]; ok {
			return name, true
		}
		seen[name] = struct{}{}
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return "", false
		}
	}
	return "", false
}

// MustParams is like ParamsFromJSON but panics on error. It is meant for
// literals in tests and examples.
func MustParams(raw string) Params {
	p, err := ParamsFromJSON([]byte(raw))
	if err != nil {
		panic(err)
	}
	return p
}

// Kind reports whether the params are positional or named.
func (p Params) Kind() ParamsKind { return p.kind }

// Valid reports whether p was built by one of the constructors.
func (p Params) Valid() bool { return p.kind == ArrayParams || p.kind == ObjectParams }

// Raw returns a copy of the encoded params.
func (p Params) Raw() json.RawMessage {
	return append(json.RawMessage(nil), p.raw...)
}

// Array decodes positional params. It fails for object params.
func (p Params) Array() ([]json.RawMessage, error) {
	if p.kind != ArrayParams {
		return nil, fmt.Errorf("params are %s, not array", p.kind)
	}
	var out []json.RawMessage
	if err := json.Unmarshal(p.raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Object decodes named params. It fails for array params.
func (p Params) Object() (map[string]json.RawMessage, error) {
	if p.kind != ObjectParams {
		return nil, fmt.Errorf("params are %s, not object", p.kind)
	}
	var out map[string]json.RawMessage
	if err := json.Unmarshal(p.raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Decode unmarshals the params into v.
func (p Params) Decode(v any) error {
	return json.Unmarshal(p.raw, v)
}

// Equal reports whether both param sets have the same kind and the same
// JSON value. Member order and whitespace are ignored.
func (p Params) Equal(other Params) bool {
	if p.kind != other.kind {
		return false
	}
	return JSONEqual(p.raw, other.raw)
}

// MarshalJSON implements json.Marshaler.
func (p Params) MarshalJSON() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("cannot encode invalid params")
	}
	return p.raw, nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *Params) UnmarshalJSON(data []byte) error {
	parsed, err := ParamsFromJSON(data)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// JSONEqual compares two JSON texts by their RFC 8785 canonical form and
// the exact value of every number in them, so 1, 1.0 and 1e0 are equal
// while integers beyond float64 precision are not collapsed.
// Invalid input is never equal to anything.
func JSONEqual(a, b []byte) bool {
	ca, na, err := canonical(a)
	if err != nil {
		return false
	}
	cb, nb, err := canonical(b)
	if err != nil {
		return false
	}
	if ca != cb || len(na) != len(nb) {
		return false
	}
	for i := range na {
		if na[i].Cmp(nb[i]) != 0 {
			return false
		}
	}
	return true
}

// canonical returns the canonical text of raw together with the exact
// numbers it holds, in a traversal order that depends only on that text.
// The canonical text rounds numbers to float64.
func canonical(raw []byte) (string, []*big.Rat, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return "", nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return "", nil, fmt.Errorf("trailing data after JSON value")
	}
	var nums []*big.Rat
	approx, err := exactNumbers(v, &nums)
	if err != nil {
		return "", nil, err
	}
	text, err := jcs.Format(approx)
	if err != nil {
		return "", nil, err
	}
	return text, nums, nil
}

// exactNumbers replaces every json.Number in v by its nearest float64 and
// appends its exact value to nums. Object members are visited by name.
func exactNumbers(v any, nums *[]*big.Rat) (any, error) {
	var err error
	switch t := v.(type) {
	case json.Number:
		r, ok := new(big.Rat).SetString(t.String())
		if !ok {
			return nil, fmt.Errorf("invalid number %s", t)
		}
		*nums = append(*nums, r)
		f, _ := r.Float64()
		if math.IsInf(f, 0) {
			f = math.Copysign(math.MaxFloat64, f)
		}
		return f, nil
	case []any:
		for i := range t {
			if t[i], err = exactNumbers(t[i], nums); err != nil {
				return nil, err
			}
		}
		return t, nil
	case map[string]any:
		names := make([]string, 0, len(t))
		for name := range t {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if t[name], err = exactNumbers(t[name], nums); err != nil {
				return nil, err
			}
		}
		return t, nil
	default:
		return v, nil
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
