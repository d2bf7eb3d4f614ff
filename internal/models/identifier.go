package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// IDKind tells which of the three legal shapes an Identifier has.
type IDKind uint8

const (
	// kindInvalid is the zero value. An Identifier of this kind cannot be encoded.
	kindInvalid IDKind = iota
	// KindString is an id sent as a JSON string.
	KindString
	// KindNumber is an id sent as a JSON number. The literal is kept verbatim.
	KindNumber
	// KindNull is the JSON null id. Servers use it when the request id could not be determined.
	KindNull
)

func (k IDKind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindNull:
		return "null"
	default:
		return "invalid"
	}
}

// Identifier is the value of the "id" member of a request or response.
// It is one of a string, a number or null.
//
// Numbers are stored as their JSON literal so ids larger than 64 bits
// survive a round trip without precision loss.
type Identifier struct {
	kind  IDKind
	value string
}

// StringID returns a string identifier.
func StringID(s string) Identifier {
	return Identifier{kind: KindString, value: s}
}

// IntID returns a numeric identifier for n.
func IntID(n int64) Identifier {
	return Identifier{kind: KindNumber, value: strconv.FormatInt(n, 10)}
}

// NumberID returns a numeric identifier for the given JSON number literal.
// The literal is validated but never converted, e.g. "123456789012345678901234567890"
// is kept as is.
func NumberID(literal string) (Identifier, error) {
	if !isNumberLiteral([]byte(literal)) {
		return Identifier{}, &DecodeError{Field: "id", Reason: fmt.Sprintf("%q is not a JSON number", literal)}
	}
	return Identifier{kind: KindNumber, value: literal}, nil
}

// NullID returns the null identifier. All null identifiers are equal.
func NullID() Identifier {
	return Identifier{kind: KindNull}
}

// Kind reports the shape of the identifier.
func (id Identifier) Kind() IDKind { return id.kind }

// Valid reports whether id is one of the three legal shapes.
// The zero Identifier is not valid.
func (id Identifier) Valid() bool {
	return id.kind == KindString || id.kind == KindNumber || id.kind == KindNull
}

// IsNull reports whether id is the null identifier.
func (id Identifier) IsNull() bool { return id.kind == KindNull }

// Value returns the string value for string ids, the number literal for
// numeric ids and an empty string for null.
func (id Identifier) Value() string { return id.value }

// Equal reports whether both identifiers have the same shape and value.
func (id Identifier) Equal(other Identifier) bool {
	if id.kind != other.kind {
		return false
	}
	if id.kind == KindNull {
		return true
	}
	return id.value == other.value
}

// String renders the identifier the way it appears on the wire.
func (id Identifier) String() string {
	switch id.kind {
	case KindString:
		return strconv.Quote(id.value)
	case KindNumber:
		return id.value
	case KindNull:
		return "null"
	default:
		return "<invalid>"
	}
}

// Key returns a string usable as a map key that keeps "1" and 1 apart.
func (id Identifier) Key() string {
	return id.kind.String() + ":" + id.value
}

// MarshalJSON implements json.Marshaler.
func (id Identifier) MarshalJSON() ([]byte, error) {
	switch id.kind {
	case KindString:
		return json.Marshal(id.value)
	case KindNumber:
		return []byte(id.value), nil
	case KindNull:
		return []byte("null"), nil
	default:
		return nil, fmt.Errorf("cannot encode invalid identifier")
	}
}

// UnmarshalJSON implements json.Unmarshaler. Anything other than a string,
// a number or null fails with a *DecodeError.
func (id *Identifier) UnmarshalJSON(data []byte) error {
	parsed, err := ParseIdentifier(data)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// ParseIdentifier decodes the wire form of an id.
func ParseIdentifier(data []byte) (Identifier, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return Identifier{}, &DecodeError{Field: "id", Reason: "empty value"}
	}
	switch c := data[0]; {
	case c == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return Identifier{}, &DecodeError{Field: "id", Reason: err.Error()}
		}
		return StringID(s), nil
	case c == 'n':
		if string(data) != "null" {
			return Identifier{}, &DecodeError{Field: "id", Reason: fmt.Sprintf("invalid literal %s", data)}
		}
		return NullID(), nil
	case c == '-' || (c >= '0' && c <= '9'):
		if !isNumberLiteral(data) {
			return Identifier{}, &DecodeError{Field: "id", Reason: fmt.Sprintf("invalid number %s", data)}
		}
		return Identifier{kind: KindNumber, value: string(data)}, nil
	default:
		return Identifier{}, &DecodeError{Field: "id", Reason: fmt.Sprintf("must be a string, a number or null, got %s", data)}
	}
}

// isNumberLiteral reports whether b is exactly one JSON number with no
// surrounding whitespace. Valid JSON that starts with '-' or a digit can
// only be a number.
func isNumberLiteral(b []byte) bool {
	if len(b) == 0 || len(bytes.TrimSpace(b)) != len(b) {
		return false
	}
	if c := b[0]; c != '-' && (c < '0' || c > '9') {
		return false
	}
	return json.Valid(b)
}
