// Package payload holds the opaque structured value stored with every record.
//
// The store never validates a payload. It only reads the handful of fields it
// indexes (grantId, userCode, uid) and writes one (consumed). Payloads are
// persisted as canonical JSON so equal payloads always produce equal bytes,
// and decoded with json.Number so integer claims such as exp and iat
// round-trip without float64 precision loss.
package payload

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/roach88/oidcstore/internal/model"
)

// Payload is a decoded JSON object.
type Payload map[string]any

// Decode parses a JSON object. Numbers are kept as json.Number.
// Empty input decodes to an empty payload.
func Decode(data []byte) (Payload, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Payload{}, nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	// a plain map, so Payload.UnmarshalJSON is not re-entered
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	if m == nil {
		// the literal null
		return nil, fmt.Errorf("decode payload: not a JSON object")
	}
	return Payload(m), nil
}

// DecodeString is Decode for string input.
func DecodeString(s string) (Payload, error) {
	return Decode([]byte(s))
}

// Encode returns the canonical JSON encoding of p.
func (p Payload) Encode() ([]byte, error) {
	if p == nil {
		return []byte("{}"), nil
	}
	return MarshalCanonical(map[string]any(p))
}

// MarshalJSON implements json.Marshaler with the canonical encoding.
func (p Payload) MarshalJSON() ([]byte, error) {
	return p.Encode()
}

// UnmarshalJSON implements json.Unmarshaler, preserving numbers.
func (p *Payload) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}
	decoded, err := Decode(data)
	if err != nil {
		return err
	}
	*p = decoded
	return nil
}

// String returns the string value stored at key, or "" when the key is
// absent or holds a non-string.
func (p Payload) String(key string) string {
	if s, ok := p[key].(string); ok {
		return s
	}
	return ""
}

// Int returns the integer stored at key. Numbers decoded from JSON arrive as
// json.Number; payloads built in Go may hold any integer type.
func (p Payload) Int(key string) (int64, bool) {
	switch v := p[key].(type) {
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case uint32:
		return int64(v), true
	case float64:
		if v == float64(int64(v)) {
			return int64(v), true
		}
	}
	return 0, false
}

// GrantID returns payload.grantId.
func (p Payload) GrantID() string {
	return p.String(model.FieldGrantID)
}

// Consumed returns the unix-second consumption timestamp, if set.
func (p Payload) Consumed() (int64, bool) {
	return p.Int(model.FieldConsumed)
}

// Clone returns a shallow copy of p.
func (p Payload) Clone() Payload {
	if p == nil {
		return nil
	}
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Equal reports whether a and b encode to the same canonical JSON.
func Equal(a, b Payload) bool {
	ab, err := a.Encode()
	if err != nil {
		return false
	}
	bb, err := b.Encode()
	if err != nil {
		return false
	}
	return bytes.Equal(ab, bb)
}

// FormatUnix renders a unix-second timestamp as a json.Number.
func FormatUnix(sec int64) json.Number {
	return json.Number(strconv.FormatInt(sec, 10))
}
