package jsonrpc

import (
	"encoding/json"
	"fmt"
)

// RequestID is a JSON-RPC correlation ID. The wire form may be a string or a
// number; both round-trip verbatim so responses always echo the caller's ID
// exactly as sent.
type RequestID struct {
	value any
}

// NewRequestID wraps a string or numeric value as a RequestID. Unsupported
// types yield a nil-valued ID.
func NewRequestID(value any) *RequestID {
	switch value.(type) {
	case string, int, int32, int64, uint, uint32, uint64, float32, float64:
		return &RequestID{value: value}
	default:
		return &RequestID{}
	}
}

// IsNil reports whether the ID is absent.
func (id *RequestID) IsNil() bool {
	return id == nil || id.value == nil
}

// Value returns the underlying string or numeric value, or nil.
func (id *RequestID) Value() any {
	if id == nil {
		return nil
	}
	return id.value
}

// String renders the ID for logging and map keys. Distinct wire IDs render
// distinctly except for a string that spells a number, which MCP clients do
// not emit in practice.
func (id *RequestID) String() string {
	if id.IsNil() {
		return ""
	}
	switch v := id.value.(type) {
	case string:
		return v
	default:
		return fmt.Sprintf("%v", v)
	}
}

func (id *RequestID) MarshalJSON() ([]byte, error) {
	if id.IsNil() {
		return []byte("null"), nil
	}
	return json.Marshal(id.value)
}

func (id *RequestID) UnmarshalJSON(data []byte) error {
	var num float64
	if err := json.Unmarshal(data, &num); err == nil {
		if num == float64(int64(num)) {
			id.value = int64(num)
		} else {
			id.value = num
		}
		return nil
	}
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		id.value = str
		return nil
	}
	return fmt.Errorf("JSON-RPC ID must be a string or number, got: %s", string(data))
}
