// Package jsonrpc implements the subset of JSON-RPC 2.0 framing needed by
// the MCP transports: single-object messages discriminated into requests,
// notifications, and responses. Batch arrays are not supported.
package jsonrpc

import (
	"encoding/json"
	"fmt"
)

// Version is the only JSON-RPC protocol version accepted on the wire.
const Version = "2.0"

// MessageType discriminates the three JSON-RPC message shapes.
type MessageType string

const (
	MessageTypeRequest      MessageType = "request"
	MessageTypeNotification MessageType = "notification"
	MessageTypeResponse     MessageType = "response"
)

// AnyMessage holds a decoded JSON-RPC message before its shape is known.
// UnmarshalJSON validates structure so a successfully decoded AnyMessage is
// always one of the three well-formed shapes.
type AnyMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
	ID      *RequestID      `json:"id,omitempty"`
}

// Request is a JSON-RPC request (ID set) or notification (ID nil).
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      *RequestID      `json:"id,omitempty"`
}

// IsNotification reports whether the request carries no correlation ID.
func (r *Request) IsNotification() bool { return r.ID.IsNil() }

// Response is a JSON-RPC response. Exactly one of Result and Error is set.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
	ID      *RequestID      `json:"id,omitempty"`
}

// Error is the JSON-RPC error object.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Data    any       `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// NewResultResponse marshals result and wraps it in a success response
// echoing the caller's ID verbatim.
func NewResultResponse(id *RequestID, result any) (*Response, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return &Response{JSONRPC: Version, Result: raw, ID: id}, nil
}

// NewErrorResponse wraps a protocol-level failure in an error response.
func NewErrorResponse(id *RequestID, code ErrorCode, message string, data any) *Response {
	return &Response{
		JSONRPC: Version,
		Error:   &Error{Code: code, Message: message, Data: data},
		ID:      id,
	}
}

// NewRequest builds an outbound request or, with a nil id, a notification.
func NewRequest(id *RequestID, method string, params any) (*Request, error) {
	var raw json.RawMessage
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params: %w", err)
		}
		raw = b
	}
	return &Request{JSONRPC: Version, Method: method, Params: raw, ID: id}, nil
}

func (m *AnyMessage) UnmarshalJSON(data []byte) error {
	type plain AnyMessage
	var raw plain
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if raw.JSONRPC != Version {
		return fmt.Errorf("invalid JSON-RPC version: expected %q, got %q", Version, raw.JSONRPC)
	}
	hasMethod := raw.Method != ""
	hasResult := len(raw.Result) > 0
	hasError := raw.Error != nil
	switch {
	case hasMethod && (hasResult || hasError):
		return fmt.Errorf("request cannot carry result or error")
	case !hasMethod && hasResult && hasError:
		return fmt.Errorf("response cannot carry both result and error")
	case !hasMethod && !hasResult && !hasError:
		return fmt.Errorf("message is neither request nor response")
	}
	*m = AnyMessage(raw)
	return nil
}

// Type classifies the message.
func (m *AnyMessage) Type() MessageType {
	if m.Method == "" {
		return MessageTypeResponse
	}
	if m.ID.IsNil() {
		return MessageTypeNotification
	}
	return MessageTypeRequest
}

// AsRequest returns the request view of the message, or nil for responses.
func (m *AnyMessage) AsRequest() *Request {
	if m.Method == "" {
		return nil
	}
	return &Request{JSONRPC: m.JSONRPC, Method: m.Method, Params: m.Params, ID: m.ID}
}

// AsResponse returns the response view of the message, or nil for requests
// and notifications.
func (m *AnyMessage) AsResponse() *Response {
	if m.Method != "" {
		return nil
	}
	return &Response{JSONRPC: m.JSONRPC, Result: m.Result, Error: m.Error, ID: m.ID}
}
