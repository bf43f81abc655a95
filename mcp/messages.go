package mcp

import "encoding/json"

// JSON-RPC method names.
const (
	MethodInitialize      = "initialize"
	MethodPing            = "ping"
	MethodToolsList       = "tools/list"
	MethodToolsCall       = "tools/call"
	MethodResourcesList   = "resources/list"
	MethodResourcesRead   = "resources/read"
	MethodLoggingSetLevel = "logging/setLevel"

	NotificationInitialized      = "notifications/initialized"
	NotificationCancelled        = "notifications/cancelled"
	NotificationProgress         = "notifications/progress"
	NotificationMessage          = "notifications/message"
	NotificationToolsListChanged = "notifications/tools/list_changed"
)

// InitializeRequest is the params payload of the initialize request.
type InitializeRequest struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ClientCapabilities `json:"capabilities"`
	ClientInfo      ImplementationInfo `json:"clientInfo"`
}

// InitializeResult is the server's half of the handshake.
type InitializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ServerCapabilities `json:"capabilities"`
	ServerInfo      ImplementationInfo `json:"serverInfo"`
	Instructions    string             `json:"instructions,omitempty"`
}

// ListToolsRequest is the params payload of tools/list.
type ListToolsRequest struct {
	Cursor string `json:"cursor,omitempty"`
}

// ListToolsResult is one page of the tool catalog.
type ListToolsResult struct {
	Tools      []Tool `json:"tools"`
	NextCursor string `json:"nextCursor,omitempty"`
}

// CallToolRequest is the params payload of tools/call. Arguments stay raw so
// the registered handler can decode them against its own argument type.
type CallToolRequest struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	BaseMetadata
}

// CallToolResult is the outcome of a tool invocation. IsError marks a
// tool-level failure that the caller should surface to the model; transport
// and protocol failures never take this shape.
type CallToolResult struct {
	Content           []ContentBlock `json:"content"`
	StructuredContent any            `json:"structuredContent,omitempty"`
	IsError           bool           `json:"isError,omitempty"`
	BaseMetadata
}

// ListResourcesRequest is the params payload of resources/list.
type ListResourcesRequest struct {
	Cursor string `json:"cursor,omitempty"`
}

// ListResourcesResult is one page of the resource catalog.
type ListResourcesResult struct {
	Resources  []Resource `json:"resources"`
	NextCursor string     `json:"nextCursor,omitempty"`
}

// ReadResourceRequest is the params payload of resources/read.
type ReadResourceRequest struct {
	URI string `json:"uri"`
}

// ReadResourceResult carries the contents of one resource.
type ReadResourceResult struct {
	Contents []ResourceContents `json:"contents"`
}

// SetLevelRequest is the params payload of logging/setLevel.
type SetLevelRequest struct {
	Level LoggingLevel `json:"level"`
}

// CancelledNotification asks the server to abandon an in-flight request.
// RequestID mirrors the JSON-RPC ID of the request being cancelled.
type CancelledNotification struct {
	RequestID json.RawMessage `json:"requestId"`
	Reason    string          `json:"reason,omitempty"`
}

// ProgressNotification reports incremental progress on a long-running call.
type ProgressNotification struct {
	ProgressToken any     `json:"progressToken"`
	Progress      float64 `json:"progress"`
	Total         float64 `json:"total,omitempty"`
}

// LoggingMessageNotification is a server-to-client log record.
type LoggingMessageNotification struct {
	Level  LoggingLevel `json:"level"`
	Logger string       `json:"logger,omitempty"`
	Data   any          `json:"data"`
}
