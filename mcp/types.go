package mcp

import "encoding/json"

// LatestProtocolVersion is the newest protocol revision this server speaks.
const LatestProtocolVersion = "2025-06-18"

// SupportedProtocolVersions lists the revisions this server can negotiate,
// newest first.
var SupportedProtocolVersions = []string{
	"2025-06-18",
	"2025-03-26",
}

// IsSupportedProtocolVersion reports whether v is a revision this server
// can serve.
func IsSupportedProtocolVersion(v string) bool {
	for _, s := range SupportedProtocolVersions {
		if s == v {
			return true
		}
	}
	return false
}

// BaseMetadata carries the optional _meta extension point present on most
// protocol payloads.
type BaseMetadata struct {
	Meta map[string]any `json:"_meta,omitempty"`
}

// ImplementationInfo identifies a client or server implementation.
type ImplementationInfo struct {
	Name    string `json:"name"`
	Title   string `json:"title,omitempty"`
	Version string `json:"version"`
}

// ClientCapabilities advertises what the connecting client supports. Only
// the fields this server inspects are modeled; the rest round-trip through
// Experimental.
type ClientCapabilities struct {
	Experimental map[string]json.RawMessage `json:"experimental,omitempty"`
	Roots        *RootsClientCapability     `json:"roots,omitempty"`
	Sampling     *struct{}                  `json:"sampling,omitempty"`
	Elicitation  *struct{}                  `json:"elicitation,omitempty"`
}

// RootsClientCapability describes client-side filesystem roots support.
type RootsClientCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// ServerCapabilities advertises what this server supports.
type ServerCapabilities struct {
	Logging   *LoggingServerCapability   `json:"logging,omitempty"`
	Tools     *ToolsServerCapability     `json:"tools,omitempty"`
	Resources *ResourcesServerCapability `json:"resources,omitempty"`
}

type LoggingServerCapability struct{}

type ToolsServerCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

type ResourcesServerCapability struct {
	Subscribe   bool `json:"subscribe,omitempty"`
	ListChanged bool `json:"listChanged,omitempty"`
}

// Tool describes a callable tool: its name, human-readable metadata, and the
// JSON schema its arguments must satisfy.
type Tool struct {
	Name         string           `json:"name"`
	Title        string           `json:"title,omitempty"`
	Description  string           `json:"description,omitempty"`
	InputSchema  ToolInputSchema  `json:"inputSchema"`
	OutputSchema *ToolInputSchema `json:"outputSchema,omitempty"`
}

// ToolInputSchema is the object-typed JSON schema for tool arguments.
type ToolInputSchema struct {
	Type                 string         `json:"type"`
	Properties           map[string]any `json:"properties,omitempty"`
	Required             []string       `json:"required,omitempty"`
	AdditionalProperties *bool          `json:"additionalProperties,omitempty"`
}

// ContentBlock is one unit of tool or resource output.
type ContentBlock struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// Resource describes a readable resource advertised by the server.
type Resource struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// ResourceContents is the payload returned from resources/read. Exactly one
// of Text and Blob is set.
type ResourceContents struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType,omitempty"`
	Text     string `json:"text,omitempty"`
	Blob     string `json:"blob,omitempty"`
}

// LoggingLevel is an RFC 5424 severity as used by logging/setLevel.
type LoggingLevel string

const (
	LoggingLevelDebug     LoggingLevel = "debug"
	LoggingLevelInfo      LoggingLevel = "info"
	LoggingLevelNotice    LoggingLevel = "notice"
	LoggingLevelWarning   LoggingLevel = "warning"
	LoggingLevelError     LoggingLevel = "error"
	LoggingLevelCritical  LoggingLevel = "critical"
	LoggingLevelAlert     LoggingLevel = "alert"
	LoggingLevelEmergency LoggingLevel = "emergency"
)

// IsValidLoggingLevel reports whether l is a protocol-defined level.
func IsValidLoggingLevel(l LoggingLevel) bool {
	switch l {
	case LoggingLevelDebug, LoggingLevelInfo, LoggingLevelNotice,
		LoggingLevelWarning, LoggingLevelError, LoggingLevelCritical,
		LoggingLevelAlert, LoggingLevelEmergency:
		return true
	}
	return false
}
