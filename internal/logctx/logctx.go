// Package logctx enriches slog records with request, session, and tool
// attributes carried on the context, so transport and domain code can log
// without threading correlation fields through every call.
package logctx

import (
	"context"
	"log/slog"
)

// Handler wraps another slog.Handler and stamps context-carried groups onto
// every record it handles.
type Handler struct {
	slog.Handler
}

// NewHandler wraps inner with context-attribute stamping.
func NewHandler(inner slog.Handler) Handler {
	return Handler{Handler: inner}
}

func (h Handler) Handle(ctx context.Context, r slog.Record) error {
	if hd, ok := ctx.Value(httpDataKey{}).(*HTTPData); ok {
		r.AddAttrs(slog.Group("http",
			slog.String("method", hd.Method),
			slog.String("path", hd.Path),
			slog.String("remote_addr", hd.RemoteAddr),
			slog.String("user_agent", hd.UserAgent),
		))
	}

	if sd, ok := ctx.Value(sessionDataKey{}).(*SessionData); ok {
		r.AddAttrs(slog.Group("sess",
			slog.String("id", sd.SessionID),
			slog.String("protocol_version", sd.ProtocolVersion),
			slog.String("state", sd.State),
		))
	}

	if md, ok := ctx.Value(rpcDataKey{}).(*RPCData); ok {
		r.AddAttrs(slog.Group("rpc",
			slog.String("method", md.Method),
			slog.String("id", md.ID),
			slog.String("type", md.Type),
		))
	}

	if td, ok := ctx.Value(toolDataKey{}).(*ToolData); ok {
		r.AddAttrs(slog.Group("tool",
			slog.String("name", td.Name),
		))
	}

	return h.Handler.Handle(ctx, r)
}

func (h Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return Handler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h Handler) WithGroup(name string) slog.Handler {
	return Handler{Handler: h.Handler.WithGroup(name)}
}

type httpDataKey struct{}

// HTTPData describes the inbound HTTP request being served.
type HTTPData struct {
	Method     string
	Path       string
	RemoteAddr string
	UserAgent  string
}

func WithHTTPData(ctx context.Context, data *HTTPData) context.Context {
	return context.WithValue(ctx, httpDataKey{}, data)
}

type sessionDataKey struct{}

// SessionData identifies the MCP session a record belongs to.
type SessionData struct {
	SessionID       string
	ProtocolVersion string
	State           string
}

func WithSessionData(ctx context.Context, data *SessionData) context.Context {
	return context.WithValue(ctx, sessionDataKey{}, data)
}

type rpcDataKey struct{}

// RPCData identifies the JSON-RPC message being dispatched.
type RPCData struct {
	Method string
	ID     string
	Type   string
}

func WithRPCData(ctx context.Context, data *RPCData) context.Context {
	return context.WithValue(ctx, rpcDataKey{}, data)
}

type toolDataKey struct{}

// ToolData names the tool currently executing.
type ToolData struct {
	Name string
}

func WithToolData(ctx context.Context, data *ToolData) context.Context {
	return context.WithValue(ctx, toolDataKey{}, data)
}
