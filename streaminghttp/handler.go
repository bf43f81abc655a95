// Package streaminghttp serves MCP over a single HTTP endpoint. POST carries
// client-to-server JSON-RPC messages (an initialize request mints a session,
// requests answer over a per-request SSE stream, notifications return 202),
// GET opens the session's standalone SSE stream with Last-Event-ID resume,
// and DELETE tears the session down.
package streaminghttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/elnormous/contenttype"

	"github.com/asachs01/propublica-mcp/internal/engine"
	"github.com/asachs01/propublica-mcp/internal/jsonrpc"
	"github.com/asachs01/propublica-mcp/internal/logctx"
	"github.com/asachs01/propublica-mcp/mcp"
	"github.com/asachs01/propublica-mcp/sessions"
)

var (
	jsonMediaType         = contenttype.NewMediaType("application/json")
	eventStreamMediaType  = contenttype.NewMediaType("text/event-stream")
	eventStreamMediaTypes = []contenttype.MediaType{eventStreamMediaType}
)

const (
	mcpSessionIDHeader       = "Mcp-Session-Id"
	mcpProtocolVersionHeader = "MCP-Protocol-Version"
	lastEventIDHeader        = "Last-Event-ID"
)

// Handler is the single-endpoint streamable HTTP transport.
type Handler struct {
	eng *engine.Engine
	log *slog.Logger
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the transport logger.
func WithLogger(log *slog.Logger) Option {
	return func(h *Handler) { h.log = log }
}

// New builds a Handler over the given engine.
func New(eng *engine.Engine, opts ...Option) *Handler {
	h := &Handler{eng: eng, log: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := logctx.WithHTTPData(r.Context(), &logctx.HTTPData{
		Method:     r.Method,
		Path:       r.URL.Path,
		RemoteAddr: r.RemoteAddr,
		UserAgent:  r.UserAgent(),
	})
	r = r.WithContext(ctx)

	switch r.Method {
	case http.MethodPost:
		h.handlePost(w, r)
	case http.MethodGet:
		h.handleGet(w, r)
	case http.MethodDelete:
		h.handleDelete(w, r)
	default:
		w.Header().Set("Allow", "GET, POST, DELETE")
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (h *Handler) handlePost(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	ctype, err := contenttype.GetMediaType(r)
	if err != nil || !ctype.Matches(jsonMediaType) {
		writeJSONError(w, http.StatusUnsupportedMediaType, "content-type must be application/json")
		h.log.WarnContext(ctx, "http.post.content_type.unsupported")
		return
	}

	f, ok := w.(http.Flusher)
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, "streaming unsupported")
		h.log.ErrorContext(ctx, "http.post.flusher.missing")
		return
	}
	wf := &lockedWriteFlusher{w: w, f: f, ctx: ctx}

	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		h.log.WarnContext(ctx, "http.post.decode.fail", slog.String("err", err.Error()))
		return
	}
	if len(raw) > 0 && raw[0] == '[' {
		writeJSONError(w, http.StatusBadRequest, "JSON-RPC batch arrays are not supported")
		h.log.WarnContext(ctx, "http.post.batch.rejected")
		return
	}

	var msg jsonrpc.AnyMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON-RPC message: "+err.Error())
		h.log.WarnContext(ctx, "http.post.message.invalid", slog.String("err", err.Error()))
		return
	}

	ctx = logctx.WithRPCData(ctx, &logctx.RPCData{
		Method: msg.Method,
		ID:     msg.ID.String(),
		Type:   string(msg.Type()),
	})

	sessID := r.Header.Get(mcpSessionIDHeader)
	if sessID == "" {
		h.handleInitialize(ctx, w, &msg, start)
		return
	}

	sess, err := h.eng.LoadSession(ctx, sessID)
	if err != nil {
		if errors.Is(err, sessions.ErrSessionNotFound) || errors.Is(err, sessions.ErrSessionClosed) {
			writeJSONError(w, http.StatusNotFound, "session not found")
			h.log.InfoContext(ctx, "http.session.miss")
			return
		}
		writeJSONError(w, http.StatusInternalServerError, "failed to load session")
		h.log.ErrorContext(ctx, "http.session.load.fail", slog.String("err", err.Error()))
		return
	}
	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{
		SessionID:       sess.SessionID,
		ProtocolVersion: sess.ProtocolVersion,
		State:           string(sess.State),
	})

	if clientPV := r.Header.Get(mcpProtocolVersionHeader); clientPV != "" && clientPV != sess.ProtocolVersion {
		writeJSONError(w, http.StatusBadRequest, "protocol version mismatch")
		h.log.WarnContext(ctx, "http.protocol_version.mismatch", slog.String("client_version", clientPV))
		return
	}

	switch msg.Type() {
	case jsonrpc.MessageTypeNotification:
		if err := h.eng.HandleNotification(ctx, sess, msg.AsRequest()); err != nil {
			writeJSONError(w, http.StatusInternalServerError, "failed to handle notification")
			h.log.ErrorContext(ctx, "http.notification.fail", slog.String("err", err.Error()))
			return
		}
		w.Header().Set(mcpProtocolVersionHeader, sess.ProtocolVersion)
		w.WriteHeader(http.StatusAccepted)
		h.log.InfoContext(ctx, "http.notification.ok", slog.Duration("dur", time.Since(start)))
	case jsonrpc.MessageTypeRequest:
		req := msg.AsRequest()
		if req.Method == mcp.MethodInitialize {
			writeJSONError(w, http.StatusConflict, "session already initialized")
			h.log.WarnContext(ctx, "http.initialize.redundant")
			return
		}
		// Requests answer over a per-request SSE stream.
		if r.Header.Get("Accept") != "" {
			if _, _, err := contenttype.GetAcceptableMediaType(r, eventStreamMediaTypes); err != nil {
				writeJSONError(w, http.StatusNotAcceptable, "accept must include text/event-stream")
				h.log.WarnContext(ctx, "http.accept.unsupported")
				return
			}
		}
		w.Header().Set(mcpProtocolVersionHeader, sess.ProtocolVersion)
		setSSEHeaders(w)
		w.WriteHeader(http.StatusOK)
		wf.Flush()

		res, err := h.eng.HandleRequest(ctx, sess, req)
		if err != nil {
			h.log.ErrorContext(ctx, "http.request.fail", slog.String("err", err.Error()))
			res = jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal server error", nil)
		}
		b, err := json.Marshal(res)
		if err != nil {
			h.log.ErrorContext(ctx, "http.response.marshal.fail", slog.String("err", err.Error()))
			return
		}
		if err := writeSSEEvent(wf, "", b); err != nil {
			h.log.ErrorContext(ctx, "http.sse.write.fail", slog.String("err", err.Error()))
			return
		}
		h.log.InfoContext(ctx, "http.request.ok", slog.Duration("dur", time.Since(start)))
	default:
		// Responses to server-initiated requests; this server sends none,
		// so they are accepted and dropped.
		w.WriteHeader(http.StatusAccepted)
		h.log.DebugContext(ctx, "http.response.ignored")
	}
}

func (h *Handler) handleInitialize(ctx context.Context, w http.ResponseWriter, msg *jsonrpc.AnyMessage, start time.Time) {
	req := msg.AsRequest()
	if req == nil || req.ID.IsNil() || req.Method != mcp.MethodInitialize {
		writeJSONError(w, http.StatusNotFound, "expected initialize request")
		h.log.InfoContext(ctx, "http.initialize.expected")
		return
	}
	var initReq mcp.InitializeRequest
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &initReq); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid initialize params")
			h.log.WarnContext(ctx, "http.initialize.params.fail", slog.String("err", err.Error()))
			return
		}
	}
	sess, initRes, err := h.eng.InitializeSession(ctx, &initReq)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to initialize session")
		h.log.ErrorContext(ctx, "http.initialize.fail", slog.String("err", err.Error()))
		return
	}
	resp, err := jsonrpc.NewResultResponse(req.ID, initRes)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to encode initialize response")
		h.log.ErrorContext(ctx, "http.initialize.encode.fail", slog.String("err", err.Error()))
		return
	}
	w.Header().Set(mcpSessionIDHeader, sess.SessionID)
	w.Header().Set(mcpProtocolVersionHeader, initRes.ProtocolVersion)
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.log.ErrorContext(ctx, "http.initialize.write.fail", slog.String("err", err.Error()))
		return
	}
	h.log.InfoContext(ctx, "http.initialize.ok",
		slog.String("session_id", sess.SessionID),
		slog.Duration("dur", time.Since(start)),
	)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	if _, _, err := contenttype.GetAcceptableMediaType(r, eventStreamMediaTypes); err != nil {
		writeJSONError(w, http.StatusNotAcceptable, "accept must include text/event-stream")
		h.log.WarnContext(ctx, "http.get.accept.unsupported")
		return
	}
	sessID := r.Header.Get(mcpSessionIDHeader)
	if sessID == "" {
		writeJSONError(w, http.StatusBadRequest, "missing session header")
		h.log.InfoContext(ctx, "http.get.session.missing")
		return
	}
	sess, err := h.eng.LoadSession(ctx, sessID)
	if err != nil {
		writeJSONError(w, http.StatusNotFound, "session not found")
		h.log.InfoContext(ctx, "http.get.session.miss")
		return
	}
	f, ok := w.(http.Flusher)
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, "streaming unsupported")
		h.log.ErrorContext(ctx, "http.get.flusher.missing")
		return
	}

	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{
		SessionID:       sess.SessionID,
		ProtocolVersion: sess.ProtocolVersion,
		State:           string(sess.State),
	})
	w.Header().Set(mcpProtocolVersionHeader, sess.ProtocolVersion)
	setSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	wf := &lockedWriteFlusher{w: w, f: f, ctx: ctx}
	wf.Flush()

	lastEventID := r.Header.Get(lastEventIDHeader)
	err = h.eng.StreamSession(ctx, sess, lastEventID, func(ctx context.Context, eventID string, data []byte) error {
		return writeSSEEvent(wf, eventID, data)
	})
	switch {
	case err == nil, errors.Is(err, context.Canceled), errors.Is(err, sessions.ErrSessionClosed):
		h.log.InfoContext(ctx, "http.stream.end", slog.Duration("dur", time.Since(start)))
	case errors.Is(err, sessions.ErrEventNotFound):
		// Stream already started; nothing more to do than drop it.
		h.log.WarnContext(ctx, "http.stream.resume.miss", slog.String("last_event_id", lastEventID))
	default:
		h.log.ErrorContext(ctx, "http.stream.fail", slog.String("err", err.Error()))
	}
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	sessID := r.Header.Get(mcpSessionIDHeader)
	if sessID == "" {
		writeJSONError(w, http.StatusBadRequest, "missing session header")
		return
	}
	if _, err := h.eng.LoadSession(ctx, sessID); err != nil {
		writeJSONError(w, http.StatusNotFound, "session not found")
		h.log.InfoContext(ctx, "http.delete.session.miss")
		return
	}
	if err := h.eng.DeleteSession(ctx, sessID); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to delete session")
		h.log.ErrorContext(ctx, "http.delete.fail", slog.String("err", err.Error()))
		return
	}
	w.WriteHeader(http.StatusNoContent)
	h.log.InfoContext(ctx, "http.delete.ok", slog.Duration("dur", time.Since(start)))
}

func setSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", eventStreamMediaType.String())
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// lockedWriteFlusher serializes writes and flushes on a response stream and
// refuses writes after the request context ends.
type lockedWriteFlusher struct {
	w   io.Writer
	f   http.Flusher
	mu  sync.Mutex
	ctx context.Context
}

func (l *lockedWriteFlusher) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.ctx.Err(); err != nil {
		return 0, err
	}
	return l.w.Write(p)
}

func (l *lockedWriteFlusher) Flush() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ctx.Err() != nil {
		return
	}
	l.f.Flush()
}

func writeSSEEvent(wf *lockedWriteFlusher, eventID string, payload []byte) error {
	if eventID != "" {
		if _, err := fmt.Fprintf(wf, "id: %s\n", eventID); err != nil {
			return fmt.Errorf("write SSE event id: %w", err)
		}
	}
	if _, err := wf.Write([]byte("data: ")); err != nil {
		return fmt.Errorf("write SSE data prefix: %w", err)
	}
	if _, err := wf.Write(payload); err != nil {
		return fmt.Errorf("write SSE payload: %w", err)
	}
	if _, err := wf.Write([]byte("\n\n")); err != nil {
		return fmt.Errorf("write SSE frame terminator: %w", err)
	}
	wf.Flush()
	return nil
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{"code": status, "message": message},
	})
}
