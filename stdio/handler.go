// Package stdio serves MCP over newline-delimited JSON-RPC on a byte
// stream pair, typically stdin/stdout. One message per line; responses may
// interleave because requests are handled concurrently, but each response
// line is written atomically.
package stdio

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/asachs01/propublica-mcp/internal/engine"
	"github.com/asachs01/propublica-mcp/internal/jsonrpc"
	"github.com/asachs01/propublica-mcp/internal/logctx"
	"github.com/asachs01/propublica-mcp/mcp"
	"github.com/asachs01/propublica-mcp/sessions"
)

// maxLineBytes bounds a single inbound message line.
const maxLineBytes = 4 * 1024 * 1024

// Handler runs one MCP session over a line-oriented stream pair.
type Handler struct {
	eng *engine.Engine
	in  io.Reader
	out io.Writer
	log *slog.Logger
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the transport logger.
func WithLogger(log *slog.Logger) Option {
	return func(h *Handler) { h.log = log }
}

// New builds a stdio transport over the given streams.
func New(eng *engine.Engine, in io.Reader, out io.Writer, opts ...Option) *Handler {
	h := &Handler{eng: eng, in: in, out: out, log: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run reads messages until EOF or ctx cancellation. Malformed lines and
// handshake violations are answered with JSON-RPC errors; the stream stays
// usable. The session is torn down on exit.
func (h *Handler) Run(ctx context.Context) error {
	w := &lineWriter{out: h.out}
	scanner := bufio.NewScanner(h.in)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	var (
		sess *sessionRef
		wg   sync.WaitGroup
	)
	defer func() {
		wg.Wait()
		if sess != nil {
			cleanupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := h.eng.DeleteSession(cleanupCtx, sess.meta.SessionID); err != nil {
				h.log.WarnContext(ctx, "stdio.session.cleanup.fail", slog.String("err", err.Error()))
			}
		}
	}()

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if line[0] == '[' {
			h.writeError(ctx, w, nil, jsonrpc.ErrorCodeInvalidRequest, "JSON-RPC batch arrays are not supported")
			continue
		}

		var msg jsonrpc.AnyMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			h.log.WarnContext(ctx, "stdio.message.invalid", slog.String("err", err.Error()))
			h.writeError(ctx, w, nil, jsonrpc.ErrorCodeParseError, "invalid JSON-RPC message: "+err.Error())
			continue
		}

		msgCtx := logctx.WithRPCData(ctx, &logctx.RPCData{
			Method: msg.Method,
			ID:     msg.ID.String(),
			Type:   string(msg.Type()),
		})

		switch msg.Type() {
		case jsonrpc.MessageTypeRequest:
			req := msg.AsRequest()
			if req.Method == mcp.MethodInitialize {
				sess = h.handleInitialize(msgCtx, w, req, sess)
				continue
			}
			if sess == nil {
				h.writeError(msgCtx, w, req.ID, jsonrpc.ErrorCodeInvalidRequest, "expected initialize request")
				continue
			}
			snapshot := sess.snapshot()
			wg.Add(1)
			go func() {
				defer wg.Done()
				res, err := h.eng.HandleRequest(msgCtx, &snapshot, req)
				if err != nil {
					h.log.ErrorContext(msgCtx, "stdio.request.fail", slog.String("err", err.Error()))
					res = jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal server error", nil)
				}
				if err := w.writeMessage(res); err != nil {
					h.log.ErrorContext(msgCtx, "stdio.write.fail", slog.String("err", err.Error()))
				}
			}()
		case jsonrpc.MessageTypeNotification:
			if sess == nil {
				h.log.DebugContext(msgCtx, "stdio.notification.before_initialize")
				continue
			}
			meta := sess.snapshot()
			if err := h.eng.HandleNotification(msgCtx, &meta, msg.AsRequest()); err != nil {
				h.log.ErrorContext(msgCtx, "stdio.notification.fail", slog.String("err", err.Error()))
				continue
			}
			sess.update(meta)
		default:
			// Responses to server-initiated requests; this server sends
			// none over stdio.
			h.log.DebugContext(msgCtx, "stdio.response.ignored")
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("read stdin: %w", err)
	}
	return nil
}

func (h *Handler) handleInitialize(ctx context.Context, w *lineWriter, req *jsonrpc.Request, sess *sessionRef) *sessionRef {
	if sess != nil {
		h.writeError(ctx, w, req.ID, jsonrpc.ErrorCodeInvalidRequest, "session already initialized")
		return sess
	}
	var initReq mcp.InitializeRequest
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &initReq); err != nil {
			h.writeError(ctx, w, req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid initialize params")
			return nil
		}
	}
	meta, initRes, err := h.eng.InitializeSession(ctx, &initReq)
	if err != nil {
		h.log.ErrorContext(ctx, "stdio.initialize.fail", slog.String("err", err.Error()))
		h.writeError(ctx, w, req.ID, jsonrpc.ErrorCodeInternalError, "failed to initialize session")
		return nil
	}
	res, err := jsonrpc.NewResultResponse(req.ID, initRes)
	if err != nil {
		h.log.ErrorContext(ctx, "stdio.initialize.encode.fail", slog.String("err", err.Error()))
		return nil
	}
	if err := w.writeMessage(res); err != nil {
		h.log.ErrorContext(ctx, "stdio.write.fail", slog.String("err", err.Error()))
		return nil
	}
	h.log.InfoContext(ctx, "stdio.initialize.ok", slog.String("session_id", meta.SessionID))
	return &sessionRef{meta: *meta}
}

func (h *Handler) writeError(ctx context.Context, w *lineWriter, id *jsonrpc.RequestID, code jsonrpc.ErrorCode, message string) {
	if err := w.writeMessage(jsonrpc.NewErrorResponse(id, code, message, nil)); err != nil {
		h.log.ErrorContext(ctx, "stdio.write.fail", slog.String("err", err.Error()))
	}
}

// sessionRef holds the transport's view of its single session. The read
// loop owns mutation; request goroutines work on snapshots.
type sessionRef struct {
	mu   sync.Mutex
	meta sessions.Metadata
}

func (s *sessionRef) snapshot() sessions.Metadata {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.meta
}

func (s *sessionRef) update(meta sessions.Metadata) {
	s.mu.Lock()
	s.meta = meta
	s.mu.Unlock()
}

// lineWriter serializes newline-delimited JSON messages onto the output
// stream.
type lineWriter struct {
	mu  sync.Mutex
	out io.Writer
}

func (w *lineWriter) writeMessage(msg any) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	b = append(b, '\n')
	w.mu.Lock()
	defer w.mu.Unlock()
	_, err = w.out.Write(b)
	return err
}
