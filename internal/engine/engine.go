// Package engine dispatches JSON-RPC messages against the server's
// capability surface and owns session lifecycle: handshake, state
// enforcement, per-request cancellation, and teardown. Transports (stdio,
// streaming HTTP) translate wire traffic into engine calls.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/asachs01/propublica-mcp/internal/jsonrpc"
	"github.com/asachs01/propublica-mcp/internal/logctx"
	"github.com/asachs01/propublica-mcp/mcp"
	"github.com/asachs01/propublica-mcp/mcpservice"
	"github.com/asachs01/propublica-mcp/sessions"
)

const (
	// defaultHandshakeTTL bounds how long a session may sit uninitialized
	// before the host may expire it.
	defaultHandshakeTTL = 30 * time.Second
	// defaultSessionTTL is the sliding idle window after the handshake.
	defaultSessionTTL = 30 * time.Minute
)

// ErrSessionNotReady is returned for operational requests that arrive before
// the client confirmed the handshake.
var ErrSessionNotReady = errors.New("session not initialized")

// Engine glues transports to capabilities.
type Engine struct {
	host sessions.Host
	srv  mcpservice.ServerCapabilities
	log  *slog.Logger

	handshakeTTL time.Duration
	sessionTTL   time.Duration

	mu      sync.Mutex
	cancels map[string]context.CancelCauseFunc
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// WithSessionTTL sets the post-handshake idle window.
func WithSessionTTL(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.sessionTTL = d
		}
	}
}

// New builds an Engine over the given session host and capability surface.
func New(host sessions.Host, srv mcpservice.ServerCapabilities, opts ...Option) *Engine {
	e := &Engine{
		host:         host,
		srv:          srv,
		log:          slog.Default(),
		handshakeTTL: defaultHandshakeTTL,
		sessionTTL:   defaultSessionTTL,
		cancels:      make(map[string]context.CancelCauseFunc),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// InitializeSession negotiates the protocol version, snapshots the advertised
// capabilities, and creates a session in the uninitialized state.
func (e *Engine) InitializeSession(ctx context.Context, initReq *mcp.InitializeRequest) (*sessions.Metadata, *mcp.InitializeResult, error) {
	start := time.Now()

	version := initReq.ProtocolVersion
	if !mcp.IsSupportedProtocolVersion(version) {
		version = mcp.LatestProtocolVersion
	}

	info, err := e.srv.GetServerInfo(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("get server info: %w", err)
	}

	caps := mcp.ServerCapabilities{}
	if _, ok, err := e.srv.GetToolsCapability(ctx, nil); err != nil {
		return nil, nil, fmt.Errorf("discover tools capability: %w", err)
	} else if ok {
		caps.Tools = &mcp.ToolsServerCapability{}
	}
	if _, ok, err := e.srv.GetResourcesCapability(ctx, nil); err != nil {
		return nil, nil, fmt.Errorf("discover resources capability: %w", err)
	} else if ok {
		caps.Resources = &mcp.ResourcesServerCapability{}
	}
	if _, ok, err := e.srv.GetLoggingCapability(ctx, nil); err != nil {
		return nil, nil, fmt.Errorf("discover logging capability: %w", err)
	} else if ok {
		caps.Logging = &mcp.LoggingServerCapability{}
	}

	now := time.Now().UTC()
	meta := &sessions.Metadata{
		SessionID:       uuid.NewString(),
		ProtocolVersion: version,
		Client: sessions.ClientInfo{
			Name:    initReq.ClientInfo.Name,
			Version: initReq.ClientInfo.Version,
		},
		State:      sessions.StateUninitialized,
		CreatedAt:  now,
		UpdatedAt:  now,
		LastAccess: now,
		TTL:        e.handshakeTTL,
	}
	if err := e.host.CreateSession(ctx, meta); err != nil {
		return nil, nil, fmt.Errorf("create session: %w", err)
	}

	res := &mcp.InitializeResult{
		ProtocolVersion: version,
		Capabilities:    caps,
		ServerInfo:      info,
	}
	if instructions, ok, err := e.srv.GetInstructions(ctx, meta); err != nil {
		return nil, nil, fmt.Errorf("get instructions: %w", err)
	} else if ok {
		res.Instructions = instructions
	}

	e.log.InfoContext(ctx, "engine.initialize.ok",
		slog.String("session_id", meta.SessionID),
		slog.String("protocol_version", version),
		slog.String("client", initReq.ClientInfo.Name),
		slog.Duration("dur", time.Since(start)),
	)
	return meta, res, nil
}

// LoadSession resolves a session ID to live metadata and refreshes its
// sliding TTL window.
func (e *Engine) LoadSession(ctx context.Context, sessionID string) (*sessions.Metadata, error) {
	meta, err := e.host.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if meta.State == sessions.StateClosed {
		return nil, sessions.ErrSessionClosed
	}
	_ = e.host.TouchSession(ctx, sessionID)
	return meta, nil
}

// HandleRequest dispatches one JSON-RPC request and returns the response to
// deliver. The returned error is reserved for infrastructure failures; all
// protocol-level failures are encoded as JSON-RPC error responses echoing
// the caller's correlation ID.
func (e *Engine) HandleRequest(ctx context.Context, sess *sessions.Metadata, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	start := time.Now()
	ctx = logctx.WithRPCData(ctx, &logctx.RPCData{
		Method: req.Method,
		ID:     req.ID.String(),
		Type:   string(jsonrpc.MessageTypeRequest),
	})

	// Until notifications/initialized arrives only ping is in scope.
	if sess.State != sessions.StateReady && req.Method != mcp.MethodPing {
		e.log.WarnContext(ctx, "engine.handle_request.not_ready")
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidRequest, ErrSessionNotReady.Error(), nil), nil
	}

	var (
		res *jsonrpc.Response
		err error
	)
	switch req.Method {
	case mcp.MethodPing:
		res, err = jsonrpc.NewResultResponse(req.ID, struct{}{})
	case mcp.MethodToolsList:
		res, err = e.handleToolsList(ctx, sess, req)
	case mcp.MethodToolsCall:
		res, err = e.handleToolsCall(ctx, sess, req)
	case mcp.MethodResourcesList:
		res, err = e.handleResourcesList(ctx, sess, req)
	case mcp.MethodResourcesRead:
		res, err = e.handleResourcesRead(ctx, sess, req)
	case mcp.MethodLoggingSetLevel:
		res, err = e.handleSetLevel(ctx, sess, req)
	case mcp.MethodInitialize:
		res = jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidRequest, "session already initialized", nil)
	default:
		res = jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, fmt.Sprintf("method not found: %s", req.Method), nil)
	}
	if err != nil {
		e.log.ErrorContext(ctx, "engine.handle_request.fail",
			slog.String("err", err.Error()),
			slog.Duration("dur", time.Since(start)),
		)
		return nil, err
	}

	e.log.InfoContext(ctx, "engine.handle_request.ok", slog.Duration("dur", time.Since(start)))
	return res, nil
}

// HandleNotification processes one JSON-RPC notification. Unknown
// notifications are ignored per protocol.
func (e *Engine) HandleNotification(ctx context.Context, sess *sessions.Metadata, req *jsonrpc.Request) error {
	ctx = logctx.WithRPCData(ctx, &logctx.RPCData{
		Method: req.Method,
		Type:   string(jsonrpc.MessageTypeNotification),
	})

	switch req.Method {
	case mcp.NotificationInitialized:
		ttl := e.sessionTTL
		err := e.host.MutateSession(ctx, sess.SessionID, func(m *sessions.Metadata) error {
			if m.State == sessions.StateClosed {
				return sessions.ErrSessionClosed
			}
			m.State = sessions.StateReady
			m.TTL = ttl
			return nil
		})
		if err != nil {
			return fmt.Errorf("mark session ready: %w", err)
		}
		sess.State = sessions.StateReady
		e.log.InfoContext(ctx, "engine.session.ready", slog.String("session_id", sess.SessionID))
		return nil
	case mcp.NotificationCancelled:
		var note mcp.CancelledNotification
		if len(req.Params) > 0 {
			if err := json.Unmarshal(req.Params, &note); err != nil {
				e.log.WarnContext(ctx, "engine.cancelled.bad_params", slog.String("err", err.Error()))
				return nil
			}
		}
		var rid jsonrpc.RequestID
		if len(note.RequestID) > 0 {
			if err := rid.UnmarshalJSON(note.RequestID); err != nil {
				return nil
			}
		}
		e.cancelInFlight(sess.SessionID, rid.String(), note.Reason)
		return nil
	default:
		e.log.DebugContext(ctx, "engine.notification.ignored")
		return nil
	}
}

func (e *Engine) handleToolsList(ctx context.Context, sess *sessions.Metadata, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	tools, ok, err := e.srv.GetToolsCapability(ctx, sess)
	if err != nil {
		return nil, err
	}
	if !ok {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, "tools not supported", nil), nil
	}
	var params mcp.ListToolsRequest
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params", nil), nil
		}
	}
	var cursor *string
	if params.Cursor != "" {
		cursor = &params.Cursor
	}
	page, err := tools.ListTools(ctx, sess, cursor)
	if err != nil {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, err.Error(), nil), nil
	}
	res := mcp.ListToolsResult{Tools: page.Items}
	if page.NextCursor != nil {
		res.NextCursor = *page.NextCursor
	}
	return jsonrpc.NewResultResponse(req.ID, res)
}

func (e *Engine) handleToolsCall(ctx context.Context, sess *sessions.Metadata, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	tools, ok, err := e.srv.GetToolsCapability(ctx, sess)
	if err != nil {
		return nil, err
	}
	if !ok {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, "tools not supported", nil), nil
	}
	var params mcp.CallToolRequest
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params", nil), nil
		}
	}
	ctx = logctx.WithToolData(ctx, &logctx.ToolData{Name: params.Name})

	// Register a cancel handle so notifications/cancelled can abort the call.
	callCtx, cancel := context.WithCancelCause(ctx)
	key := cancelKey(sess.SessionID, req.ID.String())
	e.mu.Lock()
	e.cancels[key] = cancel
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.cancels, key)
		e.mu.Unlock()
		cancel(nil)
	}()

	start := time.Now()
	result, err := tools.CallTool(callCtx, sess, &params)
	if err != nil {
		if errors.Is(err, mcpservice.ErrToolNotFound) {
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, err.Error(), nil), nil
		}
		if callCtx.Err() != nil {
			e.log.InfoContext(ctx, "engine.tool_call.cancelled", slog.Duration("dur", time.Since(start)))
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "request cancelled", nil), nil
		}
		// Handler failures become tool error results so the transport and
		// session survive.
		e.log.ErrorContext(ctx, "engine.tool_call.fail",
			slog.String("err", err.Error()),
			slog.Duration("dur", time.Since(start)),
		)
		result = mcpservice.Errorf("tool %s failed: %v", params.Name, err)
	}
	e.log.InfoContext(ctx, "engine.tool_call.ok",
		slog.Bool("is_error", result.IsError),
		slog.Duration("dur", time.Since(start)),
	)
	return jsonrpc.NewResultResponse(req.ID, result)
}

func (e *Engine) handleResourcesList(ctx context.Context, sess *sessions.Metadata, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	resources, ok, err := e.srv.GetResourcesCapability(ctx, sess)
	if err != nil {
		return nil, err
	}
	if !ok {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, "resources not supported", nil), nil
	}
	var params mcp.ListResourcesRequest
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params", nil), nil
		}
	}
	var cursor *string
	if params.Cursor != "" {
		cursor = &params.Cursor
	}
	page, err := resources.ListResources(ctx, sess, cursor)
	if err != nil {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, err.Error(), nil), nil
	}
	res := mcp.ListResourcesResult{Resources: page.Items}
	if page.NextCursor != nil {
		res.NextCursor = *page.NextCursor
	}
	return jsonrpc.NewResultResponse(req.ID, res)
}

func (e *Engine) handleResourcesRead(ctx context.Context, sess *sessions.Metadata, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	resources, ok, err := e.srv.GetResourcesCapability(ctx, sess)
	if err != nil {
		return nil, err
	}
	if !ok {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, "resources not supported", nil), nil
	}
	var params mcp.ReadResourceRequest
	if len(req.Params) == 0 || json.Unmarshal(req.Params, &params) != nil || params.URI == "" {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "uri is required", nil), nil
	}
	contents, err := resources.ReadResource(ctx, sess, params.URI)
	if err != nil {
		if errors.Is(err, mcpservice.ErrResourceNotFound) {
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, err.Error(), nil), nil
		}
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, err.Error(), nil), nil
	}
	return jsonrpc.NewResultResponse(req.ID, mcp.ReadResourceResult{Contents: contents})
}

func (e *Engine) handleSetLevel(ctx context.Context, sess *sessions.Metadata, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	logging, ok, err := e.srv.GetLoggingCapability(ctx, sess)
	if err != nil {
		return nil, err
	}
	if !ok {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, "logging not supported", nil), nil
	}
	var params mcp.SetLevelRequest
	if len(req.Params) == 0 || json.Unmarshal(req.Params, &params) != nil {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params", nil), nil
	}
	if err := logging.SetLevel(ctx, sess, params.Level); err != nil {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, err.Error(), nil), nil
	}
	return jsonrpc.NewResultResponse(req.ID, struct{}{})
}

// PublishToSession appends a message to the session's ordered event log for
// delivery on the session's standalone stream.
func (e *Engine) PublishToSession(ctx context.Context, sess *sessions.Metadata, msg any) (string, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("marshal message: %w", err)
	}
	return e.host.PublishSession(ctx, sess.SessionID, data)
}

// StreamSession delivers the session's event log to fn, resuming after
// lastEventID when non-empty, until ctx ends or the session closes.
func (e *Engine) StreamSession(ctx context.Context, sess *sessions.Metadata, lastEventID string, fn sessions.MessageHandlerFunc) error {
	return e.host.SubscribeSession(ctx, sess.SessionID, lastEventID, fn)
}

// DeleteSession cancels any in-flight calls and removes the session.
func (e *Engine) DeleteSession(ctx context.Context, sessionID string) error {
	prefix := cancelKey(sessionID, "")
	e.mu.Lock()
	for key, cancel := range e.cancels {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			cancel(sessions.ErrSessionClosed)
			delete(e.cancels, key)
		}
	}
	e.mu.Unlock()
	if err := e.host.DeleteSession(ctx, sessionID); err != nil {
		return err
	}
	e.log.InfoContext(ctx, "engine.session.deleted", slog.String("session_id", sessionID))
	return nil
}

func (e *Engine) cancelInFlight(sessionID, requestID, reason string) {
	key := cancelKey(sessionID, requestID)
	e.mu.Lock()
	cancel, ok := e.cancels[key]
	if ok {
		delete(e.cancels, key)
	}
	e.mu.Unlock()
	if ok {
		cancel(fmt.Errorf("cancelled by client: %s", reason))
	}
}

func cancelKey(sessionID, requestID string) string {
	return sessionID + "\x00" + requestID
}
