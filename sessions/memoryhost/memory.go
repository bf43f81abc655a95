// Package memoryhost provides the in-memory sessions.Host used by the
// single-process server. Event logs live for the lifetime of the session and
// support resume by last event ID.
package memoryhost

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/asachs01/propublica-mcp/sessions"
)

// Host is an in-memory implementation of sessions.Host.
type Host struct {
	mu      sync.RWMutex
	byID    map[string]*sessionState
	counter atomic.Int64
}

type sessionState struct {
	mu          sync.Mutex
	meta        sessions.Metadata
	events      []event
	subscribers map[*subscriber]struct{}
	closed      bool
}

type event struct {
	id   string
	data []byte
}

type subscriber struct {
	notify chan struct{}
	gone   chan struct{}
}

// New returns an empty host.
func New() *Host {
	return &Host{byID: make(map[string]*sessionState)}
}

var _ sessions.Host = (*Host)(nil)

func (h *Host) CreateSession(ctx context.Context, meta *sessions.Metadata) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.byID[meta.SessionID]; exists {
		return sessions.ErrSessionClosed
	}
	h.byID[meta.SessionID] = &sessionState{
		meta:        *meta,
		subscribers: make(map[*subscriber]struct{}),
	}
	return nil
}

func (h *Host) GetSession(ctx context.Context, sessionID string) (*sessions.Metadata, error) {
	ss, err := h.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	ss.mu.Lock()
	defer ss.mu.Unlock()
	if h.expiredLocked(ss) {
		return nil, sessions.ErrSessionNotFound
	}
	meta := ss.meta
	return &meta, nil
}

func (h *Host) MutateSession(ctx context.Context, sessionID string, fn func(*sessions.Metadata) error) error {
	ss, err := h.lookup(sessionID)
	if err != nil {
		return err
	}
	ss.mu.Lock()
	defer ss.mu.Unlock()
	if h.expiredLocked(ss) {
		return sessions.ErrSessionNotFound
	}
	meta := ss.meta
	if err := fn(&meta); err != nil {
		return err
	}
	meta.UpdatedAt = time.Now().UTC()
	ss.meta = meta
	return nil
}

func (h *Host) TouchSession(ctx context.Context, sessionID string) error {
	return h.MutateSession(ctx, sessionID, func(m *sessions.Metadata) error {
		m.LastAccess = time.Now().UTC()
		return nil
	})
}

func (h *Host) DeleteSession(ctx context.Context, sessionID string) error {
	h.mu.Lock()
	ss, ok := h.byID[sessionID]
	if ok {
		delete(h.byID, sessionID)
	}
	h.mu.Unlock()
	if !ok {
		return nil
	}
	ss.mu.Lock()
	ss.closed = true
	subs := make([]*subscriber, 0, len(ss.subscribers))
	for sub := range ss.subscribers {
		subs = append(subs, sub)
	}
	ss.subscribers = make(map[*subscriber]struct{})
	ss.mu.Unlock()
	for _, sub := range subs {
		close(sub.gone)
	}
	return nil
}

func (h *Host) PublishSession(ctx context.Context, sessionID string, data []byte) (string, error) {
	ss, err := h.lookup(sessionID)
	if err != nil {
		return "", err
	}
	evID := strconv.FormatInt(h.counter.Add(1), 10)
	ss.mu.Lock()
	if ss.closed {
		ss.mu.Unlock()
		return "", sessions.ErrSessionClosed
	}
	ss.events = append(ss.events, event{id: evID, data: append([]byte(nil), data...)})
	subs := make([]*subscriber, 0, len(ss.subscribers))
	for sub := range ss.subscribers {
		subs = append(subs, sub)
	}
	ss.mu.Unlock()
	for _, sub := range subs {
		select {
		case sub.notify <- struct{}{}:
		default:
		}
	}
	return evID, nil
}

func (h *Host) SubscribeSession(ctx context.Context, sessionID string, lastEventID string, handler sessions.MessageHandlerFunc) error {
	ss, err := h.lookup(sessionID)
	if err != nil {
		return err
	}

	sub := &subscriber{notify: make(chan struct{}, 1), gone: make(chan struct{})}

	ss.mu.Lock()
	if ss.closed {
		ss.mu.Unlock()
		return sessions.ErrSessionClosed
	}
	next := len(ss.events)
	if lastEventID != "" {
		found := false
		for i := range ss.events {
			if ss.events[i].id == lastEventID {
				next = i + 1
				found = true
				break
			}
		}
		if !found {
			ss.mu.Unlock()
			return sessions.ErrEventNotFound
		}
	}
	ss.subscribers[sub] = struct{}{}
	ss.mu.Unlock()

	defer func() {
		ss.mu.Lock()
		delete(ss.subscribers, sub)
		ss.mu.Unlock()
	}()

	for {
		ss.mu.Lock()
		var pending []event
		if next < len(ss.events) {
			pending = make([]event, len(ss.events)-next)
			copy(pending, ss.events[next:])
			next = len(ss.events)
		}
		ss.mu.Unlock()

		for _, ev := range pending {
			if err := handler(ctx, ev.id, ev.data); err != nil {
				return err
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-sub.gone:
			return sessions.ErrSessionClosed
		case <-sub.notify:
		}
	}
}

func (h *Host) lookup(sessionID string) (*sessionState, error) {
	h.mu.RLock()
	ss, ok := h.byID[sessionID]
	h.mu.RUnlock()
	if !ok {
		return nil, sessions.ErrSessionNotFound
	}
	return ss, nil
}

// expiredLocked evaluates the sliding TTL window. Caller holds ss.mu.
func (h *Host) expiredLocked(ss *sessionState) bool {
	if ss.meta.TTL <= 0 {
		return false
	}
	return time.Since(ss.meta.LastAccess) > ss.meta.TTL
}
