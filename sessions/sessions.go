// Package sessions defines the session lifecycle and the storage contract
// MCP transports rely on. A session moves through three states:
// uninitialized (created by initialize, handshake incomplete), ready (client
// sent notifications/initialized), and closed (torn down by the client or
// expired). Hosts also keep an ordered per-session event log so a dropped
// HTTP stream can resume from its last delivered event.
package sessions

import (
	"context"
	"errors"
	"time"
)

// State is the lifecycle state of a session.
type State string

const (
	// StateUninitialized means initialize succeeded but the client has not
	// yet confirmed with notifications/initialized. Only ping and the
	// handshake itself are valid in this state.
	StateUninitialized State = "uninitialized"
	// StateReady means the handshake completed and operational requests are
	// accepted.
	StateReady State = "ready"
	// StateClosed means the session was torn down and must not accept
	// further traffic.
	StateClosed State = "closed"
)

var (
	// ErrSessionNotFound indicates the session ID is unknown or expired.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionClosed indicates the session was terminated.
	ErrSessionClosed = errors.New("session closed")
	// ErrEventNotFound indicates a resume cursor that is not in the log.
	ErrEventNotFound = errors.New("event not found")
)

// ClientInfo records the identity the client supplied at initialization.
type ClientInfo struct {
	Name    string `json:"name,omitempty"`
	Version string `json:"version,omitempty"`
}

// Metadata is the authoritative representation of a session. TTL is a
// sliding window: a host may expire a session once LastAccess + TTL has
// passed.
type Metadata struct {
	SessionID       string        `json:"session_id"`
	ProtocolVersion string        `json:"protocol_version"`
	Client          ClientInfo    `json:"client,omitempty"`
	State           State         `json:"state"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
	LastAccess      time.Time     `json:"last_access"`
	TTL             time.Duration `json:"ttl"`
}

// MessageHandlerFunc receives one event from a session's ordered log.
// Returning an error stops the subscription.
type MessageHandlerFunc func(ctx context.Context, eventID string, data []byte) error

// Host stores session metadata and per-session ordered event logs. All
// methods are safe for concurrent use.
type Host interface {
	// CreateSession persists new metadata. The SessionID must be unique.
	CreateSession(ctx context.Context, meta *Metadata) error
	// GetSession loads metadata, or ErrSessionNotFound.
	GetSession(ctx context.Context, sessionID string) (*Metadata, error)
	// MutateSession applies fn to the stored metadata under the host's lock
	// and persists the result.
	MutateSession(ctx context.Context, sessionID string, fn func(*Metadata) error) error
	// TouchSession advances LastAccess to now.
	TouchSession(ctx context.Context, sessionID string) error
	// DeleteSession removes the session and wakes any subscribers.
	DeleteSession(ctx context.Context, sessionID string) error

	// PublishSession appends data to the session's ordered event log and
	// returns the assigned event ID.
	PublishSession(ctx context.Context, sessionID string, data []byte) (eventID string, err error)
	// SubscribeSession delivers events after lastEventID (or only new events
	// when lastEventID is empty) until ctx ends, the session is deleted, or
	// the handler returns an error.
	SubscribeSession(ctx context.Context, sessionID string, lastEventID string, handler MessageHandlerFunc) error
}
