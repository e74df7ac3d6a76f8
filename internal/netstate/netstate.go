// Package netstate models device connectivity as seen by the sync core.
//
// The host app owns real connectivity detection. It feeds transitions in
// through a Signal; the core keeps the latest NetworkState in a Tracker and
// reads it before every network attempt.
package netstate

import (
	"context"
	"strings"
	"sync"
	"time"
)

// ConnectionType classifies the active link.
type ConnectionType string

const (
	TypeWiFi     ConnectionType = "wifi"
	TypeCellular ConnectionType = "cellular"
	TypeUnknown  ConnectionType = "unknown"
	TypeNone     ConnectionType = "none"
)

// ParseConnectionType maps host-reported names onto the closed set.
func ParseConnectionType(s string) ConnectionType {
	switch ConnectionType(strings.ToLower(strings.TrimSpace(s))) {
	case TypeWiFi, "ethernet":
		return TypeWiFi
	case TypeCellular:
		return TypeCellular
	case TypeNone:
		return TypeNone
	default:
		return TypeUnknown
	}
}

// Status is a point-in-time connectivity reading.
type Status struct {
	IsConnected bool           `json:"isConnected"`
	Type        ConnectionType `json:"type"`
}

// Signal is the connectivity source. Subscribe returns a function that
// removes the callback.
type Signal interface {
	FetchCurrent(ctx context.Context) (Status, error)
	Subscribe(callback func(Status)) (unsubscribe func())
}

// NetworkState is the tracked connectivity with transition timestamps.
type NetworkState struct {
	IsConnected      bool           `json:"isConnected"`
	ConnectionType   ConnectionType `json:"connectionType"`
	LastConnected    time.Time      `json:"lastConnected,omitempty"`
	LastDisconnected time.Time      `json:"lastDisconnected,omitempty"`
}

// Tracker holds the most recent NetworkState. It is safe for concurrent use.
type Tracker struct {
	mu    sync.RWMutex
	state NetworkState
	now   func() time.Time
}

// NewTracker creates a Tracker that starts disconnected.
func NewTracker() *Tracker {
	return &Tracker{
		state: NetworkState{ConnectionType: TypeNone},
		now:   time.Now,
	}
}

// Update records a reading and reports whether connectivity flipped from
// disconnected to connected.
func (t *Tracker) Update(s Status) (restored bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	was := t.state.IsConnected
	t.state.IsConnected = s.IsConnected
	t.state.ConnectionType = s.Type
	if t.state.ConnectionType == "" {
		t.state.ConnectionType = TypeUnknown
	}

	switch {
	case !was && s.IsConnected:
		t.state.LastConnected = t.now()
		return true
	case was && !s.IsConnected:
		t.state.LastDisconnected = t.now()
	}
	return false
}

// IsConnected reports the last known connectivity.
func (t *Tracker) IsConnected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state.IsConnected
}

// State returns a copy of the tracked state.
func (t *Tracker) State() NetworkState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// Manual is a Signal driven by explicit Set calls. The mobile bridge feeds
// platform connectivity events into one; tests use it to flip the network.
type Manual struct {
	mu      sync.Mutex
	status  Status
	nextID  int
	targets map[int]func(Status)
}

// NewManual creates a Manual signal with the given initial status.
func NewManual(initial Status) *Manual {
	if initial.Type == "" {
		initial.Type = TypeUnknown
		if !initial.IsConnected {
			initial.Type = TypeNone
		}
	}
	return &Manual{status: initial, targets: make(map[int]func(Status))}
}

// FetchCurrent returns the last status passed to Set.
func (m *Manual) FetchCurrent(context.Context) (Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status, nil
}

// Subscribe registers callback for every later Set.
func (m *Manual) Subscribe(callback func(Status)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	m.targets[id] = callback

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.targets, id)
	}
}

// Set records s and notifies subscribers synchronously, outside the lock.
func (m *Manual) Set(s Status) {
	m.mu.Lock()
	m.status = s
	callbacks := make([]func(Status), 0, len(m.targets))
	for _, cb := range m.targets {
		callbacks = append(callbacks, cb)
	}
	m.mu.Unlock()

	for _, cb := range callbacks {
		cb(s)
	}
}

// SetConnected is shorthand for Set with a default connection type.
func (m *Manual) SetConnected(connected bool) {
	t := TypeWiFi
	if !connected {
		t = TypeNone
	}
	m.Set(Status{IsConnected: connected, Type: t})
}
