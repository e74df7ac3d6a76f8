// Package models provides data model definitions for the campaign sync core.
package models

import (
	"fmt"
	"strings"
)

// RequestKind is the closed set of mutations the queue carries.
type RequestKind string

const (
	KindLike          RequestKind = "like"
	KindUnlike        RequestKind = "unlike"
	KindParticipate   RequestKind = "participate"
	KindUnparticipate RequestKind = "unparticipate"
)

// Kinds lists every supported kind.
var Kinds = []RequestKind{KindLike, KindUnlike, KindParticipate, KindUnparticipate}

// ParseKind validates s against the closed kind set.
func ParseKind(s string) (RequestKind, error) {
	k := RequestKind(strings.ToLower(strings.TrimSpace(s)))
	if !k.Valid() {
		return "", fmt.Errorf("unsupported request kind %q", s)
	}
	return k, nil
}

// Valid reports whether k is one of the supported kinds.
func (k RequestKind) Valid() bool {
	switch k {
	case KindLike, KindUnlike, KindParticipate, KindUnparticipate:
		return true
	}
	return false
}

// Axis is the interaction flag a kind mutates.
type Axis string

const (
	AxisLike          Axis = "like"
	AxisParticipation Axis = "participation"
)

// Axis returns the interaction flag this kind flips.
func (k RequestKind) Axis() Axis {
	switch k {
	case KindParticipate, KindUnparticipate:
		return AxisParticipation
	default:
		return AxisLike
	}
}

// Target is the flag value the kind moves toward (like → true, unlike → false).
func (k RequestKind) Target() bool {
	switch k {
	case KindLike, KindParticipate:
		return true
	default:
		return false
	}
}

// Priority orders drains: join/unjoin before like/unlike.
func (k RequestKind) Priority() int {
	switch k {
	case KindParticipate, KindUnparticipate:
		return 2
	case KindLike, KindUnlike:
		return 1
	default:
		return 0
	}
}

// Batchable reports whether requests of this kind may share one network call.
// Participation changes are order-sensitive and always go out individually.
func (k RequestKind) Batchable() bool {
	switch k {
	case KindLike, KindUnlike:
		return true
	default:
		return false
	}
}

// KindFor derives the queued kind from the flag's current value.
func KindFor(axis Axis, current bool) RequestKind {
	switch axis {
	case AxisParticipation:
		if current {
			return KindUnparticipate
		}
		return KindParticipate
	default:
		if current {
			return KindUnlike
		}
		return KindLike
	}
}

// Method is the HTTP method of a remote operation.
type Method string

const (
	MethodGet    Method = "GET"
	MethodPost   Method = "POST"
	MethodPut    Method = "PUT"
	MethodDelete Method = "DELETE"
	MethodPatch  Method = "PATCH"
)

// Valid reports whether m is a supported method.
func (m Method) Valid() bool {
	switch m {
	case MethodGet, MethodPost, MethodPut, MethodDelete, MethodPatch:
		return true
	}
	return false
}

// RequestMetadata carries reconciliation keys and retry bookkeeping.
// Times are unix milliseconds.
type RequestMetadata struct {
	ResourceID    string `json:"resourceId,omitempty"`
	ActorID       string `json:"actorId,omitempty"`
	Timestamp     int64  `json:"timestamp"`
	RetryCount    int    `json:"retryCount"`
	LastRetryTime int64  `json:"lastRetryTime,omitempty"`
	Priority      int    `json:"priority"`
}

// QueuedRequest is one pending remote mutation.
type QueuedRequest struct {
	ID        string                 `json:"id"`
	Kind      RequestKind            `json:"type"`
	Endpoint  string                 `json:"endpoint"`
	Method    Method                 `json:"method"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	Metadata  RequestMetadata        `json:"metadata"`
	CreatedAt int64                  `json:"createdAt"`
}

// Reconcilable reports whether the request names the resource and actor
// its optimistic mutation was applied to.
func (r *QueuedRequest) Reconcilable() bool {
	return r.Metadata.ResourceID != "" && r.Metadata.ActorID != ""
}

// Clone returns a deep copy so callers cannot mutate queued state.
func (r *QueuedRequest) Clone() *QueuedRequest {
	c := *r
	if r.Payload != nil {
		c.Payload = copyValue(r.Payload).(map[string]interface{})
	}
	return &c
}

func copyValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		m := make(map[string]interface{}, len(t))
		for k, e := range t {
			m[k] = copyValue(e)
		}
		return m
	case []interface{}:
		s := make([]interface{}, len(t))
		for i, e := range t {
			s[i] = copyValue(e)
		}
		return s
	default:
		return v
	}
}
