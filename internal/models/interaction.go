package models

// Snapshot is the interaction state captured right before an optimistic
// mutation. Timestamp is unix milliseconds.
type Snapshot struct {
	Liked        bool  `json:"liked"`
	Participated bool  `json:"participated"`
	Timestamp    int64 `json:"timestamp"`
}

// UserInteraction is the UI-visible interaction state for one campaign.
// PreviousState is set iff an optimistic mutation awaits reconciliation.
type UserInteraction struct {
	Liked                bool      `json:"liked"`
	Participated         bool      `json:"participated"`
	PendingLike          bool      `json:"pendingLike"`
	PendingParticipation bool      `json:"pendingParticipation"`
	PreviousState        *Snapshot `json:"previousState,omitempty"`
}

// Value returns the flag for axis.
func (u *UserInteraction) Value(axis Axis) bool {
	if axis == AxisParticipation {
		return u.Participated
	}
	return u.Liked
}

// Set assigns the flag for axis.
func (u *UserInteraction) Set(axis Axis, v bool) {
	if axis == AxisParticipation {
		u.Participated = v
		return
	}
	u.Liked = v
}

// Pending returns the pending flag for axis.
func (u *UserInteraction) Pending(axis Axis) bool {
	if axis == AxisParticipation {
		return u.PendingParticipation
	}
	return u.PendingLike
}

// SetPending assigns the pending flag for axis.
func (u *UserInteraction) SetPending(axis Axis, v bool) {
	if axis == AxisParticipation {
		u.PendingParticipation = v
		return
	}
	u.PendingLike = v
}

// AnyPending reports whether either axis has an outstanding request.
func (u *UserInteraction) AnyPending() bool {
	return u.PendingLike || u.PendingParticipation
}

// ServerInteraction is the server-side truth for one campaign and actor.
type ServerInteraction struct {
	Liked        bool `json:"liked"`
	Participated bool `json:"participated"`
}
