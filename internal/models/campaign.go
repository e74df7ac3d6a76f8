package models

// Campaign is the cached copy of a remote campaign resource. Counters are
// kept equal to the length of their membership lists.
type Campaign struct {
	ID                string   `json:"_id"`
	Title             string   `json:"title"`
	Description       string   `json:"description,omitempty"`
	Location          string   `json:"location,omitempty"`
	StartDate         string   `json:"startDate,omitempty"`
	EndDate           string   `json:"endDate,omitempty"`
	Likers            []string `json:"likers"`
	LikersCount       int      `json:"likersCount"`
	Participants      []string `json:"participants"`
	ParticipantsCount int      `json:"participantsCount"`
}

// Has reports whether actorID is in the membership list for axis.
func (c *Campaign) Has(axis Axis, actorID string) bool {
	for _, id := range c.members(axis) {
		if id == actorID {
			return true
		}
	}
	return false
}

// SetMember adds or removes actorID from the axis list and adjusts the
// counter by one, never below zero. It is a no-op when membership already
// matches.
func (c *Campaign) SetMember(axis Axis, actorID string, member bool) {
	if c.Has(axis, actorID) == member {
		return
	}
	list := c.members(axis)
	count := c.count(axis)
	if member {
		list = append(list, actorID)
		count++
	} else {
		kept := list[:0:0]
		for _, id := range list {
			if id != actorID {
				kept = append(kept, id)
			}
		}
		list = kept
		count--
	}
	if count < 0 {
		count = 0
	}
	c.setMembers(axis, list, count)
}

// Normalize re-derives counters from list lengths.
func (c *Campaign) Normalize() {
	c.LikersCount = len(c.Likers)
	c.ParticipantsCount = len(c.Participants)
}

// Consistent reports whether both counters equal their list lengths.
func (c *Campaign) Consistent() bool {
	return c.LikersCount == len(c.Likers) && c.ParticipantsCount == len(c.Participants)
}

// Clone returns a copy with independent membership slices.
func (c *Campaign) Clone() *Campaign {
	cp := *c
	cp.Likers = append([]string(nil), c.Likers...)
	cp.Participants = append([]string(nil), c.Participants...)
	return &cp
}

func (c *Campaign) members(axis Axis) []string {
	if axis == AxisParticipation {
		return c.Participants
	}
	return c.Likers
}

func (c *Campaign) count(axis Axis) int {
	if axis == AxisParticipation {
		return c.ParticipantsCount
	}
	return c.LikersCount
}

func (c *Campaign) setMembers(axis Axis, list []string, count int) {
	if axis == AxisParticipation {
		c.Participants, c.ParticipantsCount = list, count
		return
	}
	c.Likers, c.LikersCount = list, count
}
