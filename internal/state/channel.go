package state

import "time"

// ChannelType classifies who may access a channel.
type ChannelType int

const (
	ChannelPublic    ChannelType = 0
	ChannelSelective ChannelType = 1
	ChannelPrivate   ChannelType = 2
)

// ChannelInfo describes one I3 channel.
type ChannelInfo struct {
	Name           string
	Owner          string
	Type           ChannelType
	BannedMuds     map[string]struct{}
	AdmittedMuds   map[string]struct{}
	ListeningMuds  map[string]struct{}
	ActiveUsers    map[string]map[string]struct{} // mud -> users
	MessageCount   int
	CreatedAt      time.Time
	LastActivity   time.Time
}

// NewChannelInfo returns a channel with its set fields initialized empty.
func NewChannelInfo(name string) *ChannelInfo {
	return &ChannelInfo{
		Name:          name,
		BannedMuds:    map[string]struct{}{},
		AdmittedMuds:  map[string]struct{}{},
		ListeningMuds: map[string]struct{}{},
		ActiveUsers:   map[string]map[string]struct{}{},
		CreatedAt:     time.Now(),
	}
}

func (c *ChannelInfo) IsPublic() bool    { return c.Type == ChannelPublic }
func (c *ChannelInfo) IsSelective() bool { return c.Type == ChannelSelective }
func (c *ChannelInfo) IsPrivate() bool   { return c.Type == ChannelPrivate }

// CanAccess implements can_access(mud) = mud ∉ banned ∧ (public ∨ mud ∈ admitted).
func (c *ChannelInfo) CanAccess(mud string) bool {
	if _, banned := c.BannedMuds[mud]; banned {
		return false
	}
	if c.IsPublic() {
		return true
	}
	_, admitted := c.AdmittedMuds[mud]
	return admitted
}
