package state

import "time"

// TellEntry is one row of a user's rolling tell-history window.
type TellEntry struct {
	FromMud   string
	FromUser  string
	Message   string
	Timestamp time.Time
}

// tellHistoryCap bounds the per-user tell-history window.
const tellHistoryCap = 20

// UserSession tracks one locally-connected MUD user.
type UserSession struct {
	SessionID          string
	MudName            string
	UserName           string
	Authenticated      bool
	AuthTime           time.Time
	CreatedAt          time.Time
	LastActivity       time.Time
	LastLogin          time.Time
	BlockedUsers       map[string]struct{}
	BlockedMuds        map[string]struct{}
	ListeningChannels  map[string]struct{}
	MessagesSent       int
	MessagesReceived   int
	TellHistory        []TellEntry
	RecentTellFrom     string // "from_mud:from_user" of the most recent tell received

	// Player attributes surfaced by who/finger. The downstream sink that
	// actually authenticates and describes the player is out of scope;
	// these are populated by whatever local integration owns that sink
	// and read-only from the gateway's side.
	Title    string
	RealName string
	Email    string
	Level    int
	Class    string
	Race     string
	Guild    string
	Plan     string
}

// NewUserSession returns a freshly-created session for (mudName, userName).
func NewUserSession(sessionID, mudName, userName string) *UserSession {
	now := time.Now()
	return &UserSession{
		SessionID:         sessionID,
		MudName:           mudName,
		UserName:          userName,
		CreatedAt:         now,
		LastActivity:      now,
		BlockedUsers:      map[string]struct{}{},
		BlockedMuds:       map[string]struct{}{},
		ListeningChannels: map[string]struct{}{},
	}
}

// UpdateActivity stamps LastActivity with the current time.
func (s *UserSession) UpdateActivity() { s.LastActivity = time.Now() }

// RecordTell appends a tell to the session's history window, capped at
// tellHistoryCap entries (oldest dropped first), and records the sender for
// recent_tells lookups.
func (s *UserSession) RecordTell(fromMud, fromUser, message string) {
	s.TellHistory = append(s.TellHistory, TellEntry{
		FromMud: fromMud, FromUser: fromUser, Message: message, Timestamp: time.Now(),
	})
	if len(s.TellHistory) > tellHistoryCap {
		s.TellHistory = s.TellHistory[len(s.TellHistory)-tellHistoryCap:]
	}
	s.RecentTellFrom = fromMud + ":" + fromUser
	s.MessagesReceived++
}
