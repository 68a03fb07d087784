package state

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	mudInfoCacheTTL    = 60 * time.Second
	sweepInterval      = 5 * time.Minute
	sessionIdleExpiry  = 24 * time.Hour
)

// Store is the gateway's process-wide state: mudlist, channel list, user
// sessions, and a TTL cache, each behind its own lock so independent
// subsystems can read/write different tables concurrently. Callers that
// need more than one lock must acquire them in the fixed order
// mudlist -> channels -> sessions -> cache.
type Store struct {
	log logrus.FieldLogger

	mudlistMu sync.RWMutex
	mudlist   map[string]*MudInfo
	mudlistID int

	channelMu sync.RWMutex
	channels  map[string]*ChannelInfo

	sessionMu sync.RWMutex
	sessions  map[string]*UserSession

	cache *TTLCache

	persistDir string
}

// New returns an empty Store. persistDir, if non-empty, is the directory
// snapshot files are read from and written to.
func New(log logrus.FieldLogger, persistDir string) *Store {
	if log == nil {
		log = logrus.New()
	}
	return &Store{
		log:        log.WithField("component", "state"),
		mudlist:    map[string]*MudInfo{},
		channels:   map[string]*ChannelInfo{},
		sessions:   map[string]*UserSession{},
		cache:      NewTTLCache(5 * time.Minute),
		persistDir: persistDir,
	}
}

// Start loads any existing snapshot and begins the background sweeper. The
// sweeper stops when ctx is done.
func (s *Store) Start(ctx context.Context) {
	if s.persistDir != "" {
		if err := s.LoadSnapshot(); err != nil {
			s.log.WithError(err).Warn("failed to load snapshot, starting empty")
		}
	}
	go s.runSweeper(ctx)
}

func (s *Store) runSweeper(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepOnce()
		}
	}
}

func (s *Store) sweepOnce() {
	defer func() {
		if r := recover(); r != nil {
			s.log.WithField("panic", r).Error("sweeper iteration panicked, continuing on schedule")
		}
	}()

	s.cache.Cleanup()

	cutoff := time.Now().Add(-sessionIdleExpiry)
	s.sessionMu.Lock()
	for id, sess := range s.sessions {
		if sess.LastActivity.Before(cutoff) {
			delete(s.sessions, id)
		}
	}
	s.sessionMu.Unlock()
}

// ---- mudlist ----

// UpdateMudlist applies a router mudlist delta: entries present are
// created or updated in place, entries previously known but absent from
// delta transition to MudDown, and mudlistID is stamped unconditionally.
func (s *Store) UpdateMudlist(delta map[string]*MudInfo, mudlistID int) {
	s.mudlistMu.Lock()
	defer s.mudlistMu.Unlock()

	s.mudlistID = mudlistID
	for name, incoming := range delta {
		if existing, ok := s.mudlist[name]; ok {
			existing.Address = incoming.Address
			existing.PlayerPort = incoming.PlayerPort
			existing.TCPPort = incoming.TCPPort
			existing.UDPPort = incoming.UDPPort
			existing.Mudlib = incoming.Mudlib
			existing.BaseMudlib = incoming.BaseMudlib
			existing.Driver = incoming.Driver
			existing.MudType = incoming.MudType
			existing.OpenStatus = incoming.OpenStatus
			existing.AdminEmail = incoming.AdminEmail
			existing.Services = incoming.Services
			existing.OtherData = incoming.OtherData
			existing.Status = incoming.Status
			existing.LastSeen = incoming.LastSeen
		} else {
			s.mudlist[name] = incoming
		}
	}
	for name, mud := range s.mudlist {
		if _, ok := delta[name]; !ok {
			mud.Status = MudDown
		}
	}
}

// GetMudInfo returns the named MUD, consulting a 60s positive cache first.
func (s *Store) GetMudInfo(name string) (*MudInfo, bool) {
	cacheKey := "mud:" + name
	if cached, ok := s.cache.Get(cacheKey); ok {
		return cached.(*MudInfo), true
	}

	s.mudlistMu.RLock()
	mud, ok := s.mudlist[name]
	s.mudlistMu.RUnlock()
	if !ok {
		return nil, false
	}
	s.cache.Set(cacheKey, mud, mudInfoCacheTTL)
	return mud, true
}

// MudlistID returns the most recently stamped mudlist version.
func (s *Store) MudlistID() int {
	s.mudlistMu.RLock()
	defer s.mudlistMu.RUnlock()
	return s.mudlistID
}

// OnlineMuds returns a snapshot of every MUD currently marked up.
func (s *Store) OnlineMuds() []*MudInfo {
	s.mudlistMu.RLock()
	defer s.mudlistMu.RUnlock()
	out := make([]*MudInfo, 0, len(s.mudlist))
	for _, m := range s.mudlist {
		if m.IsOnline() {
			out = append(out, m)
		}
	}
	return out
}

// ---- channels ----

// AddChannel creates or replaces the named channel.
func (s *Store) AddChannel(c *ChannelInfo) {
	s.channelMu.Lock()
	defer s.channelMu.Unlock()
	s.channels[c.Name] = c
}

// GetOrCreateChannel returns the named channel, creating it idempotently if
// absent.
func (s *Store) GetOrCreateChannel(name string) *ChannelInfo {
	s.channelMu.Lock()
	defer s.channelMu.Unlock()
	c, ok := s.channels[name]
	if !ok {
		c = NewChannelInfo(name)
		s.channels[name] = c
	}
	return c
}

// GetChannel returns the named channel, if known.
func (s *Store) GetChannel(name string) (*ChannelInfo, bool) {
	s.channelMu.RLock()
	defer s.channelMu.RUnlock()
	c, ok := s.channels[name]
	return c, ok
}

// Channels returns a snapshot of every known channel.
func (s *Store) Channels() []*ChannelInfo {
	s.channelMu.RLock()
	defer s.channelMu.RUnlock()
	out := make([]*ChannelInfo, 0, len(s.channels))
	for _, c := range s.channels {
		out = append(out, c)
	}
	return out
}

// ---- sessions ----

// CreateSession allocates a new session for (mudName, userName) with a
// fresh random session ID.
func (s *Store) CreateSession(mudName, userName string) *UserSession {
	sess := NewUserSession(uuid.NewString(), mudName, userName)
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()
	s.sessions[sess.SessionID] = sess
	return sess
}

// GetSession returns the session by ID, touching its LastActivity.
func (s *Store) GetSession(sessionID string) (*UserSession, bool) {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()
	sess, ok := s.sessions[sessionID]
	if ok {
		sess.UpdateActivity()
	}
	return sess, ok
}

// FindSessionByUser returns the first local session matching (mudName,
// userName), case-insensitively on the user name, as §4.7.5 (locate)
// requires.
func (s *Store) FindSessionByUser(mudName, userName string) (*UserSession, bool) {
	s.sessionMu.RLock()
	defer s.sessionMu.RUnlock()
	for _, sess := range s.sessions {
		if (mudName == "" || sess.MudName == mudName) && strings.EqualFold(sess.UserName, userName) {
			return sess, true
		}
	}
	return nil, false
}

// Sessions returns a snapshot of every active session.
func (s *Store) Sessions() []*UserSession {
	s.sessionMu.RLock()
	defer s.sessionMu.RUnlock()
	out := make([]*UserSession, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	return out
}

// RemoveSession deletes the session by ID.
func (s *Store) RemoveSession(sessionID string) {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()
	delete(s.sessions, sessionID)
}

// Cache exposes the TTL cache for handlers that need their own keyspace
// (who/locate result caches) on top of the mud-info cache this store keeps
// internally.
func (s *Store) Cache() *TTLCache { return s.cache }
