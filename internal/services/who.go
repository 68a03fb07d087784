package services

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"i3gateway/internal/lpc"
	"i3gateway/internal/packet"
	"i3gateway/internal/state"
)

const (
	whoCacheTTL       = 30 * time.Second
	defaultWhoTimeout = 5 * time.Second
)

// WhoHandler answers inbound who-req packets with a filtered local who
// listing, cached per originator for 30s, and correlates inbound who-reply
// packets against outstanding requests.
type WhoHandler struct {
	selfMud string
	store   *state.Store
	cache   *state.TTLCache
	sender  Sender
	pending *PendingRequests
	log     logrus.FieldLogger
}

func NewWhoHandler(selfMud string, store *state.Store, sender Sender, pending *PendingRequests, log logrus.FieldLogger) *WhoHandler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &WhoHandler{selfMud: selfMud, store: store, cache: store.Cache(), sender: sender, pending: pending, log: log}
}

func (h *WhoHandler) Types() []packet.Type {
	return []packet.Type{packet.TypeWhoReq, packet.TypeWhoReply}
}

func (h *WhoHandler) RequiresSession() bool { return false }

func (h *WhoHandler) Validate(p *packet.Packet) bool {
	switch p.Type {
	case packet.TypeWhoReq:
		_, ok := p.Payload.(packet.WhoReq)
		return ok
	case packet.TypeWhoReply:
		_, ok := p.Payload.(packet.WhoReply)
		return ok
	}
	return false
}

func (h *WhoHandler) Handle(ctx context.Context, p *packet.Packet) (*packet.Packet, error) {
	switch p.Type {
	case packet.TypeWhoReq:
		return h.handleReq(p)
	case packet.TypeWhoReply:
		h.handleReply(p)
		return nil, nil
	}
	return nil, nil
}

func (h *WhoHandler) handleReq(p *packet.Packet) (*packet.Packet, error) {
	cacheKey := "who:" + p.OriginatorMud
	if cached, ok := h.cache.Get(cacheKey); ok {
		return replyPacket(p, packet.TypeWhoReply, cached.(packet.WhoReply)), nil
	}

	req := p.Payload.(packet.WhoReq)
	reply := packet.WhoReply{Entries: h.filteredSessions(req.Filter)}
	h.cache.Set(cacheKey, reply, whoCacheTTL)
	return replyPacket(p, packet.TypeWhoReply, reply), nil
}

func (h *WhoHandler) handleReply(p *packet.Packet) {
	reply := p.Payload.(packet.WhoReply)
	if h.pending.Wake(whoWaitKey(p.OriginatorMud), p) {
		return
	}
	h.log.WithField("from", p.OriginatorMud).WithField("count", len(reply.Entries)).Debug("received unsolicited who-reply")
}

func whoWaitKey(remoteMud string) string { return "who:" + remoteMud }

// WhoRemote sends a who-req to remoteMud and waits up to timeout (default
// 5s) for its who-reply: register a pending-request slot, emit the packet,
// and block until the slot wakes or the timeout fires.
func (h *WhoHandler) WhoRemote(ctx context.Context, remoteMud string, filter *lpc.Map, timeout time.Duration) (*packet.WhoReply, error) {
	if timeout <= 0 {
		timeout = defaultWhoTimeout
	}

	key := whoWaitKey(remoteMud)
	ch := h.pending.Register(key)
	defer h.pending.Cancel(key)

	req := &packet.Packet{
		Header: packet.Header{
			Type:          packet.TypeWhoReq,
			TTL:           200,
			OriginatorMud: h.selfMud,
			TargetMud:     remoteMud,
		},
		Payload: packet.WhoReq{Filter: filter},
	}
	if err := h.sender.SendPacket(req); err != nil {
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case reply := <-ch:
		who := reply.Payload.(packet.WhoReply)
		return &who, nil
	case <-timer.C:
		return nil, ErrRequestTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *WhoHandler) filteredSessions(filter *lpc.Map) []packet.WhoEntry {
	levelMin, hasMin := filterInt(filter, "level_min")
	levelMax, hasMax := filterInt(filter, "level_max")
	race, hasRace := filterString(filter, "race")
	guild, hasGuild := filterString(filter, "guild")

	var entries []packet.WhoEntry
	for _, sess := range h.store.Sessions() {
		if sess.MudName != h.selfMud {
			continue
		}
		if hasMin && sess.Level < levelMin {
			continue
		}
		if hasMax && sess.Level > levelMax {
			continue
		}
		if hasRace && !strings.EqualFold(sess.Race, race) {
			continue
		}
		if hasGuild && !strings.EqualFold(sess.Guild, guild) {
			continue
		}
		entries = append(entries, packet.WhoEntry{
			Name:  sess.UserName,
			Idle:  int(time.Since(sess.LastActivity).Seconds()),
			Level: sess.Level,
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		return strings.ToLower(entries[i].Name) < strings.ToLower(entries[j].Name)
	})
	return entries
}

func filterInt(m *lpc.Map, key string) (int, bool) {
	if m == nil {
		return 0, false
	}
	v, ok := m.Get(key)
	if !ok {
		return 0, false
	}
	return intOrZero(v), true
}

func filterString(m *lpc.Map, key string) (string, bool) {
	if m == nil {
		return "", false
	}
	return m.GetString(key)
}
