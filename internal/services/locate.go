package services

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"i3gateway/internal/packet"
	"i3gateway/internal/state"
)

const (
	locateCacheTTL       = 30 * time.Second
	defaultLocateTimeout = 5 * time.Second
)

// LocateHandler answers inbound locate-req packets (broadcast and direct
// semantics differ), caches and wakes waiters on locate-reply, and drives
// outbound locate_user calls.
type LocateHandler struct {
	selfMud string
	store   *state.Store
	cache   *state.TTLCache
	sender  Sender
	pending *PendingRequests
	log     logrus.FieldLogger
}

func NewLocateHandler(selfMud string, store *state.Store, sender Sender, pending *PendingRequests, log logrus.FieldLogger) *LocateHandler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &LocateHandler{selfMud: selfMud, store: store, cache: store.Cache(), sender: sender, pending: pending, log: log}
}

func (h *LocateHandler) Types() []packet.Type {
	return []packet.Type{packet.TypeLocateReq, packet.TypeLocateReply}
}

func (h *LocateHandler) RequiresSession() bool { return false }

func (h *LocateHandler) Validate(p *packet.Packet) bool {
	switch p.Type {
	case packet.TypeLocateReq:
		req, ok := p.Payload.(packet.LocateReq)
		return ok && req.UserToLocate != ""
	case packet.TypeLocateReply:
		_, ok := p.Payload.(packet.LocateReply)
		return ok
	}
	return false
}

func (h *LocateHandler) Handle(ctx context.Context, p *packet.Packet) (*packet.Packet, error) {
	switch p.Type {
	case packet.TypeLocateReq:
		return h.handleReq(p)
	case packet.TypeLocateReply:
		h.handleReply(p)
		return nil, nil
	}
	return nil, nil
}

func (h *LocateHandler) handleReq(p *packet.Packet) (*packet.Packet, error) {
	req := p.Payload.(packet.LocateReq)
	broadcast := p.IsBroadcast()

	sess, found := h.store.FindSessionByUser(h.selfMud, req.UserToLocate)
	if !found {
		if broadcast {
			return nil, nil
		}
		return replyPacket(p, packet.TypeLocateReply, packet.LocateReply{}), nil
	}

	reply := packet.LocateReply{
		LocatedMud:  h.selfMud,
		LocatedUser: sess.UserName,
		IdleTime:    int(time.Since(sess.LastActivity).Seconds()),
		Status:      "online",
	}
	return replyPacket(p, packet.TypeLocateReply, reply), nil
}

func (h *LocateHandler) handleReply(p *packet.Packet) {
	reply := p.Payload.(packet.LocateReply)
	if reply.LocatedUser == "" {
		return
	}

	h.cache.Set(locateCacheKey(reply.LocatedUser), reply, locateCacheTTL)

	if h.pending.Wake(locateWaitKey(p.TargetUser, reply.LocatedUser), p) {
		return
	}
	h.log.WithField("user", reply.LocatedUser).Debug("received unsolicited locate-reply")
}

// LocateUser sends a broadcast locate-req for user on behalf of
// requestingUser and waits up to timeout (defaultLocateTimeout when <= 0)
// for the first matching reply, consulting the 30s result cache first.
func (h *LocateHandler) LocateUser(ctx context.Context, requestingUser, user string, timeout time.Duration) (*packet.LocateReply, error) {
	if cached, ok := h.cache.Get(locateCacheKey(user)); ok {
		reply := cached.(packet.LocateReply)
		return &reply, nil
	}
	if timeout <= 0 {
		timeout = defaultLocateTimeout
	}

	key := locateWaitKey(requestingUser, user)
	ch := h.pending.Register(key)
	defer h.pending.Cancel(key)

	req := &packet.Packet{
		Header: packet.Header{
			Type:           packet.TypeLocateReq,
			TTL:            200,
			OriginatorMud:  h.selfMud,
			OriginatorUser: requestingUser,
			TargetMud:      "0",
		},
		Payload: packet.LocateReq{UserToLocate: user},
	}
	if err := h.sender.SendPacket(req); err != nil {
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case reply := <-ch:
		located := reply.Payload.(packet.LocateReply)
		return &located, nil
	case <-timer.C:
		return nil, ErrRequestTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func locateCacheKey(user string) string { return "locate:" + strings.ToLower(user) }

func locateWaitKey(requestingUser, user string) string {
	return strings.ToLower(requestingUser) + ":" + strings.ToLower(user)
}
