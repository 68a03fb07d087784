package services

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"i3gateway/internal/lpc"
	"i3gateway/internal/packet"
	"i3gateway/internal/state"
)

const defaultFingerTimeout = 5 * time.Second

// FingerHandler assembles a local user's finger info for inbound finger-req
// packets and correlates inbound finger-reply packets against outstanding
// requests.
type FingerHandler struct {
	selfMud string
	store   *state.Store
	sender  Sender
	pending *PendingRequests
	log     logrus.FieldLogger
}

func NewFingerHandler(selfMud string, store *state.Store, sender Sender, pending *PendingRequests, log logrus.FieldLogger) *FingerHandler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &FingerHandler{selfMud: selfMud, store: store, sender: sender, pending: pending, log: log}
}

func (h *FingerHandler) Types() []packet.Type {
	return []packet.Type{packet.TypeFingerReq, packet.TypeFingerReply}
}

func (h *FingerHandler) RequiresSession() bool { return false }

func (h *FingerHandler) Validate(p *packet.Packet) bool {
	switch p.Type {
	case packet.TypeFingerReq:
		req, ok := p.Payload.(packet.FingerReq)
		return ok && req.TargetUser != ""
	case packet.TypeFingerReply:
		_, ok := p.Payload.(packet.FingerReply)
		return ok
	}
	return false
}

func (h *FingerHandler) Handle(ctx context.Context, p *packet.Packet) (*packet.Packet, error) {
	switch p.Type {
	case packet.TypeFingerReq:
		return h.handleReq(p)
	case packet.TypeFingerReply:
		h.handleReply(p)
		return nil, nil
	}
	return nil, nil
}

func (h *FingerHandler) handleReq(p *packet.Packet) (*packet.Packet, error) {
	req := p.Payload.(packet.FingerReq)
	sess, ok := h.store.FindSessionByUser(h.selfMud, req.TargetUser)
	if !ok {
		// No finger-specific "not found" error code is defined; the
		// absence of a reply is itself the negative signal.
		return nil, nil
	}

	info := lpc.NewMap()
	info.Set("name", sess.UserName)
	if sess.Title != "" {
		info.Set("title", sess.Title)
	}
	if sess.RealName != "" {
		info.Set("real_name", sess.RealName)
	}
	if sess.Email != "" {
		info.Set("email", sess.Email)
	}
	if sess.Level != 0 {
		info.Set("level", int64(sess.Level))
	}
	if sess.Class != "" {
		info.Set("class", sess.Class)
	}
	if sess.Race != "" {
		info.Set("race", sess.Race)
	}
	if !sess.LastLogin.IsZero() {
		info.Set("last_login", sess.LastLogin.Unix())
	}
	info.Set("idle", int64(time.Since(sess.LastActivity).Seconds()))
	if sess.Plan != "" {
		info.Set("plan", sess.Plan)
	}

	return replyPacket(p, packet.TypeFingerReply, packet.FingerReply{Info: info}), nil
}

func (h *FingerHandler) handleReply(p *packet.Packet) {
	if h.pending.Wake(fingerWaitKey(p.TargetMud, p.TargetUser), p) {
		return
	}
	h.log.WithField("from", p.OriginatorMud).Debug("received unsolicited finger-reply")
}

func fingerWaitKey(targetMud, targetUser string) string {
	return "finger:" + targetMud + ":" + targetUser
}

// FingerRemote sends a finger-req for targetUser on targetMud on behalf of
// requestingUser and waits up to timeout (default 5s) for the finger-reply.
func (h *FingerHandler) FingerRemote(ctx context.Context, requestingUser, targetMud, targetUser string, timeout time.Duration) (*packet.FingerReply, error) {
	if timeout <= 0 {
		timeout = defaultFingerTimeout
	}

	key := fingerWaitKey(h.selfMud, requestingUser)
	ch := h.pending.Register(key)
	defer h.pending.Cancel(key)

	req := &packet.Packet{
		Header: packet.Header{
			Type:           packet.TypeFingerReq,
			TTL:            200,
			OriginatorMud:  h.selfMud,
			OriginatorUser: requestingUser,
			TargetMud:      targetMud,
		},
		Payload: packet.FingerReq{TargetUser: targetUser},
	}
	if err := h.sender.SendPacket(req); err != nil {
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case reply := <-ch:
		finger := reply.Payload.(packet.FingerReply)
		return &finger, nil
	case <-timer.C:
		return nil, ErrRequestTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
