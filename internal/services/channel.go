package services

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"i3gateway/internal/lpc"
	"i3gateway/internal/packet"
	"i3gateway/internal/state"
)

// ChannelHandler handles channel messages, membership control, the
// router's channel directory push, and per-mud listen toggling.
type ChannelHandler struct {
	selfMud string
	store   *state.Store
	sender  Sender
	log     logrus.FieldLogger
}

func NewChannelHandler(selfMud string, store *state.Store, sender Sender, log logrus.FieldLogger) *ChannelHandler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &ChannelHandler{selfMud: selfMud, store: store, sender: sender, log: log}
}

func (h *ChannelHandler) Types() []packet.Type {
	return []packet.Type{
		packet.TypeChannelM, packet.TypeChannelE, packet.TypeChannelT,
		packet.TypeChannelAdd, packet.TypeChannelRemove, packet.TypeChannelAdmin,
		packet.TypeChanlistReply, packet.TypeChannelListen,
	}
}

func (h *ChannelHandler) RequiresSession() bool { return false }

func (h *ChannelHandler) Validate(p *packet.Packet) bool {
	switch p.Type {
	case packet.TypeChannelM, packet.TypeChannelE, packet.TypeChannelT:
		msg, ok := p.Payload.(packet.ChannelMsg)
		return ok && msg.Channel != ""
	case packet.TypeChannelAdd, packet.TypeChannelRemove, packet.TypeChannelAdmin:
		ctl, ok := p.Payload.(packet.ChannelControl)
		return ok && ctl.Channel != ""
	case packet.TypeChanlistReply:
		_, ok := p.Payload.(packet.ChanlistReply)
		return ok
	case packet.TypeChannelListen:
		cl, ok := p.Payload.(packet.ChannelListen)
		return ok && cl.Channel != ""
	}
	return false
}

func (h *ChannelHandler) Handle(ctx context.Context, p *packet.Packet) (*packet.Packet, error) {
	switch p.Type {
	case packet.TypeChannelM, packet.TypeChannelE, packet.TypeChannelT:
		return h.handleMessage(p)
	case packet.TypeChannelAdd, packet.TypeChannelRemove, packet.TypeChannelAdmin:
		return h.handleControl(p)
	case packet.TypeChanlistReply:
		return h.handleChanlistReply(p)
	case packet.TypeChannelListen:
		return h.handleListen(p)
	}
	return nil, nil
}

func (h *ChannelHandler) handleMessage(p *packet.Packet) (*packet.Packet, error) {
	msg := p.Payload.(packet.ChannelMsg)

	ch, known := h.store.GetChannel(msg.Channel)
	if !known {
		return packet.NewErrorReply(p, packet.ErrCodeUnknownChan, "unknown channel: "+msg.Channel), nil
	}
	if !ch.CanAccess(p.OriginatorMud) {
		return packet.NewErrorReply(p, packet.ErrCodeNotAllowed, p.OriginatorMud+" may not post to "+msg.Channel), nil
	}

	ch.MessageCount++
	ch.LastActivity = time.Now()

	for mud := range ch.ListeningMuds {
		if mud == p.OriginatorMud || mud == h.selfMud {
			continue
		}
		fwd := &packet.Packet{
			Header: packet.Header{
				Type:           p.Type,
				TTL:            200,
				OriginatorMud:  p.OriginatorMud,
				OriginatorUser: p.OriginatorUser,
				TargetMud:      mud,
			},
			Payload: msg,
		}
		if err := h.sender.SendPacket(fwd); err != nil {
			h.log.WithError(err).WithField("mud", mud).Warn("failed to fan out channel message")
		}
	}
	return nil, nil
}

func (h *ChannelHandler) handleControl(p *packet.Packet) (*packet.Packet, error) {
	ctl := p.Payload.(packet.ChannelControl)
	ch := h.store.GetOrCreateChannel(ctl.Channel)

	switch p.Type {
	case packet.TypeChannelAdd:
		ch.AdmittedMuds[ctl.Mud] = struct{}{}
		delete(ch.BannedMuds, ctl.Mud)
	case packet.TypeChannelRemove:
		delete(ch.AdmittedMuds, ctl.Mud)
		delete(ch.ListeningMuds, ctl.Mud)
	case packet.TypeChannelAdmin:
		ch.BannedMuds[ctl.Mud] = struct{}{}
		delete(ch.AdmittedMuds, ctl.Mud)
		delete(ch.ListeningMuds, ctl.Mud)
	}
	return nil, nil
}

func (h *ChannelHandler) handleChanlistReply(p *packet.Packet) (*packet.Packet, error) {
	reply := p.Payload.(packet.ChanlistReply)
	if reply.Channels == nil {
		return nil, nil
	}
	reply.Channels.Each(func(key, value lpc.Value) {
		name, ok := key.(string)
		if !ok {
			return
		}
		ch := h.store.GetOrCreateChannel(name)
		info, ok := value.([]lpc.Value)
		if !ok || len(info) == 0 {
			return
		}
		if owner, ok := info[0].(string); ok {
			ch.Owner = owner
		}
	})
	return nil, nil
}

func (h *ChannelHandler) handleListen(p *packet.Packet) (*packet.Packet, error) {
	cl := p.Payload.(packet.ChannelListen)
	ch := h.store.GetOrCreateChannel(cl.Channel)
	if cl.Listen {
		ch.ListeningMuds[p.OriginatorMud] = struct{}{}
	} else {
		delete(ch.ListeningMuds, p.OriginatorMud)
	}
	return nil, nil
}
