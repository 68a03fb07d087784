package services

import (
	"context"

	"github.com/sirupsen/logrus"

	"i3gateway/internal/packet"
	"i3gateway/internal/state"
)

// TellHandler delivers inbound tell and emoteto packets into a local user's
// rolling tell history.
type TellHandler struct {
	store  *state.Store
	sender Sender
	log    logrus.FieldLogger
}

func NewTellHandler(store *state.Store, sender Sender, log logrus.FieldLogger) *TellHandler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &TellHandler{store: store, sender: sender, log: log}
}

func (h *TellHandler) Types() []packet.Type {
	return []packet.Type{packet.TypeTell, packet.TypeEmoteTo}
}

func (h *TellHandler) RequiresSession() bool { return false }

func (h *TellHandler) Validate(p *packet.Packet) bool {
	if p.OriginatorUser == "" || p.TargetUser == "" {
		return false
	}
	tell, ok := p.Payload.(packet.Tell)
	return ok && tell.Message != ""
}

func (h *TellHandler) Handle(ctx context.Context, p *packet.Packet) (*packet.Packet, error) {
	tell := p.Payload.(packet.Tell)

	sess, ok := h.store.FindSessionByUser(p.TargetMud, p.TargetUser)
	if !ok {
		return packet.NewErrorReply(p, packet.ErrCodeUnknownUser, p.TargetUser+" is not online"), nil
	}

	sess.RecordTell(p.OriginatorMud, p.OriginatorUser, tell.Message)
	return nil, nil
}
