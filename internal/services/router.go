package services

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"i3gateway/internal/lpc"
	"i3gateway/internal/packet"
	"i3gateway/internal/state"
)

// RouterNotifier is the subset of upstream.ConnectionManager the router
// bookkeeping handler needs: completing the AUTHENTICATING -> READY
// transition once the router's startup-reply arrives.
type RouterNotifier interface {
	MarkReady()
}

// RouterHandler handles startup-reply, mudlist, and error packets from the
// upstream router, forwarding each to the state store or to whichever
// pending request it answers.
type RouterHandler struct {
	store    *state.Store
	notifier RouterNotifier
	pending  *PendingRequests
	log      logrus.FieldLogger
}

func NewRouterHandler(store *state.Store, notifier RouterNotifier, pending *PendingRequests, log logrus.FieldLogger) *RouterHandler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &RouterHandler{store: store, notifier: notifier, pending: pending, log: log}
}

func (h *RouterHandler) Types() []packet.Type {
	return []packet.Type{packet.TypeStartupReply, packet.TypeMudlist, packet.TypeError}
}

func (h *RouterHandler) RequiresSession() bool { return false }

func (h *RouterHandler) Validate(p *packet.Packet) bool {
	switch p.Type {
	case packet.TypeStartupReply:
		_, ok := p.Payload.(packet.StartupReply)
		return ok
	case packet.TypeMudlist:
		_, ok := p.Payload.(packet.Mudlist)
		return ok
	case packet.TypeError:
		_, ok := p.Payload.(packet.Error)
		return ok
	}
	return false
}

func (h *RouterHandler) Handle(ctx context.Context, p *packet.Packet) (*packet.Packet, error) {
	switch p.Type {
	case packet.TypeStartupReply:
		h.handleStartupReply(p)
	case packet.TypeMudlist:
		h.handleMudlist(p)
	case packet.TypeError:
		h.handleError(p)
	}
	return nil, nil
}

func (h *RouterHandler) handleStartupReply(p *packet.Packet) {
	if h.notifier != nil {
		h.notifier.MarkReady()
	}
	h.log.WithField("router", p.OriginatorMud).Info("router handshake acknowledged")
}

func (h *RouterHandler) handleMudlist(p *packet.Packet) {
	list := p.Payload.(packet.Mudlist)
	if list.Muds == nil {
		h.store.UpdateMudlist(nil, list.MudlistID)
		return
	}

	delta := make(map[string]*state.MudInfo, list.Muds.Len())
	list.Muds.Each(func(key, value lpc.Value) {
		name, ok := key.(string)
		if !ok {
			return
		}
		entry, ok := value.([]lpc.Value)
		if !ok {
			return
		}
		delta[name] = mudInfoFromEntry(name, entry)
	})
	h.store.UpdateMudlist(delta, list.MudlistID)
}

func (h *RouterHandler) handleError(p *packet.Packet) {
	errPayload := p.Payload.(packet.Error)
	key := errorWaitKey(p.TargetMud, p.TargetUser)
	if h.pending.Wake(key, p) {
		return
	}
	h.log.WithFields(logrus.Fields{"code": errPayload.Code, "message": errPayload.Message, "from": p.OriginatorMud}).
		Warn("received unsolicited router error")
}

func errorWaitKey(targetMud, targetUser string) string {
	return "error:" + targetMud + ":" + targetUser
}

// mudInfoFromEntry decodes one mudlist value array, laid out per the I3
// router convention: [address, player_port, tcp_port, udp_port, mudlib,
// base_mudlib, driver, mud_type, open_status, admin_email, services,
// other_data]. A "0" address conventionally marks the MUD down.
func mudInfoFromEntry(name string, entry []lpc.Value) *state.MudInfo {
	info := &state.MudInfo{Name: name, LastSeen: time.Now()}

	address := stringAt(entry, 0)
	info.Address = address
	info.PlayerPort = intAt(entry, 1)
	info.TCPPort = intAt(entry, 2)
	info.UDPPort = intAt(entry, 3)
	info.Mudlib = stringAt(entry, 4)
	info.BaseMudlib = stringAt(entry, 5)
	info.Driver = stringAt(entry, 6)
	info.MudType = stringAt(entry, 7)
	info.OpenStatus = stringAt(entry, 8)
	info.AdminEmail = stringAt(entry, 9)

	if services, ok := mapAt(entry, 10); ok {
		info.Services = make(map[string]int, services.Len())
		services.Each(func(k, v lpc.Value) {
			name, ok := k.(string)
			if !ok {
				return
			}
			info.Services[name] = intOrZero(v)
		})
	}
	if other, ok := mapAt(entry, 11); ok {
		info.OtherData = other
	}

	if address == "0" {
		info.Status = state.MudDown
	} else {
		info.Status = state.MudUp
	}
	return info
}

func stringAt(entry []lpc.Value, i int) string {
	if i >= len(entry) {
		return ""
	}
	s, _ := entry[i].(string)
	return s
}

func intAt(entry []lpc.Value, i int) int {
	if i >= len(entry) {
		return 0
	}
	return intOrZero(entry[i])
}

func intOrZero(v lpc.Value) int {
	switch n := v.(type) {
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}

func mapAt(entry []lpc.Value, i int) (*lpc.Map, bool) {
	if i >= len(entry) {
		return nil, false
	}
	m, ok := entry[i].(*lpc.Map)
	return m, ok
}
