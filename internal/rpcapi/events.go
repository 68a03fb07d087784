package rpcapi

import (
	"sync"

	"i3gateway/internal/packet"
)

// Upward event names the downstream surface subscribes to.
const (
	EventConnected       = "connected"
	EventDisconnected    = "disconnected"
	EventTellReceived    = "tell_received"
	EventEmoteToReceived = "emoteto_received"
	EventChannelMessage  = "channel_message"
	EventChannelEmote    = "channel_emote"
	EventChannelJoin     = "channel_join"
	EventChannelLeave    = "channel_leave"
	EventWhoRequest      = "who_request"
	EventFingerRequest   = "finger_request"
	EventLocateRequest   = "locate_request"
)

// EventBus fans out upward Notifications to every subscribed downstream
// connection over a persistent per-subscriber buffered channel; a full
// subscriber channel drops the notification rather than blocking the
// publisher.
type EventBus struct {
	mu   sync.Mutex
	subs map[int]chan Notification
	next int
}

// NewEventBus returns an empty EventBus.
func NewEventBus() *EventBus {
	return &EventBus{subs: map[int]chan Notification{}}
}

// Subscribe registers a new listener and returns its channel and an ID to
// pass to Unsubscribe. The channel is buffered so a slow subscriber cannot
// block Publish; if it fills, the event is dropped for that subscriber.
func (b *EventBus) Subscribe() (int, <-chan Notification) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	ch := make(chan Notification, 32)
	b.subs[id] = ch
	return id, ch
}

// Unsubscribe removes and closes the subscriber's channel.
func (b *EventBus) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		close(ch)
		delete(b.subs, id)
	}
}

// Publish sends method/params to every current subscriber, dropping the
// event for any subscriber whose buffer is full rather than blocking.
func (b *EventBus) Publish(method string, params any) {
	n := Notification{JSONRPC: "2.0", Method: method, Params: params}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- n:
		default:
		}
	}
}

// PacketEvent maps an inbound I3 packet to the upward event it should raise,
// for cmd/i3gateway's upstream OnMessage glue to call before or alongside
// local handler dispatch. Packet types with no downstream-facing meaning
// (e.g. mudlist, startup-reply) report ok=false.
func PacketEvent(p *packet.Packet) (method string, payload any, ok bool) {
	switch v := p.Payload.(type) {
	case packet.Tell:
		if p.Header.Type == packet.TypeEmoteTo {
			return EventEmoteToReceived, tellEventPayload(p, v), true
		}
		return EventTellReceived, tellEventPayload(p, v), true
	case packet.ChannelMsg:
		event := EventChannelMessage
		if p.Header.Type == packet.TypeChannelE {
			event = EventChannelEmote
		}
		return event, map[string]any{
			"channel":        v.Channel,
			"vis_name":       v.VisName,
			"text":           v.Text,
			"originator_mud": p.Header.OriginatorMud,
		}, true
	case packet.ChannelListen:
		event := EventChannelJoin
		if !v.Listen {
			event = EventChannelLeave
		}
		return event, map[string]any{
			"channel": v.Channel,
			"mud":     p.Header.OriginatorMud,
		}, true
	case packet.WhoReq:
		return EventWhoRequest, map[string]any{"originator_mud": p.Header.OriginatorMud}, true
	case packet.FingerReq:
		return EventFingerRequest, map[string]any{
			"originator_mud":  p.Header.OriginatorMud,
			"originator_user": p.Header.OriginatorUser,
			"target_user":     v.TargetUser,
		}, true
	case packet.LocateReq:
		return EventLocateRequest, map[string]any{
			"originator_mud":  p.Header.OriginatorMud,
			"originator_user": p.Header.OriginatorUser,
			"user_to_locate":  v.UserToLocate,
		}, true
	default:
		return "", nil, false
	}
}

func tellEventPayload(p *packet.Packet, t packet.Tell) map[string]any {
	return map[string]any{
		"from_mud":  p.Header.OriginatorMud,
		"from_user": p.Header.OriginatorUser,
		"vis_name":  t.VisName,
		"message":   t.Message,
	}
}
