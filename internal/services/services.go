// Package services implements the I3 service handlers: tell/emoteto,
// channel, who, finger, locate, and router bookkeeping. Each handler
// satisfies internal/dispatch.Handler and owns the per-packet-type
// semantics for its slice of the protocol.
package services

import (
	"i3gateway/internal/packet"
)

// Sender forwards a packet (a reply, or a channel fan-out message) through
// the router. internal/upstream.ConnectionManager.SendPacket satisfies
// this directly.
type Sender interface {
	SendPacket(p *packet.Packet) error
}

// replyPacket builds a reply to orig carrying payload under typ, addressed
// back at orig's originator and sent as though from orig's target. TTL is
// reset to the network's conventional default since this starts a new
// logical message rather than continuing the incoming hop count.
func replyPacket(orig *packet.Packet, typ packet.Type, payload packet.Payload) *packet.Packet {
	const defaultTTL = 200
	return &packet.Packet{
		Header: packet.Header{
			Type:           typ,
			TTL:            defaultTTL,
			OriginatorMud:  orig.TargetMud,
			OriginatorUser: orig.TargetUser,
			TargetMud:      orig.OriginatorMud,
			TargetUser:     orig.OriginatorUser,
		},
		Payload: payload,
	}
}
