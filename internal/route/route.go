// Package route implements the packet router: direction classification
// for every inbound packet (drop, broadcast, local, remote), TTL
// handling, and error-reply synthesis for undeliverable remote packets.
package route

import (
	"github.com/sirupsen/logrus"

	"i3gateway/internal/packet"
	"i3gateway/internal/state"
)

// Direction is the outcome of routing one packet.
type Direction string

const (
	DirectionDrop      Direction = "drop"
	DirectionBroadcast Direction = "broadcast"
	DirectionLocal     Direction = "local"
	DirectionRemote    Direction = "remote"
)

// Upstream is the subset of the router connection manager the packet
// router needs: the ability to forward an encoded packet upstream.
type Upstream interface {
	SendPacket(p *packet.Packet) error
}

// Metrics receives one increment per classified packet.
type Metrics interface {
	IncPacketsDropped()
	IncPacketsBroadcast()
	IncPacketsRoutedLocal()
	IncPacketsRoutedRemote()
}

// noopMetrics is used when the caller doesn't wire internal/metrics.
type noopMetrics struct{}

func (noopMetrics) IncPacketsDropped()      {}
func (noopMetrics) IncPacketsBroadcast()    {}
func (noopMetrics) IncPacketsRoutedLocal()  {}
func (noopMetrics) IncPacketsRoutedRemote() {}

// Router classifies and, for broadcast/remote packets, directly forwards
// inbound I3 packets. Local packets are returned to the caller's
// dispatcher for handler lookup.
type Router struct {
	selfMud  string
	store    *state.Store
	upstream Upstream
	metrics  Metrics
	log      logrus.FieldLogger
}

// New returns a Router addressed as selfMud, consulting store for remote
// MUD status and forwarding through upstream.
func New(selfMud string, store *state.Store, upstream Upstream, metrics Metrics, log logrus.FieldLogger) *Router {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Router{selfMud: selfMud, store: store, upstream: upstream, metrics: metrics, log: log}
}

// Route classifies p. It returns (p, true) when p should be enqueued for
// local dispatch; otherwise p has already been dropped or forwarded
// upstream and the caller has nothing further to do.
func (r *Router) Route(p *packet.Packet) (*packet.Packet, bool) {
	if p.TTL <= 0 {
		r.metrics.IncPacketsDropped()
		r.log.WithFields(logrus.Fields{"type": p.Type, "originator_mud": p.OriginatorMud}).Debug("dropping expired packet")
		return nil, false
	}

	switch {
	case p.IsBroadcast():
		return r.routeBroadcast(p)
	case p.TargetMud == r.selfMud:
		return r.routeLocal(p)
	default:
		return r.routeRemote(p)
	}
}

func (r *Router) routeBroadcast(p *packet.Packet) (*packet.Packet, bool) {
	p.TTL--
	r.metrics.IncPacketsBroadcast()
	if err := r.upstream.SendPacket(p); err != nil {
		r.log.WithError(err).Warn("failed to forward broadcast packet upstream")
	}
	return nil, false
}

func (r *Router) routeLocal(p *packet.Packet) (*packet.Packet, bool) {
	p.TTL--
	r.metrics.IncPacketsRoutedLocal()
	return p, true
}

func (r *Router) routeRemote(p *packet.Packet) (*packet.Packet, bool) {
	mud, known := r.store.GetMudInfo(p.TargetMud)
	if !known {
		r.replyError(p, packet.ErrCodeUnknownDest, "unknown destination mud: "+p.TargetMud)
		r.metrics.IncPacketsDropped()
		return nil, false
	}
	if !mud.IsOnline() {
		r.replyError(p, packet.ErrCodeNotImpl, "destination mud not up: "+p.TargetMud)
		r.metrics.IncPacketsDropped()
		return nil, false
	}

	p.TTL--
	r.metrics.IncPacketsRoutedRemote()
	if err := r.upstream.SendPacket(p); err != nil {
		r.log.WithError(err).Warn("failed to forward remote packet upstream")
	}
	return nil, false
}

func (r *Router) replyError(orig *packet.Packet, code, message string) {
	reply := packet.NewErrorReply(orig, code, message)
	if err := r.upstream.SendPacket(reply); err != nil {
		r.log.WithError(err).Warn("failed to send error reply upstream")
	}
}
