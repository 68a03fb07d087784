package dispatch

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"i3gateway/internal/packet"
)

// Sender forwards a reply packet back through the router (and, for
// remote-addressed replies, upstream).
type Sender interface {
	SendPacket(p *packet.Packet) error
}

// Metrics receives one increment per packet the dispatcher processes.
type Metrics interface {
	IncPacketsHandled(typ packet.Type)
	IncPacketsInvalid(typ packet.Type)
	IncUnknownType(typ packet.Type)
	IncHandlerErrors(typ packet.Type)
	IncQueueOverflow()
}

type noopMetrics struct{}

func (noopMetrics) IncPacketsHandled(packet.Type) {}
func (noopMetrics) IncPacketsInvalid(packet.Type) {}
func (noopMetrics) IncUnknownType(packet.Type)    {}
func (noopMetrics) IncHandlerErrors(packet.Type)  {}
func (noopMetrics) IncQueueOverflow()             {}

const (
	defaultQueueSize = 256
	defaultWorkers   = 4
)

// Dispatcher owns the handler registry and the ingress queue that
// decouples the router connection's receive loop from handler execution.
type Dispatcher struct {
	registry *Registry
	upstream Sender
	metrics  Metrics
	log      logrus.FieldLogger

	queue   chan *packet.Packet
	workers int
	wg      sync.WaitGroup
}

// NewDispatcher returns a Dispatcher backed by registry. queueSize and
// workers fall back to sane defaults when non-positive.
func NewDispatcher(registry *Registry, upstream Sender, metrics Metrics, log logrus.FieldLogger, queueSize, workers int) *Dispatcher {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	if workers <= 0 {
		workers = defaultWorkers
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Dispatcher{
		registry: registry,
		upstream: upstream,
		metrics:  metrics,
		log:      log,
		queue:    make(chan *packet.Packet, queueSize),
		workers:  workers,
	}
}

// Start launches the worker pool. Workers exit when ctx is done or Stop
// closes the queue.
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx)
	}
}

// Stop closes the ingress queue and waits for in-flight packets to
// finish processing.
func (d *Dispatcher) Stop() {
	close(d.queue)
	d.wg.Wait()
}

// Enqueue pushes p onto the ingress queue. It returns false, counting an
// overflow, if the queue is full rather than blocking the caller (the
// router connection's receive loop).
func (d *Dispatcher) Enqueue(p *packet.Packet) bool {
	select {
	case d.queue <- p:
		return true
	default:
		d.metrics.IncQueueOverflow()
		d.log.WithField("type", p.Type).Warn("dispatch queue full, dropping packet")
		return false
	}
}

func (d *Dispatcher) worker(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case p, ok := <-d.queue:
			if !ok {
				return
			}
			d.process(ctx, p)
		}
	}
}

func (d *Dispatcher) process(ctx context.Context, p *packet.Packet) {
	defer func() {
		if r := recover(); r != nil {
			d.metrics.IncHandlerErrors(p.Type)
			d.log.WithFields(logrus.Fields{"type": p.Type, "panic": r}).Error("handler panicked")
		}
	}()

	handler, ok := d.registry.Lookup(p.Type)
	if !ok {
		d.metrics.IncUnknownType(p.Type)
		d.reply(packet.NewErrorReply(p, packet.ErrCodeUnknownType, fmt.Sprintf("no handler for type %q", p.Type)))
		return
	}

	if !handler.Validate(p) {
		d.metrics.IncPacketsInvalid(p.Type)
		return
	}

	reply, err := handler.Handle(ctx, p)
	if err != nil {
		d.metrics.IncHandlerErrors(p.Type)
		d.log.WithError(err).WithField("type", p.Type).Warn("handler returned error")
		return
	}

	d.metrics.IncPacketsHandled(p.Type)
	if reply != nil {
		d.reply(reply)
	}
}

func (d *Dispatcher) reply(p *packet.Packet) {
	if err := d.upstream.SendPacket(p); err != nil {
		d.log.WithError(err).Warn("failed to send dispatcher reply upstream")
	}
}
