// Package metrics provides the gateway's prometheus registry: named
// counters and gauges covering packet routing, per-service handling, the
// upstream connection state, and circuit breaker state, served over
// promhttp from a private prometheus.Registry rather than the global
// default registry.
package metrics

import (
	"context"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"i3gateway/internal/packet"
)

// Registry bundles every metric the gateway exposes behind a private
// prometheus.Registry.
type Registry struct {
	registry *prometheus.Registry

	packetsSent           prometheus.Counter
	packetsReceived       prometheus.Counter
	packetsDropped        prometheus.Counter
	packetsBroadcast      prometheus.Counter
	packetsRoutedLocal    prometheus.Counter
	packetsRoutedRemote   prometheus.Counter
	handlerPackets        *prometheus.CounterVec
	handlerInvalid        *prometheus.CounterVec
	handlerUnknown        *prometheus.CounterVec
	handlerErrors         *prometheus.CounterVec
	dispatchQueueOverflow prometheus.Counter
	connectionState       *prometheus.GaugeVec
	circuitBreakerState   *prometheus.GaugeVec
}

// New constructs a Registry with every metric registered.
func New() *Registry {
	r := &Registry{registry: prometheus.NewRegistry()}

	r.packetsSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "i3gateway_packets_sent_total",
		Help: "Total number of I3 packets sent upstream.",
	})
	r.packetsReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "i3gateway_packets_received_total",
		Help: "Total number of I3 packets received from upstream.",
	})
	r.packetsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "i3gateway_packets_dropped_total",
		Help: "Total number of packets dropped by the router (expired TTL, unreachable mud).",
	})
	r.packetsBroadcast = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "i3gateway_packets_broadcast_total",
		Help: "Total number of broadcast packets forwarded upstream.",
	})
	r.packetsRoutedLocal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "i3gateway_packets_routed_local_total",
		Help: "Total number of packets routed to the local dispatcher.",
	})
	r.packetsRoutedRemote = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "i3gateway_packets_routed_remote_total",
		Help: "Total number of packets forwarded to a remote mud.",
	})
	r.handlerPackets = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "i3gateway_handler_packets_total",
		Help: "Total number of packets successfully handled, by packet type.",
	}, []string{"service"})
	r.handlerInvalid = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "i3gateway_handler_invalid_total",
		Help: "Total number of packets rejected by a handler's Validate, by packet type.",
	}, []string{"service"})
	r.handlerUnknown = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "i3gateway_handler_unknown_type_total",
		Help: "Total number of packets received for a type with no registered handler.",
	}, []string{"service"})
	r.handlerErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "i3gateway_handler_errors_total",
		Help: "Total number of handler invocations that returned an error, by packet type.",
	}, []string{"service"})
	r.dispatchQueueOverflow = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "i3gateway_dispatch_queue_overflow_total",
		Help: "Total number of packets dropped because the dispatch queue was full.",
	})
	r.connectionState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "i3gateway_router_connection_state",
		Help: "1 for the upstream connection's current state, 0 for all others.",
	}, []string{"state"})
	r.circuitBreakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "i3gateway_circuit_breaker_state",
		Help: "1 for a circuit breaker's current state, 0 for all others.",
	}, []string{"breaker", "state"})

	r.registry.MustRegister(
		r.packetsSent,
		r.packetsReceived,
		r.packetsDropped,
		r.packetsBroadcast,
		r.packetsRoutedLocal,
		r.packetsRoutedRemote,
		r.handlerPackets,
		r.handlerInvalid,
		r.handlerUnknown,
		r.handlerErrors,
		r.dispatchQueueOverflow,
		r.connectionState,
		r.circuitBreakerState,
	)
	return r
}

// Handler returns the http.Handler serving this registry's metrics in the
// Prometheus exposition format, mountable on a chi router at /metrics.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Serve starts an HTTP server exposing /metrics on addr and blocks until
// ctx is canceled, then shuts the server down gracefully.
func (r *Registry) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		return srv.Shutdown(context.Background())
	case err := <-errCh:
		return err
	}
}

// IncPacketsSent implements upstream.Metrics.
func (r *Registry) IncPacketsSent() { r.packetsSent.Inc() }

// IncPacketsReceived implements upstream.Metrics.
func (r *Registry) IncPacketsReceived() { r.packetsReceived.Inc() }

// IncPacketsDropped implements route.Metrics.
func (r *Registry) IncPacketsDropped() { r.packetsDropped.Inc() }

// IncPacketsBroadcast implements route.Metrics.
func (r *Registry) IncPacketsBroadcast() { r.packetsBroadcast.Inc() }

// IncPacketsRoutedLocal implements route.Metrics.
func (r *Registry) IncPacketsRoutedLocal() { r.packetsRoutedLocal.Inc() }

// IncPacketsRoutedRemote implements route.Metrics.
func (r *Registry) IncPacketsRoutedRemote() { r.packetsRoutedRemote.Inc() }

// IncPacketsHandled implements dispatch.Metrics.
func (r *Registry) IncPacketsHandled(typ packet.Type) {
	r.handlerPackets.WithLabelValues(string(typ)).Inc()
}

// IncPacketsInvalid implements dispatch.Metrics.
func (r *Registry) IncPacketsInvalid(typ packet.Type) {
	r.handlerInvalid.WithLabelValues(string(typ)).Inc()
}

// IncUnknownType implements dispatch.Metrics.
func (r *Registry) IncUnknownType(typ packet.Type) {
	r.handlerUnknown.WithLabelValues(string(typ)).Inc()
}

// IncHandlerErrors implements dispatch.Metrics.
func (r *Registry) IncHandlerErrors(typ packet.Type) {
	r.handlerErrors.WithLabelValues(string(typ)).Inc()
}

// IncQueueOverflow implements dispatch.Metrics.
func (r *Registry) IncQueueOverflow() { r.dispatchQueueOverflow.Inc() }

// SetConnectionState records state as the upstream connection's current
// state, zeroing every other known state's gauge. Intended as an
// upstream.ConnectionManager OnStateChange callback.
func (r *Registry) SetConnectionState(states []string, current string) {
	for _, s := range states {
		if s == current {
			r.connectionState.WithLabelValues(s).Set(1)
		} else {
			r.connectionState.WithLabelValues(s).Set(0)
		}
	}
}

// SetCircuitBreakerState records state as breaker's current state, zeroing
// the other two known circuit states for that breaker.
func (r *Registry) SetCircuitBreakerState(breaker string, states []string, current string) {
	for _, s := range states {
		if s == current {
			r.circuitBreakerState.WithLabelValues(breaker, s).Set(1)
		} else {
			r.circuitBreakerState.WithLabelValues(breaker, s).Set(0)
		}
	}
}
