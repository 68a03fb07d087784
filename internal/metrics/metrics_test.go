package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"i3gateway/internal/packet"
)

func TestHandlerExposesIncrementedCounters(t *testing.T) {
	r := New()
	r.IncPacketsDropped()
	r.IncPacketsBroadcast()
	r.IncPacketsBroadcast()
	r.IncPacketsRoutedLocal()
	r.IncPacketsRoutedRemote()
	r.IncPacketsSent()
	r.IncPacketsReceived()
	r.IncPacketsHandled(packet.TypeTell)
	r.IncPacketsInvalid(packet.TypeTell)
	r.IncUnknownType(packet.TypeChannelM)
	r.IncHandlerErrors(packet.TypeWhoReq)
	r.IncQueueOverflow()

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, req)

	body := rec.Body.String()
	for _, want := range []string{
		"i3gateway_packets_dropped_total 1",
		"i3gateway_packets_broadcast_total 2",
		"i3gateway_packets_routed_local_total 1",
		"i3gateway_packets_routed_remote_total 1",
		"i3gateway_packets_sent_total 1",
		"i3gateway_packets_received_total 1",
		`i3gateway_handler_packets_total{service="tell"} 1`,
		`i3gateway_handler_invalid_total{service="tell"} 1`,
		`i3gateway_handler_unknown_type_total{service="channel-m"} 1`,
		`i3gateway_handler_errors_total{service="who-req"} 1`,
		"i3gateway_dispatch_queue_overflow_total 1",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected metrics output to contain %q, got:\n%s", want, body)
		}
	}
}

func TestSetConnectionStateZeroesOthers(t *testing.T) {
	r := New()
	states := []string{"disconnected", "connecting", "connected", "ready"}
	r.SetConnectionState(states, "connecting")
	r.SetConnectionState(states, "ready")

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, req)
	body := rec.Body.String()

	if !strings.Contains(body, `i3gateway_router_connection_state{state="ready"} 1`) {
		t.Errorf("expected ready state set to 1, got:\n%s", body)
	}
	if !strings.Contains(body, `i3gateway_router_connection_state{state="connecting"} 0`) {
		t.Errorf("expected connecting state reset to 0, got:\n%s", body)
	}
}

func TestSetCircuitBreakerStateZeroesOthers(t *testing.T) {
	r := New()
	states := []string{"closed", "open", "half_open"}
	r.SetCircuitBreakerState("router-primary", states, "open")

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, req)
	body := rec.Body.String()

	if !strings.Contains(body, `i3gateway_circuit_breaker_state{breaker="router-primary",state="open"} 1`) {
		t.Errorf("expected open state set to 1, got:\n%s", body)
	}
	if !strings.Contains(body, `i3gateway_circuit_breaker_state{breaker="router-primary",state="closed"} 0`) {
		t.Errorf("expected closed state reset to 0, got:\n%s", body)
	}
}
