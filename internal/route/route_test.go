package route

import (
	"errors"
	"testing"

	"i3gateway/internal/packet"
	"i3gateway/internal/state"
)

type fakeUpstream struct {
	sent []*packet.Packet
	err  error
}

func (f *fakeUpstream) SendPacket(p *packet.Packet) error {
	f.sent = append(f.sent, p)
	return f.err
}

type countingMetrics struct {
	dropped, broadcast, local, remote int
}

func (m *countingMetrics) IncPacketsDropped()      { m.dropped++ }
func (m *countingMetrics) IncPacketsBroadcast()    { m.broadcast++ }
func (m *countingMetrics) IncPacketsRoutedLocal()  { m.local++ }
func (m *countingMetrics) IncPacketsRoutedRemote() { m.remote++ }

func newTestPacket(ttl int, targetMud string) *packet.Packet {
	return &packet.Packet{
		Header: packet.Header{
			Type:           packet.TypeTell,
			TTL:            ttl,
			OriginatorMud:  "Origin",
			OriginatorUser: "bob",
			TargetMud:      targetMud,
			TargetUser:     "alice",
		},
		Payload: packet.Opaque{},
	}
}

func TestRouteDropsExpiredPacket(t *testing.T) {
	up := &fakeUpstream{}
	m := &countingMetrics{}
	r := New("Gateway", state.New(nil, ""), up, m, nil)

	p := newTestPacket(0, "Gateway")
	out, ok := r.Route(p)
	if ok || out != nil {
		t.Fatalf("expected drop, got %v %v", out, ok)
	}
	if m.dropped != 1 {
		t.Errorf("dropped = %d, want 1", m.dropped)
	}
	if len(up.sent) != 0 {
		t.Errorf("expected no upstream send for expired packet")
	}
}

func TestRouteBroadcastForwardsAndDecrementsTTL(t *testing.T) {
	up := &fakeUpstream{}
	m := &countingMetrics{}
	r := New("Gateway", state.New(nil, ""), up, m, nil)

	p := newTestPacket(5, "0")
	out, ok := r.Route(p)
	if ok || out != nil {
		t.Fatalf("broadcast should not be returned for local dispatch")
	}
	if m.broadcast != 1 {
		t.Errorf("broadcast = %d, want 1", m.broadcast)
	}
	if len(up.sent) != 1 || up.sent[0].TTL != 4 {
		t.Fatalf("expected forwarded packet with TTL 4, got %+v", up.sent)
	}
}

func TestRouteLocalReturnsPacketForDispatch(t *testing.T) {
	up := &fakeUpstream{}
	m := &countingMetrics{}
	r := New("Gateway", state.New(nil, ""), up, m, nil)

	p := newTestPacket(5, "Gateway")
	out, ok := r.Route(p)
	if !ok || out == nil {
		t.Fatal("expected local packet to be returned for dispatch")
	}
	if out.TTL != 4 {
		t.Errorf("TTL = %d, want 4", out.TTL)
	}
	if m.local != 1 {
		t.Errorf("local = %d, want 1", m.local)
	}
	if len(up.sent) != 0 {
		t.Errorf("local packet should not be forwarded upstream")
	}
}

func TestRouteRemoteUnknownDestReplies(t *testing.T) {
	up := &fakeUpstream{}
	m := &countingMetrics{}
	r := New("Gateway", state.New(nil, ""), up, m, nil)

	p := newTestPacket(5, "Nowhere")
	out, ok := r.Route(p)
	if ok || out != nil {
		t.Fatal("expected unknown destination to drop")
	}
	if len(up.sent) != 1 {
		t.Fatalf("expected one error reply sent upstream, got %d", len(up.sent))
	}
	errPkt, ok := up.sent[0].Payload.(packet.Error)
	if !ok {
		t.Fatalf("expected ErrorPayload, got %T", up.sent[0].Payload)
	}
	if errPkt.Code != packet.ErrCodeUnknownDest {
		t.Errorf("code = %s, want %s", errPkt.Code, packet.ErrCodeUnknownDest)
	}
	if m.dropped != 1 {
		t.Errorf("dropped = %d, want 1", m.dropped)
	}
}

func TestRouteRemoteDownMudReplies(t *testing.T) {
	up := &fakeUpstream{}
	m := &countingMetrics{}
	store := state.New(nil, "")
	store.UpdateMudlist(map[string]*state.MudInfo{
		"Offline": {Name: "Offline", Status: state.MudDown},
	}, 1)
	r := New("Gateway", store, up, m, nil)

	p := newTestPacket(5, "Offline")
	out, ok := r.Route(p)
	if ok || out != nil {
		t.Fatal("expected offline destination to drop")
	}
	errPkt := up.sent[0].Payload.(packet.Error)
	if errPkt.Code != packet.ErrCodeNotImpl {
		t.Errorf("code = %s, want %s", errPkt.Code, packet.ErrCodeNotImpl)
	}
}

func TestRouteRemoteOnlineForwards(t *testing.T) {
	up := &fakeUpstream{}
	m := &countingMetrics{}
	store := state.New(nil, "")
	store.UpdateMudlist(map[string]*state.MudInfo{
		"Other": {Name: "Other", Status: state.MudUp},
	}, 1)
	r := New("Gateway", store, up, m, nil)

	p := newTestPacket(5, "Other")
	out, ok := r.Route(p)
	if ok || out != nil {
		t.Fatal("remote packet should not be returned for local dispatch")
	}
	if len(up.sent) != 1 || up.sent[0].TTL != 4 {
		t.Fatalf("expected forwarded packet with TTL 4, got %+v", up.sent)
	}
	if m.remote != 1 {
		t.Errorf("remote = %d, want 1", m.remote)
	}
}

func TestRouteLogsUpstreamSendFailureWithoutPanicking(t *testing.T) {
	up := &fakeUpstream{err: errors.New("write failed")}
	m := &countingMetrics{}
	r := New("Gateway", state.New(nil, ""), up, m, nil)

	p := newTestPacket(5, "0")
	r.Route(p)
}
