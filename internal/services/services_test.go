package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"i3gateway/internal/lpc"
	"i3gateway/internal/packet"
	"i3gateway/internal/state"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []*packet.Packet
}

func (f *fakeSender) SendPacket(p *packet.Packet) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, p)
	return nil
}

func (f *fakeSender) last() *packet.Packet {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return nil
	}
	return f.sent[len(f.sent)-1]
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func newStore() *state.Store { return state.New(nil, "") }

func tellPacket(target string, msg string) *packet.Packet {
	return &packet.Packet{
		Header: packet.Header{
			Type: packet.TypeTell, TTL: 10,
			OriginatorMud: "Other", OriginatorUser: "bob",
			TargetMud: "Gateway", TargetUser: target,
		},
		Payload: packet.Tell{VisName: "Bob", Message: msg},
	}
}

func TestTellDeliversToOnlineSession(t *testing.T) {
	store := newStore()
	sess := store.CreateSession("Gateway", "alice")
	h := NewTellHandler(store, &fakeSender{}, nil)

	p := tellPacket("alice", "hello")
	if !h.Validate(p) {
		t.Fatal("expected valid tell")
	}
	reply, err := h.Handle(context.Background(), p)
	if err != nil || reply != nil {
		t.Fatalf("expected silent delivery, got reply=%v err=%v", reply, err)
	}
	if len(sess.TellHistory) != 1 || sess.TellHistory[0].Message != "hello" {
		t.Fatalf("tell not recorded: %+v", sess.TellHistory)
	}
	if sess.RecentTellFrom != "Other:bob" {
		t.Errorf("RecentTellFrom = %q", sess.RecentTellFrom)
	}
}

func TestTellRepliesUnkUserWhenOffline(t *testing.T) {
	store := newStore()
	h := NewTellHandler(store, &fakeSender{}, nil)

	p := tellPacket("ghost", "hello")
	reply, err := h.Handle(context.Background(), p)
	if err != nil {
		t.Fatal(err)
	}
	errPayload, ok := reply.Payload.(packet.Error)
	if !ok || errPayload.Code != packet.ErrCodeUnknownUser {
		t.Fatalf("expected unk-user error, got %+v", reply)
	}
}

func TestTellValidateRejectsEmptyMessage(t *testing.T) {
	h := NewTellHandler(newStore(), &fakeSender{}, nil)
	p := tellPacket("alice", "")
	if h.Validate(p) {
		t.Error("expected validation to fail for empty message")
	}
}

func channelPacket(typ packet.Type, channel, originator string) *packet.Packet {
	return &packet.Packet{
		Header: packet.Header{Type: typ, TTL: 10, OriginatorMud: originator, OriginatorUser: "bob", TargetMud: "0"},
		Payload: packet.ChannelMsg{Channel: channel, VisName: "Bob", Text: "hi"},
	}
}

func TestChannelMessageForwardsToListeners(t *testing.T) {
	store := newStore()
	ch := store.GetOrCreateChannel("chat")
	ch.ListeningMuds["Listener"] = struct{}{}
	ch.ListeningMuds["Origin"] = struct{}{}
	sender := &fakeSender{}
	h := NewChannelHandler("Gateway", store, sender, nil)

	p := channelPacket(packet.TypeChannelM, "chat", "Origin")
	reply, err := h.Handle(context.Background(), p)
	if err != nil || reply != nil {
		t.Fatalf("unexpected reply/err: %v %v", reply, err)
	}
	if sender.count() != 1 {
		t.Fatalf("expected 1 forwarded message (excluding originator), got %d", sender.count())
	}
	if sender.last().TargetMud != "Listener" {
		t.Errorf("forwarded to %q, want Listener", sender.last().TargetMud)
	}
	if ch.MessageCount != 1 {
		t.Errorf("MessageCount = %d, want 1", ch.MessageCount)
	}
}

func TestChannelMessageUnknownChannelReplies(t *testing.T) {
	h := NewChannelHandler("Gateway", newStore(), &fakeSender{}, nil)
	p := channelPacket(packet.TypeChannelM, "nope", "Origin")
	reply, err := h.Handle(context.Background(), p)
	if err != nil {
		t.Fatal(err)
	}
	errPayload := reply.Payload.(packet.Error)
	if errPayload.Code != packet.ErrCodeUnknownChan {
		t.Errorf("code = %s, want unk-channel", errPayload.Code)
	}
}

func TestChannelMessageBannedMudReplies(t *testing.T) {
	store := newStore()
	ch := store.GetOrCreateChannel("chat")
	ch.BannedMuds["Origin"] = struct{}{}
	h := NewChannelHandler("Gateway", store, &fakeSender{}, nil)

	p := channelPacket(packet.TypeChannelM, "chat", "Origin")
	reply, _ := h.Handle(context.Background(), p)
	errPayload := reply.Payload.(packet.Error)
	if errPayload.Code != packet.ErrCodeNotAllowed {
		t.Errorf("code = %s, want not-allowed", errPayload.Code)
	}
}

func TestChannelListenTogglesMembership(t *testing.T) {
	store := newStore()
	h := NewChannelHandler("Gateway", store, &fakeSender{}, nil)

	on := &packet.Packet{Header: packet.Header{Type: packet.TypeChannelListen, OriginatorMud: "Remote"}, Payload: packet.ChannelListen{Channel: "chat", Listen: true}}
	h.Handle(context.Background(), on)
	ch, _ := store.GetChannel("chat")
	if _, listening := ch.ListeningMuds["Remote"]; !listening {
		t.Fatal("expected Remote to be listening")
	}

	off := &packet.Packet{Header: packet.Header{Type: packet.TypeChannelListen, OriginatorMud: "Remote"}, Payload: packet.ChannelListen{Channel: "chat", Listen: false}}
	h.Handle(context.Background(), off)
	if _, listening := ch.ListeningMuds["Remote"]; listening {
		t.Fatal("expected Remote to no longer be listening")
	}
}

func whoReqPacket(filter *lpc.Map) *packet.Packet {
	return &packet.Packet{
		Header:  packet.Header{Type: packet.TypeWhoReq, TTL: 10, OriginatorMud: "Other", TargetMud: "Gateway"},
		Payload: packet.WhoReq{Filter: filter},
	}
}

func TestWhoFiltersAndSortsByName(t *testing.T) {
	store := newStore()
	b := store.CreateSession("Gateway", "bob")
	b.Level = 5
	a := store.CreateSession("Gateway", "alice")
	a.Level = 10
	h := NewWhoHandler("Gateway", store, &fakeSender{}, NewPendingRequests(), nil)

	filter := lpc.NewMap()
	filter.Set("level_min", int64(6))
	p := whoReqPacket(filter)
	reply, err := h.Handle(context.Background(), p)
	if err != nil {
		t.Fatal(err)
	}
	who := reply.Payload.(packet.WhoReply)
	if len(who.Entries) != 1 || who.Entries[0].Name != "alice" {
		t.Fatalf("entries = %+v", who.Entries)
	}
}

func TestWhoCachesPerOriginator(t *testing.T) {
	store := newStore()
	store.CreateSession("Gateway", "alice")
	h := NewWhoHandler("Gateway", store, &fakeSender{}, NewPendingRequests(), nil)

	p := whoReqPacket(nil)
	first, _ := h.Handle(context.Background(), p)
	store.CreateSession("Gateway", "bob")
	second, _ := h.Handle(context.Background(), p)

	if len(first.Payload.(packet.WhoReply).Entries) != len(second.Payload.(packet.WhoReply).Entries) {
		t.Error("expected cached result to ignore newly created session")
	}
}

func TestFingerAssemblesKnownFields(t *testing.T) {
	store := newStore()
	sess := store.CreateSession("Gateway", "alice")
	sess.Title = "the Brave"
	sess.Level = 42
	h := NewFingerHandler("Gateway", store, &fakeSender{}, NewPendingRequests(), nil)

	p := &packet.Packet{Header: packet.Header{Type: packet.TypeFingerReq, TargetMud: "Gateway", OriginatorMud: "Other"}, Payload: packet.FingerReq{TargetUser: "alice"}}
	reply, err := h.Handle(context.Background(), p)
	if err != nil || reply == nil {
		t.Fatalf("expected reply, got %v %v", reply, err)
	}
	info := reply.Payload.(packet.FingerReply).Info
	if name, _ := info.GetString("name"); name != "alice" {
		t.Errorf("name = %q", name)
	}
	if title, _ := info.GetString("title"); title != "the Brave" {
		t.Errorf("title = %q", title)
	}
	if _, ok := info.Get("email"); ok {
		t.Error("expected absent email field to be omitted")
	}
}

func TestFingerUnknownUserNoReply(t *testing.T) {
	h := NewFingerHandler("Gateway", newStore(), &fakeSender{}, NewPendingRequests(), nil)
	p := &packet.Packet{Header: packet.Header{Type: packet.TypeFingerReq, TargetMud: "Gateway"}, Payload: packet.FingerReq{TargetUser: "ghost"}}
	reply, err := h.Handle(context.Background(), p)
	if err != nil || reply != nil {
		t.Fatalf("expected no reply, got %v %v", reply, err)
	}
}

func TestLocateBroadcastFoundReplies(t *testing.T) {
	store := newStore()
	store.CreateSession("Gateway", "alice")
	h := NewLocateHandler("Gateway", store, &fakeSender{}, NewPendingRequests(), nil)

	p := &packet.Packet{Header: packet.Header{Type: packet.TypeLocateReq, TargetMud: "0", OriginatorMud: "Other", OriginatorUser: "bob"}, Payload: packet.LocateReq{UserToLocate: "alice"}}
	reply, err := h.Handle(context.Background(), p)
	if err != nil || reply == nil {
		t.Fatalf("expected located reply, got %v %v", reply, err)
	}
	located := reply.Payload.(packet.LocateReply)
	if located.LocatedUser != "alice" || located.LocatedMud != "Gateway" {
		t.Errorf("located = %+v", located)
	}
}

func TestLocateBroadcastNotFoundNoReply(t *testing.T) {
	h := NewLocateHandler("Gateway", newStore(), &fakeSender{}, NewPendingRequests(), nil)
	p := &packet.Packet{Header: packet.Header{Type: packet.TypeLocateReq, TargetMud: "0"}, Payload: packet.LocateReq{UserToLocate: "ghost"}}
	reply, err := h.Handle(context.Background(), p)
	if err != nil || reply != nil {
		t.Fatalf("expected no reply for broadcast miss, got %v %v", reply, err)
	}
}

func TestLocateDirectNotFoundEmptyReply(t *testing.T) {
	h := NewLocateHandler("Gateway", newStore(), &fakeSender{}, NewPendingRequests(), nil)
	p := &packet.Packet{Header: packet.Header{Type: packet.TypeLocateReq, TargetMud: "Gateway"}, Payload: packet.LocateReq{UserToLocate: "ghost"}}
	reply, err := h.Handle(context.Background(), p)
	if err != nil || reply == nil {
		t.Fatal("expected an empty direct reply")
	}
	located := reply.Payload.(packet.LocateReply)
	if located.LocatedMud != "" || located.LocatedUser != "" {
		t.Errorf("expected empty located fields, got %+v", located)
	}
}

func TestLocateUserWakesOnReply(t *testing.T) {
	sender := &fakeSender{}
	pending := NewPendingRequests()
	h := NewLocateHandler("Gateway", newStore(), sender, pending, nil)

	done := make(chan *packet.LocateReply, 1)
	go func() {
		reply, err := h.LocateUser(context.Background(), "bob", "alice", time.Second)
		if err != nil {
			done <- nil
			return
		}
		done <- reply
	}()

	// Wait for the outbound broadcast request to be sent, then simulate the
	// router delivering a reply.
	deadline := time.Now().Add(time.Second)
	for sender.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	if sender.count() != 1 {
		t.Fatal("expected outbound locate-req to be sent")
	}

	replyPkt := &packet.Packet{
		Header:  packet.Header{Type: packet.TypeLocateReply, TargetMud: "Gateway", TargetUser: "bob"},
		Payload: packet.LocateReply{LocatedMud: "Remote", LocatedUser: "alice", Status: "online"},
	}
	h.handleReply(replyPkt)

	select {
	case reply := <-done:
		if reply == nil || reply.LocatedMud != "Remote" {
			t.Fatalf("unexpected reply: %+v", reply)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for LocateUser to return")
	}
}

func TestLocateUserUsesCacheWithoutSending(t *testing.T) {
	sender := &fakeSender{}
	pending := NewPendingRequests()
	h := NewLocateHandler("Gateway", newStore(), sender, pending, nil)
	h.cache.Set(locateCacheKey("alice"), packet.LocateReply{LocatedMud: "Cached", LocatedUser: "alice"}, time.Minute)

	reply, err := h.LocateUser(context.Background(), "bob", "alice", time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if reply.LocatedMud != "Cached" {
		t.Errorf("expected cached result, got %+v", reply)
	}
	if sender.count() != 0 {
		t.Error("expected no outbound request when cache hit")
	}
}

func TestRouterHandlerMarksReadyOnStartupReply(t *testing.T) {
	notifier := &fakeNotifier{}
	h := NewRouterHandler(newStore(), notifier, NewPendingRequests(), nil)
	p := &packet.Packet{Header: packet.Header{Type: packet.TypeStartupReply, OriginatorMud: "*i3"}, Payload: packet.StartupReply{}}
	h.Handle(context.Background(), p)
	if !notifier.marked {
		t.Fatal("expected MarkReady to be called")
	}
}

type fakeNotifier struct{ marked bool }

func (f *fakeNotifier) MarkReady() { f.marked = true }

func TestRouterHandlerUpdatesMudlist(t *testing.T) {
	store := newStore()
	h := NewRouterHandler(store, nil, NewPendingRequests(), nil)

	muds := lpc.NewMap()
	muds.Set("Other", []lpc.Value{"1.2.3.4", int64(4000), int64(0), int64(0), "", "", "", "", "", "", lpc.NewMap(), lpc.NewMap()})
	p := &packet.Packet{Header: packet.Header{Type: packet.TypeMudlist}, Payload: packet.Mudlist{MudlistID: 7, Muds: muds}}
	h.Handle(context.Background(), p)

	info, ok := store.GetMudInfo("Other")
	if !ok {
		t.Fatal("expected Other to be known after mudlist update")
	}
	if !info.IsOnline() {
		t.Error("expected Other to be up")
	}
	if store.MudlistID() != 7 {
		t.Errorf("mudlist id = %d, want 7", store.MudlistID())
	}
}

func TestRouterHandlerErrorWakesPendingRequest(t *testing.T) {
	pending := NewPendingRequests()
	h := NewRouterHandler(newStore(), nil, pending, nil)

	ch := pending.Register(errorWaitKey("Gateway", "bob"))
	p := &packet.Packet{Header: packet.Header{Type: packet.TypeError, TargetMud: "Gateway", TargetUser: "bob"}, Payload: packet.Error{Code: packet.ErrCodeUnknownDest}}
	h.Handle(context.Background(), p)

	select {
	case got := <-ch:
		if got != p {
			t.Error("expected the exact error packet to be delivered")
		}
	default:
		t.Fatal("expected pending request to be woken")
	}
}

func TestWhoRemoteWakesOnReply(t *testing.T) {
	sender := &fakeSender{}
	pending := NewPendingRequests()
	h := NewWhoHandler("Gateway", newStore(), sender, pending, nil)

	done := make(chan *packet.WhoReply, 1)
	go func() {
		reply, err := h.WhoRemote(context.Background(), "Remote", nil, time.Second)
		if err != nil {
			done <- nil
			return
		}
		done <- reply
	}()

	deadline := time.Now().Add(time.Second)
	for sender.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	if sender.count() != 1 {
		t.Fatal("expected outbound who-req to be sent")
	}
	if got := sender.last().TargetMud; got != "Remote" {
		t.Fatalf("expected who-req targeted at Remote, got %s", got)
	}

	replyPkt := &packet.Packet{
		Header:  packet.Header{Type: packet.TypeWhoReply, OriginatorMud: "Remote"},
		Payload: packet.WhoReply{Entries: []packet.WhoEntry{{Name: "carol"}}},
	}
	h.handleReply(replyPkt)

	select {
	case reply := <-done:
		if reply == nil || len(reply.Entries) != 1 || reply.Entries[0].Name != "carol" {
			t.Fatalf("unexpected reply: %+v", reply)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for WhoRemote to return")
	}
}

func TestFingerRemoteWakesOnReply(t *testing.T) {
	sender := &fakeSender{}
	pending := NewPendingRequests()
	h := NewFingerHandler("Gateway", newStore(), sender, pending, nil)

	done := make(chan *packet.FingerReply, 1)
	go func() {
		reply, err := h.FingerRemote(context.Background(), "bob", "Remote", "carol", time.Second)
		if err != nil {
			done <- nil
			return
		}
		done <- reply
	}()

	deadline := time.Now().Add(time.Second)
	for sender.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	if sender.count() != 1 {
		t.Fatal("expected outbound finger-req to be sent")
	}

	info := lpc.NewMap()
	info.Set("name", "carol")
	replyPkt := &packet.Packet{
		Header:  packet.Header{Type: packet.TypeFingerReply, TargetMud: "Gateway", TargetUser: "bob"},
		Payload: packet.FingerReply{Info: info},
	}
	h.handleReply(replyPkt)

	select {
	case reply := <-done:
		if reply == nil || reply.Info == nil {
			t.Fatalf("unexpected reply: %+v", reply)
		}
		if name, _ := reply.Info.GetString("name"); name != "carol" {
			t.Fatalf("expected name carol, got %s", name)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for FingerRemote to return")
	}
}

func TestWhoRemoteTimesOutWithoutReply(t *testing.T) {
	sender := &fakeSender{}
	pending := NewPendingRequests()
	h := NewWhoHandler("Gateway", newStore(), sender, pending, nil)

	_, err := h.WhoRemote(context.Background(), "Remote", nil, 10*time.Millisecond)
	if err != ErrRequestTimeout {
		t.Fatalf("expected ErrRequestTimeout, got %v", err)
	}
}
