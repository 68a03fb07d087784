package state

import (
	"path/filepath"
	"testing"
	"time"

	"i3gateway/internal/testutil"
)

func TestUpdateMudlistTransitionsAbsentToDown(t *testing.T) {
	s := New(nil, "")
	s.UpdateMudlist(map[string]*MudInfo{
		"MudA": {Name: "MudA", Status: MudUp},
	}, 1)
	if s.MudlistID() != 1 {
		t.Fatalf("mudlist id = %d, want 1", s.MudlistID())
	}

	s.UpdateMudlist(map[string]*MudInfo{
		"MudB": {Name: "MudB", Status: MudUp},
	}, 2)

	a, ok := s.GetMudInfo("MudA")
	if !ok {
		t.Fatal("MudA should still be known")
	}
	if a.Status != MudDown {
		t.Errorf("MudA status = %v, want down", a.Status)
	}
	b, _ := s.GetMudInfo("MudB")
	if b.Status != MudUp {
		t.Errorf("MudB status = %v, want up", b.Status)
	}
	if s.MudlistID() != 2 {
		t.Fatalf("mudlist id = %d, want 2", s.MudlistID())
	}
}

func TestMudlistSameNameRetainsIdentity(t *testing.T) {
	s := New(nil, "")
	s.UpdateMudlist(map[string]*MudInfo{"MudA": {Name: "MudA", Address: "1.2.3.4", Status: MudUp}}, 1)
	first, _ := s.GetMudInfo("MudA")

	s.UpdateMudlist(map[string]*MudInfo{"MudA": {Name: "MudA", Address: "5.6.7.8", Status: MudUp}}, 2)
	second, _ := s.GetMudInfo("MudA")

	if first != second {
		t.Error("expected the same *MudInfo to be mutated in place")
	}
	if second.Address != "5.6.7.8" {
		t.Errorf("address = %q, want updated value", second.Address)
	}
}

func TestChannelPublicAccess(t *testing.T) {
	c := NewChannelInfo("chat")
	c.Type = ChannelPublic
	if !c.CanAccess("AnyMud") {
		t.Error("public channel should be accessible to any non-banned mud")
	}
	c.BannedMuds["BadMud"] = struct{}{}
	if c.CanAccess("BadMud") {
		t.Error("banned mud should not have access even on a public channel")
	}
}

func TestChannelSelectiveRequiresAdmission(t *testing.T) {
	c := NewChannelInfo("private-chat")
	c.Type = ChannelSelective
	if c.CanAccess("MudA") {
		t.Error("selective channel should deny non-admitted muds")
	}
	c.AdmittedMuds["MudA"] = struct{}{}
	if !c.CanAccess("MudA") {
		t.Error("selective channel should allow admitted muds")
	}
}

func TestSessionSweepExpiresAfter24Hours(t *testing.T) {
	s := New(nil, "")
	sess := s.CreateSession("M", "bob")
	sess.LastActivity = time.Now().Add(-25 * time.Hour)

	fresh := s.CreateSession("M", "alice")
	_ = fresh

	s.sweepOnce()

	if _, ok := s.GetSession(sess.SessionID); ok {
		t.Error("session idle for 25h should be swept")
	}
	if _, ok := s.GetSession(fresh.SessionID); !ok {
		t.Error("fresh session should survive the sweep")
	}
}

func TestGetSessionTouchesActivity(t *testing.T) {
	s := New(nil, "")
	sess := s.CreateSession("M", "bob")
	old := sess.LastActivity
	sess.LastActivity = old.Add(-time.Hour)

	before := time.Now()
	got, ok := s.GetSession(sess.SessionID)
	if !ok {
		t.Fatal("session not found")
	}
	if got.LastActivity.Before(before) {
		t.Error("GetSession should refresh LastActivity to at or after call time")
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	sb, err := testutil.NewSandbox()
	if err != nil {
		t.Fatal(err)
	}
	defer sb.Cleanup()

	s := New(nil, sb.Root)
	s.UpdateMudlist(map[string]*MudInfo{
		"MudA": {Name: "MudA", Address: "1.2.3.4", PlayerPort: 4000, Status: MudUp,
			Services: map[string]int{"tell": 1}},
	}, 7)
	ch := s.GetOrCreateChannel("chat")
	ch.Owner = "MudA"
	ch.BannedMuds["Spammer"] = struct{}{}

	if err := s.SaveSnapshot(); err != nil {
		t.Fatal(err)
	}

	loaded := New(nil, sb.Root)
	if err := loaded.LoadSnapshot(); err != nil {
		t.Fatal(err)
	}
	if loaded.MudlistID() != 7 {
		t.Errorf("mudlist id = %d, want 7", loaded.MudlistID())
	}
	mud, ok := loaded.GetMudInfo("MudA")
	if !ok || mud.Address != "1.2.3.4" {
		t.Fatalf("mud = %+v, ok=%v", mud, ok)
	}
	lc, ok := loaded.GetChannel("chat")
	if !ok || lc.Owner != "MudA" {
		t.Fatalf("channel = %+v, ok=%v", lc, ok)
	}
	if _, banned := lc.BannedMuds["Spammer"]; !banned {
		t.Error("banned_muds should survive the round trip")
	}
}

func TestLoadSnapshotMissingFilesDoesNotError(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nonexistent")
	s := New(nil, dir)
	if err := s.LoadSnapshot(); err != nil {
		t.Fatalf("missing snapshot files should not error: %v", err)
	}
}

func TestTTLCacheExpiry(t *testing.T) {
	c := NewTTLCache(10 * time.Millisecond)
	c.Set("k", "v", 0)
	if v, ok := c.Get("k"); !ok || v != "v" {
		t.Fatalf("expected hit, got %v %v", v, ok)
	}
	time.Sleep(20 * time.Millisecond)
	if _, ok := c.Get("k"); ok {
		t.Error("expected expired entry to miss")
	}
}
