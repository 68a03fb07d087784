package mudmode

import (
	"testing"

	"i3gateway/internal/lpc"
)

func TestFramerWholeMessage(t *testing.T) {
	f := NewFramer(nil)
	encoded, err := Encode([]lpc.Value{"tell", int64(5)})
	if err != nil {
		t.Fatal(err)
	}
	msgs := f.Feed(encoded)
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	arr := msgs[0].([]lpc.Value)
	if arr[0].(string) != "tell" {
		t.Errorf("arr[0] = %v, want tell", arr[0])
	}
}

func TestFramerSplitAcrossReads(t *testing.T) {
	f := NewFramer(nil)
	encoded, err := Encode([]lpc.Value{"tell", int64(5)})
	if err != nil {
		t.Fatal(err)
	}

	// Feed it one byte at a time to exercise partial-frame buffering.
	var all []lpc.Value
	for i := 0; i < len(encoded); i++ {
		all = append(all, f.Feed(encoded[i:i+1])...)
	}
	if len(all) != 1 {
		t.Fatalf("got %d messages, want 1", len(all))
	}
}

func TestFramerMultipleMessagesInOneChunk(t *testing.T) {
	f := NewFramer(nil)
	m1, _ := Encode("one")
	m2, _ := Encode("two")
	msgs := f.Feed(append(m1, m2...))
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].(string) != "one" || msgs[1].(string) != "two" {
		t.Errorf("messages = %v", msgs)
	}
}

func TestFramerDropsBadFrameButKeepsReading(t *testing.T) {
	f := NewFramer(nil)
	bad := EncodeFrame([]byte("$not valid lpc"))
	good, _ := Encode("ok")
	msgs := f.Feed(append(bad, good...))
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	if msgs[0].(string) != "ok" {
		t.Errorf("message = %v, want ok", msgs[0])
	}
}

func TestFramerResetClearsPartialFrame(t *testing.T) {
	f := NewFramer(nil)
	f.Feed([]byte{0, 0, 0, 10, 'a'}) // length prefix claims 10 bytes, only 1 given
	f.Reset()
	encoded, _ := Encode("fresh")
	msgs := f.Feed(encoded)
	if len(msgs) != 1 || msgs[0].(string) != "fresh" {
		t.Fatalf("unexpected messages after reset: %v", msgs)
	}
}
