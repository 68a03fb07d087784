package packet

import (
	"testing"

	"i3gateway/internal/lpc"
)

func TestTellRoundTrip(t *testing.T) {
	p := &Packet{
		Header: Header{
			Type: TypeTell, TTL: 200,
			OriginatorMud: "MudA", OriginatorUser: "alice",
			TargetMud: "MudB", TargetUser: "bob",
		},
		Payload: Tell{VisName: "Alice", Message: "hey"},
	}

	arr := p.ToLPCArray()
	got, err := FromLPCArray(arr)
	if err != nil {
		t.Fatal(err)
	}
	if got.Type != TypeTell || got.TTL != 200 || got.OriginatorMud != "MudA" ||
		got.TargetUser != "bob" {
		t.Fatalf("header mismatch: %+v", got.Header)
	}
	tell, ok := got.Payload.(Tell)
	if !ok {
		t.Fatalf("payload is %T, want Tell", got.Payload)
	}
	if tell.Message != "hey" {
		t.Errorf("message = %q, want hey", tell.Message)
	}
}

func TestTellArrayRoundTripThroughFramedLPC(t *testing.T) {
	// Encode/decode a raw tell array through the LPC codec and check the
	// framed length prefix.
	arr := []lpc.Value{"tell", int64(5), "MudA", "u1", "MudB", "u2", "u1", "Hi!"}
	encoded, err := lpc.Encode(arr)
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := lpc.Decode(encoded)
	if err != nil {
		t.Fatal(err)
	}
	decodedArr, ok := decoded.([]lpc.Value)
	if !ok {
		t.Fatalf("decoded is %T, want []lpc.Value", decoded)
	}
	p, err := FromLPCArray(decodedArr)
	if err != nil {
		t.Fatal(err)
	}
	if p.Type != "tell" || p.TTL != 5 || p.OriginatorMud != "MudA" {
		t.Fatalf("unexpected packet: %+v", p.Header)
	}
	tell := p.Payload.(Tell)
	if tell.VisName != "u1" || tell.Message != "Hi!" {
		t.Errorf("payload = %+v", tell)
	}
}

func TestUnknownTypeDecodesToOpaque(t *testing.T) {
	arr := []lpc.Value{"some-future-tag", int64(1), "A", "a", "B", "b", "extra1", int64(2)}
	p, err := FromLPCArray(arr)
	if err != nil {
		t.Fatal(err)
	}
	opaque, ok := p.Payload.(Opaque)
	if !ok {
		t.Fatalf("payload is %T, want Opaque", p.Payload)
	}
	if len(opaque.Raw) != 2 {
		t.Errorf("raw payload len = %d, want 2", len(opaque.Raw))
	}
}

func TestFromLPCArrayTooShort(t *testing.T) {
	_, err := FromLPCArray([]lpc.Value{"tell", int64(1)})
	if err == nil {
		t.Fatal("expected error for too-short array")
	}
}

func TestHeaderIsBroadcast(t *testing.T) {
	cases := []struct {
		target string
		want   bool
	}{
		{"0", true},
		{"", true},
		{"MudA", false},
	}
	for _, c := range cases {
		h := Header{TargetMud: c.target}
		if got := h.IsBroadcast(); got != c.want {
			t.Errorf("IsBroadcast(%q) = %v, want %v", c.target, got, c.want)
		}
	}
}

func TestFalsyCoercionOnHeader(t *testing.T) {
	// An LPC 0 integer or empty string target_mud coerces to "" per the
	// original decoder's falsy-default rule, not an error.
	arr := []lpc.Value{"tell", int64(0), int64(0), "", int64(0), "bob", "v", "m"}
	p, err := FromLPCArray(arr)
	if err != nil {
		t.Fatal(err)
	}
	if p.TTL != 0 || p.OriginatorMud != "" || p.TargetMud != "" {
		t.Errorf("unexpected header: %+v", p.Header)
	}
}

func TestNewErrorReplyAddressesOriginator(t *testing.T) {
	orig := &Packet{
		Header: Header{
			Type: TypeTell, TTL: 200,
			OriginatorMud: "X", OriginatorUser: "alice",
			TargetMud: "M", TargetUser: "bob",
		},
		Payload: Tell{VisName: "Alice", Message: "hey"},
	}
	reply := NewErrorReply(orig, ErrCodeUnknownUser, "bob is not online")
	if reply.TargetMud != "X" || reply.TargetUser != "alice" {
		t.Errorf("reply not addressed to originator: %+v", reply.Header)
	}
	errPayload := reply.Payload.(Error)
	if errPayload.Code != ErrCodeUnknownUser {
		t.Errorf("code = %q", errPayload.Code)
	}
}
