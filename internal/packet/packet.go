// Package packet implements the I3 packet model: a tagged sum type over the
// six-field header every I3 message shares, with per-type_tag payload
// shapes built on top of internal/lpc's dynamic value tree.
package packet

import (
	"strconv"

	"i3gateway/internal/lpc"
)

// Type is an I3 packet type_tag.
type Type string

const (
	TypeTell           Type = "tell"
	TypeEmoteTo        Type = "emoteto"
	TypeChannelM       Type = "channel-m"
	TypeChannelE       Type = "channel-e"
	TypeChannelT       Type = "channel-t"
	TypeChannelAdd     Type = "channel-add"
	TypeChannelRemove  Type = "channel-remove"
	TypeChannelAdmin   Type = "channel-admin"
	TypeChanlistReply  Type = "chanlist-reply"
	TypeChannelListen  Type = "channel-listen"
	TypeChannelWhoReq  Type = "channel-who-req"
	TypeChannelWhoReply Type = "channel-who-reply"
	TypeWhoReq         Type = "who-req"
	TypeWhoReply       Type = "who-reply"
	TypeFingerReq      Type = "finger-req"
	TypeFingerReply    Type = "finger-reply"
	TypeLocateReq      Type = "locate-req"
	TypeLocateReply    Type = "locate-reply"
	TypeMudlist        Type = "mudlist"
	TypeStartupReq3    Type = "startup-req-3"
	TypeStartupReply   Type = "startup-reply"
	TypeError          Type = "error"
)

// Header is the six fixed fields every I3 packet carries, regardless of
// variant.
type Header struct {
	Type           Type
	TTL            int
	OriginatorMud  string
	OriginatorUser string
	TargetMud      string
	TargetUser     string
}

// IsBroadcast reports whether the header's target names the whole network:
// an integer 0 or the string "0", per spec.
func (h Header) IsBroadcast() bool {
	return h.TargetMud == "0" || h.TargetMud == ""
}

// Packet is an I3 message: the shared header plus a type-specific payload.
// Unrecognized type_tags decode into Opaque, which keeps the raw payload so
// forwarding logic still works without understanding the contents.
type Packet struct {
	Header
	Payload Payload
}

// Payload is implemented by every packet variant. ToLPC returns the
// variant's payload elements (everything after the six-field header) in
// wire order.
type Payload interface {
	ToLPC() []lpc.Value
}

// Opaque preserves an unrecognized type_tag's payload verbatim.
type Opaque struct {
	Raw []lpc.Value
}

func (o Opaque) ToLPC() []lpc.Value { return o.Raw }

// ToLPCArray renders the full packet — header and payload — as the LPC
// sequence the wire expects.
func (p *Packet) ToLPCArray() []lpc.Value {
	out := []lpc.Value{
		string(p.Type),
		int64(p.TTL),
		p.OriginatorMud,
		p.OriginatorUser,
		p.TargetMud,
		p.TargetUser,
	}
	if p.Payload != nil {
		out = append(out, p.Payload.ToLPC()...)
	}
	return out
}

// stringOrDefault applies the protocol's falsy-coercion rule: an LPC `0`
// integer, empty string, or nil all count as "falsy" and coerce to the
// zero value.
func stringOrDefault(v lpc.Value) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case int64:
		if x == 0 {
			return ""
		}
		return strconv.FormatInt(x, 10)
	case float64:
		if x == 0 {
			return ""
		}
		return strconv.FormatFloat(x, 'g', -1, 64)
	default:
		return ""
	}
}

func intOrDefault(v lpc.Value) int {
	switch x := v.(type) {
	case nil:
		return 0
	case int64:
		return int(x)
	case float64:
		return int(x)
	case string:
		if x == "" {
			return 0
		}
		n, err := strconv.Atoi(x)
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}

// ErrTooShort is returned by FromLPCArray when the decoded sequence has
// fewer than the six mandatory header elements.
type ErrTooShort struct{ Got int }

func (e ErrTooShort) Error() string {
	return "invalid packet array: too few elements (" + strconv.Itoa(e.Got) + ")"
}

// FromLPCArray builds a Packet from a decoded top-level LPC sequence,
// dispatching to the type-specific payload parser by type_tag.
func FromLPCArray(data []lpc.Value) (*Packet, error) {
	if len(data) < 6 {
		return nil, ErrTooShort{Got: len(data)}
	}

	h := Header{
		Type:           Type(stringOrDefault(data[0])),
		TTL:            intOrDefault(data[1]),
		OriginatorMud:  stringOrDefault(data[2]),
		OriginatorUser: stringOrDefault(data[3]),
		TargetMud:      stringOrDefault(data[4]),
		TargetUser:     stringOrDefault(data[5]),
	}

	var rest []lpc.Value
	if len(data) > 6 {
		rest = data[6:]
	}

	payload, err := parsePayload(h.Type, rest)
	if err != nil {
		return nil, err
	}

	return &Packet{Header: h, Payload: payload}, nil
}

func parsePayload(t Type, rest []lpc.Value) (Payload, error) {
	switch t {
	case TypeTell, TypeEmoteTo:
		return parseTell(rest), nil
	case TypeChannelM:
		return parseChannelMsg(rest), nil
	case TypeChannelE:
		return parseChannelMsg(rest), nil
	case TypeChannelT:
		return parseChannelMsg(rest), nil
	case TypeChannelAdd, TypeChannelRemove, TypeChannelAdmin:
		return parseChannelControl(rest), nil
	case TypeChanlistReply:
		return parseChanlistReply(rest), nil
	case TypeChannelListen:
		return parseChannelListen(rest), nil
	case TypeWhoReq:
		return parseWhoReq(rest), nil
	case TypeWhoReply:
		return parseWhoReply(rest), nil
	case TypeFingerReq:
		return parseFingerReq(rest), nil
	case TypeFingerReply:
		return parseFingerReply(rest), nil
	case TypeLocateReq:
		return parseLocateReq(rest), nil
	case TypeLocateReply:
		return parseLocateReply(rest), nil
	case TypeMudlist:
		return parseMudlist(rest), nil
	case TypeStartupReq3:
		return parseStartupReq3(rest), nil
	case TypeStartupReply:
		return parseStartupReply(rest), nil
	case TypeError:
		return parseError(rest), nil
	default:
		return Opaque{Raw: rest}, nil
	}
}

func at(rest []lpc.Value, i int) lpc.Value {
	if i < 0 || i >= len(rest) {
		return nil
	}
	return rest[i]
}
