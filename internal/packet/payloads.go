package packet

import "i3gateway/internal/lpc"

// Tell carries the payload shared by `tell` and `emoteto`: [visname, message].
type Tell struct {
	VisName string
	Message string
}

func (t Tell) ToLPC() []lpc.Value { return []lpc.Value{t.VisName, t.Message} }

func parseTell(rest []lpc.Value) Tell {
	return Tell{VisName: stringOrDefault(at(rest, 0)), Message: stringOrDefault(at(rest, 1))}
}

// ChannelMsg carries `channel-m`/`channel-e`/`channel-t`: [channel, visname, text].
type ChannelMsg struct {
	Channel string
	VisName string
	Text    string
}

func (c ChannelMsg) ToLPC() []lpc.Value { return []lpc.Value{c.Channel, c.VisName, c.Text} }

func parseChannelMsg(rest []lpc.Value) ChannelMsg {
	return ChannelMsg{
		Channel: stringOrDefault(at(rest, 0)),
		VisName: stringOrDefault(at(rest, 1)),
		Text:    stringOrDefault(at(rest, 2)),
	}
}

// ChannelControl carries `channel-add`/`channel-remove`/`channel-admin`.
type ChannelControl struct {
	Channel string
	Mud     string
	Extra   []lpc.Value
}

func (c ChannelControl) ToLPC() []lpc.Value {
	out := []lpc.Value{c.Channel, c.Mud}
	return append(out, c.Extra...)
}

func parseChannelControl(rest []lpc.Value) ChannelControl {
	var extra []lpc.Value
	if len(rest) > 2 {
		extra = rest[2:]
	}
	return ChannelControl{
		Channel: stringOrDefault(at(rest, 0)),
		Mud:     stringOrDefault(at(rest, 1)),
		Extra:   extra,
	}
}

// ChanlistReply carries the router's full channel directory: [chanlist_id, mapping<channel_name, info>].
type ChanlistReply struct {
	ChanlistID int
	Channels   *lpc.Map
}

func (c ChanlistReply) ToLPC() []lpc.Value {
	m := c.Channels
	if m == nil {
		m = lpc.NewMap()
	}
	return []lpc.Value{int64(c.ChanlistID), m}
}

func parseChanlistReply(rest []lpc.Value) ChanlistReply {
	var m *lpc.Map
	if v, ok := at(rest, 1).(*lpc.Map); ok {
		m = v
	}
	return ChanlistReply{ChanlistID: intOrDefault(at(rest, 0)), Channels: m}
}

// ChannelListen carries `channel-listen`: [channel, flag].
type ChannelListen struct {
	Channel string
	Listen  bool
}

func (c ChannelListen) ToLPC() []lpc.Value { return []lpc.Value{c.Channel, c.Listen} }

func parseChannelListen(rest []lpc.Value) ChannelListen {
	return ChannelListen{
		Channel: stringOrDefault(at(rest, 0)),
		Listen:  intOrDefault(at(rest, 1)) != 0,
	}
}

// WhoReq carries `who-req`: [filter_criteria].
type WhoReq struct {
	Filter *lpc.Map
}

func (w WhoReq) ToLPC() []lpc.Value {
	m := w.Filter
	if m == nil {
		m = lpc.NewMap()
	}
	return []lpc.Value{m}
}

func parseWhoReq(rest []lpc.Value) WhoReq {
	m, _ := at(rest, 0).(*lpc.Map)
	return WhoReq{Filter: m}
}

// WhoEntry is one row of a who-reply's user list.
type WhoEntry struct {
	Name  string
	Idle  int
	Level int
	Extra *lpc.Map
}

// WhoReply carries `who-reply`: [list of {name, idle, level, extra}].
type WhoReply struct {
	Entries []WhoEntry
}

func (w WhoReply) ToLPC() []lpc.Value {
	rows := make([]lpc.Value, 0, len(w.Entries))
	for _, e := range w.Entries {
		extra := e.Extra
		if extra == nil {
			extra = lpc.NewMap()
		}
		rows = append(rows, []lpc.Value{e.Name, int64(e.Idle), int64(e.Level), extra})
	}
	return []lpc.Value{rows}
}

func parseWhoReply(rest []lpc.Value) WhoReply {
	list, _ := at(rest, 0).([]lpc.Value)
	entries := make([]WhoEntry, 0, len(list))
	for _, row := range list {
		r, ok := row.([]lpc.Value)
		if !ok {
			continue
		}
		extra, _ := at(r, 3).(*lpc.Map)
		entries = append(entries, WhoEntry{
			Name:  stringOrDefault(at(r, 0)),
			Idle:  intOrDefault(at(r, 1)),
			Level: intOrDefault(at(r, 2)),
			Extra: extra,
		})
	}
	return WhoReply{Entries: entries}
}

// FingerReq carries `finger-req`: [target_user].
type FingerReq struct {
	TargetUser string
}

func (f FingerReq) ToLPC() []lpc.Value { return []lpc.Value{f.TargetUser} }

func parseFingerReq(rest []lpc.Value) FingerReq {
	return FingerReq{TargetUser: stringOrDefault(at(rest, 0))}
}

// FingerReply carries `finger-reply`: [user_info mapping].
type FingerReply struct {
	Info *lpc.Map
}

func (f FingerReply) ToLPC() []lpc.Value {
	m := f.Info
	if m == nil {
		m = lpc.NewMap()
	}
	return []lpc.Value{m}
}

func parseFingerReply(rest []lpc.Value) FingerReply {
	m, _ := at(rest, 0).(*lpc.Map)
	return FingerReply{Info: m}
}

// LocateReq carries `locate-req`: [user_to_locate].
type LocateReq struct {
	UserToLocate string
}

func (l LocateReq) ToLPC() []lpc.Value { return []lpc.Value{l.UserToLocate} }

func parseLocateReq(rest []lpc.Value) LocateReq {
	return LocateReq{UserToLocate: stringOrDefault(at(rest, 0))}
}

// LocateReply carries `locate-reply`: [located_mud, located_user, idle_time, status_string].
type LocateReply struct {
	LocatedMud  string
	LocatedUser string
	IdleTime    int
	Status      string
}

func (l LocateReply) ToLPC() []lpc.Value {
	return []lpc.Value{l.LocatedMud, l.LocatedUser, int64(l.IdleTime), l.Status}
}

func parseLocateReply(rest []lpc.Value) LocateReply {
	return LocateReply{
		LocatedMud:  stringOrDefault(at(rest, 0)),
		LocatedUser: stringOrDefault(at(rest, 1)),
		IdleTime:    intOrDefault(at(rest, 2)),
		Status:      stringOrDefault(at(rest, 3)),
	}
}

// Mudlist carries the router's mud directory push: [mudlist_id, mapping<mud_name, info_array>].
type Mudlist struct {
	MudlistID int
	Muds      *lpc.Map
}

func (m Mudlist) ToLPC() []lpc.Value {
	muds := m.Muds
	if muds == nil {
		muds = lpc.NewMap()
	}
	return []lpc.Value{int64(m.MudlistID), muds}
}

func parseMudlist(rest []lpc.Value) Mudlist {
	muds, _ := at(rest, 1).(*lpc.Map)
	return Mudlist{MudlistID: intOrDefault(at(rest, 0)), Muds: muds}
}

// StartupReq3 is the handshake packet the gateway sends once CONNECTED.
type StartupReq3 struct {
	Password      int
	OldMudlistID  int
	OldChanlistID int
	PlayerPort    int
	TCPPort       int
	UDPPort       int
	Mudlib        string
	BaseMudlib    string
	Driver        string
	MudType       string
	OpenStatus    string
	AdminEmail    string
	Services      *lpc.Map
	OtherData     *lpc.Map
}

func (s StartupReq3) ToLPC() []lpc.Value {
	services, other := s.Services, s.OtherData
	if services == nil {
		services = lpc.NewMap()
	}
	if other == nil {
		other = lpc.NewMap()
	}
	return []lpc.Value{
		int64(s.Password), int64(s.OldMudlistID), int64(s.OldChanlistID),
		int64(s.PlayerPort), int64(s.TCPPort), int64(s.UDPPort),
		s.Mudlib, s.BaseMudlib, s.Driver, s.MudType, s.OpenStatus, s.AdminEmail,
		services, other,
	}
}

func parseStartupReq3(rest []lpc.Value) StartupReq3 {
	services, _ := at(rest, 12).(*lpc.Map)
	other, _ := at(rest, 13).(*lpc.Map)
	return StartupReq3{
		Password:      intOrDefault(at(rest, 0)),
		OldMudlistID:  intOrDefault(at(rest, 1)),
		OldChanlistID: intOrDefault(at(rest, 2)),
		PlayerPort:    intOrDefault(at(rest, 3)),
		TCPPort:       intOrDefault(at(rest, 4)),
		UDPPort:       intOrDefault(at(rest, 5)),
		Mudlib:        stringOrDefault(at(rest, 6)),
		BaseMudlib:    stringOrDefault(at(rest, 7)),
		Driver:        stringOrDefault(at(rest, 8)),
		MudType:       stringOrDefault(at(rest, 9)),
		OpenStatus:    stringOrDefault(at(rest, 10)),
		AdminEmail:    stringOrDefault(at(rest, 11)),
		Services:      services,
		OtherData:     other,
	}
}

// StartupReply carries the router's handshake acknowledgement: [router_list, password].
type StartupReply struct {
	RouterList []lpc.Value
	Password   int
}

func (s StartupReply) ToLPC() []lpc.Value {
	return []lpc.Value{s.RouterList, int64(s.Password)}
}

func parseStartupReply(rest []lpc.Value) StartupReply {
	list, _ := at(rest, 0).([]lpc.Value)
	return StartupReply{RouterList: list, Password: intOrDefault(at(rest, 1))}
}

// Error carries an I3 `error` packet: [error_code, error_message, bad_packet].
type Error struct {
	Code       string
	Message    string
	BadPacket  []lpc.Value
}

func (e Error) ToLPC() []lpc.Value {
	var bad lpc.Value
	if e.BadPacket != nil {
		bad = e.BadPacket
	} else {
		bad = []lpc.Value{}
	}
	return []lpc.Value{e.Code, e.Message, bad}
}

func parseError(rest []lpc.Value) Error {
	bad, _ := at(rest, 2).([]lpc.Value)
	return Error{
		Code:      stringOrDefault(at(rest, 0)),
		Message:   stringOrDefault(at(rest, 1)),
		BadPacket: bad,
	}
}

// Error codes used when synthesizing `error` replies.
const (
	ErrCodeUnknownDest = "unk-dst"
	ErrCodeUnknownUser = "unk-user"
	ErrCodeUnknownType = "unk-type"
	ErrCodeNotAllowed  = "not-allowed"
	ErrCodeUnknownChan = "unk-channel"
	ErrCodeNotImpl     = "not-imp"
)

// NewErrorReply builds an `error` packet addressed back to the originator of
// orig, with orig itself attached as bad_packet.
func NewErrorReply(orig *Packet, code, message string) *Packet {
	return &Packet{
		Header: Header{
			Type:           TypeError,
			TTL:            200,
			OriginatorMud:  orig.TargetMud,
			OriginatorUser: orig.TargetUser,
			TargetMud:      orig.OriginatorMud,
			TargetUser:     orig.OriginatorUser,
		},
		Payload: Error{Code: code, Message: message, BadPacket: orig.ToLPCArray()},
	}
}
