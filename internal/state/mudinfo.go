// Package state implements the gateway's process-wide store: the mudlist,
// channel list, user sessions and TTL cache, each behind its own lock, plus
// JSON snapshot persistence and a background sweeper.
package state

import (
	"time"

	"i3gateway/internal/lpc"
)

// MudStatus is a MudInfo's reachability state.
type MudStatus string

const (
	MudUp      MudStatus = "up"
	MudDown    MudStatus = "down"
	MudUnknown MudStatus = "unknown"
	MudReboot  MudStatus = "reboot"
)

// MudInfo describes one MUD known to the I3 network.
type MudInfo struct {
	Name        string
	Address     string
	PlayerPort  int
	TCPPort     int
	UDPPort     int
	Mudlib      string
	BaseMudlib  string
	Driver      string
	MudType     string
	OpenStatus  string
	AdminEmail  string
	Services    map[string]int
	OtherData   *lpc.Map
	Status      MudStatus
	LastStartup time.Time
	LastSeen    time.Time
}

// SupportsService reports whether the MUD advertises a positive service
// port/flag for the named service.
func (m *MudInfo) SupportsService(service string) bool {
	return m.Services != nil && m.Services[service] > 0
}

// IsOnline reports whether the MUD is currently reachable.
func (m *MudInfo) IsOnline() bool { return m.Status == MudUp }

// UpdateFromMudlist applies one mudlist entry's positional array to the
// MUD's fields, only overwriting a field on a truthy value so a router
// omitting a field does not clobber it.
func (m *MudInfo) UpdateFromMudlist(data []lpc.Value) {
	if len(data) < 11 {
		return
	}

	if addr := stringOrEmpty(at(data, 0)); addr != "" {
		m.Address = addr
	}
	if p := intOrZero(at(data, 1)); p != 0 {
		m.PlayerPort = p
	}
	if p := intOrZero(at(data, 2)); p != 0 {
		m.TCPPort = p
	}
	if p := intOrZero(at(data, 3)); p != 0 {
		m.UDPPort = p
	}
	if v := stringOrEmpty(at(data, 4)); v != "" {
		m.Mudlib = v
	}
	if v := stringOrEmpty(at(data, 5)); v != "" {
		m.BaseMudlib = v
	}
	if v := stringOrEmpty(at(data, 6)); v != "" {
		m.Driver = v
	}
	if v := stringOrEmpty(at(data, 7)); v != "" {
		m.MudType = v
	}
	if v := stringOrEmpty(at(data, 8)); v != "" {
		m.OpenStatus = v
	}
	if v := stringOrEmpty(at(data, 9)); v != "" {
		m.AdminEmail = v
	}
	if services, ok := at(data, 10).(*lpc.Map); ok {
		m.Services = mapToIntMap(services)
	}
	if len(data) > 11 {
		if other, ok := at(data, 11).(*lpc.Map); ok {
			m.OtherData = other
		}
	}

	if addrVal, ok := at(data, 0).(string); ok && addrVal == "0" {
		m.Status = MudDown
	} else {
		m.Status = MudUp
	}
	m.LastSeen = time.Now()
}

func mapToIntMap(m *lpc.Map) map[string]int {
	out := make(map[string]int, m.Len())
	m.Each(func(k, v lpc.Value) {
		key, ok := k.(string)
		if !ok {
			return
		}
		out[key] = intOrZero(v)
	})
	return out
}

func at(data []lpc.Value, i int) lpc.Value {
	if i < 0 || i >= len(data) {
		return nil
	}
	return data[i]
}

func stringOrEmpty(v lpc.Value) string {
	s, _ := v.(string)
	return s
}

func intOrZero(v lpc.Value) int {
	switch x := v.(type) {
	case int64:
		return int(x)
	case float64:
		return int(x)
	default:
		return 0
	}
}
