package state

import (
	"encoding/json"
	"os"
	"path/filepath"

	"i3gateway/pkg/utils"
)

// mudlistSnapshot mirrors the on-disk mudlist.json layout.
type mudlistSnapshot struct {
	MudlistID int                        `json:"mudlist_id"`
	Muds      map[string]mudSnapshotItem `json:"muds"`
}

type mudSnapshotItem struct {
	Name       string         `json:"name"`
	Address    string         `json:"address"`
	PlayerPort int            `json:"player_port"`
	TCPPort    int            `json:"tcp_port"`
	Services   map[string]int `json:"services"`
	Status     string         `json:"status"`
}

// channelSnapshotItem mirrors the on-disk channels.json layout.
type channelSnapshotItem struct {
	Name        string   `json:"name"`
	Owner       string   `json:"owner"`
	Type        int      `json:"type"`
	BannedMuds  []string `json:"banned_muds"`
	AdmittedMuds []string `json:"admitted_muds"`
}

// SaveSnapshot writes mudlist.json and channels.json to the store's
// persistence directory. A no-op when no directory is configured.
func (s *Store) SaveSnapshot() error {
	if s.persistDir == "" {
		return nil
	}
	if err := os.MkdirAll(s.persistDir, 0o755); err != nil {
		return utils.Wrap(err, "create persistence dir")
	}
	if err := s.saveMudlist(); err != nil {
		return err
	}
	return s.saveChannels()
}

func (s *Store) saveMudlist() error {
	s.mudlistMu.RLock()
	defer s.mudlistMu.RUnlock()

	snap := mudlistSnapshot{MudlistID: s.mudlistID, Muds: map[string]mudSnapshotItem{}}
	for name, m := range s.mudlist {
		snap.Muds[name] = mudSnapshotItem{
			Name: m.Name, Address: m.Address, PlayerPort: m.PlayerPort,
			TCPPort: m.TCPPort, Services: m.Services, Status: string(m.Status),
		}
	}
	return writeJSON(filepath.Join(s.persistDir, "mudlist.json"), snap)
}

func (s *Store) saveChannels() error {
	s.channelMu.RLock()
	defer s.channelMu.RUnlock()

	out := map[string]channelSnapshotItem{}
	for name, c := range s.channels {
		out[name] = channelSnapshotItem{
			Name: c.Name, Owner: c.Owner, Type: int(c.Type),
			BannedMuds:   setToSlice(c.BannedMuds),
			AdmittedMuds: setToSlice(c.AdmittedMuds),
		}
	}
	return writeJSON(filepath.Join(s.persistDir, "channels.json"), out)
}

func setToSlice(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return out
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return utils.Wrap(err, "marshal snapshot")
	}
	return os.WriteFile(path, data, 0o644)
}

// LoadSnapshot reads mudlist.json and channels.json from the store's
// persistence directory, if present. Malformed or missing files are logged
// and skipped — they never prevent startup.
func (s *Store) LoadSnapshot() error {
	if s.persistDir == "" {
		return nil
	}
	s.loadMudlist()
	s.loadChannels()
	return nil
}

func (s *Store) loadMudlist() {
	path := filepath.Join(s.persistDir, "mudlist.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.WithError(err).Warn("error reading mudlist snapshot")
		}
		return
	}
	var snap mudlistSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		s.log.WithError(err).Warn("error parsing mudlist snapshot, starting empty")
		return
	}

	s.mudlistMu.Lock()
	defer s.mudlistMu.Unlock()
	s.mudlistID = snap.MudlistID
	for name, item := range snap.Muds {
		s.mudlist[name] = &MudInfo{
			Name: item.Name, Address: item.Address, PlayerPort: item.PlayerPort,
			TCPPort: item.TCPPort, Services: item.Services,
			Status: statusOrUnknown(item.Status),
		}
	}
}

func statusOrUnknown(s string) MudStatus {
	switch MudStatus(s) {
	case MudUp, MudDown, MudReboot:
		return MudStatus(s)
	default:
		return MudUnknown
	}
}

func (s *Store) loadChannels() {
	path := filepath.Join(s.persistDir, "channels.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.WithError(err).Warn("error reading channel snapshot")
		}
		return
	}
	var items map[string]channelSnapshotItem
	if err := json.Unmarshal(data, &items); err != nil {
		s.log.WithError(err).Warn("error parsing channel snapshot, starting empty")
		return
	}

	s.channelMu.Lock()
	defer s.channelMu.Unlock()
	for name, item := range items {
		c := NewChannelInfo(item.Name)
		c.Owner = item.Owner
		c.Type = ChannelType(item.Type)
		for _, m := range item.BannedMuds {
			c.BannedMuds[m] = struct{}{}
		}
		for _, m := range item.AdmittedMuds {
			c.AdmittedMuds[m] = struct{}{}
		}
		s.channels[name] = c
	}
}
