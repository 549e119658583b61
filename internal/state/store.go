// Package state owns the bot's durable state: the wash-sale log and a
// reserved position cache. The file on disk is the source of truth across
// restarts; in memory the Store is the single authority and every mutation
// is written through immediately.
package state

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// DateLayout is the calendar-date format used for wash-sale entries.
// No time component: the IRS window counts whole days.
const DateLayout = "2006-01-02"

// CachedPosition is reserved for a future position cache. It round-trips
// through the state file but nothing reads it yet.
type CachedPosition struct {
	Quantity    int64   `json:"quantity"`
	AverageCost float64 `json:"average_cost"`
	Dividends   float64 `json:"dividends"`
}

// Snapshot is the persisted aggregate.
type Snapshot struct {
	WashSaleLog map[string]string         `json:"wash_sale_log"`
	Positions   map[string]CachedPosition `json:"positions"`
}

// Store guards the snapshot with a mutex and writes it through to disk on
// every mutation. It is safe for concurrent use, though the cycle runner is
// the only writer by design.
type Store struct {
	mu   sync.Mutex
	path string
	snap Snapshot
}

// Open loads the state file, or starts from an empty snapshot when the file
// does not exist yet. Any other read or parse failure is an error: trading
// against a state we could not read risks violating a cooldown.
func Open(path string) (*Store, error) {
	s := &Store{
		path: path,
		snap: Snapshot{
			WashSaleLog: map[string]string{},
			Positions:   map[string]CachedPosition{},
		},
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, errors.Wrap(err, "read state file")
	}
	if err := json.Unmarshal(data, &s.snap); err != nil {
		return nil, errors.Wrap(err, "parse state file")
	}
	if s.snap.WashSaleLog == nil {
		s.snap.WashSaleLog = map[string]string{}
	}
	if s.snap.Positions == nil {
		s.snap.Positions = map[string]CachedPosition{}
	}

	// Legacy state files may carry mixed-case tickers; collapse them so a
	// differently-cased watchlist entry cannot dodge its cooldown.
	for t, d := range s.snap.WashSaleLog {
		if u := normalizeTicker(t); u != t {
			delete(s.snap.WashSaleLog, t)
			if _, taken := s.snap.WashSaleLog[u]; !taken {
				s.snap.WashSaleLog[u] = d
			}
		}
	}

	return s, nil
}

// LossDate returns the recorded loss-sale date for the ticker, if any.
func (s *Store) LossDate(ticker string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, ok := s.snap.WashSaleLog[normalizeTicker(ticker)]
	if !ok {
		return time.Time{}, false
	}
	d, err := time.Parse(DateLayout, raw)
	if err != nil {
		// Unparseable entry: treat as absent rather than blocking forever.
		return time.Time{}, false
	}
	return d, true
}

// RecordLoss writes a wash-sale entry for the ticker and persists immediately.
// Overwrites any existing entry, keeping at most one per ticker.
func (s *Store) RecordLoss(ticker string, day time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snap.WashSaleLog[normalizeTicker(ticker)] = day.Format(DateLayout)
	return s.save()
}

// ClearLoss removes the ticker's wash-sale entry and persists immediately.
// Clearing an absent entry is a no-op.
func (s *Store) ClearLoss(ticker string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := normalizeTicker(ticker)
	if _, ok := s.snap.WashSaleLog[key]; !ok {
		return nil
	}
	delete(s.snap.WashSaleLog, key)
	return s.save()
}

// CooldownTickers returns the tickers currently carrying a wash-sale entry,
// with their loss dates. For reporting; does not expire anything.
func (s *Store) CooldownTickers() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]string, len(s.snap.WashSaleLog))
	for t, d := range s.snap.WashSaleLog {
		out[t] = d
	}
	return out
}

// Save forces a write of the current snapshot.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save()
}

// save writes the snapshot atomically: temp file in the same directory, fsync,
// rename. A crash mid-write leaves the previous file intact, never a
// half-written wash-sale log.
func (s *Store) save() error {
	data, err := json.MarshalIndent(&s.snap, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal state")
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "create state dir")
	}

	tmp := s.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return errors.Wrap(err, "create temp state file")
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return errors.Wrap(err, "write temp state file")
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return errors.Wrap(err, "sync temp state file")
	}
	if err := f.Close(); err != nil {
		return errors.Wrap(err, "close temp state file")
	}
	return errors.Wrap(os.Rename(tmp, s.path), "replace state file")
}

func normalizeTicker(t string) string {
	return strings.ToUpper(strings.TrimSpace(t))
}
