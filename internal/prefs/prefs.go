// Package prefs persists per-user notification preferences as JSON files.
//
// Each user's preferences live in their own file: prefs_<userID>.json.
// Writes use atomic file replacement (write to .tmp, then rename) to prevent
// corruption from partial writes or crashes mid-save. Reads go through a
// small TTL cache; every write drops the cached entry so routing decisions
// pick up changes immediately. Users who never saved preferences get the
// defaults.
package prefs

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"enertrade/internal/config"
	"enertrade/pkg/types"
)

// ErrInvalid marks preferences the caller got wrong: a bad user id or an
// unknown channel. Everything else is a storage failure.
var ErrInvalid = errors.New("invalid preferences")

// Store persists preferences to JSON files in a designated directory.
// All file operations are mutex-protected to prevent concurrent corruption.
type Store struct {
	dir   string
	mu    sync.Mutex
	cache *gocache.Cache
}

// Open creates a store backed by the configured directory.
func Open(cfg config.PrefsConfig) (*Store, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create prefs dir: %w", err)
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Store{
		dir:   cfg.DataDir,
		cache: gocache.New(ttl, 2*ttl),
	}, nil
}

// Close is a no-op for file-based storage.
func (s *Store) Close() error {
	return nil
}

// Get returns the user's stored preferences, or the defaults when the user
// never saved any.
func (s *Store) Get(userID string) (*types.UserPreferences, error) {
	if err := checkUserID(userID); err != nil {
		return nil, err
	}
	if v, ok := s.cache.Get(userID); ok {
		p := v.(types.UserPreferences)
		return &p, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.load(userID)
	if err != nil {
		return nil, err
	}
	s.cache.Set(userID, *p, gocache.DefaultExpiration)
	return p, nil
}

// Put validates and atomically persists the preferences, replacing any
// previous copy.
func (s *Store) Put(p *types.UserPreferences) error {
	if err := checkUserID(p.UserID); err != nil {
		return err
	}
	for _, c := range p.Channels {
		if !c.Valid() {
			return fmt.Errorf("unknown channel %q: %w", c, ErrInvalid)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(p)
}

// Patch is a partial preferences change. Nil fields keep their stored
// values. Contacts merge per channel; an empty string removes the entry.
type Patch struct {
	Channels *[]types.Channel         `json:"channels"`
	Contacts map[types.Channel]string `json:"contacts"`

	TradeNotifications *bool `json:"trade_notifications"`
	RiskAlerts         *bool `json:"risk_alerts"`
	MarginCalls        *bool `json:"margin_calls"`
	ComplianceAlerts   *bool `json:"compliance_alerts"`
	DailyReports       *bool `json:"daily_reports"`
	MarketOpening      *bool `json:"market_opening"`
}

// Update applies a partial change on top of the stored preferences and
// persists the merged result. First-time users start from the defaults.
func (s *Store) Update(userID string, patch Patch) (*types.UserPreferences, error) {
	if err := checkUserID(userID); err != nil {
		return nil, err
	}
	if patch.Channels != nil {
		for _, c := range *patch.Channels {
			if !c.Valid() {
				return nil, fmt.Errorf("unknown channel %q: %w", c, ErrInvalid)
			}
		}
	}
	for c := range patch.Contacts {
		if !c.Valid() {
			return nil, fmt.Errorf("unknown channel %q: %w", c, ErrInvalid)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.load(userID)
	if err != nil {
		return nil, err
	}

	if patch.Channels != nil {
		p.Channels = append([]types.Channel(nil), (*patch.Channels)...)
	}
	if p.Contacts == nil {
		p.Contacts = map[types.Channel]string{}
	}
	for c, addr := range patch.Contacts {
		if addr == "" {
			delete(p.Contacts, c)
			continue
		}
		p.Contacts[c] = addr
	}
	if patch.TradeNotifications != nil {
		p.TradeNotifications = *patch.TradeNotifications
	}
	if patch.RiskAlerts != nil {
		p.RiskAlerts = *patch.RiskAlerts
	}
	if patch.MarginCalls != nil {
		p.MarginCalls = *patch.MarginCalls
	}
	if patch.ComplianceAlerts != nil {
		p.ComplianceAlerts = *patch.ComplianceAlerts
	}
	if patch.DailyReports != nil {
		p.DailyReports = *patch.DailyReports
	}
	if patch.MarketOpening != nil {
		p.MarketOpening = *patch.MarketOpening
	}

	if err := s.write(p); err != nil {
		return nil, err
	}
	return p, nil
}

// load reads straight from disk, falling back to the defaults for users with
// no file. Callers hold mu.
func (s *Store) load(userID string) (*types.UserPreferences, error) {
	data, err := os.ReadFile(s.path(userID))
	if err != nil {
		if os.IsNotExist(err) {
			return types.DefaultPreferences(userID), nil
		}
		return nil, fmt.Errorf("read preferences: %w", err)
	}

	var p types.UserPreferences
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("unmarshal preferences: %w", err)
	}
	return &p, nil
}

// write marshals and atomically replaces the user's file: write to a .tmp
// file first, then rename over the target so the file is never left in a
// partial state. Callers hold mu.
func (s *Store) write(p *types.UserPreferences) error {
	p.UpdatedAt = time.Now()

	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal preferences: %w", err)
	}

	path := s.path(p.UserID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write preferences: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return err
	}

	s.cache.Delete(p.UserID)
	return nil
}

func (s *Store) path(userID string) string {
	return filepath.Join(s.dir, "prefs_"+userID+".json")
}

// checkUserID rejects ids that are empty or could escape the data directory.
func checkUserID(userID string) error {
	if userID == "" || strings.ContainsAny(userID, `/\`) || strings.Contains(userID, "..") {
		return fmt.Errorf("user id %q: %w", userID, ErrInvalid)
	}
	return nil
}
