// Package firstseen tracks when each disruption was first published into
// the feed. The state keeps pub dates stable across builds and feeds the
// age based pruning rules.
package firstseen

import (
	"encoding/json"
	"log/slog"
	"os"
	"time"

	"github.com/Origamihase/wien-oepnv/internal/apperr"
	"github.com/Origamihase/wien-oepnv/internal/fsatomic"
)

// Store holds the { identity → first seen instant } map backing one feed.
//
// Load never fails the build: a missing or corrupt state file degrades to
// an empty map, which only means every event counts as newly seen once.
type Store struct {
	path        string
	lockTimeout time.Duration
	retention   time.Duration
	logger      *slog.Logger
	entries     map[string]time.Time

	now func() time.Time
}

// New creates a Store for the state file at path. retentionDays <= 0
// disables the age purge on load.
func New(path string, retentionDays int, lockTimeout time.Duration, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	var retention time.Duration
	if retentionDays > 0 {
		retention = time.Duration(retentionDays) * 24 * time.Hour
	}
	return &Store{
		path:        path,
		lockTimeout: lockTimeout,
		retention:   retention,
		logger:      logger,
		entries:     make(map[string]time.Time),
		now:         time.Now,
	}
}

// Load reads the state file under a shared lock. Every problem short of a
// programming error degrades to an empty map with a warning.
func (s *Store) Load() {
	s.entries = make(map[string]time.Time)

	lock, err := fsatomic.AcquireShared(s.path+".lock", s.lockTimeout)
	if err != nil {
		s.logger.Warn("first-seen state lock not acquired, starting empty", "error", err.Error())
		return
	}
	defer lock.Release()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("first-seen state unreadable, starting empty", "error", err.Error())
		}
		return
	}

	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		s.logger.Warn("first-seen state does not parse, starting empty", "error", err.Error())
		return
	}

	var cutoff time.Time
	if s.retention > 0 {
		cutoff = s.now().UTC().Add(-s.retention)
	}
	for key, stamp := range raw {
		t, err := time.Parse(time.RFC3339, stamp)
		if err != nil {
			s.logger.Warn("first-seen entry has an unparsable instant, dropping it", "key", key)
			continue
		}
		t = t.UTC()
		if !cutoff.IsZero() && t.Before(cutoff) {
			continue
		}
		s.entries[key] = t
	}
}

// Known reports whether key was present before this run stamped it.
func (s *Store) Known(key string) bool {
	_, ok := s.entries[key]
	return ok
}

// Get returns the first seen instant for key.
func (s *Store) Get(key string) (time.Time, bool) {
	t, ok := s.entries[key]
	return t, ok
}

// Stamp returns the first seen instant for key, inserting t when the key
// is new. Callers pass the build time so one run stamps every new event
// with the same instant.
func (s *Store) Stamp(key string, t time.Time) time.Time {
	if existing, ok := s.entries[key]; ok {
		return existing
	}
	t = t.UTC()
	s.entries[key] = t
	return t
}

// Len returns the number of tracked identities.
func (s *Store) Len() int {
	return len(s.entries)
}

// Save persists the state, retaining only the emitted identities so the
// file never grows beyond the feed size.
func (s *Store) Save(emitted []string) error {
	pruned := make(map[string]string, len(emitted))
	for _, key := range emitted {
		if t, ok := s.entries[key]; ok {
			pruned[key] = t.UTC().Format(time.RFC3339)
		}
	}

	lock, err := fsatomic.AcquireLock(s.path+".lock", s.lockTimeout)
	if err != nil {
		return apperr.StatePersistError("first-seen state lock not acquired", err, map[string]interface{}{"path": s.path})
	}
	defer lock.Release()

	if err := fsatomic.WriteJSON(s.path, pruned, 0o644); err != nil {
		return apperr.StatePersistError("first-seen state write failed", err, map[string]interface{}{"path": s.path})
	}
	return nil
}
