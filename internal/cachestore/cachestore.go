// Package cachestore persists per provider event snapshots as JSON files.
// Reads are tolerant: a missing, empty or malformed snapshot degrades to an
// empty list so one bad file never takes the whole feed down.
package cachestore

import (
	"encoding/json"
	"log/slog"
	"os"
	"strings"

	"github.com/Origamihase/wien-oepnv/internal/apperr"
	"github.com/Origamihase/wien-oepnv/internal/domain"
	"github.com/Origamihase/wien-oepnv/internal/fsatomic"
	"github.com/Origamihase/wien-oepnv/internal/pathguard"
)

// Store reads and writes event snapshots below the guarded directories.
type Store struct {
	guard  *pathguard.Guard
	logger *slog.Logger
}

// New creates a Store. All paths passed to Read/Write are checked against
// the guard first.
func New(guard *pathguard.Guard, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{guard: guard, logger: logger}
}

// ReadEvents loads the snapshot at path. Missing, empty or corrupt files
// return an empty slice and a warning; only path violations and real IO
// failures surface as errors.
func (s *Store) ReadEvents(path string) ([]domain.Event, error) {
	resolved, err := s.guard.Resolve(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			s.logger.Warn("cache snapshot missing, starting empty", "path", resolved)
			return []domain.Event{}, nil
		}
		return nil, apperr.CacheCorruptError("cache snapshot unreadable", err, map[string]interface{}{"path": resolved})
	}

	if len(strings.TrimSpace(string(data))) == 0 {
		s.logger.Warn("cache snapshot is empty", "path", resolved)
		return []domain.Event{}, nil
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		s.logger.Warn("cache snapshot is not a JSON array, ignoring it",
			"path", resolved, "error", err.Error())
		return []domain.Event{}, nil
	}

	events := make([]domain.Event, 0, len(raw))
	for i, item := range raw {
		var e domain.Event
		if err := json.Unmarshal(item, &e); err != nil {
			s.logger.Warn("cache snapshot entry skipped",
				"path", resolved, "index", i, "error", err.Error())
			continue
		}
		events = append(events, e)
	}
	return events, nil
}

// WriteEvents atomically replaces the snapshot at path. A nil slice is
// written as an empty array.
func (s *Store) WriteEvents(path string, events []domain.Event) error {
	resolved, err := s.guard.Resolve(path)
	if err != nil {
		return err
	}
	if events == nil {
		events = []domain.Event{}
	}
	if err := fsatomic.WriteJSON(resolved, events, 0o644); err != nil {
		return apperr.WriteFailure("cache snapshot write failed", err, map[string]interface{}{"path": resolved})
	}
	s.logger.Info("cache snapshot written", "path", resolved, "events", len(events))
	return nil
}
