package ratelimit

import (
	"encoding/json"
	"log/slog"
	"os"
	"time"

	"github.com/Origamihase/wien-oepnv/internal/apperr"
	"github.com/Origamihase/wien-oepnv/internal/fsatomic"
	"github.com/Origamihase/wien-oepnv/internal/textutil"
)

// DayCount is the persisted counter state. The day string is the operator
// local (Vienna) calendar day.
type DayCount struct {
	Day   string `json:"day"`
	Count int    `json:"count"`
}

// DailyCounter is a crash safe request counter shared between processes
// through a JSON file and an advisory lock on a sibling .lock file. The
// count resets when the local day changes. Unreadable state resets too; a
// corrupt counter must never permanently block refreshes.
type DailyCounter struct {
	path        string
	lockTimeout time.Duration
	logger      *slog.Logger

	now func() time.Time
}

// NewDailyCounter creates a counter stored at path.
func NewDailyCounter(path string, lockTimeout time.Duration, logger *slog.Logger) *DailyCounter {
	if logger == nil {
		logger = slog.Default()
	}
	return &DailyCounter{
		path:        path,
		lockTimeout: lockTimeout,
		logger:      logger,
		now:         time.Now,
	}
}

// Increment records one request attempt and returns the new count for the
// current day. The write happens under an exclusive lock and is atomic, so
// concurrent refresh jobs cannot lose updates.
func (c *DailyCounter) Increment() (int, error) {
	lock, err := fsatomic.AcquireLock(c.path+".lock", c.lockTimeout)
	if err != nil {
		return 0, apperr.RateLimitError("request counter is locked", map[string]interface{}{"path": c.path})
	}
	defer lock.Release()

	state := c.load()
	today := c.today()
	if state.Day != today {
		state = DayCount{Day: today}
	}
	state.Count++
	if err := fsatomic.WriteJSON(c.path, state, 0o644); err != nil {
		return 0, apperr.StatePersistError("failed to persist request counter", err, map[string]interface{}{"path": c.path})
	}
	return state.Count, nil
}

// Current returns the counter for the current day without incrementing.
func (c *DailyCounter) Current() (DayCount, error) {
	lock, err := fsatomic.AcquireShared(c.path+".lock", c.lockTimeout)
	if err != nil {
		return DayCount{}, apperr.RateLimitError("request counter is locked", map[string]interface{}{"path": c.path})
	}
	defer lock.Release()

	state := c.load()
	today := c.today()
	if state.Day != today {
		return DayCount{Day: today}, nil
	}
	return state, nil
}

func (c *DailyCounter) load() DayCount {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if !os.IsNotExist(err) {
			c.logger.Warn("request counter unreadable, starting fresh", "path", c.path)
		}
		return DayCount{}
	}
	var state DayCount
	if err := json.Unmarshal(data, &state); err != nil {
		c.logger.Warn("request counter corrupt, starting fresh", "path", c.path)
		return DayCount{}
	}
	return state
}

func (c *DailyCounter) today() string {
	return c.now().In(textutil.Vienna()).Format("2006-01-02")
}
