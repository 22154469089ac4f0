package queuestate

import (
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"squish/internal/fileutil"
	"squish/internal/logging"
	"squish/internal/services"
)

// Store loads and saves the state document at a fixed path. An empty path
// disables persistence: Load returns an empty state and Save does nothing.
type Store struct {
	path   string
	logger *slog.Logger
	now    func() time.Time
}

// NewStore returns a store for path.
func NewStore(path string, logger *slog.Logger) *Store {
	return &Store{
		path:   strings.TrimSpace(path),
		logger: logging.NewComponentLogger(logger, "queue-state"),
		now:    time.Now,
	}
}

// Path returns the document location.
func (s *Store) Path() string {
	return s.path
}

// Load reads the state document. It never fails; problems are logged and an
// empty state is returned.
func (s *Store) Load() *State {
	if s.path == "" {
		return New()
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			logging.WarnWithContext(s.logger, "queue state unreadable; starting empty", "queue_state_unreadable",
				logging.String("path", s.path),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check file permissions"),
				logging.String(logging.FieldImpact, "previously completed files will be re-queued"),
			)
		}
		return New()
	}
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		logging.WarnWithContext(s.logger, "queue state corrupt; starting empty", "queue_state_corrupt",
			logging.String("path", s.path),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "inspect or delete the queue state file"),
			logging.String(logging.FieldImpact, "previously completed files will be re-queued"),
		)
		return New()
	}
	if state.Completed == nil {
		state.Completed = []string{}
	}
	if state.Failed == nil {
		state.Failed = []string{}
	}
	state.normalize()
	return &state
}

// Save stamps UpdatedAt and atomically replaces the document. Errors wrap
// services.ErrStateIO; callers in the middle of a run log them and continue.
func (s *Store) Save(state *State) error {
	if state == nil {
		return services.Wrap(services.ErrStateIO, "queue-state", "save", "nil state", nil)
	}
	state.UpdatedAt = s.now().UTC()
	if s.path == "" {
		return nil
	}
	if err := fileutil.WriteJSONAtomic(s.path, state); err != nil {
		return services.Wrap(services.ErrStateIO, "queue-state", "save", s.path, err)
	}
	return nil
}
