package queuestate

import (
	"slices"
	"time"

	"golang.org/x/text/unicode/norm"
)

// State is the persisted record of processed source files.
type State struct {
	Completed []string  `json:"completed"`
	Failed    []string  `json:"failed"`
	UpdatedAt time.Time `json:"updatedAt"`

	index map[string]membership
}

type membership int

const (
	memberNone membership = iota
	memberCompleted
	memberFailed
)

// New returns an empty state.
func New() *State {
	return &State{Completed: []string{}, Failed: []string{}}
}

// Key folds Unicode normalization differences so a path written by one
// filesystem matches the same name read back from another. Callers that
// de-duplicate paths must use it to agree with State membership.
func Key(path string) string {
	return norm.NFC.String(path)
}

func (s *State) ensureIndex() {
	if s.index != nil {
		return
	}
	s.index = make(map[string]membership, len(s.Completed)+len(s.Failed))
	for _, path := range s.Failed {
		s.index[Key(path)] = memberFailed
	}
	// Completed wins when a hand-edited document lists a path in both sets.
	for _, path := range s.Completed {
		s.index[Key(path)] = memberCompleted
	}
}

// IsCompleted reports whether path is in the completed set.
func (s *State) IsCompleted(path string) bool {
	s.ensureIndex()
	return s.index[Key(path)] == memberCompleted
}

// IsFailed reports whether path is in the failed set.
func (s *State) IsFailed(path string) bool {
	s.ensureIndex()
	return s.index[Key(path)] == memberFailed
}

// MarkCompleted moves path into the completed set.
func (s *State) MarkCompleted(path string) {
	s.mark(path, memberCompleted)
}

// MarkFailed moves path into the failed set.
func (s *State) MarkFailed(path string) {
	s.mark(path, memberFailed)
}

func (s *State) mark(path string, to membership) {
	s.ensureIndex()
	k := Key(path)
	from := s.index[k]
	if from == to {
		return
	}
	s.remove(k, from)
	switch to {
	case memberCompleted:
		s.Completed = append(s.Completed, path)
	case memberFailed:
		s.Failed = append(s.Failed, path)
	}
	s.index[k] = to
}

// Forget drops path from both sets. It reports whether anything was removed.
func (s *State) Forget(path string) bool {
	s.ensureIndex()
	k := Key(path)
	from := s.index[k]
	if from == memberNone {
		return false
	}
	s.remove(k, from)
	delete(s.index, k)
	return true
}

// ClearFailed empties the failed set and returns how many paths it held.
func (s *State) ClearFailed() int {
	s.ensureIndex()
	n := len(s.Failed)
	for _, path := range s.Failed {
		delete(s.index, Key(path))
	}
	s.Failed = []string{}
	return n
}

func (s *State) remove(k string, from membership) {
	match := func(p string) bool { return Key(p) == k }
	switch from {
	case memberCompleted:
		s.Completed = slices.DeleteFunc(s.Completed, match)
	case memberFailed:
		s.Failed = slices.DeleteFunc(s.Failed, match)
	}
}

// Clone returns a deep copy.
func (s *State) Clone() *State {
	return &State{
		Completed: append([]string{}, s.Completed...),
		Failed:    append([]string{}, s.Failed...),
		UpdatedAt: s.UpdatedAt,
	}
}

// normalize drops duplicates and resolves paths listed in both sets in favour
// of completed, restoring the single-membership invariant on loaded data.
func (s *State) normalize() {
	s.index = nil
	s.ensureIndex()
	seen := make(map[string]struct{}, len(s.index))
	keep := func(list []string, want membership) []string {
		out := make([]string, 0, len(list))
		for _, path := range list {
			k := Key(path)
			if s.index[k] != want {
				continue
			}
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, path)
		}
		return out
	}
	s.Completed = keep(s.Completed, memberCompleted)
	s.Failed = keep(s.Failed, memberFailed)
}
