package reminder

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Store persists reminders and settings across restarts. Upsert is keyed on
// the reminder id.
type Store interface {
	Upsert(ctx context.Context, r *Reminder) error
	ListActive(ctx context.Context) ([]*Reminder, error)
	// Get returns nil, nil when the reminder doesn't exist
	Get(ctx context.Context, id string) (*Reminder, error)
	LoadSettings(ctx context.Context) (map[string]string, error)
	SaveSetting(ctx context.Context, name, value string) error
}

var errStoreUnavailable = errors.New("store unavailable")

// MemoryStore keeps everything in process. It backs the "memory" driver and
// the tests.
type MemoryStore struct {
	mu        sync.RWMutex
	reminders map[string]*Reminder
	settings  map[string]string
	fail      bool
	upserts   int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		reminders: make(map[string]*Reminder),
		settings:  make(map[string]string),
	}
}

// SetFailing makes every subsequent call fail until reset.
func (s *MemoryStore) SetFailing(fail bool) {
	s.mu.Lock()
	s.fail = fail
	s.mu.Unlock()
}

// Upserts returns the number of successful upserts.
func (s *MemoryStore) Upserts() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.upserts
}

func (s *MemoryStore) Upsert(ctx context.Context, r *Reminder) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fail {
		return errStoreUnavailable
	}

	c := r.Clone()
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = time.Now()
	}
	s.reminders[r.ID] = c
	s.upserts++
	return nil
}

func (s *MemoryStore) ListActive(ctx context.Context) ([]*Reminder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.fail {
		return nil, errStoreUnavailable
	}

	var res []*Reminder
	for _, r := range s.reminders {
		if r.Active {
			res = append(res, r.Clone())
		}
	}
	return res, nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Reminder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.fail {
		return nil, errStoreUnavailable
	}

	r, ok := s.reminders[id]
	if !ok {
		return nil, nil
	}
	return r.Clone(), nil
}

func (s *MemoryStore) LoadSettings(ctx context.Context) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.fail {
		return nil, errStoreUnavailable
	}

	res := make(map[string]string, len(s.settings))
	for k, v := range s.settings {
		res[k] = v
	}
	return res, nil
}

func (s *MemoryStore) SaveSetting(ctx context.Context, name, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fail {
		return errStoreUnavailable
	}

	s.settings[name] = value
	return nil
}
