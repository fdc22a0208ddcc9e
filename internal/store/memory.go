package store

import (
	"sort"
	"sync"

	"github.com/AngelCh415/workdays-etl/internal/models"
)

// MemoryStore keeps finished run reports and guards against overlapping runs.
type MemoryStore struct {
	mu      sync.RWMutex
	running string
	runs    map[string]models.RunReport
	limit   int
}

// NewMemoryStore keeps at most limit reports; limit <= 0 keeps everything.
func NewMemoryStore(limit int) *MemoryStore {
	return &MemoryStore{
		runs:  make(map[string]models.RunReport),
		limit: limit,
	}
}

// Begin claims the single run slot. It returns false while another run is active.
func (s *MemoryStore) Begin(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running != "" {
		return false
	}
	s.running = key
	return true
}

// Running reports the key of the active run, if any.
func (s *MemoryStore) Running() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running, s.running != ""
}

// Finish stores the report and releases the run slot.
func (s *MemoryStore) Finish(r models.RunReport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = ""
	s.runs[r.RunID] = r
	if s.limit > 0 && len(s.runs) > s.limit {
		oldest := ""
		for id, v := range s.runs {
			if oldest == "" || v.StartedAt.Before(s.runs[oldest].StartedAt) {
				oldest = id
			}
		}
		delete(s.runs, oldest)
	}
}

func (s *MemoryStore) Get(id string) (models.RunReport, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.runs[id]
	return r, ok
}

// All returns reports newest first.
func (s *MemoryStore) All() []models.RunReport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.RunReport, 0, len(s.runs))
	for _, v := range s.runs {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

func (s *MemoryStore) Last() (models.RunReport, bool) {
	all := s.All()
	if len(all) == 0 {
		return models.RunReport{}, false
	}
	return all[0], true
}
