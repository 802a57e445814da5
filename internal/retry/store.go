package retry

import (
	"sync"
	"time"

	"github.com/carelens/carematch/internal/model"
)

// JobStore persists job completeness state. Implementations must be safe
// for concurrent use. The in-memory store is the default; a durable store
// can be plugged in without touching the coordinator.
type JobStore interface {
	GetJobStatus(jobID string) (*model.JobState, bool)
	UpdateJobStatus(jobID string, patch func(*model.JobState)) error
}

// MemoryJobStore keeps job state in process memory.
type MemoryJobStore struct {
	mu   sync.RWMutex
	jobs map[string]*model.JobState
}

// NewMemoryJobStore creates an empty store.
func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{
		jobs: make(map[string]*model.JobState),
	}
}

// GetJobStatus returns a copy of the job state.
func (s *MemoryJobStore) GetJobStatus(jobID string) (*model.JobState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.jobs[jobID]
	if !ok {
		return nil, false
	}

	out := *state
	out.Missing = make([]model.MissingDataSource, len(state.Missing))
	copy(out.Missing, state.Missing)
	return &out, true
}

// UpdateJobStatus applies a patch to the job state, creating it if needed.
func (s *MemoryJobStore) UpdateJobStatus(jobID string, patch func(*model.JobState)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.jobs[jobID]
	if !ok {
		state = &model.JobState{
			ID:        jobID,
			Status:    model.JobPending,
			StartedAt: time.Now().UTC(),
		}
		s.jobs[jobID] = state
	}

	patch(state)
	state.UpdatedAt = time.Now().UTC()
	return nil
}
