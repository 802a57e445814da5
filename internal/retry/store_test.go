package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carelens/carematch/internal/model"
)

func TestMemoryJobStoreCreatesOnFirstUpdate(t *testing.T) {
	store := NewMemoryJobStore()

	_, ok := store.GetJobStatus("j1")
	assert.False(t, ok)

	err := store.UpdateJobStatus("j1", func(state *model.JobState) {
		state.Status = model.JobLoading
		state.TotalPairs = 6
	})
	require.NoError(t, err)

	state, ok := store.GetJobStatus("j1")
	require.True(t, ok)
	assert.Equal(t, "j1", state.ID)
	assert.Equal(t, model.JobLoading, state.Status)
	assert.Equal(t, 6, state.TotalPairs)
	assert.False(t, state.UpdatedAt.IsZero())
}

func TestMemoryJobStoreReturnsCopies(t *testing.T) {
	store := NewMemoryJobStore()
	require.NoError(t, store.UpdateJobStatus("j1", func(state *model.JobState) {
		state.Status = model.JobRetrying
		state.Missing = []model.MissingDataSource{{CandidateID: "c1", Source: "s1"}}
	}))

	state, ok := store.GetJobStatus("j1")
	require.True(t, ok)

	// Mutating the returned copy must not leak into the store.
	state.Status = model.JobComplete
	state.Missing[0].RetryCount = 99

	fresh, ok := store.GetJobStatus("j1")
	require.True(t, ok)
	assert.Equal(t, model.JobRetrying, fresh.Status)
	assert.Equal(t, 0, fresh.Missing[0].RetryCount)
}

func TestMemoryJobStoreUpdateBumpsTimestamp(t *testing.T) {
	store := NewMemoryJobStore()
	require.NoError(t, store.UpdateJobStatus("j1", func(state *model.JobState) {
		state.Status = model.JobLoading
	}))
	first, _ := store.GetJobStatus("j1")

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, store.UpdateJobStatus("j1", func(state *model.JobState) {
		state.Status = model.JobRetrying
	}))
	second, _ := store.GetJobStatus("j1")

	assert.True(t, second.UpdatedAt.After(first.UpdatedAt))
}
