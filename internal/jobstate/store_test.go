package jobstate

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edvin/maintconsole/internal/backend"
)

func newTestStore() *Store {
	s := NewStore(zerolog.Nop())
	s.now = func() time.Time { return t0 }
	return s
}

func TestStore_StaleProgressThenCompletion(t *testing.T) {
	s := newTestStore()
	s.Reconcile(backend.Job{ID: 7, Title: "Vacuum", Status: "pendiente"})

	v, ok := s.Get(7)
	require.True(t, ok)
	assert.Equal(t, Pending, v.State.Kind)

	s.Apply(7, ProgressObserved{Percentage: 45})
	v, _ = s.Get(7)
	assert.Equal(t, Running, v.State.Kind)
	assert.Equal(t, 45, v.State.Percentage)

	res := s.Apply(7, ProgressObserved{Percentage: 20})
	assert.Equal(t, Dropped, res.Outcome)
	v, _ = s.Get(7)
	assert.Equal(t, 45, v.State.Percentage)

	res = s.Apply(7, CompletedObserved{})
	assert.Equal(t, EnteredSucceeded, res.Outcome)
	v, _ = s.Get(7)
	assert.Equal(t, Succeeded, v.State.Kind)
}

func TestStore_ReconcileKeepsRecordAndAdvances(t *testing.T) {
	s := newTestStore()
	s.Apply(3, StartAcknowledged{})

	res := s.Reconcile(backend.Job{ID: 3, Title: "Reindex", Status: "completado"})
	assert.Equal(t, EnteredSucceeded, res.Outcome)

	v, ok := s.Get(3)
	require.True(t, ok)
	require.NotNil(t, v.Job)
	assert.Equal(t, "Reindex", v.Job.Title)
	assert.Equal(t, Succeeded, v.State.Kind)

	// A stale list page must not reopen a finished job.
	res = s.Reconcile(backend.Job{ID: 3, Title: "Reindex", Status: "en_progreso"})
	assert.Equal(t, Dropped, res.Outcome)
	v, _ = s.Get(3)
	assert.Equal(t, Succeeded, v.State.Kind)
}

func TestStore_ReconcileUnknownStatus(t *testing.T) {
	s := newTestStore()
	res := s.Reconcile(backend.Job{ID: 9, Status: "archivado"})
	assert.Equal(t, Unchanged, res.Outcome)

	v, ok := s.Get(9)
	require.True(t, ok)
	assert.Equal(t, Pending, v.State.Kind)
	require.NotNil(t, v.Job)
	assert.Equal(t, "archivado", v.Job.Status)
}

func TestStore_ViewsAreCopies(t *testing.T) {
	s := newTestStore()
	s.Reconcile(backend.Job{ID: 1, Title: "original", Status: "pending"})

	v, _ := s.Get(1)
	v.Job.Title = "mutated"

	again, _ := s.Get(1)
	assert.Equal(t, "original", again.Job.Title)
}

func TestStore_Snapshot(t *testing.T) {
	s := newTestStore()
	for _, id := range []int64{5, 2, 9} {
		s.Apply(id, StartAcknowledged{})
	}
	snap := s.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, []int64{2, 5, 9}, []int64{snap[0].JobID, snap[1].JobID, snap[2].JobID})
	assert.Equal(t, 3, s.Len())
}

func TestStore_WatchDeliversChangesOnly(t *testing.T) {
	s := newTestStore()

	var mu sync.Mutex
	var forJob, forAll []Update
	cancelJob := s.Watch(4, func(u Update) {
		mu.Lock()
		forJob = append(forJob, u)
		mu.Unlock()
	})
	cancelAll := s.Watch(0, func(u Update) {
		mu.Lock()
		forAll = append(forAll, u)
		mu.Unlock()
	})
	defer cancelAll()

	s.Apply(4, ProgressObserved{Percentage: 10})
	s.Apply(4, ProgressObserved{Percentage: 5}) // dropped
	s.Apply(4, ProgressObserved{Percentage: 10})
	s.Apply(8, StartAcknowledged{})

	mu.Lock()
	require.Len(t, forJob, 1)
	assert.Equal(t, EnteredRunning, forJob[0].Outcome)
	assert.Len(t, forAll, 2)
	mu.Unlock()

	cancelJob()
	cancelJob()
	s.Apply(4, CompletedObserved{})

	mu.Lock()
	assert.Len(t, forJob, 1)
	assert.Len(t, forAll, 3)
	mu.Unlock()
}

func TestStore_VersionIncreasesPerChange(t *testing.T) {
	s := newTestStore()
	s.Apply(1, ProgressObserved{Percentage: 10})
	v1, _ := s.Get(1)

	s.Apply(1, ProgressObserved{Percentage: 5})
	v2, _ := s.Get(1)
	assert.Equal(t, v1.Version, v2.Version)

	s.Apply(1, ProgressObserved{Percentage: 30})
	v3, _ := s.Get(1)
	assert.Greater(t, v3.Version, v2.Version)
}

func TestStore_ConcurrentProgressNeverRegresses(t *testing.T) {
	s := newTestStore()

	var wg sync.WaitGroup
	for p := 0; p < 100; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			s.Apply(11, ProgressObserved{Percentage: p})
		}(p)
	}
	wg.Wait()

	v, ok := s.Get(11)
	require.True(t, ok)
	assert.Equal(t, Running, v.State.Kind)
	assert.Equal(t, 99, v.State.Percentage)
}
