package jobstate

import (
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/edvin/maintconsole/internal/backend"
)

// View is a read-only copy of one cached job. Version increases with every
// change of the job, so consumers can discard views older than one they
// already hold.
type View struct {
	JobID   int64        `json:"job_id"`
	Version uint64       `json:"version"`
	State   State        `json:"state"`
	Job     *backend.Job `json:"job,omitempty"`
}

// Update is delivered to watchers after a visible change.
type Update struct {
	View
	Outcome Outcome
}

type WatchFunc func(Update)

type record struct {
	version uint64
	state   State
	job     *backend.Job
}

// Store is the client-side read-through cache of job state. Apply and
// Reconcile are the only mutators; everything handed out is a copy.
type Store struct {
	logger zerolog.Logger
	now    func() time.Time

	mu        sync.RWMutex
	jobs      map[int64]*record
	watchers  map[int64]map[uint64]WatchFunc
	nextWatch uint64
}

func NewStore(logger zerolog.Logger) *Store {
	return &Store{
		logger:   logger,
		now:      time.Now,
		jobs:     map[int64]*record{},
		watchers: map[int64]map[uint64]WatchFunc{},
	}
}

// Apply feeds one observation for jobID to the state machine.
func (s *Store) Apply(jobID int64, in Input) Result {
	s.mu.Lock()
	rec := s.recordLocked(jobID)
	res := Transition(rec.state, in, s.now())
	rec.state = res.State
	if res.Outcome.Changed() {
		rec.version++
	}
	view := viewOf(jobID, rec)
	s.mu.Unlock()

	s.observe(jobID, in, res)
	if res.Outcome.Changed() {
		s.notify(Update{View: view, Outcome: res.Outcome})
	}
	return res
}

// Reconcile stores a record fetched from the backend and applies its status
// as a Fetched input.
func (s *Store) Reconcile(job backend.Job) Result {
	kind, ok := ParseStatus(job.Status)

	s.mu.Lock()
	rec := s.recordLocked(job.ID)
	recordChanged := rec.job == nil || !reflect.DeepEqual(*rec.job, job)
	jobCopy := job
	rec.job = &jobCopy

	res := Result{State: rec.state, Outcome: Unchanged}
	if ok {
		res = Transition(rec.state, Fetched{Kind: kind}, s.now())
		rec.state = res.State
	}
	if res.Outcome.Changed() || recordChanged {
		rec.version++
	}
	view := viewOf(job.ID, rec)
	s.mu.Unlock()

	if !ok {
		anomaliesTotal.WithLabelValues("unknown_status").Inc()
		s.logger.Debug().Int64("job_id", job.ID).Str("status", job.Status).Msg("unknown job status from backend")
	} else {
		s.observe(job.ID, Fetched{Kind: kind}, res)
	}

	if res.Outcome.Changed() || recordChanged {
		s.notify(Update{View: view, Outcome: res.Outcome})
	}
	return res
}

func (s *Store) Get(jobID int64) (View, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.jobs[jobID]
	if !ok {
		return View{}, false
	}
	return viewOf(jobID, rec), true
}

// Snapshot returns every cached job ordered by id.
func (s *Store) Snapshot() []View {
	s.mu.RLock()
	views := make([]View, 0, len(s.jobs))
	for id, rec := range s.jobs {
		views = append(views, viewOf(id, rec))
	}
	s.mu.RUnlock()

	sort.Slice(views, func(i, j int) bool { return views[i].JobID < views[j].JobID })
	return views
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

// Watch registers fn for changes of jobID, or of every job when jobID is 0.
// fn runs synchronously on the mutating goroutine and must not block.
// Concurrent mutations may deliver updates out of order; compare
// View.Version. The returned func removes the watch and is safe to call
// more than once.
func (s *Store) Watch(jobID int64, fn WatchFunc) func() {
	s.mu.Lock()
	s.nextWatch++
	id := s.nextWatch
	if s.watchers[jobID] == nil {
		s.watchers[jobID] = map[uint64]WatchFunc{}
	}
	s.watchers[jobID][id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.watchers[jobID], id)
			if len(s.watchers[jobID]) == 0 {
				delete(s.watchers, jobID)
			}
		})
	}
}

func (s *Store) recordLocked(jobID int64) *record {
	rec, ok := s.jobs[jobID]
	if !ok {
		rec = &record{state: State{Kind: Pending, UpdatedAt: s.now()}}
		s.jobs[jobID] = rec
	}
	return rec
}

func (s *Store) notify(u Update) {
	s.mu.RLock()
	fns := make([]WatchFunc, 0, len(s.watchers[u.JobID])+len(s.watchers[0]))
	for _, fn := range s.watchers[u.JobID] {
		fns = append(fns, fn)
	}
	if u.JobID != 0 {
		for _, fn := range s.watchers[0] {
			fns = append(fns, fn)
		}
	}
	s.mu.RUnlock()

	for _, fn := range fns {
		fn(u)
	}
}

func (s *Store) observe(jobID int64, in Input, res Result) {
	if res.Outcome == Dropped {
		anomaliesTotal.WithLabelValues(string(res.Anomaly)).Inc()
		s.logger.Debug().
			Int64("job_id", jobID).
			Str("anomaly", string(res.Anomaly)).
			Str("status", res.State.Kind.String()).
			Str("input", inputName(in)).
			Msg("dropped job event")
		return
	}
	if res.Outcome.Changed() && res.Outcome != Updated {
		transitionsTotal.WithLabelValues(res.State.Kind.String()).Inc()
	}
}

func viewOf(jobID int64, rec *record) View {
	v := View{JobID: jobID, Version: rec.version, State: rec.state}
	if rec.job != nil {
		j := *rec.job
		v.Job = &j
	}
	return v
}

func inputName(in Input) string {
	switch in.(type) {
	case StartAcknowledged:
		return "start_ack"
	case ProgressObserved:
		return "progress"
	case CompletedObserved:
		return "completed"
	case ErrorObserved:
		return "error"
	case Fetched:
		return "fetch"
	default:
		return "unknown"
	}
}
