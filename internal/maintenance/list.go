// Package maintenance keeps the console's view of maintenance jobs in step
// with the backend: the paged job list, periodic polling, and the tracker
// that routes channel events into the job state store.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/edvin/maintconsole/internal/backend"
	"github.com/edvin/maintconsole/internal/jobstate"
)

var (
	ErrActionNotAllowed = errors.New("action not allowed in the job's current state")
	ErrInvalidStatus    = errors.New("invalid job status")
)

// JobsAPI is the part of the backend client the console drives.
type JobsAPI interface {
	ListJobs(ctx context.Context, filter backend.JobFilter, page backend.Page) (*backend.JobPage, error)
	GetJob(ctx context.Context, id int64) (*backend.Job, error)
	ScheduleJob(ctx context.Context, req backend.ScheduleJobRequest) (*backend.Job, error)
	StartJob(ctx context.Context, id int64) (*backend.StartAck, error)
	UpdateJobStatus(ctx context.Context, id int64, status string) (*backend.Job, error)
	GenerateReport(ctx context.Context, id int64) (*backend.Report, error)
}

// Row is one line of the job table: the fetched record merged with the
// state machine's view of it.
type Row struct {
	Job     backend.Job    `json:"job"`
	State   jobstate.State `json:"state"`
	Version uint64         `json:"version"`
}

func (r Row) CanStart() bool          { return r.State.Kind == jobstate.Pending }
func (r Row) CanGenerateReport() bool { return r.State.Kind == jobstate.Succeeded }

// PageInfo is the pagination metadata of the last successful refresh.
type PageInfo struct {
	Page        int       `json:"page"`
	PageSize    int       `json:"page_size"`
	TotalPages  int       `json:"total_pages"`
	Total       int       `json:"total"`
	RefreshedAt time.Time `json:"refreshed_at"`
}

type List struct {
	api    JobsAPI
	store  *jobstate.Store
	logger zerolog.Logger
	group  singleflight.Group

	mu     sync.RWMutex
	filter backend.JobFilter
	page   backend.Page
	ids    []int64
	info   PageInfo
}

func NewList(api JobsAPI, store *jobstate.Store, logger zerolog.Logger) *List {
	return &List{
		api:    api,
		store:  store,
		logger: logger.With().Str("component", "job-list").Logger(),
		page:   backend.Page{Number: 1, Size: backend.DefaultPageSize},
	}
}

func (l *List) Query() (backend.JobFilter, backend.Page) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.filter, l.page
}

// SetFilter replaces the filter and goes back to the first page.
func (l *List) SetFilter(f backend.JobFilter) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.filter = f
	l.page.Number = 1
}

func (l *List) SetPage(p backend.Page) {
	if p.Number < 1 {
		p.Number = 1
	}
	if p.Size < 1 {
		p.Size = backend.DefaultPageSize
	}
	if p.Size > backend.MaxPageSize {
		p.Size = backend.MaxPageSize
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.page = p
}

// Refresh re-fetches the current page and feeds every row to the store.
// Concurrent refreshes of the same query share one request.
func (l *List) Refresh(ctx context.Context) error {
	filter, page := l.Query()
	key := queryKey(filter, page)

	_, err, shared := l.group.Do(key, func() (any, error) {
		return nil, l.refresh(ctx, filter, page)
	})
	if shared {
		refreshesTotal.WithLabelValues("coalesced").Inc()
	}
	return err
}

func (l *List) refresh(ctx context.Context, filter backend.JobFilter, page backend.Page) error {
	start := time.Now()
	resp, err := l.api.ListJobs(ctx, filter, page)
	if err != nil {
		refreshesTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("refreshing job list: %w", err)
	}

	ids := make([]int64, 0, len(resp.Items))
	for _, job := range resp.Items {
		l.store.Reconcile(job)
		ids = append(ids, job.ID)
	}

	l.mu.Lock()
	// A filter or page change while the request was in flight wins.
	if queryKey(l.filter, l.page) == queryKey(filter, page) {
		l.ids = ids
		l.info = PageInfo{
			Page:        resp.Page,
			PageSize:    page.Size,
			TotalPages:  resp.TotalPages,
			Total:       resp.Total,
			RefreshedAt: time.Now(),
		}
	}
	l.mu.Unlock()

	refreshesTotal.WithLabelValues("ok").Inc()
	l.logger.Debug().Int("rows", len(ids)).Dur("took", time.Since(start)).Msg("job list refreshed")
	return nil
}

// Sync fetches the given jobs individually and reconciles them. It covers
// jobs that are tracked but not on the current page.
func (l *List) Sync(ctx context.Context, ids []int64) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, id := range ids {
		g.Go(func() error {
			job, err := l.api.GetJob(ctx, id)
			if err != nil {
				if backend.IsNotFound(err) {
					return nil
				}
				return fmt.Errorf("fetching job %d: %w", id, err)
			}
			l.store.Reconcile(*job)
			return nil
		})
	}
	return g.Wait()
}

// Rows returns the current page in backend order.
func (l *List) Rows() []Row {
	l.mu.RLock()
	ids := append([]int64(nil), l.ids...)
	l.mu.RUnlock()

	rows := make([]Row, 0, len(ids))
	for _, id := range ids {
		if row, ok := l.Row(id); ok {
			rows = append(rows, row)
		}
	}
	return rows
}

func (l *List) Row(id int64) (Row, bool) {
	v, ok := l.store.Get(id)
	if !ok || v.Job == nil {
		return Row{}, false
	}
	return Row{Job: *v.Job, State: v.State, Version: v.Version}, true
}

func (l *List) Info() PageInfo {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.info
}

// Get fetches one job from the backend and reconciles it.
func (l *List) Get(ctx context.Context, id int64) (Row, error) {
	job, err := l.api.GetJob(ctx, id)
	if err != nil {
		return Row{}, err
	}
	l.store.Reconcile(*job)
	row, _ := l.Row(id)
	return row, nil
}

func (l *List) Schedule(ctx context.Context, req backend.ScheduleJobRequest) (Row, error) {
	job, err := l.api.ScheduleJob(ctx, req)
	if err != nil {
		return Row{}, err
	}
	l.store.Reconcile(*job)
	row, _ := l.Row(job.ID)
	return row, nil
}

// Start asks the backend to start a pending job. The acknowledgement moves
// the job to running; its outcome arrives on the channel.
func (l *List) Start(ctx context.Context, id int64) (*backend.StartAck, error) {
	if v, ok := l.store.Get(id); ok && v.State.Kind != jobstate.Pending {
		return nil, fmt.Errorf("%w: job %d is %s", ErrActionNotAllowed, id, v.State.Kind)
	}
	ack, err := l.api.StartJob(ctx, id)
	if err != nil {
		return nil, err
	}
	l.store.Apply(id, jobstate.StartAcknowledged{})
	return ack, nil
}

// GenerateReport is only offered for succeeded jobs.
func (l *List) GenerateReport(ctx context.Context, id int64) (*backend.Report, error) {
	if v, ok := l.store.Get(id); ok && v.State.Kind != jobstate.Succeeded {
		return nil, fmt.Errorf("%w: job %d is %s", ErrActionNotAllowed, id, v.State.Kind)
	}
	return l.api.GenerateReport(ctx, id)
}

// SetStatus performs an administrative status change and reconciles the
// returned record.
func (l *List) SetStatus(ctx context.Context, id int64, status string) (Row, error) {
	if _, ok := jobstate.ParseStatus(status); !ok {
		return Row{}, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	job, err := l.api.UpdateJobStatus(ctx, id, status)
	if err != nil {
		return Row{}, err
	}
	l.store.Reconcile(*job)
	row, _ := l.Row(id)
	return row, nil
}

func queryKey(f backend.JobFilter, p backend.Page) string {
	var from, to string
	if f.From != nil {
		from = f.From.UTC().Format(time.RFC3339)
	}
	if f.To != nil {
		to = f.To.UTC().Format(time.RFC3339)
	}
	return fmt.Sprintf("%d|%d|%s|%s|%s|%s|%s", p.Number, p.Size, f.Title, f.Database, f.Status, from, to)
}
