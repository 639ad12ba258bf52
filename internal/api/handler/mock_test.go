package handler

import (
	"context"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/mock"

	"github.com/edvin/maintconsole/internal/backend"
	"github.com/edvin/maintconsole/internal/channel"
)

// mockAPI implements maintenance.JobsAPI and Authenticator.
type mockAPI struct {
	mock.Mock
}

func (m *mockAPI) ListJobs(ctx context.Context, filter backend.JobFilter, page backend.Page) (*backend.JobPage, error) {
	args := m.Called(ctx, filter, page)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*backend.JobPage), args.Error(1)
}

func (m *mockAPI) GetJob(ctx context.Context, id int64) (*backend.Job, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*backend.Job), args.Error(1)
}

func (m *mockAPI) ScheduleJob(ctx context.Context, req backend.ScheduleJobRequest) (*backend.Job, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*backend.Job), args.Error(1)
}

func (m *mockAPI) StartJob(ctx context.Context, id int64) (*backend.StartAck, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*backend.StartAck), args.Error(1)
}

func (m *mockAPI) UpdateJobStatus(ctx context.Context, id int64, status string) (*backend.Job, error) {
	args := m.Called(ctx, id, status)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*backend.Job), args.Error(1)
}

func (m *mockAPI) GenerateReport(ctx context.Context, id int64) (*backend.Report, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*backend.Report), args.Error(1)
}

func (m *mockAPI) Login(ctx context.Context, username, password string) (*backend.LoginResponse, error) {
	args := m.Called(ctx, username, password)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*backend.LoginResponse), args.Error(1)
}

// fakeStatus implements LiveStatus.
type fakeStatus struct {
	mu        sync.Mutex
	state     channel.State
	polling   bool
	refreshes int
	err       error
	refresh   func(ctx context.Context) error
}

func (f *fakeStatus) Refresh(ctx context.Context) error {
	f.mu.Lock()
	f.refreshes++
	fn, err := f.refresh, f.err
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx)
	}
	return err
}

func (f *fakeStatus) ChannelState() channel.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeStatus) Polling() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.polling
}

// mockDB implements audit.DB.
type mockDB struct {
	mock.Mock
}

func (m *mockDB) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgconn.CommandTag), args.Error(1)
}

func (m *mockDB) Query(ctx context.Context, sql string, arguments ...any) (pgx.Rows, error) {
	args := m.Called(ctx, sql, arguments)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(pgx.Rows), args.Error(1)
}

// mockRows implements pgx.Rows over scan functions.
type mockRows struct {
	scans []func(dest ...any) error
	idx   int
}

func newMockRows(scans ...func(dest ...any) error) *mockRows {
	return &mockRows{scans: scans, idx: -1}
}

func (m *mockRows) Next() bool {
	m.idx++
	return m.idx < len(m.scans)
}

func (m *mockRows) Scan(dest ...any) error                       { return m.scans[m.idx](dest...) }
func (m *mockRows) Err() error                                   { return nil }
func (m *mockRows) Close()                                       {}
func (m *mockRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (m *mockRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (m *mockRows) RawValues() [][]byte                          { return nil }
func (m *mockRows) Values() ([]any, error)                       { return nil, nil }
func (m *mockRows) Conn() *pgx.Conn                              { return nil }
