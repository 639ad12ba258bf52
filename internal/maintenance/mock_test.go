package maintenance

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/edvin/maintconsole/internal/backend"
	"github.com/edvin/maintconsole/internal/channel"
)

// ---------- Mock backend ----------

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

// ---------- Fake channel ----------

// fakeChannel records subscriptions and lets tests push events and state
// changes synchronously.
type fakeChannel struct {
	mu         sync.Mutex
	handlers   map[string]channel.Handler
	listeners  []func(channel.State)
	state      channel.State
	reconnects int
	unsubs     int
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{handlers: map[string]channel.Handler{}}
}

func (f *fakeChannel) Subscribe(topic string, jobID int64, h channel.Handler) (*channel.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[topic] = h
	return &channel.Subscription{}, nil
}

func (f *fakeChannel) Unsubscribe(*channel.Subscription) {
	f.mu.Lock()
	f.unsubs++
	f.mu.Unlock()
}

func (f *fakeChannel) OnStateChange(fn func(channel.State)) {
	f.mu.Lock()
	f.listeners = append(f.listeners, fn)
	f.mu.Unlock()
}

func (f *fakeChannel) State() channel.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeChannel) Reconnect() {
	f.mu.Lock()
	f.reconnects++
	f.mu.Unlock()
}

func (f *fakeChannel) setState(s channel.State) {
	f.mu.Lock()
	f.state = s
	listeners := append([]func(channel.State){}, f.listeners...)
	f.mu.Unlock()
	for _, fn := range listeners {
		fn(s)
	}
}

func (f *fakeChannel) emit(ev channel.Event) {
	f.mu.Lock()
	h := f.handlers[ev.Topic]
	f.mu.Unlock()
	if h != nil {
		h(ev)
	}
}

func (f *fakeChannel) progress(jobID int64, pct int) {
	f.emit(channel.Event{Topic: channel.TopicProgress, JobID: jobID,
		Progress: &channel.ProgressEvent{JobID: channel.JobID(jobID), Percentage: pct}})
}

func (f *fakeChannel) completed(jobID int64) {
	f.emit(channel.Event{Topic: channel.TopicCompleted, JobID: jobID,
		Completed: &channel.CompletedEvent{JobID: channel.JobID(jobID)}})
}

func (f *fakeChannel) failed(jobID int64, reason string) {
	f.emit(channel.Event{Topic: channel.TopicError, JobID: jobID,
		Error: &channel.ErrorEvent{JobID: channel.JobID(jobID), Error: reason}})
}
