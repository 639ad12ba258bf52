package maintenance

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/edvin/maintconsole/internal/channel"
	"github.com/edvin/maintconsole/internal/jobstate"
)

// Notification is raised when a job starts, succeeds or fails.
type Notification struct {
	JobID   int64         `json:"job_id"`
	Title   string        `json:"title,omitempty"`
	Status  jobstate.Kind `json:"status"`
	Reason  string        `json:"reason,omitempty"`
	Message string        `json:"message"`
}

type Notifier interface {
	Notify(Notification)
}

type NotifierFunc func(Notification)

func (f NotifierFunc) Notify(n Notification) { f(n) }

// LogNotifier writes notifications to a logger.
type LogNotifier struct {
	Logger zerolog.Logger
}

func (l LogNotifier) Notify(n Notification) {
	ev := l.Logger.Info()
	if n.Status == jobstate.Failed {
		ev = l.Logger.Warn()
	}
	ev.Int64("job_id", n.JobID).Str("status", n.Status.String()).Str("reason", n.Reason).Msg(n.Message)
}

// Subscriber is the part of the status channel the tracker uses.
type Subscriber interface {
	Subscribe(topic string, jobID int64, handler channel.Handler) (*channel.Subscription, error)
	Unsubscribe(sub *channel.Subscription)
	OnStateChange(fn func(channel.State))
	State() channel.State
	Reconnect()
}

// Tracker routes channel events into the store, raises notifications and
// keeps the list fresh: a terminal event triggers a refresh, a lost channel
// turns on polling, and every (re)connect reconciles what may have been
// missed.
type Tracker struct {
	ch       Subscriber
	store    *jobstate.Store
	list     *List
	poller   *Poller
	notifier Notifier
	logger   zerolog.Logger

	mu          sync.Mutex
	started     bool
	stopped     bool
	subs        []*channel.Subscription
	cancelWatch func()
	cancel      context.CancelFunc
	done        chan struct{}
	refreshes   chan struct{}
}

// NewTracker builds a tracker that reconciles every pollInterval while the
// channel is down.
func NewTracker(ch Subscriber, store *jobstate.Store, list *List, pollInterval time.Duration, notifier Notifier, logger zerolog.Logger) *Tracker {
	if notifier == nil {
		notifier = LogNotifier{Logger: logger}
	}
	t := &Tracker{
		ch:        ch,
		store:     store,
		list:      list,
		notifier:  notifier,
		logger:    logger.With().Str("component", "tracker").Logger(),
		refreshes: make(chan struct{}, 1),
	}
	t.poller = NewPoller(RefreshFunc(t.reconcile), pollInterval, logger)
	return t
}

// Start subscribes to every job event. It does not wait for the channel to
// connect.
func (t *Tracker) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return errors.New("tracker already started")
	}
	t.started = true
	loopCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.done = make(chan struct{})
	t.mu.Unlock()

	go t.refreshLoop(loopCtx, t.done)

	t.ch.OnStateChange(t.onChannelState)
	cancelWatch := t.store.Watch(0, t.onUpdate)

	var subs []*channel.Subscription
	for _, topic := range []string{channel.TopicProgress, channel.TopicError, channel.TopicCompleted} {
		sub, err := t.ch.Subscribe(topic, 0, t.handle)
		if err != nil {
			for _, s := range subs {
				t.ch.Unsubscribe(s)
			}
			cancelWatch()
			t.Stop()
			return fmt.Errorf("subscribing to %s: %w", topic, err)
		}
		subs = append(subs, sub)
	}

	t.mu.Lock()
	t.subs = subs
	t.cancelWatch = cancelWatch
	t.mu.Unlock()
	return nil
}

// Stop releases the tracker's subscriptions. The channel itself stays open
// for its owner.
func (t *Tracker) Stop() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	subs, cancelWatch, cancel, done := t.subs, t.cancelWatch, t.cancel, t.done
	t.subs, t.cancelWatch = nil, nil
	t.mu.Unlock()

	for _, s := range subs {
		t.ch.Unsubscribe(s)
	}
	if cancelWatch != nil {
		cancelWatch()
	}
	t.poller.Stop()
	if cancel != nil {
		cancel()
		<-done
	}
}

// Refresh reconciles on demand. It works whether or not the channel is
// connected and nudges a channel that gave up to try again.
func (t *Tracker) Refresh(ctx context.Context) error {
	if t.ch.State() == channel.Disconnected {
		t.ch.Reconnect()
	}
	return t.reconcile(ctx)
}

// Polling reports whether the list is being polled in place of the channel.
func (t *Tracker) Polling() bool {
	return t.poller.Running()
}

func (t *Tracker) ChannelState() channel.State {
	return t.ch.State()
}

func (t *Tracker) handle(ev channel.Event) {
	var in jobstate.Input
	switch {
	case ev.Progress != nil:
		in = jobstate.ProgressObserved{Percentage: ev.Progress.Percentage, Phase: ev.Progress.Phase}
	case ev.Error != nil:
		in = jobstate.ErrorObserved{Reason: ev.Error.Error}
	case ev.Completed != nil:
		in = jobstate.CompletedObserved{}
	default:
		return
	}

	res := t.store.Apply(ev.JobID, in)
	if res.Outcome.EnteredTerminal() {
		t.requestRefresh()
	}
}

func (t *Tracker) onUpdate(u jobstate.Update) {
	var msg string
	switch u.Outcome {
	case jobstate.EnteredRunning:
		msg = "maintenance job started"
	case jobstate.EnteredSucceeded:
		msg = "maintenance job completed successfully"
	case jobstate.EnteredFailed:
		msg = "maintenance job failed"
	default:
		return
	}

	n := Notification{JobID: u.JobID, Status: u.State.Kind, Reason: u.State.Reason, Message: msg}
	if u.Job != nil {
		n.Title = u.Job.Title
	}
	notificationsTotal.WithLabelValues(u.State.Kind.String()).Inc()
	t.notifier.Notify(n)
}

func (t *Tracker) onChannelState(s channel.State) {
	t.mu.Lock()
	stopped := t.stopped
	t.mu.Unlock()
	if stopped {
		return
	}

	switch s {
	case channel.Connected:
		t.poller.Stop()
		t.requestRefresh()
	case channel.Disconnected:
		t.logger.Warn().Msg("job status channel unavailable, falling back to polling")
		t.poller.Start()
	}
}

func (t *Tracker) requestRefresh() {
	select {
	case t.refreshes <- struct{}{}:
	default:
	}
}

func (t *Tracker) refreshLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.refreshes:
			if err := t.reconcile(ctx); err != nil && ctx.Err() == nil {
				t.logger.Warn().Err(err).Msg("reconciliation failed")
			}
		}
	}
}

// reconcile refreshes the list and fetches every unfinished job that is not
// on the current page.
func (t *Tracker) reconcile(ctx context.Context) error {
	listErr := t.list.Refresh(ctx)

	onPage := map[int64]bool{}
	for _, row := range t.list.Rows() {
		onPage[row.Job.ID] = true
	}
	var ids []int64
	for _, v := range t.store.Snapshot() {
		if !v.State.Kind.Terminal() && !onPage[v.JobID] {
			ids = append(ids, v.JobID)
		}
	}

	var syncErr error
	if len(ids) > 0 {
		syncErr = t.list.Sync(ctx, ids)
	}
	return errors.Join(listErr, syncErr)
}
