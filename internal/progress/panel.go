// Package progress presents the live state of one maintenance job.
package progress

import (
	"sync"

	"github.com/edvin/maintconsole/internal/jobstate"
)

// Source is the read side of the job state store.
type Source interface {
	Get(jobID int64) (jobstate.View, bool)
	Watch(jobID int64, fn jobstate.WatchFunc) func()
}

// Panel follows exactly one job at a time. It only reads: closing a panel
// removes its watch and leaves the job and the store untouched.
type Panel struct {
	src Source

	mu      sync.Mutex
	jobID   int64
	current jobstate.View
	cancel  func()
	updates chan jobstate.View
	closed  bool
}

// Open binds a new panel to jobID and seeds it with the cached state.
func Open(src Source, jobID int64) *Panel {
	p := &Panel{
		src:     src,
		updates: make(chan jobstate.View, 1),
	}
	p.Rebind(jobID)
	return p
}

// Rebind points the panel at another job. Updates for the previous job stop
// immediately.
func (p *Panel) Rebind(jobID int64) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	if p.cancel != nil {
		p.cancel()
	}
	p.jobID = jobID
	p.current = jobstate.View{JobID: jobID, State: jobstate.State{Kind: jobstate.Pending}}
	p.mu.Unlock()

	// Watch before reading so nothing published in between is lost.
	cancel := p.src.Watch(jobID, func(u jobstate.Update) { p.offer(u.View) })

	p.mu.Lock()
	if p.closed || p.jobID != jobID {
		p.mu.Unlock()
		cancel()
		return
	}
	p.cancel = cancel
	p.mu.Unlock()

	if v, ok := p.src.Get(jobID); ok {
		p.offer(v)
	} else {
		p.mu.Lock()
		p.publishLocked()
		p.mu.Unlock()
	}
}

func (p *Panel) JobID() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.jobID
}

// Current returns the most recent state shown by the panel.
func (p *Panel) Current() jobstate.View {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// Updates delivers the latest view whenever it changes. Intermediate views
// may be skipped; the channel is closed by Close.
func (p *Panel) Updates() <-chan jobstate.View {
	return p.updates
}

func (p *Panel) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	close(p.updates)
}

// offer shows v unless it belongs to another job or is older than what is
// already displayed.
func (p *Panel) offer(v jobstate.View) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || v.JobID != p.jobID {
		return
	}
	if v.Version != 0 && v.Version <= p.current.Version {
		return
	}
	p.current = v
	p.publishLocked()
}

func (p *Panel) publishLocked() {
	select {
	case p.updates <- p.current:
	default:
		select {
		case <-p.updates:
		default:
		}
		p.updates <- p.current
	}
}
