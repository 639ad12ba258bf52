package jobstate

import "time"

// State is what the client knows about one job.
type State struct {
	Kind       Kind      `json:"status"`
	Percentage int       `json:"percentage"`
	Phase      string    `json:"phase,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Input is an observation fed to the state machine.
type Input interface {
	input()
}

// StartAcknowledged: the backend accepted a start request.
type StartAcknowledged struct{}

// ProgressObserved: a progress-update event arrived.
type ProgressObserved struct {
	Percentage int
	Phase      string
}

// CompletedObserved: a job-completed event arrived.
type CompletedObserved struct{}

// ErrorObserved: a job-error event arrived.
type ErrorObserved struct {
	Reason string
}

// Fetched: a direct fetch reported the backend's recorded status.
type Fetched struct {
	Kind Kind
}

func (StartAcknowledged) input() {}
func (ProgressObserved) input()  {}
func (CompletedObserved) input() {}
func (ErrorObserved) input()     {}
func (Fetched) input()           {}

// Outcome classifies what an input did to the state.
type Outcome int

const (
	Unchanged Outcome = iota
	Updated
	EnteredRunning
	EnteredSucceeded
	EnteredFailed
	Dropped
)

func (o Outcome) String() string {
	switch o {
	case Unchanged:
		return "unchanged"
	case Updated:
		return "updated"
	case EnteredRunning:
		return "entered_running"
	case EnteredSucceeded:
		return "entered_succeeded"
	case EnteredFailed:
		return "entered_failed"
	case Dropped:
		return "dropped"
	default:
		return "unknown"
	}
}

// Changed reports whether the state differs from before the input.
func (o Outcome) Changed() bool {
	return o != Unchanged && o != Dropped
}

func (o Outcome) EnteredTerminal() bool {
	return o == EnteredSucceeded || o == EnteredFailed
}

// Anomaly names the protocol violation behind a Dropped outcome.
type Anomaly string

const (
	AnomalyNone       Anomaly = ""
	AnomalyRegression Anomaly = "percentage_regression"
	AnomalyInvalid    Anomaly = "invalid_percentage"
	AnomalyTerminal   Anomaly = "terminal"
	AnomalyBackward   Anomaly = "backward"
)

type Result struct {
	State   State
	Outcome Outcome
	Anomaly Anomaly
}

// Transition applies one input to cur. It is the only place lifecycle rules
// live:
//
//   - pending -> running on a start acknowledgement or a progress event
//   - running -> running only for a non-decreasing percentage
//   - a percentage of 100 or more is success
//   - completed -> succeeded, error -> failed
//   - a fetch may move a job forward, never backward
//   - terminal states ignore every event; a fetch may only correct one
//     terminal status into the other
func Transition(cur State, in Input, now time.Time) Result {
	if cur.Kind.Terminal() {
		return transitionTerminal(cur, in, now)
	}

	switch in := in.(type) {
	case StartAcknowledged:
		if cur.Kind == Running {
			return Result{State: cur, Outcome: Unchanged}
		}
		return enter(cur, Running, now)

	case ProgressObserved:
		return progress(cur, in, now)

	case CompletedObserved:
		return enter(cur, Succeeded, now)

	case ErrorObserved:
		next := cur
		next.Reason = in.Reason
		return enter(next, Failed, now)

	case Fetched:
		switch {
		case in.Kind == cur.Kind:
			return Result{State: cur, Outcome: Unchanged}
		case in.Kind < cur.Kind:
			// Only Running -> Pending reaches here.
			return Result{State: cur, Outcome: Dropped, Anomaly: AnomalyBackward}
		default:
			return enter(cur, in.Kind, now)
		}
	}

	return Result{State: cur, Outcome: Unchanged}
}

func transitionTerminal(cur State, in Input, now time.Time) Result {
	f, ok := in.(Fetched)
	if !ok {
		return Result{State: cur, Outcome: Dropped, Anomaly: AnomalyTerminal}
	}
	switch {
	case f.Kind == cur.Kind:
		return Result{State: cur, Outcome: Unchanged}
	case !f.Kind.Terminal():
		return Result{State: cur, Outcome: Dropped, Anomaly: AnomalyBackward}
	default:
		return enter(cur, f.Kind, now)
	}
}

func progress(cur State, in ProgressObserved, now time.Time) Result {
	if in.Percentage < 0 {
		return Result{State: cur, Outcome: Dropped, Anomaly: AnomalyInvalid}
	}
	if cur.Kind == Running && in.Percentage < cur.Percentage {
		return Result{State: cur, Outcome: Dropped, Anomaly: AnomalyRegression}
	}

	next := cur
	next.Percentage = in.Percentage
	if in.Phase != "" {
		next.Phase = in.Phase
	}

	if in.Percentage >= 100 {
		return enter(next, Succeeded, now)
	}
	if cur.Kind == Pending {
		return enter(next, Running, now)
	}
	if next == cur {
		return Result{State: cur, Outcome: Unchanged}
	}
	next.UpdatedAt = now
	return Result{State: next, Outcome: Updated}
}

func enter(next State, kind Kind, now time.Time) Result {
	next.Kind = kind
	next.UpdatedAt = now

	var outcome Outcome
	switch kind {
	case Running:
		outcome = EnteredRunning
	case Succeeded:
		next.Percentage = 100
		next.Reason = ""
		outcome = EnteredSucceeded
	case Failed:
		outcome = EnteredFailed
	default:
		outcome = Updated
	}
	return Result{State: next, Outcome: outcome}
}
