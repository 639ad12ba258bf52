package channel

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Topics published by the job status service.
const (
	TopicProgress  = "progress-update"
	TopicError     = "job-error"
	TopicCompleted = "job-completed"
)

var knownTopics = map[string]bool{
	TopicProgress:  true,
	TopicError:     true,
	TopicCompleted: true,
}

// JobID decodes from a JSON number or a JSON string holding a number.
type JobID int64

func (id *JobID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		b = []byte(s)
	}
	n, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid job id %s", string(b))
	}
	*id = JobID(n)
	return nil
}

type ProgressEvent struct {
	JobID      JobID  `json:"job_id"`
	Percentage int    `json:"percentage"`
	Phase      string `json:"phase,omitempty"`
}

// UnmarshalJSON accepts any JSON number as the percentage and floors it, so
// 99.9 is still running and 100.0 completes.
func (p *ProgressEvent) UnmarshalJSON(b []byte) error {
	var raw struct {
		JobID      JobID   `json:"job_id"`
		Percentage float64 `json:"percentage"`
		Phase      string  `json:"phase"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	pct := math.Floor(raw.Percentage)
	if pct > math.MaxInt32 {
		pct = math.MaxInt32
	}
	if pct < math.MinInt32 {
		pct = math.MinInt32
	}
	*p = ProgressEvent{JobID: raw.JobID, Percentage: int(pct), Phase: raw.Phase}
	return nil
}

type ErrorEvent struct {
	JobID JobID  `json:"job_id"`
	Error string `json:"error"`
}

type CompletedEvent struct {
	JobID JobID `json:"job_id"`
}

// Event is one decoded frame. Exactly one of Progress, Error or Completed is
// set, matching Topic.
type Event struct {
	Topic     string
	JobID     int64
	Progress  *ProgressEvent
	Error     *ErrorEvent
	Completed *CompletedEvent
}

type Handler func(Event)

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func decodeFrame(raw []byte) (Event, error) {
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Event{}, fmt.Errorf("decoding frame: %w", err)
	}
	if len(f.Data) == 0 {
		return Event{}, fmt.Errorf("frame %q has no data", f.Event)
	}

	ev := Event{Topic: f.Event}
	switch f.Event {
	case TopicProgress:
		var p ProgressEvent
		if err := json.Unmarshal(f.Data, &p); err != nil {
			return Event{}, fmt.Errorf("decoding %s: %w", f.Event, err)
		}
		ev.Progress, ev.JobID = &p, int64(p.JobID)
	case TopicError:
		var e ErrorEvent
		if err := json.Unmarshal(f.Data, &e); err != nil {
			return Event{}, fmt.Errorf("decoding %s: %w", f.Event, err)
		}
		ev.Error, ev.JobID = &e, int64(e.JobID)
	case TopicCompleted:
		var c CompletedEvent
		if err := json.Unmarshal(f.Data, &c); err != nil {
			return Event{}, fmt.Errorf("decoding %s: %w", f.Event, err)
		}
		ev.Completed, ev.JobID = &c, int64(c.JobID)
	default:
		return Event{}, fmt.Errorf("unknown topic %q", f.Event)
	}
	if ev.JobID <= 0 {
		return Event{}, fmt.Errorf("%s frame without job id", f.Event)
	}
	return ev, nil
}
