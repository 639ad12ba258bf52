package handler

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/edvin/maintconsole/internal/api/request"
	"github.com/edvin/maintconsole/internal/api/response"
	"github.com/edvin/maintconsole/internal/channel"
	"github.com/edvin/maintconsole/internal/jobstate"
	"github.com/edvin/maintconsole/internal/maintenance"
)

// Frame types pushed to views.
const (
	FrameJob          = "job"
	FrameNotification = "notification"
	FrameChannel      = "channel"
	FrameNavigate     = "navigate"
)

const (
	viewerBuffer = 64
	writeTimeout = 5 * time.Second
)

// Frame is one message on a view's event stream.
type Frame struct {
	Type         string                    `json:"type"`
	Job          *jobstate.View            `json:"job,omitempty"`
	Notification *maintenance.Notification `json:"notification,omitempty"`
	Channel      string                    `json:"channel,omitempty"`
	Path         string                    `json:"path,omitempty"`
}

// JobSource provides the cached job states a new view starts from.
type JobSource interface {
	Get(jobID int64) (jobstate.View, bool)
	Snapshot() []jobstate.View
}

// Hub fans job updates, notifications and navigation out to the views
// connected to the event stream. A view leaving never affects the jobs it
// was following.
type Hub struct {
	src     JobSource
	logger  zerolog.Logger
	origins []string

	mu      sync.Mutex
	viewers map[*viewer]struct{}
	closed  bool
}

type viewer struct {
	jobID  int64
	send   chan Frame
	reason string
}

// NewHub creates a hub. origins are host patterns allowed to open the event
// stream from another origin.
func NewHub(src JobSource, origins []string, logger zerolog.Logger) *Hub {
	return &Hub{
		src:     src,
		logger:  logger.With().Str("component", "event-hub").Logger(),
		origins: origins,
		viewers: make(map[*viewer]struct{}),
	}
}

// Viewers returns the number of connected views.
func (h *Hub) Viewers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.viewers)
}

// PublishUpdate is a jobstate.WatchFunc.
func (h *Hub) PublishUpdate(u jobstate.Update) {
	view := u.View
	h.broadcast(u.JobID, Frame{Type: FrameJob, Job: &view})
}

// Notify implements maintenance.Notifier.
func (h *Hub) Notify(n maintenance.Notification) {
	h.broadcast(n.JobID, Frame{Type: FrameNotification, Notification: &n})
}

func (h *Hub) ChannelState(s channel.State) {
	h.broadcast(0, Frame{Type: FrameChannel, Channel: s.String()})
}

// Navigate implements session.Navigator: every view is sent to path.
func (h *Hub) Navigate(path string) {
	h.broadcast(0, Frame{Type: FrameNavigate, Path: path})
}

// Close disconnects every view and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for v := range h.viewers {
		h.dropLocked(v, "server shutting down")
	}
}

// broadcast delivers f to every view following jobID, or to every view when
// jobID is zero. Views that cannot keep up are disconnected.
func (h *Hub) broadcast(jobID int64, f Frame) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for v := range h.viewers {
		if jobID != 0 && v.jobID != 0 && v.jobID != jobID {
			continue
		}
		select {
		case v.send <- f:
		default:
			h.logger.Warn().Int64("job_id", v.jobID).Msg("view too slow, disconnecting")
			h.dropLocked(v, "too slow")
		}
	}
}

func (h *Hub) register(v *viewer) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.viewers[v] = struct{}{}
	return true
}

func (h *Hub) unregister(v *viewer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.viewers[v]; ok {
		delete(h.viewers, v)
		close(v.send)
	}
}

func (h *Hub) dropLocked(v *viewer, reason string) {
	delete(h.viewers, v)
	v.reason = reason
	close(v.send)
}

// Serve godoc
//
//	@Summary		Live job state
//	@Description	Upgrades to WebSocket and streams Frame messages until the view goes away. With job_id only that job's updates and notifications are sent.
//	@Tags			Events
//	@Param			job_id	query		int	false	"Follow one job"
//	@Success		101		{object}	Frame
//	@Failure		400		{object}	response.ErrorResponse
//	@Router			/maintenance/events [get]
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request) {
	var jobID int64
	if raw := r.URL.Query().Get("job_id"); raw != "" {
		id, err := request.ParseJobID(raw)
		if err != nil {
			response.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		jobID = id
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		h.logger.Error().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer ws.CloseNow()

	v := &viewer{jobID: jobID, send: make(chan Frame, viewerBuffer)}
	if !h.register(v) {
		ws.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	defer h.unregister(v)

	// Views only send close frames.
	ctx := ws.CloseRead(r.Context())

	seen := make(map[int64]uint64)
	for _, view := range h.initial(jobID) {
		if err := h.write(ctx, ws, Frame{Type: FrameJob, Job: &view}, seen); err != nil {
			return
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-v.send:
			if !ok {
				ws.Close(websocket.StatusGoingAway, v.reason)
				return
			}
			if err := h.write(ctx, ws, f, seen); err != nil {
				return
			}
		}
	}
}

func (h *Hub) initial(jobID int64) []jobstate.View {
	if jobID == 0 {
		return h.src.Snapshot()
	}
	if view, ok := h.src.Get(jobID); ok {
		return []jobstate.View{view}
	}
	return []jobstate.View{{JobID: jobID, State: jobstate.State{Kind: jobstate.Pending}}}
}

// write sends f unless it is a job frame older than one already sent.
func (h *Hub) write(ctx context.Context, ws *websocket.Conn, f Frame, seen map[int64]uint64) error {
	if f.Job != nil && f.Job.Version != 0 {
		if f.Job.Version <= seen[f.Job.JobID] {
			return nil
		}
		seen[f.Job.JobID] = f.Job.Version
	}

	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, ws, f)
}
