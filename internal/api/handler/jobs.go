package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/edvin/maintconsole/internal/api/request"
	"github.com/edvin/maintconsole/internal/api/response"
	"github.com/edvin/maintconsole/internal/backend"
	"github.com/edvin/maintconsole/internal/maintenance"
)

// Refresher re-synchronizes the job list, reconnecting the status channel
// first when it has given up.
type Refresher interface {
	Refresh(ctx context.Context) error
}

type Jobs struct {
	list    *maintenance.List
	tracker Refresher
}

func NewJobs(list *maintenance.List, tracker Refresher) *Jobs {
	return &Jobs{list: list, tracker: tracker}
}

// List godoc
//
//	@Summary		List maintenance jobs
//	@Description	Applies the filter and page from the query string, refreshes the list and returns its rows. When the backend cannot be reached the last rows are returned marked stale.
//	@Tags			Jobs
//	@Param			title		query		string	false	"Title contains"
//	@Param			database	query		string	false	"Database contains"
//	@Param			status		query		string	false	"Backend status"
//	@Param			from		query		string	false	"Scheduled on or after (RFC 3339 or YYYY-MM-DD)"
//	@Param			to			query		string	false	"Scheduled on or before (RFC 3339 or YYYY-MM-DD)"
//	@Param			page		query		int		false	"Page number"	default(1)
//	@Param			page_size	query		int		false	"Page size"		default(20)
//	@Success		200			{object}	response.PageResponse{items=[]JobRow}
//	@Failure		400			{object}	response.ErrorResponse
//	@Failure		401			{object}	response.ErrorResponse
//	@Failure		502			{object}	response.ErrorResponse
//	@Router			/maintenance/jobs [get]
func (h *Jobs) List(w http.ResponseWriter, r *http.Request) {
	filter, err := request.ParseJobFilter(r)
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	page := request.ParsePage(r)

	h.list.SetFilter(filter)
	h.list.SetPage(page)

	h.writePage(w, r, h.list.Refresh(r.Context()))
}

// Refresh godoc
//
//	@Summary		Refresh maintenance jobs
//	@Description	Manual refresh. Reconnects a status channel that gave up, then re-fetches the current page and every unfinished job that is not on it.
//	@Tags			Jobs
//	@Success		200	{object}	response.PageResponse{items=[]JobRow}
//	@Failure		401	{object}	response.ErrorResponse
//	@Failure		502	{object}	response.ErrorResponse
//	@Router			/maintenance/jobs/refresh [post]
func (h *Jobs) Refresh(w http.ResponseWriter, r *http.Request) {
	h.writePage(w, r, h.tracker.Refresh(r.Context()))
}

func (h *Jobs) writePage(w http.ResponseWriter, r *http.Request, err error) {
	resp := response.PageResponse{}
	if err != nil {
		if !backend.IsUnreachable(err) || h.list.Info().RefreshedAt.IsZero() {
			writeServiceError(w, r, err)
			return
		}
		zerolog.Ctx(r.Context()).Warn().Err(err).Msg("serving stale job list")
		resp.Stale = true
		resp.Warning = backend.ErrUnreachable.Error()
	}

	info := h.list.Info()
	resp.Items = jobRows(h.list.Rows())
	resp.Page = info.Page
	resp.PageSize = info.PageSize
	resp.TotalPages = info.TotalPages
	resp.Total = info.Total
	response.WriteJSON(w, http.StatusOK, resp)
}

// Get godoc
//
//	@Summary		Get a maintenance job
//	@Tags			Jobs
//	@Param			id	path		int	true	"Job ID"
//	@Success		200	{object}	JobRow
//	@Failure		400	{object}	response.ErrorResponse
//	@Failure		404	{object}	response.ErrorResponse
//	@Failure		502	{object}	response.ErrorResponse
//	@Router			/maintenance/jobs/{id} [get]
func (h *Jobs) Get(w http.ResponseWriter, r *http.Request) {
	id, err := request.ParseJobID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	row, err := h.list.Get(r.Context(), id)
	if err != nil {
		cached, ok := h.list.Row(id)
		if !backend.IsUnreachable(err) || !ok {
			writeServiceError(w, r, err)
			return
		}
		row = cached
	}
	response.WriteJSON(w, http.StatusOK, jobRow(row))
}

// Schedule godoc
//
//	@Summary		Schedule a maintenance job
//	@Tags			Jobs
//	@Param			body	body		request.ScheduleJob	true	"Job to schedule"
//	@Success		201		{object}	JobRow
//	@Failure		400		{object}	response.ErrorResponse
//	@Failure		422		{object}	response.ErrorResponse
//	@Failure		502		{object}	response.ErrorResponse
//	@Router			/maintenance/jobs [post]
func (h *Jobs) Schedule(w http.ResponseWriter, r *http.Request) {
	var req request.ScheduleJob
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	row, err := h.list.Schedule(r.Context(), backend.ScheduleJobRequest{
		Title:           req.Title,
		Database:        req.Database,
		Description:     req.Description,
		ScheduledAt:     req.ScheduledAt,
		BackupRequested: req.BackupRequested,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusCreated, jobRow(row))
}

// StartResponse carries the backend's acknowledgement. The job's outcome is
// reported later through the event stream.
type StartResponse struct {
	Ack *backend.StartAck `json:"ack"`
	Job *JobRow           `json:"job,omitempty"`
}

// Start godoc
//
//	@Summary		Start a pending job
//	@Description	Returns the backend's acknowledgement only. Progress and the final result arrive on the event stream.
//	@Tags			Jobs
//	@Param			id	path		int	true	"Job ID"
//	@Success		202	{object}	StartResponse
//	@Failure		404	{object}	response.ErrorResponse
//	@Failure		409	{object}	response.ErrorResponse
//	@Failure		502	{object}	response.ErrorResponse
//	@Router			/maintenance/jobs/{id}/start [post]
func (h *Jobs) Start(w http.ResponseWriter, r *http.Request) {
	id, err := request.ParseJobID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	ack, err := h.list.Start(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	resp := StartResponse{Ack: ack}
	if row, ok := h.list.Row(id); ok {
		jr := jobRow(row)
		resp.Job = &jr
	}
	response.WriteJSON(w, http.StatusAccepted, resp)
}

// SetStatus godoc
//
//	@Summary		Set a job's status
//	@Tags			Jobs
//	@Param			id		path		int						true	"Job ID"
//	@Param			body	body		request.UpdateJobStatus	true	"New status"
//	@Success		200		{object}	JobRow
//	@Failure		400		{object}	response.ErrorResponse
//	@Failure		404		{object}	response.ErrorResponse
//	@Failure		502		{object}	response.ErrorResponse
//	@Router			/maintenance/jobs/{id}/status [put]
func (h *Jobs) SetStatus(w http.ResponseWriter, r *http.Request) {
	id, err := request.ParseJobID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req request.UpdateJobStatus
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	row, err := h.list.SetStatus(r.Context(), id, req.Status)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, jobRow(row))
}

// Report godoc
//
//	@Summary		Generate a job report
//	@Description	Only succeeded jobs have reports.
//	@Tags			Jobs
//	@Param			id	path		int	true	"Job ID"
//	@Success		200	{object}	backend.Report
//	@Failure		404	{object}	response.ErrorResponse
//	@Failure		409	{object}	response.ErrorResponse
//	@Failure		502	{object}	response.ErrorResponse
//	@Router			/maintenance/jobs/{id}/report [post]
func (h *Jobs) Report(w http.ResponseWriter, r *http.Request) {
	id, err := request.ParseJobID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	report, err := h.list.GenerateReport(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, report)
}
