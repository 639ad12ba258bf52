package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListJobs_SendsFiltersAndPage(t *testing.T) {
	var query map[string]string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/maintenance/jobs", r.URL.Path)
		query = map[string]string{}
		for k, v := range r.URL.Query() {
			query[k] = v[0]
		}
		json.NewEncoder(w).Encode(JobPage{
			Items:      []Job{{ID: 1, Title: "vacuum orders", Status: "pendiente"}},
			Page:       2,
			TotalPages: 3,
			Total:      41,
		})
	})
	c, _, _ := newTestClient(t, handler, 0)

	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	page, err := c.ListJobs(context.Background(), JobFilter{
		Title:    "vacuum",
		Database: "orders",
		Status:   "running",
		From:     &from,
	}, Page{Number: 2, Size: 1000})
	require.NoError(t, err)

	assert.Equal(t, "2", query["page"])
	assert.Equal(t, "200", query["page_size"])
	assert.Equal(t, "vacuum", query["title"])
	assert.Equal(t, "orders", query["database"])
	assert.Equal(t, "running", query["status"])
	assert.Equal(t, "2026-01-01T00:00:00Z", query["from"])
	_, hasTo := query["to"]
	assert.False(t, hasTo)

	require.Len(t, page.Items, 1)
	assert.Equal(t, int64(1), page.Items[0].ID)
	assert.Equal(t, 3, page.TotalPages)
	assert.Equal(t, 41, page.Total)
}

func TestScheduleJob_ValidatesBeforeSending(t *testing.T) {
	called := false
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	})
	c, _, _ := newTestClient(t, handler, 0)

	_, err := c.ScheduleJob(context.Background(), ScheduleJobRequest{Title: "nightly"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation error")
	assert.False(t, called)
}

func TestScheduleJob_Success(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		var req ScheduleJobRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(Job{ID: 9, Title: req.Title, Database: req.Database, Status: "pending"})
	})
	c, _, _ := newTestClient(t, handler, 0)

	job, err := c.ScheduleJob(context.Background(), ScheduleJobRequest{
		Title:       "nightly",
		Database:    "billing",
		ScheduledAt: time.Now().Add(time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(9), job.ID)
	assert.Equal(t, "billing", job.Database)
}

func TestStartJob_AckDefaultsID(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/maintenance/jobs/42/start", r.URL.Path)
		assert.NotEmpty(t, r.Header.Get("Idempotency-Key"))
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte(`{"message":"accepted"}`))
	})
	c, _, _ := newTestClient(t, handler, 0)

	ack, err := c.StartJob(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, int64(42), ack.JobID)
	assert.Equal(t, "accepted", ack.Message)
}

func TestLogin_RequiresToken(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"user":{"id":1,"username":"ana"}}`))
	})
	c, _, _ := newTestClient(t, handler, 0)

	_, err := c.Login(context.Background(), "ana", "secret")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no token")
}

func TestErrorClassifiers(t *testing.T) {
	assert.True(t, IsForbidden(&APIError{StatusCode: http.StatusForbidden}))
	assert.True(t, IsValidation(&APIError{StatusCode: http.StatusUnprocessableEntity}))
	assert.True(t, IsValidation(&APIError{StatusCode: http.StatusBadRequest}))
	assert.False(t, IsValidation(&APIError{StatusCode: http.StatusConflict}))
	assert.True(t, IsConflict(&APIError{StatusCode: http.StatusConflict}))
	assert.True(t, IsNotFound(&APIError{StatusCode: http.StatusNotFound}))
	assert.False(t, IsUnauthorized(&APIError{StatusCode: http.StatusForbidden}))
	assert.Equal(t, "Bad Gateway", extractMessage(http.StatusBadGateway, nil))
	assert.Equal(t, "plain text", extractMessage(http.StatusBadRequest, []byte("plain text")))
}
