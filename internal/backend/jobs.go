package backend

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// ListJobs fetches one page of maintenance jobs matching filter.
func (c *Client) ListJobs(ctx context.Context, filter JobFilter, page Page) (*JobPage, error) {
	if page.Number < 1 {
		page.Number = 1
	}
	if page.Size < 1 {
		page.Size = DefaultPageSize
	}
	if page.Size > MaxPageSize {
		page.Size = MaxPageSize
	}
	if err := validate.Struct(filter); err != nil {
		return nil, fmt.Errorf("validation error: %w", err)
	}

	q := url.Values{}
	q.Set("page", strconv.Itoa(page.Number))
	q.Set("page_size", strconv.Itoa(page.Size))
	if filter.Title != "" {
		q.Set("title", filter.Title)
	}
	if filter.Database != "" {
		q.Set("database", filter.Database)
	}
	if filter.Status != "" {
		q.Set("status", filter.Status)
	}
	if filter.From != nil {
		q.Set("from", filter.From.UTC().Format(time.RFC3339))
	}
	if filter.To != nil {
		q.Set("to", filter.To.UTC().Format(time.RFC3339))
	}

	var resp JobPage
	if err := c.Get(ctx, "/maintenance/jobs?"+q.Encode(), &resp); err != nil {
		return nil, err
	}
	if resp.Page == 0 {
		resp.Page = page.Number
	}
	return &resp, nil
}

func (c *Client) GetJob(ctx context.Context, id int64) (*Job, error) {
	var job Job
	if err := c.Get(ctx, fmt.Sprintf("/maintenance/jobs/%d", id), &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// ScheduleJob creates a pending job on the backend.
func (c *Client) ScheduleJob(ctx context.Context, req ScheduleJobRequest) (*Job, error) {
	if err := validate.Struct(req); err != nil {
		return nil, fmt.Errorf("validation error: %w", err)
	}
	var job Job
	if err := c.Post(ctx, "/maintenance/jobs", req, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// StartJob asks the backend to start a job. The returned acknowledgement
// means the job was accepted; its outcome arrives later.
func (c *Client) StartJob(ctx context.Context, id int64) (*StartAck, error) {
	var ack StartAck
	if err := c.Post(ctx, fmt.Sprintf("/maintenance/jobs/%d/start", id), nil, &ack); err != nil {
		return nil, err
	}
	if ack.JobID == 0 {
		ack.JobID = id
	}
	return &ack, nil
}

// UpdateJobStatus is the administrative status change outside the channel.
func (c *Client) UpdateJobStatus(ctx context.Context, id int64, status string) (*Job, error) {
	req := UpdateStatusRequest{Status: status}
	if err := validate.Struct(req); err != nil {
		return nil, fmt.Errorf("validation error: %w", err)
	}
	var job Job
	if err := c.Put(ctx, fmt.Sprintf("/maintenance/jobs/%d/status", id), req, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (c *Client) GenerateReport(ctx context.Context, id int64) (*Report, error) {
	var report Report
	if err := c.Post(ctx, fmt.Sprintf("/maintenance/jobs/%d/report", id), nil, &report); err != nil {
		return nil, err
	}
	if report.JobID == 0 {
		report.JobID = id
	}
	return &report, nil
}

func (c *Client) Login(ctx context.Context, username, password string) (*LoginResponse, error) {
	req := LoginRequest{Username: username, Password: password}
	if err := validate.Struct(req); err != nil {
		return nil, fmt.Errorf("validation error: %w", err)
	}
	var resp LoginResponse
	if err := c.Post(ctx, "/auth/login", req, &resp); err != nil {
		return nil, err
	}
	if resp.Token == "" {
		return nil, fmt.Errorf("login: backend returned no token")
	}
	return &resp, nil
}
