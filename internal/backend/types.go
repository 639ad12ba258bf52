package backend

import "time"

// Job is a maintenance/backup operation as recorded by the backend.
type Job struct {
	ID              int64      `json:"id"`
	Title           string     `json:"title"`
	Database        string     `json:"database"`
	Description     string     `json:"description"`
	ScheduledAt     time.Time  `json:"scheduled_at"`
	CompletedAt     *time.Time `json:"completed_at"`
	BackupRequested bool       `json:"backup_requested"`
	SizeBefore      *int64     `json:"size_before"`
	SizeAfter       *int64     `json:"size_after"`
	Status          string     `json:"status"`
}

// JobFilter narrows a job listing. Every field is evaluated by the backend.
type JobFilter struct {
	Title    string     `json:"title,omitempty" validate:"max=200"`
	Database string     `json:"database,omitempty" validate:"max=200"`
	Status   string     `json:"status,omitempty" validate:"max=32"`
	From     *time.Time `json:"from,omitempty"`
	To       *time.Time `json:"to,omitempty"`
}

type Page struct {
	Number int `json:"page"`
	Size   int `json:"page_size"`
}

const (
	DefaultPageSize = 20
	MaxPageSize     = 200
)

// JobPage is one page of a job listing plus pagination metadata.
type JobPage struct {
	Items      []Job `json:"items"`
	Page       int   `json:"page"`
	TotalPages int   `json:"total_pages"`
	Total      int   `json:"total"`
}

type ScheduleJobRequest struct {
	Title           string    `json:"title" validate:"required,max=200"`
	Database        string    `json:"database" validate:"required,max=200"`
	Description     string    `json:"description" validate:"max=2000"`
	ScheduledAt     time.Time `json:"scheduled_at" validate:"required"`
	BackupRequested bool      `json:"backup_requested"`
}

type UpdateStatusRequest struct {
	Status string `json:"status" validate:"required,max=32"`
}

// StartAck acknowledges that the backend accepted a start request. It never
// carries the job's final result.
type StartAck struct {
	JobID   int64  `json:"id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

type Report struct {
	JobID       int64     `json:"job_id"`
	URL         string    `json:"url"`
	GeneratedAt time.Time `json:"generated_at"`
}

type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}
