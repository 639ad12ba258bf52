package request

import "time"

type ScheduleJob struct {
	Title           string    `json:"title" validate:"required,max=200"`
	Database        string    `json:"database" validate:"required,max=200"`
	Description     string    `json:"description" validate:"max=2000"`
	ScheduledAt     time.Time `json:"scheduled_at" validate:"required"`
	BackupRequested bool      `json:"backup_requested"`
}

type UpdateJobStatus struct {
	Status string `json:"status" validate:"required,max=32"`
}

type Login struct {
	Username string `json:"username" validate:"required,max=150"`
	Password string `json:"password" validate:"required"`
}
