package models

import "time"

// JobStatus represents the lifecycle state of an archival job
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusActive    JobStatus = "active"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Job is the durable audit row behind an archival job. While a job runs the
// queue's in-memory record is canonical; this row is updated at enqueue and
// at the terminal transition.
type Job struct {
	ID         string     `gorm:"column:id;size:36;primaryKey" json:"id"`
	DirName    string     `gorm:"column:dir_name;size:255;not null" json:"dir_name"`
	SourcePath string     `gorm:"column:source_path;size:500;not null" json:"source_path"`
	AccountID  uint       `gorm:"column:account_id;not null;index" json:"account_id"`
	Status     JobStatus  `gorm:"column:status;size:20;not null;index" json:"status"`
	Progress   int        `gorm:"column:progress;default:0" json:"progress"`
	Error      string     `gorm:"column:error;size:500" json:"error"`
	CreatedAt  time.Time  `gorm:"column:created_at;index" json:"created_at"`
	FinishedAt *time.Time `gorm:"column:finished_at" json:"finished_at"`
}

func (Job) TableName() string {
	return "jobs"
}

// ArtifactRecord tracks a finished zip on disk. The row exists iff the file
// {dir_name}-{account_id}-{job_id}.zip exists under the artifacts directory;
// the reaper deletes the file before the row to keep that invariant.
type ArtifactRecord struct {
	ID        uint      `gorm:"column:id;primaryKey" json:"id"`
	JobID     string    `gorm:"column:job_id;size:36;uniqueIndex;not null" json:"job_id"`
	DirName   string    `gorm:"column:dir_name;size:255;not null;index" json:"dir_name"`
	AccountID uint      `gorm:"column:account_id;not null;index" json:"account_id"`
	SizeBytes int64     `gorm:"column:size_bytes;not null" json:"size_bytes"`
	CreatedAt time.Time `gorm:"column:created_at" json:"created_at"`
	ExpiresAt time.Time `gorm:"column:expires_at;not null;index" json:"expires_at"`
}

func (ArtifactRecord) TableName() string {
	return "artifact_records"
}
