package builds

import "time"

// Status of a build job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCanceled  Status = "canceled"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCanceled
}

// Build is the record of one build job.
type Build struct {
	ID            string     `json:"id"`
	Name          string     `json:"name,omitempty"`
	Status        Status     `json:"status"`
	QueuePosition *int       `json:"queue_position,omitempty"`
	ImageID       string     `json:"image_id,omitempty"`
	Error         string     `json:"error,omitempty"`
	Stages        int        `json:"stages"`
	Executed      int        `json:"executed"`
	CacheHits     int        `json:"cache_hits"`
	CreatedAt     time.Time  `json:"created_at"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
}

// CreateBuildRequest submits a recipe for building.
type CreateBuildRequest struct {
	// Name, when set, names the resulting image.
	Name string `json:"name,omitempty"`
	// ContextDir roots copy sources. Defaults to the daemon working
	// directory.
	ContextDir string `json:"context_dir,omitempty"`
}
