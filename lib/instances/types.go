package instances

import (
	"time"

	"github.com/kilnhq/kiln/lib/supervisor"
)

// Instance describes a supervised service process.
type Instance struct {
	ID        string            `json:"id"`
	ImageID   string            `json:"image_id"`
	State     supervisor.State  `json:"state"`
	ExitCode  *int              `json:"exit_code,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// CreateInstanceRequest starts an image as a supervised process. Env
// overrides the image's baked-in defaults per key.
type CreateInstanceRequest struct {
	ImageID string            `json:"image_id"`
	Env     map[string]string `json:"env,omitempty"`
}
