package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
	"github.com/oklog/ulid/v2"
)

const (
	TaskProcessVideo = "video:process"

	QueueDefault = "default"
)

type ProcessVideoPayload struct {
	JobID     string `json:"job_id"`
	ChatID    int64  `json:"chat_id"`
	UserID    int64  `json:"user_id"`
	URL       string `json:"url"`
	Platform  string `json:"platform"`
	MessageID int    `json:"message_id"` // status message edited in place
}

// NewID returns a sortable job ID, also used as the temp dir name.
func NewID() string { return ulid.Make().String() }

// NewProcessVideoTask builds the task the bot enqueues. A missing JobID is
// filled in so retries of the same task reuse one temp namespace.
func NewProcessVideoTask(p ProcessVideoPayload, maxRetry int) (*asynq.Task, error) {
	if p.JobID == "" {
		p.JobID = NewID()
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskProcessVideo, b,
		asynq.MaxRetry(maxRetry),
		asynq.Queue(QueueDefault),
		asynq.Timeout(2*time.Hour),
	), nil
}

// RetryDelay backs off capacity rejections: 30s, 60s, 120s, capped at 5m.
func RetryDelay(n int, _ error, _ *asynq.Task) time.Duration {
	d := 30 * time.Second << n
	if n > 4 || d > 5*time.Minute {
		return 5 * time.Minute
	}
	return d
}
