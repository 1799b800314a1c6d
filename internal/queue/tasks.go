package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/dunamismax/pixelpass/internal/domain"
)

const TypeRenderImage = "image:render"

type RenderImagePayload struct {
	JobID       string              `json:"job_id"`
	UserID      string              `json:"user_id,omitempty"`
	SourceType  string              `json:"source_type"`
	WebhookURL  string              `json:"webhook_url,omitempty"`
	ObjectKey   string              `json:"object_key,omitempty"`
	SourceURL   string              `json:"source_url,omitempty"`
	Steps       []domain.RenderStep `json:"steps"`
	RequestedAt time.Time           `json:"requested_at"`
}

// PayloadForJob snapshots the fields a worker needs from job.
func PayloadForJob(job domain.Job, requestedAt time.Time) RenderImagePayload {
	return RenderImagePayload{
		JobID:       job.ID,
		UserID:      job.UserID,
		SourceType:  job.SourceType,
		WebhookURL:  job.WebhookURL,
		ObjectKey:   job.ObjectKey,
		SourceURL:   job.SourceURL,
		Steps:       job.Steps,
		RequestedAt: requestedAt.UTC(),
	}
}

func NewRenderImageTask(payload RenderImagePayload) (*asynq.Task, error) {
	if payload.JobID == "" {
		return nil, errors.New("job_id is required")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal render payload: %w", err)
	}
	return asynq.NewTask(TypeRenderImage, body), nil
}

func ParseRenderImagePayload(task *asynq.Task) (RenderImagePayload, error) {
	if task.Type() != TypeRenderImage {
		return RenderImagePayload{}, fmt.Errorf("unexpected task type %q", task.Type())
	}
	var payload RenderImagePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return RenderImagePayload{}, fmt.Errorf("unmarshal render payload: %w", err)
	}
	return payload, nil
}
