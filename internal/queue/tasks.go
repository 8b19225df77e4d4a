package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const TypeProcessDocument = "document:process"

// ProcessDocumentPayload identifies the job to run; the worker loads the
// full record from the job store.
type ProcessDocumentPayload struct {
	JobID       string    `json:"job_id"`
	Filename    string    `json:"filename"`
	SubmittedAt time.Time `json:"submitted_at"`
}

func NewProcessDocumentTask(payload ProcessDocumentPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal process payload: %w", err)
	}
	return asynq.NewTask(TypeProcessDocument, body), nil
}

func ParseProcessDocumentPayload(task *asynq.Task) (ProcessDocumentPayload, error) {
	var payload ProcessDocumentPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return ProcessDocumentPayload{}, fmt.Errorf("unmarshal process payload: %w", err)
	}
	return payload, nil
}
