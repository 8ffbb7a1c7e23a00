// Package queue defines the asynq tasks shared by the API and the worker.
package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/harutoshi/medialens/internal/model"
)

// ProcessMediaTask is scheduled each time a file lands in object storage.
const ProcessMediaTask = "media:process"

// ProcessPayload tells the worker which object to fetch and how to treat it.
type ProcessPayload struct {
	MediaID     string          `json:"media_id"`
	ObjectKey   string          `json:"object_key"`
	FileName    string          `json:"file_name"`
	Kind        model.MediaKind `json:"kind"`
	ContentType string          `json:"content_type"`
}

// EnqueueProcess enqueues one processing job with retries.
func EnqueueProcess(ctx context.Context, client *asynq.Client, payload ProcessPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	task := asynq.NewTask(ProcessMediaTask, data)
	if _, err := client.EnqueueContext(ctx, task, asynq.MaxRetry(5)); err != nil {
		return fmt.Errorf("enqueue process task: %w", err)
	}
	return nil
}
