package web

import (
	"encoding/json"
	"time"

	"orchex/internal/models"
	"orchex/internal/state"
)

type queueDTO struct {
	ID                     int64     `json:"id"`
	Name                   string    `json:"name"`
	MaxRetries             int       `json:"max_retries"`
	EnforceUniqueReference bool      `json:"enforce_unique_reference"`
	CreatedAt              time.Time `json:"created_at"`
	UpdatedAt              time.Time `json:"updated_at"`
}

func toQueueDTO(q *models.Queue) queueDTO {
	return queueDTO{
		ID:                     q.ID,
		Name:                   q.Name,
		MaxRetries:             q.MaxRetries,
		EnforceUniqueReference: q.EnforceUniqueReference,
		CreatedAt:              q.CreatedAt,
		UpdatedAt:              q.UpdatedAt,
	}
}

type queueItemDTO struct {
	ID          int64            `json:"id"`
	QueueID     int64            `json:"queue_id"`
	Reference   *string          `json:"reference,omitempty"`
	Status      state.ItemStatus `json:"status"`
	Priority    int              `json:"priority"`
	Payload     json.RawMessage  `json:"payload,omitempty"`
	Output      json.RawMessage  `json:"output,omitempty"`
	ErrorType   *state.ErrorType `json:"error_type,omitempty"`
	ErrorReason *string          `json:"error_reason,omitempty"`
	Retries     int              `json:"retries"`
	LockedBy    *string          `json:"locked_by,omitempty"`
	LockedAt    *time.Time       `json:"locked_at,omitempty"`
	JobID       *int64           `json:"job_id,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
}

func toQueueItemDTO(item *models.QueueItem) queueItemDTO {
	return queueItemDTO{
		ID:          item.ID,
		QueueID:     item.QueueID,
		Reference:   item.Reference,
		Status:      item.Status,
		Priority:    item.Priority,
		Payload:     item.Payload,
		Output:      item.Output,
		ErrorType:   item.ErrorType,
		ErrorReason: item.ErrorReason,
		Retries:     item.Retries,
		LockedBy:    item.LockedBy,
		LockedAt:    item.LockedAt,
		JobID:       item.JobID,
		CreatedAt:   item.CreatedAt,
		UpdatedAt:   item.UpdatedAt,
		CompletedAt: item.CompletedAt,
	}
}

type triggerDTO struct {
	ID             int64             `json:"id"`
	Name           string            `json:"name"`
	Enabled        bool              `json:"enabled"`
	ProcessRef     string            `json:"process_ref"`
	WorkerRef      *string           `json:"worker_ref,omitempty"`
	Type           state.TriggerType `json:"type"`
	CronExpression *string           `json:"cron_expression,omitempty"`
	Timezone       *string           `json:"timezone,omitempty"`
	QueueID        *int64            `json:"queue_id,omitempty"`
	BatchSize      *int              `json:"batch_size,omitempty"`
	PollingSecs    *int64            `json:"polling_interval_secs,omitempty"`
	NextFireAt     *time.Time        `json:"next_fire_at,omitempty"`
	LastFiredAt    *time.Time        `json:"last_fired_at,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

func toTriggerDTO(t *models.Trigger) triggerDTO {
	dto := triggerDTO{
		ID:             t.ID,
		Name:           t.Name,
		Enabled:        t.Enabled,
		ProcessRef:     t.ProcessRef,
		WorkerRef:      t.WorkerRef,
		Type:           t.Type,
		CronExpression: t.CronExpression,
		Timezone:       t.Timezone,
		QueueID:        t.QueueID,
		BatchSize:      t.BatchSize,
		NextFireAt:     t.NextFireAt,
		LastFiredAt:    t.LastFiredAt,
		CreatedAt:      t.CreatedAt,
		UpdatedAt:      t.UpdatedAt,
	}
	if t.PollingInterval != nil {
		secs := int64(t.PollingInterval.Seconds())
		dto.PollingSecs = &secs
	}
	return dto
}

type triggerRequest struct {
	Name           string  `json:"name"`
	Enabled        *bool   `json:"enabled,omitempty"`
	ProcessRef     string  `json:"process_ref"`
	WorkerRef      *string `json:"worker_ref,omitempty"`
	Type           string  `json:"type"`
	CronExpression *string `json:"cron_expression,omitempty"`
	Timezone       *string `json:"timezone,omitempty"`
	QueueID        *int64  `json:"queue_id,omitempty"`
	BatchSize      *int    `json:"batch_size,omitempty"`
	PollingSecs    *int64  `json:"polling_interval_secs,omitempty"`
}

func (req *triggerRequest) toModel() *models.Trigger {
	t := &models.Trigger{
		Name:           req.Name,
		Enabled:        true,
		ProcessRef:     req.ProcessRef,
		WorkerRef:      req.WorkerRef,
		Type:           state.TriggerType(req.Type),
		CronExpression: req.CronExpression,
		Timezone:       req.Timezone,
		QueueID:        req.QueueID,
		BatchSize:      req.BatchSize,
	}
	if req.Enabled != nil {
		t.Enabled = *req.Enabled
	}
	if req.PollingSecs != nil {
		interval := time.Duration(*req.PollingSecs) * time.Second
		t.PollingInterval = &interval
	}
	return t
}

type jobDTO struct {
	ID           int64           `json:"id"`
	Source       state.JobSource `json:"source"`
	TriggerID    *int64          `json:"trigger_id,omitempty"`
	ProcessRef   string          `json:"process_ref"`
	WorkerRef    *string         `json:"worker_ref,omitempty"`
	QueueItemIDs []int64         `json:"queue_item_ids"`
	Status       state.JobStatus `json:"status"`
	ErrorMessage *string         `json:"error_message,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

func toJobDTO(j *models.Job) jobDTO {
	return jobDTO{
		ID:           j.ID,
		Source:       j.Source,
		TriggerID:    j.TriggerID,
		ProcessRef:   j.ProcessRef,
		WorkerRef:    j.WorkerRef,
		QueueItemIDs: j.QueueItemIDs,
		Status:       j.Status,
		ErrorMessage: j.ErrorMessage,
		CreatedAt:    j.CreatedAt,
		UpdatedAt:    j.UpdatedAt,
	}
}
