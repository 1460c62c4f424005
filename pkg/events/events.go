// Package events defines the messages exchanged over the event bus: inbound
// document events and the engine's lifecycle notifications.
package events

import (
	"errors"
	"time"

	"github.com/docflow/docflow/pkg/models"
	"github.com/google/uuid"
)

type EventType string

// Topics.
const (
	Topic          = "docflow.events"    // lifecycle events published by the engine
	DocumentsTopic = "docflow.documents" // document events consumed by the dispatcher
)

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	DocumentChangedEvent EventType = "document.changed"

	WorkflowDefinedEvent EventType = "workflow.defined"

	ExecutionStartedEvent  EventType = "execution.started"
	ExecutionFinishedEvent EventType = "execution.finished"

	BatchFinishedEvent EventType = "batch.finished"

	ApprovalFinishedEvent EventType = "approval.finished"
)

// ErrInvalidEventData is returned when an inbound event cannot be used.
var ErrInvalidEventData = errors.New("invalid event data")

type BaseEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	WorkflowID string         `json:"workflow_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

func NewBaseEvent(eventType EventType, workflowID string) BaseEvent {
	return BaseEvent{
		ID:         uuid.New().String(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		WorkflowID: workflowID,
		Metadata:   make(map[string]any),
	}
}

// DocumentChanged carries a document event raised by the content side.
type DocumentChanged struct {
	BaseEvent

	Event models.DocumentEvent `json:"event"`
}

func (d DocumentChanged) GetType() EventType {
	return DocumentChangedEvent
}

// Validate checks the fields the dispatcher relies on.
func (d *DocumentChanged) Validate() error {
	if d.Event.DocumentID == "" {
		return errors.Join(ErrInvalidEventData, errors.New("document_id is required"))
	}

	if !d.Event.Kind.IsDocumentKind() {
		return errors.Join(ErrInvalidEventData, errors.New("kind must be a document trigger kind, got "+string(d.Event.Kind)))
	}

	return nil
}

func NewDocumentChanged(event models.DocumentEvent) *DocumentChanged {
	return &DocumentChanged{
		BaseEvent: NewBaseEvent(DocumentChangedEvent, ""),
		Event:     event,
	}
}

type WorkflowDefined struct {
	BaseEvent

	Version int  `json:"version"`
	Enabled bool `json:"enabled"`
}

func (w WorkflowDefined) GetType() EventType {
	return WorkflowDefinedEvent
}

type ExecutionStarted struct {
	BaseEvent

	ExecutionID     string `json:"execution_id"`
	WorkflowVersion int    `json:"workflow_version"`
	DocumentID      string `json:"document_id,omitempty"`
	InitiatedBy     string `json:"initiated_by,omitempty"`
}

func (e ExecutionStarted) GetType() EventType {
	return ExecutionStartedEvent
}

type ExecutionFinished struct {
	BaseEvent

	ExecutionID     string                 `json:"execution_id"`
	WorkflowVersion int                    `json:"workflow_version"`
	DocumentID      string                 `json:"document_id,omitempty"`
	Status          models.ExecutionStatus `json:"status"`
	Skipped         bool                   `json:"skipped,omitempty"`
	StepsCompleted  int                    `json:"steps_completed"`
	FailedStep      *int                   `json:"failed_step,omitempty"`
	Error           *models.ErrorDetail    `json:"error,omitempty"`
	DurationMs      int64                  `json:"duration_ms"`
}

func (e ExecutionFinished) GetType() EventType {
	return ExecutionFinishedEvent
}

type BatchFinished struct {
	BaseEvent

	BatchID    string `json:"batch_id"`
	Successful int    `json:"successful"`
	Failed     int    `json:"failed"`
	TimedOut   bool   `json:"timed_out,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

func (b BatchFinished) GetType() EventType {
	return BatchFinishedEvent
}

type ApprovalFinished struct {
	BaseEvent

	ApprovalID  string                `json:"approval_id"`
	DocumentID  string                `json:"document_id,omitempty"`
	ExecutionID string                `json:"execution_id,omitempty"`
	Status      models.ApprovalStatus `json:"status"`
	Overridden  bool                  `json:"overridden,omitempty"`
}

func (a ApprovalFinished) GetType() EventType {
	return ApprovalFinishedEvent
}

// New returns an empty event of the given type, ready to be decoded into.
func New(eventType EventType) (any, bool) {
	switch eventType {
	case DocumentChangedEvent:
		return &DocumentChanged{}, true
	case WorkflowDefinedEvent:
		return &WorkflowDefined{}, true
	case ExecutionStartedEvent:
		return &ExecutionStarted{}, true
	case ExecutionFinishedEvent:
		return &ExecutionFinished{}, true
	case BatchFinishedEvent:
		return &BatchFinished{}, true
	case ApprovalFinishedEvent:
		return &ApprovalFinished{}, true
	default:
		return nil, false
	}
}
