// Package protocol defines the contracts between the engine and its collaborators:
// the content, analysis and notification services, and the action handlers.
package protocol

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/docflow/docflow/pkg/models"
)

var (
	// ErrNotFound is returned by collaborators for unknown documents.
	ErrNotFound = fmt.Errorf("document %w", models.ErrNotFound)

	// ErrConflict is returned when a concurrent change prevents the update.
	ErrConflict = errors.New("conflict")

	// ErrDeliveryFailed is returned by the notification service.
	ErrDeliveryFailed = errors.New("delivery failed")
)

// Document is the content service's view of a document.
type Document struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Library    string         `json:"library,omitempty"`
	Path       string         `json:"path,omitempty"`
	Size       int64          `json:"size"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	ModifiedAt time.Time      `json:"modified_at"`
}

// MetadataPatch sets and removes metadata fields.
type MetadataPatch struct {
	Set    map[string]any `json:"set,omitempty"`
	Remove []string       `json:"remove,omitempty"`
}

// IsEmpty reports whether the patch changes nothing.
func (p *MetadataPatch) IsEmpty() bool {
	return p == nil || (len(p.Set) == 0 && len(p.Remove) == 0)
}

// ApplyTo applies the patch to metadata in place.
func (p *MetadataPatch) ApplyTo(metadata map[string]any) {
	if p == nil || metadata == nil {
		return
	}

	for k, v := range p.Set {
		metadata[k] = v
	}

	for _, k := range p.Remove {
		delete(metadata, k)
	}
}

type TransferOp string

const (
	TransferMove   TransferOp = "move"
	TransferCopy   TransferOp = "copy"
	TransferDelete TransferOp = "delete"
)

// TransferRequest moves, copies or deletes a document.
type TransferRequest struct {
	Op             TransferOp `json:"op"`
	DocumentID     string     `json:"document_id"`
	Target         string     `json:"target,omitempty"`
	Permanent      bool       `json:"permanent,omitempty"`
	IdempotencyKey string     `json:"idempotency_key,omitempty"`
}

type ContentService interface {
	GetDocument(ctx context.Context, id string) (*Document, error)
	UpdateMetadata(ctx context.Context, id string, patch MetadataPatch) error
	Transfer(ctx context.Context, req TransferRequest) error
}

type Summary struct {
	Format string `json:"format"`
	Text   string `json:"text"`
}

// AnalysisService is used only by the run-analysis action.
type AnalysisService interface {
	Summarize(ctx context.Context, id string, formats []string) ([]Summary, error)
	Tag(ctx context.Context, id string) ([]string, error)
}

type Notification struct {
	Recipients []string       `json:"recipients"`
	Template   string         `json:"template,omitempty"`
	Subject    string         `json:"subject,omitempty"`
	Body       string         `json:"body,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
}

type NotificationService interface {
	Notify(ctx context.Context, n Notification) error
}

// ApprovalStarter opens approval workflows on behalf of the create-approval action.
type ApprovalStarter interface {
	Create(ctx context.Context, req models.ApprovalRequest) (*models.ApprovalWorkflow, error)
}
