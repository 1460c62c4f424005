package models

import "strings"

// TriggerKind identifies what causes a workflow to be considered for execution.
type TriggerKind string

const (
	TriggerDocumentCreated  TriggerKind = "document-created"
	TriggerDocumentModified TriggerKind = "document-modified"
	TriggerDocumentAccessed TriggerKind = "document-accessed"
	TriggerMetadataChanged  TriggerKind = "metadata-changed"
	TriggerSchedule         TriggerKind = "schedule"
	TriggerManual           TriggerKind = "manual"
	TriggerAPIWebhook       TriggerKind = "api-webhook"
)

// TriggerKinds lists every supported trigger kind.
func TriggerKinds() []TriggerKind {
	return []TriggerKind{
		TriggerDocumentCreated,
		TriggerDocumentModified,
		TriggerDocumentAccessed,
		TriggerMetadataChanged,
		TriggerSchedule,
		TriggerManual,
		TriggerAPIWebhook,
	}
}

// Trigger is a stateless descriptor. Matching against incoming events is done
// by callers, the engine itself never evaluates triggers.
type Trigger struct {
	ID         string      `json:"id,omitempty"`
	Kind       TriggerKind `json:"kind"                  validate:"required,oneof=document-created document-modified document-accessed metadata-changed schedule manual api-webhook"`
	Cron       string      `json:"cron,omitempty"        validate:"required_if=Kind schedule"`
	Library    string      `json:"library,omitempty"`
	PathPrefix string      `json:"path_prefix,omitempty"`
	Fields     []string    `json:"fields,omitempty"`
	Secret     string      `json:"secret,omitempty"`
}

// DocumentEvent is raised by the content side when something happens to a document.
type DocumentEvent struct {
	Kind          TriggerKind    `json:"kind"`
	DocumentID    string         `json:"document_id"`
	Library       string         `json:"library,omitempty"`
	Path          string         `json:"path,omitempty"`
	ChangedFields []string       `json:"changed_fields,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	Actor         string         `json:"actor,omitempty"`
}

// IsDocumentKind reports whether the trigger reacts to document events.
func (k TriggerKind) IsDocumentKind() bool {
	switch k {
	case TriggerDocumentCreated, TriggerDocumentModified, TriggerDocumentAccessed, TriggerMetadataChanged:
		return true
	default:
		return false
	}
}

// Matches reports whether the document event satisfies this trigger.
func (t Trigger) Matches(event DocumentEvent) bool {
	if !t.Kind.IsDocumentKind() || t.Kind != event.Kind {
		return false
	}

	if t.Library != "" && !strings.EqualFold(t.Library, event.Library) {
		return false
	}

	if t.PathPrefix != "" && !strings.HasPrefix(event.Path, t.PathPrefix) {
		return false
	}

	if t.Kind == TriggerMetadataChanged && len(t.Fields) > 0 {
		for _, want := range t.Fields {
			for _, changed := range event.ChangedFields {
				if want == changed {
					return true
				}
			}
		}

		return false
	}

	return true
}
