package models

import (
	"encoding/json"
	"fmt"
	"slices"
)

// ActionKind identifies the unit of work an action performs.
type ActionKind string

const (
	ActionMove           ActionKind = "move"
	ActionCopy           ActionKind = "copy"
	ActionDelete         ActionKind = "delete"
	ActionUpdateMetadata ActionKind = "update-metadata"
	ActionNotify         ActionKind = "notify"
	ActionCreateApproval ActionKind = "create-approval"
	ActionRunAnalysis    ActionKind = "run-analysis"
	ActionArchive        ActionKind = "archive"
	ActionApplyRetention ActionKind = "apply-retention"
	ActionSendEmail      ActionKind = "send-email"
	ActionWebhook        ActionKind = "webhook"
)

// ActionKinds lists every action kind the engine knows how to decode.
func ActionKinds() []ActionKind {
	return []ActionKind{
		ActionMove, ActionCopy, ActionDelete, ActionUpdateMetadata, ActionNotify,
		ActionCreateApproval, ActionRunAnalysis, ActionArchive, ActionApplyRetention,
		ActionSendEmail, ActionWebhook,
	}
}

// Known reports whether the kind is one the engine can decode.
func (k ActionKind) Known() bool {
	return slices.Contains(ActionKinds(), k)
}

// Mutating reports whether the kind changes the document or its metadata.
// Mutating actions are never parallel-safe and never retried without an
// idempotency key.
func (k ActionKind) Mutating() bool {
	switch k {
	case ActionMove, ActionCopy, ActionDelete, ActionUpdateMetadata,
		ActionArchive, ActionApplyRetention, ActionWebhook, ActionCreateApproval:
		return true
	default:
		return false
	}
}

// Action is one ordered unit of work within a workflow.
type Action struct {
	ID              string       `json:"id"                          validate:"required"`
	Kind            ActionKind   `json:"kind"                        validate:"required"`
	Name            string       `json:"name,omitempty"`
	ContinueOnError *bool        `json:"continue_on_error,omitempty"`
	ParallelSafe    bool         `json:"parallel_safe,omitempty"`
	IdempotencyKey  string       `json:"idempotency_key,omitempty"`
	DependsOn       []string     `json:"depends_on,omitempty"`
	Params          ActionParams `json:"params"                      validate:"-"`
}

// ActionParams is the closed set of typed action parameters.
type ActionParams interface {
	ActionKind() ActionKind
}

type MoveParams struct {
	Target string `json:"target" validate:"required"`
}

type CopyParams struct {
	Target string `json:"target" validate:"required"`
}

type DeleteParams struct {
	Permanent bool `json:"permanent,omitempty"`
}

type UpdateMetadataParams struct {
	Set    map[string]any `json:"set,omitempty"`
	Remove []string       `json:"remove,omitempty"`
}

type NotifyParams struct {
	Recipients      []string       `json:"recipients"                 validate:"required,min=1"`
	Template        string         `json:"template"                   validate:"required"`
	Data            map[string]any `json:"data,omitempty"`
	RequireDelivery bool           `json:"require_delivery,omitempty"`
}

type CreateApprovalParams struct {
	Name          string              `json:"name"                     validate:"required"`
	Mode          ApprovalMode        `json:"mode"                     validate:"required,oneof=sequential parallel"`
	AllowOverride bool                `json:"allow_override,omitempty"`
	Stages        []ApprovalStageSpec `json:"stages"                   validate:"required,min=1,dive"`
}

type RunAnalysisParams struct {
	Formats   []string `json:"formats,omitempty"`
	Tags      bool     `json:"tags,omitempty"`
	WriteBack bool     `json:"write_back,omitempty"`
}

type ArchiveParams struct {
	Target string `json:"target,omitempty"`
	Reason string `json:"reason,omitempty"`
}

type ApplyRetentionParams struct {
	Label       string `json:"label"                 validate:"required"`
	PeriodDays  int    `json:"period_days"           validate:"gte=0"`
	Disposition string `json:"disposition,omitempty" validate:"omitempty,oneof=delete archive review"`
}

type SendEmailParams struct {
	To              []string `json:"to"                         validate:"required,min=1,dive,email"`
	Subject         string   `json:"subject"                    validate:"required"`
	Body            string   `json:"body,omitempty"`
	RequireDelivery bool     `json:"require_delivery,omitempty"`
}

type WebhookParams struct {
	URL            string            `json:"url"                       validate:"required,url"`
	Method         string            `json:"method,omitempty"          validate:"omitempty,oneof=GET POST PUT PATCH DELETE"`
	Headers        map[string]string `json:"headers,omitempty"`
	Body           map[string]any    `json:"body,omitempty"`
	TimeoutSeconds int               `json:"timeout_seconds,omitempty" validate:"gte=0,lte=300"`
}

// UnknownParams keeps the raw parameters of an action kind this build does
// not know about. The action is accepted and stored, and fails only its own
// step at execution time.
type UnknownParams struct {
	Kind   ActionKind     `json:"-"`
	Values map[string]any `json:"-"`
}

func (MoveParams) ActionKind() ActionKind           { return ActionMove }
func (CopyParams) ActionKind() ActionKind           { return ActionCopy }
func (DeleteParams) ActionKind() ActionKind         { return ActionDelete }
func (UpdateMetadataParams) ActionKind() ActionKind { return ActionUpdateMetadata }
func (NotifyParams) ActionKind() ActionKind         { return ActionNotify }
func (CreateApprovalParams) ActionKind() ActionKind { return ActionCreateApproval }
func (RunAnalysisParams) ActionKind() ActionKind    { return ActionRunAnalysis }
func (ArchiveParams) ActionKind() ActionKind        { return ActionArchive }
func (ApplyRetentionParams) ActionKind() ActionKind { return ActionApplyRetention }
func (SendEmailParams) ActionKind() ActionKind      { return ActionSendEmail }
func (WebhookParams) ActionKind() ActionKind        { return ActionWebhook }
func (p UnknownParams) ActionKind() ActionKind      { return p.Kind }

// NewParams returns an empty params value for the given kind, or an
// UnknownParams placeholder when the kind is not known.
func NewParams(kind ActionKind) ActionParams {
	switch kind {
	case ActionMove:
		return &MoveParams{}
	case ActionCopy:
		return &CopyParams{}
	case ActionDelete:
		return &DeleteParams{}
	case ActionUpdateMetadata:
		return &UpdateMetadataParams{}
	case ActionNotify:
		return &NotifyParams{}
	case ActionCreateApproval:
		return &CreateApprovalParams{}
	case ActionRunAnalysis:
		return &RunAnalysisParams{}
	case ActionArchive:
		return &ArchiveParams{}
	case ActionApplyRetention:
		return &ApplyRetentionParams{}
	case ActionSendEmail:
		return &SendEmailParams{}
	case ActionWebhook:
		return &WebhookParams{}
	default:
		return &UnknownParams{Kind: kind}
	}
}

type actionAlias struct {
	ID              string          `json:"id"`
	Kind            ActionKind      `json:"kind"`
	Name            string          `json:"name,omitempty"`
	ContinueOnError *bool           `json:"continue_on_error,omitempty"`
	ParallelSafe    bool            `json:"parallel_safe,omitempty"`
	IdempotencyKey  string          `json:"idempotency_key,omitempty"`
	DependsOn       []string        `json:"depends_on,omitempty"`
	Params          json.RawMessage `json:"params,omitempty"`
}

// UnmarshalJSON decodes the params into the typed variant selected by kind.
func (a *Action) UnmarshalJSON(data []byte) error {
	var raw actionAlias
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	a.ID = raw.ID
	a.Kind = raw.Kind
	a.Name = raw.Name
	a.ContinueOnError = raw.ContinueOnError
	a.ParallelSafe = raw.ParallelSafe
	a.IdempotencyKey = raw.IdempotencyKey
	a.DependsOn = raw.DependsOn

	params := NewParams(raw.Kind)

	if unknown, ok := params.(*UnknownParams); ok {
		if len(raw.Params) > 0 && string(raw.Params) != "null" {
			if err := json.Unmarshal(raw.Params, &unknown.Values); err != nil {
				return fmt.Errorf("action %s: invalid params: %w", raw.ID, err)
			}
		}

		a.Params = *unknown

		return nil
	}

	if len(raw.Params) > 0 && string(raw.Params) != "null" {
		if err := json.Unmarshal(raw.Params, params); err != nil {
			return fmt.Errorf("action %s: invalid %s params: %w", raw.ID, raw.Kind, err)
		}
	}

	a.Params = derefParams(params)

	return nil
}

// MarshalJSON writes the params inline under "params".
func (a Action) MarshalJSON() ([]byte, error) {
	var params json.RawMessage

	switch p := a.Params.(type) {
	case nil:
	case UnknownParams:
		data, err := json.Marshal(p.Values)
		if err != nil {
			return nil, err
		}

		params = data
	case *UnknownParams:
		data, err := json.Marshal(p.Values)
		if err != nil {
			return nil, err
		}

		params = data
	default:
		data, err := json.Marshal(p)
		if err != nil {
			return nil, err
		}

		params = data
	}

	return json.Marshal(actionAlias{
		ID:              a.ID,
		Kind:            a.Kind,
		Name:            a.Name,
		ContinueOnError: a.ContinueOnError,
		ParallelSafe:    a.ParallelSafe,
		IdempotencyKey:  a.IdempotencyKey,
		DependsOn:       a.DependsOn,
		Params:          params,
	})
}

// ParamsAs returns the typed params of an action.
func ParamsAs[T ActionParams](a Action) (T, bool) {
	if p, ok := a.Params.(T); ok {
		return p, true
	}

	if ptr, ok := any(a.Params).(*T); ok && ptr != nil {
		return *ptr, true
	}

	var zero T

	return zero, false
}

func derefParams(p ActionParams) ActionParams {
	switch v := p.(type) {
	case *MoveParams:
		return *v
	case *CopyParams:
		return *v
	case *DeleteParams:
		return *v
	case *UpdateMetadataParams:
		return *v
	case *NotifyParams:
		return *v
	case *CreateApprovalParams:
		return *v
	case *RunAnalysisParams:
		return *v
	case *ArchiveParams:
		return *v
	case *ApplyRetentionParams:
		return *v
	case *SendEmailParams:
		return *v
	case *WebhookParams:
		return *v
	case *UnknownParams:
		return *v
	default:
		return p
	}
}
