// Package approval runs staged approval workflows: stage activation,
// unanimous and first-response policies, overrides, reminders and escalations.
package approval

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/docflow/docflow/pkg/models"
	"github.com/docflow/docflow/pkg/otelhelper"
	"github.com/docflow/docflow/pkg/persistence"
	"github.com/docflow/docflow/pkg/protocol"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Notification templates sent by the engine.
const (
	TemplateRequested = "approval-requested"
	TemplateReminder  = "approval-reminder"
	TemplateEscalated = "approval-escalated"
	TemplateCompleted = "approval-completed"
)

// Listener is told when an approval workflow reaches a final status.
type Listener interface {
	ApprovalFinished(ctx context.Context, approval *models.ApprovalWorkflow)
}

type Option func(*Engine)

func WithClock(clock clockwork.Clock) Option {
	return func(e *Engine) { e.clock = clock }
}

func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) { e.tracer = tracer }
}

func WithListener(listener Listener) Option {
	return func(e *Engine) { e.listeners = append(e.listeners, listener) }
}

// Engine owns every pending approval workflow and its stage timers. All
// state changes happen under mu; notifications are sent after it is released.
type Engine struct {
	logger        *slog.Logger
	store         persistence.ApprovalRepository
	notifications protocol.NotificationService
	clock         clockwork.Clock
	tracer        trace.Tracer
	listeners     []Listener

	mu        sync.Mutex
	approvals map[string]*models.ApprovalWorkflow
	timers    map[timerKey]*stageTimer
	seq       uint64
}

func NewEngine(
	logger *slog.Logger,
	store persistence.ApprovalRepository,
	notifications protocol.NotificationService,
	opts ...Option,
) *Engine {
	e := &Engine{
		logger:        logger.With("module", "approval_engine"),
		store:         store,
		notifications: notifications,
		clock:         clockwork.NewRealClock(),
		tracer:        otelhelper.Noop(),
		approvals:     make(map[string]*models.ApprovalWorkflow),
		timers:        make(map[timerKey]*stageTimer),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Create opens a new approval workflow and activates its first stages.
func (e *Engine) Create(ctx context.Context, req models.ApprovalRequest) (*models.ApprovalWorkflow, error) {
	if err := models.ValidateStruct(req); err != nil {
		return nil, models.NewEngineError("CreateApproval", "", err)
	}

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "approval.create",
		attribute.String(otelhelper.DocumentIDKey, req.DocumentID),
		attribute.String(otelhelper.ExecutionIDKey, req.ExecutionID),
	)
	defer span.End()

	now := e.clock.Now().UTC()

	approval := &models.ApprovalWorkflow{
		ID:            uuid.New().String(),
		Name:          req.Name,
		DocumentID:    req.DocumentID,
		ExecutionID:   req.ExecutionID,
		Mode:          req.Mode,
		AllowOverride: req.AllowOverride,
		Status:        models.ApprovalPending,
		Stages:        make([]*models.ApprovalStage, len(req.Stages)),
		RequestedBy:   req.RequestedBy,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	for i, spec := range req.Stages {
		policy := spec.Policy
		if policy == "" {
			policy = models.PolicyUnanimous
		}

		approval.Stages[i] = &models.ApprovalStage{
			ID:         fmt.Sprintf("stage-%d", i+1),
			Name:       spec.Name,
			Tier:       spec.Tier,
			Approvers:  append([]string(nil), spec.Approvers...),
			Policy:     policy,
			Decision:   models.DecisionPending,
			Reminder:   spec.Reminder,
			Escalation: spec.Escalation,
		}
	}

	span.SetAttributes(attribute.String(otelhelper.ApprovalIDKey, approval.ID))

	e.mu.Lock()

	activated := activate(approval, now)

	if err := e.store.Save(ctx, approval); err != nil {
		e.mu.Unlock()
		otelhelper.SetError(span, err)

		return nil, models.NewEngineError("CreateApproval", approval.ID, err)
	}

	e.approvals[approval.ID] = approval

	for _, s := range activated {
		e.armLocked(approval.ID, s)
	}

	outbox := requestedNotifications(approval, activated)
	snapshot := cloneApproval(approval)

	e.mu.Unlock()

	e.logger.InfoContext(ctx, "Approval workflow created",
		"approval_id", approval.ID,
		"mode", approval.Mode,
		"stages", len(approval.Stages),
		"document_id", approval.DocumentID)

	e.send(ctx, outbox)

	return snapshot, nil
}

// Decide records one approver's decision on a stage.
func (e *Engine) Decide(
	ctx context.Context,
	approvalID, stageID, approver string,
	decision models.Decision,
	comment string,
) (*models.ApprovalWorkflow, error) {
	if decision != models.DecisionApproved && decision != models.DecisionRejected {
		return nil, &models.EngineError{Op: "Decide", ID: approvalID, Message: fmt.Sprintf("decision must be approved or rejected, got %q", decision), Err: models.ErrInvalidRequest}
	}

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "approval.decide",
		attribute.String(otelhelper.ApprovalIDKey, approvalID),
		attribute.String(otelhelper.StageIDKey, stageID),
	)
	defer span.End()

	e.mu.Lock()

	approval, err := e.loadLocked(ctx, approvalID)
	if err != nil {
		e.mu.Unlock()

		return nil, models.NewEngineError("Decide", approvalID, err)
	}

	if approval.Status != models.ApprovalPending {
		e.mu.Unlock()

		return nil, &models.EngineError{Op: "Decide", ID: approvalID, Message: "approval is " + string(approval.Status), Err: models.ErrInvalidTransition}
	}

	stage := approval.Stage(stageID)

	switch {
	case stage == nil:
		e.mu.Unlock()

		return nil, &models.EngineError{Op: "Decide", ID: stageID, Message: "stage not found", Err: models.ErrNotFound}
	case !stage.Pending():
		e.mu.Unlock()

		return nil, &models.EngineError{Op: "Decide", ID: stageID, Message: "stage is not awaiting decisions", Err: models.ErrInvalidTransition}
	case !stage.IsApprover(approver):
		e.mu.Unlock()

		return nil, &models.EngineError{Op: "Decide", ID: stageID, Message: approver + " is not an approver of this stage", Err: models.ErrInvalidRequest}
	case stage.Responded(approver):
		e.mu.Unlock()

		return nil, &models.EngineError{Op: "Decide", ID: stageID, Message: approver + " already responded", Err: models.ErrInvalidRequest}
	}

	now := e.clock.Now().UTC()
	previous := cloneApproval(approval)

	stage.Responses = append(stage.Responses, models.ApprovalResponse{
		Approver:    approver,
		Decision:    decision,
		Comment:     comment,
		RespondedAt: now,
	})

	var outbox []protocol.Notification

	if verdict := resolve(stage); verdict != models.DecisionPending {
		outbox = e.resolveStageLocked(approval, stage, verdict, now)
	}

	approval.UpdatedAt = now

	if err := e.store.Save(ctx, approval); err != nil {
		e.restoreLocked(previous)
		e.mu.Unlock()
		otelhelper.SetError(span, err)

		return nil, models.NewEngineError("Decide", approvalID, err)
	}

	finished := approval.Status != models.ApprovalPending
	if finished {
		e.stopAllLocked(approval)
		delete(e.approvals, approval.ID)
	}

	snapshot := cloneApproval(approval)

	e.mu.Unlock()

	e.logger.InfoContext(ctx, "Approval decision recorded",
		"approval_id", approvalID,
		"stage_id", stageID,
		"approver", approver,
		"decision", decision,
		"stage_decision", snapshot.Stage(stageID).Decision,
		"status", snapshot.Status)

	e.send(ctx, outbox)

	if finished {
		e.finished(ctx, snapshot)
	}

	return snapshot, nil
}

// resolveStageLocked applies a stage verdict and advances the workflow.
// It returns the notifications to send once the lock is released.
func (e *Engine) resolveStageLocked(
	approval *models.ApprovalWorkflow,
	stage *models.ApprovalStage,
	verdict models.Decision,
	now time.Time,
) []protocol.Notification {
	resolved := now
	stage.Decision = verdict
	stage.Active = false
	stage.ResolvedAt = &resolved
	e.stopStageLocked(approval.ID, stage.ID)

	if verdict == models.DecisionRejected {
		if !approval.AllowOverride {
			approval.Status = models.ApprovalRejected
			approval.CompletedAt = &resolved

			for _, s := range activeStages(approval) {
				s.Active = false
			}

			return []protocol.Notification{completedNotification(approval)}
		}

		approval.Overridden = true
	}

	activated := activate(approval, now)

	if complete(approval) {
		approval.Status = models.ApprovalApproved
		approval.CompletedAt = &resolved

		return []protocol.Notification{completedNotification(approval)}
	}

	for _, s := range activated {
		e.armLocked(approval.ID, s)
	}

	return requestedNotifications(approval, activated)
}

// Cancel stops a pending approval workflow and its timers.
func (e *Engine) Cancel(ctx context.Context, approvalID string) (*models.ApprovalWorkflow, error) {
	e.mu.Lock()

	approval, err := e.loadLocked(ctx, approvalID)
	if err != nil {
		e.mu.Unlock()

		return nil, models.NewEngineError("CancelApproval", approvalID, err)
	}

	if approval.Status != models.ApprovalPending {
		e.mu.Unlock()

		return nil, &models.EngineError{Op: "CancelApproval", ID: approvalID, Message: "approval is " + string(approval.Status), Err: models.ErrInvalidTransition}
	}

	previous := cloneApproval(approval)
	now := e.clock.Now().UTC()

	approval.Status = models.ApprovalCancelled
	approval.CompletedAt = &now
	approval.UpdatedAt = now

	for _, s := range activeStages(approval) {
		s.Active = false
	}

	if err := e.store.Save(ctx, approval); err != nil {
		e.restoreLocked(previous)
		e.mu.Unlock()

		return nil, models.NewEngineError("CancelApproval", approvalID, err)
	}

	e.stopAllLocked(approval)
	delete(e.approvals, approvalID)

	snapshot := cloneApproval(approval)

	e.mu.Unlock()

	e.logger.InfoContext(ctx, "Approval workflow cancelled", "approval_id", approvalID)
	e.finished(ctx, snapshot)

	return snapshot, nil
}

// Get returns an approval workflow by id.
func (e *Engine) Get(ctx context.Context, approvalID string) (*models.ApprovalWorkflow, error) {
	e.mu.Lock()
	if approval, ok := e.approvals[approvalID]; ok {
		snapshot := cloneApproval(approval)
		e.mu.Unlock()

		return snapshot, nil
	}
	e.mu.Unlock()

	approval, err := e.store.ByID(ctx, approvalID)
	if err != nil {
		return nil, models.NewEngineError("GetApproval", approvalID, err)
	}

	return approval, nil
}

// Resume loads every pending approval from the store and re-arms the timers
// of its active stages. Escalations whose timeout already passed fire
// immediately.
func (e *Engine) Resume(ctx context.Context) (int, error) {
	pending, err := e.store.Pending(ctx)
	if err != nil {
		return 0, models.NewEngineError("ResumeApprovals", "", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	resumed := 0

	for _, approval := range pending {
		if _, ok := e.approvals[approval.ID]; ok {
			continue
		}

		e.approvals[approval.ID] = approval

		for _, s := range activeStages(approval) {
			e.armLocked(approval.ID, s)
		}

		resumed++
	}

	e.logger.InfoContext(ctx, "Approval workflows resumed", "count", resumed)

	return resumed, nil
}

// Close stops every timer. Pending approvals stay in the store for Resume.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()

	for key, t := range e.timers {
		t.timer.Stop()
		delete(e.timers, key)
	}
}

// loadLocked returns the live copy of an approval, adopting it from the
// store when this engine does not own it yet.
func (e *Engine) loadLocked(ctx context.Context, approvalID string) (*models.ApprovalWorkflow, error) {
	if approval, ok := e.approvals[approvalID]; ok {
		return approval, nil
	}

	approval, err := e.store.ByID(ctx, approvalID)
	if err != nil {
		return nil, err
	}

	if approval.Status == models.ApprovalPending {
		e.approvals[approvalID] = approval
	}

	return approval, nil
}

// restoreLocked reverts the live copy after a failed save.
func (e *Engine) restoreLocked(previous *models.ApprovalWorkflow) {
	e.approvals[previous.ID] = previous

	for _, s := range previous.Stages {
		if !s.Pending() {
			e.stopStageLocked(previous.ID, s.ID)

			continue
		}

		if _, ok := e.timers[timerKey{previous.ID, s.ID, reminderTimer}]; !ok {
			e.armLocked(previous.ID, s)
		}
	}
}

func (e *Engine) finished(ctx context.Context, approval *models.ApprovalWorkflow) {
	for _, l := range e.listeners {
		l.ApprovalFinished(ctx, approval)
	}
}

func (e *Engine) send(ctx context.Context, outbox []protocol.Notification) {
	if e.notifications == nil {
		return
	}

	for _, n := range outbox {
		if len(n.Recipients) == 0 {
			continue
		}

		if err := e.notifications.Notify(ctx, n); err != nil {
			e.logger.WarnContext(ctx, "Failed to send approval notification",
				"template", n.Template,
				"recipients", n.Recipients,
				"error", err)
		}
	}
}

func requestedNotifications(approval *models.ApprovalWorkflow, stages []*models.ApprovalStage) []protocol.Notification {
	out := make([]protocol.Notification, 0, len(stages))

	for _, s := range stages {
		out = append(out, stageNotification(TemplateRequested, approval, s, pendingApprovers(s)))
	}

	return out
}

func stageNotification(template string, approval *models.ApprovalWorkflow, s *models.ApprovalStage, recipients []string) protocol.Notification {
	return protocol.Notification{
		Recipients: recipients,
		Template:   template,
		Subject:    fmt.Sprintf("%s: %s", approval.Name, s.Name),
		Data: map[string]any{
			"approval_id": approval.ID,
			"stage_id":    s.ID,
			"stage_name":  s.Name,
			"document_id": approval.DocumentID,
			"reminders":   s.Reminders,
		},
	}
}

func completedNotification(approval *models.ApprovalWorkflow) protocol.Notification {
	var recipients []string
	if approval.RequestedBy != "" {
		recipients = []string{approval.RequestedBy}
	}

	return protocol.Notification{
		Recipients: recipients,
		Template:   TemplateCompleted,
		Subject:    fmt.Sprintf("%s: %s", approval.Name, approval.Status),
		Data: map[string]any{
			"approval_id": approval.ID,
			"document_id": approval.DocumentID,
			"status":      string(approval.Status),
			"overridden":  approval.Overridden,
		},
	}
}

func cloneApproval(a *models.ApprovalWorkflow) *models.ApprovalWorkflow {
	cp, err := persistence.Clone(a)
	if err != nil {
		// unreachable for approval workflows
		shallow := *a

		return &shallow
	}

	return cp
}
