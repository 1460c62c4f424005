package approval

import (
	"context"
	"time"

	"github.com/docflow/docflow/pkg/models"
	"github.com/docflow/docflow/pkg/protocol"
	"github.com/jonboulle/clockwork"
)

type timerKind string

const (
	reminderTimer   timerKind = "reminder"
	escalationTimer timerKind = "escalation"
)

type timerKey struct {
	approvalID string
	stageID    string
	kind       timerKind
}

// stageTimer pairs a clock timer with the sequence number it was armed with.
// A callback whose sequence no longer matches the registered timer was
// stopped or replaced and must not act.
type stageTimer struct {
	timer clockwork.Timer
	seq   uint64
}

// armLocked starts the reminder and escalation timers of an active stage,
// replacing any it already had.
func (e *Engine) armLocked(approvalID string, s *models.ApprovalStage) {
	e.stopStageLocked(approvalID, s.ID)

	if s.Reminder.Enabled && s.Reminder.Interval > 0 {
		e.startLocked(timerKey{approvalID, s.ID, reminderTimer}, s.Reminder.Interval)
	}

	if s.Escalation.Enabled && !s.Escalated && s.Escalation.Timeout > 0 {
		delay := s.Escalation.Timeout
		if s.ActivatedAt != nil {
			delay = s.ActivatedAt.Add(s.Escalation.Timeout).Sub(e.clock.Now())
		}

		e.startLocked(timerKey{approvalID, s.ID, escalationTimer}, max(delay, 0))
	}
}

func (e *Engine) startLocked(key timerKey, delay time.Duration) {
	e.seq++
	seq := e.seq

	timer := e.clock.AfterFunc(delay, func() {
		e.fire(key, seq)
	})

	e.timers[key] = &stageTimer{timer: timer, seq: seq}
}

func (e *Engine) stopStageLocked(approvalID, stageID string) {
	for _, kind := range []timerKind{reminderTimer, escalationTimer} {
		key := timerKey{approvalID, stageID, kind}
		if t, ok := e.timers[key]; ok {
			t.timer.Stop()
			delete(e.timers, key)
		}
	}
}

func (e *Engine) stopAllLocked(approval *models.ApprovalWorkflow) {
	for _, s := range approval.Stages {
		e.stopStageLocked(approval.ID, s.ID)
	}
}

// fire handles an expired timer. Stage status is re-checked under the lock,
// so a timer that raced with a decision or a cancellation does nothing.
func (e *Engine) fire(key timerKey, seq uint64) {
	ctx := context.Background()

	e.mu.Lock()

	current, ok := e.timers[key]
	if !ok || current.seq != seq {
		e.mu.Unlock()

		return
	}

	delete(e.timers, key)

	approval, ok := e.approvals[key.approvalID]
	if !ok || approval.Status != models.ApprovalPending {
		e.mu.Unlock()

		return
	}

	stage := approval.Stage(key.stageID)
	if stage == nil || !stage.Pending() {
		e.mu.Unlock()

		return
	}

	var n protocol.Notification

	switch key.kind {
	case reminderTimer:
		stage.Reminders++
		n = stageNotification(TemplateReminder, approval, stage, pendingApprovers(stage))
		e.startLocked(key, stage.Reminder.Interval)
	case escalationTimer:
		added := escalate(stage)
		n = stageNotification(TemplateEscalated, approval, stage, added)
	}

	approval.UpdatedAt = e.clock.Now().UTC()

	if err := e.store.Save(ctx, approval); err != nil {
		e.logger.ErrorContext(ctx, "Failed to save approval after timer",
			"approval_id", key.approvalID,
			"stage_id", key.stageID,
			"timer", key.kind,
			"error", err)
	}

	e.mu.Unlock()

	e.logger.InfoContext(ctx, "Approval timer fired",
		"approval_id", key.approvalID,
		"stage_id", key.stageID,
		"timer", key.kind)

	e.send(ctx, []protocol.Notification{n})
}
