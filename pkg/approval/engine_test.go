package approval_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/docflow/docflow/pkg/approval"
	"github.com/docflow/docflow/pkg/log"
	"github.com/docflow/docflow/pkg/models"
	"github.com/docflow/docflow/pkg/persistence/memory"
	"github.com/docflow/docflow/pkg/testutil"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store         *memory.Persistence
	notifications *testutil.NotificationService
	clock         *clockwork.FakeClock
	engine        *approval.Engine
}

func newFixture(t *testing.T, opts ...approval.Option) *fixture {
	t.Helper()

	f := &fixture{
		store:         memory.NewPersistence(),
		notifications: &testutil.NotificationService{},
		clock:         clockwork.NewFakeClockAt(time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)),
	}

	opts = append([]approval.Option{approval.WithClock(f.clock)}, opts...)
	f.engine = approval.NewEngine(log.Discard(), f.store.ApprovalRepository(), f.notifications, opts...)
	t.Cleanup(f.engine.Close)

	return f
}

func (f *fixture) sent(template string) int {
	n := 0

	for _, sent := range f.notifications.Sent() {
		if sent.Template == template {
			n++
		}
	}

	return n
}

func (f *fixture) lastRecipients(template string) (recipients []string) {
	for _, sent := range f.notifications.Sent() {
		if sent.Template == template {
			recipients = sent.Recipients
		}
	}

	return recipients
}

func stage(name string, tier int, approvers ...string) models.ApprovalStageSpec {
	return models.ApprovalStageSpec{Name: name, Tier: tier, Approvers: approvers}
}

func request(mode models.ApprovalMode, stages ...models.ApprovalStageSpec) models.ApprovalRequest {
	return models.ApprovalRequest{
		Name:        "Contract sign-off",
		DocumentID:  "doc-1",
		Mode:        mode,
		Stages:      stages,
		RequestedBy: "requester@example.com",
	}
}

func active(a *models.ApprovalWorkflow) []string {
	var ids []string

	for _, s := range a.Stages {
		if s.Pending() {
			ids = append(ids, s.ID)
		}
	}

	return ids
}

func TestEngine_Sequential(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.engine.Create(ctx, request(models.ApprovalSequential,
		stage("Legal", 0, "legal@example.com"),
		stage("Finance", 0, "finance@example.com"),
	))
	require.NoError(t, err)

	assert.Equal(t, models.ApprovalPending, a.Status)
	assert.Equal(t, []string{"stage-1"}, active(a))
	assert.Equal(t, models.PolicyUnanimous, a.Stages[0].Policy)
	assert.Equal(t, 1, f.sent(approval.TemplateRequested))

	a, err = f.engine.Decide(ctx, a.ID, "stage-1", "legal@example.com", models.DecisionApproved, "ok")
	require.NoError(t, err)
	assert.Equal(t, models.DecisionApproved, a.Stages[0].Decision)
	assert.NotNil(t, a.Stages[0].ResolvedAt)
	assert.Equal(t, []string{"stage-2"}, active(a))

	recipients := f.lastRecipients(approval.TemplateRequested)
	assert.Equal(t, []string{"finance@example.com"}, recipients)

	a, err = f.engine.Decide(ctx, a.ID, "stage-2", "finance@example.com", models.DecisionApproved, "")
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalApproved, a.Status)
	assert.False(t, a.Overridden)
	assert.NotNil(t, a.CompletedAt)
	assert.Equal(t, 1, f.sent(approval.TemplateCompleted))

	stored, err := f.store.ApprovalRepository().ByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalApproved, stored.Status)

	pending, err := f.store.ApprovalRepository().Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestEngine_ParallelTiers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.engine.Create(ctx, request(models.ApprovalParallel,
		stage("Legal", 0, "legal@example.com"),
		stage("Security", 0, "security@example.com"),
		stage("Board", 1, "board@example.com"),
	))
	require.NoError(t, err)
	assert.Equal(t, []string{"stage-1", "stage-2"}, active(a))

	a, err = f.engine.Decide(ctx, a.ID, "stage-2", "security@example.com", models.DecisionApproved, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"stage-1"}, active(a), "the next tier waits for the whole tier")

	a, err = f.engine.Decide(ctx, a.ID, "stage-1", "legal@example.com", models.DecisionApproved, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"stage-3"}, active(a))

	a, err = f.engine.Decide(ctx, a.ID, "stage-3", "board@example.com", models.DecisionApproved, "")
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalApproved, a.Status)
}

func TestEngine_UnanimousRejection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.engine.Create(ctx, request(models.ApprovalParallel,
		stage("Legal", 0, "ana@example.com", "bruno@example.com"),
		stage("Finance", 0, "carla@example.com"),
	))
	require.NoError(t, err)

	a, err = f.engine.Decide(ctx, a.ID, "stage-1", "ana@example.com", models.DecisionApproved, "")
	require.NoError(t, err)
	assert.Equal(t, models.DecisionPending, a.Stages[0].Decision, "unanimous waits for every approver")

	a, err = f.engine.Decide(ctx, a.ID, "stage-1", "bruno@example.com", models.DecisionRejected, "missing clause")
	require.NoError(t, err)

	assert.Equal(t, models.ApprovalRejected, a.Status)
	assert.Equal(t, models.DecisionRejected, a.Stages[0].Decision)
	assert.Empty(t, active(a))

	_, err = f.engine.Decide(ctx, a.ID, "stage-2", "carla@example.com", models.DecisionApproved, "")
	assert.True(t, models.IsInvalidTransition(err))
}

func TestEngine_FirstResponse(t *testing.T) {
	f := newFixture(t)

	spec := stage("Legal", 0, "ana@example.com", "bruno@example.com")
	spec.Policy = models.PolicyFirstResponse

	a, err := f.engine.Create(context.Background(), request(models.ApprovalSequential, spec))
	require.NoError(t, err)

	a, err = f.engine.Decide(context.Background(), a.ID, "stage-1", "bruno@example.com", models.DecisionApproved, "")
	require.NoError(t, err)

	assert.Equal(t, models.ApprovalApproved, a.Status)
	assert.Len(t, a.Stages[0].Responses, 1)
}

func TestEngine_Override(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := request(models.ApprovalSequential,
		stage("Legal", 0, "legal@example.com"),
		stage("Director", 0, "director@example.com"),
	)
	req.AllowOverride = true

	a, err := f.engine.Create(ctx, req)
	require.NoError(t, err)

	a, err = f.engine.Decide(ctx, a.ID, "stage-1", "legal@example.com", models.DecisionRejected, "")
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalPending, a.Status)
	assert.True(t, a.Overridden)
	assert.Equal(t, []string{"stage-2"}, active(a))

	a, err = f.engine.Decide(ctx, a.ID, "stage-2", "director@example.com", models.DecisionApproved, "override")
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalApproved, a.Status)
	assert.True(t, a.Overridden)
	assert.Equal(t, models.DecisionRejected, a.Stages[0].Decision)
}

func TestEngine_DecideErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.engine.Create(ctx, request(models.ApprovalSequential,
		stage("Legal", 0, "ana@example.com", "bruno@example.com"),
		stage("Finance", 0, "carla@example.com"),
	))
	require.NoError(t, err)

	_, err = f.engine.Decide(ctx, a.ID, "stage-1", "ana@example.com", models.DecisionApproved, "")
	require.NoError(t, err)

	tests := []struct {
		name     string
		id       string
		stage    string
		approver string
		decision models.Decision
		check    func(error) bool
	}{
		{"unknown approval", "missing", "stage-1", "ana@example.com", models.DecisionApproved, models.IsNotFound},
		{"unknown stage", a.ID, "stage-9", "ana@example.com", models.DecisionApproved, models.IsNotFound},
		{"inactive stage", a.ID, "stage-2", "carla@example.com", models.DecisionApproved, models.IsInvalidTransition},
		{"not an approver", a.ID, "stage-1", "mallory@example.com", models.DecisionApproved, models.IsInvalidRequest},
		{"already responded", a.ID, "stage-1", "ana@example.com", models.DecisionRejected, models.IsInvalidRequest},
		{"invalid decision", a.ID, "stage-1", "bruno@example.com", models.DecisionPending, models.IsInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.Decide(ctx, tt.id, tt.stage, tt.approver, tt.decision, "")
			require.Error(t, err)
			assert.True(t, tt.check(err), "unexpected error: %v", err)
		})
	}

	got, err := f.engine.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Len(t, got.Stages[0].Responses, 1, "rejected decisions leave no trace")
}

func TestEngine_CreateValidates(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.Create(context.Background(), models.ApprovalRequest{Name: "Empty", Mode: models.ApprovalSequential})
	assert.True(t, models.IsInvalidRequest(err))

	_, err = f.engine.Create(context.Background(), request("round-robin", stage("Legal", 0, "ana@example.com")))
	assert.True(t, models.IsInvalidRequest(err))
}

func TestEngine_Reminders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	spec := stage("Legal", 0, "ana@example.com", "bruno@example.com")
	spec.Reminder = models.ReminderSettings{Enabled: true, Interval: time.Hour}

	a, err := f.engine.Create(ctx, request(models.ApprovalSequential, spec))
	require.NoError(t, err)

	_, err = f.engine.Decide(ctx, a.ID, "stage-1", "ana@example.com", models.DecisionApproved, "")
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	require.Eventually(t, func() bool { return f.sent(approval.TemplateReminder) == 1 }, time.Second, 5*time.Millisecond)

	recipients := f.lastRecipients(approval.TemplateReminder)
	assert.Equal(t, []string{"bruno@example.com"}, recipients, "only approvers who have not responded are reminded")

	f.clock.Advance(time.Hour)
	require.Eventually(t, func() bool { return f.sent(approval.TemplateReminder) == 2 }, time.Second, 5*time.Millisecond)

	got, err := f.engine.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Stages[0].Reminders)

	_, err = f.engine.Decide(ctx, a.ID, "stage-1", "bruno@example.com", models.DecisionApproved, "")
	require.NoError(t, err)

	f.clock.Advance(3 * time.Hour)
	assert.Never(t, func() bool { return f.sent(approval.TemplateReminder) > 2 }, 50*time.Millisecond, 5*time.Millisecond)
}

func TestEngine_EscalationIsAdditive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	spec := stage("Legal", 0, "ana@example.com")
	spec.Escalation = models.EscalationSettings{Enabled: true, Timeout: 48 * time.Hour, EscalateTo: []string{"head@example.com", "ana@example.com"}}

	a, err := f.engine.Create(ctx, request(models.ApprovalSequential, spec))
	require.NoError(t, err)

	f.clock.Advance(47 * time.Hour)
	assert.Never(t, func() bool { return f.sent(approval.TemplateEscalated) > 0 }, 30*time.Millisecond, 5*time.Millisecond)

	f.clock.Advance(time.Hour)
	require.Eventually(t, func() bool { return f.sent(approval.TemplateEscalated) == 1 }, time.Second, 5*time.Millisecond)

	recipients := f.lastRecipients(approval.TemplateEscalated)
	assert.Equal(t, []string{"head@example.com"}, recipients)

	got, err := f.engine.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, got.Stages[0].Escalated)
	assert.Equal(t, []string{"ana@example.com", "head@example.com"}, got.Stages[0].Approvers)

	f.clock.Advance(48 * time.Hour)
	assert.Never(t, func() bool { return f.sent(approval.TemplateEscalated) > 1 }, 30*time.Millisecond, 5*time.Millisecond)

	got, err = f.engine.Decide(ctx, a.ID, "stage-1", "head@example.com", models.DecisionApproved, "")
	require.NoError(t, err)
	assert.Equal(t, models.DecisionPending, got.Stages[0].Decision, "unanimous includes escalation approvers")

	got, err = f.engine.Decide(ctx, a.ID, "stage-1", "ana@example.com", models.DecisionApproved, "")
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalApproved, got.Status)
}

func TestEngine_DecisionBeforeEscalationDeadline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	spec := stage("Legal", 0, "ana@example.com")
	spec.Escalation = models.EscalationSettings{Enabled: true, Timeout: time.Hour, EscalateTo: []string{"head@example.com"}}

	a, err := f.engine.Create(ctx, request(models.ApprovalSequential, spec))
	require.NoError(t, err)

	f.clock.Advance(time.Hour - time.Nanosecond)

	got, err := f.engine.Decide(ctx, a.ID, "stage-1", "ana@example.com", models.DecisionApproved, "")
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalApproved, got.Status)

	f.clock.Advance(2 * time.Hour)
	assert.Never(t, func() bool { return f.sent(approval.TemplateEscalated) > 0 }, 50*time.Millisecond, 5*time.Millisecond)

	got, err = f.engine.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.False(t, got.Stages[0].Escalated)
	assert.Equal(t, []string{"ana@example.com"}, got.Stages[0].Approvers)
}

func TestEngine_CancelStopsTimers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	spec := stage("Legal", 0, "ana@example.com")
	spec.Reminder = models.ReminderSettings{Enabled: true, Interval: time.Hour}

	a, err := f.engine.Create(ctx, request(models.ApprovalSequential, spec))
	require.NoError(t, err)

	a, err = f.engine.Cancel(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalCancelled, a.Status)
	assert.Empty(t, active(a))

	f.clock.Advance(5 * time.Hour)
	assert.Never(t, func() bool { return f.sent(approval.TemplateReminder) > 0 }, 50*time.Millisecond, 5*time.Millisecond)

	_, err = f.engine.Cancel(ctx, a.ID)
	assert.True(t, models.IsInvalidTransition(err))

	_, err = f.engine.Decide(ctx, a.ID, "stage-1", "ana@example.com", models.DecisionApproved, "")
	assert.True(t, models.IsInvalidTransition(err))
}

func TestEngine_Resume(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	spec := stage("Legal", 0, "ana@example.com")
	spec.Reminder = models.ReminderSettings{Enabled: true, Interval: time.Hour}
	spec.Escalation = models.EscalationSettings{Enabled: true, Timeout: 2 * time.Hour, EscalateTo: []string{"head@example.com"}}

	a, err := f.engine.Create(ctx, request(models.ApprovalSequential, spec))
	require.NoError(t, err)

	f.engine.Close()

	restarted := approval.NewEngine(log.Discard(), f.store.ApprovalRepository(), f.notifications, approval.WithClock(f.clock))
	defer restarted.Close()

	f.clock.Advance(3 * time.Hour)

	resumed, err := restarted.Resume(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, resumed)

	require.Eventually(t, func() bool { return f.sent(approval.TemplateEscalated) == 1 }, time.Second, 5*time.Millisecond,
		"an overdue escalation fires right after resume")

	f.clock.Advance(time.Hour)
	require.Eventually(t, func() bool { return f.sent(approval.TemplateReminder) == 1 }, time.Second, 5*time.Millisecond)

	got, err := restarted.Decide(ctx, a.ID, "stage-1", "ana@example.com", models.DecisionApproved, "")
	require.NoError(t, err)
	assert.Equal(t, models.DecisionPending, got.Stages[0].Decision)

	got, err = restarted.Decide(ctx, a.ID, "stage-1", "head@example.com", models.DecisionApproved, "")
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalApproved, got.Status)
}

type recordingListener struct {
	mu       sync.Mutex
	statuses []models.ApprovalStatus
}

func (l *recordingListener) ApprovalFinished(_ context.Context, a *models.ApprovalWorkflow) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.statuses = append(l.statuses, a.Status)
}

func TestEngine_ListenersSeeFinalStatus(t *testing.T) {
	listener := &recordingListener{}
	f := newFixture(t, approval.WithListener(listener))
	ctx := context.Background()

	a, err := f.engine.Create(ctx, request(models.ApprovalSequential, stage("Legal", 0, "ana@example.com")))
	require.NoError(t, err)

	_, err = f.engine.Decide(ctx, a.ID, "stage-1", "ana@example.com", models.DecisionRejected, "")
	require.NoError(t, err)

	b, err := f.engine.Create(ctx, request(models.ApprovalSequential, stage("Legal", 0, "ana@example.com")))
	require.NoError(t, err)

	_, err = f.engine.Cancel(ctx, b.ID)
	require.NoError(t, err)

	assert.Equal(t, []models.ApprovalStatus{models.ApprovalRejected, models.ApprovalCancelled}, listener.statuses)
}
