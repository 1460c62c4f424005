package batch_test

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/docflow/docflow/pkg/actions/analysis"
	"github.com/docflow/docflow/pkg/actions/content"
	"github.com/docflow/docflow/pkg/batch"
	"github.com/docflow/docflow/pkg/conditions"
	"github.com/docflow/docflow/pkg/log"
	"github.com/docflow/docflow/pkg/models"
	"github.com/docflow/docflow/pkg/persistence/memory"
	"github.com/docflow/docflow/pkg/protocol"
	"github.com/docflow/docflow/pkg/registry"
	"github.com/docflow/docflow/pkg/testutil"
	"github.com/docflow/docflow/pkg/workflow"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store       *memory.Persistence
	content     *testutil.ContentService
	analysis    *testutil.AnalysisService
	executor    *workflow.Executor
	coordinator *batch.Coordinator
}

func newFixture(t *testing.T, docs []*protocol.Document, opts ...batch.Option) *fixture {
	t.Helper()

	f := &fixture{
		store:    memory.NewPersistence(),
		content:  testutil.NewContentService(docs...),
		analysis: &testutil.AnalysisService{Tags: []string{"contract"}},
	}

	reg := registry.NewRegistry(log.Discard(), protocol.Collaborators{Content: f.content, Analysis: f.analysis})
	reg.RegisterAction(analysis.NewActionFactory())

	for _, factory := range content.Factories() {
		reg.RegisterAction(factory)
	}

	f.executor = workflow.NewExecutor(
		log.Discard(),
		f.store.WorkflowRepository(),
		f.store.ExecutionRepository(),
		reg,
		conditions.NewEvaluator(log.Discard()),
		workflow.WithContentService(f.content),
	)

	f.coordinator = batch.NewCoordinator(log.Discard(), f.executor, f.store.WorkflowRepository(), opts...)

	return f
}

func documents(n int) ([]*protocol.Document, []string) {
	docs := make([]*protocol.Document, n)
	ids := make([]string, n)

	for i := range n {
		ids[i] = fmt.Sprintf("doc-%02d", i)
		docs[i] = testutil.Document(ids[i], nil)
	}

	return docs, ids
}

func TestCoordinator_Run_LifecycleWorkflow(t *testing.T) {
	docs, ids := documents(4)
	f := newFixture(t, docs)

	result := f.coordinator.Run(context.Background(), ids, "", batch.Options{})

	assert.Equal(t, batch.LifecycleWorkflowID, result.WorkflowID)
	assert.Len(t, result.Successful, 4)
	assert.Empty(t, result.Failed)

	for i, item := range result.Successful {
		assert.Equal(t, ids[i], item.DocumentID, "input order is kept")
		assert.Equal(t, models.ExecutionCompleted, item.Status)
		assert.NotEmpty(t, item.ExecutionID)
		assert.Equal(t, true, f.content.Metadata(item.DocumentID)[analysis.FieldAnalyzed])
	}
}

func TestCoordinator_Run_IsolatesFailures(t *testing.T) {
	docs, ids := documents(5)
	f := newFixture(t, docs)
	ids = append(ids, "ghost", "doc-01")

	result := f.coordinator.Run(context.Background(), ids, "", batch.Options{MaxConcurrent: 2})

	assert.Equal(t, len(ids), result.Total())
	require.Len(t, result.Failed, 1)
	assert.Equal(t, "ghost", result.Failed[0].DocumentID)
	assert.Equal(t, 5, result.Failed[0].Index)
	require.NotNil(t, result.Failed[0].Error)
	assert.Equal(t, models.CodeNotFound, result.Failed[0].Error.Code)
	assert.Len(t, result.Successful, 6)
}

func TestCoordinator_Run_RespectsConcurrencyCap(t *testing.T) {
	docs, ids := documents(12)
	f := newFixture(t, docs)
	f.content.Delay = 5 * time.Millisecond

	result := f.coordinator.Run(context.Background(), ids, "", batch.Options{MaxConcurrent: 3})

	assert.Len(t, result.Successful, 12)
	assert.LessOrEqual(t, f.content.MaxInFlight(), 3)
	assert.GreaterOrEqual(t, f.content.MaxInFlight(), 1)
}

func TestCoordinator_Run_ClampsToCeiling(t *testing.T) {
	f := newFixture(t, nil, batch.WithLimits(batch.Limits{MaxConcurrent: 2, MaxProcessingTime: time.Minute}))

	opts := f.coordinator.Normalize(batch.Options{MaxConcurrent: 50, MaxProcessingTime: time.Hour})
	assert.Equal(t, 2, opts.MaxConcurrent)
	assert.Equal(t, time.Minute, opts.MaxProcessingTime)

	opts = f.coordinator.Normalize(batch.Options{MaxConcurrent: -1})
	assert.Equal(t, 2, opts.MaxConcurrent)
	assert.Equal(t, time.Minute, opts.MaxProcessingTime)

	opts = batch.NewCoordinator(log.Discard(), nil, nil).Normalize(batch.Options{})
	assert.Equal(t, batch.DefaultMaxConcurrent, opts.MaxConcurrent)
	assert.Equal(t, batch.DefaultMaxProcessingTime, opts.MaxProcessingTime)
}

// warnSignal closes exhausted on the first warning logged through it.
type warnSignal struct {
	once      sync.Once
	exhausted chan struct{}
}

func (h *warnSignal) Enabled(context.Context, slog.Level) bool { return true }
func (h *warnSignal) WithAttrs([]slog.Attr) slog.Handler       { return h }
func (h *warnSignal) WithGroup(string) slog.Handler            { return h }

func (h *warnSignal) Handle(_ context.Context, r slog.Record) error {
	if r.Level == slog.LevelWarn {
		h.once.Do(func() { close(h.exhausted) })
	}

	return nil
}

func TestCoordinator_Run_TimeoutFailsQueuedDocuments(t *testing.T) {
	docs, ids := documents(10)
	f := newFixture(t, docs)
	f.analysis.Entered = make(chan string, len(ids))
	f.analysis.Release = make(chan struct{})

	clock := clockwork.NewFakeClock()
	signal := &warnSignal{exhausted: make(chan struct{})}
	coordinator := batch.NewCoordinator(slog.New(signal), f.executor, f.store.WorkflowRepository(), batch.WithClock(clock))

	results := make(chan *batch.Result, 1)

	go func() {
		results <- coordinator.Run(context.Background(), ids, "", batch.Options{
			MaxConcurrent:     1,
			MaxProcessingTime: time.Minute,
		})
	}()

	select {
	case id := <-f.analysis.Entered:
		assert.Equal(t, "doc-00", id)
	case <-time.After(5 * time.Second):
		t.Fatal("first document never reached the analysis service")
	}

	clock.Advance(time.Minute)

	select {
	case <-signal.exhausted:
	case <-time.After(5 * time.Second):
		t.Fatal("batch budget never expired")
	}

	close(f.analysis.Release)

	var result *batch.Result
	select {
	case result = <-results:
	case <-time.After(5 * time.Second):
		t.Fatal("batch did not finish")
	}

	assert.Equal(t, 10, result.Total())
	assert.True(t, result.TimedOut)
	require.Len(t, result.Successful, 1, "the running document finishes naturally")
	assert.Equal(t, "doc-00", result.Successful[0].DocumentID)
	require.Len(t, result.Failed, 9)

	for _, item := range result.Failed {
		require.NotNil(t, item.Error)
		assert.Equal(t, models.CodeBatchTimeout, item.Error.Code)
		assert.Empty(t, item.ExecutionID, "timed out documents never started")
	}

	assert.Len(t, f.analysis.Entered, 0)
}

func TestCoordinator_Run_SkipIfAnalyzed(t *testing.T) {
	f := newFixture(t, []*protocol.Document{
		testutil.Document("fresh", nil),
		testutil.Document("done", map[string]any{analysis.FieldAnalyzed: true}),
	})

	result := f.coordinator.Run(context.Background(), []string{"fresh", "done"}, "", batch.Options{SkipIfAnalyzed: true})

	require.Len(t, result.Successful, 2)
	assert.False(t, result.Successful[0].Skipped)
	assert.True(t, result.Successful[1].Skipped)
	assert.Equal(t, []string{"summarize:fresh", "tag:fresh"}, f.analysis.Calls())
}

func TestCoordinator_Run_StoredWorkflow(t *testing.T) {
	docs, ids := documents(3)
	f := newFixture(t, docs)

	w := testutil.CreateTestWorkflow(testutil.WithActions(testutil.MoveAction("move", "/Processed")))
	require.NoError(t, f.store.WorkflowRepository().SaveVersion(context.Background(), w))

	result := f.coordinator.Run(context.Background(), ids, w.ID, batch.Options{})

	assert.Equal(t, w.ID, result.WorkflowID)
	assert.Equal(t, 1, result.WorkflowVersion)
	assert.Len(t, result.Successful, 3)
	assert.Len(t, f.content.Transfers(), 3)
}

func TestCoordinator_Run_UnknownWorkflowFailsEveryDocument(t *testing.T) {
	docs, ids := documents(3)
	f := newFixture(t, docs)

	result := f.coordinator.Run(context.Background(), ids, "missing", batch.Options{})

	assert.Empty(t, result.Successful)
	require.Len(t, result.Failed, 3)

	for _, item := range result.Failed {
		assert.Equal(t, models.CodeNotFound, item.Error.Code)
	}
}

func TestCoordinator_Run_EmptyInput(t *testing.T) {
	f := newFixture(t, nil)

	result := f.coordinator.Run(context.Background(), nil, "", batch.Options{})

	assert.Zero(t, result.Total())
	assert.NotNil(t, result.Successful)
	assert.NotNil(t, result.Failed)
}

type recordingListener struct {
	mu      sync.Mutex
	results []*batch.Result
}

func (l *recordingListener) BatchFinished(_ context.Context, result *batch.Result) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.results = append(l.results, result)
}

func TestCoordinator_Run_NotifiesListeners(t *testing.T) {
	docs, ids := documents(2)
	listener := &recordingListener{}
	f := newFixture(t, docs, batch.WithListener(listener))

	result := f.coordinator.Run(context.Background(), ids, "", batch.Options{})

	require.Len(t, listener.results, 1)
	assert.Same(t, result, listener.results[0])
}
