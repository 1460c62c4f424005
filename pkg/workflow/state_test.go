package workflow

import (
	"testing"
	"time"

	"github.com/docflow/docflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to models.ExecutionStatus
		want     bool
	}{
		{models.ExecutionPending, models.ExecutionRunning, true},
		{models.ExecutionPending, models.ExecutionCompleted, true},
		{models.ExecutionPending, models.ExecutionCancelled, true},
		{models.ExecutionRunning, models.ExecutionCompleted, true},
		{models.ExecutionRunning, models.ExecutionFailed, true},
		{models.ExecutionRunning, models.ExecutionCancelled, true},
		{models.ExecutionRunning, models.ExecutionPending, false},
		{models.ExecutionCompleted, models.ExecutionRunning, false},
		{models.ExecutionFailed, models.ExecutionCompleted, false},
		{models.ExecutionCancelled, models.ExecutionRunning, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestCanTransitionStep(t *testing.T) {
	assert.True(t, CanTransitionStep(models.StepPending, models.StepRunning))
	assert.True(t, CanTransitionStep(models.StepPending, models.StepSkipped))
	assert.True(t, CanTransitionStep(models.StepRunning, models.StepFailed))
	assert.False(t, CanTransitionStep(models.StepRunning, models.StepSkipped))
	assert.False(t, CanTransitionStep(models.StepCompleted, models.StepRunning))
	assert.False(t, CanTransitionStep(models.StepSkipped, models.StepRunning))
}

func TestTransition_StampsTerminalTimes(t *testing.T) {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	execution := &models.Execution{ID: "exec-1", Status: models.ExecutionPending, StartTime: start}

	require.NoError(t, transition(execution, models.ExecutionRunning, start.Add(time.Second)))
	assert.Nil(t, execution.EndTime)

	require.NoError(t, transition(execution, models.ExecutionCompleted, start.Add(3*time.Second)))
	require.NotNil(t, execution.EndTime)
	assert.Equal(t, 3*time.Second, execution.Duration)

	err := transition(execution, models.ExecutionFailed, start.Add(4*time.Second))
	require.Error(t, err)
	assert.True(t, models.IsInvalidTransition(err))
	assert.Equal(t, models.ExecutionCompleted, execution.Status)
}

func TestSkipRemaining(t *testing.T) {
	execution := &models.Execution{Steps: []models.Step{
		{ActionID: "a", Status: models.StepCompleted},
		{ActionID: "b", Status: models.StepPending},
		{ActionID: "c", Status: models.StepPending},
	}}

	skipRemaining(execution, 0, time.Now())

	assert.Equal(t, models.StepCompleted, execution.Steps[0].Status)
	assert.Equal(t, models.StepSkipped, execution.Steps[1].Status)
	assert.Equal(t, models.StepSkipped, execution.Steps[2].Status)
}
