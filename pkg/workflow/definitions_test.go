package workflow_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/docflow/docflow/pkg/models"
	"github.com/docflow/docflow/pkg/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const contractReview = `
id: contract-review
name: Contract review
enabled: true
category: compliance
priority: high
triggers:
  - kind: document-created
    library: Contracts
conditions:
  - field: metadata.department
    operator: eq
    value: legal
actions:
  - id: label
    kind: apply-retention
    params:
      label: contracts-7y
      period_days: 2555
  - id: notify
    kind: notify
    params:
      recipients: [legal@example.com]
      template: contract-received
`

func TestLoadDefinitions(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b-contract.yaml"), []byte(contractReview), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a-nightly.yml"), []byte(`
id: nightly
name: Nightly archive
enabled: true
category: lifecycle
priority: low
triggers:
  - kind: schedule
    cron: "0 2 * * *"
actions:
  - id: archive
    kind: archive
`), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("ignored"), 0o600))

	workflows, err := workflow.LoadDefinitions(dir)
	require.NoError(t, err)
	require.Len(t, workflows, 2)

	assert.Equal(t, "nightly", workflows[0].ID)
	contract := workflows[1]
	assert.Equal(t, "contract-review", contract.ID)
	assert.Equal(t, models.CategoryCompliance, contract.Category)
	assert.Equal(t, models.PriorityHigh, contract.Priority)
	require.Len(t, contract.Conditions, 1)
	assert.Equal(t, models.OpEquals, contract.Conditions[0].Operator)

	retention, ok := models.ParamsAs[models.ApplyRetentionParams](contract.Actions[0])
	require.True(t, ok)
	assert.Equal(t, "contracts-7y", retention.Label)
	assert.Equal(t, 2555, retention.PeriodDays)

	notifyParams, ok := models.ParamsAs[models.NotifyParams](contract.Actions[1])
	require.True(t, ok)
	assert.Equal(t, []string{"legal@example.com"}, notifyParams.Recipients)

	require.NoError(t, contract.Validate())
}

func TestLoadDefinition_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: [unclosed"), 0o600))

	_, err := workflow.LoadDefinition(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken.yaml")
}
