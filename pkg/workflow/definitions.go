package workflow

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/docflow/docflow/pkg/models"
	"gopkg.in/yaml.v3"
)

// LoadDefinitions reads every *.yaml and *.yml file in dir as a workflow
// definition, in file name order. The YAML keys are the JSON field names.
func LoadDefinitions(dir string) ([]*models.Workflow, error) {
	var files []string

	for _, pattern := range []string{"*.yaml", "*.yml"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, err
		}

		files = append(files, matches...)
	}

	slices.Sort(files)

	workflows := make([]*models.Workflow, 0, len(files))

	for _, file := range files {
		workflow, err := LoadDefinition(file)
		if err != nil {
			return nil, err
		}

		workflows = append(workflows, workflow)
	}

	return workflows, nil
}

// LoadDefinition reads one YAML workflow definition.
func LoadDefinition(path string) (*models.Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow definition %s: %w", path, err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse workflow definition %s: %w", path, err)
	}

	// Params decoding is keyed by action kind and lives in the JSON codec.
	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to convert workflow definition %s: %w", path, err)
	}

	var workflow models.Workflow
	if err := json.Unmarshal(encoded, &workflow); err != nil {
		return nil, fmt.Errorf("failed to decode workflow definition %s: %w", path, err)
	}

	return &workflow, nil
}
