package services

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/docflow/docflow/pkg/models"
)

// PublishResult reports what Publish did with each definition id.
type PublishResult struct {
	Defined   []string `json:"defined"`
	Updated   []string `json:"updated"`
	Unchanged []string `json:"unchanged"`
}

// Publish brings stored workflows in line with a set of definitions, such as
// the files loaded by workflow.LoadDefinitions. Unknown ids are defined,
// changed definitions get a new version and identical ones are left alone,
// so publishing the same set twice stores nothing the second time.
// Definitions must carry an id. Errors are collected per definition.
func (w *Workflows) Publish(ctx context.Context, definitions []*models.Workflow) (*PublishResult, error) {
	result := &PublishResult{}

	var errs []error

	for _, definition := range definitions {
		if definition == nil || definition.ID == "" {
			errs = append(errs, NewValidationError("Publish", "MISSING_ID", "published definitions need an id", ErrWorkflowNil))

			continue
		}

		latest, err := w.Get(ctx, definition.ID)

		switch {
		case models.IsNotFound(err):
			if _, err := w.Define(ctx, definition); err != nil {
				errs = append(errs, err)

				continue
			}

			result.Defined = append(result.Defined, definition.ID)
		case err != nil:
			errs = append(errs, err)
		case sameDefinition(latest, definition):
			result.Unchanged = append(result.Unchanged, definition.ID)
		default:
			if _, err := w.replace(ctx, definition); err != nil {
				errs = append(errs, err)

				continue
			}

			result.Updated = append(result.Updated, definition.ID)
		}
	}

	return result, errors.Join(errs...)
}

// replace stores definition as the next version of its id.
func (w *Workflows) replace(ctx context.Context, definition *models.Workflow) (*models.Workflow, error) {
	stored, err := w.repository.NewVersion(ctx, definition.ID, func(_ *models.Workflow) (*models.Workflow, error) {
		next := definition.Clone()
		if err := w.Validate(next); err != nil {
			return nil, err
		}

		return next, nil
	})
	if err != nil {
		return nil, err
	}

	w.logger.InfoContext(ctx, "Workflow republished", "workflow_id", stored.ID, "version", stored.Version)
	w.defined(ctx, stored)

	return stored, nil
}

// sameDefinition compares two workflows ignoring version bookkeeping.
func sameDefinition(a, b *models.Workflow) bool {
	return fingerprint(a) == fingerprint(b)
}

func fingerprint(w *models.Workflow) string {
	cp := w.Clone()
	cp.Version = 0
	cp.CreatedAt = time.Time{}
	cp.UpdatedAt = time.Time{}

	data, err := json.Marshal(cp)
	if err != nil {
		return ""
	}

	return string(data)
}
