// Package registry maps action kinds to their handlers.
package registry

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"plugin"
	"slices"
	"strings"
	"sync"

	"github.com/docflow/docflow/pkg/models"
	"github.com/docflow/docflow/pkg/protocol"
	"github.com/xeipuuv/gojsonschema"
)

// Registry dispatches actions by kind. Kinds without a registered factory,
// or whose factory could not be created, are unsupported.
type Registry struct {
	logger        *slog.Logger
	collaborators protocol.Collaborators
	mu            sync.RWMutex
	factories     map[models.ActionKind]protocol.ActionFactory
	handlers      map[models.ActionKind]protocol.ActionHandler
}

// ActionDescriptor describes a registered action kind.
type ActionDescriptor struct {
	Kind        models.ActionKind `json:"kind"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Idempotent  bool              `json:"idempotent"`
	Mutating    bool              `json:"mutating"`
	Schema      map[string]any    `json:"schema"`
}

func NewRegistry(log *slog.Logger, collaborators protocol.Collaborators) *Registry {
	return &Registry{
		logger:        log.With("module", "registry"),
		collaborators: collaborators,
		factories:     make(map[models.ActionKind]protocol.ActionFactory),
		handlers:      make(map[models.ActionKind]protocol.ActionHandler),
	}
}

// RegisterAction registers a factory and creates its handler. A factory that
// cannot be created is logged and its kind stays unsupported.
func (r *Registry) RegisterAction(factory protocol.ActionFactory) {
	handler, err := factory.Create(r.collaborators)
	if err != nil {
		r.logger.Warn("Action not available", "kind", factory.Kind(), "error", err)

		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.factories[factory.Kind()] = factory
	r.handlers[factory.Kind()] = handler
}

// Handler returns the handler for kind or an error wrapping
// models.ErrUnsupportedActionKind.
func (r *Registry) Handler(kind models.ActionKind) (protocol.ActionHandler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handler, ok := r.handlers[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", models.ErrUnsupportedActionKind, kind)
	}

	return handler, nil
}

// Idempotent reports whether failed attempts of kind may be retried freely.
func (r *Registry) Idempotent(kind models.ActionKind) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	factory, ok := r.factories[kind]

	return ok && factory.Idempotent()
}

// Supports reports whether kind has a handler.
func (r *Registry) Supports(kind models.ActionKind) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.handlers[kind]

	return ok
}

// Actions describes every registered kind, sorted by kind.
func (r *Registry) Actions() []ActionDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ActionDescriptor, 0, len(r.factories))
	for kind, f := range r.factories {
		out = append(out, ActionDescriptor{
			Kind:        kind,
			Name:        f.Name(),
			Description: f.Description(),
			Idempotent:  f.Idempotent(),
			Mutating:    kind.Mutating(),
			Schema:      f.Schema(),
		})
	}

	slices.SortFunc(out, func(a, b ActionDescriptor) int {
		return strings.Compare(string(a.Kind), string(b.Kind))
	})

	return out
}

// ValidateParams checks the action's params against its kind's JSON schema.
// Kinds without a factory are accepted, they fail only at execution time.
func (r *Registry) ValidateParams(action models.Action) error {
	r.mu.RLock()
	factory, ok := r.factories[action.Kind]
	r.mu.RUnlock()

	if !ok {
		return nil
	}

	encoded, err := json.Marshal(action)
	if err != nil {
		return fmt.Errorf("failed to encode action %s: %w", action.ID, err)
	}

	var raw struct {
		Params map[string]any `json:"params"`
	}

	if err := json.Unmarshal(encoded, &raw); err != nil {
		return fmt.Errorf("failed to decode action %s: %w", action.ID, err)
	}

	if raw.Params == nil {
		raw.Params = map[string]any{}
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(factory.Schema()),
		gojsonschema.NewGoLoader(raw.Params),
	)
	if err != nil {
		return err
	}

	if !result.Valid() {
		issues := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			issues = append(issues, e.String())
		}

		return fmt.Errorf("action %s (%s): %s", action.ID, action.Kind, strings.Join(issues, "; "))
	}

	return nil
}

// LoadActionPlugins loads action factories exported as the "Action" symbol
// by Go plugins found under <pluginsPath>/actions.
func (r *Registry) LoadActionPlugins(pluginsPath string) ([]protocol.ActionFactory, error) {
	return loadPlugin[protocol.ActionFactory](r.logger, pluginsPath, "Action")
}

func loadPlugin[T any](logger *slog.Logger, pluginsPath string, symbolName string) ([]T, error) {
	rootPath := pluginsPath + "/" + strings.ToLower(symbolName) + "s"

	if _, err := os.Stat(rootPath); os.IsNotExist(err) {
		return nil, nil
	}

	root := os.DirFS(rootPath)

	pluginPathList, err := fs.Glob(root, "*.so")
	if err != nil {
		return nil, err
	}

	l := logger.With(slog.String("path", pluginsPath), slog.String("type", symbolName))
	l.Info("Loading plugins")

	pluginList := make([]T, 0, len(pluginPathList))

	for _, p := range pluginPathList {
		plg, err := plugin.Open(rootPath + "/" + p)
		if err != nil {
			return nil, fmt.Errorf("failed to open plugin %s: %w", p, err)
		}

		v, err := plg.Lookup(symbolName)
		if err != nil {
			return nil, fmt.Errorf("plugin %s does not export %s: %w", p, symbolName, err)
		}

		var castV T

		switch sym := v.(type) {
		case T:
			castV = sym
		case *T:
			castV = *sym
		default:
			return nil, fmt.Errorf("plugin %s: %s has unexpected type %T", p, symbolName, v)
		}

		pluginList = append(pluginList, castV)

		l.Info("Loaded plugin", slog.String("plugin", p))
	}

	return pluginList, nil
}
