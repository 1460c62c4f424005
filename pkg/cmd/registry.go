// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"log/slog"

	"github.com/docflow/docflow/pkg/actions/analysis"
	"github.com/docflow/docflow/pkg/actions/approval"
	"github.com/docflow/docflow/pkg/actions/content"
	"github.com/docflow/docflow/pkg/actions/notify"
	"github.com/docflow/docflow/pkg/actions/webhook"
	"github.com/docflow/docflow/pkg/protocol"
	"github.com/docflow/docflow/pkg/registry"
)

func registerActionPlugins(reg *registry.Registry, logger *slog.Logger, pluginsPath string) {
	if pluginsPath == "" {
		return
	}

	actionPlugins, err := reg.LoadActionPlugins(pluginsPath)
	if err != nil {
		logger.Error("Failed to load action plugins", "path", pluginsPath, "error", err)

		return
	}

	for _, plugin := range actionPlugins {
		reg.RegisterAction(plugin)
	}
}

// RegisterNativeActions registers every built-in action kind. Kinds whose
// collaborator is missing stay unsupported.
func RegisterNativeActions(reg *registry.Registry) {
	for _, factory := range content.Factories() {
		reg.RegisterAction(factory)
	}

	reg.RegisterAction(notify.NewNotifyFactory())
	reg.RegisterAction(notify.NewSendEmailFactory())
	reg.RegisterAction(analysis.NewActionFactory())
	reg.RegisterAction(approval.NewActionFactory())
	reg.RegisterAction(webhook.NewActionFactory())
}

// NewRegistry builds the action registry. Plugins are registered first so a
// native kind always wins.
func NewRegistry(log *slog.Logger, collaborators protocol.Collaborators, pluginsPath string) *registry.Registry {
	reg := registry.NewRegistry(log, collaborators)

	registerActionPlugins(reg, log, pluginsPath)
	RegisterNativeActions(reg)

	return reg
}
