package cmd

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/docflow/docflow/pkg/collaborators/rest"
	"github.com/docflow/docflow/pkg/protocol"
)

// CollaboratorsConfig points the engine at the content, analysis and
// notification services.
type CollaboratorsConfig struct {
	ContentURL      string
	AnalysisURL     string
	NotificationURL string
	Token           string
	Timeout         time.Duration
	RatePerSecond   float64
}

// NewCollaborators builds REST clients for every configured service. An
// empty URL leaves the matching collaborator unset, and actions depending on
// it fail at run time.
func NewCollaborators(logger *slog.Logger, config CollaboratorsConfig) protocol.Collaborators {
	base := rest.Config{
		Token:         config.Token,
		Timeout:       config.Timeout,
		RatePerSecond: config.RatePerSecond,
	}

	collaborators := protocol.Collaborators{
		HTTPClient: &http.Client{Timeout: base.Timeout},
	}

	if config.ContentURL != "" {
		cfg := base
		cfg.BaseURL = config.ContentURL
		collaborators.Content = rest.NewContentService(logger, cfg)
	}

	if config.AnalysisURL != "" {
		cfg := base
		cfg.BaseURL = config.AnalysisURL
		collaborators.Analysis = rest.NewAnalysisService(logger, cfg)
	}

	if config.NotificationURL != "" {
		cfg := base
		cfg.BaseURL = config.NotificationURL
		collaborators.Notifications = rest.NewNotificationService(logger, cfg)
	}

	logger.Info("Collaborators configured",
		"content", config.ContentURL != "",
		"analysis", config.AnalysisURL != "",
		"notifications", config.NotificationURL != "")

	return collaborators
}
