package rest

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/docflow/docflow/pkg/protocol"
)

type AnalysisService struct {
	*client
}

func NewAnalysisService(logger *slog.Logger, cfg Config) *AnalysisService {
	return &AnalysisService{client: newClient(logger, "analysis", cfg)}
}

func (s *AnalysisService) Summarize(ctx context.Context, id string, formats []string) ([]protocol.Summary, error) {
	var resp struct {
		Summaries []protocol.Summary `json:"summaries"`
	}

	body := map[string]any{"formats": formats}
	if err := s.do(ctx, http.MethodPost, "/documents/"+url.PathEscape(id)+"/summaries", nil, body, &resp); err != nil {
		return nil, err
	}

	return resp.Summaries, nil
}

func (s *AnalysisService) Tag(ctx context.Context, id string) ([]string, error) {
	var resp struct {
		Tags []string `json:"tags"`
	}

	if err := s.do(ctx, http.MethodPost, "/documents/"+url.PathEscape(id)+"/tags", nil, nil, &resp); err != nil {
		return nil, err
	}

	return resp.Tags, nil
}

var _ protocol.AnalysisService = (*AnalysisService)(nil)
