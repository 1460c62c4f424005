package analysis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/docflow/docflow/pkg/models"
	"github.com/docflow/docflow/pkg/protocol"
	"github.com/jonboulle/clockwork"
)

// DefaultFormat is summarized when no formats are configured.
const DefaultFormat = "brief"

// Metadata fields written back to the document.
const (
	FieldAnalyzed   = "ai_analyzed"
	FieldSummary    = "ai_summary"
	FieldTags       = "ai_tags"
	FieldAnalyzedAt = "ai_analyzed_at"
)

var (
	ErrNoDocument       = fmt.Errorf("%w: run-analysis requires a document", models.ErrInvalidRequest)
	ErrInvalidParams    = errors.New("invalid run-analysis params")
	ErrNoContentService = errors.New("write-back requires the content service")
)

type Action struct {
	analysis protocol.AnalysisService
	content  protocol.ContentService
	clock    clockwork.Clock
}

func (a *Action) Execute(ctx context.Context, req protocol.ActionRequest) (*protocol.ActionResult, error) {
	params, ok := models.ParamsAs[models.RunAnalysisParams](req.Action)
	if !ok {
		return nil, ErrInvalidParams
	}

	documentID := req.Context.DocumentID
	if documentID == "" {
		return nil, ErrNoDocument
	}

	if params.WriteBack && a.content == nil {
		return nil, ErrNoContentService
	}

	logger := req.Logger.With("module", "analysis_action", "document_id", documentID)

	formats := params.Formats
	if len(formats) == 0 {
		formats = []string{DefaultFormat}
	}

	summaries, err := a.analysis.Summarize(ctx, documentID, formats)
	if err != nil {
		return nil, protocol.NewCollaboratorError("analysis", "Summarize", err)
	}

	var tags []string

	if params.Tags {
		tags, err = a.analysis.Tag(ctx, documentID)
		if err != nil {
			return nil, protocol.NewCollaboratorError("analysis", "Tag", err)
		}
	}

	bySummaryFormat := make(map[string]any, len(summaries))
	for _, s := range summaries {
		bySummaryFormat[s.Format] = s.Text
	}

	result := &protocol.ActionResult{
		Variables: map[string]any{"summaries": bySummaryFormat},
		Output:    map[string]any{"summaries": bySummaryFormat},
	}

	if params.Tags {
		result.Variables["tags"] = tags
		result.Output["tags"] = tags
	}

	if len(summaries) == 0 {
		result.Warnings = append(result.Warnings, "analysis service returned no summaries")
	}

	if params.WriteBack {
		patch := protocol.MetadataPatch{Set: map[string]any{
			FieldAnalyzed:   true,
			FieldAnalyzedAt: a.clock.Now().UTC().Format(time.RFC3339),
		}}

		if len(summaries) > 0 {
			patch.Set[FieldSummary] = summaries[0].Text
		}

		if params.Tags {
			patch.Set[FieldTags] = tags
		}

		if err := a.content.UpdateMetadata(ctx, documentID, patch); err != nil {
			return nil, protocol.NewCollaboratorError("content", "UpdateMetadata", err)
		}

		result.MetadataPatch = &patch
	}

	logger.InfoContext(ctx, "Document analyzed", "summaries", len(summaries), "tags", len(tags), "write_back", params.WriteBack)

	return result, nil
}
