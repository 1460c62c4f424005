package rest

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/docflow/docflow/pkg/protocol"
)

// ContentService talks to the document repository API.
type ContentService struct {
	*client
}

func NewContentService(logger *slog.Logger, cfg Config) *ContentService {
	return &ContentService{client: newClient(logger, "content", cfg)}
}

func (s *ContentService) GetDocument(ctx context.Context, id string) (*protocol.Document, error) {
	var doc protocol.Document

	if err := s.do(ctx, http.MethodGet, "/documents/"+url.PathEscape(id), nil, nil, &doc); err != nil {
		return nil, err
	}

	return &doc, nil
}

func (s *ContentService) UpdateMetadata(ctx context.Context, id string, patch protocol.MetadataPatch) error {
	return s.do(ctx, http.MethodPatch, "/documents/"+url.PathEscape(id)+"/metadata", nil, patch, nil)
}

// Transfer forwards the idempotency key so the server can drop duplicates
// of a retried request.
func (s *ContentService) Transfer(ctx context.Context, req protocol.TransferRequest) error {
	header := http.Header{}
	if req.IdempotencyKey != "" {
		header.Set("Idempotency-Key", req.IdempotencyKey)
	}

	return s.do(ctx, http.MethodPost, "/documents/"+url.PathEscape(req.DocumentID)+"/transfer", header, req, nil)
}

var _ protocol.ContentService = (*ContentService)(nil)
