package rest

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/docflow/docflow/pkg/protocol"
)

type NotificationService struct {
	*client
}

func NewNotificationService(logger *slog.Logger, cfg Config) *NotificationService {
	return &NotificationService{client: newClient(logger, "notification", cfg)}
}

// Notify reports every failure as protocol.ErrDeliveryFailed, keeping the
// underlying cause in the chain.
func (s *NotificationService) Notify(ctx context.Context, n protocol.Notification) error {
	if err := s.do(ctx, http.MethodPost, "/notifications", nil, n, nil); err != nil {
		return fmt.Errorf("%w: %w", protocol.ErrDeliveryFailed, err)
	}

	return nil
}

var _ protocol.NotificationService = (*NotificationService)(nil)
