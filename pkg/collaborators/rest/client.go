// Package rest implements the content, analysis and notification services
// as JSON-over-HTTP clients. Every client owns one circuit breaker and one
// rate limiter.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/docflow/docflow/pkg/models"
	"github.com/docflow/docflow/pkg/protocol"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

var (
	// ErrServer marks 5xx responses and transport failures.
	ErrServer = errors.New("server error")

	// ErrUnavailable is returned while the circuit breaker is open.
	ErrUnavailable = errors.New("service unavailable")
)

type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
	// RatePerSecond and Burst bound outgoing requests. Zero RatePerSecond
	// means unlimited.
	RatePerSecond float64
	Burst         int
	// FailureThreshold consecutive server failures open the breaker for
	// OpenTimeout.
	FailureThreshold uint32
	OpenTimeout      time.Duration
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}

	if c.Burst <= 0 {
		c.Burst = 10
	}

	if c.FailureThreshold == 0 {
		c.FailureThreshold = 5
	}

	if c.OpenTimeout <= 0 {
		c.OpenTimeout = 30 * time.Second
	}

	return c
}

type client struct {
	logger  *slog.Logger
	service string
	baseURL string
	token   string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
}

func newClient(logger *slog.Logger, service string, cfg Config) *client {
	cfg = cfg.withDefaults()

	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}

	c := &client{
		logger:  logger.With("module", "rest_client", "service", service),
		service: service,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(limit, cfg.Burst),
	}

	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    service,
		Timeout: cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		// Only server side failures count against the breaker.
		IsSuccessful: func(err error) bool {
			return err == nil || !errors.Is(err, ErrServer)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("Circuit breaker state changed", "from", from.String(), "to", to.String())
		},
	})

	return c
}

// do sends body as JSON and decodes the response into out when out is not nil.
func (c *client) do(ctx context.Context, method, path string, header http.Header, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s %s: rate limiter: %w", method, path, err)
	}

	_, err := c.breaker.Execute(func() (any, error) {
		return nil, c.roundTrip(ctx, method, path, header, body, out)
	})

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%s %s: %w: %w", method, path, ErrUnavailable, err)
	}

	return err
}

func (c *client) roundTrip(ctx context.Context, method, path string, header http.Header, body, out any) error {
	var reader io.Reader

	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}

		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	for k, values := range header {
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}

	req.Header.Set("Accept", "application/json")

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		return fmt.Errorf("%s %s: %w: %w", method, path, ErrServer, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%s %s: %w: failed to read response: %w", method, path, ErrServer, err)
	}

	if err := statusError(resp.StatusCode, data); err != nil {
		c.logger.DebugContext(ctx, "Request failed", "method", method, "path", path, "status", resp.StatusCode)

		return fmt.Errorf("%s %s: %w", method, path, err)
	}

	if out == nil || len(data) == 0 {
		return nil
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s %s: failed to decode response: %w", method, path, err)
	}

	return nil
}

// statusError maps a response status onto the collaborator error vocabulary.
func statusError(status int, body []byte) error {
	if status >= 200 && status < 300 {
		return nil
	}

	message := strings.TrimSpace(string(body))
	if len(message) > 200 {
		message = message[:200]
	}

	switch {
	case status == http.StatusNotFound:
		return protocol.ErrNotFound
	case status == http.StatusConflict || status == http.StatusPreconditionFailed:
		return fmt.Errorf("%w: %s", protocol.ErrConflict, message)
	case status == http.StatusTooManyRequests || status >= 500:
		return fmt.Errorf("%w: status %d: %s", ErrServer, status, message)
	default:
		return fmt.Errorf("%w: status %d: %s", models.ErrInvalidRequest, status, message)
	}
}
