package notify

import (
	"context"
	"log/slog"
	"time"
)

// ServiceConfig holds the parameters needed to construct a Service.
type ServiceConfig struct {
	Token        string
	Channel      string
	DashboardURL string
}

// Service posts root lifecycle notifications to Slack. Nil-safe: every
// method is a no-op when the receiver is nil, so the worker can hold a
// Notifier field that is simply unset when notifications aren't
// configured, same as the teacher's Service.
type Service struct {
	client       *Client
	dashboardURL string
	logger       *slog.Logger
}

// NewService creates a new notification service, or nil if Token or
// Channel is empty (notifications disabled).
func NewService(cfg ServiceConfig) *Service {
	if cfg.Token == "" || cfg.Channel == "" {
		return nil
	}
	return &Service{
		client:       NewClient(cfg.Token, cfg.Channel),
		dashboardURL: cfg.DashboardURL,
		logger:       slog.Default().With("component", "notify-service"),
	}
}

// NewServiceWithClient creates a Service backed by a pre-built Client.
// Useful for testing against a mock API server.
func NewServiceWithClient(client *Client, dashboardURL string) *Service {
	return &Service{
		client:       client,
		dashboardURL: dashboardURL,
		logger:       slog.Default().With("component", "notify-service"),
	}
}

// RootDiscovered posts a notification that a new root entered monitoring.
// Satisfies syncworker.Notifier. Fail-open: errors are logged, never
// returned or panicked on, since a missed Slack post must never abort a
// scheduler tick.
func (s *Service) RootDiscovered(ctx context.Context, rootType, rootID string) {
	if s == nil {
		return
	}

	blocks := buildDiscoveredMessage(rootType, rootID, s.dashboardURL)
	if err := s.client.PostMessage(ctx, blocks, "", 5*time.Second); err != nil {
		s.logger.Error("failed to send root-discovered notification",
			"root_type", rootType, "root_id", rootID, "error", err)
	}
}

// RootRetired posts a notification that a root was retired after
// exceeding the consecutive-error threshold. Before posting, it looks for
// an earlier notification about the same root (e.g. its discovery
// message) and threads the retirement onto it rather than opening a new
// top-level message, reusing the teacher's fingerprint-based thread
// lookup. Fail-open like RootDiscovered.
func (s *Service) RootRetired(ctx context.Context, rootType, rootID, reason string) {
	if s == nil {
		return
	}

	threadTS, err := s.client.FindMessageByFingerprint(ctx, rootFingerprint(rootType, rootID))
	if err != nil {
		s.logger.Warn("failed to find prior notification thread for root",
			"root_type", rootType, "root_id", rootID, "error", err)
	}

	blocks := buildRetiredMessage(rootType, rootID, reason, s.dashboardURL)
	if err := s.client.PostMessage(ctx, blocks, threadTS, 10*time.Second); err != nil {
		s.logger.Error("failed to send root-retired notification",
			"root_type", rootType, "root_id", rootID, "error", err)
	}
}
