package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/mihaimyh/paysync/pkg/billing"
	"github.com/mihaimyh/paysync/pkg/reconcile"
	"github.com/mihaimyh/paysync/pkg/scheduler"
)

// Controller is the part of the scheduler the admin API drives.
type Controller interface {
	TriggerSync(ctx context.Context, mode billing.SyncMode, opts billing.SyncOptions) (*billing.SyncReport, error)
	TriggerPlanMonitor(ctx context.Context, opts reconcile.PlanMonitorOptions) (*billing.PlanReport, error)
	GetStatus() scheduler.Status
}

// Config holds configuration for the admin API handler
type Config struct {
	// Controller runs syncs and plan checks (required)
	Controller Controller

	// Token is the bearer token admin callers must present (required)
	Token string

	// RequestID extracts a request id.
	// If nil, uses X-Request-ID or a new UUID
	RequestID func(*http.Request) string

	// OnError handles errors (auth, conflict, internal)
	// If nil, uses default error handling
	OnError func(http.ResponseWriter, *http.Request, error)

	Logger billing.Logger
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Controller == nil {
		return fmt.Errorf("controller is required")
	}
	if strings.TrimSpace(c.Token) == "" {
		return fmt.Errorf("admin token is required")
	}
	return nil
}

// NewHandler creates a new admin API handler
func NewHandler(config Config) (*Handler, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if config.RequestID == nil {
		config.RequestID = defaultRequestID
	}
	if config.Logger == nil {
		config.Logger = &billing.NoopLogger{}
	}
	return &Handler{config: config}, nil
}
