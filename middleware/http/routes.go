// Package http registers the webhook and admin endpoints on a standard
// library ServeMux and holds the route settings shared by the framework
// adapters.
package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/mihaimyh/paysync/pkg/api"
)

const (
	DefaultWebhookPath = "/webhooks/stripe"
	DefaultAdminPrefix = "/admin"
)

// Config holds route registration settings
type Config struct {
	// Webhook serves provider deliveries (required)
	Webhook http.Handler

	// Admin serves the admin endpoints. If nil, they are not registered
	Admin *api.Handler

	// WebhookPath defaults to DefaultWebhookPath
	WebhookPath string

	// AdminPrefix defaults to DefaultAdminPrefix
	AdminPrefix string
}

// Normalize validates c and fills defaults.
func (c Config) Normalize() (Config, error) {
	if c.Webhook == nil {
		return c, errors.New("routes: webhook handler is required")
	}
	if c.WebhookPath == "" {
		c.WebhookPath = DefaultWebhookPath
	}
	if c.AdminPrefix == "" {
		c.AdminPrefix = DefaultAdminPrefix
	}
	c.AdminPrefix = "/" + strings.Trim(c.AdminPrefix, "/")
	return c, nil
}

// Register mounts the routes on mux.
func Register(mux *http.ServeMux, config Config) error {
	config, err := config.Normalize()
	if err != nil {
		return err
	}
	mux.Handle("POST "+config.WebhookPath, config.Webhook)
	if config.Admin != nil {
		mux.Handle(config.AdminPrefix+"/", http.StripPrefix(config.AdminPrefix, config.Admin.Routes()))
	}
	return nil
}
