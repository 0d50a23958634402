// Package fiber registers the webhook and admin endpoints on a Fiber router
package fiber

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	httpmw "github.com/mihaimyh/paysync/middleware/http"
	"github.com/mihaimyh/paysync/pkg/api"
)

// Register mounts the routes on r.
func Register(r fiber.Router, config httpmw.Config) error {
	config, err := config.Normalize()
	if err != nil {
		return err
	}

	r.Post(config.WebhookPath, adaptor.HTTPHandler(config.Webhook))
	if config.Admin == nil {
		return nil
	}

	admin := r.Group(config.AdminPrefix, RequireToken(config.Admin))
	admin.Post(api.PathSync, adaptor.HTTPHandlerFunc(config.Admin.TriggerSync))
	admin.Get(api.PathStatus, adaptor.HTTPHandlerFunc(config.Admin.Status))
	admin.Post(api.PathPlansMonitor, adaptor.HTTPHandlerFunc(config.Admin.MonitorPlans))
	return nil
}

// RequireToken rejects requests without the admin bearer token.
func RequireToken(h *api.Handler) fiber.Handler {
	unauthorized := adaptor.HTTPHandlerFunc(h.Unauthorized)
	return func(c *fiber.Ctx) error {
		if !h.AuthorizeHeader(c.Get(fiber.HeaderAuthorization)) {
			return unauthorized(c)
		}
		return c.Next()
	}
}
