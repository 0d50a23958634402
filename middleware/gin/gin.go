// Package gin registers the webhook and admin endpoints on a Gin router
package gin

import (
	gongin "github.com/gin-gonic/gin"

	httpmw "github.com/mihaimyh/paysync/middleware/http"
	"github.com/mihaimyh/paysync/pkg/api"
)

// Register mounts the routes on r.
func Register(r gongin.IRouter, config httpmw.Config) error {
	config, err := config.Normalize()
	if err != nil {
		return err
	}

	r.POST(config.WebhookPath, gongin.WrapH(config.Webhook))
	if config.Admin == nil {
		return nil
	}

	admin := r.Group(config.AdminPrefix, RequireToken(config.Admin))
	admin.POST(api.PathSync, gongin.WrapF(config.Admin.TriggerSync))
	admin.GET(api.PathStatus, gongin.WrapF(config.Admin.Status))
	admin.POST(api.PathPlansMonitor, gongin.WrapF(config.Admin.MonitorPlans))
	return nil
}

// RequireToken aborts requests without the admin bearer token.
func RequireToken(h *api.Handler) gongin.HandlerFunc {
	return func(c *gongin.Context) {
		if !h.Authorized(c.Request) {
			h.Unauthorized(c.Writer, c.Request)
			c.Abort()
			return
		}
		c.Next()
	}
}
