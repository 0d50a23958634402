// Package echo registers the webhook and admin endpoints on an Echo router
package echo

import (
	"net/http"

	"github.com/labstack/echo/v4"

	httpmw "github.com/mihaimyh/paysync/middleware/http"
	"github.com/mihaimyh/paysync/pkg/api"
)

// Router is satisfied by *echo.Echo and *echo.Group.
type Router interface {
	POST(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
	Group(prefix string, m ...echo.MiddlewareFunc) *echo.Group
}

// Register mounts the routes on r.
func Register(r Router, config httpmw.Config) error {
	config, err := config.Normalize()
	if err != nil {
		return err
	}

	r.POST(config.WebhookPath, echo.WrapHandler(config.Webhook))
	if config.Admin == nil {
		return nil
	}

	admin := r.Group(config.AdminPrefix, RequireToken(config.Admin))
	admin.POST(api.PathSync, echo.WrapHandler(http.HandlerFunc(config.Admin.TriggerSync)))
	admin.GET(api.PathStatus, echo.WrapHandler(http.HandlerFunc(config.Admin.Status)))
	admin.POST(api.PathPlansMonitor, echo.WrapHandler(http.HandlerFunc(config.Admin.MonitorPlans)))
	return nil
}

// RequireToken rejects requests without the admin bearer token.
func RequireToken(h *api.Handler) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !h.Authorized(c.Request()) {
				h.Unauthorized(c.Response(), c.Request())
				return nil
			}
			return next(c)
		}
	}
}
