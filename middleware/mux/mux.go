// Package mux registers the webhook and admin endpoints on a gorilla/mux router
package mux

import (
	"net/http"

	gmux "github.com/gorilla/mux"

	httpmw "github.com/mihaimyh/paysync/middleware/http"
	"github.com/mihaimyh/paysync/pkg/api"
)

// Register mounts the routes on r.
func Register(r *gmux.Router, config httpmw.Config) error {
	config, err := config.Normalize()
	if err != nil {
		return err
	}

	r.Handle(config.WebhookPath, config.Webhook).Methods(http.MethodPost)
	if config.Admin == nil {
		return nil
	}

	admin := r.PathPrefix(config.AdminPrefix).Subrouter()
	admin.Use(config.Admin.RequireToken)
	admin.HandleFunc(api.PathSync, config.Admin.TriggerSync).Methods(http.MethodPost)
	admin.HandleFunc(api.PathStatus, config.Admin.Status).Methods(http.MethodGet)
	admin.HandleFunc(api.PathPlansMonitor, config.Admin.MonitorPlans).Methods(http.MethodPost)
	return nil
}
