package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	httpmw "github.com/mihaimyh/paysync/middleware/http"
	"github.com/mihaimyh/paysync/pkg/api"
	"github.com/mihaimyh/paysync/pkg/billing"
	"github.com/mihaimyh/paysync/pkg/ingress"
	"github.com/mihaimyh/paysync/pkg/scheduler"
)

func serveCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the webhook endpoint, the admin API and the reconciliation scheduler",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.serve(ctx)
		},
	}
}

// requestID prefers the id assigned by chi's RequestID middleware.
func requestID(r *http.Request) string {
	if id := middleware.GetReqID(r.Context()); id != "" {
		return id
	}
	return uuid.NewString()
}

func (a *app) serve(ctx context.Context) error {
	if a.cfg.Plans.SeedFile != "" {
		if _, err := a.seedPlans(ctx, a.cfg.Plans.SeedFile); err != nil {
			return err
		}
	}

	dispatcher, err := a.dispatcher()
	if err != nil {
		return err
	}
	webhook, err := ingress.NewHandler(ingress.Config{
		WebhookSecret:      a.cfg.Stripe.WebhookSecret,
		SignatureTolerance: a.cfg.Stripe.SignatureTolerance,
		Dispatcher:         dispatcher,
		EventLog:           a.eventLog,
		RateLimitRequests:  a.cfg.RateLimit.Requests,
		RateLimitWindow:    a.cfg.RateLimit.Window,
		RequestID:          requestID,
		Logger:             a.logger,
		Metrics:            a.metrics,
	})
	if err != nil {
		return err
	}

	var sched *scheduler.Scheduler
	if svc, err := a.reconciler(); err != nil {
		a.logger.Warn("reconciliation disabled", billing.Field{Key: "error", Value: err})
	} else if sched, err = a.scheduler(svc); err != nil {
		return err
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Post(httpmw.DefaultWebhookPath, webhook.ServeHTTP)
	if a.registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	}
	if sched != nil && a.cfg.Admin.Token != "" {
		admin, err := api.NewHandler(api.Config{
			Controller: sched,
			Token:      a.cfg.Admin.Token,
			RequestID:  requestID,
			Logger:     a.logger,
		})
		if err != nil {
			return err
		}
		r.Mount(httpmw.DefaultAdminPrefix, http.StripPrefix(httpmw.DefaultAdminPrefix, admin.Routes()))
	}

	server := &http.Server{
		Addr:              a.cfg.HTTP.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       a.cfg.HTTP.ReadTimeout,
		WriteTimeout:      a.cfg.HTTP.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	if sched != nil {
		if err := sched.Start(gctx); err != nil {
			return err
		}
		defer sched.Stop()
	}
	g.Go(func() error {
		a.logger.Info("http server listening", billing.Field{Key: "addr", Value: server.Addr})
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), a.cfg.HTTP.ShutdownTimeout)
		defer cancel()
		a.logger.Info("shutting down http server")
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
