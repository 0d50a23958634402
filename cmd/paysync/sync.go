package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mihaimyh/paysync/pkg/billing"
)

func syncCmd(opts *rootOptions) *cobra.Command {
	var (
		mode        string
		dryRun      bool
		concurrency int
	)
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Reconcile local subscriptions against the provider once",
		Long: `Fetch every known subscription from the provider and overwrite local
records that differ. The report is printed as JSON.

Examples:
  paysync sync
  paysync sync --mode all --dry-run`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			parsed, ok := billing.ParseSyncMode(mode)
			if !ok {
				return fmt.Errorf("invalid mode %q", mode)
			}
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

			svc, err := a.reconciler()
			if err != nil {
				return err
			}
			sched, err := a.scheduler(svc)
			if err != nil {
				return err
			}
			report, err := sched.TriggerSync(ctx, parsed, billing.SyncOptions{DryRun: dryRun, Concurrency: concurrency})
			if err != nil {
				return err
			}
			return printJSON(cmd, report)
		},
	}
	cmd.Flags().StringVarP(&mode, "mode", "m", string(billing.SyncActiveOnly), "active_only or all")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report differences without writing")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "parallel provider calls (0 uses the configured value)")
	return cmd
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
