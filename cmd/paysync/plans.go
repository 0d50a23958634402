package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mihaimyh/paysync/pkg/reconcile"
)

func plansCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plans",
		Short: "Manage the local plan catalogue",
	}
	cmd.AddCommand(plansMonitorCmd(opts))
	cmd.AddCommand(plansSeedCmd(opts))
	return cmd
}

func plansMonitorCmd(opts *rootOptions) *cobra.Command {
	var insert bool
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "List provider prices missing from the local catalogue",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			svc, err := a.reconciler()
			if err != nil {
				return err
			}
			report, err := svc.MonitorNewPlans(cmd.Context(), reconcile.PlanMonitorOptions{AutoInsert: insert})
			if err != nil {
				return err
			}
			return printJSON(cmd, report)
		},
	}
	cmd.Flags().BoolVar(&insert, "insert", false, "insert discovered plans")
	return cmd
}

func plansSeedCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "seed [file]",
		Short: "Insert plans from a YAML catalogue; existing plans are left untouched",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			path := cfg.Plans.SeedFile
			if len(args) == 1 {
				path = args[0]
			}
			if path == "" {
				return fmt.Errorf("no seed file given")
			}
			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			inserted, err := a.seedPlans(cmd.Context(), path)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "inserted %d plans\n", inserted)
			return nil
		},
	}
}
