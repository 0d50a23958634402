// Command paysync receives billing provider webhooks and keeps local
// subscription state reconciled with the provider.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mihaimyh/paysync/pkg/config"
)

var Version = "dev"

type rootOptions struct {
	configFile string
	envFile    string
}

func (o *rootOptions) load() (*config.Config, error) {
	return config.Load(config.LoadOptions{ConfigFile: o.configFile, EnvFile: o.envFile})
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:           "paysync",
		Short:         "Billing webhook processing and subscription reconciliation",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "", "YAML config file")
	rootCmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before reading the environment")

	rootCmd.AddCommand(serveCmd(opts))
	rootCmd.AddCommand(syncCmd(opts))
	rootCmd.AddCommand(plansCmd(opts))
	rootCmd.AddCommand(migrateCmd(opts))
	return rootCmd
}
