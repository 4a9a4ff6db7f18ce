package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/tbourn/go-concierge-backend/internal/cli"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "concierge",
		Short: "Concierge - multi-tenant hotel voice concierge backend",
		Long: `Concierge ingests voice platform call events, summarizes calls into staff
service requests and pushes changes to live hotel dashboards.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		cli.NewServeCommand(),
		cli.NewMigrateCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
