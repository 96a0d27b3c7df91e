package main

import (
	"os"
	_ "time/tzdata"

	"github.com/spf13/cobra"
)

var version = "dev"

var noColor bool

var rootCmd = &cobra.Command{
	Use:   "statusbot",
	Short: "Slack bot that collects weekly status updates",
	Long: `statusbot collects weekly status updates over Slack direct messages,
reformats them into the executive update layout, posts them to each
employee's domain channel and reminds people who have not reported.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	Version:       version,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", os.Getenv("NO_COLOR") != "", "disable colored output")

	rootCmd.AddCommand(startCmd, stopCmd, statusCmd)
	rootCmd.AddCommand(remindCmd, ledgerCmd, overdueCmd, directoryCmd, configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}
