package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"sentinel-monitor/internal/app"
)

var (
	showSentinel string
	showLimit    int
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display a sentinel's recent activity records",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showSentinel == "" {
			return fmt.Errorf("--sentinel is required")
		}
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			SentinelID: showSentinel,
			Limit:      showLimit,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().StringVar(&showSentinel, "sentinel", "", "Sentinel ID")
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of records to display")
}
