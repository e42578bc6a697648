package cli

import (
	"github.com/spf13/cobra"

	"sentinel-monitor/internal/app"
)

var agentsActiveOnly bool

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "List configured sentinels and their state",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.AgentsOptions{
			ActiveOnly: agentsActiveOnly,
		}
		return getApp().Agents(cmd.Context(), opts)
	},
}

func init() {
	agentsCmd.Flags().BoolVar(&agentsActiveOnly, "active", false, "Only show active sentinels")
}
