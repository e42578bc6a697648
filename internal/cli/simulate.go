package cli

import (
	"github.com/spf13/cobra"

	"sentinel-monitor/internal/app"
	"sentinel-monitor/internal/domain"
)

var (
	simulatePrice     float64
	simulateThreshold float64
	simulateCondition string
	simulateNotify    string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-check",
	Short: "模拟一次付费检查: 本地跑完整 challenge → pay → retry 流程",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.SimulateOptions{
			Price:        simulatePrice,
			Threshold:    simulateThreshold,
			Condition:    simulateCondition,
			NotifyTarget: simulateNotify,
		}
		return getApp().SimulateCheck(cmd.Context(), opts)
	},
}

func init() {
	simulateCmd.Flags().Float64Var(&simulatePrice, "price", 0, "模拟的预言机价格")
	simulateCmd.Flags().Float64Var(&simulateThreshold, "threshold", 0, "告警阈值")
	simulateCmd.Flags().StringVar(&simulateCondition, "condition", string(domain.ConditionAbove), "触发条件 (above|below)")
	simulateCmd.Flags().StringVar(&simulateNotify, "notify-target", "", "可选 webhook 地址, 触发时会真实投递")
}
