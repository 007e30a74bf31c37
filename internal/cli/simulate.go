package cli

import (
	"errors"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var (
	simulateTitle string
	simulatePrice float64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "模拟一条候选 listing 并触发告警",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulatePrice <= 0 {
			return errors.New("--price 必须大于 0")
		}
		return getApp().SimulateAlert(cmd.Context(), simulateTitle, decimal.NewFromFloat(simulatePrice))
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateTitle, "title", "Gaming PC RTX 3070 Ryzen 7 5800X 32GB RAM 1TB NVMe", "模拟 listing 标题")
	simulateCmd.Flags().Float64Var(&simulatePrice, "price", 650, "模拟要价")
}
