package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"rigscout/internal/app"
)

var (
	dealsStages    []string
	dealsOpen      bool
	dealsMinProfit float64
	dealsLimit     int
	taskDue        string
)

var dealsCmd = &cobra.Command{
	Use:   "deals",
	Short: "Inspect and advance deals in the pipeline",
}

var dealsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List deals, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.DealListOptions{
			Stages:   dealsStages,
			OpenOnly: dealsOpen,
			Limit:    dealsLimit,
		}
		if cmd.Flags().Changed("min-profit") {
			opts.MinProfit = &dealsMinProfit
		}
		return getApp().ListDeals(cmd.Context(), opts)
	},
}

var dealsShowCmd = &cobra.Command{
	Use:   "show <deal-id>",
	Short: "Show one deal with valuation, risk, notes and tasks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().ShowDeal(cmd.Context(), args[0])
	},
}

var dealsAdvanceCmd = &cobra.Command{
	Use:   "advance <deal-id> <stage>",
	Short: "Move a deal to another stage",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().AdvanceDeal(cmd.Context(), args[0], args[1])
	},
}

var dealsNoteCmd = &cobra.Command{
	Use:   "note <deal-id> <text...>",
	Short: "Attach a note to a deal",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().AddNote(cmd.Context(), args[0], strings.Join(args[1:], " "))
	},
}

var dealsTaskCmd = &cobra.Command{
	Use:   "task <deal-id> <title...>",
	Short: "Attach a follow-up task to a deal",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var due *time.Time
		if taskDue != "" {
			t, err := time.Parse(time.RFC3339, taskDue)
			if err != nil {
				return fmt.Errorf("invalid --due value: %w", err)
			}
			due = &t
		}
		return getApp().AddTask(cmd.Context(), args[0], strings.Join(args[1:], " "), due)
	},
}

var dealsDoneCmd = &cobra.Command{
	Use:   "done <deal-id> <task-id>",
	Short: "Mark a task complete",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().CompleteTask(cmd.Context(), args[0], args[1])
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show deal counts per stage",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Stats(cmd.Context())
	},
}

func init() {
	dealsListCmd.Flags().StringSliceVar(&dealsStages, "stage", nil, "Only show deals in these stages")
	dealsListCmd.Flags().BoolVar(&dealsOpen, "open", false, "Hide sold and lost deals")
	dealsListCmd.Flags().Float64Var(&dealsMinProfit, "min-profit", 0, "Minimum expected profit")
	dealsListCmd.Flags().IntVar(&dealsLimit, "limit", 50, "Number of deals to display")
	dealsTaskCmd.Flags().StringVar(&taskDue, "due", "", "Due time (RFC3339)")

	dealsCmd.AddCommand(dealsListCmd, dealsShowCmd, dealsAdvanceCmd, dealsNoteCmd, dealsTaskCmd, dealsDoneCmd)
}
