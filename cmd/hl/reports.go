package main

import (
	"context"
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"hourline/internal/domain"
	"hourline/internal/engine"
	"hourline/internal/timesheet"
)

func reportCmd() *cobra.Command {
	c := &cobra.Command{Use: "report", Short: "Hours and cost aggregates"}
	c.AddCommand(reportDayCmd())
	c.AddCommand(reportPeriodCmd("week", "Summary of the configured week containing a day", func(e engine.Engine, d domain.Date) (domain.PeriodSummary, error) {
		return e.AggregateWeek(d)
	}))
	c.AddCommand(reportPeriodCmd("month", "Summary of the calendar month containing a day", func(e engine.Engine, d domain.Date) (domain.PeriodSummary, error) {
		return e.AggregateMonth(d)
	}))
	c.AddCommand(reportRangeCmd())
	c.AddCommand(reportContributorsCmd())
	return c
}

func reportDayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "day <date>",
		Short: "Totals and status breakdown for one day",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := domain.ParseDate(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				agg := e.AggregateDay(d)
				if viper.GetBool("json") {
					return printJSON(agg)
				}
				tw := newTable()
				tw.SetTitle(fmt.Sprintf("%s  %s h  cost %s", agg.Date, agg.TotalHours, agg.TotalCost))
				tw.AppendHeader(table.Row{"Contributor", "Hours", "Task", "Status"})
				for _, it := range agg.Contributors {
					tw.AppendRow(table.Row{it.ContributorID, it.Hours.String(), it.Task, it.Status})
				}
				tw.AppendFooter(breakdownRow(agg.StatusBreakdown))
				tw.Render()
				return nil
			})
		},
	}
}

func reportPeriodCmd(use, short string, run func(engine.Engine, domain.Date) (domain.PeriodSummary, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <date>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := domain.ParseDate(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				sum, err := run(e, d)
				if err != nil {
					return err
				}
				return printSummary(sum)
			})
		},
	}
}

func reportRangeCmd() *cobra.Command {
	var from, to string
	cmd := &cobra.Command{
		Use:   "period",
		Short: "Summary over an inclusive date range",
		RunE: func(cmd *cobra.Command, args []string) error {
			rng, err := parseRange(from, to)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				sum, err := e.AggregatePeriod(rng)
				if err != nil {
					return err
				}
				return printSummary(sum)
			})
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "first day (YYYY-MM-DD)")
	cmd.Flags().StringVar(&to, "to", "", "last day (YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func reportContributorsCmd() *cobra.Command {
	var from, to string
	cmd := &cobra.Command{
		Use:   "contributors",
		Short: "Distinct contributors with hours in a range",
		RunE: func(cmd *cobra.Command, args []string) error {
			rng, err := parseRange(from, to)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ids := e.UniqueContributors(rng)
				return printJSONOrTable(map[string]any{"contributors": ids, "count": len(ids)})
			})
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "first day (YYYY-MM-DD)")
	cmd.Flags().StringVar(&to, "to", "", "last day (YYYY-MM-DD)")
	return cmd
}

func printSummary(sum domain.PeriodSummary) error {
	if viper.GetBool("json") {
		return printJSON(sum)
	}
	tw := newTable()
	tw.SetTitle(fmt.Sprintf("%s  %s h  cost %s  %d days worked", sum.Range, sum.TotalHours, sum.TotalCost, sum.DaysWorked))
	tw.AppendHeader(table.Row{"Contributor", "Name", "Hours", "Cost", "Days"})
	for _, c := range sum.ByContributor {
		tw.AppendRow(table.Row{c.ContributorID, c.Name, c.Hours.String(), c.Cost.String(), c.DaysWorked})
	}
	tw.AppendFooter(breakdownRow(sum.StatusBreakdown))
	tw.Render()
	return nil
}

func breakdownRow(b domain.StatusBreakdown) table.Row {
	return table.Row{
		fmt.Sprintf("draft %d", b.Draft),
		fmt.Sprintf("submitted %d", b.Submitted),
		fmt.Sprintf("approved %d", b.Approved),
		fmt.Sprintf("rejected %d", b.Rejected),
	}
}

func varianceCmd() *cobra.Command {
	c := &cobra.Command{Use: "variance", Short: "Compare hours against a baseline"}

	var current, baseline, threshold string
	compute := &cobra.Command{
		Use:   "compute",
		Short: "Classify a current value against a baseline",
		RunE: func(cmd *cobra.Command, args []string) error {
			cur, err := parseDecimal("current", current)
			if err != nil {
				return err
			}
			base, err := parseDecimal("baseline", baseline)
			if err != nil {
				return err
			}
			if cur.IsNegative() || base.IsNegative() {
				return domain.ValidationError{Field: "current/baseline", Reason: "hours cannot be negative"}
			}
			if threshold != "" {
				th, err := parseDecimal("threshold", threshold)
				if err != nil {
					return err
				}
				if !th.IsPositive() {
					return domain.ValidationError{Field: "threshold", Reason: "threshold must be positive"}
				}
				return printJSONOrTable(timesheet.ComputeVarianceWithThreshold(cur, base, th))
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrTable(e.Variance(cur, base))
			})
		},
	}
	compute.Flags().StringVar(&current, "current", "", "current hours")
	compute.Flags().StringVar(&baseline, "baseline", "", "baseline hours")
	compute.Flags().StringVar(&threshold, "threshold", "", "percent band for normal (default from config)")
	_ = compute.MarkFlagRequired("current")
	_ = compute.MarkFlagRequired("baseline")

	var from, to string
	var periods int
	contributor := &cobra.Command{
		Use:   "contributor <id>",
		Short: "Compare a contributor's hours with the mean of prior periods",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rng, err := parseRange(from, to)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.ContributorVariance(args[0], rng, periods)
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	contributor.Flags().StringVar(&from, "from", "", "first day (YYYY-MM-DD)")
	contributor.Flags().StringVar(&to, "to", "", "last day (YYYY-MM-DD)")
	contributor.Flags().IntVar(&periods, "periods", 0, "prior periods in the baseline (default from config)")
	_ = contributor.MarkFlagRequired("from")
	_ = contributor.MarkFlagRequired("to")

	c.AddCommand(compute, contributor)
	return c
}

func selectCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "select",
		Short: "Preview or act on a selection of contributors or entries",
	}
	c.AddCommand(selectOpCmd("preview", "Total the entries a selection implies"))
	c.AddCommand(selectOpCmd("approve", "Approve the submitted entries of a selection"))
	c.AddCommand(selectOpCmd("reject", "Reject the submitted entries of a selection"))
	return c
}

func selectOpCmd(op, short string) *cobra.Command {
	var mode, from, to, text string
	var ids []string
	cmd := &cobra.Command{
		Use:   op,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := timesheet.ParseSelectionMode(mode)
			if err != nil {
				return err
			}
			rng, err := parseRange(from, to)
			if err != nil {
				return err
			}
			sel := timesheet.NewSelection(m, rng)
			for _, id := range ids {
				sel.Select(id)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				var out any
				switch op {
				case "preview":
					out, err = e.PreviewSelection(sel, true)
				case "approve":
					out, err = e.ApproveSelection(ctx, actorID(), sel, text)
				case "reject":
					out, err = e.RejectSelection(ctx, actorID(), sel, text)
				}
				if err != nil {
					return err
				}
				return printJSONOrTable(out)
			})
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "contributors", "contributors|entries")
	cmd.Flags().StringSliceVar(&ids, "id", nil, "contributor or entry id (repeatable)")
	cmd.Flags().StringVar(&from, "from", "", "first day (contributors mode)")
	cmd.Flags().StringVar(&to, "to", "", "last day (contributors mode)")
	switch op {
	case "approve":
		cmd.Flags().StringVar(&text, "note", "", "review note")
	case "reject":
		cmd.Flags().StringVar(&text, "reason", "", "why the entries are returned")
		_ = cmd.MarkFlagRequired("reason")
	}
	return cmd
}
