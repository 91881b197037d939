package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"hourline/internal/domain"
	"hourline/internal/engine"
	"hourline/internal/timesheet"
)

func entryCmd() *cobra.Command {
	c := &cobra.Command{Use: "entry", Short: "Record and inspect time entries"}
	c.AddCommand(entrySetCmd())
	c.AddCommand(entryShowCmd())
	c.AddCommand(entryListCmd())
	c.AddCommand(entryCopyCmd())
	c.AddCommand(entryDeleteCmd())
	return c
}

func entrySetCmd() *cobra.Command {
	var hours, task, notes, start, end string
	cmd := &cobra.Command{
		Use:   "set <contributor> <date>",
		Short: "Create or edit a draft entry; only the given flags change",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := parseKey(args[0], args[1])
			if err != nil {
				return err
			}
			var patch timesheet.EntryPatch
			if cmd.Flags().Changed("hours") {
				h, err := parseDecimal("hours", hours)
				if err != nil {
					return err
				}
				patch.Hours = &h
			}
			if cmd.Flags().Changed("task") {
				patch.Task = &task
			}
			if cmd.Flags().Changed("notes") {
				patch.Notes = &notes
			}
			if cmd.Flags().Changed("start") {
				patch.StartTime = &start
			}
			if cmd.Flags().Changed("end") {
				patch.EndTime = &end
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				entry, created, err := e.UpsertEntry(ctx, actorID(), key.ContributorID, key.Date, patch)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"entry": entry, "created": created})
			})
		},
	}
	cmd.Flags().StringVar(&hours, "hours", "", "hours worked (0-24)")
	cmd.Flags().StringVar(&task, "task", "", "task category")
	cmd.Flags().StringVar(&notes, "notes", "", "free text")
	cmd.Flags().StringVar(&start, "start", "", "start time HH:MM")
	cmd.Flags().StringVar(&end, "end", "", "end time HH:MM")
	return cmd
}

func entryShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <contributor> <date>",
		Short: "Show one entry",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := parseKey(args[0], args[1])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				entry, err := e.Entry(key.ContributorID, key.Date)
				if err != nil {
					return err
				}
				return printJSONOrTable(entry)
			})
		},
	}
}

func entryListCmd() *cobra.Command {
	var contributor, from, to, status, task string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			rng, err := parseRange(from, to)
			if err != nil {
				return err
			}
			f := timesheet.Filter{ContributorID: contributor, Range: rng, Task: task}
			if status != "" {
				if f.Status, err = domain.ParseStatus(status); err != nil {
					return err
				}
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items := e.ListEntries(f)
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"Contributor", "Date", "Hours", "Task", "Status", "Version"})
				for _, it := range items {
					tw.AppendRow(table.Row{it.ContributorID, it.Date, it.Hours.String(), it.Task, it.Status, it.Version})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&contributor, "contributor", "", "contributor id")
	cmd.Flags().StringVar(&from, "from", "", "first day (YYYY-MM-DD)")
	cmd.Flags().StringVar(&to, "to", "", "last day (YYYY-MM-DD)")
	cmd.Flags().StringVar(&status, "status", "", "draft|submitted|approved|rejected")
	cmd.Flags().StringVar(&task, "task", "", "task category")
	return cmd
}

func entryCopyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "copy <contributor> <from-date> <to-date>",
		Short: "Copy hours, task and notes onto another day as a draft",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := parseKey(args[0], args[1])
			if err != nil {
				return err
			}
			dst, err := domain.ParseDate(args[2])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				entry, err := e.CopyEntry(ctx, actorID(), src.ContributorID, src.Date, dst)
				if err != nil {
					return err
				}
				return printJSONOrTable(entry)
			})
		},
	}
}

func entryDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <contributor> <date>",
		Short: "Delete a draft entry",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := parseKey(args[0], args[1])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				entry, err := e.DeleteEntry(ctx, actorID(), key.ContributorID, key.Date)
				if err != nil {
					return err
				}
				return printJSONOrTable(entry)
			})
		},
	}
}

func transitionCmd(op, short string) *cobra.Command {
	var text string
	var ifVersion int64
	cmd := &cobra.Command{
		Use:   op + " <contributor> <date>",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := parseKey(args[0], args[1])
			if err != nil {
				return err
			}
			var opts []timesheet.TransitionOption
			if ifVersion > 0 {
				opts = append(opts, timesheet.IfVersion(ifVersion))
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				var out any
				switch op {
				case "submit":
					out, err = e.Submit(ctx, actorID(), key, opts...)
				case "reopen":
					out, err = e.Reopen(ctx, actorID(), key, opts...)
				case "approve":
					entry, billing, aerr := e.Approve(ctx, actorID(), key, text, opts...)
					out, err = map[string]any{"entry": entry, "billing": billing}, aerr
				case "reject":
					entry, notice, rerr := e.Reject(ctx, actorID(), key, text, opts...)
					out, err = map[string]any{"entry": entry, "notice": notice}, rerr
				}
				if err != nil {
					return err
				}
				return printJSONOrTable(out)
			})
		},
	}
	switch op {
	case "approve":
		cmd.Flags().StringVar(&text, "note", "", "review note")
	case "reject":
		cmd.Flags().StringVar(&text, "reason", "", "why the entry is returned")
		_ = cmd.MarkFlagRequired("reason")
	}
	cmd.Flags().Int64Var(&ifVersion, "if-version", 0, "fail unless the entry is at this version")
	return cmd
}

func batchCmd() *cobra.Command {
	c := &cobra.Command{Use: "batch", Short: "Approve or reject many submitted entries at once"}
	c.AddCommand(batchOpCmd("approve"))
	c.AddCommand(batchOpCmd("reject"))
	return c
}

func batchOpCmd(op string) *cobra.Command {
	var rawKeys []string
	var text string
	cmd := &cobra.Command{
		Use:   op,
		Short: op + " entries given as contributor:date",
		RunE: func(cmd *cobra.Command, args []string) error {
			keys := make([]domain.Key, 0, len(rawKeys))
			for _, raw := range rawKeys {
				cid, date, ok := strings.Cut(raw, ":")
				if !ok {
					return fmt.Errorf("key %q: want contributor:date", raw)
				}
				key, err := parseKey(cid, date)
				if err != nil {
					return err
				}
				keys = append(keys, key)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				var res domain.BatchResult
				var err error
				if op == "approve" {
					res, err = e.ApproveBatch(ctx, actorID(), keys, text)
				} else {
					res, err = e.RejectBatch(ctx, actorID(), keys, text)
				}
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().StringSliceVar(&rawKeys, "key", nil, "contributor:date (repeatable)")
	_ = cmd.MarkFlagRequired("key")
	if op == "approve" {
		cmd.Flags().StringVar(&text, "note", "", "review note")
	} else {
		cmd.Flags().StringVar(&text, "reason", "", "why the entries are returned")
		_ = cmd.MarkFlagRequired("reason")
	}
	return cmd
}

func parseKey(contributorID, date string) (domain.Key, error) {
	d, err := domain.ParseDate(date)
	if err != nil {
		return domain.Key{}, err
	}
	if strings.TrimSpace(contributorID) == "" {
		return domain.Key{}, domain.ValidationError{Field: "contributor_id", Reason: "required"}
	}
	return domain.Key{ContributorID: contributorID, Date: d}, nil
}

func parseRange(from, to string) (domain.DateRange, error) {
	if from == "" && to == "" {
		return domain.DateRange{}, nil
	}
	f, err := domain.ParseDate(from)
	if err != nil {
		return domain.DateRange{}, err
	}
	t, err := domain.ParseDate(to)
	if err != nil {
		return domain.DateRange{}, err
	}
	return domain.NewDateRange(f, t)
}

func parseDecimal(field, s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Decimal{}, domain.ValidationError{Field: field, Reason: fmt.Sprintf("%q is not a decimal", s)}
	}
	return d, nil
}
