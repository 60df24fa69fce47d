package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lorekeep/lorekeep/internal/retention"
)

func retentionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "retention",
		Short: "Inspect and run time-based cleanup",
	}

	openRetention := func(ctx context.Context) (*retention.Engine, func(), error) {
		s, _, err := openStore(ctx)
		if err != nil {
			return nil, nil, err
		}
		return retention.NewEngine(s.Pool(), retention.DefaultRegistry()), func() { s.Close() }, nil
	}

	collections := &cobra.Command{
		Use:   "collections",
		Short: "List collections tracked for cleanup",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			eng, closeStore, err := openRetention(ctx)
			if err != nil {
				return err
			}
			defer closeStore()

			handles, err := eng.TrackedCollections(ctx, "")
			if err != nil {
				return err
			}
			return printJSON(handles)
		},
	}

	var days int
	unused := &cobra.Command{
		Use:   "unused",
		Short: "Count rows past the unused threshold per collection",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			eng, closeStore, err := openRetention(ctx)
			if err != nil {
				return err
			}
			defer closeStore()

			counts, err := eng.UnusedCounts(ctx, days, "")
			if err != nil {
				return err
			}
			return printJSON(counts)
		},
	}
	unused.Flags().IntVar(&days, "days", 30, "Unused threshold in days")

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Show access statistics per tracked collection",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			eng, closeStore, err := openRetention(ctx)
			if err != nil {
				return err
			}
			defer closeStore()

			out, err := eng.Statistics(ctx, "")
			if err != nil {
				return err
			}
			return printJSON(out)
		},
	}

	var sweepDays int
	var apply bool
	sweep := &cobra.Command{
		Use:   "sweep",
		Short: "Delete rows past the unused threshold (dry run unless --apply)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			eng, closeStore, err := openRetention(ctx)
			if err != nil {
				return err
			}
			defer closeStore()

			deleted, err := eng.DeleteUnused(ctx, sweepDays, "", !apply)
			if err != nil {
				return err
			}
			if !apply {
				fmt.Println("dry run; pass --apply to delete")
			}
			return printJSON(deleted)
		},
	}
	sweep.Flags().IntVar(&sweepDays, "days", 30, "Unused threshold in days")
	sweep.Flags().BoolVar(&apply, "apply", false, "Actually delete instead of counting")

	cmd.AddCommand(collections, unused, stats, sweep)
	return cmd
}
