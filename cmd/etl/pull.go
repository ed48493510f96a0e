package main

import (
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/couchcryptid/hydromet-etl/internal/domain"
	"github.com/couchcryptid/hydromet-etl/internal/pipeline"
	"github.com/spf13/cobra"
)

var errAllFailed = errors.New("every source failed")

func newPullCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pull",
		Short: "Run one ingestion pass and print a per-source summary",
		RunE:  runPull,
	}
	cmd.Flags().StringSlice("source", nil, "Limit the run to these sources (repeatable)")
	cmd.Flags().Int("days", 0, "Trailing window in days (default PULL_DAYS)")
	cmd.Flags().String("start", "", "Window start, YYYY-MM-DD or RFC 3339")
	cmd.Flags().String("end", "", "Window end, YYYY-MM-DD or RFC 3339")
	cmd.Flags().String("since", "", "Keep only points after this instant instead of the stored latest")
	return cmd
}

func runPull(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts, err := pullOptions(cmd)
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	rep, err := a.pipeline.RunOnce(ctx, opts)
	if err != nil {
		return err
	}
	if err := printRun(cmd.OutOrStdout(), rep); err != nil {
		return err
	}
	if rep.AllFailed() {
		return errAllFailed
	}
	return nil
}

func pullOptions(cmd *cobra.Command) (pipeline.RunOptions, error) {
	var opts pipeline.RunOptions
	opts.Sources, _ = cmd.Flags().GetStringSlice("source")

	days, _ := cmd.Flags().GetInt("days")
	startFlag, _ := cmd.Flags().GetString("start")
	endFlag, _ := cmd.Flags().GetString("end")
	sinceFlag, _ := cmd.Flags().GetString("since")

	start, err := domain.ParseBound(startFlag, false)
	if err != nil {
		return opts, fmt.Errorf("--start: %w", err)
	}
	end, err := domain.ParseBound(endFlag, true)
	if err != nil {
		return opts, fmt.Errorf("--end: %w", err)
	}
	if opts.Cutoff, err = domain.ParseBound(sinceFlag, false); err != nil {
		return opts, fmt.Errorf("--since: %w", err)
	}

	switch {
	case !start.IsZero() || !end.IsZero():
		if days > 0 {
			return opts, errors.New("--days cannot be combined with --start or --end")
		}
		if end.IsZero() {
			end = domain.Now()
		}
		if start.IsZero() || start.After(end) {
			return opts, errors.New("--start is required and must not be after --end")
		}
		opts.Window = domain.Window{Start: start, End: end}
	case days < 0:
		return opts, errors.New("--days must be positive")
	case days > 0:
		opts.Window = domain.LastDays(domain.Now(), days)
	}
	return opts, nil
}

func printRun(w io.Writer, rep pipeline.RunReport) error {
	fmt.Fprintf(w, "run %s  window %s  took %s\n\n", rep.RunID, rep.Window, rep.Finished.Sub(rep.Started).Round(time.Millisecond))
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SOURCE\tOUTCOME\tTARGETS\tFAILED\tSTORED\tEXCLUDED")
	for _, s := range rep.Sources {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\n", s.Source, s.Outcome, s.Targets, s.Failed, s.Stored, s.Excluded)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	for _, s := range rep.Sources {
		for _, e := range s.Errors {
			fmt.Fprintf(w, "%s: %s\n", s.Source, e)
		}
	}
	return nil
}
