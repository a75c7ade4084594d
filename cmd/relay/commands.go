package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/Sokol111/ecommerce-outbox/pkg/messaging/patterns/outbox"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
)

const (
	exitOK         = 0
	exitFailure    = 1
	exitUsageError = 2
)

// operations is what the commands need from a running relay application.
type operations interface {
	Run(ctx context.Context) error
	Drain(ctx context.Context) (int, error)
	Stats(ctx context.Context) (outbox.Stats, error)
	Replay(ctx context.Context, eventID uuid.UUID) error
	Close(ctx context.Context) error
}

// appOptions tells the opener what a command needs.
type appOptions struct {
	configPath string
	// publishing wires the broker and the relay; status and replay only
	// touch the store.
	publishing bool
}

type opener func(ctx context.Context, opts appOptions) (operations, error)

type usageError struct {
	err error
}

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

func usageErrorf(format string, args ...any) error {
	return &usageError{err: fmt.Errorf(format, args...)}
}

// execute runs the CLI and maps the outcome to an exit code.
func execute(ctx context.Context, args []string, open opener, stdout, stderr io.Writer) int {
	root := newRootCmd(open)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return exitOK
	}

	fmt.Fprintln(stderr, "Error:", err)
	var uerr *usageError
	if errors.As(err, &uerr) {
		fmt.Fprintln(stderr, "Run 'relay --help' for usage.")
		return exitUsageError
	}
	return exitFailure
}

func newRootCmd(open opener) *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "relay",
		Short:         "Operate the transactional outbox",
		Long:          `relay publishes outbox records to the broker and lets operators inspect and repair the outbox.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_ = cmd.Usage()
			return usageErrorf("a command is required")
		},
	}
	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &usageError{err: err}
	})
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (defaults to CONFIG_FILE)")

	withApp := func(publishing bool, fn func(ctx context.Context, ops operations) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			ops, err := open(ctx, appOptions{configPath: configPath, publishing: publishing})
			if err != nil {
				return fmt.Errorf("failed to start: %w", err)
			}
			defer func() {
				stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
				defer cancel()
				_ = ops.Close(stopCtx)
			}()
			return fn(ctx, ops)
		}
	}

	rootCmd.AddCommand(
		newRunCmd(withApp),
		newStatusCmd(withApp),
		newReplayCmd(withApp),
		newDrainCmd(withApp),
	)
	return rootCmd
}

type appRunner func(publishing bool, fn func(ctx context.Context, ops operations) error) func(*cobra.Command, []string) error

func newRunCmd(withApp appRunner) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Publish outbox records until interrupted",
		Args:  noArgs,
		RunE: withApp(true, func(ctx context.Context, ops operations) error {
			return ops.Run(ctx)
		}),
	}
}

func newStatusCmd(withApp appRunner) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print record counts by state and the oldest pending age",
		Args:  noArgs,
		PreRunE: func(*cobra.Command, []string) error {
			if output != "text" && output != "json" {
				return usageErrorf("invalid --output %q, want text or json", output)
			}
			return nil
		},
	}
	cmd.RunE = withApp(false, func(ctx context.Context, ops operations) error {
		stats, err := ops.Stats(ctx)
		if err != nil {
			return err
		}
		if output == "json" {
			return writeStatsJSON(cmd.OutOrStdout(), stats)
		}
		return writeStatsText(cmd.OutOrStdout(), stats)
	})
	cmd.Flags().StringVarP(&output, "output", "o", "text", "Output format: text or json")
	return cmd
}

func newReplayCmd(withApp appRunner) *cobra.Command {
	var rawID string
	var eventID uuid.UUID

	cmd := &cobra.Command{
		Use:   "replay --event-id <uuid>",
		Short: "Move a DEAD record back to PENDING",
		Args:  noArgs,
		PreRunE: func(*cobra.Command, []string) error {
			if rawID == "" {
				return usageErrorf("--event-id is required")
			}
			id, err := uuid.Parse(rawID)
			if err != nil {
				return usageErrorf("invalid --event-id %q: %w", rawID, err)
			}
			eventID = id
			return nil
		},
	}
	cmd.RunE = withApp(false, func(ctx context.Context, ops operations) error {
		if err := ops.Replay(ctx, eventID); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "event %s moved to %s\n", eventID, outbox.StatePending)
		return nil
	})
	cmd.Flags().StringVar(&rawID, "event-id", "", "Id of the DEAD record (required)")
	return cmd
}

func newDrainCmd(withApp appRunner) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "drain",
		Short: "Publish every claimable record, then exit",
		Args:  noArgs,
	}
	cmd.RunE = withApp(true, func(ctx context.Context, ops operations) error {
		n, err := ops.Drain(ctx)
		if err != nil {
			return fmt.Errorf("drain stopped after %d records: %w", n, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "drained %d records\n", n)
		return nil
	})
	return cmd
}

func noArgs(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return nil
	}
	if !cmd.HasParent() {
		return usageErrorf("unknown command %q", args[0])
	}
	return usageErrorf("%s takes no arguments, got %s", cmd.Name(), strings.Join(args, " "))
}

func writeStatsText(w io.Writer, stats outbox.Stats) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, state := range outbox.States {
		fmt.Fprintf(tw, "%s\t%d\n", state, stats.Counts[state])
	}
	fmt.Fprintf(tw, "oldest pending age\t%s\n", stats.OldestPendingAge.Round(time.Millisecond))
	return tw.Flush()
}

type statsView struct {
	Counts             map[outbox.State]int64 `json:"counts"`
	OldestPendingAgeMs int64                  `json:"oldestPendingAgeMs"`
}

func writeStatsJSON(w io.Writer, stats outbox.Stats) error {
	counts := make(map[outbox.State]int64, len(outbox.States))
	for _, state := range outbox.States {
		counts[state] = stats.Counts[state]
	}
	return jsoniter.ConfigCompatibleWithStandardLibrary.NewEncoder(w).Encode(statsView{
		Counts:             counts,
		OldestPendingAgeMs: stats.OldestPendingAge.Milliseconds(),
	})
}
