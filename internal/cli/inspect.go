package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/murelay/internal/ir"
	"github.com/roach88/murelay/internal/store"
)

// InspectOptions holds flags for the inspect command.
type InspectOptions struct {
	*RootOptions
	Process string
	Cursor  int64
	Limit   int
}

// ProcessView is the inspect output for a process.
type ProcessView struct {
	ProcessID string           `json:"processId"`
	LatestTx  *ir.SequencedTx  `json:"latestTx,omitempty"`
	Records   []ir.CacheRecord `json:"records"`
	Next      int64            `json:"next,omitempty"`
}

// NewInspectCommand creates the inspect command.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InspectOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "inspect [message-id]",
		Short: "Show cached messages and process state",
		Long: `Show what the cache knows.

With a message id, prints that message's record: status, tx, recorded
error and outbox. With --process, prints the process's latest tx and its
records, newest first.

Examples:
  murelay inspect 3f2a9c1b...
  murelay inspect --process P1 --limit 20
  murelay inspect --process P1 --cursor 42 --format json`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Process, "process", "", "process id to list")
	cmd.Flags().Int64Var(&opts.Cursor, "cursor", 0, "page cursor from a previous listing")
	cmd.Flags().IntVar(&opts.Limit, "limit", store.DefaultPageSize, "records per page")

	return cmd
}

func runInspect(opts *InspectOptions, args []string, cmd *cobra.Command) error {
	if len(args) == 0 && opts.Process == "" {
		return NewExitError(ExitCommandError, "give a message id or --process")
	}

	out := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load configuration", err)
	}
	setupLogging(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cache, err := store.OpenCache(ctx, cfg.CacheName)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open cache", err)
	}
	defer cache.Close()

	if len(args) == 1 {
		rec, err := cache.FindMessage(ctx, args[0])
		if errors.Is(err, store.ErrNotFound) {
			return NewExitError(ExitCommandError, fmt.Sprintf("message %s not found", args[0]))
		}
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read message", err)
		}
		return out.Success(rec, func(w io.Writer) { renderRecord(w, rec) })
	}

	view := ProcessView{ProcessID: opts.Process}
	latest, err := cache.FindLatestTx(ctx, opts.Process)
	switch {
	case err == nil:
		view.LatestTx = &latest
	case !errors.Is(err, store.ErrNotFound):
		return WrapExitError(ExitCommandError, "failed to read latest tx", err)
	}

	view.Records, view.Next, err = cache.FindLatestMessages(ctx, opts.Process, opts.Cursor, opts.Limit)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list messages", err)
	}

	return out.Success(view, func(w io.Writer) {
		if view.LatestTx != nil {
			fmt.Fprintf(w, "process %s latest tx %s (seq %d)\n", view.ProcessID, view.LatestTx.TxID, view.LatestTx.SequenceNumber)
		} else {
			fmt.Fprintf(w, "process %s has no sequenced messages\n", view.ProcessID)
		}
		renderRecords(w, view.ProcessID, view.Records, view.Next)
	})
}
