package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/murelay/internal/engine"
)

// ResumeOptions holds flags for the resume command.
type ResumeOptions struct {
	*RootOptions
	All     bool
	Process string
	Limit   int

	// IDGenerator allows overriding the crank id generator (for testing).
	IDGenerator engine.CrankIDGenerator
}

// NewResumeCommand creates the resume command.
func NewResumeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ResumeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "resume [message-id]",
		Short: "Re-drive a stored cascade",
		Long: `Re-drive the cascade of a stored message.

An executed message is cranked from its stored outbox; a pending or
sequenced one is processed first. Executed messages in the cascade are
answered from the cache, so resuming a finished cascade does no work.

With --all every pending or sequenced message is resumed, oldest first.

Exit codes:
  0 - Every crank finished with status ok
  1 - A message failed, or a crank was partial or failed
  2 - Command error (message not found, cache unreachable, etc.)

Examples:
  murelay resume 3f2a9c1b...
  murelay resume --all --process P1
  murelay resume --all --format json`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResume(opts, args, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.All, "all", false, "resume every unfinished message")
	cmd.Flags().StringVar(&opts.Process, "process", "", "with --all, only this process")
	cmd.Flags().IntVar(&opts.Limit, "limit", 100, "with --all, at most this many messages")

	return cmd
}

func runResume(opts *ResumeOptions, args []string, cmd *cobra.Command) error {
	out := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	switch {
	case opts.All && len(args) > 0:
		return NewExitError(ExitCommandError, "give a message id or --all, not both")
	case !opts.All && len(args) == 0:
		return NewExitError(ExitCommandError, "give a message id or --all")
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

	r, err := openRelay(ctx, cfg, relayOptions{ids: opts.IDGenerator})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open relay", err)
	}
	defer r.Close()

	if !opts.All {
		res, err := r.cranker.Resume(ctx, args[0])
		if err != nil {
			out.Error(err, nil)
			if engine.Classify(err) == engine.KindNotFound {
				return WrapExitError(ExitCommandError, "message not found", err)
			}
			return pipelineExit("resume failed", err)
		}
		return finishCrank(out, res)
	}

	records, err := r.cache.FindResumable(ctx, opts.Process, opts.Limit)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list unfinished messages", err)
	}
	out.VerboseLog("resuming %d messages", len(records))

	results := make([]*engine.CrankResult, 0, len(records))
	var firstErr error
	for _, rec := range records {
		res, err := r.cranker.Resume(ctx, rec.MessageID)
		if err != nil {
			out.VerboseLog("message %s: %v", rec.MessageID, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		results = append(results, res)
	}

	out.Success(results, func(w io.Writer) {
		if len(records) == 0 {
			fmt.Fprintln(w, "No unfinished messages.")
			return
		}
		for _, res := range results {
			renderCrank(w, res)
		}
	})

	if firstErr != nil {
		return pipelineExit("resume failed", firstErr)
	}
	for _, res := range results {
		if res.Status != engine.CrankOK {
			return NewExitError(ExitFailure, fmt.Sprintf("crank %s finished %s", res.CrankID, res.Status))
		}
	}
	return nil
}
