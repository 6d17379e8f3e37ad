package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/murelay/internal/engine"
	"github.com/roach88/murelay/internal/ir"
)

// SendOptions holds flags for the send command.
type SendOptions struct {
	*RootOptions
	NoCrank bool

	// Message built from flags when no file is given.
	Process string
	Data    string
	Owner   string
	Tags    []string // name=value

	// IDGenerator allows overriding the crank id generator (for testing).
	IDGenerator engine.CrankIDGenerator
}

// NewSendCommand creates the send command.
func NewSendCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SendOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "send [message.json | -]",
		Short: "Process a message and crank its cascade",
		Long: `Process one message through the relay and crank the outbox cascade it
causes, printing the crank tree.

The message is read from a JSON file, from stdin with "-", or built from
--process, --data and --tag.

Exit codes:
  0 - Crank finished with status ok
  1 - The message failed, or the crank was partial or failed
  2 - Command error (bad input, cache unreachable, etc.)

Examples:
  murelay send ./message.json
  murelay send --process P1 --data hello --tag Type=Message
  cat message.json | murelay send - --format json`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSend(opts, args, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.NoCrank, "no-crank", false, "process the message only, do not crank its outbox")
	cmd.Flags().StringVar(&opts.Process, "process", "", "target process id")
	cmd.Flags().StringVar(&opts.Data, "data", "", "message data")
	cmd.Flags().StringVar(&opts.Owner, "owner", "", "message owner")
	cmd.Flags().StringArrayVar(&opts.Tags, "tag", nil, "message tag as name=value (repeatable)")

	return cmd
}

func runSend(opts *SendOptions, args []string, cmd *cobra.Command) error {
	out := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	msg, err := readMessage(opts, args, cmd.InOrStdin())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read message", err)
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
	ctx, cancel := context.WithTimeout(ctx, cfg.RequestTimeout)
	defer cancel()

	r, err := openRelay(ctx, cfg, relayOptions{ids: opts.IDGenerator})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open relay", err)
	}
	defer r.Close()

	out.VerboseLog("sending message to process %s", msg.ProcessID)

	if opts.NoCrank {
		outcome, err := r.proc.Initiate(ctx, msg)
		if err != nil {
			out.Error(err, nil)
			return pipelineExit("message failed", err)
		}
		return out.Success(outcome, func(w io.Writer) {
			fmt.Fprintf(w, "tx %s (seq %d)\n", outcome.Tx.TxID, outcome.Tx.SequenceNumber)
			fmt.Fprintf(w, "outbox: %d\n", len(outcome.Outbox))
			for _, m := range outcome.Outbox {
				fmt.Fprintf(w, "  - %s -> %s\n", shortID(m.ID), m.ProcessID)
			}
		})
	}

	res, err := r.cranker.Run(ctx, msg)
	if err != nil {
		out.Error(err, nil)
		return pipelineExit("message failed", err)
	}
	return finishCrank(out, res)
}

// finishCrank prints res and maps its status to an exit code.
func finishCrank(out *OutputFormatter, res *engine.CrankResult) error {
	if err := out.Success(res, func(w io.Writer) { renderCrank(w, res) }); err != nil {
		return WrapExitError(ExitCommandError, "failed to write output", err)
	}
	if res.Status != engine.CrankOK {
		return NewExitError(ExitFailure, fmt.Sprintf("crank %s finished %s", res.CrankID, res.Status))
	}
	return nil
}

// readMessage loads the message from a file, stdin or flags.
func readMessage(opts *SendOptions, args []string, stdin io.Reader) (ir.Message, error) {
	if len(args) == 0 {
		if opts.Process == "" {
			return ir.Message{}, fmt.Errorf("give a message file, - for stdin, or --process")
		}
		msg := ir.Message{ProcessID: opts.Process, Data: opts.Data, Owner: opts.Owner, Tags: []ir.Tag{}}
		for _, t := range opts.Tags {
			name, value, ok := strings.Cut(t, "=")
			if !ok || name == "" {
				return ir.Message{}, fmt.Errorf("tag %q must be name=value", t)
			}
			msg.Tags = append(msg.Tags, ir.Tag{Name: name, Value: value})
		}
		return msg, nil
	}

	var (
		data []byte
		err  error
	)
	if args[0] == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(args[0])
	}
	if err != nil {
		return ir.Message{}, err
	}

	var msg ir.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return ir.Message{}, fmt.Errorf("invalid message JSON: %w", err)
	}
	return msg, nil
}
