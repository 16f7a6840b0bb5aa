// Package main is the fieldsync command line tool. It runs the sync engine
// in the foreground and inspects or edits the local queue.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kimhsiao/fieldsync/backend/internal/config"
	apperrors "github.com/kimhsiao/fieldsync/backend/internal/errors"
	"github.com/kimhsiao/fieldsync/backend/internal/services"
)

// Version is set at build time
var Version = "0.1.0"

// rootOptions holds global flags for all commands.
type rootOptions struct {
	ConfigPath string
	DataDir    string
	Output     string // "text" | "json" | "yaml"
	Verbose    bool
}

// openRuntime loads configuration, applies flag overrides and wires the engine.
func (o *rootOptions) openRuntime(ctx context.Context) (*services.Runtime, error) {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return nil, err
	}
	if o.DataDir != "" {
		cfg.DataDir = o.DataDir
	}
	if o.Verbose {
		cfg.Log.Level = "debug"
	}
	return services.Open(ctx, cfg)
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "fieldsync",
		Short: "FieldSync - offline-first mutation queue",
		Long: `FieldSync records local mutations in a durable queue and pushes them to
the remote backend whenever the device is online.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Output) {
				return fmt.Errorf("invalid output %q: must be one of %v", opts.Output, validFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "config file (default ./fieldsync.yaml)")
	cmd.PersistentFlags().StringVar(&opts.DataDir, "data-dir", "", "data directory (overrides config)")
	cmd.PersistentFlags().StringVarP(&opts.Output, "output", "o", "text", "output format (text|json|yaml)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")

	cmd.AddCommand(newRunCommand(opts))
	cmd.AddCommand(newEnqueueCommand(opts))
	cmd.AddCommand(newStatusCommand(opts))
	cmd.AddCommand(newSyncCommand(opts))
	cmd.AddCommand(newClearFailedCommand(opts))
	cmd.AddCommand(newQueueCommand(opts))
	cmd.AddCommand(newVersionCommand(opts))

	return cmd
}

// exitCode maps an error to the process exit status.
func exitCode(err error) int {
	switch apperrors.CodeOf(err) {
	case apperrors.ErrInvalid, apperrors.ErrConfig, apperrors.ErrValidation:
		return 2
	default:
		return 1
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(exitCode(err))
	}
}
