package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/moveops-platform/apps/migrator/internal/app"
	"github.com/moveops-platform/apps/migrator/internal/config"
)

type globalOptions struct {
	Memory  bool
	Owner   string
	Verbose bool
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	cmd := &cobra.Command{
		Use:           "importctl",
		Short:         "Run and inspect bulk migrations from the command line",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return withCode(exitUsage, err)
	})

	flags := cmd.PersistentFlags()
	flags.BoolVar(&opts.Memory, "memory", false, "use an in-memory store instead of DATABASE_URL (nothing is persisted)")
	flags.StringVar(&opts.Owner, "owner", "", "owner id the jobs belong to")
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false, "log at debug level")

	cmd.AddCommand(newRunCmd(opts))
	cmd.AddCommand(newDryRunCmd(opts))
	cmd.AddCommand(newStatusCmd(opts))
	cmd.AddCommand(newErrorsCmd(opts))
	cmd.AddCommand(newCancelCmd(opts))
	cmd.AddCommand(newPresetsCmd())
	return cmd
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		code := exitCode(err)
		fmt.Fprintln(os.Stderr, err.Error())
		stop()
		os.Exit(code)
	}
}

// session is an open runtime plus the owner the command acts for.
type session struct {
	rt      *app.Runtime
	owner   uuid.UUID
	cleanup func()
}

func (s *session) Close() {
	s.rt.Close()
	if s.cleanup != nil {
		s.cleanup()
	}
}

func openSession(ctx context.Context, opts *globalOptions) (*session, error) {
	owner, err := parseOwner(opts)
	if err != nil {
		return nil, err
	}

	level := slog.LevelInfo
	if opts.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	var (
		cfg     config.Config
		cleanup func()
	)
	if opts.Memory {
		cfg, err = config.LoadLocal()
		if err != nil {
			return nil, withCode(exitUsage, err)
		}
		dir, err := os.MkdirTemp("", "importctl-*")
		if err != nil {
			return nil, withCode(exitFailed, fmt.Errorf("create blob dir: %w", err))
		}
		cfg.BlobstoreDriver = "local"
		cfg.BlobstoreDir = dir
		cleanup = func() { _ = os.RemoveAll(dir) }
	} else {
		cfg, err = config.Load()
		if err != nil {
			return nil, withCode(exitUsage, err)
		}
	}

	rt, err := app.NewRuntime(ctx, cfg, logger, app.RuntimeOptions{InMemory: opts.Memory})
	if err != nil {
		if cleanup != nil {
			cleanup()
		}
		return nil, withCode(exitDB, err)
	}
	return &session{rt: rt, owner: owner, cleanup: cleanup}, nil
}

func parseOwner(opts *globalOptions) (uuid.UUID, error) {
	if opts.Owner == "" {
		if opts.Memory {
			return uuid.New(), nil
		}
		return uuid.Nil, withCode(exitUsage, errors.New("--owner is required"))
	}
	owner, err := uuid.Parse(opts.Owner)
	if err != nil {
		return uuid.Nil, withCode(exitUsage, fmt.Errorf("--owner: %w", err))
	}
	return owner, nil
}

func parseJobID(arg string) (uuid.UUID, error) {
	id, err := uuid.Parse(arg)
	if err != nil {
		return uuid.Nil, withCode(exitUsage, fmt.Errorf("job id: %w", err))
	}
	return id, nil
}
