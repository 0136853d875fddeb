// File: cmd/replay.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/invisinsights/internal/config"
	"github.com/xkilldash9x/invisinsights/internal/observability"
	"github.com/xkilldash9x/invisinsights/internal/replay"
	"github.com/xkilldash9x/invisinsights/internal/signal"
	"github.com/xkilldash9x/invisinsights/internal/storage"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type replayOptions struct {
	follow bool
	dryRun bool
	flush  bool
	pretty bool
}

func newReplayCmd() *cobra.Command {
	var opts replayOptions

	replayCmd := &cobra.Command{
		Use:   "replay <events.jsonl>",
		Short: "Replay a recorded event stream through the signal engine",
		Long: `Reads a JSON Lines recording of page loads and events, runs the signal engine
on it with a simulated clock and prints one payload per finished visit.
Payloads are also delivered to the configured endpoint unless --dry-run is set.
Use "-" to read the recording from stdin.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			return runReplay(ctx, observability.GetLogger(), cfg, args[0], opts, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	replayCmd.Flags().BoolVarP(&opts.follow, "follow", "f", false, "Keep following the file as it grows")
	replayCmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "Print payloads without delivering them")
	replayCmd.Flags().BoolVar(&opts.flush, "flush", false, "Flush visits that end without an exit event")
	replayCmd.Flags().BoolVar(&opts.pretty, "pretty", false, "Indent printed payloads")
	replayCmd.Flags().String("project-key", "", "Project key (overrides config and page records)")
	replayCmd.Flags().String("endpoint", "", "Collection endpoint payloads are delivered to")
	replayCmd.Flags().String("state-db", "", "SQLite file keeping tab storage between runs")
	replayCmd.Flags().String("tab-id", "", "Tab scope inside the state database")

	return replayCmd
}

// runReplay contains the testable core of the replay command.
func runReplay(ctx context.Context, logger *zap.Logger, cfg *config.Config, path string, opts replayOptions, stdin io.Reader, out io.Writer) error {
	tabStorage, closeStorage, err := openTabStorage(cfg.Replay, logger)
	if err != nil {
		return err
	}
	defer closeStorage()

	var transport signal.Transport
	if !opts.dryRun {
		transport = signal.NewHTTPTransport(cfg.Engine, nil)
	}

	src, closeSource, err := openSource(path, opts.follow, stdin)
	if err != nil {
		return err
	}
	defer closeSource()

	var printErr error
	player := replay.NewPlayer(cfg.Engine, tabStorage, transport, logger)
	player.FlushAtEnd = opts.flush
	player.OnVisit = func(v replay.Visit) {
		if v.Payload == nil {
			logger.Info("Visit ended without an exit event",
				zap.String("path", v.Location.Path),
				zap.Bool("inert", v.Inert),
				zap.Int("events", v.Events))
			return
		}
		if err := printPayload(out, v.Payload, opts.pretty); err != nil && printErr == nil {
			printErr = err
		}
	}

	visits, err := player.Run(ctx, src)
	if err != nil && !(opts.follow && errors.Is(err, context.Canceled)) {
		return fmt.Errorf("replay of %s failed: %w", path, err)
	}

	sent := 0
	for _, v := range visits {
		if v.Payload != nil {
			sent++
		}
	}
	logger.Info("Replay finished",
		zap.String("source", path),
		zap.Int("visits", len(visits)),
		zap.Int("payloads", sent),
		zap.Bool("dry_run", opts.dryRun))
	return printErr
}

func openTabStorage(cfg config.ReplayConfig, logger *zap.Logger) (signal.Storage, func(), error) {
	if cfg.StateDB == "" {
		return storage.NewMemory(), func() {}, nil
	}
	db, err := storage.OpenSQLite(cfg.StateDB, cfg.TabID, logger)
	if err != nil {
		return nil, nil, err
	}
	return db, func() {
		if err := db.Close(); err != nil {
			logger.Warn("Failed to close tab storage", zap.Error(err))
		}
	}, nil
}

func openSource(path string, follow bool, stdin io.Reader) (replay.Source, func(), error) {
	switch {
	case path == "-":
		if follow {
			return nil, nil, errors.New("--follow needs a file, not stdin")
		}
		return replay.NewReaderSource(stdin), func() {}, nil
	case follow:
		src, err := replay.NewTailSource(path)
		if err != nil {
			return nil, nil, err
		}
		return src, func() { _ = src.Close() }, nil
	default:
		f, err := os.Open(path)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open recording: %w", err)
		}
		return replay.NewReaderSource(f), func() { _ = f.Close() }, nil
	}
}

func printPayload(out io.Writer, p *signal.Payload, pretty bool) error {
	var (
		data []byte
		err  error
	)
	if pretty {
		data, err = json.MarshalIndent(p, "", "  ")
	} else {
		data, err = json.Marshal(p)
	}
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}
	_, err = fmt.Fprintln(out, string(data))
	return err
}
