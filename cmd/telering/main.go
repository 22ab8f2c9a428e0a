package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/yanet-platform/telering/common/go/logging"
	"github.com/yanet-platform/telering/common/go/xcmd"
	"github.com/yanet-platform/telering/pipeline"
)

var cmd Cmd

// Cmd is the command line arguments.
type Cmd struct {
	// ConfigPath is the path to the configuration file.
	ConfigPath string
}

var rootCmd = &cobra.Command{
	Use:   "telering",
	Short: "Telemetry pump over a shared-memory framed ring buffer",
	Run: func(rawCmd *cobra.Command, _ []string) {
		if err := run(cmd); err != nil {
			if xcmd.IsInterrupted(err) {
				return
			}

			fmt.Printf("ERROR: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.Flags().StringVarP(&cmd.ConfigPath, "config", "c", "", "Path to the configuration file (defaults apply if omitted)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd Cmd) error {
	cfg := pipeline.DefaultConfig()
	if cmd.ConfigPath != "" {
		var err error
		if cfg, err = pipeline.LoadConfig(cmd.ConfigPath); err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
	}

	log, _, err := logging.Init(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer log.Sync()

	sink := &pipeline.CountingSink{}
	p, err := pipeline.NewPipeline(cfg, sink, pipeline.WithLog(log))
	if err != nil {
		return fmt.Errorf("failed to initialize pipeline: %w", err)
	}
	defer p.Close()

	log.Infow("starting pump",
		zap.Stringer("capacity", p.Buffer().Capacity()),
		zap.Int("producers", cfg.Pump.Producers),
		zap.Int("messages", cfg.Pump.Messages),
		zap.Stringer("payload_size", cfg.Pump.PayloadSize),
	)

	started := time.Now()

	ctx := context.Background()
	wg, ctx := errgroup.WithContext(ctx)
	wg.Go(func() error {
		return p.Run(ctx)
	})
	wg.Go(func() error {
		err := xcmd.WaitInterrupted(ctx)
		log.Infof("caught signal: %v", err)
		return err
	})

	err = wg.Wait()

	elapsed := time.Since(started)
	stats := p.Buffer().Stats()
	log.Infow("pump finished",
		zap.Duration("elapsed", elapsed),
		zap.Uint64("messages_written", stats.MessagesWritten),
		zap.Uint64("messages_read", stats.MessagesRead),
		zap.Stringer("bytes_written", datasize.ByteSize(stats.BytesWritten)),
		zap.Stringer("bytes_read", datasize.ByteSize(stats.BytesRead)),
		zap.Uint64("write_errors", stats.WriteErrors),
		zap.Uint64("read_errors", stats.ReadErrors),
		zap.Uint64("backpressure_events", stats.BackpressureEvents),
		zap.Uint64("records_delivered", sink.Records),
	)

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
