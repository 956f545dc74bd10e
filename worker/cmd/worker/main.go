// Command worker runs the transcode pipeline and the maintenance tasks of
// the server from the command line, without the HTTP layer.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"videoLabeler/storage/sidecar"
	"videoLabeler/worker/config"
	"videoLabeler/worker/housekeeping"
	"videoLabeler/worker/pool"
	"videoLabeler/worker/registry"
	"videoLabeler/worker/transcoder"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	fs := flag.NewFlagSet("worker", flag.ExitOnError)
	input := fs.String("input", "", "Video to transcode")
	output := fs.String("output", "", "Transcoded output path")
	sweepDir := fs.String("sweep", "", "Remove stale files from this uploads directory")
	migrateDir := fs.String("migrate", "", "Migrate legacy sidecars under this project data directory")
	verbose := fs.Bool("verbose", false, "Enable development logging")
	fs.Parse(os.Args[1:])

	var logger *zap.Logger
	if *verbose {
		logger, _ = zap.NewDevelopment()
	} else {
		logger, _ = zap.NewProduction()
	}
	defer logger.Sync()

	if *sweepDir != "" {
		housekeeping.NewSweeper(*sweepDir, cfg.UploadRetention, logger).Sweep()
	}

	if *migrateDir != "" {
		n, err := sidecar.MigrateLegacy(*migrateDir, logger)
		logger.Info("Migration finished", zap.Int("migrated", n), zap.Error(err))
		if err != nil {
			os.Exit(1)
		}
	}

	if *input == "" {
		if *sweepDir == "" && *migrateDir == "" {
			fs.Usage()
			os.Exit(2)
		}
		return
	}
	if *output == "" {
		fmt.Fprintln(os.Stderr, "-output is required with -input")
		os.Exit(2)
	}

	if err := transcodeOne(cfg, logger, *input, *output); err != nil {
		logger.Error("Transcode failed", zap.Error(err))
		os.Exit(1)
	}
}

// transcodeOne runs a single job through the same registry and pool the
// server uses and logs its progress until it finishes.
func transcodeOne(cfg *config.Config, logger *zap.Logger, input, output string) error {
	reg := registry.New()
	tr := transcoder.New(transcoder.Config{
		FFmpegPath:  cfg.FFmpegPath,
		FFprobePath: cfg.FFprobePath,
	}, reg, pool.NewWorkerPool(1), logger, transcoder.WithKeepInput())

	key := filepath.Base(input)
	job, _ := tr.Start(key, input, output)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-job.Done():
			st := reg.GetOrCreate(key)
			if st.TranscodeStatus == registry.TranscodeError && st.Error != nil {
				return fmt.Errorf("%s", *st.Error)
			}
			return nil
		case <-ticker.C:
			st := reg.GetOrCreate(key)
			logger.Info("Progress",
				zap.String("status", string(st.TranscodeStatus)),
				zap.Intp("frames_done", st.FramesDone),
				zap.Intp("total_frames", st.TotalFrames),
			)
		}
	}
}
