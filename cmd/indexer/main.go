package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/timmy/motionmatch/internal/app"
	"github.com/timmy/motionmatch/internal/config"
	"github.com/timmy/motionmatch/internal/domain"
	"github.com/timmy/motionmatch/internal/logger"
	"github.com/timmy/motionmatch/internal/service"
	"github.com/timmy/motionmatch/internal/source"
)

func main() {
	configPath := flag.String("config", "", "Path to config file")
	videoPath := flag.String("path", "", "Index a single video file")
	videoID := flag.String("id", "", "Video ID for -path (derived from the path when empty)")
	title := flag.String("title", "", "Title for -path")
	tags := flag.String("tags", "", "Comma-separated tags for -path")
	dir := flag.String("dir", "", "Index every matching video under a directory")
	patterns := flag.String("patterns", "", "Comma-separated file patterns for -dir (default: all allowed formats)")
	recursive := flag.Bool("recursive", false, "Descend into subdirectories of -dir")
	manifest := flag.String("manifest", "", "Index the videos listed in a JSON manifest")
	deleteID := flag.String("delete", "", "Remove a video from the index")
	showStats := flag.Bool("stats", false, "Print index statistics")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("Failed to load config: %v", err)
	}
	log := app.NewLogger(&cfg.Log, "motionmatch-indexer")
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize services")
	}
	defer a.Close()

	switch {
	case *videoPath != "":
		res, err := a.Indexer.IndexVideo(ctx, source.VideoItem{
			VideoID: *videoID,
			Path:    *videoPath,
			Title:   *title,
			Tags:    splitList(*tags),
		})
		if err != nil {
			log.WithError(err).WithField("path", *videoPath).Fatal("Failed to index video")
		}
		log.WithFields(logger.Fields{
			"video_id": res.VideoID,
			"reused":   res.Reused,
			"attempts": res.Attempts,
		}).Info("Video indexed")

	case *dir != "" || *manifest != "":
		job := runBatch(ctx, a, log, service.BatchRequest{
			Directory: *dir,
			Patterns:  splitList(*patterns),
			Recursive: *recursive,
			Manifest:  *manifest,
		})
		fields := logger.Fields{
			"job_id":    job.ID,
			"status":    job.Status,
			"total":     job.Total,
			"succeeded": job.Succeeded,
			"failed":    len(job.FailedItems),
		}
		if job.FailureReason != "" {
			fields["reason"] = job.FailureReason
		}
		for _, item := range job.FailedItems {
			log.WithFields(logger.Fields{
				"path":     item.Path,
				"kind":     item.Kind,
				"attempts": item.Attempts,
			}).Warn(item.Message)
		}
		log.WithFields(fields).Info("Batch finished")
		if job.Status == domain.JobStatusFailed {
			os.Exit(1)
		}

	case *deleteID != "":
		if err := a.Indexer.DeleteVideo(ctx, *deleteID); err != nil {
			log.WithError(err).WithField("video_id", *deleteID).Fatal("Failed to delete video")
		}
		log.WithField("video_id", *deleteID).Info("Video deleted")

	case *showStats:
		stats, err := a.Stats.Stats(ctx)
		if err != nil {
			log.WithError(err).Fatal("Failed to collect stats")
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(stats); err != nil {
			log.WithError(err).Fatal("Failed to write stats")
		}

	default:
		flag.Usage()
		os.Exit(2)
	}
}

// runBatch submits the batch, runs the scheduler and waits for a terminal
// status. The first interrupt cancels the job; items in flight still finish.
func runBatch(ctx context.Context, a *app.App, log *logger.Logger, req service.BatchRequest) *domain.IndexJob {
	runCtx, stopRun := context.WithCancel(ctx)
	defer stopRun()
	done := make(chan struct{})
	go func() {
		defer close(done)
		a.Indexer.Run(runCtx)
	}()
	defer func() { <-done }()

	handle, err := a.Indexer.SubmitBatch(ctx, req)
	if err != nil {
		log.WithError(err).Fatal("Failed to submit batch")
	}
	log.WithFields(logger.Fields{
		"job_id": handle.JobID,
		"total":  handle.TotalVideos,
	}).Info("Batch submitted")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	lastCompleted := -1
	for {
		select {
		case <-sigChan:
			log.Info("Received shutdown signal, cancelling job...")
			if _, err := a.Indexer.CancelJob(ctx, handle.JobID); err != nil {
				log.WithError(err).Warn("Failed to cancel job")
			}
		case <-ticker.C:
		}

		job, err := a.Indexer.GetJob(handle.JobID)
		if err != nil {
			log.WithError(err).Fatal("Lost track of job")
		}
		if job.Status.Terminal() {
			return job
		}
		if job.Completed != lastCompleted {
			lastCompleted = job.Completed
			log.WithFields(logger.Fields{
				"completed": job.Completed,
				"total":     job.Total,
			}).Info("Progress")
		}
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
