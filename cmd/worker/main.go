// Command worker runs the ingestion task queue's claim/process/mark-*
// loop (spec 4.C): poll for the next ready task, lease it, run it
// through the ingestion pipeline, and mark it succeeded, retried, or
// dead-lettered once its attempts are exhausted.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/perstarkse/minnego/internal/apperr"
	"github.com/perstarkse/minnego/internal/config"
	"github.com/perstarkse/minnego/internal/embedding"
	"github.com/perstarkse/minnego/internal/ingest"
	"github.com/perstarkse/minnego/internal/llmclient"
	"github.com/perstarkse/minnego/internal/queue"
	"github.com/perstarkse/minnego/internal/store/postgres"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	var showVersion bool
	flag.BoolVar(&showVersion, "version", false, "print version information and exit")
	flag.Parse()

	if showVersion {
		fmt.Println("minne worker dev build")
		return
	}

	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	embedder := buildEmbeddingProvider(cfg)

	connectCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	st, err := postgres.New(connectCtx, cfg.Database.URL, cfg.Database.MaxConnections, embedder.Dimension())
	cancel()
	if err != nil {
		log.Fatalf("failed to connect store: %v", err)
	}
	defer st.Close()

	q, err := queue.New(context.Background(), st.Pool())
	if err != nil {
		log.Fatalf("failed to initialize task queue: %v", err)
	}

	var chatClient, visionClient llmclient.Client
	if host := os.Getenv("LLM_BASE_URL"); host != "" {
		chatClient = llmclient.NewClient(host, os.Getenv("LLM_API_KEY"), envOr("LLM_MODEL", cfg.Ollama.Model), 120*time.Second)
	}
	if host := os.Getenv("VISION_BASE_URL"); host != "" {
		visionClient = llmclient.NewClient(host, os.Getenv("VISION_API_KEY"), envOr("VISION_MODEL", cfg.Ollama.Model), 180*time.Second)
	}

	ingestCfg := ingest.DefaultConfig()
	pipeline := ingest.NewPipeline(st, embedder, chatClient, visionClient, nil, ingestCfg)

	workerID := envOr("WORKER_ID", uuid.NewString())
	log.Printf("starting worker %s (poll interval: %ds)", workerID, cfg.Queue.PollInterval)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runLoop(ctx, q, pipeline, workerID, cfg.Queue)

	log.Println("worker stopped")
}

// runLoop polls for ready tasks until ctx is cancelled, processing at
// most one task per iteration before polling again.
func runLoop(ctx context.Context, q queue.WorkQueue, pipeline *ingest.Pipeline, workerID string, qcfg config.QueueConfig) {
	pollInterval := time.Duration(qcfg.PollInterval) * time.Second
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		task, err := q.ClaimNextReady(ctx, workerID, time.Now().UTC(), time.Duration(qcfg.DefaultLeaseSecs)*time.Second)
		if err != nil {
			log.Printf("claim error: %v", err)
			sleepOrDone(ctx, pollInterval)
			continue
		}
		if task == nil {
			sleepOrDone(ctx, pollInterval)
			continue
		}

		processTask(ctx, q, pipeline, *task)
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// processTask runs one claimed task through the ingestion pipeline,
// marking it succeeded, retried with exponential backoff, or
// dead-lettered once its attempts are exhausted.
func processTask(ctx context.Context, q queue.WorkQueue, pipeline *ingest.Pipeline, task queue.Task) {
	processing, err := q.MarkProcessing(ctx, task)
	if err != nil {
		log.Printf("task %s: mark processing failed: %v", task.ID, err)
		return
	}

	_, runErr := pipeline.Run(ctx, processing.Content)
	if runErr == nil {
		if _, err := q.MarkSucceeded(ctx, processing); err != nil {
			log.Printf("task %s: mark succeeded failed: %v", task.ID, err)
		}
		log.Printf("task %s: succeeded", task.ID)
		return
	}

	errInfo := queue.ErrorInfo{Code: string(apperr.KindOf(runErr)), Message: runErr.Error()}

	if !processing.CanRetry() {
		if _, err := q.MarkFailed(ctx, processing, errInfo, 0); err != nil {
			log.Printf("task %s: mark failed (pre-deadletter) failed: %v", task.ID, err)
			return
		}
		failed := processing
		failed.State = queue.TaskFailed
		if _, err := q.MarkDeadLetter(ctx, failed, errInfo); err != nil {
			log.Printf("task %s: mark dead letter failed: %v", task.ID, err)
		}
		log.Printf("task %s: dead-lettered after %d attempts: %v", task.ID, processing.Attempts, runErr)
		return
	}

	delay := retryBackoff(processing.Attempts)
	if _, err := q.MarkFailed(ctx, processing, errInfo, delay); err != nil {
		log.Printf("task %s: mark failed failed: %v", task.ID, err)
		return
	}
	log.Printf("task %s: failed (attempt %d/%d), retrying in %s: %v", task.ID, processing.Attempts, processing.MaxAttempts, delay, runErr)
}

// retryBackoff is an exponential backoff capped at 5 minutes:
// 2^attempts seconds, mirroring the queue's lease-based retry model
// without a fixed schedule file.
func retryBackoff(attempts uint32) time.Duration {
	const maxDelay = 5 * time.Minute
	secs := math.Pow(2, float64(attempts))
	delay := time.Duration(secs) * time.Second
	if delay > maxDelay {
		return maxDelay
	}
	return delay
}

func buildEmbeddingProvider(cfg config.Config) embedding.Provider {
	switch cfg.Embed.Backend {
	case "remote":
		return embedding.NewRemote(cfg.Ollama.Host, os.Getenv("EMBEDDING_API_KEY"), cfg.Embed.Model, cfg.Embed.Dimension, 90*time.Second)
	case "hashed":
		return embedding.NewHashed(cfg.Embed.Dimension)
	default:
		return embedding.NewLocal(cfg.Ollama.Host, cfg.Embed.Model, cfg.Embed.Dimension, 90*time.Second)
	}
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}
