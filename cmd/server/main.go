// Command server runs the HTTP API: ingestion enqueueing, task status,
// hybrid retrieval queries, and reference validation, backed by
// Postgres and an optional chat/rerank backend.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/perstarkse/minnego/internal/config"
	"github.com/perstarkse/minnego/internal/embedding"
	"github.com/perstarkse/minnego/internal/llmclient"
	"github.com/perstarkse/minnego/internal/queue"
	"github.com/perstarkse/minnego/internal/rerank"
	"github.com/perstarkse/minnego/internal/server"
	"github.com/perstarkse/minnego/internal/store/postgres"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	var showVersion bool
	flag.BoolVar(&showVersion, "version", false, "print version information and exit")
	flag.Parse()

	if showVersion {
		fmt.Println("minne server dev build")
		return
	}

	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	embedder := buildEmbeddingProvider(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	st, err := postgres.New(ctx, cfg.Database.URL, cfg.Database.MaxConnections, embedder.Dimension())
	if err != nil {
		log.Fatalf("failed to connect store: %v", err)
	}
	defer st.Close()

	q, err := queue.New(ctx, st.Pool())
	if err != nil {
		log.Fatalf("failed to initialize task queue: %v", err)
	}

	var chatClient llmclient.Client
	if host := os.Getenv("LLM_BASE_URL"); host != "" {
		chatClient = llmclient.NewClient(host, os.Getenv("LLM_API_KEY"), envOr("LLM_MODEL", cfg.Ollama.Model), 120*time.Second)
	}

	var rerankPool *rerank.Pool
	if host := os.Getenv("RERANK_BASE_URL"); host != "" {
		reranker := rerank.NewHTTPReranker(host, os.Getenv("RERANK_API_KEY"), os.Getenv("RERANK_MODEL"), 30*time.Second)
		rerankPool = rerank.NewPool(reranker, 4)
	}

	srv := server.New(cfg, st, q, embedder, chatClient, rerankPool)

	httpServer := &http.Server{
		Addr:    cfg.Address,
		Handler: srv,
	}

	log.Printf("starting server on %s (embedding model: %s)", cfg.Address, cfg.Embed.Model)

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server error: %v", err)
		}
	}()

	waitForShutdown(httpServer)
}

func waitForShutdown(srv *http.Server) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		if err := srv.Close(); err != nil {
			log.Printf("forced close failed: %v", err)
		}
	}

	log.Println("server stopped")
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
