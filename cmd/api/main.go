// Package main implements the memkit API server: the HTTP surface over
// the Memory Pipeline, Hybrid Search, and Hierarchy Manager.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/memkit/memkit/engine/embedder"
	"github.com/memkit/memkit/engine/exec"
	"github.com/memkit/memkit/engine/filter"
	"github.com/memkit/memkit/engine/graph"
	"github.com/memkit/memkit/engine/hierarchy"
	"github.com/memkit/memkit/engine/hybrid"
	"github.com/memkit/memkit/engine/pipeline"
	"github.com/memkit/memkit/engine/semantic"
	"github.com/memkit/memkit/pkg/metrics"
	"github.com/memkit/memkit/pkg/mid"
	"github.com/memkit/memkit/pkg/ollama"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Config holds all environment-based configuration.
type Config struct {
	Port       string
	CORSOrigin string

	VectorBackend string // "inprocess" | "qdrant"
	QdrantAddr    string
	Collection    string

	GraphBackend string // "inprocess" | "neo4j"
	Neo4jURL     string
	Neo4jUser    string
	Neo4jPass    string

	EmbedderBackend string // "tfidf" | "ollama"
	OllamaURL       string
	OllamaModel     string
	OllamaDimension int
}

func loadConfig() Config {
	return Config{
		Port:            envOr("PORT", "8080"),
		CORSOrigin:      envOr("CORS_ORIGIN", "*"),
		VectorBackend:   envOr("VECTOR_BACKEND", "inprocess"),
		QdrantAddr:      envOr("QDRANT_ADDR", "localhost:6334"),
		Collection:      envOr("MEMORY_COLLECTION", "memories"),
		GraphBackend:    envOr("GRAPH_BACKEND", "inprocess"),
		Neo4jURL:        envOr("NEO4J_URL", "neo4j://localhost:7687"),
		Neo4jUser:       envOr("NEO4J_USER", "neo4j"),
		Neo4jPass:       envOr("NEO4J_PASS", "password"),
		EmbedderBackend: envOr("EMBEDDER_BACKEND", "tfidf"),
		OllamaURL:       envOr("OLLAMA_URL", "http://localhost:11434"),
		OllamaModel:     envOr("OLLAMA_MODEL", "nomic-embed-text"),
		OllamaDimension: envOrInt("OLLAMA_DIMENSION", 768),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg := loadConfig()

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

// app bundles the wired engines the HTTP handlers operate on.
type app struct {
	cfg       Config
	pipeline  *pipeline.Pipeline
	hybrid    *hybrid.Engine
	hierarchy *hierarchy.Manager
	exec      *exec.Manager
	index     *semantic.Index
	live      *liveIndex
	registry  *metrics.Registry
	log       *slog.Logger
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	embedProvider, closeEmbedder, err := buildEmbedder(cfg)
	if err != nil {
		return err
	}
	defer closeEmbedder()

	vectorStore, closeVector, err := buildVectorStore(ctx, cfg, embedProvider.Dimension())
	if err != nil {
		return err
	}
	defer closeVector()

	graphStore, closeGraph, err := buildGraphStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeGraph()

	registry := metrics.New()
	monitor := filter.NewMonitor(registry)

	pcfg := pipeline.DefaultConfig()
	pcfg.Collection = cfg.Collection
	pl := pipeline.New(pcfg, embedProvider, vectorStore, graphStore, monitor, logger)
	defer func() {
		shutCtx, cancel := context.WithTimeout(context.Background(), pcfg.ShutdownDrainTimeout)
		defer cancel()
		if err := pl.Shutdown(shutCtx); err != nil {
			logger.Error("pipeline shutdown", "err", err)
		}
	}()

	idx := semantic.New(embedProvider, nil)
	hybridEngine := hybrid.New(idx, hybrid.DefaultOptions())
	hierarchyMgr := hierarchy.New()
	execMgr := exec.New()
	defer execMgr.Shutdown()

	application := &app{
		cfg:       cfg,
		pipeline:  pl,
		hybrid:    hybridEngine,
		hierarchy: hierarchyMgr,
		exec:      execMgr,
		index:     idx,
		live:      newLiveIndex(),
		registry:  registry,
		log:       logger,
	}

	mux := http.NewServeMux()
	application.registerRoutes(mux)

	handler := mid.Chain(mux,
		mid.Recover(logger),
		mid.Logger(logger),
		mid.CORS(cfg.CORSOrigin),
	)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "port", cfg.Port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}

func buildEmbedder(cfg Config) (pipeline.EmbeddingProvider, func(), error) {
	switch cfg.EmbedderBackend {
	case "ollama":
		c := ollama.NewEmbedClient(cfg.OllamaURL, cfg.OllamaModel, cfg.OllamaDimension)
		return c, func() { _ = c.Close() }, nil
	default:
		e := embedder.New(embedder.DefaultConfig())
		return e, func() { _ = e.Close() }, nil
	}
}

func buildVectorStore(ctx context.Context, cfg Config, dim int) (semantic.VectorStore, func(), error) {
	switch cfg.VectorBackend {
	case "qdrant":
		store, err := semantic.NewQdrantVectorStore(cfg.QdrantAddr)
		if err != nil {
			return nil, func() {}, err
		}
		if err := store.CreateCollection(ctx, cfg.Collection, dim); err != nil {
			return nil, func() {}, err
		}
		return store, func() { _ = store.Close() }, nil
	default:
		store := semantic.NewInProcessVectorStore()
		if err := store.CreateCollection(ctx, cfg.Collection, dim); err != nil {
			return nil, func() {}, err
		}
		return store, func() {}, nil
	}
}

func buildGraphStore(ctx context.Context, cfg Config) (graph.GraphStore, func(), error) {
	switch cfg.GraphBackend {
	case "neo4j":
		driver, err := neo4j.NewDriverWithContext(cfg.Neo4jURL, neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPass, ""))
		if err != nil {
			return nil, func() {}, err
		}
		return graph.NewNeo4jGraphStore(driver), func() { _ = driver.Close(ctx) }, nil
	default:
		return graph.New(), func() {}, nil
	}
}
