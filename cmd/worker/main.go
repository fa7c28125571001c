// Package main implements the memkit background worker: a NATS consumer
// that drains batched `add` requests into the Memory Pipeline off the
// request path, with retry-count headers and a dead-letter subject for
// batches that exhaust retries.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/memkit/memkit/engine/domain"
	"github.com/memkit/memkit/engine/embedder"
	"github.com/memkit/memkit/engine/filter"
	"github.com/memkit/memkit/engine/graph"
	"github.com/memkit/memkit/engine/pipeline"
	"github.com/memkit/memkit/engine/semantic"
	"github.com/memkit/memkit/pkg/metrics"
	"github.com/memkit/memkit/pkg/natsutil"
	"github.com/nats-io/nats.go"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

const (
	// AddSubject carries batches of pending `add` requests.
	AddSubject = "memkit.memories.add"
	// DLQSubject receives batches that exhausted MaxRetries.
	DLQSubject = "memkit.memories.add.dlq"
	// CreatedSubject announces successfully created memory ids.
	CreatedSubject = "memkit.memories.created"
	// MaxRetries bounds how many times a failed sub-batch is re-queued.
	MaxRetries = 3
)

// AddItem is one queued creation request, mirroring pipeline.CreateRequest
// in wire form.
type AddItem struct {
	Content    string         `json:"content"`
	UserID     string         `json:"userId"`
	SessionID  string         `json:"sessionId,omitempty"`
	AgentID    string         `json:"agentId,omitempty"`
	Type       string         `json:"type,omitempty"`
	Importance int            `json:"importance,omitempty"`
	Tags       []string       `json:"tags,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

func (i AddItem) toCreateRequest() pipeline.CreateRequest {
	return pipeline.CreateRequest{
		Content:    i.Content,
		UserID:     i.UserID,
		SessionID:  i.SessionID,
		AgentID:    i.AgentID,
		Type:       domain.MemoryType(i.Type),
		Importance: domain.Importance(i.Importance),
		Tags:       i.Tags,
		Metadata:   i.Metadata,
	}
}

type dlqMessage struct {
	Items   []AddItem `json:"items"`
	Errors  []string  `json:"errors"`
	Retries int       `json:"retries"`
}

type Config struct {
	NATSUrl       string
	MetricsAddr   string
	VectorBackend string
	QdrantAddr    string
	Collection    string
	GraphBackend  string
	Neo4jURL      string
	Neo4jUser     string
	Neo4jPass     string
}

func loadConfig() Config {
	return Config{
		NATSUrl:       envOr("NATS_URL", nats.DefaultURL),
		MetricsAddr:   envOr("WORKER_METRICS_ADDR", ":9090"),
		VectorBackend: envOr("VECTOR_BACKEND", "inprocess"),
		QdrantAddr:    envOr("QDRANT_ADDR", "localhost:6334"),
		Collection:    envOr("MEMORY_COLLECTION", "memories"),
		GraphBackend:  envOr("GRAPH_BACKEND", "inprocess"),
		Neo4jURL:      envOr("NEO4J_URL", "neo4j://localhost:7687"),
		Neo4jUser:     envOr("NEO4J_USER", "neo4j"),
		Neo4jPass:     envOr("NEO4J_PASS", "password"),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg := loadConfig()
	if err := run(cfg, logger); err != nil {
		logger.Error("worker exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	nc, err := nats.Connect(cfg.NATSUrl)
	if err != nil {
		return fmt.Errorf("connect nats: %w", err)
	}
	defer nc.Close()

	embedProvider := embedder.New(embedder.DefaultConfig())

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
	pl := pipeline.New(pipeline.DefaultConfig(), embedProvider, vectorStore, graphStore, monitor, logger)
	defer func() { _ = pl.Shutdown(context.Background()) }()

	sub, err := startConsumer(nc, pl, logger)
	if err != nil {
		return fmt.Errorf("start consumer: %w", err)
	}
	defer sub.Unsubscribe()

	metricsMux := http.NewServeMux()
	metricsMux.Handle("GET /metrics", registry.Handler())
	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("worker: metrics server failed", "error", err)
		}
	}()
	defer func() { _ = metricsSrv.Shutdown(context.Background()) }()

	logger.Info("worker started", "subject", AddSubject, "metricsAddr", cfg.MetricsAddr)
	<-ctx.Done()
	logger.Info("shutdown signal received")
	return nil
}

// batchOutcome is the result of processing one inbound batch: the ids
// that were created, and — if any items failed — either a re-queued
// batch (retries below MaxRetries) or a DLQ batch (retries exhausted).
type batchOutcome struct {
	CreatedIDs []string
	Retry      *retryBatch
	DLQ        *dlqMessage
}

type retryBatch struct {
	Items   []AddItem
	Retries int
}

// processBatch runs items through create and classifies the per-item
// failures into a retry or DLQ outcome. It has no NATS dependency so it
// can be tested without a broker.
func processBatch(items []AddItem, retries int, create func([]AddItem) ([]*string, []error)) batchOutcome {
	ids, errs := create(items)

	var failedItems []AddItem
	var failedErrs []string
	var createdIDs []string
	for i, id := range ids {
		if id != nil {
			createdIDs = append(createdIDs, *id)
			continue
		}
		failedItems = append(failedItems, items[i])
		if errs[i] != nil {
			failedErrs = append(failedErrs, errs[i].Error())
		} else {
			failedErrs = append(failedErrs, "unknown error")
		}
	}

	outcome := batchOutcome{CreatedIDs: createdIDs}
	if len(failedItems) == 0 {
		return outcome
	}

	retries++
	if retries >= MaxRetries {
		outcome.DLQ = &dlqMessage{Items: failedItems, Errors: failedErrs, Retries: retries}
		return outcome
	}
	outcome.Retry = &retryBatch{Items: failedItems, Retries: retries}
	return outcome
}

// startConsumer subscribes to AddSubject, runs each batch through
// pipeline.CreateBatch, and re-queues or DLQs the failed subset.
func startConsumer(nc *nats.Conn, pl *pipeline.Pipeline, logger *slog.Logger) (*nats.Subscription, error) {
	return nc.Subscribe(AddSubject, func(msg *nats.Msg) {
		var items []AddItem
		if err := json.Unmarshal(msg.Data, &items); err != nil {
			logger.Error("worker: unmarshal failed", "error", err)
			return
		}

		retries := 0
		if msg.Header != nil {
			if v := msg.Header.Get("X-Retry-Count"); v != "" {
				retries, _ = strconv.Atoi(v)
			}
		}

		ctx := context.Background()
		outcome := processBatch(items, retries, func(batch []AddItem) ([]*string, []error) {
			reqs := make([]pipeline.CreateRequest, len(batch))
			for i, it := range batch {
				reqs[i] = it.toCreateRequest()
			}
			return pl.CreateBatch(ctx, reqs)
		})

		if len(outcome.CreatedIDs) > 0 {
			if err := natsutil.Publish(ctx, nc, CreatedSubject, outcome.CreatedIDs); err != nil {
				logger.Warn("worker: publish created ids failed", "error", err)
			}
		}

		switch {
		case outcome.DLQ != nil:
			logger.Error("worker: batch exhausted retries, routing to DLQ", "count", len(outcome.DLQ.Items))
			if err := natsutil.Publish(ctx, nc, DLQSubject, outcome.DLQ); err != nil {
				logger.Error("worker: DLQ publish failed", "error", err)
			}
		case outcome.Retry != nil:
			logger.Warn("worker: sub-batch had failures, re-queueing", "count", len(outcome.Retry.Items), "retry", outcome.Retry.Retries)
			data, err := json.Marshal(outcome.Retry.Items)
			if err != nil {
				logger.Error("worker: marshal retry batch failed", "error", err)
				return
			}
			retryMsg := &nats.Msg{Subject: AddSubject, Data: data, Header: nats.Header{}}
			retryMsg.Header.Set("X-Retry-Count", strconv.Itoa(outcome.Retry.Retries))
			if err := nc.PublishMsg(retryMsg); err != nil {
				logger.Error("worker: re-publish failed", "error", err)
			}
		}
	})
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
