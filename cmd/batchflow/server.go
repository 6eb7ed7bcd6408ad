package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/batchflow"
	"github.com/BaSui01/batchflow/config"
	"github.com/BaSui01/batchflow/internal/server"
	"github.com/BaSui01/batchflow/internal/telemetry"
	"github.com/BaSui01/batchflow/types"
)

// Server hosts the engine behind an HTTP surface: unit ingestion, flush,
// stats, performance summary, health, and prometheus metrics.
type Server struct {
	cfg    *config.Config
	logger *zap.Logger
	engine *batchflow.Engine

	httpManager   *server.Manager
	otelProviders *telemetry.Providers

	startedAt time.Time
}

// NewServer assembles the engine and the HTTP manager. The engine's
// processing callback logs each executed batch; real deployments replace it
// by embedding the engine directly.
func NewServer(cfg *config.Config, logger *zap.Logger, otel *telemetry.Providers, engineOpts ...batchflow.Option) (*Server, error) {
	s := &Server{
		cfg:           cfg,
		logger:        logger,
		otelProviders: otel,
		startedAt:     time.Now(),
	}

	opts := append([]batchflow.Option{
		batchflow.WithConfig(cfg),
		batchflow.WithLogger(logger),
	}, engineOpts...)
	engine, err := batchflow.New(s.processBatch, opts...)
	if err != nil {
		return nil, fmt.Errorf("create engine: %w", err)
	}
	s.engine = engine

	s.httpManager = server.NewManager(s.routes(), server.Config{
		Addr:            fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     120 * time.Second,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, logger)

	return s, nil
}

// processBatch is the default sink: it logs the batch contents at debug
// level.
func (s *Server) processBatch(_ context.Context, units []*types.Unit) error {
	s.logger.Debug("processing batch",
		zap.Int("units", len(units)),
		zap.String("partition", units[0].Partition),
		zap.Int("top_priority", units[0].Priority),
	)
	return nil
}

// Start begins serving HTTP.
func (s *Server) Start() error {
	if err := s.httpManager.Start(); err != nil {
		return err
	}
	s.logger.Info("server started", zap.Int("http_port", s.cfg.Server.HTTPPort))
	return nil
}

// WaitForShutdown blocks until a signal, then drains the engine and the
// HTTP server.
func (s *Server) WaitForShutdown() {
	s.httpManager.WaitForShutdown()

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := s.engine.Shutdown(ctx); err != nil {
		s.logger.Error("engine shutdown failed", zap.Error(err))
	}
	if err := s.otelProviders.Shutdown(ctx); err != nil {
		s.logger.Warn("telemetry shutdown failed", zap.Error(err))
	}
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /v1/units", s.handleAcceptUnit)
	mux.HandleFunc("POST /v1/flush", s.handleFlush)
	mux.HandleFunc("GET /v1/stats", s.handleStats)
	mux.HandleFunc("GET /v1/summary", s.handleSummary)
	mux.HandleFunc("GET /v1/recommendations", s.handleRecommendations)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": Version,
		"uptime":  time.Since(s.startedAt).String(),
	})
}

func (s *Server) handleAcceptUnit(w http.ResponseWriter, r *http.Request) {
	var u types.Unit
	if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid body: %v", err))
		return
	}
	if u.ArrivedAt.IsZero() {
		u.ArrivedAt = time.Now()
	}

	ctx, span := s.otelProviders.Tracer().Start(r.Context(), "batchflow.accept",
		trace.WithAttributes(attribute.String("batchflow.partition", u.Partition)))
	defer span.End()

	res, err := s.engine.Accept(ctx, &u)
	if err != nil {
		span.RecordError(err)
		switch types.GetErrorCode(err) {
		case types.ErrInvalidUnit:
			writeError(w, http.StatusBadRequest, err.Error())
		case types.ErrExecutorSaturated:
			writeError(w, http.StatusTooManyRequests, err.Error())
		case types.ErrManagerClosed:
			writeError(w, http.StatusServiceUnavailable, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	span.SetAttributes(
		attribute.Bool("batchflow.bypassed", res.Bypassed),
		attribute.Int("batchflow.priority", res.Priority),
	)
	writeJSON(w, http.StatusAccepted, res)
}

func (s *Server) handleFlush(w http.ResponseWriter, r *http.Request) {
	ctx, span := s.otelProviders.Tracer().Start(r.Context(), "batchflow.flush_all")
	defer span.End()

	res := s.engine.FlushAll(ctx)
	span.SetAttributes(
		attribute.Int("batchflow.batches_flushed", res.BatchesFlushed),
		attribute.Int("batchflow.failed", res.Failed),
	)
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Stats())
}

func (s *Server) handleSummary(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Summary())
}

func (s *Server) handleRecommendations(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"recommendations": s.engine.Recommendations(),
		"suggestions":     s.engine.Suggestions(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
