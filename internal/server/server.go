package server

// Package server exposes the crop monitoring service over HTTP.
//
// Responsibilities:
//   - Route the /api/v1 REST surface onto the pipeline, the agent and the ingestor
//   - Map domain errors to HTTP status codes
//   - Serve /health, /metrics and the /ws/recommendations live feed
//   - Apply CORS, request logging and panic recovery
//   - Own the HTTP listener lifecycle

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/YasmineBenYamna/AI-Enhanced-Crop-Monitoring-and-Sensor-Based-Anomaly-Detection/internal/agent"
	"github.com/YasmineBenYamna/AI-Enhanced-Crop-Monitoring-and-Sensor-Based-Anomaly-Detection/internal/analytics"
	"github.com/YasmineBenYamna/AI-Enhanced-Crop-Monitoring-and-Sensor-Based-Anomaly-Detection/internal/audit"
	"github.com/YasmineBenYamna/AI-Enhanced-Crop-Monitoring-and-Sensor-Based-Anomaly-Detection/internal/db"
	"github.com/YasmineBenYamna/AI-Enhanced-Crop-Monitoring-and-Sensor-Based-Anomaly-Detection/internal/ingest"
	"github.com/YasmineBenYamna/AI-Enhanced-Crop-Monitoring-and-Sensor-Based-Anomaly-Detection/internal/middleware"
)

// Deps are the components the server routes requests to.
type Deps struct {
	Pipeline  *analytics.Pipeline
	Agent     *agent.Service
	Anomalies db.AnomalyStore
	Ingestor  *ingest.Ingestor
	Hub       *Hub

	// Ping reports storage health for /health. Optional.
	Ping func(ctx context.Context) error

	Audit  audit.Logger
	Logger *zap.Logger
}

// Server represents the FieldSense HTTP server
type Server struct {
	config *Config

	pipeline  *analytics.Pipeline
	agent     *agent.Service
	anomalies db.AnomalyStore
	ingestor  *ingest.Ingestor
	hub       *Hub
	ping      func(ctx context.Context) error
	audit     audit.Logger
	logger    *zap.Logger

	limiter    *middleware.RateLimiter
	httpServer *http.Server
	handler    http.Handler
	started    time.Time

	wg      sync.WaitGroup
	mu      sync.RWMutex
	running bool
}

// NewServer creates a server. The pipeline, agent and anomaly store are required.
func NewServer(cfg *Config, deps Deps) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if deps.Pipeline == nil || deps.Agent == nil || deps.Anomalies == nil {
		return nil, fmt.Errorf("pipeline, agent and anomaly store are required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Audit == nil {
		deps.Audit = audit.NewNopLogger(deps.Logger)
	}

	s := &Server{
		config:    cfg.withDefaults(),
		pipeline:  deps.Pipeline,
		agent:     deps.Agent,
		anomalies: deps.Anomalies,
		ingestor:  deps.Ingestor,
		hub:       deps.Hub,
		ping:      deps.Ping,
		audit:     deps.Audit,
		logger:    deps.Logger.Named("server"),
		started:   time.Now(),
	}
	s.limiter = middleware.NewRateLimiter(s.config.ComputeRateLimit)
	s.handler = s.buildHandler()
	return s, nil
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) buildHandler() http.Handler {
	router := mux.NewRouter()

	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	if s.hub != nil {
		router.HandleFunc("/ws/recommendations", s.handleWebSocket).Methods(http.MethodGet)
	}

	api := router.PathPrefix("/api/v1").Subrouter()
	s.registerRoutes(api)

	router.Use(s.loggingMiddleware)
	router.Use(s.recoveryMiddleware)

	c := cors.New(cors.Options{
		AllowedOrigins:   corsOrigins(s.config.AllowedOrigins),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-Correlation-ID"},
		AllowCredentials: true,
	})
	return c.Handler(router)
}

// registerRoutes registers the /api/v1 routes.
//
//	POST /readings                                  ingest one reading or an array
//	GET  /models                                    status of every sensor model
//	GET  /models/{sensor}                           model status
//	POST /models/{sensor}/train                     train on a feature matrix
//	POST /models/{sensor}/train-from-readings       train on a plot's readings
//	POST /models/{sensor}/detect                    score raw values
//	POST /detect/batch                              detect across plots and sensors
//	POST /plots/{plot}/detect                       detect on a plot's recent readings
//	GET  /plots/{plot}/anomalies                    a plot's recent anomalies
//	GET  /plots/{plot}/recommendations              a plot's recent recommendations
//	POST /plots/{plot}/evaluate                     evaluate simultaneous anomalies
//	GET  /anomalies/{id}                            one anomaly
//	POST /anomalies/{id}/decision                   explain without persisting
//	POST /anomalies/{id}/recommendation             create (or return) the recommendation
//	POST /anomalies/{id}/recommendation/regenerate  replace the recommendation
//	POST /recommendations/batch                     catch up unrecommended anomalies
//	GET  /recommendations/high-priority             confident recommendations
//
// Training and detection routes share the per-client compute rate limit.
func (s *Server) registerRoutes(r *mux.Router) {
	r.HandleFunc("/readings", s.handleIngestReadings).Methods(http.MethodPost)

	r.HandleFunc("/models", s.handleModelStatuses).Methods(http.MethodGet)
	r.HandleFunc("/models/{sensor}", s.handleModelStatus).Methods(http.MethodGet)
	r.HandleFunc("/models/{sensor}/train", s.limiter.Middleware("train", s.handleTrain)).Methods(http.MethodPost)
	r.HandleFunc("/models/{sensor}/train-from-readings", s.limiter.Middleware("train", s.handleTrainFromReadings)).Methods(http.MethodPost)
	r.HandleFunc("/models/{sensor}/detect", s.limiter.Middleware("detect", s.handleDetect)).Methods(http.MethodPost)
	r.HandleFunc("/detect/batch", s.limiter.Middleware("batch_detect", s.handleBatchDetect)).Methods(http.MethodPost)

	r.HandleFunc("/plots/{plot:[0-9]+}/detect", s.limiter.Middleware("detect", s.handlePlotDetect)).Methods(http.MethodPost)
	r.HandleFunc("/plots/{plot:[0-9]+}/anomalies", s.handlePlotAnomalies).Methods(http.MethodGet)
	r.HandleFunc("/plots/{plot:[0-9]+}/recommendations", s.handlePlotRecommendations).Methods(http.MethodGet)
	r.HandleFunc("/plots/{plot:[0-9]+}/evaluate", s.handlePlotEvaluate).Methods(http.MethodPost)

	r.HandleFunc("/anomalies/{id:[0-9]+}", s.handleGetAnomaly).Methods(http.MethodGet)
	r.HandleFunc("/anomalies/{id:[0-9]+}/decision", s.handleAnomalyDecision).Methods(http.MethodPost)
	r.HandleFunc("/anomalies/{id:[0-9]+}/recommendation", s.handleCreateRecommendation).Methods(http.MethodPost)
	r.HandleFunc("/anomalies/{id:[0-9]+}/recommendation/regenerate", s.handleRegenerateRecommendation).Methods(http.MethodPost)

	r.HandleFunc("/recommendations/batch", s.handleBatchRecommendations).Methods(http.MethodPost)
	r.HandleFunc("/recommendations/high-priority", s.handleHighPriority).Methods(http.MethodGet)
}

// Start starts the server
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}
	s.running = true
	s.mu.Unlock()

	s.httpServer = &http.Server{
		Addr:         s.config.Addr(),
		Handler:      s.handler,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Info("HTTP server listening", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	_ = s.audit.LogServerStarted(context.Background(), s.httpServer.Addr)
	return nil
}

// Stop gracefully stops the server
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return fmt.Errorf("server is not running")
	}
	s.running = false
	s.mu.Unlock()

	s.logger.Info("stopping HTTP server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	err := s.httpServer.Shutdown(shutdownCtx)
	if err != nil {
		s.logger.Warn("server forced to shutdown", zap.Error(err))
	}

	s.wg.Wait()
	_ = s.audit.LogServerShutdown(context.Background())
	s.logger.Info("HTTP server stopped")
	return err
}

// IsRunning returns whether the server is running
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// handleHealth reports liveness plus storage health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"status":    "healthy",
		"service":   "fieldsense",
		"uptime":    time.Since(s.started).Round(time.Second).String(),
		"timestamp": time.Now().UTC(),
	}
	if s.hub != nil {
		resp["websocket_clients"] = s.hub.ClientCount()
	}
	status := http.StatusOK
	if s.ping != nil {
		if err := s.ping(r.Context()); err != nil {
			status = http.StatusServiceUnavailable
			resp["status"] = "degraded"
			resp["database"] = err.Error()
		} else {
			resp["database"] = "ok"
		}
	}
	writeJSON(w, status, resp)
}

// statusRecorder captures the response status for logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack keeps websocket upgrades working through the recorder.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return h.Hijack()
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		id := r.Header.Get("X-Correlation-ID")
		if id == "" {
			id = audit.GenerateCorrelationID()
		}
		w.Header().Set("X-Correlation-ID", id)
		r = r.WithContext(audit.WithCorrelationID(r.Context(), id))

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)),
			zap.String("correlation_id", id),
		)
	})
}

func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rv := recover(); rv != nil {
				s.logger.Error("handler panic",
					zap.Any("panic", rv),
					zap.String("path", r.URL.Path),
					zap.Stack("stack"),
				)
				respondError(w, http.StatusInternalServerError, ErrCodeInternalError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}
