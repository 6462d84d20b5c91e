package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ent0n29/voicerelay/internal/config"
	"github.com/ent0n29/voicerelay/internal/observability"
	"github.com/ent0n29/voicerelay/internal/relay"
	"github.com/ent0n29/voicerelay/internal/transcript"
)

// Relayer runs one chat turn through the relay pipeline.
type Relayer interface {
	Run(ctx context.Context, turn relay.Turn, emit relay.EmitFunc) (relay.Result, error)
}

type Server struct {
	cfg         config.Config
	relay       Relayer
	transcripts transcript.Store
	metrics     *observability.Metrics
	logger      *zap.Logger
	limiter     *rateLimiter
	upgrader    websocket.Upgrader
	metricsHTTP http.Handler
}

// New wires the HTTP surface. transcripts may be nil when recording is disabled.
func New(cfg config.Config, relayer Relayer, transcripts transcript.Store, metrics *observability.Metrics, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		cfg:         cfg,
		relay:       relayer,
		transcripts: transcripts,
		metrics:     metrics,
		logger:      logger,
		limiter:     newRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst),
		metricsHTTP: observability.MetricsHandler(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     sameOriginOrNone,
		},
	}
}

// sameOriginOrNone accepts non-browser clients and same-host browser origins.
func sameOriginOrNone(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}

// StartJanitor evicts idle rate-limit buckets until ctx is done.
func (s *Server) StartJanitor(ctx context.Context) {
	s.limiter.StartJanitor(ctx, limiterSweepInterval)
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(recoverer(s.logger))
	r.Use(requestLogger(s.logger))

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		s.metricsHTTP.ServeHTTP(w, r)
	})
	r.Get("/v1/perf/latency", s.handlePerfLatency)
	r.Get("/v1/transcripts/{user_id}", s.handleTranscripts)

	r.Group(func(r chi.Router) {
		r.Use(s.limiter.Middleware)
		r.Post("/api/v1/chat", s.handleChat)
		r.Get("/v1/chat/ws", s.handleChatWS)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"route":       s.cfg.Route,
		"passthrough": s.cfg.Passthrough,
		"transcripts": s.transcriptMode(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if s.relay == nil {
		respondError(w, http.StatusServiceUnavailable, "unavailable", "relay pipeline not configured")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
		"route":  s.cfg.Route,
	})
}

func (s *Server) transcriptMode() string {
	switch {
	case s.transcripts == nil:
		return "disabled"
	case strings.TrimSpace(s.cfg.DatabaseURL) != "":
		return "postgres"
	default:
		return "in-memory"
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
