package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/feed-sync/internal/cache"
	"github.com/feed-sync/internal/feed"
	"github.com/feed-sync/internal/symbols"
	"github.com/feed-sync/pkg/config"
	"github.com/feed-sync/pkg/models"
)

// Server exposes feed state over HTTP: active subscriptions, universe
// membership, dropped streams, latest cached records, and a websocket slice
// stream. It reads synchronizer state but never drives the merge loop.
type Server struct {
	cfg        *config.Config
	logger     *logrus.Logger
	router     *mux.Router
	httpServer *http.Server

	sync    *feed.Synchronizer
	symbols *symbols.Manager
	redis   *cache.RedisClient
	hub     *Hub
}

// NewServer creates the status API server. redis may be nil in backtest mode.
func NewServer(
	cfg *config.Config,
	logger *logrus.Logger,
	sync *feed.Synchronizer,
	symbolsMgr *symbols.Manager,
	redisCache *cache.RedisClient,
) *Server {
	s := &Server{
		cfg:     cfg,
		logger:  logger,
		sync:    sync,
		symbols: symbolsMgr,
		redis:   redisCache,
		hub:     NewHub(logger),
	}

	s.setupRoutes()
	return s
}

// Hub returns the websocket hub for slice broadcasting.
func (s *Server) Hub() *Hub { return s.hub }

func (s *Server) setupRoutes() {
	s.router = mux.NewRouter()

	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.recoveryMiddleware)
	if s.cfg.Server.CORSEnabled {
		s.router.Use(s.corsMiddleware)
	}

	apiV1 := s.router.PathPrefix("/api/v1").Subrouter()

	apiV1.HandleFunc("/health", s.handleHealth).Methods("GET")
	apiV1.HandleFunc("/subscriptions", s.handleGetSubscriptions).Methods("GET")
	apiV1.HandleFunc("/dropped", s.handleGetDropped).Methods("GET")
	apiV1.HandleFunc("/universes", s.handleGetUniverses).Methods("GET")
	apiV1.HandleFunc("/symbols", s.handleGetSymbols).Methods("GET")
	apiV1.HandleFunc("/symbols/{symbol}", s.handleGetSymbol).Methods("GET")
	apiV1.HandleFunc("/symbols/{symbol}/latest", s.handleGetLatest).Methods("GET")
	apiV1.HandleFunc("/ws", s.hub.HandleWebSocket).Methods("GET")
}

// Start runs the HTTP server until it fails or is stopped.
func (s *Server) Start() error {
	addr := s.cfg.GetServerAddr()

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}

	s.logger.WithField("address", addr).Info("Starting HTTP server")

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully stops the HTTP server and disconnects websocket clients.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping HTTP server")
	s.hub.Close()
	return s.httpServer.Shutdown(ctx)
}

// Handlers

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":        "ok",
		"time":          time.Now().UTC(),
		"subscriptions": len(s.sync.ActiveConfigurations()),
	})
}

func (s *Server) handleGetSubscriptions(w http.ResponseWriter, r *http.Request) {
	configs := s.sync.ActiveConfigurations()

	type subscriptionView struct {
		Symbol      string `json:"symbol"`
		Kind        string `json:"kind"`
		Resolution  string `json:"resolution"`
		FillForward bool   `json:"fill_forward"`
		Internal    bool   `json:"internal"`
	}

	out := make([]subscriptionView, 0, len(configs))
	for _, cfg := range configs {
		out = append(out, subscriptionView{
			Symbol:      cfg.Symbol,
			Kind:        cfg.Kind.String(),
			Resolution:  cfg.Resolution.String(),
			FillForward: cfg.FillForward,
			Internal:    cfg.IsInternal,
		})
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":         len(out),
		"subscriptions": out,
	})
}

func (s *Server) handleGetDropped(w http.ResponseWriter, r *http.Request) {
	dropped := s.sync.Dropped()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":   len(dropped),
		"dropped": dropped,
	})
}

func (s *Server) handleGetUniverses(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.sync.UniverseMembers())
}

func (s *Server) handleGetSymbols(w http.ResponseWriter, r *http.Request) {
	if pattern := r.URL.Query().Get("search"); pattern != "" {
		s.writeJSON(w, http.StatusOK, s.symbols.Search(pattern))
		return
	}
	s.writeJSON(w, http.StatusOK, s.symbols.ActiveSymbols())
}

func (s *Server) handleGetSymbol(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]

	info, ok := s.symbols.Lookup(symbol)
	if !ok {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("symbol %s not found", symbol))
		return
	}
	s.writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleGetLatest(w http.ResponseWriter, r *http.Request) {
	if s.redis == nil {
		s.writeError(w, http.StatusServiceUnavailable, "record cache not available")
		return
	}

	symbol := mux.Vars(r)["symbol"]
	kind := models.KindTradeBar
	if param := r.URL.Query().Get("kind"); param != "" {
		parsed, err := models.ParseKind(param)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		kind = parsed
	}

	rec, err := s.redis.GetRecord(r.Context(), symbol, kind)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if rec == nil {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("no record cached for %s", symbol))
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

// Middleware

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		s.logger.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   wrapped.statusCode,
			"duration": time.Since(start),
			"remote":   r.RemoteAddr,
		}).Debug("HTTP request")
	})
}

func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.WithFields(logrus.Fields{
					"error": err,
					"path":  r.URL.Path,
				}).Error("Panic recovered")
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{"GET", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Content-Type"}),
	)(next)
}

// Helpers

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
