package http

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/mailfeed/mailfeed/internal/modules/delivery/channel"
	deliveryDomain "github.com/mailfeed/mailfeed/internal/modules/delivery/domain"
	deliveryService "github.com/mailfeed/mailfeed/internal/modules/delivery/service"
	"github.com/mailfeed/mailfeed/internal/modules/feed/fetch"
	"github.com/mailfeed/mailfeed/internal/shared/config"
	"github.com/mailfeed/mailfeed/internal/shared/errors"
	sloghttp "github.com/samber/slog-http"
)

// Server exposes the operational HTTP endpoints: health, feed URL
// validation and test deliveries.
type Server struct {
	cfg         *config.Config
	fetcher     *fetch.Fetcher
	coordinator *deliveryService.Service
	logger      *slog.Logger
	srv         *http.Server
}

// New creates a new HTTP server
func New(cfg *config.Config, fetcher *fetch.Fetcher, coordinator *deliveryService.Service) *Server {
	return &Server{
		cfg:         cfg,
		fetcher:     fetcher,
		coordinator: coordinator,
		logger:      slog.Default(),
	}
}

// SetLogger sets the logger
func (s *Server) SetLogger(logger *slog.Logger) {
	s.logger = logger
}

// Handler builds the route table with logging and panic recovery.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /feeds/validate", s.handleValidateFeed)
	mux.HandleFunc("POST /delivery/test", s.handleTestDelivery)

	// Use slog-http middleware with recovery
	handler := sloghttp.Recovery(mux)
	return sloghttp.New(s.logger)(handler)
}

// Start starts the HTTP server
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%s", s.cfg.HTTPPort)
	s.logger.Info("HTTP server starting", "addr", addr)

	s.srv = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s.srv.ListenAndServe()
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type validateFeedRequest struct {
	URL string `json:"url"`
}

type validateFeedResponse struct {
	URL       string `json:"url"`
	FeedType  string `json:"feed_type"`
	Title     string `json:"title"`
	ItemCount int    `json:"item_count"`
}

// handleValidateFeed fetches and parses a candidate feed URL without
// storing anything, reporting the detected format and title.
func (s *Server) handleValidateFeed(w http.ResponseWriter, r *http.Request) {
	var req validateFeedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "a feed url is required")
		return
	}

	result, err := s.fetcher.Validate(r.Context(), req.URL)
	if err != nil {
		var fetchErr *fetch.Error
		if stderrors.As(err, &fetchErr) {
			writeError(w, http.StatusUnprocessableEntity, string(fetchErr.Kind), fetchErr.Error())
			return
		}
		s.logger.Error("Feed validation failed", "url", req.URL, "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "validation failed")
		return
	}

	writeJSON(w, http.StatusOK, validateFeedResponse{
		URL:       req.URL,
		FeedType:  string(result.Type),
		Title:     result.Title,
		ItemCount: len(result.Items),
	})
}

type testDeliveryRequest struct {
	UserID  int64  `json:"user_id"`
	Channel string `json:"channel"`
}

// handleTestDelivery sends a synthetic batch to one of the user's
// channels so channel credentials can be verified end to end.
func (s *Server) handleTestDelivery(w http.ResponseWriter, r *http.Request) {
	var req testDeliveryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == 0 {
		writeError(w, http.StatusBadRequest, "bad_request", "user_id and channel are required")
		return
	}

	ch := deliveryDomain.Channel(req.Channel)
	if ch != deliveryDomain.ChannelEmail && ch != deliveryDomain.ChannelTelegram {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Sprintf("unknown channel: %s", req.Channel))
		return
	}

	err := s.coordinator.SendTest(r.Context(), req.UserID, ch)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": "sent", "channel": req.Channel})
	case stderrors.Is(err, errors.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "not_found", "user not found")
	case stderrors.Is(err, errors.ErrChannelUnavailable):
		writeError(w, http.StatusServiceUnavailable, "channel_unavailable", "channel is not configured on this server")
	default:
		var sendErr *channel.SendError
		if stderrors.As(err, &sendErr) {
			writeError(w, http.StatusBadGateway, string(sendErr.Kind), sendErr.Error())
			return
		}
		s.logger.Error("Test delivery failed", "user_id", req.UserID, "channel", req.Channel, "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "test delivery failed")
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, map[string]string{"error": kind, "message": message})
}
