// Package api exposes customer timelines over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"

	"github.com/brandon/crm-timeline/internal/events"
	"github.com/brandon/crm-timeline/internal/store"
	"github.com/brandon/crm-timeline/internal/timeline"
	"github.com/brandon/crm-timeline/pkg/types"
)

// Searcher finds messages by text
type Searcher interface {
	SearchMessages(ctx context.Context, opts store.SearchOptions) ([]types.RawEmailRecord, error)
}

// Server serves the timeline API
type Server struct {
	router     *chi.Mux
	port       int
	views      *Registry
	searcher   Searcher
	normalizer *timeline.Normalizer
	channel    string
	logger     *logrus.Logger
	httpServer *http.Server
}

// NewServer creates a server. searcher may be nil, which disables search.
func NewServer(port int, views *Registry, searcher Searcher, normalizer *timeline.Normalizer, channel string, logger *logrus.Logger) *Server {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(requestLogger(logger))
	router.Use(middleware.Recoverer)

	s := &Server{
		router:     router,
		port:       port,
		views:      views,
		searcher:   searcher,
		normalizer: normalizer,
		channel:    channel,
		logger:     logger,
	}

	router.Get("/health", s.health)
	router.Route("/api/v1/customers/{customerID}", func(r chi.Router) {
		r.Get("/timeline", s.getTimeline)
		r.Post("/timeline/replies", s.postReply)
		r.Delete("/timeline/messages/{messageID}", s.deleteMessage)
		r.Post("/timeline/items/{itemKey}/toggle", s.toggleItem)
		r.Get("/context", s.getContext)
		r.Get("/messages/search", s.searchMessages)
	})

	return s
}

// Handler returns the routed handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Subscribe refreshes loaded views whenever another component changes a
// customer's messages
func (s *Server) Subscribe(bus events.Bus) error {
	return bus.Subscribe(timeline.SubjectMessageAll, func(subject string, data []byte) {
		var evt timeline.MessageEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			s.logger.WithError(err).WithField("subject", subject).Warn("Failed to decode timeline event")
			return
		}
		if evt.CustomerID == "" {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		s.views.Refresh(ctx, evt.CustomerID)
	})
}

// Start serves until ctx is done, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", s.httpServer.Addr).Info("API server starting")
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"views":  s.views.Len(),
	})
}

func (s *Server) getTimeline(w http.ResponseWriter, r *http.Request) {
	customerID := chi.URLParam(r, "customerID")
	view := s.views.Get(r.Context(), customerID)

	if refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh")); refresh {
		if err := view.Refresh(r.Context()); err != nil && !errors.Is(err, timeline.ErrStaleResult) {
			s.logger.WithError(err).WithField("customer_id", customerID).Debug("Refresh failed")
		}
	}

	writeJSON(w, http.StatusOK, newTimelineResponse(view))
}

type replyRequest struct {
	ItemKey string `json:"item_key"`
	Body    string `json:"body"`
	Subject string `json:"subject,omitempty"`
}

func (s *Server) postReply(w http.ResponseWriter, r *http.Request) {
	var req replyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if req.ItemKey == "" {
		writeError(w, http.StatusBadRequest, "item_key is required")
		return
	}

	view := s.views.Get(r.Context(), chi.URLParam(r, "customerID"))
	if err := view.Reply(r.Context(), req.ItemKey, req.Body, req.Subject); err != nil {
		s.writeMutationError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, newTimelineResponse(view))
}

func (s *Server) deleteMessage(w http.ResponseWriter, r *http.Request) {
	view := s.views.Get(r.Context(), chi.URLParam(r, "customerID"))
	key := timeline.ItemKey(timeline.TypeEmail, chi.URLParam(r, "messageID"))
	if err := view.Delete(r.Context(), key); err != nil {
		s.writeMutationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newTimelineResponse(view))
}

func (s *Server) toggleItem(w http.ResponseWriter, r *http.Request) {
	view := s.views.Get(r.Context(), chi.URLParam(r, "customerID"))
	key := chi.URLParam(r, "itemKey")

	expanded, err := view.Toggle(key)
	if err != nil {
		s.writeMutationError(w, err)
		return
	}
	item, err := view.Item(key)
	if err != nil {
		s.writeMutationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"key":      key,
		"expanded": expanded,
		"content":  view.Expansion().Content(item),
	})
}

func (s *Server) getContext(w http.ResponseWriter, r *http.Request) {
	view := s.views.Get(r.Context(), chi.URLParam(r, "customerID"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 20
	}

	actx := view.AssistantContext()
	writeJSON(w, http.StatusOK, map[string]any{
		"customer_id": actx.CustomerID,
		"valid":       actx.Valid,
		"generation":  actx.Generation,
		"built_at":    actx.BuiltAt,
		"summary":     actx.Summary(limit),
	})
}

func (s *Server) searchMessages(w http.ResponseWriter, r *http.Request) {
	if s.searcher == nil {
		writeError(w, http.StatusNotImplemented, "search is not available")
		return
	}
	q := r.URL.Query().Get("q")
	if q == "" {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	recs, err := s.searcher.SearchMessages(r.Context(), store.SearchOptions{
		CustomerID: chi.URLParam(r, "customerID"),
		Channel:    s.channel,
		Query:      q,
		Limit:      limit,
	})
	if err != nil {
		s.logger.WithError(err).Error("Failed to search messages")
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}

	items, err := s.normalizer.NormalizeEmails(r.Context(), recs)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"count": len(items),
	})
}

func (s *Server) writeMutationError(w http.ResponseWriter, err error) {
	var fetchErr *timeline.FetchError
	switch {
	case errors.Is(err, timeline.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, timeline.ErrNotDeletable):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, timeline.ErrEmptyReply), errors.Is(err, timeline.ErrNoRecipient):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &fetchErr):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		s.logger.WithError(err).Error("Timeline mutation failed")
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func requestLogger(logger *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.WithFields(logrus.Fields{
				"method":     r.Method,
				"path":       r.URL.Path,
				"status":     ww.Status(),
				"duration":   time.Since(start).String(),
				"request_id": middleware.GetReqID(r.Context()),
			}).Debug("Handled request")
		})
	}
}
