package sink

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Server exposes the collection endpoint backed by a Store.
type Server struct {
	store  *Store
	logger *slog.Logger
}

// NewServer creates a sink server. A nil logger falls back to slog.Default.
func NewServer(store *Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{store: store, logger: logger}
}

// Routes builds the sink's HTTP handler.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(s.logger))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Post("/v1/events", s.handleEvents)

	return r
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	var raw []json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "body must be a JSON array of events"})
		return
	}

	batch := make([]ReceivedEvent, 0, len(raw))
	for _, msg := range raw {
		var head struct {
			EventID   string `json:"event_id"`
			SessionID string `json:"session_id"`
			CreatedAt int64  `json:"created_at"`
		}
		if err := json.Unmarshal(msg, &head); err != nil || head.EventID == "" || head.SessionID == "" {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "each event needs event_id and session_id"})
			return
		}
		batch = append(batch, ReceivedEvent{
			SessionID: head.SessionID,
			EventID:   head.EventID,
			CreatedAt: head.CreatedAt,
			Payload:   string(msg),
		})
	}

	if err := s.store.InsertBatch(r.Context(), batch); err != nil {
		s.logger.Error("failed to store event batch",
			slog.Int("events", len(batch)),
			slog.String("error", err.Error()),
		)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "storage failure"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"events": len(batch)})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
