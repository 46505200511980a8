package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/phat-labs/phatd/pkg/journal"
)

// serveAPI runs the local HTTP API until ctx is cancelled. The API is
// an operator surface: ask questions without a chat client, inspect
// recent exchanges, health check.
func (d *Daemon) serveAPI(ctx context.Context) error {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", d.handleHealth)
	r.Post("/v1/ask", d.handleAsk)
	r.Get("/v1/exchanges", d.handleExchanges)

	srv := &http.Server{
		Addr:              d.cfg.API.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	slog.Info("api listening", "addr", d.cfg.API.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (d *Daemon) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"name":          d.cfg.Name,
		"sources":       len(d.sources),
		"conversations": len(d.convs),
	})
}

func (d *Daemon) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Question string `json:"question"`
		Source   string `json:"source,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	if req.Question == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "question is required"})
		return
	}

	start := time.Now()
	answer, kind, chunks, err := d.Ask(r.Context(), req.Question, req.Source)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}

	d.record(journal.Exchange{
		Conversation: "api",
		Sender:       "api",
		Question:     req.Question,
		Source:       kind,
		Answer:       answer,
		Chunks:       chunks,
		LatencyMS:    time.Since(start).Milliseconds(),
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"answer":     answer,
		"source":     kind,
		"chunks":     chunks,
		"latency_ms": time.Since(start).Milliseconds(),
	})
}

func (d *Daemon) handleExchanges(w http.ResponseWriter, r *http.Request) {
	if d.journal == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "journal disabled"})
		return
	}

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 200 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be 1-200"})
			return
		}
		limit = n
	}
	recent, err := d.journal.Recent(limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"exchanges": recent})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
