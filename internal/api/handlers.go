package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/maltedev/grid-scraper/internal/database"
	"github.com/maltedev/grid-scraper/internal/parser"
	"github.com/maltedev/grid-scraper/internal/scraper"
)

// Health thresholds for the outbox backlog.
const (
	pendingWarnThreshold     = 1000
	deadLetterErrorThreshold = 100
)

// RunController starts scrape runs and reports on them.
type RunController interface {
	TryStart(ctx context.Context, opts scraper.RunOptions) (string, error)
	Status() scraper.RunStatus
}

// ProductStore reads the persisted scraper status and records moderation
// decisions on stored products.
type ProductStore interface {
	GetScraperStatus(ctx context.Context) (*database.ScraperStatus, error)
	UpdateListingStatus(ctx context.Context, id, status, reason string) error
}

type OutboxCounter interface {
	Counts(ctx context.Context) (pending, deadLetter int64, err error)
}

type Handlers struct {
	// runCtx bounds background runs; it lives as long as the server.
	runCtx context.Context
	runner RunController
	parser parser.Parser
	store  ProductStore
	outbox OutboxCounter
	logger *slog.Logger
}

// NewHandlers wires the HTTP surface. store and outbox may be nil when the
// service runs without a database.
func NewHandlers(runCtx context.Context, runner RunController, p parser.Parser, store ProductStore, outbox OutboxCounter, logger *slog.Logger) *Handlers {
	return &Handlers{
		runCtx: runCtx,
		runner: runner,
		parser: p,
		store:  store,
		outbox: outbox,
		logger: logger.With("component", "api"),
	}
}

// ScrapeRequest optionally narrows a run to one page or makes it a dry run.
type ScrapeRequest struct {
	TestURL string `json:"test_url"`
	DryRun  bool   `json:"dry_run"`
}

type ScrapeResponse struct {
	Status string `json:"status"`
	RunID  string `json:"run_id"`
}

// StartScrape accepts a run and returns before it finishes.
func (h *Handlers) StartScrape(w http.ResponseWriter, r *http.Request) {
	var req ScrapeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	runID, err := h.runner.TryStart(h.runCtx, scraper.RunOptions{
		TestURL: req.TestURL,
		DryRun:  req.DryRun,
	})
	if errors.Is(err, scraper.ErrRunInProgress) {
		h.respondError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		h.logger.Error("failed to start scrape run", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to start scrape run")
		return
	}

	h.logger.Info("scrape run accepted", "run_id", runID)
	h.respondJSON(w, http.StatusAccepted, ScrapeResponse{
		Status: "Scraper job accepted and started in background",
		RunID:  runID,
	})
}

type ExtractRequest struct {
	HTML string `json:"html"`
	URL  string `json:"url"`
}

// Extract runs the field extractor over caller-supplied markup.
func (h *Handlers) Extract(w http.ResponseWriter, r *http.Request) {
	var req ExtractRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.URL == "" {
		h.respondError(w, http.StatusBadRequest, "url is required")
		return
	}

	h.respondJSON(w, http.StatusOK, h.parser.Extract(req.HTML, req.URL))
}

type OutboxStatus struct {
	Pending    int64 `json:"pending"`
	DeadLetter int64 `json:"dead_letter"`
}

type StatusResponse struct {
	Runner  scraper.RunStatus       `json:"runner"`
	Scraper *database.ScraperStatus `json:"scraper,omitempty"`
	Outbox  *OutboxStatus           `json:"outbox,omitempty"`
}

// GetStatus reports the in-process run state and, when a database is
// configured, the persisted status and outbox backlog.
func (h *Handlers) GetStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{Runner: h.runner.Status()}

	if h.store != nil {
		status, err := h.store.GetScraperStatus(r.Context())
		if err != nil {
			h.logger.Error("failed to get scraper status", "error", err)
			h.respondError(w, http.StatusInternalServerError, "failed to get scraper status")
			return
		}
		resp.Scraper = status
	}

	if h.outbox != nil {
		pending, deadLetter, err := h.outbox.Counts(r.Context())
		if err != nil {
			h.logger.Error("failed to count outbox events", "error", err)
			h.respondError(w, http.StatusInternalServerError, "failed to count outbox events")
			return
		}
		resp.Outbox = &OutboxStatus{Pending: pending, DeadLetter: deadLetter}
	}

	h.respondJSON(w, http.StatusOK, resp)
}

// ListingStatusRequest is a moderation decision. Reason is stored only for
// rejections.
type ListingStatusRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

type ListingStatusResponse struct {
	Success bool   `json:"success"`
	ID      string `json:"id"`
	Status  string `json:"status"`
}

// UpdateProductStatus approves or rejects a stored product.
func (h *Handlers) UpdateProductStatus(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		h.respondError(w, http.StatusServiceUnavailable, "product database is not configured")
		return
	}

	id := chi.URLParam(r, "id")
	var req ListingStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if id == "" || req.Status == "" {
		h.respondError(w, http.StatusBadRequest, "product id and status are required")
		return
	}

	err := h.store.UpdateListingStatus(r.Context(), id, req.Status, req.Reason)
	switch {
	case errors.Is(err, database.ErrInvalidListingStatus):
		h.respondError(w, http.StatusBadRequest, "invalid status provided")
		return
	case errors.Is(err, database.ErrProductNotFound):
		h.respondError(w, http.StatusNotFound, "product not found")
		return
	case err != nil:
		h.logger.Error("failed to update listing status", "product_id", id, "status", req.Status, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to update product status")
		return
	}

	h.logger.Info("listing status updated", "product_id", id, "status", req.Status)
	h.respondJSON(w, http.StatusOK, ListingStatusResponse{Success: true, ID: id, Status: req.Status})
}

// Health reports ok unless the outbox backlog shows the relay is stuck.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status": "ok",
	}
	status := http.StatusOK

	if h.outbox != nil {
		pending, deadLetter, err := h.outbox.Counts(r.Context())
		if err != nil {
			h.logger.Warn("health check could not count outbox events", "error", err)
			health["status"] = "error"
			health["message"] = "outbox unavailable"
			h.respondJSON(w, http.StatusServiceUnavailable, health)
			return
		}

		health["outbox"] = OutboxStatus{Pending: pending, DeadLetter: deadLetter}
		if pending > pendingWarnThreshold {
			health["status"] = "warning"
			health["message"] = "High number of pending outbox events"
		}
		if deadLetter > deadLetterErrorThreshold {
			health["status"] = "error"
			health["message"] = "High number of dead letter events"
			status = http.StatusServiceUnavailable
		}
	}

	h.respondJSON(w, status, health)
}

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
