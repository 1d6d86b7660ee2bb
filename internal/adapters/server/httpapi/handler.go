// Package httpapi provides the REST HTTP adapter for the server surfaces.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/evanschultz/gossiptrace/internal/adapters/server/common"
)

// maxRequestBodyBytes limits decoded JSON payload size for fail-closed request handling.
const maxRequestBodyBytes int64 = 1 << 20

// Handler serves the versioned API subrouter mounted under `/api/v1`.
type Handler struct {
	runs common.RunReader
}

// APIError represents one structured API failure response.
type APIError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Hint    string         `json:"hint,omitempty"`
	Context map[string]any `json:"context,omitempty"`
}

// ErrorEnvelope wraps one structured API error.
type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

// NewHandler constructs one HTTP API adapter over a run reader.
func NewHandler(runs common.RunReader) *Handler {
	return &Handler{runs: runs}
}

// ServeHTTP routes one versioned API request to the matching handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := normalizePath(r.URL.Path)
	switch {
	case path == "runs":
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w, http.MethodGet)
			return
		}
		h.handleListRuns(w, r)
		return
	case path == "summary":
		switch r.Method {
		case http.MethodGet:
			h.handleSummaryQuery(w, r)
		case http.MethodPost:
			h.handleSummaryBody(w, r)
		default:
			writeMethodNotAllowed(w, http.MethodGet, http.MethodPost)
		}
		return
	default:
		runID, sub, ok := resolveRunPath(path)
		if !ok {
			writeJSONError(w, http.StatusNotFound, APIError{
				Code:    "not_found",
				Message: "endpoint not found",
			})
			return
		}
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w, http.MethodGet)
			return
		}
		if sub == "records" {
			h.handleListRecords(w, r, runID)
			return
		}
		h.handleGetRun(w, r, runID)
	}
}

// handleListRuns serves GET `/runs`.
func (h *Handler) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}
	runs, err := h.runs.ListRuns(r.Context(), r.URL.Query()["variant"])
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"runs": runs,
	})
}

// handleGetRun serves GET `/runs/{id}`.
func (h *Handler) handleGetRun(w http.ResponseWriter, r *http.Request, runID string) {
	if !h.available(w) {
		return
	}
	run, err := h.runs.GetRun(r.Context(), runID)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// handleListRecords serves GET `/runs/{id}/records`.
func (h *Handler) handleListRecords(w http.ResponseWriter, r *http.Request, runID string) {
	if !h.available(w) {
		return
	}
	req := common.ListRecordsRequest{
		RunID: runID,
		State: strings.TrimSpace(r.URL.Query().Get("state")),
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			writeErrorFrom(w, fmt.Errorf("limit %q: %w", raw, errors.Join(common.ErrInvalidRequest, err)))
			return
		}
		req.Limit = limit
	}
	records, err := h.runs.ListRecords(r.Context(), req)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"run_id":  runID,
		"records": records,
	})
}

// handleSummaryQuery serves GET `/summary` with repeated query parameters.
func (h *Handler) handleSummaryQuery(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}
	query := r.URL.Query()
	req := common.SummaryRequest{
		RunIDs:   query["run"],
		Variants: query["variant"],
	}
	if raw := strings.TrimSpace(query.Get("settle")); raw != "" {
		settle, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			writeErrorFrom(w, fmt.Errorf("settle %q: %w", raw, errors.Join(common.ErrInvalidRequest, err)))
			return
		}
		req.Settle = &settle
	}
	for _, raw := range query["q"] {
		q, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			writeErrorFrom(w, fmt.Errorf("quantile %q: %w", raw, errors.Join(common.ErrInvalidRequest, err)))
			return
		}
		req.Quantiles = append(req.Quantiles, q)
	}
	h.writeSummary(w, r, req)
}

// handleSummaryBody serves POST `/summary` with an optional JSON selection body.
func (h *Handler) handleSummaryBody(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}
	var req common.SummaryRequest
	if err := decodeOptionalJSONBody(r.Context(), w, r, &req); err != nil {
		writeErrorFrom(w, err)
		return
	}
	h.writeSummary(w, r, req)
}

func (h *Handler) writeSummary(w http.ResponseWriter, r *http.Request, req common.SummaryRequest) {
	summaries, err := h.runs.Summarize(r.Context(), req)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"variants": summaries,
	})
}

// available writes a 503 when no run reader is configured.
func (h *Handler) available(w http.ResponseWriter) bool {
	if h.runs != nil {
		return true
	}
	writeJSONError(w, http.StatusServiceUnavailable, APIError{
		Code:    "service_unavailable",
		Message: "run service is not configured",
	})
	return false
}

// resolveRunPath parses `/runs/{id}` and `/runs/{id}/records`.
func resolveRunPath(path string) (string, string, bool) {
	const prefix = "runs/"
	if !strings.HasPrefix(path, prefix) {
		return "", "", false
	}
	rest := strings.TrimPrefix(path, prefix)
	id, sub, nested := strings.Cut(rest, "/")
	id = strings.TrimSpace(id)
	if id == "" {
		return "", "", false
	}
	if nested && sub != "records" {
		return "", "", false
	}
	return id, sub, true
}

// normalizePath canonicalizes one request path for route matching.
func normalizePath(path string) string {
	path = strings.TrimSpace(path)
	path = strings.Trim(path, "/")
	return path
}

// writeErrorFrom maps adapter errors into structured HTTP responses.
func writeErrorFrom(w http.ResponseWriter, err error) {
	switch {
	case err == nil:
		writeJSONError(w, http.StatusInternalServerError, APIError{
			Code:    "internal_error",
			Message: "unknown error",
		})
	case errors.Is(err, common.ErrNotFound):
		writeJSONError(w, http.StatusNotFound, APIError{
			Code:    "not_found",
			Message: err.Error(),
		})
	case errors.Is(err, common.ErrInvalidRequest):
		writeJSONError(w, http.StatusBadRequest, APIError{
			Code:    "invalid_request",
			Message: err.Error(),
			Hint:    "state must be one of " + strings.Join(common.SupportedRecordStates(), ", ") + "; quantiles lie in [0,1]",
		})
	case errors.Is(err, common.ErrUnavailable):
		writeJSONError(w, http.StatusServiceUnavailable, APIError{
			Code:    "service_unavailable",
			Message: err.Error(),
		})
	case errors.Is(err, context.Canceled):
		writeJSONError(w, http.StatusRequestTimeout, APIError{
			Code:    "canceled",
			Message: err.Error(),
		})
	default:
		writeJSONError(w, http.StatusInternalServerError, APIError{
			Code:    "internal_error",
			Message: err.Error(),
		})
	}
}

// writeMethodNotAllowed writes a structured 405 response with `Allow` headers.
func writeMethodNotAllowed(w http.ResponseWriter, methods ...string) {
	if len(methods) > 0 {
		w.Header().Set("Allow", strings.Join(methods, ", "))
	}
	writeJSONError(w, http.StatusMethodNotAllowed, APIError{
		Code:    "method_not_allowed",
		Message: "method not allowed",
	})
}

// writeJSONError writes one structured error envelope.
func writeJSONError(w http.ResponseWriter, statusCode int, apiErr APIError) {
	writeJSON(w, statusCode, ErrorEnvelope{Error: apiErr})
}

// writeJSON writes one JSON response envelope.
func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, fmt.Sprintf(`{"error":{"code":"encode_error","message":"%s"}}`, err.Error()), http.StatusInternalServerError)
	}
}

// decodeOptionalJSONBody decodes one optional JSON body and ignores empty payloads.
func decodeOptionalJSONBody(ctx context.Context, w http.ResponseWriter, r *http.Request, out any) error {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	defer reader.Close()

	decoder := json.NewDecoder(reader)
	decoder.DisallowUnknownFields()
	err := decoder.Decode(out)
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("decode request body: %w", errors.Join(common.ErrInvalidRequest, err))
	}
	if err := decoder.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode request body: trailing content: %w", common.ErrInvalidRequest)
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("request canceled: %w", ctx.Err())
	default:
		return nil
	}
}
