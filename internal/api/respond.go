package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/stratus/internal/db"
)

// ErrorResponse represents an error in problem+json format.
type ErrorResponse struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// ListResponse wraps a page of results.
type ListResponse struct {
	Data   any `json:"data"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
	Count  int `json:"count"`
}

func (h *Handler) writeError(w http.ResponseWriter, status int, errType, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Type:   errType,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}

// storeError maps a store failure on a primary operation to a response.
func (h *Handler) storeError(w http.ResponseWriter, err error, what string) {
	switch {
	case errors.Is(err, db.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "not_found", what+" not found", "")
	case errors.Is(err, db.ErrConflict):
		h.writeError(w, http.StatusConflict, "conflict", what+" conflicts with an existing record", err.Error())
	default:
		h.logger.Error("store operation failed", zap.String("resource", what), zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to process "+what, "")
	}
}

func (h *Handler) badRequest(w http.ResponseWriter, title, detail string) {
	h.writeError(w, http.StatusBadRequest, "invalid_request", title, detail)
}

func (h *Handler) forbidden(w http.ResponseWriter, detail string) {
	h.writeError(w, http.StatusForbidden, "forbidden", "Insufficient permissions", detail)
}

func (h *Handler) notFound(w http.ResponseWriter, what string) {
	h.writeError(w, http.StatusNotFound, "not_found", what+" not found", "")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// decode reads a JSON body, rejecting unknown fields.
func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("malformed JSON body: %w", err)
	}
	return nil
}

func pathID(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, "id"))
}

// pageFrom parses limit and offset; bad values fall back to defaults.
func pageFrom(r *http.Request) db.Page {
	var p db.Page
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil {
		p.Limit = l
	}
	if o, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil {
		p.Offset = o
	}
	return p.Normalize()
}

// queryUUID parses an optional UUID query parameter.
func queryUUID(r *http.Request, name string) (*uuid.UUID, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%s must be a valid UUID", name)
	}
	return &id, nil
}

// queryTime parses an optional RFC 3339 timestamp or YYYY-MM-DD date.
func queryTime(r *http.Request, name string) (*time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, time.DateOnly} {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("%s must be RFC 3339 or YYYY-MM-DD", name)
}

func list(data any, count int, p db.Page) ListResponse {
	return ListResponse{Data: data, Limit: p.Limit, Offset: p.Offset, Count: count}
}
