package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"fieldroute/internal/planner"
	"fieldroute/internal/store"
)

// Problem represents an RFC7807 problem details response body.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

const maxBody = 4 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeProblem(w http.ResponseWriter, status int, title, detail, instance string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Problem{
		Type:     "about:blank",
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: instance,
	})
}

// decodeJSON reads a single JSON document into v, rejecting unknown fields.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}

// writeError maps domain errors to problem responses.
func writeError(w http.ResponseWriter, r *http.Request, title string, err error) {
	status := http.StatusInternalServerError
	var verr validationError
	switch {
	case errors.As(err, &verr):
		status = http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, store.ErrUnknownTaskStop), errors.Is(err, planner.ErrDuplicateStop):
		status = http.StatusBadRequest
	case errors.Is(err, planner.ErrNoDirections):
		status = http.StatusBadGateway
	case errors.Is(err, r.Context().Err()) && r.Context().Err() != nil:
		status = http.StatusServiceUnavailable
	}
	writeProblem(w, status, title, err.Error(), r.URL.Path)
}
