package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/vmihailenco/msgpack/v5"

	"hometopology/internal/occupancy"
	"hometopology/internal/snapshot"
	"hometopology/internal/topology"
)

// apiError is the JSON/msgpack error body shape for every failed request.
type apiError struct {
	Error string `json:"error"`
}

// wantsMsgpack reports whether the client asked for MessagePack encoding.
func wantsMsgpack(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/msgpack")
}

// writeJSON encodes v as JSON, or as MessagePack when the client's Accept
// header requests it (SPEC_FULL.md §4.8, for bandwidth-constrained
// hub-to-hub links).
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	if wantsMsgpack(r) {
		w.Header().Set("Content-Type", "application/msgpack")
		w.WriteHeader(status)
		_ = msgpack.NewEncoder(w).Encode(v)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeBody decodes the request body as JSON or MessagePack, selecting by
// Content-Type.
func decodeBody(r *http.Request, v any) error {
	if strings.Contains(r.Header.Get("Content-Type"), "application/msgpack") {
		return msgpack.NewDecoder(r.Body).Decode(v)
	}
	return json.NewDecoder(r.Body).Decode(v)
}

// writeError maps a domain error to an HTTP status and writes the body,
// per SPEC_FULL.md §7: invalid-argument conditions map to 400, not-found
// to 404, no-op conditions to 204.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, topology.ErrNotFound),
		errors.Is(err, occupancy.ErrUnknownLocation):
		status = http.StatusNotFound
	case errors.Is(err, snapshot.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, topology.ErrEmptyID),
		errors.Is(err, topology.ErrAlreadyExists),
		errors.Is(err, topology.ErrUnknownParent),
		errors.Is(err, topology.ErrExplicitRootConflict),
		errors.Is(err, topology.ErrHasChildren),
		errors.Is(err, topology.ErrCycle),
		errors.Is(err, occupancy.ErrEmptySourceID),
		errors.Is(err, occupancy.ErrInvalidTimeout),
		errors.Is(err, occupancy.ErrSnapshotVersionMismatch):
		status = http.StatusBadRequest
	}
	writeJSON(w, r, status, apiError{Error: err.Error()})
}
