package server

import (
	"net/http"

	"hometopology/internal/topology"
)

// locationJSON is the wire shape of a topology.Location.
type locationJSON struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	ParentID       string         `json:"parent_id,omitempty"`
	IsExplicitRoot bool           `json:"is_explicit_root,omitempty"`
	EntityIDs      []string       `json:"entity_ids,omitempty"`
	Aliases        []string       `json:"aliases,omitempty"`
	Modules        map[string]any `json:"modules,omitempty"`
}

func locationToJSON(l *topology.Location) locationJSON {
	return locationJSON{
		ID:             l.ID,
		Name:           l.Name,
		ParentID:       l.ParentID,
		IsExplicitRoot: l.IsExplicitRoot,
		EntityIDs:      l.EntityIDs,
		Aliases:        l.Aliases,
		Modules:        l.Modules,
	}
}

type createLocationRequest struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	ParentID       string   `json:"parent_id,omitempty"`
	IsExplicitRoot bool     `json:"is_explicit_root,omitempty"`
	EntityIDs      []string `json:"entity_ids,omitempty"`
	Aliases        []string `json:"aliases,omitempty"`
}

func (s *Server) handleCreateLocation(w http.ResponseWriter, r *http.Request) {
	var req createLocationRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, apiError{Error: "invalid request body"})
		return
	}

	var created *topology.Location
	var err error
	s.do(func() {
		err = s.tree.CreateLocation(req.ID, req.Name, req.ParentID, req.IsExplicitRoot, req.Aliases, req.EntityIDs)
		if err == nil {
			created = s.tree.Get(req.ID)
		}
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, locationToJSON(created))
}

func (s *Server) handleListLocations(w http.ResponseWriter, r *http.Request) {
	var locs []*topology.Location
	s.do(func() {
		locs = s.tree.AllLocations()
	})
	out := make([]locationJSON, len(locs))
	for i, l := range locs {
		out[i] = locationToJSON(l)
	}
	writeJSON(w, r, http.StatusOK, out)
}

func (s *Server) handleGetLocation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var loc *topology.Location
	s.do(func() {
		loc = s.tree.Get(id)
	})
	if loc == nil {
		writeError(w, r, topology.ErrNotFound)
		return
	}
	writeJSON(w, r, http.StatusOK, locationToJSON(loc))
}

func (s *Server) handleDeleteLocation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var err error
	s.do(func() {
		err = s.tree.DeleteLocation(id)
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type reparentRequest struct {
	ParentID string `json:"parent_id"`
}

func (s *Server) handleReparentLocation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req reparentRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, apiError{Error: "invalid request body"})
		return
	}

	var err error
	s.do(func() {
		err = s.tree.Reparent(id, req.ParentID)
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
