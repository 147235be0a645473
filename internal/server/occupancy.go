package server

import (
	"net/http"
	"time"

	"hometopology/internal/occupancy"
)

type contributionJSON struct {
	SourceID  string     `json:"source_id"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

type locationStateJSON struct {
	LocationID     string              `json:"location_id"`
	IsOccupied     bool                `json:"is_occupied"`
	Contributions  []contributionJSON  `json:"contributions"`
	LockedBy       []string            `json:"locked_by"`
	NextExpiration *time.Time          `json:"next_expiration,omitempty"`
}

func locationStateToJSON(st occupancy.LocationState) locationStateJSON {
	contribs := make([]contributionJSON, len(st.Contributions))
	for i, c := range st.Contributions {
		contribs[i] = contributionJSON{SourceID: c.SourceID, ExpiresAt: c.ExpiresAt}
	}
	return locationStateJSON{
		LocationID:     st.LocationID,
		IsOccupied:     st.IsOccupied,
		Contributions:  contribs,
		LockedBy:       st.LockedBy,
		NextExpiration: st.NextExpiration,
	}
}

type triggerRequest struct {
	LocationID     string `json:"location_id"`
	SourceID       string `json:"source_id"`
	TimeoutSeconds *int   `json:"timeout_seconds,omitempty"`
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	var req triggerRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, apiError{Error: "invalid request body"})
		return
	}
	timeout := secondsToDuration(req.TimeoutSeconds)

	var err error
	now := time.Now()
	s.do(func() {
		err = s.module.Trigger(req.LocationID, req.SourceID, timeout, now)
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type clearRequest struct {
	LocationID              string `json:"location_id"`
	SourceID                string `json:"source_id"`
	TrailingTimeoutSeconds *int   `json:"trailing_timeout_seconds,omitempty"`
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	var req clearRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, apiError{Error: "invalid request body"})
		return
	}
	trailing := secondsToDuration(req.TrailingTimeoutSeconds)

	var err error
	now := time.Now()
	s.do(func() {
		err = s.module.Clear(req.LocationID, req.SourceID, trailing, now)
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type locationIDRequest struct {
	LocationID string `json:"location_id"`
}

func (s *Server) handleVacate(w http.ResponseWriter, r *http.Request) {
	var req locationIDRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, apiError{Error: "invalid request body"})
		return
	}

	var err error
	now := time.Now()
	s.do(func() {
		err = s.module.Engine.Vacate(req.LocationID, now)
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type vacateAreaRequest struct {
	LocationID    string `json:"location_id"`
	SourceID      string `json:"source_id"`
	IncludeLocked bool   `json:"include_locked"`
}

func (s *Server) handleVacateArea(w http.ResponseWriter, r *http.Request) {
	var req vacateAreaRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, apiError{Error: "invalid request body"})
		return
	}

	var affected []string
	var err error
	now := time.Now()
	s.do(func() {
		affected, err = s.module.Engine.VacateArea(req.LocationID, req.SourceID, req.IncludeLocked, now)
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, struct {
		Affected []string `json:"affected"`
	}{Affected: affected})
}

type sourceActionRequest struct {
	LocationID string `json:"location_id"`
	SourceID   string `json:"source_id"`
}

func (s *Server) handleLock(w http.ResponseWriter, r *http.Request) {
	var req sourceActionRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, apiError{Error: "invalid request body"})
		return
	}

	var err error
	now := time.Now()
	s.do(func() {
		err = s.module.Engine.Lock(req.LocationID, req.SourceID, now)
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUnlock(w http.ResponseWriter, r *http.Request) {
	var req sourceActionRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, apiError{Error: "invalid request body"})
		return
	}

	var err error
	now := time.Now()
	s.do(func() {
		err = s.module.Engine.Unlock(req.LocationID, req.SourceID, now)
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUnlockAll(w http.ResponseWriter, r *http.Request) {
	var req locationIDRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, apiError{Error: "invalid request body"})
		return
	}

	var err error
	now := time.Now()
	s.do(func() {
		err = s.module.Engine.UnlockAll(req.LocationID, now)
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetLocationState(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var st occupancy.LocationState
	var err error
	now := time.Now()
	s.do(func() {
		st, err = s.module.GetLocationState(id, now)
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, locationStateToJSON(st))
}

func (s *Server) handleDump(w http.ResponseWriter, r *http.Request) {
	var snap occupancy.Snapshot
	s.do(func() {
		snap = s.module.Engine.DumpState()
	})
	writeJSON(w, r, http.StatusOK, snap)
}

type restoreRequest struct {
	Snapshot      occupancy.Snapshot `json:"snapshot"`
	MaxAgeSeconds int                `json:"max_age_seconds"`
}

func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	var req restoreRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, apiError{Error: "invalid request body"})
		return
	}
	maxAge := time.Duration(req.MaxAgeSeconds) * time.Second

	var err error
	now := time.Now()
	s.do(func() {
		err = s.module.Engine.RestoreState(req.Snapshot, now, maxAge)
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func secondsToDuration(seconds *int) *time.Duration {
	if seconds == nil {
		return nil
	}
	d := time.Duration(*seconds) * time.Second
	return &d
}
