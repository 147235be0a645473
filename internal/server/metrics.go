package server

import (
	"fmt"
	"net/http"
	"time"
)

// registerMetrics registers the /metrics endpoint for Prometheus scraping.
// This endpoint is unauthenticated, standard for Prometheus targets.
func (s *Server) registerMetrics(mux *http.ServeMux) {
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		s.writeMetrics(w)
	})
}

func (s *Server) writeMetrics(w http.ResponseWriter) {
	_, _ = fmt.Fprintf(w, "# HELP topologyd_info Server version and metadata.\n")
	_, _ = fmt.Fprintf(w, "# TYPE topologyd_info gauge\n")
	_, _ = fmt.Fprintf(w, "topologyd_info{version=%q} 1\n", Version)

	_, _ = fmt.Fprintf(w, "# HELP topologyd_uptime_seconds Seconds since server start.\n")
	_, _ = fmt.Fprintf(w, "# TYPE topologyd_uptime_seconds gauge\n")
	_, _ = fmt.Fprintf(w, "topologyd_uptime_seconds %.0f\n", time.Since(s.startTime).Seconds())

	var total, occupied, locked int
	s.do(func() {
		locs := s.tree.AllLocations()
		total = len(locs)
		for _, l := range locs {
			st, err := s.module.Engine.GetLocationState(l.ID)
			if err != nil {
				continue
			}
			if st.IsOccupied {
				occupied++
			}
			if len(st.LockedBy) > 0 {
				locked++
			}
		}
	})

	_, _ = fmt.Fprintf(w, "# HELP topologyd_locations_total Total Locations in the tree.\n")
	_, _ = fmt.Fprintf(w, "# TYPE topologyd_locations_total gauge\n")
	_, _ = fmt.Fprintf(w, "topologyd_locations_total %d\n", total)

	_, _ = fmt.Fprintf(w, "# HELP topologyd_locations_occupied Locations currently occupied.\n")
	_, _ = fmt.Fprintf(w, "# TYPE topologyd_locations_occupied gauge\n")
	_, _ = fmt.Fprintf(w, "topologyd_locations_occupied %d\n", occupied)

	_, _ = fmt.Fprintf(w, "# HELP topologyd_locations_locked Locations currently locked.\n")
	_, _ = fmt.Fprintf(w, "# TYPE topologyd_locations_locked gauge\n")
	_, _ = fmt.Fprintf(w, "topologyd_locations_locked %d\n", locked)
}
