package metrics

import (
	"encoding/json"
	"net/http"
)

// Handler serves the current snapshot as JSON, including the live backend
// state when backends is not nil.
func (c *Collector) Handler(strategy string, backends BackendSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := c.Snapshot(strategy)
		if backends != nil {
			snap.Backends = backends()
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(snap); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
}
