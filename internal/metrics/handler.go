package metrics

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler serves the collector snapshot as JSON.
func (c *Collector) Handler(logLimit int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := c.metrics.Snapshot(logLimit)

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(snap); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
}

// PrometheusHandler serves the collector registry in the Prometheus text format.
func (c *Collector) PrometheusHandler() http.Handler {
	return promhttp.HandlerFor(c.metrics.Registry(), promhttp.HandlerOpts{})
}
