package main

import (
	"net/http"

	"github.com/angeloszaimis/compute-balancer/internal/metrics"
	"github.com/angeloszaimis/compute-balancer/internal/status"
)

const metricsLogLimit = 100

func setupRouter(page *status.Page, metricsCollector *metrics.Collector) *http.ServeMux {
	mux := http.NewServeMux()

	mux.Handle("GET /{$}", page)
	mux.HandleFunc("GET /api/snapshot", page.API())
	mux.HandleFunc("GET /api/metrics", metricsCollector.Handler(metricsLogLimit))
	mux.Handle("GET /metrics", metricsCollector.PrometheusHandler())

	return mux
}
