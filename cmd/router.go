package main

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/angeloszaimis/adaptive-router/internal/attemptlog"
	"github.com/angeloszaimis/adaptive-router/internal/handler"
)

type routes struct {
	router   http.Handler
	snapshot http.HandlerFunc
	metrics  http.Handler
	// runs is nil when the attempt log is disabled.
	runs     *attemptlog.Handlers
}

func setupRouter(h routes) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", handler.Health).Methods(http.MethodGet)
	r.Handle("/metrics", h.metrics).Methods(http.MethodGet)
	r.HandleFunc("/api/snapshot", h.snapshot).Methods(http.MethodGet)

	if h.runs != nil {
		api := r.PathPrefix("/api").Subrouter()
		api.HandleFunc("/runs", h.runs.ListRuns).Methods(http.MethodGet)
		api.HandleFunc("/runs/current", h.runs.CurrentRun).Methods(http.MethodGet)
		api.HandleFunc("/runs/{id}/attempts", h.runs.Attempts).Methods(http.MethodGet)
		api.HandleFunc("/sessions", h.runs.Sessions).Methods(http.MethodGet)
	}

	// The router answers 405 itself for anything but POST.
	r.Handle("/", h.router)

	return r
}
