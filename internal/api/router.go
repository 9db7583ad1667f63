// Package api binds the HTTP surface (spec §4.G) to the Simple/Multi
// handlers and wraps it in the proxy's middleware chain.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/metricrelay/kairos-proxy/internal/api/middleware"
	"github.com/metricrelay/kairos-proxy/internal/apierr"
	"github.com/metricrelay/kairos-proxy/internal/config"
	"github.com/metricrelay/kairos-proxy/internal/proxyhandler"
	"github.com/metricrelay/kairos-proxy/internal/state"
)

const (
	queryPath     = "/api/v1/datapoints/query"
	queryTagsPath = "/api/v1/datapoints/query/tags"
	healthPath    = "/health"
)

// NewRouter builds the proxy's HTTP router: the two query routes (bound to
// the Simple or Multi handler depending on configured mode), the health
// route, and the request-ID / logging / recovery middleware chain applied
// to every route in that order. The 404 and 405 responses get the
// request-ID and logging middleware too. A nil logger means slog.Default().
func NewRouter(st *state.State, logger *slog.Logger) *mux.Router {
	if logger == nil {
		logger = slog.Default()
	}

	router := mux.NewRouter()

	router.Use(middleware.RequestIDMiddleware)
	router.Use(middleware.LoggingMiddleware(logger))
	router.Use(middleware.RecoveryMiddleware(logger))

	var handler http.Handler
	if st.Config.Mode == config.ModeMulti {
		handler = proxyhandler.NewMultiHandler(st, logger)
	} else {
		handler = proxyhandler.NewSimpleHandler(st, logger)
	}

	router.Handle(queryPath, handler).Methods(http.MethodPost)
	router.Handle(queryTagsPath, handler).Methods(http.MethodPost)
	router.HandleFunc(healthPath, healthHandler).Methods(http.MethodGet)

	// gorilla/mux runs Use() middleware only for matched routes, so the
	// fallback handlers are wrapped explicitly.
	router.MethodNotAllowedHandler = middleware.RequestIDMiddleware(middleware.LoggingMiddleware(logger)(http.HandlerFunc(methodNotAllowedHandler)))
	router.NotFoundHandler = middleware.RequestIDMiddleware(middleware.LoggingMiddleware(logger)(http.HandlerFunc(notFoundHandler)))

	return router
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func methodNotAllowedHandler(w http.ResponseWriter, r *http.Request) {
	apierr.Write(w, apierr.MethodNotAllowed().WithRequestID(middleware.GetRequestID(r.Context())))
}

func notFoundHandler(w http.ResponseWriter, r *http.Request) {
	apierr.Write(w, apierr.NotFound().WithRequestID(middleware.GetRequestID(r.Context())))
}
