package proxyhandler

import (
	"errors"
	"log/slog"
	"net"
	"net/http"

	"github.com/metricrelay/kairos-proxy/internal/api/middleware"
	"github.com/metricrelay/kairos-proxy/internal/apierr"
	"github.com/metricrelay/kairos-proxy/internal/metricnames"
	"github.com/metricrelay/kairos-proxy/internal/state"
)

// SimpleHandler is the streaming pass-through handler (spec §4.E): it
// resolves a backend from the request's first metric, forwards the
// original body bytes unchanged, and streams the backend's response back
// without buffering.
type SimpleHandler struct {
	state  *state.State
	logger *slog.Logger
}

// NewSimpleHandler constructs a SimpleHandler over shared state.
func NewSimpleHandler(st *state.State, logger *slog.Logger) *SimpleHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SimpleHandler{state: st, logger: logger}
}

func (h *SimpleHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	body, err := readLimitedBody(r)
	if err != nil {
		apierr.Write(w, apierr.New(apierr.CodeValidationError, "failed to read request body").WithRequestID(requestID))
		return
	}

	names, _ := metricnames.Extract(r.Header, body)
	if len(names) == 0 {
		apierr.Write(w, apierr.NoMetric().WithRequestID(requestID))
		return
	}

	rule, ok := h.state.Resolver.Resolve(names[0])
	if !ok {
		apierr.Write(w, apierr.NoBackend(names[0]).WithRequestID(requestID))
		return
	}

	if err := dispatchStream(r.Context(), h.state, rule, outboundPath(r), r.Header.Get("Content-Type"), body, w); err != nil {
		h.logger.Error("simple mode outbound call failed", "request_id", requestID, "error", err)
		writeUpstreamError(w, err, requestID)
		return
	}
}

// writeUpstreamError classifies an outbound transport error into the
// timeout/unavailable error kinds spec §7 distinguishes.
func writeUpstreamError(w http.ResponseWriter, err error, requestID string) {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		apierr.Write(w, apierr.UpstreamTimeout().WithRequestID(requestID))
		return
	}
	apierr.Write(w, apierr.UpstreamUnavailable().WithRequestID(requestID))
}
