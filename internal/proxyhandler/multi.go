package proxyhandler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/metricrelay/kairos-proxy/internal/api/middleware"
	"github.com/metricrelay/kairos-proxy/internal/apierr"
	"github.com/metricrelay/kairos-proxy/internal/backend"
	"github.com/metricrelay/kairos-proxy/internal/config"
	"github.com/metricrelay/kairos-proxy/internal/metricnames"
	"github.com/metricrelay/kairos-proxy/internal/querybody"
	"github.com/metricrelay/kairos-proxy/internal/state"
)

// noBackendError reports that metric matched no configured backend rule.
type noBackendError struct{ metric string }

func (e *noBackendError) Error() string {
	return fmt.Sprintf("no backend for metric %q", e.metric)
}

// MultiHandler groups metrics by backend, issues one sub-request per
// backend concurrently, and merges the JSON responses into a single
// top-level `queries` array aligned with the original metric order (spec
// §4.F). A single-metric request naturally produces one group and is
// dispatched and merged the same way, satisfying the "degenerate to Simple"
// contract (still buffered and shape-validated) without a separate path.
type MultiHandler struct {
	state  *state.State
	logger *slog.Logger
}

// NewMultiHandler constructs a MultiHandler over shared state.
func NewMultiHandler(st *state.State, logger *slog.Logger) *MultiHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &MultiHandler{state: st, logger: logger}
}

// group is one backend's share of the partitioned request: which metrics
// (by their original index, for merge re-ordering) it carries, and the
// sub-request body to send it.
type group struct {
	rule       config.BackendRule
	metricIdxs []int
	body       []byte
}

// subResult is the outcome of dispatching one group.
type subResult struct {
	group       group
	status      int
	contentType string
	body        []byte
	parsed      struct {
		Queries []json.RawMessage `json:"queries"`
	}
	parseErr error
	err      error
}

func (h *MultiHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	body, err := readLimitedBody(r)
	if err != nil {
		apierr.Write(w, apierr.New(apierr.CodeValidationError, "failed to read request body").WithRequestID(requestID))
		return
	}

	names, doc := metricnames.Extract(r.Header, body)
	if len(names) == 0 {
		apierr.Write(w, apierr.NoMetric().WithRequestID(requestID))
		return
	}

	groups, err := partition(names, doc, body, h.state.Resolver)
	if err != nil {
		var nb *noBackendError
		if errors.As(err, &nb) {
			apierr.Write(w, apierr.NoBackend(nb.metric).WithRequestID(requestID))
			return
		}
		apierr.Write(w, apierr.Internal("failed to partition request").WithRequestID(requestID))
		return
	}

	results := dispatchAll(r.Context(), h.state, groups, outboundPath(r), r.Header.Get("Content-Type"))

	h.respond(w, len(names), results, requestID)
}

// partition groups metric names by resolved backend, preserving per-backend
// order (spec §4.F step 3). Where the inbound document has a Query-form
// "metrics" array, each group's sub-request body is a clone of the original
// document carrying only that group's entries (step 4); otherwise (header
// override, or a Point/AltPoint body — always a single metric in that case)
// the original body is forwarded as-is, since there is nothing to split.
func partition(names []string, doc *querybody.Document, rawBody []byte, resolver *backend.Resolver) ([]group, error) {
	type pending struct {
		rule    config.BackendRule
		entries []querybody.MetricEntry
		idxs    []int
	}

	order := make([]string, 0, len(names))
	byURL := make(map[string]*pending, len(names))

	for i, name := range names {
		rule, ok := resolver.Resolve(name)
		if !ok {
			return nil, &noBackendError{metric: name}
		}

		p, exists := byURL[rule.URL]
		if !exists {
			p = &pending{rule: rule}
			byURL[rule.URL] = p
			order = append(order, rule.URL)
		}
		p.idxs = append(p.idxs, i)

		// names came from doc.Names(), so names[i] is doc.Metrics[i]; taking
		// the entry by position keeps repeated metric names distinct.
		if doc != nil && doc.Shape == querybody.ShapeQuery && i < len(doc.Metrics) {
			p.entries = append(p.entries, doc.Metrics[i])
		}
	}

	groups := make([]group, 0, len(order))
	for _, url := range order {
		p := byURL[url]

		var body []byte
		if len(p.entries) == len(p.idxs) && doc != nil {
			b, err := doc.WithMetrics(p.entries)
			if err != nil {
				return nil, fmt.Errorf("building sub-request body: %w", err)
			}
			body = b
		} else {
			body = rawBody
		}

		groups = append(groups, group{rule: p.rule, metricIdxs: p.idxs, body: body})
	}

	return groups, nil
}

// dispatchAll issues one goroutine per group and fans the results back in
// through a buffered channel, honoring context cancellation (spec §5's
// "cancellation of the inbound request aborts all in-flight sub-requests").
func dispatchAll(ctx context.Context, st *state.State, groups []group, path, contentType string) []subResult {
	resultsChan := make(chan subResult, len(groups))

	for _, g := range groups {
		go func(g group) {
			status, respContentType, body, err := dispatch(ctx, st, g.rule, path, contentType, g.body)
			res := subResult{group: g, status: status, contentType: respContentType, body: body, err: err}
			if err == nil && status >= 200 && status < 300 {
				if perr := json.Unmarshal(body, &res.parsed); perr != nil {
					res.parseErr = perr
				}
			}
			resultsChan <- res
		}(g)
	}

	results := make([]subResult, 0, len(groups))
	for range groups {
		select {
		case res := <-resultsChan:
			results = append(results, res)
		case <-ctx.Done():
			results = append(results, subResult{err: ctx.Err()})
		}
	}

	return results
}

// respond implements the merge/partial-failure contract of spec §4.F steps
// 6-8.
func (h *MultiHandler) respond(w http.ResponseWriter, metricCount int, results []subResult, requestID string) {
	// First non-2xx in input-metric order wins, tie-broken by the minimum
	// original metric index its group carried.
	var firstBad *subResult
	for i := range results {
		res := &results[i]
		if res.err != nil {
			h.logger.Error("multi mode sub-request failed", "request_id", requestID, "error", res.err)
			writeUpstreamError(w, res.err, requestID)
			return
		}
		if res.status < 200 || res.status >= 300 {
			if firstBad == nil || minIdx(res.group.metricIdxs) < minIdx(firstBad.group.metricIdxs) {
				firstBad = res
			}
		}
	}
	if firstBad != nil {
		if firstBad.contentType != "" {
			w.Header().Set("Content-Type", firstBad.contentType)
		} else {
			w.Header().Set("Content-Type", "application/json")
		}
		w.WriteHeader(firstBad.status)
		w.Write(firstBad.body)
		return
	}

	for _, res := range results {
		if res.parseErr != nil {
			h.logger.Error("multi mode sub-response unparseable", "request_id", requestID, "error", res.parseErr)
			apierr.Write(w, apierr.UpstreamUnparseable().WithRequestID(requestID))
			return
		}
		if len(res.parsed.Queries) != len(res.group.metricIdxs) {
			apierr.Write(w, apierr.UpstreamUnparseable().WithRequestID(requestID))
			return
		}
	}

	merged := make([]json.RawMessage, metricCount)
	for _, res := range results {
		for j, idx := range res.group.metricIdxs {
			merged[idx] = res.parsed.Queries[j]
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(struct {
		Queries []json.RawMessage `json:"queries"`
	}{Queries: merged})
}

func minIdx(idxs []int) int {
	m := idxs[0]
	for _, i := range idxs[1:] {
		if i < m {
			m = i
		}
	}
	return m
}
