// Package proxyhandler implements the Simple-mode (spec §4.E) and
// Multi-mode (spec §4.F) handlers: they share body-size limiting, outbound
// request construction, and permit-scoped dispatch to a backend.
package proxyhandler

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/metricrelay/kairos-proxy/internal/config"
	"github.com/metricrelay/kairos-proxy/internal/state"
)

// maxBodyBytes bounds how much of an inbound or outbound body this proxy
// will buffer in memory. Spec §4.E step 1 leaves the exact figure
// implementation-defined; a few megabytes keeps memory bounded without
// rejecting realistic query payloads.
const maxBodyBytes = 8 << 20 // 8 MiB

// readLimitedBody reads r.Body up to maxBodyBytes and returns an error for
// a longer body instead of a truncated one.
func readLimitedBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return nil, err
	}
	if len(body) > maxBodyBytes {
		return nil, fmt.Errorf("request body exceeds %d bytes", maxBodyBytes)
	}
	return body, nil
}

// outboundPath is the path (plus query string, if any) forwarded to the
// backend unchanged — the safe default spec §9's open question settles on.
func outboundPath(r *http.Request) string {
	return r.URL.RequestURI()
}

// buildOutboundRequest constructs the POST to rule's backend carrying body,
// preserving the inbound Content-Type and adding the rule's bearer token
// if it has one (spec §4.E step 5).
func buildOutboundRequest(ctx context.Context, rule config.BackendRule, path, contentType string, body []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rule.URL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building outbound request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if rule.Token != "" {
		req.Header.Set("Authorization", "Bearer "+rule.Token)
	}
	return req, nil
}

// dispatch issues a single outbound POST to rule's backend, gated by a
// permit acquired from st, and buffers the whole response body (a body
// longer than maxBodyBytes is returned as an error). The permit
// is held from just before the request is issued until respBody has been
// fully read (spec §5's definition of permit lifetime), matching the
// scoped-release pattern spec §9 calls for. Used by Multi mode, which must
// parse the response as JSON before it can merge it; the backend's
// Content-Type is also returned so a non-2xx passthrough can forward it
// instead of assuming JSON.
func dispatch(ctx context.Context, st *state.State, rule config.BackendRule, path, contentType string, body []byte) (status int, respContentType string, respBody []byte, err error) {
	permit, err := st.Acquire(ctx)
	if err != nil {
		return 0, "", nil, fmt.Errorf("acquiring outbound permit: %w", err)
	}
	defer permit.Release()

	req, err := buildOutboundRequest(ctx, rule, path, contentType, body)
	if err != nil {
		return 0, "", nil, err
	}

	resp, err := st.Client.Do(req)
	if err != nil {
		return 0, "", nil, err
	}
	defer resp.Body.Close()

	respBody, err = io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return 0, "", nil, fmt.Errorf("reading backend response: %w", err)
	}
	if len(respBody) > maxBodyBytes {
		return 0, "", nil, fmt.Errorf("backend response exceeds %d bytes", maxBodyBytes)
	}

	return resp.StatusCode, resp.Header.Get("Content-Type"), respBody, nil
}

// dispatchStream issues a single outbound POST to rule's backend, gated by
// a permit acquired from st, and streams the response directly to w without
// buffering (spec §4.E step 6). The permit is released once the body has
// been fully transferred to the client. Used by Simple mode only.
//
// Once the backend's status line has been written to w, the client has
// already committed to that status: a failure in the body copy that
// follows cannot be turned into a proxy error response anymore, so it is
// silently dropped rather than returned as a handler error.
func dispatchStream(ctx context.Context, st *state.State, rule config.BackendRule, path, contentType string, body []byte, w http.ResponseWriter) error {
	permit, err := st.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquiring outbound permit: %w", err)
	}
	defer permit.Release()

	req, err := buildOutboundRequest(ctx, rule, path, contentType, body)
	if err != nil {
		return err
	}

	resp, err := st.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.WriteHeader(resp.StatusCode)
	io.Copy(w, resp.Body)
	return nil
}
