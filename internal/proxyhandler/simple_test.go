package proxyhandler

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/metricrelay/kairos-proxy/internal/config"
)

func TestSimpleHandlerHeaderRoutingPassthrough(t *testing.T) {
	var receivedBody []byte
	var receivedPath string
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedPath = r.URL.Path
		receivedBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"queries":[]}`))
	}))
	defer backend.Close()

	rule := compileRule(t, `^cpu\..*`, backend.URL)
	st := newTestState(t, []config.BackendRule{rule}, 4)
	h := NewSimpleHandler(st, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/datapoints/query", strings.NewReader(`{"foo":1}`))
	req.Header.Set("X-METRICNAME", "cpu.idle")
	rr := httptest.NewRecorder()

	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body=%s", rr.Code, rr.Body.String())
	}
	if receivedPath != "/api/v1/datapoints/query" {
		t.Errorf("backend received path %q", receivedPath)
	}
	if string(receivedBody) != `{"foo":1}` {
		t.Errorf("backend received body %q, want byte-identical passthrough", receivedBody)
	}
	if rr.Body.String() != `{"queries":[]}` {
		t.Errorf("client received body %q, want byte-identical backend response", rr.Body.String())
	}
}

func TestSimpleHandlerBodyRouting(t *testing.T) {
	var hitMem, hitCPU bool
	memBackend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hitMem = true
		w.WriteHeader(http.StatusOK)
	}))
	defer memBackend.Close()
	cpuBackend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hitCPU = true
		w.WriteHeader(http.StatusOK)
	}))
	defer cpuBackend.Close()

	st := newTestState(t, []config.BackendRule{
		compileRule(t, `^cpu\..*`, cpuBackend.URL),
		compileRule(t, `^mem\..*`, memBackend.URL),
	}, 4)
	h := NewSimpleHandler(st, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/datapoints/query", strings.NewReader(`{"metrics":[{"name":"mem.used"}]}`))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if !hitMem || hitCPU {
		t.Errorf("hitMem=%v hitCPU=%v, want only mem backend hit", hitMem, hitCPU)
	}
}

func TestSimpleHandlerNoMetricIs502(t *testing.T) {
	st := newTestState(t, []config.BackendRule{compileRule(t, `.*`, "http://unused")}, 4)
	h := NewSimpleHandler(st, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/datapoints/query", strings.NewReader(`{}`))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", rr.Code)
	}
}

func TestSimpleHandlerNoMatchingBackendIs502(t *testing.T) {
	st := newTestState(t, []config.BackendRule{compileRule(t, `^cpu\..*`, "http://unused")}, 4)
	h := NewSimpleHandler(st, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/datapoints/query", strings.NewReader(`{"metric":"disk.io"}`))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", rr.Code)
	}
}

func TestSimpleHandlerBackendNon2xxPassthrough(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	}))
	defer backend.Close()

	st := newTestState(t, []config.BackendRule{compileRule(t, `.*`, backend.URL)}, 4)
	h := NewSimpleHandler(st, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/datapoints/query", strings.NewReader(`{"metric":"cpu.idle"}`))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500 passthrough", rr.Code)
	}
	if rr.Body.String() != "boom" {
		t.Errorf("body = %q, want verbatim backend body", rr.Body.String())
	}
}

func TestSimpleHandlerPermitReleasedAfterRequest(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer backend.Close()

	st := newTestState(t, []config.BackendRule{compileRule(t, `.*`, backend.URL)}, 2)
	h := NewSimpleHandler(st, nil)

	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/datapoints/query", strings.NewReader(`{"metric":"cpu.idle"}`))
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
	}

	if got := st.AvailablePermits(); got != 2 {
		t.Errorf("AvailablePermits() = %d, want 2 (no leak)", got)
	}
}
