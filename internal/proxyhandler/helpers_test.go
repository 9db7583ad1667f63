package proxyhandler

import (
	"regexp"
	"testing"

	"github.com/metricrelay/kairos-proxy/internal/config"
	"github.com/metricrelay/kairos-proxy/internal/state"
)

func compileRule(t *testing.T, pattern, url string) config.BackendRule {
	t.Helper()
	return config.BackendRule{Pattern: pattern, Regex: regexp.MustCompile(pattern), URL: url}
}

func newTestState(t *testing.T, backends []config.BackendRule, concurrency int) *state.State {
	t.Helper()
	cfg := &config.Config{
		TimeoutSecs:            5,
		MaxOutboundConcurrency: concurrency,
		Mode:                   config.ModeMulti,
		Backends:               backends,
	}
	return state.New(cfg)
}

// newTestStateWithTimeoutSecs is newTestState but with a caller-chosen
// outbound timeout, for exercising the upstream-timeout error path.
func newTestStateWithTimeoutSecs(t *testing.T, backends []config.BackendRule, concurrency, timeoutSecs int) *state.State {
	t.Helper()
	cfg := &config.Config{
		TimeoutSecs:            timeoutSecs,
		MaxOutboundConcurrency: concurrency,
		Mode:                   config.ModeMulti,
		Backends:               backends,
	}
	return state.New(cfg)
}
