package backend

import (
	"regexp"
	"testing"

	"github.com/metricrelay/kairos-proxy/internal/config"
)

func rule(pattern, url string) config.BackendRule {
	return config.BackendRule{Pattern: pattern, Regex: regexp.MustCompile(pattern), URL: url}
}

func TestResolveFirstMatchWins(t *testing.T) {
	r := NewResolver([]config.BackendRule{
		rule(`^cpu\..*`, "http://b1"),
		rule(`^cpu\.idle$`, "http://b2"),
	})

	got, ok := r.Resolve("cpu.idle")
	if !ok {
		t.Fatal("Resolve() ok = false, want true")
	}
	if got.URL != "http://b1" {
		t.Errorf("Resolve() = %q, want earlier rule http://b1 (order dominance)", got.URL)
	}
}

func TestResolveNoMatch(t *testing.T) {
	r := NewResolver([]config.BackendRule{rule(`^cpu\..*`, "http://b1")})

	_, ok := r.Resolve("disk.io")
	if ok {
		t.Fatal("Resolve() ok = true, want false for non-matching metric")
	}
}

func TestResolveCacheConsistentWithScan(t *testing.T) {
	r := NewResolver([]config.BackendRule{
		rule(`^mem\..*`, "http://b-mem"),
		rule(`^cpu\..*`, "http://b-cpu"),
	})

	for i := 0; i < 3; i++ {
		got, ok := r.Resolve("cpu.user")
		if !ok || got.URL != "http://b-cpu" {
			t.Fatalf("iteration %d: Resolve() = (%v, %v), want (http://b-cpu, true)", i, got.URL, ok)
		}
	}
}
