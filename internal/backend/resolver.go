// Package backend resolves metric names to the backend rule that claims
// them, preserving the ordered, first-match-wins contract of the
// configuration's backend list.
package backend

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/metricrelay/kairos-proxy/internal/config"
)

// cacheSize bounds the metric-name -> rule-index lookup cache. It is a pure
// performance optimization; eviction never changes which rule resolves for
// a given name, since the underlying ordered scan is the source of truth.
const cacheSize = 4096

// Resolver selects the first backend rule whose regex matches a metric
// name. The rule list is immutable for the life of the Resolver.
type Resolver struct {
	rules []config.BackendRule
	cache *lru.Cache[string, int]
}

// NewResolver builds a Resolver over an ordered, already-compiled rule list.
func NewResolver(rules []config.BackendRule) *Resolver {
	cache, err := lru.New[string, int](cacheSize)
	if err != nil {
		// Only returns an error for a non-positive size, which cacheSize
		// never is.
		panic(fmt.Sprintf("backend: building resolver cache: %v", err))
	}
	return &Resolver{rules: rules, cache: cache}
}

// Resolve returns the backend rule claiming metric, and false if no rule
// matches (spec §4.D: "no backend for metric <name>", no implicit default).
func (r *Resolver) Resolve(metric string) (config.BackendRule, bool) {
	if idx, ok := r.cache.Get(metric); ok {
		return r.rules[idx], true
	}

	for i, rule := range r.rules {
		if rule.Regex.MatchString(metric) {
			r.cache.Add(metric, i)
			return rule, true
		}
	}

	return config.BackendRule{}, false
}
