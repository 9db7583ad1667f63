// Package metricnames implements the metric extractor (spec §4.C): given
// the inbound request's headers and raw body bytes, it yields the ordered
// list of metric names the request references.
package metricnames

import (
	"net/http"

	"github.com/metricrelay/kairos-proxy/internal/querybody"
)

// HeaderName is the header consulted before any body parsing. http.Header
// lookups are already case-insensitive via MIME canonicalization, so no
// extra normalization is needed to satisfy the case-insensitive match rule.
const HeaderName = "X-Metricname"

// Extract applies the precedence rules of spec §4.C: a non-empty
// X-METRICNAME header short-circuits body parsing entirely; otherwise the
// body is parsed as JSON and its recognized shape (if any) yields the
// names. A JSON parse error is treated as "no metric found", not surfaced.
//
// doc is nil when the header path was taken, since the body was never
// parsed. The Multi-mode handler then forwards the original body unsplit,
// as a single group for the header's metric.
func Extract(header http.Header, body []byte) (names []string, doc *querybody.Document) {
	if v := header.Get(HeaderName); v != "" {
		return []string{v}, nil
	}

	parsed, err := querybody.Parse(body)
	if err != nil {
		return nil, nil
	}
	return parsed.Names(), parsed
}
