// Package querybody parses the proxy's inbound JSON query documents into a
// structure-preserving form: recognized fields are decoded just enough to
// extract metric names, while every other field — including subtrees this
// package never inspects, such as aggregators or tags nested inside a
// metric entry — survives untouched as raw JSON for later re-serialization.
package querybody

import "encoding/json"

// Shape tags which of the three recognized document forms was detected.
type Shape int

const (
	// ShapeNone means neither a metrics array, metric string, nor
	// metricName string was found.
	ShapeNone Shape = iota
	// ShapeQuery is the "metrics": [{"name": "..."}] form.
	ShapeQuery
	// ShapePoint is the top-level "metric": "..." form.
	ShapePoint
	// ShapeAltPoint is the top-level "metricName": "..." form.
	ShapeAltPoint
)

// MetricEntry is one element of a Query-form "metrics" array: its name,
// plus the entry's entire original JSON subtree (aggregators, tags, and
// anything else it carries).
type MetricEntry struct {
	Name string
	Raw  json.RawMessage
}

// Document is a parsed query body. Unrecognized top-level fields are kept
// as raw JSON and carried unchanged into any reconstructed sub-document.
type Document struct {
	Shape   Shape
	Metrics []MetricEntry // populated only when Shape == ShapeQuery
	single  string         // populated when Shape is ShapePoint or ShapeAltPoint

	top map[string]json.RawMessage
}

// Parse decodes raw body bytes into a Document. A JSON parse error is
// returned to the caller, who (per the metric extractor's contract, spec
// §4.C) must treat it as "no metric found" rather than surface it directly.
func Parse(body []byte) (*Document, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(body, &top); err != nil {
		return nil, err
	}

	doc := &Document{top: top}

	if raw, ok := top["metrics"]; ok {
		var rawList []json.RawMessage
		if err := json.Unmarshal(raw, &rawList); err == nil && len(rawList) > 0 {
			doc.Shape = ShapeQuery
			doc.Metrics = decodeMetricEntries(rawList)
			return doc, nil
		}
	}

	if raw, ok := top["metric"]; ok {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil && s != "" {
			doc.Shape = ShapePoint
			doc.single = s
			return doc, nil
		}
	}

	if raw, ok := top["metricName"]; ok {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil && s != "" {
			doc.Shape = ShapeAltPoint
			doc.single = s
			return doc, nil
		}
	}

	return doc, nil
}

// decodeMetricEntries extracts {name, raw} pairs from a non-empty "metrics"
// array, skipping elements lacking a string "name" (spec §4.C step 2).
func decodeMetricEntries(rawList []json.RawMessage) []MetricEntry {
	entries := make([]MetricEntry, 0, len(rawList))
	for _, raw := range rawList {
		var holder struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal(raw, &holder); err != nil || holder.Name == "" {
			continue
		}
		entries = append(entries, MetricEntry{Name: holder.Name, Raw: raw})
	}
	return entries
}

// Names returns the ordered metric names this document yields, per the
// shape it was parsed as. Returns nil for ShapeNone.
func (d *Document) Names() []string {
	switch d.Shape {
	case ShapeQuery:
		names := make([]string, len(d.Metrics))
		for i, m := range d.Metrics {
			names[i] = m.Name
		}
		return names
	case ShapePoint, ShapeAltPoint:
		return []string{d.single}
	default:
		return nil
	}
}

// EntryByName returns the first Query-form metric entry with the given
// name, and whether one was found.
func (d *Document) EntryByName(name string) (MetricEntry, bool) {
	for _, m := range d.Metrics {
		if m.Name == name {
			return m, true
		}
	}
	return MetricEntry{}, false
}

// WithMetrics clones this document, replacing its "metrics" field with
// exactly the given entries (in order) and leaving the value of every other
// top-level field — including ones this package never inspects — as
// received (spec §4.F step 4). The output is not byte-identical to the
// input: json.Marshal compacts whitespace, escapes <, > and &, and sorts
// the top-level keys.
func (d *Document) WithMetrics(entries []MetricEntry) ([]byte, error) {
	clone := make(map[string]json.RawMessage, len(d.top))
	for k, v := range d.top {
		clone[k] = v
	}

	rawList := make([]json.RawMessage, len(entries))
	for i, e := range entries {
		rawList[i] = e.Raw
	}
	metricsJSON, err := json.Marshal(rawList)
	if err != nil {
		return nil, err
	}
	clone["metrics"] = metricsJSON

	return json.Marshal(clone)
}
