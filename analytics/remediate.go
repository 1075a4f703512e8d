package analytics

import "sort"

// Remediator fills missing values and repairs implausible readings. Work is
// partitioned by a grouping field (station by default); partitions never
// share state, so the per-partition passes are independent.
type Remediator struct {
	groupField string
	bounds     map[string]Bounds
	dedupe     bool
}

// RemediatorOption adjusts optional Remediator behavior.
type RemediatorOption func(*Remediator)

// WithGroupField changes the partitioning field. Legal values are
// station_id (default) and country.
func WithGroupField(field string) RemediatorOption {
	return func(r *Remediator) {
		r.groupField = field
	}
}

// WithBounds replaces the default plausibility bounds table.
func WithBounds(bounds map[string]Bounds) RemediatorOption {
	return func(r *Remediator) {
		r.bounds = bounds
	}
}

// WithDedupe drops duplicate (station, timestamp) pairs, keeping the last
// occurrence. Off by default: whether aggregation keys dedupe must be an
// explicit caller choice.
func WithDedupe() RemediatorOption {
	return func(r *Remediator) {
		r.dedupe = true
	}
}

// NewRemediator validates options and returns a ready Remediator.
func NewRemediator(opts ...RemediatorOption) (*Remediator, error) {
	r := &Remediator{
		groupField: FieldStationID,
		bounds:     DefaultBounds(),
	}
	for _, opt := range opts {
		opt(r)
	}

	switch r.groupField {
	case FieldStationID, FieldCountry:
	default:
		return nil, configErrorf("group_field", "must be %q or %q, got %q", FieldStationID, FieldCountry, r.groupField)
	}
	for metric, b := range r.bounds {
		if !isCanonicalMetric(metric) {
			return nil, configErrorf("bounds", "unknown metric %q", metric)
		}
		if b.Low > b.High {
			return nil, configErrorf("bounds", "%s: low %g above high %g", metric, b.Low, b.High)
		}
	}
	return r, nil
}

// Remediate cleans a batch of canonical records. Within each partition,
// sorted by timestamp ascending, it:
//
//  1. optionally drops duplicate (station, timestamp) records, keeping the last
//  2. fills missing metric values by linear interpolation in both directions
//     (interior gaps linearly, leading and trailing gaps from the nearest value)
//  3. fills a missing country with the partition's most frequent value
//  4. nulls values outside the plausibility bounds and re-interpolates once
//
// A record still carrying an out-of-range value after step 4 is dropped. A
// partition left with no valid temperature and no valid humidity at all is
// excluded from the output and listed in Diagnostics.ExcludedPartitions. A
// metric with zero observations in a partition stays null throughout; values
// are never invented.
//
// Output records are fresh copies ordered by partition first appearance,
// then timestamp. The input slice is not modified. Given the same input, the
// output is identical on every run.
func (r *Remediator) Remediate(records []Record) ([]Record, Diagnostics) {
	diag := Diagnostics{
		Filled:     make(map[string]int),
		OutOfRange: make(map[string]int),
	}
	out := make([]Record, 0, len(records))

	for _, part := range r.partition(records) {
		recs := part.records
		sort.SliceStable(recs, func(i, j int) bool {
			return recs[i].Timestamp.Before(recs[j].Timestamp)
		})
		if r.dedupe {
			recs = dedupeKeepLast(recs, &diag)
		}

		for _, metric := range MetricNames() {
			diag.Filled[metric] += interpolateMetric(recs, metric)
		}
		diag.CountriesFilled += fillCountryMode(recs)

		redo := make([]string, 0)
		for _, metric := range MetricNames() {
			b, ok := r.bounds[metric]
			if !ok {
				continue
			}
			nulled := 0
			for i := range recs {
				if v, ok := recs[i].Metrics[metric]; ok && (v < b.Low || v > b.High) {
					delete(recs[i].Metrics, metric)
					nulled++
				}
			}
			if nulled > 0 {
				diag.OutOfRange[metric] += nulled
				redo = append(redo, metric)
			}
		}
		for _, metric := range redo {
			diag.Filled[metric] += interpolateMetric(recs, metric)
		}

		kept := make([]Record, 0, len(recs))
		for _, rec := range recs {
			if r.outOfRange(rec) {
				diag.Dropped++
				continue
			}
			kept = append(kept, rec)
		}

		if !hasCoreSignal(kept) {
			diag.ExcludedPartitions = append(diag.ExcludedPartitions, part.key)
			continue
		}
		out = append(out, kept...)
	}
	return out, diag
}

type partition struct {
	key     string
	records []Record
}

func (r *Remediator) partition(records []Record) []partition {
	index := make(map[string]int)
	parts := make([]partition, 0)
	for _, rec := range records {
		key := r.groupValue(rec)
		idx, ok := index[key]
		if !ok {
			idx = len(parts)
			index[key] = idx
			parts = append(parts, partition{key: key})
		}
		parts[idx].records = append(parts[idx].records, rec.Clone())
	}
	return parts
}

func (r *Remediator) groupValue(rec Record) string {
	if r.groupField == FieldCountry {
		return rec.Country
	}
	return rec.StationID
}

func (r *Remediator) outOfRange(rec Record) bool {
	for metric, b := range r.bounds {
		if v, ok := rec.Metrics[metric]; ok && (v < b.Low || v > b.High) {
			return true
		}
	}
	return false
}

type dupKey struct {
	station string
	ts      int64
}

// dedupeKeepLast assumes recs are timestamp-sorted; among records sharing a
// (station, timestamp) key, the one appearing last in input order survives.
func dedupeKeepLast(recs []Record, diag *Diagnostics) []Record {
	seen := make(map[dupKey]int, len(recs))
	out := make([]Record, 0, len(recs))
	for _, rec := range recs {
		k := dupKey{station: rec.StationID, ts: rec.Timestamp.UnixNano()}
		if idx, ok := seen[k]; ok {
			out[idx] = rec
			diag.Deduped++
			continue
		}
		seen[k] = len(out)
		out = append(out, rec)
	}
	return out
}

// interpolateMetric fills null values of one metric across a sorted
// partition and returns the number of fills. Interior gaps interpolate
// linearly by position between the surrounding observations; gaps before the
// first or after the last observation copy the nearest value. A partition
// with no observations of the metric is left untouched.
func interpolateMetric(recs []Record, metric string) int {
	known := make([]int, 0, len(recs))
	for i := range recs {
		if _, ok := recs[i].Metrics[metric]; ok {
			known = append(known, i)
		}
	}
	if len(known) == 0 || len(known) == len(recs) {
		return 0
	}

	filled := 0
	for i := range recs {
		if _, ok := recs[i].Metrics[metric]; ok {
			continue
		}
		recs[i].SetMetric(metric, interpolatedValue(recs, known, i, metric))
		filled++
	}
	return filled
}

func interpolatedValue(recs []Record, known []int, i int, metric string) float64 {
	j := sort.SearchInts(known, i)
	switch {
	case j == 0:
		return recs[known[0]].Metrics[metric]
	case j == len(known):
		return recs[known[len(known)-1]].Metrics[metric]
	default:
		p, n := known[j-1], known[j]
		vp, vn := recs[p].Metrics[metric], recs[n].Metrics[metric]
		frac := float64(i-p) / float64(n-p)
		return vp + (vn-vp)*frac
	}
}

// fillCountryMode fills missing countries with the partition's most frequent
// value. Ties break toward the country seen first. A partition with no
// country at all is left as is.
func fillCountryMode(recs []Record) int {
	counts := make(map[string]int)
	order := make([]string, 0)
	for _, rec := range recs {
		if rec.Country == "" {
			continue
		}
		if counts[rec.Country] == 0 {
			order = append(order, rec.Country)
		}
		counts[rec.Country]++
	}
	if len(order) == 0 {
		return 0
	}

	mode := order[0]
	for _, c := range order[1:] {
		if counts[c] > counts[mode] {
			mode = c
		}
	}
	filled := 0
	for i := range recs {
		if recs[i].Country == "" {
			recs[i].Country = mode
			filled++
		}
	}
	return filled
}

func hasCoreSignal(recs []Record) bool {
	for _, rec := range recs {
		if _, ok := rec.Metrics[MetricTemperature]; ok {
			return true
		}
		if _, ok := rec.Metrics[MetricHumidity]; ok {
			return true
		}
	}
	return false
}
