package analytics

import (
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Granularity selects the calendar bucketing for aggregation.
type Granularity string

const (
	Daily    Granularity = "daily"
	Weekly   Granularity = "weekly"
	Monthly  Granularity = "monthly"
	Seasonal Granularity = "seasonal"
	Yearly   Granularity = "yearly"
)

// ParseGranularity reads a granularity from its configuration spelling.
func ParseGranularity(s string) (Granularity, error) {
	g := Granularity(strings.ToLower(strings.TrimSpace(s)))
	switch g {
	case Daily, Weekly, Monthly, Seasonal, Yearly:
		return g, nil
	}
	return "", configErrorf("granularity", "unknown granularity %q", s)
}

// AggFunc names an aggregation function.
type AggFunc string

const (
	AggMean  AggFunc = "mean"
	AggSum   AggFunc = "sum"
	AggMin   AggFunc = "min"
	AggMax   AggFunc = "max"
	AggStd   AggFunc = "std"
	AggCount AggFunc = "count"
)

// ParseAggFunc reads an aggregation function from its configuration spelling.
func ParseAggFunc(s string) (AggFunc, error) {
	f := AggFunc(strings.ToLower(strings.TrimSpace(s)))
	switch f {
	case AggMean, AggSum, AggMin, AggMax, AggStd, AggCount:
		return f, nil
	}
	return "", configErrorf("agg_func", "unknown aggregation function %q", s)
}

// GroupKeySeason groups by the season of the record's timestamp under the
// aggregator's season mapping. The other legal group keys are the canonical
// fields station_id and country.
const GroupKeySeason = "season"

// SeasonMapping assigns a season label to each calendar month. A mapping
// must cover all twelve months.
type SeasonMapping map[time.Month]string

// SeasonsNorthern is the conventional meteorological mapping: Dec-Feb
// Winter, Mar-May Spring, Jun-Aug Summer, Sep-Nov Autumn. It is applied
// uniformly regardless of hemisphere; callers wanting hemisphere-aware
// seasons pass SeasonsSouthern (or their own mapping) explicitly.
func SeasonsNorthern() SeasonMapping {
	return SeasonMapping{
		time.December: "Winter", time.January: "Winter", time.February: "Winter",
		time.March: "Spring", time.April: "Spring", time.May: "Spring",
		time.June: "Summer", time.July: "Summer", time.August: "Summer",
		time.September: "Autumn", time.October: "Autumn", time.November: "Autumn",
	}
}

// SeasonsSouthern is the inverted mapping for Southern Hemisphere stations.
func SeasonsSouthern() SeasonMapping {
	return SeasonMapping{
		time.December: "Summer", time.January: "Summer", time.February: "Summer",
		time.March: "Autumn", time.April: "Autumn", time.May: "Autumn",
		time.June: "Winter", time.July: "Winter", time.August: "Winter",
		time.September: "Spring", time.October: "Spring", time.November: "Spring",
	}
}

// Bucket is one immutable row of aggregated output.
type Bucket struct {
	GroupKey    string            `json:"group_key"`
	Group       map[string]string `json:"group,omitempty"`
	BucketStart time.Time         `json:"bucket_start"`
	Granularity Granularity       `json:"granularity"`
	Metric      string            `json:"metric"`
	Func        AggFunc           `json:"func"`
	Value       float64           `json:"value"`
	SampleCount int               `json:"sample_count"`
}

// Aggregator resamples records into calendar buckets with configurable
// grouping keys and aggregation functions.
type Aggregator struct {
	granularity Granularity
	groupKeys   []string
	aggs        map[string][]AggFunc
	seasons     SeasonMapping
}

// AggregatorOption adjusts optional Aggregator behavior.
type AggregatorOption func(*Aggregator)

// WithSeasonMapping replaces the default Northern season mapping.
func WithSeasonMapping(m SeasonMapping) AggregatorOption {
	return func(a *Aggregator) {
		a.seasons = m
	}
}

// NewAggregator validates the full aggregation request up front: unknown
// granularities, group keys, aggregation functions, non-numeric metrics, and
// incomplete season mappings are configuration errors raised before any data
// is scanned.
func NewAggregator(granularity Granularity, groupKeys []string, aggs map[string][]AggFunc, opts ...AggregatorOption) (*Aggregator, error) {
	a := &Aggregator{
		granularity: granularity,
		groupKeys:   append([]string(nil), groupKeys...),
		aggs:        make(map[string][]AggFunc, len(aggs)),
		seasons:     SeasonsNorthern(),
	}
	for metric, funcs := range aggs {
		a.aggs[metric] = append([]AggFunc(nil), funcs...)
	}
	for _, opt := range opts {
		opt(a)
	}

	switch granularity {
	case Daily, Weekly, Monthly, Seasonal, Yearly:
	default:
		return nil, configErrorf("granularity", "unknown granularity %q", granularity)
	}
	for _, key := range a.groupKeys {
		switch key {
		case FieldStationID, FieldCountry, GroupKeySeason:
		default:
			return nil, configErrorf("group_keys", "unknown group key %q", key)
		}
	}
	if len(a.aggs) == 0 {
		return nil, configErrorf("metric_aggregations", "no metrics requested")
	}
	for metric, funcs := range a.aggs {
		if !isAggregatableMetric(metric) {
			return nil, configErrorf("metric_aggregations", "%q is not a numeric metric", metric)
		}
		if len(funcs) == 0 {
			return nil, configErrorf("metric_aggregations", "no functions requested for %q", metric)
		}
		for _, f := range funcs {
			switch f {
			case AggMean, AggSum, AggMin, AggMax, AggStd, AggCount:
			default:
				return nil, configErrorf("metric_aggregations", "unknown aggregation function %q", f)
			}
		}
	}
	for month := time.January; month <= time.December; month++ {
		if a.seasons[month] == "" {
			return nil, configErrorf("season_mapping", "month %s has no season", month)
		}
	}
	return a, nil
}

// Aggregate resamples records into buckets in a single pass: every requested
// aggregation of a metric is computed from one accumulator per
// (bucket, group, metric), never by rescanning. Null metric values do not
// contribute, and a (bucket, group, metric) with zero contributing values
// emits nothing, so sample_count is always positive and absence means "no
// data". Output is sorted by bucket start, then group key in the order the
// keys were supplied, then metric.
func (a *Aggregator) Aggregate(records []Record) []Bucket {
	type groupAgg struct {
		start  time.Time
		key    string
		group  map[string]string
		states map[string]*aggState
	}
	groups := make(map[string]*groupAgg)

	for _, rec := range records {
		start := a.bucketStart(rec.Timestamp)
		groupKey, group := a.groupOf(rec)
		mapKey := strconv.FormatInt(start.Unix(), 10) + "|" + groupKey

		g, ok := groups[mapKey]
		if !ok {
			g = &groupAgg{
				start:  start,
				key:    groupKey,
				group:  group,
				states: make(map[string]*aggState),
			}
			groups[mapKey] = g
		}
		for metric := range a.aggs {
			v, ok := rec.Value(metric)
			if !ok {
				continue
			}
			st := g.states[metric]
			if st == nil {
				st = &aggState{}
				g.states[metric] = st
			}
			st.add(v)
		}
	}

	buckets := make([]Bucket, 0, len(groups)*len(a.aggs))
	for _, g := range groups {
		metrics := make([]string, 0, len(g.states))
		for metric := range g.states {
			metrics = append(metrics, metric)
		}
		sort.Strings(metrics)

		for _, metric := range metrics {
			st := g.states[metric]
			for _, f := range a.aggs[metric] {
				buckets = append(buckets, Bucket{
					GroupKey:    g.key,
					Group:       copyGroup(g.group),
					BucketStart: g.start,
					Granularity: a.granularity,
					Metric:      metric,
					Func:        f,
					Value:       st.value(f),
					SampleCount: st.count,
				})
			}
		}
	}

	sort.SliceStable(buckets, func(i, j int) bool {
		if !buckets[i].BucketStart.Equal(buckets[j].BucketStart) {
			return buckets[i].BucketStart.Before(buckets[j].BucketStart)
		}
		if buckets[i].GroupKey != buckets[j].GroupKey {
			return buckets[i].GroupKey < buckets[j].GroupKey
		}
		return buckets[i].Metric < buckets[j].Metric
	})
	return buckets
}

// groupOf builds the composite "key=value|key=value" group key in supplied
// key order, plus the parsed map form.
func (a *Aggregator) groupOf(rec Record) (string, map[string]string) {
	if len(a.groupKeys) == 0 {
		return "", nil
	}
	group := make(map[string]string, len(a.groupKeys))
	parts := make([]string, 0, len(a.groupKeys))
	for _, key := range a.groupKeys {
		var v string
		switch key {
		case FieldStationID:
			v = rec.StationID
		case FieldCountry:
			v = rec.Country
		case GroupKeySeason:
			v = a.seasons[rec.Timestamp.UTC().Month()]
		}
		group[key] = v
		parts = append(parts, key+"="+v)
	}
	return strings.Join(parts, "|"), group
}

func (a *Aggregator) bucketStart(t time.Time) time.Time {
	t = t.UTC()
	switch a.granularity {
	case Daily:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	case Weekly:
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset)
	case Monthly:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	case Seasonal:
		return a.seasonStart(t)
	default:
		return time.Date(t.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
	}
}

// seasonStart walks back to the first month of the contiguous month run
// sharing the timestamp's season. Winter wraps the year boundary: January
// and February anchor at December 1 of the prior year.
func (a *Aggregator) seasonStart(t time.Time) time.Time {
	season := a.seasons[t.Month()]
	year, month := t.Year(), t.Month()
	for i := 0; i < 11; i++ {
		pm, py := month-1, year
		if pm < time.January {
			pm, py = time.December, year-1
		}
		if a.seasons[pm] != season {
			break
		}
		month, year = pm, py
	}
	return time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
}

// aggState accumulates every supported aggregate in one pass, using
// Welford's recurrence for the running variance.
type aggState struct {
	count int
	sum   float64
	min   float64
	max   float64
	mean  float64
	m2    float64
}

func (s *aggState) add(v float64) {
	if s.count == 0 {
		s.min, s.max = v, v
	} else {
		if v < s.min {
			s.min = v
		}
		if v > s.max {
			s.max = v
		}
	}
	s.count++
	s.sum += v
	delta := v - s.mean
	s.mean += delta / float64(s.count)
	s.m2 += delta * (v - s.mean)
}

// value finalizes one aggregate. Sample std is 0 for a single observation;
// SampleCount discloses the degeneracy.
func (s *aggState) value(f AggFunc) float64 {
	switch f {
	case AggSum:
		return s.sum
	case AggMin:
		return s.min
	case AggMax:
		return s.max
	case AggStd:
		if s.count < 2 {
			return 0
		}
		return math.Sqrt(s.m2 / float64(s.count-1))
	case AggCount:
		return float64(s.count)
	default:
		return s.sum / float64(s.count)
	}
}

func copyGroup(group map[string]string) map[string]string {
	if group == nil {
		return nil
	}
	out := make(map[string]string, len(group))
	for k, v := range group {
		out[k] = v
	}
	return out
}

// isAggregatableMetric accepts canonical metrics, the fixed derived fields,
// and rolling-average names like "temperature_c_ma7".
func isAggregatableMetric(name string) bool {
	if isCanonicalMetric(name) || name == DerivedHeatIndex || name == DerivedWindChill {
		return true
	}
	idx := strings.LastIndex(name, "_ma")
	if idx <= 0 || idx+3 >= len(name) {
		return false
	}
	for _, c := range name[idx+3:] {
		if c < '0' || c > '9' {
			return false
		}
	}
	base := name[:idx]
	return isCanonicalMetric(base) || base == DerivedHeatIndex || base == DerivedWindChill
}
