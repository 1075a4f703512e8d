package analytics

import (
	"math"
	"sort"
	"time"
)

// Direction selects which tail of a metric a threshold watches.
type Direction string

const (
	Above Direction = "above"
	Below Direction = "below"
)

// ThresholdMethod names how a threshold cutoff is resolved.
type ThresholdMethod string

const (
	MethodFixed      ThresholdMethod = "fixed"
	MethodPercentile ThresholdMethod = "percentile"
	MethodZScore     ThresholdMethod = "zscore"
	MethodRobustZ    ThresholdMethod = "robust_zscore"
)

// ThresholdSpec describes one threshold on one metric. Value carries the
// fixed cutoff, the percentile rank, or the z multiplier depending on
// Method. Build specs with the constructors below rather than literals.
type ThresholdSpec struct {
	Method    ThresholdMethod `json:"method"`
	Direction Direction       `json:"direction"`
	Value     float64         `json:"value"`
	Tag       string          `json:"tag,omitempty"`
}

// Fixed is an absolute cutoff.
func Fixed(cutoff float64, dir Direction) ThresholdSpec {
	return ThresholdSpec{Method: MethodFixed, Direction: dir, Value: cutoff}
}

// Percentile is a cutoff at the p-th percentile of the metric's values in
// the current input, recomputed on every Detect call.
func Percentile(p float64, dir Direction) ThresholdSpec {
	return ThresholdSpec{Method: MethodPercentile, Direction: dir, Value: p}
}

// ZScore is a cutoff k sample standard deviations from the mean of the
// metric's values in the current input.
func ZScore(k float64, dir Direction) ThresholdSpec {
	return ThresholdSpec{Method: MethodZScore, Direction: dir, Value: k}
}

// RobustZScore is a cutoff k scaled median absolute deviations from the
// median, using the 1.4826 normal-consistency constant. Less sensitive to
// the outliers being hunted than ZScore.
func RobustZScore(k float64, dir Direction) ThresholdSpec {
	return ThresholdSpec{Method: MethodRobustZ, Direction: dir, Value: k}
}

// Tagged returns a copy of the spec with a classification tag. Untagged
// specs auto-name their events "High<Metric>" or "Low<Metric>".
func (s ThresholdSpec) Tagged(tag string) ThresholdSpec {
	s.Tag = tag
	return s
}

// DefaultThresholds is the conventional extreme-weather set.
func DefaultThresholds() map[string][]ThresholdSpec {
	return map[string][]ThresholdSpec{
		MetricTemperature: {
			Percentile(95, Above).Tagged("Heatwave"),
			Percentile(5, Below).Tagged("ColdWave"),
		},
		MetricWind:   {Percentile(95, Above).Tagged("HighWind")},
		MetricPrecip: {Percentile(95, Above).Tagged("HeavyRain")},
		MetricPM25:   {Percentile(90, Above).Tagged("PoorAirQuality")},
	}
}

// Exceedance records one threshold crossing inside an event.
type Exceedance struct {
	Tag       string          `json:"tag"`
	Metric    string          `json:"metric"`
	Value     float64         `json:"value"`
	Threshold float64         `json:"threshold"`
	Method    ThresholdMethod `json:"method"`
	Direction Direction       `json:"direction"`
}

// ExtremeEvent is a record flagged for exceeding one or more thresholds. A
// record crossing several thresholds yields one event with the full tag set,
// not duplicate events.
type ExtremeEvent struct {
	StationID   string       `json:"station_id"`
	Country     string       `json:"country,omitempty"`
	Timestamp   time.Time    `json:"timestamp"`
	Tags        []string     `json:"tags"`
	Exceedances []Exceedance `json:"exceedances"`
	Severity    string       `json:"severity"`
	DetectedAt  time.Time    `json:"detected_at"`
}

// Detector classifies records as extreme events.
type Detector struct {
	thresholds map[string][]ThresholdSpec
}

// NewDetector validates the threshold table up front. Data-dependent
// degeneracies (too few samples, zero spread) are not errors; they are
// handled per call by skipping the affected spec.
func NewDetector(thresholds map[string][]ThresholdSpec) (*Detector, error) {
	if len(thresholds) == 0 {
		return nil, configErrorf("thresholds", "at least one metric required")
	}
	d := &Detector{thresholds: make(map[string][]ThresholdSpec, len(thresholds))}
	for metric, specs := range thresholds {
		if !isAggregatableMetric(metric) {
			return nil, configErrorf("thresholds", "%q is not a numeric metric", metric)
		}
		if len(specs) == 0 {
			return nil, configErrorf("thresholds", "no specs for metric %q", metric)
		}
		for _, spec := range specs {
			if err := validateSpec(metric, spec); err != nil {
				return nil, err
			}
		}
		d.thresholds[metric] = append([]ThresholdSpec(nil), specs...)
	}
	return d, nil
}

func validateSpec(metric string, spec ThresholdSpec) error {
	switch spec.Direction {
	case Above, Below:
	default:
		return configErrorf("thresholds", "%s: unknown direction %q", metric, spec.Direction)
	}
	switch spec.Method {
	case MethodFixed:
	case MethodPercentile:
		if spec.Value <= 0 || spec.Value >= 100 {
			return configErrorf("thresholds", "%s: percentile must be inside (0, 100), got %g", metric, spec.Value)
		}
	case MethodZScore, MethodRobustZ:
		if spec.Value <= 0 {
			return configErrorf("thresholds", "%s: z multiplier must be positive, got %g", metric, spec.Value)
		}
	default:
		return configErrorf("thresholds", "%s: unknown method %q", metric, spec.Method)
	}
	return nil
}

type resolvedThreshold struct {
	metric string
	tag    string
	cutoff float64
	span   float64
	spec   ThresholdSpec
}

// Detect flags records that cross the configured thresholds. Relative
// thresholds (percentile, z-score) are resolved fresh from the records
// passed in, never from a cached distribution, so results track the input.
// Comparisons are inclusive: >= for above, <= for below. A metric with
// fewer than 2 non-null values, or zero spread under a z method, has its
// relative specs skipped for the call rather than firing on everything or
// nothing.
func (d *Detector) Detect(records []Record) []ExtremeEvent {
	resolved := d.resolveThresholds(records)
	events := make([]ExtremeEvent, 0)
	if len(resolved) == 0 {
		return events
	}

	detectedAt := clock.Now()
	for _, rec := range records {
		var tags []string
		var excs []Exceedance
		worst := 0.0
		for _, rt := range resolved {
			v, ok := rec.Value(rt.metric)
			if !ok || !crosses(v, rt.cutoff, rt.spec.Direction) {
				continue
			}
			excs = append(excs, Exceedance{
				Tag:       rt.tag,
				Metric:    rt.metric,
				Value:     v,
				Threshold: rt.cutoff,
				Method:    rt.spec.Method,
				Direction: rt.spec.Direction,
			})
			tags = appendUnique(tags, rt.tag)
			if rt.span > 0 {
				if margin := math.Abs(v-rt.cutoff) / rt.span; margin > worst {
					worst = margin
				}
			}
		}
		if len(excs) == 0 {
			continue
		}
		events = append(events, ExtremeEvent{
			StationID:   rec.StationID,
			Country:     rec.Country,
			Timestamp:   rec.Timestamp,
			Tags:        tags,
			Exceedances: excs,
			Severity:    classifySeverity(worst),
			DetectedAt:  detectedAt,
		})
	}
	return events
}

// resolveThresholds computes concrete cutoffs for the current input, in
// sorted metric order so tag order is stable run to run.
func (d *Detector) resolveThresholds(records []Record) []resolvedThreshold {
	metrics := make([]string, 0, len(d.thresholds))
	for metric := range d.thresholds {
		metrics = append(metrics, metric)
	}
	sort.Strings(metrics)

	resolved := make([]resolvedThreshold, 0, len(metrics))
	for _, metric := range metrics {
		values := collectValues(records, metric)
		span := 0.0
		if len(values) > 0 {
			mn, mx := minMax(values)
			span = mx - mn
		}
		for _, spec := range d.thresholds[metric] {
			cutoff, ok := resolveCutoff(spec, values)
			if !ok {
				continue
			}
			resolved = append(resolved, resolvedThreshold{
				metric: metric,
				tag:    tagFor(spec, metric),
				cutoff: cutoff,
				span:   span,
				spec:   spec,
			})
		}
	}
	return resolved
}

func resolveCutoff(spec ThresholdSpec, values []float64) (float64, bool) {
	switch spec.Method {
	case MethodFixed:
		return spec.Value, true
	case MethodPercentile:
		if len(values) < 2 {
			return 0, false
		}
		return percentile(values, spec.Value), true
	case MethodZScore:
		if len(values) < 2 {
			return 0, false
		}
		sd := sampleStd(values)
		if sd == 0 {
			return 0, false
		}
		if spec.Direction == Below {
			return mean(values) - spec.Value*sd, true
		}
		return mean(values) + spec.Value*sd, true
	case MethodRobustZ:
		if len(values) < 2 {
			return 0, false
		}
		m := mad(values)
		if m == 0 {
			return 0, false
		}
		scaled := 1.4826 * m * spec.Value
		if spec.Direction == Below {
			return median(values) - scaled, true
		}
		return median(values) + scaled, true
	default:
		return 0, false
	}
}

func crosses(v, cutoff float64, dir Direction) bool {
	if dir == Below {
		return v <= cutoff
	}
	return v >= cutoff
}

// classifySeverity maps the worst exceedance margin, measured as a fraction
// of the metric's observed value span, to a four-level label:
// <5% minor, <15% moderate, <30% severe, else extreme.
func classifySeverity(margin float64) string {
	switch {
	case margin < 0.05:
		return "minor"
	case margin < 0.15:
		return "moderate"
	case margin < 0.30:
		return "severe"
	default:
		return "extreme"
	}
}

var metricLabels = map[string]string{
	MetricTemperature: "Temperature",
	MetricHumidity:    "Humidity",
	MetricWind:        "Wind",
	MetricPrecip:      "Precipitation",
	MetricPressure:    "Pressure",
	MetricPM25:        "AirQuality",
}

func tagFor(spec ThresholdSpec, metric string) string {
	if spec.Tag != "" {
		return spec.Tag
	}
	label := metricLabels[metric]
	if label == "" {
		label = metric
	}
	if spec.Direction == Below {
		return "Low" + label
	}
	return "High" + label
}

func collectValues(records []Record, metric string) []float64 {
	values := make([]float64, 0, len(records))
	for _, rec := range records {
		if v, ok := rec.Value(metric); ok {
			values = append(values, v)
		}
	}
	return values
}

func minMax(values []float64) (float64, float64) {
	mn, mx := values[0], values[0]
	for _, v := range values[1:] {
		if v < mn {
			mn = v
		}
		if v > mx {
			mx = v
		}
	}
	return mn, mx
}

func appendUnique(tags []string, tag string) []string {
	for _, t := range tags {
		if t == tag {
			return tags
		}
	}
	return append(tags, tag)
}
