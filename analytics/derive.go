package analytics

import (
	"fmt"
	"math"
	"sort"
)

// DefaultWindow is the rolling-average length used when none is configured.
const DefaultWindow = 7

// Deriver computes heat index, wind chill, and rolling averages from
// canonical metrics.
type Deriver struct {
	window  int
	rolling []string
}

// DeriverOption adjusts optional Deriver behavior.
type DeriverOption func(*Deriver)

// WithWindow sets the rolling-average length.
func WithWindow(n int) DeriverOption {
	return func(d *Deriver) {
		d.window = n
	}
}

// WithRollingMetrics selects which metrics get rolling averages. Defaults to
// the full canonical set; heat_index_c and wind_chill_c are also legal since
// they are computed before the rolling pass.
func WithRollingMetrics(metrics ...string) DeriverOption {
	return func(d *Deriver) {
		d.rolling = metrics
	}
}

// NewDeriver validates options and returns a ready Deriver.
func NewDeriver(opts ...DeriverOption) (*Deriver, error) {
	d := &Deriver{
		window:  DefaultWindow,
		rolling: MetricNames(),
	}
	for _, opt := range opts {
		opt(d)
	}

	if d.window < 1 {
		return nil, configErrorf("window", "must be at least 1, got %d", d.window)
	}
	for _, m := range d.rolling {
		if !isCanonicalMetric(m) && m != DerivedHeatIndex && m != DerivedWindChill {
			return nil, configErrorf("rolling_metrics", "unknown metric %q", m)
		}
	}
	return d, nil
}

// RollingName returns the derived field name for a metric's rolling average,
// e.g. ("temperature_c", 7) -> "temperature_c_ma7".
func RollingName(metric string, window int) string {
	return fmt.Sprintf("%s_ma%d", metric, window)
}

// Derive returns enriched copies of the input records. Each record's Derived
// map is rebuilt from scratch out of its canonical metrics, so re-deriving
// already-enriched records reproduces the same values. Rolling averages are
// computed per station in timestamp order as the mean of the non-null values
// among the trailing window observations; the first observation's average is
// its own value (warm-up, not null).
func (d *Deriver) Derive(records []Record) []Record {
	out := cloneRecords(records)

	for i := range out {
		out[i].Derived = make(map[string]float64)
		t, hasTemp := out[i].Metrics[MetricTemperature]
		if !hasTemp {
			continue
		}
		if rh, ok := out[i].Metrics[MetricHumidity]; ok {
			out[i].Derived[DerivedHeatIndex] = heatIndexC(t, rh)
		}
		wind, hasWind := out[i].Metrics[MetricWind]
		if !hasWind {
			wind = 0
		}
		out[i].Derived[DerivedWindChill] = windChillC(t, wind)
	}

	for _, idxs := range stationOrder(out) {
		d.rollPartition(out, idxs)
	}
	return out
}

// stationOrder groups record indices by station, each group sorted by
// timestamp, with groups returned in first-appearance order.
func stationOrder(records []Record) [][]int {
	index := make(map[string]int)
	groups := make([][]int, 0)
	for i, rec := range records {
		g, ok := index[rec.StationID]
		if !ok {
			g = len(groups)
			index[rec.StationID] = g
			groups = append(groups, nil)
		}
		groups[g] = append(groups[g], i)
	}
	for _, idxs := range groups {
		sort.SliceStable(idxs, func(a, b int) bool {
			return records[idxs[a]].Timestamp.Before(records[idxs[b]].Timestamp)
		})
	}
	return groups
}

func (d *Deriver) rollPartition(records []Record, idxs []int) {
	for _, metric := range d.rolling {
		name := RollingName(metric, d.window)
		for pos, i := range idxs {
			lo := pos - d.window + 1
			if lo < 0 {
				lo = 0
			}
			sum, count := 0.0, 0
			for _, j := range idxs[lo : pos+1] {
				if v, ok := records[j].Value(metric); ok {
					sum += v
					count++
				}
			}
			if count > 0 {
				records[i].Derived[name] = sum / float64(count)
			}
		}
	}
}

// heatIndexC is the Rothfusz heat-index regression in Celsius units. The
// polynomial is only valid in its fitted regime, T >= 20C; below that the
// heat index is the temperature itself rather than an extrapolation.
func heatIndexC(t, rh float64) float64 {
	if t < 20 {
		return t
	}
	return -8.78469475556 +
		1.61139411*t +
		2.33854883889*rh -
		0.14611605*t*rh -
		0.012308094*t*t -
		0.016424828*rh*rh +
		0.002211732*t*t*rh +
		0.00072546*t*rh*rh -
		0.000003582*t*t*rh*rh
}

// windChillC is the Environment Canada wind chill index, defined for
// T <= 10C with wind above 4.8 kph; outside that regime the wind chill is
// the temperature itself.
func windChillC(t, windKph float64) float64 {
	if t > 10 || windKph <= 4.8 {
		return t
	}
	v := math.Pow(windKph, 0.16)
	return 13.12 + 0.6215*t - 11.37*v + 0.3965*t*v
}
