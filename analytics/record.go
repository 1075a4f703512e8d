package analytics

import "time"

// Canonical record fields addressable by name in field mappings and group keys.
const (
	FieldStationID = "station_id"
	FieldCountry   = "country"
	FieldTimestamp = "timestamp"
	FieldLatitude  = "latitude"
	FieldLongitude = "longitude"
)

// Canonical metric names. Every component addresses metrics by these names;
// raw source columns are translated to them by the Normalizer.
const (
	MetricTemperature = "temperature_c"
	MetricHumidity    = "humidity_pct"
	MetricWind        = "wind_kph"
	MetricPrecip      = "precip_mm"
	MetricPressure    = "pressure_mb"
	MetricPM25        = "pm2_5"
)

// Derived metric names produced by the Deriver. Rolling averages are named
// "<metric>_ma<window>", e.g. "temperature_c_ma7".
const (
	DerivedHeatIndex = "heat_index_c"
	DerivedWindChill = "wind_chill_c"
)

// MetricNames returns the canonical metric set in a fixed order.
func MetricNames() []string {
	return []string{
		MetricTemperature,
		MetricHumidity,
		MetricWind,
		MetricPrecip,
		MetricPressure,
		MetricPM25,
	}
}

// RawRecord is one untyped row as received from an external source. Field
// names and value types are not guaranteed consistent across sources.
type RawRecord map[string]any

// Record is a weather observation in the canonical schema. A metric absent
// from Metrics is null, never zero; the same convention applies to Derived.
type Record struct {
	StationID string    `json:"station_id"`
	Country   string    `json:"country,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Latitude  *float64  `json:"latitude,omitempty"`
	Longitude *float64  `json:"longitude,omitempty"`

	Metrics map[string]float64 `json:"metrics"`
	Derived map[string]float64 `json:"derived,omitempty"`
}

// Metric returns the named canonical metric value and whether it is present.
func (r Record) Metric(name string) (float64, bool) {
	v, ok := r.Metrics[name]
	return v, ok
}

// Value looks the name up in Metrics first and Derived second, so callers can
// address canonical and derived fields uniformly.
func (r Record) Value(name string) (float64, bool) {
	if v, ok := r.Metrics[name]; ok {
		return v, true
	}
	v, ok := r.Derived[name]
	return v, ok
}

// SetMetric stores a canonical metric value, allocating the map on first use.
func (r *Record) SetMetric(name string, v float64) {
	if r.Metrics == nil {
		r.Metrics = make(map[string]float64)
	}
	r.Metrics[name] = v
}

// Clone returns a deep copy. Components copy their inputs before mutating so
// callers never see their own slices or maps change underneath them.
func (r Record) Clone() Record {
	out := r
	if r.Latitude != nil {
		lat := *r.Latitude
		out.Latitude = &lat
	}
	if r.Longitude != nil {
		lon := *r.Longitude
		out.Longitude = &lon
	}
	if r.Metrics != nil {
		out.Metrics = make(map[string]float64, len(r.Metrics))
		for k, v := range r.Metrics {
			out.Metrics[k] = v
		}
	}
	if r.Derived != nil {
		out.Derived = make(map[string]float64, len(r.Derived))
		for k, v := range r.Derived {
			out.Derived[k] = v
		}
	}
	return out
}

func cloneRecords(records []Record) []Record {
	out := make([]Record, len(records))
	for i, r := range records {
		out[i] = r.Clone()
	}
	return out
}

// Bounds is an inclusive physical plausibility interval for a metric.
type Bounds struct {
	Low  float64
	High float64
}

// DefaultBounds returns the plausibility bounds applied by the Remediator.
// The limits bracket recorded planetary extremes rather than climatology:
//
//	temperature_c  [-90, 60]    Vostok 1983 (-89.2) / Death Valley 1913 (56.7)
//	humidity_pct   [0, 100]     relative humidity by definition
//	wind_kph       [0, 410]     Barrow Island gust 1996 (408)
//	precip_mm      [0, 1830]    Foc-Foc 24h rainfall 1966 (1825)
//	pressure_mb    [870, 1085]  Typhoon Tip 1979 (870) / Agata, Siberia 1968 (1083.8)
//	pm2_5          [0, 2000]    beyond any published urban episode peak
func DefaultBounds() map[string]Bounds {
	return map[string]Bounds{
		MetricTemperature: {Low: -90, High: 60},
		MetricHumidity:    {Low: 0, High: 100},
		MetricWind:        {Low: 0, High: 410},
		MetricPrecip:      {Low: 0, High: 1830},
		MetricPressure:    {Low: 870, High: 1085},
		MetricPM25:        {Low: 0, High: 2000},
	}
}

func isCanonicalMetric(name string) bool {
	switch name {
	case MetricTemperature, MetricHumidity, MetricWind, MetricPrecip, MetricPressure, MetricPM25:
		return true
	}
	return false
}
