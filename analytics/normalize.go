package analytics

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// FieldMapping declares, per canonical field, the raw column names that may
// carry it, in preference order. Matching against raw keys is
// case-insensitive and whitespace-trimmed, which absorbs the naming drift
// between feeds ("temp_c" vs "temperature_celsius" vs "Temperature_Celsius").
type FieldMapping map[string][]string

// DefaultFieldMapping covers the column variants observed across the known
// station exports, including the legacy world-weather CSV headers
// (location_name, last_updated, air_quality_PM2.5).
func DefaultFieldMapping() FieldMapping {
	return FieldMapping{
		FieldStationID:    {"station_id", "location_name", "station", "location"},
		FieldCountry:      {"country"},
		FieldTimestamp:    {"timestamp", "last_updated", "observed_at", "date"},
		FieldLatitude:     {"latitude", "lat"},
		FieldLongitude:    {"longitude", "lon", "lng"},
		MetricTemperature: {"temperature_c", "temperature_celsius", "temp_c"},
		MetricHumidity:    {"humidity_pct", "humidity"},
		MetricWind:        {"wind_kph", "wind_speed_kph"},
		MetricPrecip:      {"precip_mm", "precipitation_mm", "precipitation"},
		MetricPressure:    {"pressure_mb", "pressure_millibars"},
		MetricPM25:        {"pm2_5", "air_quality_pm2.5", "air_quality_pm2_5"},
	}
}

// DefaultTimestampLayouts are tried in order until one parses. Layouts
// without a zone are read as UTC; zoned layouts are converted to UTC.
func DefaultTimestampLayouts() []string {
	return []string{
		"2006-01-02 15:04:05",
		"2006-01-02 15:04",
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02",
		"2006/01/02 15:04",
	}
}

// Normalizer maps heterogeneous raw rows into canonical Records. Build one
// per data source with the mapping that source requires.
type Normalizer struct {
	mapping map[string][]string
	layouts []string
}

// NormalizerOption adjusts optional Normalizer behavior.
type NormalizerOption func(*Normalizer)

// WithTimestampLayouts replaces the default timestamp layout list.
func WithTimestampLayouts(layouts ...string) NormalizerOption {
	return func(n *Normalizer) {
		n.layouts = layouts
	}
}

// NewNormalizer validates the field mapping and returns a ready Normalizer.
// A mapping that names an unknown canonical field, or omits candidates for
// station_id or timestamp, is a configuration error: it fails here, before
// any record is processed.
func NewNormalizer(mapping FieldMapping, opts ...NormalizerOption) (*Normalizer, error) {
	if len(mapping) == 0 {
		return nil, configErrorf("field_mapping", "no fields mapped")
	}
	for field := range mapping {
		if !isMappableField(field) {
			return nil, configErrorf("field_mapping", "unknown canonical field %q", field)
		}
	}
	for _, required := range []string{FieldStationID, FieldTimestamp} {
		if len(mapping[required]) == 0 {
			return nil, configErrorf("field_mapping", "no candidates for required field %q", required)
		}
	}

	n := &Normalizer{
		mapping: make(map[string][]string, len(mapping)),
		layouts: DefaultTimestampLayouts(),
	}
	for field, candidates := range mapping {
		normalized := make([]string, len(candidates))
		for i, c := range candidates {
			normalized[i] = normalizeKey(c)
		}
		n.mapping[field] = normalized
	}
	for _, opt := range opts {
		opt(n)
	}
	if len(n.layouts) == 0 {
		return nil, configErrorf("timestamp_layouts", "empty layout list")
	}
	return n, nil
}

// Normalize converts raw rows to canonical Records and reports how many rows
// were rejected. Rejection is per record, never an error: a row with no
// resolvable station ID or no parseable timestamp is counted and skipped,
// not defaulted to "now" or epoch. Raw fields outside the mapping are
// ignored.
func (n *Normalizer) Normalize(raws []RawRecord) ([]Record, int) {
	records := make([]Record, 0, len(raws))
	rejected := 0
	for _, raw := range raws {
		rec, ok := n.normalizeOne(raw)
		if !ok {
			rejected++
			continue
		}
		records = append(records, rec)
	}
	return records, rejected
}

func (n *Normalizer) normalizeOne(raw RawRecord) (Record, bool) {
	index := buildKeyIndex(raw)

	stationID := strings.TrimSpace(asString(n.resolve(index, FieldStationID)))
	if stationID == "" {
		return Record{}, false
	}

	ts, ok := n.parseTimestamp(n.resolve(index, FieldTimestamp))
	if !ok {
		return Record{}, false
	}

	rec := Record{
		StationID: stationID,
		Country:   strings.TrimSpace(asString(n.resolve(index, FieldCountry))),
		Timestamp: ts,
	}
	if lat, ok := asFloat(n.resolve(index, FieldLatitude)); ok {
		rec.Latitude = &lat
	}
	if lon, ok := asFloat(n.resolve(index, FieldLongitude)); ok {
		rec.Longitude = &lon
	}
	for _, metric := range MetricNames() {
		if v, ok := asFloat(n.resolve(index, metric)); ok {
			rec.SetMetric(metric, v)
		}
	}
	return rec, true
}

// buildKeyIndex maps normalized raw keys to values. Raw keys are visited in
// sorted order so colliding keys (e.g. "Temp" and "temp") resolve the same
// way on every run.
func buildKeyIndex(raw RawRecord) map[string]any {
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	index := make(map[string]any, len(raw))
	for _, k := range keys {
		nk := normalizeKey(k)
		if _, exists := index[nk]; !exists {
			index[nk] = raw[k]
		}
	}
	return index
}

func (n *Normalizer) resolve(index map[string]any, field string) any {
	for _, candidate := range n.mapping[field] {
		if v, ok := index[candidate]; ok && v != nil {
			return v
		}
	}
	return nil
}

func (n *Normalizer) parseTimestamp(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		if t.IsZero() {
			return time.Time{}, false
		}
		return t.UTC(), true
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return time.Time{}, false
		}
		for _, layout := range n.layouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts.UTC(), true
			}
		}
		return time.Time{}, false
	default:
		return time.Time{}, false
	}
}

func normalizeKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func isMappableField(field string) bool {
	switch field {
	case FieldStationID, FieldCountry, FieldTimestamp, FieldLatitude, FieldLongitude:
		return true
	}
	return isCanonicalMetric(field)
}

// asString renders a raw value as a string. Numeric station IDs are common
// in CSV exports, so numbers format through fmt.
func asString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case []byte:
		return string(s)
	default:
		return fmt.Sprint(v)
	}
}

// asFloat parses a raw value as a finite float64. Unparsable or non-finite
// values report false, which readers treat as null. Never zero on failure:
// zero is a legitimate reading for most metrics.
func asFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case nil:
		return 0, false
	case float64:
		return x, isFinite(x)
	case float32:
		return float64(x), isFinite(float64(x))
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return 0, false
		}
		return f, isFinite(f)
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		return f, isFinite(f)
	default:
		return 0, false
	}
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
