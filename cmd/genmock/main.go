// Command genmock generates synthetic raw climate readings for the pipeline
// and its test suites. Stations emit readings in one of three field-name
// dialects, so a fixture covers the normalizer's column mapping the way real
// station exports do. A fraction of readings carry injected anomalies,
// missing values, duplicates, and implausible values to exercise detection
// and remediation.
//
// Usage:
//
//	go run ./cmd/genmock \
//	  -stations 12 -days 7 -count 8 -seed 42 -anomaly-rate 0.02 \
//	  -out data/mock/raw_readings.json
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/climatescope/climate-analytics/analytics"
)

var baseDate = time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC)

type station struct {
	id      string
	name    string
	country string
	lat     float64
	lon     float64
	dialect int
}

// stationSeeds are the identities synthetic stations cycle through.
var stationSeeds = []struct {
	name    string
	country string
	lat     float64
	lon     float64
}{
	{"Reykjavik", "Iceland", 64.13, -21.90},
	{"Oslo", "Norway", 59.91, 10.75},
	{"Helsinki", "Finland", 60.17, 24.94},
	{"London", "United Kingdom", 51.51, -0.13},
	{"Berlin", "Germany", 52.52, 13.41},
	{"Madrid", "Spain", 40.42, -3.70},
	{"Athens", "Greece", 37.98, 23.73},
	{"Cairo", "Egypt", 30.04, 31.24},
	{"Nairobi", "Kenya", -1.29, 36.82},
	{"Singapore", "Singapore", 1.35, 103.82},
	{"Tokyo", "Japan", 35.68, 139.69},
	{"Sydney", "Australia", -33.87, 151.21},
	{"Auckland", "New Zealand", -36.85, 174.76},
	{"Denver", "United States", 39.74, -104.99},
	{"Toronto", "Canada", 43.65, -79.38},
	{"Sao Paulo", "Brazil", -23.55, -46.63},
}

type reading struct {
	station station
	ts      time.Time

	// nil means the station did not report the metric
	temp     *float64
	humidity *float64
	wind     *float64
	precip   *float64
	pressure *float64
	pm25     *float64
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	stations := flag.Int("stations", 12, "number of stations")
	days := flag.Int("days", 7, "number of days of readings")
	count := flag.Int("count", 8, "readings per station per day")
	seed := flag.Int64("seed", 42, "random seed")
	anomalyRate := flag.Float64("anomaly-rate", 0.02, "fraction of readings with an injected extreme")
	out := flag.String("out", "", "output path; empty writes to stdout")
	flag.Parse()

	if *stations < 1 || *days < 1 || *count < 1 {
		flag.Usage()
		return fmt.Errorf("stations, days, and count must all be at least 1")
	}

	rng := rand.New(rand.NewSource(*seed))
	pool := buildStations(*stations)

	spacing := time.Duration(int64(24*time.Hour) / int64(*count))

	var raws []map[string]any
	anomalies := 0
	for _, st := range pool {
		for d := 0; d < *days; d++ {
			day := baseDate.AddDate(0, 0, d)
			for i := 0; i < *count; i++ {
				ts := day.Add(time.Duration(i) * spacing)
				ts = ts.Add(time.Duration(rng.Intn(20)) * time.Minute)

				r := synthesize(rng, st, ts)
				if rng.Float64() < *anomalyRate {
					injectAnomaly(rng, &r)
					anomalies++
				}
				raws = append(raws, encode(r))

				// Occasional duplicate timestamps, as real feeds produce
				// on retry.
				if rng.Float64() < 0.02 {
					raws = append(raws, encode(r))
				}
			}
		}
	}

	log.Printf("generated %d readings from %d stations over %d days (%d anomalies injected)",
		len(raws), len(pool), *days, anomalies)

	if *out == "" {
		data, err := json.MarshalIndent(raws, "", "  ")
		if err != nil {
			return err
		}
		data = append(data, '\n')
		if _, err := os.Stdout.Write(data); err != nil {
			return err
		}
	} else {
		if err := writeJSON(*out, raws); err != nil {
			return fmt.Errorf("writing fixture: %w", err)
		}
		log.Printf("wrote fixture: %s", *out)
	}

	return printStats(raws)
}

func buildStations(n int) []station {
	pool := make([]station, n)
	for i := 0; i < n; i++ {
		seed := stationSeeds[i%len(stationSeeds)]
		name := seed.name
		if round := i / len(stationSeeds); round > 0 {
			name = fmt.Sprintf("%s %d", seed.name, round+1)
		}
		pool[i] = station{
			id:      fmt.Sprintf("st-%03d", i+1),
			name:    name,
			country: seed.country,
			lat:     seed.lat,
			lon:     seed.lon,
			dialect: i % 3,
		}
	}
	return pool
}

// synthesize builds one plausible reading: temperature follows latitude and
// a diurnal cycle, humidity runs against temperature, the rest are noisy
// baselines. Each optional metric has a small chance of being unreported.
func synthesize(rng *rand.Rand, st station, ts time.Time) reading {
	hour := float64(ts.Hour()) + float64(ts.Minute())/60
	diurnal := 5 * math.Sin(2*math.Pi*(hour-9)/24)
	temp := 27 - 0.45*math.Abs(st.lat) + diurnal + rng.NormFloat64()*1.5

	humidity := clamp(65-0.8*(temp-15)+rng.NormFloat64()*8, 5, 100)
	wind := math.Abs(rng.NormFloat64()) * 14
	pressure := 1013 + rng.NormFloat64()*7
	pm25 := math.Abs(rng.NormFloat64()) * 22

	precip := 0.0
	if rng.Float64() < 0.25 {
		precip = rng.ExpFloat64() * 4
	}

	r := reading{station: st, ts: ts}
	r.temp = maybe(rng, temp, 0.02)
	r.humidity = maybe(rng, humidity, 0.05)
	r.wind = maybe(rng, wind, 0.05)
	r.precip = maybe(rng, precip, 0.10)
	r.pressure = maybe(rng, pressure, 0.10)
	r.pm25 = maybe(rng, pm25, 0.15)

	// Rare implausible humidity, for the bounds check to catch.
	if r.humidity != nil && rng.Float64() < 0.01 {
		*r.humidity = 120 + rng.Float64()*30
	}
	return r
}

// maybe returns the value, or nil with the given omission probability.
func maybe(rng *rand.Rand, v, pOmit float64) *float64 {
	if rng.Float64() < pOmit {
		return nil
	}
	rounded := math.Round(v*10) / 10
	return &rounded
}

func injectAnomaly(rng *rand.Rand, r *reading) {
	switch rng.Intn(3) {
	case 0:
		if r.temp != nil {
			*r.temp += 16 + rng.Float64()*6
		}
	case 1:
		v := 125 + rng.Float64()*60
		r.wind = &v
	default:
		v := 160 + rng.Float64()*120
		r.pm25 = &v
	}
}

// encode renders a reading in its station's field-name dialect. All three
// dialects resolve through the default field mapping.
func encode(r reading) map[string]any {
	switch r.station.dialect {
	case 1:
		// Legacy world-weather CSV headers.
		m := map[string]any{
			"location_name": r.station.name,
			"country":       r.station.country,
			"last_updated":  r.ts.Format("2006-01-02 15:04"),
			"latitude":      r.station.lat,
			"longitude":     r.station.lon,
		}
		put(m, "temperature_celsius", r.temp)
		put(m, "humidity", r.humidity)
		put(m, "wind_kph", r.wind)
		put(m, "precipitation_mm", r.precip)
		put(m, "pressure_millibars", r.pressure)
		put(m, "air_quality_PM2.5", r.pm25)
		return m
	case 2:
		// Station export with capitalized columns.
		m := map[string]any{
			"Station":     r.station.id,
			"Country":     r.station.country,
			"Observed_At": r.ts.Format("2006/01/02 15:04"),
			"Lat":         r.station.lat,
			"Lon":         r.station.lon,
		}
		put(m, "Temp_C", r.temp)
		put(m, "Humidity_Pct", r.humidity)
		put(m, "Wind_Speed_KPH", r.wind)
		put(m, "Precipitation", r.precip)
		put(m, "Pressure_MB", r.pressure)
		put(m, "PM2_5", r.pm25)
		return m
	default:
		// Canonical field names.
		m := map[string]any{
			"station_id": r.station.id,
			"country":    r.station.country,
			"timestamp":  r.ts.Format(time.RFC3339),
			"latitude":   r.station.lat,
			"longitude":  r.station.lon,
		}
		put(m, "temperature_c", r.temp)
		put(m, "humidity_pct", r.humidity)
		put(m, "wind_kph", r.wind)
		put(m, "precip_mm", r.precip)
		put(m, "pressure_mb", r.pressure)
		put(m, "pm2_5", r.pm25)
		return m
	}
}

func put(m map[string]any, key string, v *float64) {
	if v != nil {
		m[key] = *v
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o600)
}

// printStats runs the fixture through the real core so the reported numbers
// match what the pipeline will do with it.
func printStats(raws []map[string]any) error {
	normalizer, err := analytics.NewNormalizer(analytics.DefaultFieldMapping())
	if err != nil {
		return err
	}
	remediator, err := analytics.NewRemediator(analytics.WithDedupe())
	if err != nil {
		return err
	}
	deriver, err := analytics.NewDeriver()
	if err != nil {
		return err
	}
	detector, err := analytics.NewDetector(analytics.DefaultThresholds())
	if err != nil {
		return err
	}

	rawRecords := make([]analytics.RawRecord, len(raws))
	for i, m := range raws {
		rawRecords[i] = analytics.RawRecord(m)
	}

	records, rejected := normalizer.Normalize(rawRecords)
	remediated, diag := remediator.Remediate(records)
	enriched := deriver.Derive(remediated)
	events := detector.Detect(enriched)

	tagCounts := map[string]int{}
	for _, e := range events {
		for _, tag := range e.Tags {
			tagCounts[tag]++
		}
	}

	w := os.Stderr
	fmt.Fprintln(w, "\n=== Stats for updating test assertions ===")
	fmt.Fprintf(w, "Raw readings: %d\n", len(raws))
	fmt.Fprintf(w, "Normalized: %d (rejected %d)\n", len(records), rejected)
	fmt.Fprintf(w, "After remediation: %d (deduped %d, dropped %d)\n",
		len(remediated), diag.Deduped, diag.Dropped)
	fmt.Fprintf(w, "Values filled: %d (countries %d)\n", diag.TotalFilled(), diag.CountriesFilled)
	for metric, n := range diag.OutOfRange {
		fmt.Fprintf(w, "Out of range %s: %d\n", metric, n)
	}
	fmt.Fprintf(w, "Extreme events: %d\n", len(events))
	for tag, n := range tagCounts {
		fmt.Fprintf(w, "  %s: %d\n", tag, n)
	}
	return nil
}
