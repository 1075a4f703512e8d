// Command validate runs the climate analytics chain offline over a file of
// raw station readings and checks the invariants each stage promises:
// normalization accounting, remediation bounds and dedupe, derived metric
// presence, bucket ordering, event consistency, and density mass.
//
// Usage:
//
//	go run ./cmd/genmock -out data/mock/readings.json
//	go run ./cmd/validate -input data/mock/readings.json
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/climatescope/climate-analytics/analytics"
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	input := flag.String("input", "", "path to a JSON array of raw station readings")
	flag.Parse()

	if *input == "" {
		flag.Usage()
		os.Exit(1)
	}

	if code := run(*input); code != 0 {
		os.Exit(code)
	}
}

// stageOutputs carries every intermediate product of the offline chain so
// phases can cross-check adjacent stages.
type stageOutputs struct {
	raws       []analytics.RawRecord
	normalized []analytics.Record
	rejected   int
	remediated []analytics.Record
	diag       analytics.Diagnostics
	derived    []analytics.Record
	buckets    []analytics.Bucket
	events     []analytics.ExtremeEvent
}

func run(inputPath string) int {
	fmt.Println("=== Climate Data Integrity Validation ===")
	fmt.Println()

	raws, err := loadJSON[analytics.RawRecord](inputPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load readings: %v\n", err)
		return 1
	}

	st, err := runStages(raws)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: build analytics chain: %v\n", err)
		return 1
	}

	// ── Run validation phases ──
	phases := []*phase{
		validateNormalization(st),
		validateRemediation(st),
		validateDerivation(st),
		validateAggregation(st),
		validateDetection(st),
		validateDensity(st),
	}

	// ── Report results ──
	fmt.Println()
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-42s %s\n", p.name, status)
	}

	fmt.Println()
	fmt.Printf("Records: %d raw, %d normalized, %d remediated, %d buckets, %d events\n",
		len(st.raws), len(st.normalized), len(st.remediated), len(st.buckets), len(st.events))

	// Print detailed errors.
	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}

// runStages pushes the raw readings through the same components the pipeline
// uses, collecting every intermediate result.
func runStages(raws []analytics.RawRecord) (*stageOutputs, error) {
	normalizer, err := analytics.NewNormalizer(analytics.DefaultFieldMapping())
	if err != nil {
		return nil, fmt.Errorf("normalizer: %w", err)
	}
	remediator, err := analytics.NewRemediator(analytics.WithDedupe())
	if err != nil {
		return nil, fmt.Errorf("remediator: %w", err)
	}
	deriver, err := analytics.NewDeriver()
	if err != nil {
		return nil, fmt.Errorf("deriver: %w", err)
	}
	detector, err := analytics.NewDetector(analytics.DefaultThresholds())
	if err != nil {
		return nil, fmt.Errorf("detector: %w", err)
	}
	aggregator, err := analytics.NewAggregator(analytics.Daily, []string{analytics.FieldCountry}, map[string][]analytics.AggFunc{
		analytics.MetricTemperature: {analytics.AggMean, analytics.AggMin, analytics.AggMax, analytics.AggCount},
	})
	if err != nil {
		return nil, fmt.Errorf("aggregator: %w", err)
	}

	st := &stageOutputs{raws: raws}
	st.normalized, st.rejected = normalizer.Normalize(raws)
	st.remediated, st.diag = remediator.Remediate(st.normalized)
	st.derived = deriver.Derive(st.remediated)
	st.buckets = aggregator.Aggregate(st.derived)
	st.events = detector.Detect(st.derived)
	return st, nil
}

// ── Data loading ──

func loadJSON[T any](path string) ([]T, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var items []T
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// ── Phase 1: Normalization ──
// Validates rejection accounting and the canonical record shape.

func validateNormalization(st *stageOutputs) *phase {
	p := &phase{name: "Phase 1: Normalization (raw to canonical)"}

	if len(st.normalized)+st.rejected != len(st.raws) {
		p.errorf("accounting: %d kept + %d rejected != %d raw", len(st.normalized), st.rejected, len(st.raws))
	}
	if st.rejected > len(st.raws)/2 {
		p.errorf("more than half the input rejected: %d of %d", st.rejected, len(st.raws))
	}
	if len(st.normalized) == 0 {
		p.errorf("no records survived normalization")
		return p
	}

	canonical := map[string]bool{}
	for _, m := range analytics.MetricNames() {
		canonical[m] = true
	}

	for i := range st.normalized {
		rec := &st.normalized[i]
		if rec.StationID == "" {
			p.errorf("record %d: empty station_id", i)
		}
		if rec.Timestamp.IsZero() {
			p.errorf("record %d (%s): zero timestamp", i, rec.StationID)
		}
		for metric, v := range rec.Metrics {
			if !canonical[metric] {
				p.errorf("record %d (%s): unknown metric %q", i, rec.StationID, metric)
			}
			if math.IsNaN(v) || math.IsInf(v, 0) {
				p.errorf("record %d (%s): %s is not finite", i, rec.StationID, metric)
			}
		}
	}
	return p
}

// ── Phase 2: Remediation ──
// Validates plausibility bounds, dedupe, and per-station ordering.

func validateRemediation(st *stageOutputs) *phase {
	p := &phase{name: "Phase 2: Remediation (bounds and dedupe)"}

	removed := len(st.normalized) - len(st.remediated)
	if removed < 0 {
		p.errorf("record count grew: %d in, %d out", len(st.normalized), len(st.remediated))
	} else if removed < st.diag.Deduped+st.diag.Dropped {
		p.errorf("accounting: %d records removed, but diagnostics claim %d deduped and %d dropped",
			removed, st.diag.Deduped, st.diag.Dropped)
	}

	bounds := analytics.DefaultBounds()
	seen := map[string]int{}
	lastSeen := map[string]time.Time{}
	coreSignal := map[string]bool{}
	var stations []string

	for i := range st.remediated {
		rec := &st.remediated[i]

		for metric, v := range rec.Metrics {
			b, ok := bounds[metric]
			if !ok {
				continue
			}
			if v < b.Low || v > b.High {
				p.errorf("record %d (%s): %s=%g outside [%g, %g]", i, rec.StationID, metric, v, b.Low, b.High)
			}
		}

		key := rec.StationID + "|" + rec.Timestamp.UTC().Format(time.RFC3339Nano)
		if prev, ok := seen[key]; ok {
			p.errorf("records %d and %d: duplicate station/timestamp pair %s", prev, i, key)
		}
		seen[key] = i

		if prev, ok := lastSeen[rec.StationID]; ok {
			if rec.Timestamp.Before(prev) {
				p.errorf("record %d (%s): timestamps out of order within station", i, rec.StationID)
			}
		} else {
			stations = append(stations, rec.StationID)
		}
		lastSeen[rec.StationID] = rec.Timestamp

		_, hasTemp := rec.Value(analytics.MetricTemperature)
		_, hasHumidity := rec.Value(analytics.MetricHumidity)
		if hasTemp || hasHumidity {
			coreSignal[rec.StationID] = true
		}
	}

	for _, station := range stations {
		if !coreSignal[station] {
			p.errorf("station %s: no temperature or humidity left after remediation", station)
		}
	}
	return p
}

// ── Phase 3: Derivation ──
// Validates derived metric presence and finiteness.

func validateDerivation(st *stageOutputs) *phase {
	p := &phase{name: "Phase 3: Derivation (computed metrics)"}

	rollingTemp := analytics.RollingName(analytics.MetricTemperature, analytics.DefaultWindow)
	for i := range st.derived {
		rec := &st.derived[i]
		t, hasTemp := rec.Value(analytics.MetricTemperature)
		_, hasHumidity := rec.Value(analytics.MetricHumidity)

		chill, hasChill := rec.Derived[analytics.DerivedWindChill]
		_, hasHeat := rec.Derived[analytics.DerivedHeatIndex]

		if hasTemp {
			if !hasChill {
				p.errorf("record %d (%s): temperature present but no %s", i, rec.StationID, analytics.DerivedWindChill)
			} else if chill > t+1e-9 {
				p.errorf("record %d (%s): wind chill %g above air temperature %g", i, rec.StationID, chill, t)
			}
			if _, ok := rec.Derived[rollingTemp]; !ok {
				p.errorf("record %d (%s): temperature present but no %s", i, rec.StationID, rollingTemp)
			}
			if hasHumidity && !hasHeat {
				p.errorf("record %d (%s): temperature and humidity present but no %s", i, rec.StationID, analytics.DerivedHeatIndex)
			}
		} else {
			if hasChill {
				p.errorf("record %d (%s): %s derived without a temperature", i, rec.StationID, analytics.DerivedWindChill)
			}
			if hasHeat {
				p.errorf("record %d (%s): %s derived without a temperature", i, rec.StationID, analytics.DerivedHeatIndex)
			}
		}

		for name, v := range rec.Derived {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				p.errorf("record %d (%s): derived %s is not finite", i, rec.StationID, name)
			}
		}
	}
	return p
}

// ── Phase 4: Aggregation ──
// Validates bucket ordering and cross-function consistency.

func validateAggregation(st *stageOutputs) *phase {
	p := &phase{name: "Phase 4: Aggregation (daily by country)"}

	tempValues := 0
	for i := range st.derived {
		if _, ok := st.derived[i].Value(analytics.MetricTemperature); ok {
			tempValues++
		}
	}
	if tempValues > 0 && len(st.buckets) == 0 {
		p.errorf("no buckets from %d temperature values", tempValues)
		return p
	}

	type bucketSet struct {
		samples int
		funcs   map[analytics.AggFunc]float64
	}
	sets := map[string]*bucketSet{}
	var order []string
	countedSamples := 0

	for i, b := range st.buckets {
		if b.Granularity != analytics.Daily {
			p.errorf("bucket %d (%s): granularity %q, expected %q", i, b.GroupKey, b.Granularity, analytics.Daily)
		}
		if b.Metric != analytics.MetricTemperature {
			p.errorf("bucket %d (%s): unexpected metric %q", i, b.GroupKey, b.Metric)
		}
		if b.SampleCount <= 0 {
			p.errorf("bucket %d (%s): sample_count %d", i, b.GroupKey, b.SampleCount)
		}
		if math.IsNaN(b.Value) || math.IsInf(b.Value, 0) {
			p.errorf("bucket %d (%s): value is not finite", i, b.GroupKey)
		}
		if h, m, s := b.BucketStart.UTC().Clock(); h != 0 || m != 0 || s != 0 {
			p.errorf("bucket %d (%s): start %s is not midnight UTC", i, b.GroupKey, b.BucketStart.Format(time.RFC3339))
		}

		if i > 0 {
			prev := st.buckets[i-1]
			if b.BucketStart.Before(prev.BucketStart) {
				p.errorf("bucket %d: start %s before previous %s", i,
					b.BucketStart.Format(time.RFC3339), prev.BucketStart.Format(time.RFC3339))
			} else if b.BucketStart.Equal(prev.BucketStart) && b.GroupKey < prev.GroupKey {
				p.errorf("bucket %d: group %q sorts before previous %q", i, b.GroupKey, prev.GroupKey)
			}
		}

		label := b.GroupKey + " @ " + b.BucketStart.Format("2006-01-02")
		set, ok := sets[label]
		if !ok {
			set = &bucketSet{samples: b.SampleCount, funcs: map[analytics.AggFunc]float64{}}
			sets[label] = set
			order = append(order, label)
		}
		if b.SampleCount != set.samples {
			p.errorf("%s: sample_count varies across functions (%d vs %d)", label, b.SampleCount, set.samples)
		}
		if _, dup := set.funcs[b.Func]; dup {
			p.errorf("%s: duplicate %s bucket", label, b.Func)
		}
		set.funcs[b.Func] = b.Value
		if b.Func == analytics.AggCount {
			countedSamples += b.SampleCount
		}
	}

	for _, label := range order {
		set := sets[label]
		for _, fn := range []analytics.AggFunc{analytics.AggMean, analytics.AggMin, analytics.AggMax, analytics.AggCount} {
			if _, ok := set.funcs[fn]; !ok {
				p.errorf("%s: missing %s bucket", label, fn)
			}
		}
		mn, hasMin := set.funcs[analytics.AggMin]
		mean, hasMean := set.funcs[analytics.AggMean]
		mx, hasMax := set.funcs[analytics.AggMax]
		if hasMin && hasMean && hasMax && (mn > mean+1e-9 || mean > mx+1e-9) {
			p.errorf("%s: mean %g outside [%g, %g]", label, mean, mn, mx)
		}
		if count, ok := set.funcs[analytics.AggCount]; ok && !floatEq(count, float64(set.samples)) {
			p.errorf("%s: count %g != sample_count %d", label, count, set.samples)
		}
	}

	if countedSamples != tempValues {
		p.errorf("sample accounting: buckets cover %d temperature values, records carry %d", countedSamples, tempValues)
	}
	return p
}

// ── Phase 5: Detection ──
// Validates event shape and that every exceedance really crosses its cutoff.

var severityLevels = map[string]bool{"minor": true, "moderate": true, "severe": true, "extreme": true}

func validateDetection(st *stageOutputs) *phase {
	p := &phase{name: "Phase 5: Detection (extreme events)"}

	known := map[string]bool{}
	for i := range st.derived {
		known[st.derived[i].StationID] = true
	}

	seen := map[string]int{}
	for i := range st.events {
		e := &st.events[i]
		if e.StationID == "" {
			p.errorf("event %d: empty station_id", i)
		} else if !known[e.StationID] {
			p.errorf("event %d: station %s not in remediated records", i, e.StationID)
		}
		if e.Timestamp.IsZero() {
			p.errorf("event %d (%s): zero timestamp", i, e.StationID)
		}
		if e.DetectedAt.IsZero() {
			p.errorf("event %d (%s): zero detected_at", i, e.StationID)
		}
		if !severityLevels[e.Severity] {
			p.errorf("event %d (%s): severity %q not in {minor, moderate, severe, extreme}", i, e.StationID, e.Severity)
		}
		if len(e.Tags) == 0 {
			p.errorf("event %d (%s): no tags", i, e.StationID)
		}
		if len(e.Exceedances) == 0 {
			p.errorf("event %d (%s): no exceedances", i, e.StationID)
		}
		if len(e.Tags) > len(e.Exceedances) {
			p.errorf("event %d (%s): %d tags from %d exceedances", i, e.StationID, len(e.Tags), len(e.Exceedances))
		}

		key := e.StationID + "|" + e.Timestamp.UTC().Format(time.RFC3339Nano)
		if prev, ok := seen[key]; ok {
			p.errorf("events %d and %d: same station and timestamp flagged twice", prev, i)
		}
		seen[key] = i

		for _, exc := range e.Exceedances {
			if exc.Tag == "" {
				p.errorf("event %d (%s): untagged exceedance on %s", i, e.StationID, exc.Metric)
			}
			crossed := exc.Value >= exc.Threshold
			if exc.Direction == analytics.Below {
				crossed = exc.Value <= exc.Threshold
			}
			if !crossed {
				p.errorf("event %d (%s): %s=%g does not cross %s cutoff %g",
					i, e.StationID, exc.Metric, exc.Value, exc.Direction, exc.Threshold)
			}
		}
	}
	return p
}

// ── Phase 6: Density ──
// Validates the temperature KDE holds unit mass on a clean grid.

func validateDensity(st *stageOutputs) *phase {
	p := &phase{name: "Phase 6: Density (temperature KDE)"}

	d, err := analytics.EstimateMetricDensity(st.derived, analytics.MetricTemperature)
	if errors.Is(err, analytics.ErrNoSamples) {
		for i := range st.derived {
			if _, ok := st.derived[i].Value(analytics.MetricTemperature); ok {
				p.errorf("estimator reported no samples but temperature values exist")
				break
			}
		}
		return p
	}
	if err != nil {
		p.errorf("estimate: %v", err)
		return p
	}

	if len(d.X) != len(d.Y) {
		p.errorf("grid mismatch: %d x values, %d y values", len(d.X), len(d.Y))
		return p
	}
	if len(d.X) != analytics.DefaultSamplePoints {
		p.errorf("grid size: expected %d points, got %d", analytics.DefaultSamplePoints, len(d.X))
	}
	for i := range d.X {
		if i > 0 && d.X[i] <= d.X[i-1] && !d.Degenerate {
			p.errorf("grid point %d: x not increasing (%g after %g)", i, d.X[i], d.X[i-1])
		}
		if d.Y[i] < 0 || math.IsNaN(d.Y[i]) || math.IsInf(d.Y[i], 0) {
			p.errorf("grid point %d: invalid density %g", i, d.Y[i])
		}
	}
	if d.Degenerate {
		return p
	}

	// Trapezoid mass over the grid. The grid extends three bandwidths past
	// the extremes, so nearly all of the unit mass falls inside it.
	mass := 0.0
	for i := 1; i < len(d.X); i++ {
		mass += (d.X[i] - d.X[i-1]) * (d.Y[i] + d.Y[i-1]) / 2
	}
	if math.Abs(mass-1) > 0.02 {
		p.errorf("density mass %.4f not within 2%% of 1", mass)
	}
	return p
}

// ── Helpers ──

func floatEq(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}
