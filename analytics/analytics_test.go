package analytics

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testBaseTime = time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)

// obsAt builds a canonical record at testBaseTime plus an hour offset.
func obsAt(station string, hour int, metrics map[string]float64) Record {
	rec := Record{
		StationID: station,
		Timestamp: testBaseTime.Add(time.Duration(hour) * time.Hour),
	}
	for name, v := range metrics {
		rec.SetMetric(name, v)
	}
	return rec
}

func TestPipelineInterpolationAndRolling(t *testing.T) {
	raws := []RawRecord{
		{"station_id": "A", "timestamp": "2024-01-10 00:00", "temperature_c": 10.0},
		{"station_id": "A", "timestamp": "2024-01-10 01:00"},
		{"station_id": "A", "timestamp": "2024-01-10 02:00", "temperature_c": 30.0},
	}

	n, err := NewNormalizer(DefaultFieldMapping())
	require.NoError(t, err)
	records, rejected := n.Normalize(raws)
	require.Len(t, records, 3)
	require.Zero(t, rejected)

	r, err := NewRemediator()
	require.NoError(t, err)
	cleaned, diag := r.Remediate(records)
	require.Len(t, cleaned, 3)
	assert.Equal(t, 1, diag.Filled[MetricTemperature])

	mid, ok := cleaned[1].Metric(MetricTemperature)
	require.True(t, ok)
	assert.Equal(t, 20.0, mid)

	d, err := NewDeriver()
	require.NoError(t, err)
	enriched := d.Derive(cleaned)
	require.Len(t, enriched, 3)

	ma := RollingName(MetricTemperature, DefaultWindow)
	for i, expected := range []float64{10, 15, 20} {
		got, ok := enriched[i].Derived[ma]
		require.True(t, ok, "record %d missing %s", i, ma)
		assert.InDelta(t, expected, got, 1e-9)
	}
}

func TestPipelinePercentileDetection(t *testing.T) {
	fixedTime := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	SetClock(clockwork.NewFakeClockAt(fixedTime))
	defer SetClock(nil)

	records := []Record{
		obsAt("A", 0, map[string]float64{MetricTemperature: 10}),
		obsAt("A", 1, map[string]float64{MetricTemperature: 20}),
		obsAt("A", 2, map[string]float64{MetricTemperature: 30}),
		obsAt("A", 3, map[string]float64{MetricTemperature: 40}),
		obsAt("A", 4, map[string]float64{MetricTemperature: 100}),
	}

	det, err := NewDetector(map[string][]ThresholdSpec{
		MetricTemperature: {Percentile(80, Above).Tagged("Heatwave")},
	})
	require.NoError(t, err)

	events := det.Detect(records)

	require.Len(t, events, 1)
	evt := events[0]
	assert.Equal(t, "A", evt.StationID)
	assert.Equal(t, testBaseTime.Add(4*time.Hour), evt.Timestamp)
	assert.Equal(t, []string{"Heatwave"}, evt.Tags)
	require.Len(t, evt.Exceedances, 1)
	assert.Equal(t, 100.0, evt.Exceedances[0].Value)
	assert.InDelta(t, 52.0, evt.Exceedances[0].Threshold, 1e-9)
	assert.Equal(t, "extreme", evt.Severity)
	assert.Equal(t, fixedTime, evt.DetectedAt)
}

func TestPipelineSeasonalAggregation(t *testing.T) {
	records := []Record{
		{
			StationID: "st-1",
			Country:   "X",
			Timestamp: time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC),
			Metrics:   map[string]float64{MetricTemperature: 10},
		},
		{
			StationID: "st-2",
			Country:   "X",
			Timestamp: time.Date(2024, 2, 15, 12, 0, 0, 0, time.UTC),
			Metrics:   map[string]float64{MetricTemperature: 30},
		},
	}

	agg, err := NewAggregator(Seasonal, []string{FieldCountry}, map[string][]AggFunc{
		MetricTemperature: {AggMean},
	})
	require.NoError(t, err)

	buckets := agg.Aggregate(records)

	// Jan and Feb both belong to the Winter that started the prior December.
	require.Len(t, buckets, 1)
	b := buckets[0]
	assert.Equal(t, "country=X", b.GroupKey)
	assert.Equal(t, map[string]string{FieldCountry: "X"}, b.Group)
	assert.Equal(t, time.Date(2023, 12, 1, 0, 0, 0, 0, time.UTC), b.BucketStart)
	assert.Equal(t, Seasonal, b.Granularity)
	assert.Equal(t, AggMean, b.Func)
	assert.Equal(t, 20.0, b.Value)
	assert.Equal(t, 2, b.SampleCount)
}

func TestDeriveIdempotent(t *testing.T) {
	records := []Record{
		obsAt("A", 0, map[string]float64{MetricTemperature: 25, MetricHumidity: 60, MetricWind: 15}),
		obsAt("A", 1, map[string]float64{MetricTemperature: 28, MetricHumidity: 55}),
		obsAt("B", 0, map[string]float64{MetricTemperature: -2, MetricWind: 30}),
	}

	d, err := NewDeriver()
	require.NoError(t, err)

	once := d.Derive(records)
	twice := d.Derive(once)

	if diff := cmp.Diff(once, twice); diff != "" {
		t.Errorf("re-deriving enriched records changed them (-once +twice):\n%s", diff)
	}
}

func TestPipelineEndToEnd(t *testing.T) {
	raws := []RawRecord{
		{"location_name": "Oslo", "country": "Norway", "last_updated": "2024-01-10 00:00", "temperature_c": -5.0, "humidity": 80.0, "wind_kph": 30.0},
		{"location_name": "Oslo", "country": "Norway", "last_updated": "2024-01-10 06:00", "humidity": 120.0, "wind_kph": 25.0},
		{"location_name": "Oslo", "country": "Norway", "last_updated": "2024-01-10 12:00", "temperature_c": -1.0, "humidity": 75.0, "wind_kph": 20.0},
		{"location_name": "Lahore", "country": "Pakistan", "last_updated": "2024-01-10 00:00", "temperature_c": 36.0, "humidity": 35.0, "air_quality_PM2.5": 180.0},
		{"location_name": "Lahore", "country": "Pakistan", "last_updated": "2024-01-10 12:00", "temperature_c": 40.0, "humidity": 30.0, "air_quality_PM2.5": 210.0},
		{"location_name": "Lahore", "country": "Pakistan", "last_updated": "not a date", "temperature_c": 41.0},
		{"country": "Pakistan", "last_updated": "2024-01-10 18:00", "temperature_c": 39.0},
	}

	n, err := NewNormalizer(DefaultFieldMapping())
	require.NoError(t, err)
	records, rejected := n.Normalize(raws)
	require.Len(t, records, 5)
	assert.Equal(t, 2, rejected)

	r, err := NewRemediator()
	require.NoError(t, err)
	cleaned, diag := r.Remediate(records)
	require.Len(t, cleaned, 5)
	assert.Equal(t, 1, diag.OutOfRange[MetricHumidity])
	assert.Equal(t, 1, diag.Filled[MetricTemperature])
	assert.Empty(t, diag.ExcludedPartitions)
	for _, rec := range cleaned {
		if h, ok := rec.Metric(MetricHumidity); ok {
			assert.GreaterOrEqual(t, h, 0.0)
			assert.LessOrEqual(t, h, 100.0)
		}
	}

	d, err := NewDeriver()
	require.NoError(t, err)
	enriched := d.Derive(cleaned)

	// Cold windy Oslo reads colder than the thermometer, hot dry Lahore hotter.
	osloWC, ok := enriched[0].Derived[DerivedWindChill]
	require.True(t, ok)
	assert.Less(t, osloWC, -5.0)
	lahoreHI, ok := enriched[4].Derived[DerivedHeatIndex]
	require.True(t, ok)
	assert.Greater(t, lahoreHI, 40.0)

	agg, err := NewAggregator(Daily, []string{FieldCountry}, map[string][]AggFunc{
		MetricTemperature: {AggMean, AggMax},
		MetricPM25:        {AggMean},
	})
	require.NoError(t, err)
	buckets := agg.Aggregate(enriched)
	assert.NotEmpty(t, buckets)
	for _, b := range buckets {
		assert.Positive(t, b.SampleCount)
	}

	det, err := NewDetector(map[string][]ThresholdSpec{
		MetricTemperature: {Fixed(38, Above).Tagged("Heatwave")},
	})
	require.NoError(t, err)
	events := det.Detect(enriched)
	require.Len(t, events, 1)
	assert.Equal(t, "Lahore", events[0].StationID)
	assert.Equal(t, []string{"Heatwave"}, events[0].Tags)

	density, err := EstimateMetricDensity(enriched, MetricTemperature)
	require.NoError(t, err)
	assert.Len(t, density.X, DefaultSamplePoints)
	assert.False(t, density.Degenerate)

	summary := Describe(enriched, MetricTemperature)
	require.Contains(t, summary, MetricTemperature)
	assert.Equal(t, 5, summary[MetricTemperature].Count)
}
