package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the ETL pipeline.
type Metrics struct {
	RecordsConsumed   prometheus.Counter
	RecordsNormalized prometheus.Counter
	RecordsRejected   prometheus.Counter
	RecordsDropped    prometheus.Counter
	ValuesFilled      prometheus.Counter
	PipelineRunning   prometheus.Gauge

	// Batch processing metrics.
	BatchesProcessed *prometheus.CounterVec // labels: status={ok,error}
	BatchSize        prometheus.Histogram
	BatchDuration    prometheus.Histogram
	LastBatchTime    prometheus.Gauge

	// Detection and sweep metrics.
	EventsDetected *prometheus.CounterVec // labels: tag
	SweepBuckets   prometheus.Counter
	SweepDuration  prometheus.Histogram
	StoreRecords   prometheus.Gauge

	// Station registry metrics.
	RegistryLookups *prometheus.CounterVec // labels: outcome={ok,not_found,error}
	RegistryEnabled prometheus.Gauge
}

// NewMetrics creates and registers all pipeline metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		RecordsConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "climate_etl",
			Name:      "records_consumed_total",
			Help:      "Total raw messages read from the source topic.",
		}),
		RecordsNormalized: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "climate_etl",
			Name:      "records_normalized_total",
			Help:      "Total raw readings normalized into the canonical schema.",
		}),
		RecordsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "climate_etl",
			Name:      "records_rejected_total",
			Help:      "Total messages rejected as undecodable or missing identity fields.",
		}),
		RecordsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "climate_etl",
			Name:      "records_dropped_total",
			Help:      "Total records removed during remediation (duplicates, dead partitions, bound violations).",
		}),
		ValuesFilled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "climate_etl",
			Name:      "values_filled_total",
			Help:      "Total metric values filled by interpolation.",
		}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "climate_etl",
			Name:      "pipeline_running",
			Help:      "1 when the pipeline is active, 0 when shut down.",
		}),
		BatchesProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "climate_etl",
			Name:      "batches_total",
			Help:      "Batches processed by final status.",
		}, []string{"status"}),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "climate_etl",
			Name:      "batch_size",
			Help:      "Number of messages per batch extracted from Kafka.",
			Buckets:   []float64{1, 5, 10, 20, 30, 40, 50, 75, 100},
		}),
		BatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "climate_etl",
			Name:      "batch_processing_duration_seconds",
			Help:      "Duration of a complete batch extract-transform-load cycle.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
		}),
		LastBatchTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "climate_etl",
			Name:      "last_batch_timestamp_seconds",
			Help:      "Unix time of the last successfully processed batch.",
		}),
		EventsDetected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "climate_etl",
			Name:      "events_detected_total",
			Help:      "Extreme events detected, by threshold tag.",
		}, []string{"tag"}),
		SweepBuckets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "climate_etl",
			Name:      "sweep_buckets_published_total",
			Help:      "Aggregate buckets published to the summaries topic.",
		}),
		SweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "climate_etl",
			Name:      "sweep_duration_seconds",
			Help:      "Duration of an aggregation sweep over the record store.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
		StoreRecords: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "climate_etl",
			Name:      "store_records",
			Help:      "Records currently held in the in-memory store.",
		}),
		RegistryLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "climate_etl",
			Name:      "registry_lookups_total",
			Help:      "Station registry lookups by outcome.",
		}, []string{"outcome"}),
		RegistryEnabled: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "climate_etl",
			Name:      "registry_enabled",
			Help:      "1 when station registry enrichment is enabled, 0 otherwise.",
		}),
	}

	prometheus.MustRegister(
		m.RecordsConsumed,
		m.RecordsNormalized,
		m.RecordsRejected,
		m.RecordsDropped,
		m.ValuesFilled,
		m.PipelineRunning,
		m.BatchesProcessed,
		m.BatchSize,
		m.BatchDuration,
		m.LastBatchTime,
		m.EventsDetected,
		m.SweepBuckets,
		m.SweepDuration,
		m.StoreRecords,
		m.RegistryLookups,
		m.RegistryEnabled,
	)

	return m
}

// NewMetricsForTesting creates Metrics with a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return &Metrics{
		RecordsConsumed:   prometheus.NewCounter(prometheus.CounterOpts{Namespace: "climate_etl", Name: "records_consumed_total"}),
		RecordsNormalized: prometheus.NewCounter(prometheus.CounterOpts{Namespace: "climate_etl", Name: "records_normalized_total"}),
		RecordsRejected:   prometheus.NewCounter(prometheus.CounterOpts{Namespace: "climate_etl", Name: "records_rejected_total"}),
		RecordsDropped:    prometheus.NewCounter(prometheus.CounterOpts{Namespace: "climate_etl", Name: "records_dropped_total"}),
		ValuesFilled:      prometheus.NewCounter(prometheus.CounterOpts{Namespace: "climate_etl", Name: "values_filled_total"}),
		PipelineRunning:   prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "climate_etl", Name: "pipeline_running"}),
		BatchesProcessed:  prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "climate_etl", Name: "batches_total"}, []string{"status"}),
		BatchSize:         prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: "climate_etl", Name: "batch_size"}),
		BatchDuration:     prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: "climate_etl", Name: "batch_processing_duration_seconds"}),
		LastBatchTime:     prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "climate_etl", Name: "last_batch_timestamp_seconds"}),
		EventsDetected:    prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "climate_etl", Name: "events_detected_total"}, []string{"tag"}),
		SweepBuckets:      prometheus.NewCounter(prometheus.CounterOpts{Namespace: "climate_etl", Name: "sweep_buckets_published_total"}),
		SweepDuration:     prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: "climate_etl", Name: "sweep_duration_seconds"}),
		StoreRecords:      prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "climate_etl", Name: "store_records"}),
		RegistryLookups:   prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "climate_etl", Name: "registry_lookups_total"}, []string{"outcome"}),
		RegistryEnabled:   prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "climate_etl", Name: "registry_enabled"}),
	}
}
