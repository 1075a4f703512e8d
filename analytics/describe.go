package analytics

// Summary holds the descriptive statistics of one metric's non-null values.
// Std is the sample standard deviation, 0 when only one value exists.
type Summary struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	Std    float64 `json:"std"`
	Min    float64 `json:"min"`
	P25    float64 `json:"p25"`
	Median float64 `json:"median"`
	P75    float64 `json:"p75"`
	Max    float64 `json:"max"`
}

// Describe computes summary statistics per metric, the table every
// reporting surface renders. With no metrics named, the full canonical set
// is described. Metrics with zero non-null values are omitted from the
// result; unknown names simply produce no entry.
func Describe(records []Record, metrics ...string) map[string]Summary {
	if len(metrics) == 0 {
		metrics = MetricNames()
	}

	out := make(map[string]Summary, len(metrics))
	for _, metric := range metrics {
		values := collectValues(records, metric)
		if len(values) == 0 {
			continue
		}
		mn, mx := minMax(values)
		out[metric] = Summary{
			Count:  len(values),
			Mean:   mean(values),
			Std:    sampleStd(values),
			Min:    mn,
			P25:    percentile(values, 25),
			Median: percentile(values, 50),
			P75:    percentile(values, 75),
			Max:    mx,
		}
	}
	return out
}
