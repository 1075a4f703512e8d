package analytics

import "math"

// DefaultSamplePoints is the grid size used when none is configured.
const DefaultSamplePoints = 200

// Density is a 1-D Gaussian kernel density estimate. X is the evaluation
// grid, Y the density at each grid point. Degenerate marks the uniform
// fallback used when the input has no spread.
type Density struct {
	X          []float64 `json:"x"`
	Y          []float64 `json:"y"`
	Bandwidth  float64   `json:"bandwidth"`
	Degenerate bool      `json:"degenerate,omitempty"`
}

type densityConfig struct {
	samplePoints int
}

// DensityOption adjusts optional density estimation behavior.
type DensityOption func(*densityConfig)

// WithSamplePoints sets the evaluation grid size.
func WithSamplePoints(n int) DensityOption {
	return func(c *densityConfig) {
		c.samplePoints = n
	}
}

// EstimateDensity computes a self-contained Gaussian KDE so distribution
// views work without a statistics library. Bandwidth follows Silverman's
// rule of thumb, 1.06 * std * n^(-1/5), with the population standard
// deviation. When the values have no spread (all identical, or n == 1) the
// estimate degenerates to a finite uniform density over the observed range
// instead of dividing by zero.
//
// Cost is O(n * samplePoints); callers with very large inputs subsample
// before calling, the estimator does not.
func EstimateDensity(values []float64, opts ...DensityOption) (Density, error) {
	cfg := densityConfig{samplePoints: DefaultSamplePoints}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.samplePoints < 2 {
		return Density{}, configErrorf("sample_points", "must be at least 2, got %d", cfg.samplePoints)
	}
	if len(values) == 0 {
		return Density{}, ErrNoSamples
	}

	n := float64(len(values))
	std := popStd(values)
	bw := 1.06 * std * math.Pow(n, -0.2)
	mn, mx := minMax(values)

	if std == 0 || bw <= 0 {
		uniform := 1 / (mx - mn + 1e-10)
		grid := linspace(mn, mx, cfg.samplePoints)
		dens := make([]float64, len(grid))
		for i := range dens {
			dens[i] = uniform
		}
		return Density{X: grid, Y: dens, Bandwidth: bw, Degenerate: true}, nil
	}

	grid := linspace(mn-3*bw, mx+3*bw, cfg.samplePoints)
	dens := make([]float64, len(grid))
	norm := n * bw * math.Sqrt(2*math.Pi)
	for i, x := range grid {
		sum := 0.0
		for _, v := range values {
			z := (x - v) / bw
			sum += math.Exp(-0.5 * z * z)
		}
		dens[i] = sum / norm
	}
	return Density{X: grid, Y: dens, Bandwidth: bw}, nil
}

// EstimateMetricDensity runs EstimateDensity over the non-null values of one
// metric. Returns ErrNoSamples when no record carries the metric.
func EstimateMetricDensity(records []Record, metric string, opts ...DensityOption) (Density, error) {
	return EstimateDensity(collectValues(records, metric), opts...)
}
