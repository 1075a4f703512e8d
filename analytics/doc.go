// Package analytics is the climate-observation analytics core: it cleans,
// normalizes, aggregates, and flags per-station weather readings so that
// reporting surfaces consume one trustworthy, uniformly shaped dataset
// instead of re-deriving it with drifting conventions.
//
// Components run as a pure pipeline over in-memory collections:
//
//	Normalizer -> Remediator -> Deriver -> {Aggregator, Detector, EstimateDensity}
//
// The final three are independent consumers of the cleaned records and may
// run in any order. No component performs I/O, holds state between calls, or
// mutates its input; data-quality problems surface as Diagnostics counts,
// never as errors.
//
// # Canonical Metrics
//
// Raw columns are mapped onto a fixed metric set:
//
//	temperature_c  air temperature, Celsius
//	humidity_pct   relative humidity, percent
//	wind_kph       wind speed, km/h
//	precip_mm      precipitation, millimeters
//	pressure_mb    barometric pressure, millibars
//	pm2_5          fine particulates, micrograms per cubic meter
//
// A metric absent from a record's Metrics map is null. Zero is never used as
// a missing-value sentinel: 0 mm of rain is a real reading.
//
// # Plausibility Bounds
//
// The Remediator nulls readings outside physical plausibility bounds chosen
// to bracket recorded planetary extremes, e.g. temperature [-90, 60] spans
// Vostok 1983 (-89.2C) and Death Valley 1913 (56.7C), and wind tops out at
// 410 kph just above the Barrow Island gust of 1996. See DefaultBounds.
//
// # Derived Fields
//
// heat_index_c applies the Rothfusz regression in Celsius for temperatures
// of 20C and above; wind_chill_c applies the Environment Canada index for
// temperatures of 10C and below with wind over 4.8 kph. Outside their fitted
// regimes both equal the plain temperature. Rolling averages are named
// "<metric>_ma<window>" and warm up from the first observation rather than
// starting null.
//
// # Seasons
//
// Seasonal aggregation uses the meteorological month convention (Dec-Feb
// Winter and so on) applied uniformly regardless of hemisphere, matching the
// historical reports this package replaces. Callers wanting
// hemisphere-aware output pass SeasonsSouthern or a custom mapping.
package analytics
