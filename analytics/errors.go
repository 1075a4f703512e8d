package analytics

import (
	"errors"
	"fmt"
)

// ErrNoSamples is returned when an estimator receives an empty value set.
var ErrNoSamples = errors.New("no samples")

// ConfigError reports invalid or incomplete component setup. It is returned
// by constructors before any data is scanned and is never produced by a
// processing method: bad configuration fails fast, bad data degrades into
// Diagnostics counts instead.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

func configErrorf(field, format string, args ...any) error {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Diagnostics reports the remediation actions taken on a batch. Per-record
// data problems are counted here rather than raised, so a batch of mostly
// good rows is never lost to a few bad ones.
type Diagnostics struct {
	// Filled counts interpolated metric values, keyed by metric name.
	Filled map[string]int
	// CountriesFilled counts country values filled from the partition mode.
	CountriesFilled int
	// Deduped counts records removed as duplicate (station, timestamp) pairs.
	Deduped int
	// OutOfRange counts metric values nulled for violating plausibility
	// bounds, keyed by metric name.
	OutOfRange map[string]int
	// Dropped counts records removed because a value stayed out of range
	// after re-interpolation.
	Dropped int
	// ExcludedPartitions lists group values of partitions removed entirely
	// for having no valid temperature or humidity at all.
	ExcludedPartitions []string
}

// TotalFilled sums interpolation fills across all metrics.
func (d Diagnostics) TotalFilled() int {
	total := 0
	for _, n := range d.Filled {
		total += n
	}
	return total
}
