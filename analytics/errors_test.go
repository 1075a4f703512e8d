package analytics

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigError(t *testing.T) {
	t.Run("message names the field", func(t *testing.T) {
		err := configErrorf("granularity", "unknown granularity %q", "hourly")
		assert.Equal(t, `config: granularity: unknown granularity "hourly"`, err.Error())
	})

	t.Run("matches errors.As through wrapping", func(t *testing.T) {
		wrapped := fmt.Errorf("building aggregator: %w", configErrorf("group_keys", "unknown group key %q", "city"))

		var cfgErr *ConfigError
		require.ErrorAs(t, wrapped, &cfgErr)
		assert.Equal(t, "group_keys", cfgErr.Field)
	})

	t.Run("distinct from ErrNoSamples", func(t *testing.T) {
		err := configErrorf("sample_points", "must be at least 2")
		assert.False(t, errors.Is(err, ErrNoSamples))
	})
}

func TestDiagnosticsTotalFilled(t *testing.T) {
	diag := Diagnostics{
		Filled: map[string]int{
			MetricTemperature: 3,
			MetricHumidity:    2,
		},
	}

	assert.Equal(t, 5, diag.TotalFilled())
	assert.Zero(t, Diagnostics{}.TotalFilled())
}
