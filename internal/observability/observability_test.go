package observability

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger_Levels(t *testing.T) {
	cases := []struct {
		level   string
		enabled slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelInfo},
	}

	for _, tc := range cases {
		t.Run(tc.level, func(t *testing.T) {
			logger := NewLogger(tc.level, "json")
			require.NotNil(t, logger)
			ctx := context.Background()
			assert.True(t, logger.Enabled(ctx, tc.enabled))
			if tc.enabled > slog.LevelDebug {
				assert.False(t, logger.Enabled(ctx, tc.enabled-1))
			}
		})
	}
}

func TestNewLogger_Formats(t *testing.T) {
	assert.NotNil(t, NewLogger("info", "text"))
	assert.NotNil(t, NewLogger("info", "json"))
	assert.NotNil(t, NewLogger("info", ""))
}

func TestNewMetricsForTesting(t *testing.T) {
	// Two instances must not collide: nothing is registered globally.
	m1 := NewMetricsForTesting()
	m2 := NewMetricsForTesting()

	m1.RecordsConsumed.Add(3)
	m1.BatchesProcessed.WithLabelValues("ok").Inc()
	m1.EventsDetected.WithLabelValues("Heatwave").Add(2)
	m1.StoreRecords.Set(42)
	m1.BatchDuration.Observe(0.25)

	require.NotNil(t, m2.RecordsConsumed)
	assert.NotSame(t, m1.RecordsConsumed, m2.RecordsConsumed)
}
