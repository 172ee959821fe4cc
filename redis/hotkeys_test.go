package redis

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestHotkeyFlagsAboveThreshold ensures a key accessed faster than the
// threshold is flagged and a slower key is not.
func TestHotkeyFlagsAboveThreshold(t *testing.T) {
	d := NewHotkeyDetector(100, 10)
	now := time.Now()
	d.now = func() time.Time { return now }

	for i := 0; i < 150; i++ {
		d.Record("busy")
	}
	for i := 0; i < 10; i++ {
		d.Record("quiet")
	}

	report := d.Hotkeys(0)
	require.Len(t, report.Hotkeys, 2)
	assert.Equal(t, 1, report.ThresholdExceeded)

	busy := report.Hotkeys[0]
	assert.Equal(t, "busy", busy.Key)
	assert.True(t, busy.IsHot)
	assert.Equal(t, 150.0, busy.AccessesPerMinute)

	quiet := report.Hotkeys[1]
	assert.Equal(t, "quiet", quiet.Key)
	assert.False(t, quiet.IsHot)
}

// TestHotkeyRatesDecay ensures counts roll out of the window once the key
// goes quiet.
func TestHotkeyRatesDecay(t *testing.T) {
	d := NewHotkeyDetector(100, 10)
	now := time.Now()
	d.now = func() time.Time { return now }

	for i := 0; i < 150; i++ {
		d.Record("busy")
	}
	report := d.Hotkeys(0)
	require.True(t, report.Hotkeys[0].IsHot)

	// Half the window later only the stale buckets have dropped out.
	now = now.Add(30 * time.Second)
	report = d.Hotkeys(0)
	assert.Equal(t, 150.0, report.Hotkeys[0].AccessesPerMinute)

	// Past the full window the key reports cold.
	now = now.Add(45 * time.Second)
	report = d.Hotkeys(0)
	assert.Equal(t, 0.0, report.Hotkeys[0].AccessesPerMinute)
	assert.False(t, report.Hotkeys[0].IsHot)
	assert.Equal(t, 0, report.ThresholdExceeded)
}

// TestHotkeyTrackingBounded ensures the detector never tracks more than
// maxTrackedKeys and evicts by least recent sighting.
func TestHotkeyTrackingBounded(t *testing.T) {
	d := NewHotkeyDetector(100, 5)
	now := time.Now()
	d.now = func() time.Time { return now }

	for i := 0; i < 20; i++ {
		d.Record(fmt.Sprintf("key-%d", i))
		now = now.Add(time.Millisecond)
	}

	stats := d.Stats()
	assert.Equal(t, 5, stats.TrackedKeys)
	assert.Equal(t, 5, stats.MaxTrackedKeys)

	// The survivors are the five most recently seen.
	report := d.Hotkeys(0)
	keys := make([]string, 0, len(report.Hotkeys))
	for _, h := range report.Hotkeys {
		keys = append(keys, h.Key)
	}
	assert.ElementsMatch(t, []string{"key-15", "key-16", "key-17", "key-18", "key-19"}, keys)
}

// TestHotkeySurvivesEvictionPressure ensures a continuously hot key is not
// evicted by churn from one-off keys.
func TestHotkeySurvivesEvictionPressure(t *testing.T) {
	d := NewHotkeyDetector(100, 3)
	now := time.Now()
	d.now = func() time.Time { return now }

	for i := 0; i < 50; i++ {
		d.Record("busy")
		d.Record(fmt.Sprintf("one-off-%d", i))
		now = now.Add(time.Millisecond)
	}

	report := d.Hotkeys(1)
	require.Len(t, report.Hotkeys, 1)
	assert.Equal(t, "busy", report.Hotkeys[0].Key)
	assert.Equal(t, 50.0, report.Hotkeys[0].AccessesPerMinute)
}

func TestHotkeyLimit(t *testing.T) {
	d := NewHotkeyDetector(100, 10)
	for i := 0; i < 6; i++ {
		d.Record(fmt.Sprintf("key-%d", i))
	}
	report := d.Hotkeys(3)
	assert.Len(t, report.Hotkeys, 3)
}
