package redis

import (
	"sort"
	"sync"
	"time"
)

// The rolling window is a ring of fixed width time buckets per tracked key.
// Rotation zeroes stale buckets, so the sum over the ring is always the
// access count for the last window and a key that was hot an hour ago
// reports zero now. With a 60s window the bucket sum is directly an
// accesses-per-minute figure.
const (
	hotkeyBuckets     = 6
	hotkeyBucketWidth = 10 // seconds
	hotkeyWindow      = hotkeyBuckets * hotkeyBucketWidth
)

type keyStats struct {
	counts   [hotkeyBuckets]uint32
	slot     int64 // bucket number of the most recent count
	lastSeen time.Time
}

// rotate advances the ring to the current bucket, zeroing everything
// between the last recorded slot and now.
func (ks *keyStats) rotate(slot int64) {
	if slot <= ks.slot {
		return
	}
	steps := slot - ks.slot
	if steps >= hotkeyBuckets {
		ks.counts = [hotkeyBuckets]uint32{}
	} else {
		for s := ks.slot + 1; s <= slot; s++ {
			ks.counts[s%hotkeyBuckets] = 0
		}
	}
	ks.slot = slot
}

func (ks *keyStats) accessesInWindow(slot int64) uint32 {
	ks.rotate(slot)
	var total uint32
	for _, n := range ks.counts {
		total += n
	}
	return total
}

// Hotkey is one ranked entry in a detector report.
type Hotkey struct {
	Key               string    `json:"key"`
	AccessesPerMinute float64   `json:"accesses_per_minute"`
	IsHot             bool      `json:"is_hot"`
	LastSeen          time.Time `json:"last_seen"`
}

// HotkeyReport is the detector's answer to the alerting consumer.
type HotkeyReport struct {
	Hotkeys           []Hotkey `json:"hotkeys"`
	ThresholdExceeded int      `json:"threshold_exceeded"`
}

// DetectorStats describes the detector's own state.
type DetectorStats struct {
	TrackedKeys    int     `json:"tracked_keys"`
	MaxTrackedKeys int     `json:"max_tracked_keys"`
	Threshold      float64 `json:"threshold"`
}

// HotkeyDetector passively observes key accesses and estimates per-minute
// rates so disproportionately hot keys can be flagged for sharding or
// client side caching. Tracking is bounded: at capacity the least recently
// seen entry is evicted to admit a new key. That is an eviction by tracking
// recency, not by business value; a genuinely hot key keeps refreshing its
// own entry and survives.
type HotkeyDetector struct {
	threshold float64
	maxKeys   int

	mu   sync.Mutex
	keys map[string]*keyStats

	// now is a hook for tests.
	now func() time.Time
}

func NewHotkeyDetector(threshold float64, maxTrackedKeys int) *HotkeyDetector {
	return &HotkeyDetector{
		threshold: threshold,
		maxKeys:   maxTrackedKeys,
		keys:      make(map[string]*keyStats, maxTrackedKeys),
		now:       time.Now,
	}
}

// Record counts one access. It never blocks on I/O and never returns an
// error; the operation that reported the access must not be affected.
func (d *HotkeyDetector) Record(key string) {
	now := d.now()
	slot := now.Unix() / hotkeyBucketWidth

	d.mu.Lock()
	defer d.mu.Unlock()

	ks, ok := d.keys[key]
	if !ok {
		if len(d.keys) >= d.maxKeys {
			d.evictOldest()
		}
		ks = &keyStats{slot: slot}
		d.keys[key] = ks
	}
	ks.rotate(slot)
	ks.counts[slot%hotkeyBuckets]++
	ks.lastSeen = now
}

// evictOldest removes the least recently seen entry. Linear, but only runs
// on admission at capacity and the tracking bound is small. Must be called
// with the lock held.
func (d *HotkeyDetector) evictOldest() {
	var oldestKey string
	var oldest time.Time
	first := true
	for k, ks := range d.keys {
		if first || ks.lastSeen.Before(oldest) {
			oldestKey, oldest = k, ks.lastSeen
			first = false
		}
	}
	if !first {
		delete(d.keys, oldestKey)
	}
}

// Hotkeys ranks tracked keys by estimated per-minute rate, highest first.
// limit <= 0 means no limit.
func (d *HotkeyDetector) Hotkeys(limit int) HotkeyReport {
	now := d.now()
	slot := now.Unix() / hotkeyBucketWidth

	d.mu.Lock()
	ranked := make([]Hotkey, 0, len(d.keys))
	for k, ks := range d.keys {
		rate := float64(ks.accessesInWindow(slot)) * 60.0 / hotkeyWindow
		ranked = append(ranked, Hotkey{
			Key:               k,
			AccessesPerMinute: rate,
			IsHot:             rate > d.threshold,
			LastSeen:          ks.lastSeen,
		})
	}
	d.mu.Unlock()

	sort.Slice(ranked, func(i, j int) bool {
		return ranked[i].AccessesPerMinute > ranked[j].AccessesPerMinute
	})

	exceeded := 0
	for _, h := range ranked {
		if h.IsHot {
			exceeded++
		}
	}
	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return HotkeyReport{Hotkeys: ranked, ThresholdExceeded: exceeded}
}

func (d *HotkeyDetector) Stats() DetectorStats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return DetectorStats{
		TrackedKeys:    len(d.keys),
		MaxTrackedKeys: d.maxKeys,
		Threshold:      d.threshold,
	}
}
