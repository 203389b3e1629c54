package motion

import (
	"math"

	"github.com/gwillem/rzpanel/pkg/stage"
)

// Cache remembers the last published sample of each axis and filters out
// changes too small to be worth publishing.
type Cache struct {
	eps     stage.CacheConfig
	entries map[stage.AxisID]stage.Sample
}

// NewCache creates an empty cache with per-channel epsilons.
func NewCache(eps stage.CacheConfig) *Cache {
	return &Cache{eps: eps, entries: make(map[stage.AxisID]stage.Sample)}
}

// Update merges s into the cache entry of axis. It returns a sample holding
// only the fields that changed significantly, and whether there was any.
// Absent fields never touch the cache.
func (c *Cache) Update(axis stage.AxisID, s stage.Sample) (stage.Sample, bool) {
	cur := c.entries[axis]
	out := stage.Sample{Time: s.Time}
	if significant(s.Position, cur.Position, c.eps.Position) {
		cur.Position, out.Position = s.Position, s.Position
	}
	if significant(s.Velocity, cur.Velocity, c.eps.Velocity) {
		cur.Velocity, out.Velocity = s.Velocity, s.Velocity
	}
	if significant(s.Acceleration, cur.Acceleration, c.eps.Acceleration) {
		cur.Acceleration, out.Acceleration = s.Acceleration, s.Acceleration
	}
	if out.Empty() {
		return out, false
	}
	cur.Time = s.Time
	c.entries[axis] = cur
	return out, true
}

// Get returns the cached sample of axis.
func (c *Cache) Get(axis stage.AxisID) stage.Sample {
	return c.entries[axis]
}

func significant(v, cached stage.Field, eps float64) bool {
	if !v.Valid {
		return false
	}
	return !cached.Valid || math.Abs(v.Value-cached.Value) > eps
}
