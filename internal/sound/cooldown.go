package sound

import "time"

// cooldownCap bounds the cooldown table. When full, the oldest entry is reused.
const cooldownCap = 64

type cooldownEntry struct {
	guid string
	last time.Time
}

// cooldowns records the last accepted add per owner in a small table.
type cooldowns struct {
	interval time.Duration
	entries  []cooldownEntry
}

func newCooldowns(interval time.Duration) *cooldowns {
	return &cooldowns{interval: interval, entries: make([]cooldownEntry, 0, cooldownCap)}
}

// remaining returns how long guid must still wait at now.
func (c *cooldowns) remaining(guid string, now time.Time) time.Duration {
	for _, e := range c.entries {
		if e.guid == guid {
			if left := c.interval - now.Sub(e.last); left > 0 {
				return left
			}
			return 0
		}
	}
	return 0
}

func (c *cooldowns) record(guid string, now time.Time) {
	oldest := -1
	for i := range c.entries {
		if c.entries[i].guid == guid {
			c.entries[i].last = now
			return
		}
		if oldest < 0 || c.entries[i].last.Before(c.entries[oldest].last) {
			oldest = i
		}
	}

	if len(c.entries) < cooldownCap {
		c.entries = append(c.entries, cooldownEntry{guid: guid, last: now})
		return
	}
	c.entries[oldest] = cooldownEntry{guid: guid, last: now}
}

func (c *cooldowns) len() int {
	return len(c.entries)
}
