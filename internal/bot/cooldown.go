package bot

import (
	"strings"
	"time"
)

// DefaultCooldown spaces answers to the same author
const DefaultCooldown = 60 * time.Second

// Cooldown remembers until when an author should not get another answer.
// The scheduler owns it and sweeps it once per successful round.
type Cooldown struct {
	period time.Duration
	until  map[string]time.Time
	now    func() time.Time
}

func NewCooldown(period time.Duration) *Cooldown {
	return &Cooldown{period: period, until: make(map[string]time.Time), now: time.Now}
}

// Allow reports whether author may be answered now and, if so, starts a
// new cooldown for them.
func (c *Cooldown) Allow(author string) bool {
	key := strings.ToLower(author)
	now := c.now()
	if until, ok := c.until[key]; ok && now.Before(until) {
		return false
	}
	c.until[key] = now.Add(c.period)
	return true
}

// Sweep drops expired entries.
func (c *Cooldown) Sweep() int {
	now := c.now()
	removed := 0
	for k, until := range c.until {
		if now.After(until) {
			delete(c.until, k)
			removed++
		}
	}
	return removed
}

func (c *Cooldown) Len() int { return len(c.until) }
