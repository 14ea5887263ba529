// Package ids mints the "{prefix}-{millis}" identifiers used for agents and
// messages.
package ids

import (
	"strconv"
	"sync"
	"time"
)

// Generator issues ids whose numeric suffix is the creation time in unix
// milliseconds. Within one prefix the suffix strictly increases, so two ids
// minted in the same millisecond never collide: the second one borrows the
// next millisecond.
type Generator struct {
	mu   sync.Mutex
	now  func() time.Time
	last map[string]int64
}

// New returns a Generator reading the wall clock. A nil now uses time.Now.
func New(now func() time.Time) *Generator {
	if now == nil {
		now = time.Now
	}
	return &Generator{now: now, last: make(map[string]int64)}
}

// Next returns the next id for prefix along with the instant it encodes.
func (g *Generator) Next(prefix string) (string, time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()

	t := g.now()
	ms := t.UnixMilli()
	if prev, ok := g.last[prefix]; ok && ms <= prev {
		ms = prev + 1
	}
	g.last[prefix] = ms
	return prefix + "-" + strconv.FormatInt(ms, 10), t
}
