package chat

import (
	"slices"
	"time"

	"github.com/mcoutinho/pigeon/internal/envelope"
)

// defaultWindowSize bounds the correlator's recency window. A duplicate
// whose twin was already evicted is re-stamped; the store's
// earliest-wins upsert absorbs that.
const defaultWindowSize = 512

// Correlator assigns each inbound content envelope a delivery stamp
// exactly once, even when the transport delivers the same logical
// message twice (reconnect replay, or the sender echo plus the
// receiver forward sharing one id).
//
// Not safe for concurrent use; it lives inside a single session actor.
type Correlator struct {
	limit  int
	now    func() int64
	window []*envelope.Envelope // most-recent-first, provisional stamps
}

// NewCorrelator creates a correlator with the given window bound.
// limit <= 0 selects the default.
func NewCorrelator(limit int) *Correlator {
	if limit <= 0 {
		limit = defaultWindowSize
	}
	return &Correlator{
		limit: limit,
		now:   func() int64 { return time.Now().UnixMilli() },
	}
}

// Stamp resolves env's delivery timestamp.
//
// First sight of an id: stamp it with the local clock and remember it.
// Second sight: if env already carries a stamp that one is authoritative
// and kept; otherwise the remembered stamp is copied over. Either way
// the window entry is dropped, so a given id is only ever reconciled
// against one prior observation.
func (c *Correlator) Stamp(env *envelope.Envelope) {
	idx := slices.IndexFunc(c.window, func(w *envelope.Envelope) bool {
		return w.ID == env.ID
	})

	if idx < 0 {
		if env.DeliveredAt == 0 {
			env.DeliveredAt = c.now()
		}
		c.window = slices.Insert(c.window, 0, env)
		if len(c.window) > c.limit {
			c.window = c.window[:c.limit]
		}
		return
	}

	prior := c.window[idx]
	if env.DeliveredAt == 0 {
		env.DeliveredAt = prior.DeliveredAt
	}
	c.window = slices.Delete(c.window, idx, idx+1)
}

// WindowLen reports the number of unconfirmed entries held.
func (c *Correlator) WindowLen() int {
	return len(c.window)
}
