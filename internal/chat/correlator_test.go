package chat

import (
	"testing"

	"github.com/mcoutinho/pigeon/internal/envelope"
)

func newTestCorrelator(limit int, clock *int64) *Correlator {
	c := NewCorrelator(limit)
	c.now = func() int64 {
		*clock++
		return *clock
	}
	return c
}

func contentEnv(id string) *envelope.Envelope {
	return &envelope.Envelope{
		ID:            id,
		ChatReference: "c1",
		Sender:        "bob",
		Receiver:      "alice",
		Body:          "hi",
		SentAt:        100,
	}
}

func TestStampFirstSight(t *testing.T) {
	clock := int64(1000)
	c := newTestCorrelator(0, &clock)

	env := contentEnv("m1")
	c.Stamp(env)
	if env.DeliveredAt != 1001 {
		t.Errorf("delivered = %d, want 1001", env.DeliveredAt)
	}
	if c.WindowLen() != 1 {
		t.Errorf("window len = %d, want 1", c.WindowLen())
	}
}

// The duplicate copy without a stamp inherits the first copy's stamp,
// so both observations of the logical message agree.
func TestStampDuplicateInheritsStamp(t *testing.T) {
	clock := int64(1000)
	c := newTestCorrelator(0, &clock)

	first := contentEnv("m1")
	c.Stamp(first)

	dup := contentEnv("m1")
	c.Stamp(dup)
	if dup.DeliveredAt != first.DeliveredAt {
		t.Errorf("duplicate delivered = %d, want %d", dup.DeliveredAt, first.DeliveredAt)
	}
	if c.WindowLen() != 0 {
		t.Errorf("window len = %d, want 0 after reconciliation", c.WindowLen())
	}
}

// A duplicate already carrying a stamp is authoritative and keeps it.
func TestStampDuplicateKeepsAuthoritativeStamp(t *testing.T) {
	clock := int64(1000)
	c := newTestCorrelator(0, &clock)

	first := contentEnv("m1")
	c.Stamp(first)

	dup := contentEnv("m1")
	dup.DeliveredAt = 500
	c.Stamp(dup)
	if dup.DeliveredAt != 500 {
		t.Errorf("delivered = %d, want authoritative 500", dup.DeliveredAt)
	}
}

// Regardless of which copy arrives first, the recorded stamp is the
// same for both.
func TestStampOrderIndependence(t *testing.T) {
	clock := int64(1000)
	c := newTestCorrelator(0, &clock)

	stamped := contentEnv("m1")
	stamped.DeliveredAt = 700
	plain := contentEnv("m1")

	c.Stamp(stamped)
	c.Stamp(plain)
	if plain.DeliveredAt != 700 {
		t.Errorf("plain-second delivered = %d, want 700", plain.DeliveredAt)
	}

	clock = 1000
	c2 := newTestCorrelator(0, &clock)
	stamped2 := contentEnv("m2")
	stamped2.DeliveredAt = 700
	plain2 := contentEnv("m2")

	c2.Stamp(plain2)
	c2.Stamp(stamped2)
	if stamped2.DeliveredAt != 700 {
		t.Errorf("stamped-second delivered = %d, want 700", stamped2.DeliveredAt)
	}
}

func TestWindowEviction(t *testing.T) {
	clock := int64(0)
	c := newTestCorrelator(3, &clock)

	for _, id := range []string{"m1", "m2", "m3", "m4"} {
		c.Stamp(contentEnv(id))
	}
	if c.WindowLen() != 3 {
		t.Errorf("window len = %d, want 3 (bounded)", c.WindowLen())
	}

	// m1 was evicted; a late duplicate gets re-stamped, which is
	// harmless under the store's earliest-wins semantics.
	late := contentEnv("m1")
	c.Stamp(late)
	if late.DeliveredAt == 0 {
		t.Error("late duplicate was not re-stamped")
	}
}

func TestDistinctIDsStampedIndependently(t *testing.T) {
	clock := int64(0)
	c := newTestCorrelator(0, &clock)

	a := contentEnv("a")
	b := contentEnv("b")
	c.Stamp(a)
	c.Stamp(b)
	if a.DeliveredAt == b.DeliveredAt {
		t.Errorf("distinct messages share stamp %d", a.DeliveredAt)
	}
	if c.WindowLen() != 2 {
		t.Errorf("window len = %d, want 2", c.WindowLen())
	}
}
