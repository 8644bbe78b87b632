package status

import (
	"testing"
	"time"

	"github.com/mcoutinho/pigeon/internal/bus"
)

func TestInitialState(t *testing.T) {
	m := NewMachine("c1", nil)
	if m.Current() != Disconnected {
		t.Errorf("initial state = %s, want DISCONNECTED", m.Current())
	}
}

func TestValidTransitions(t *testing.T) {
	tests := []struct {
		walk []State
	}{
		{[]State{Connecting, Connected, Disconnected}},
		{[]State{Provisioning, Connecting, Connected}},
		{[]State{Provisioning, Disconnected, Connecting}},
		{[]State{Connecting, Disconnected, Provisioning}},
	}
	for _, tt := range tests {
		m := NewMachine("c1", nil)
		for _, to := range tt.walk {
			if err := m.Transition(to); err != nil {
				t.Errorf("walk %v: transition to %s failed: %v", tt.walk, to, err)
				break
			}
		}
	}
}

func TestInvalidTransitions(t *testing.T) {
	m := NewMachine("c1", nil)
	if err := m.Transition(Connected); err == nil {
		t.Error("DISCONNECTED -> CONNECTED should fail")
	}

	if err := m.Transition(Connecting); err != nil {
		t.Fatal(err)
	}
	if err := m.Transition(Provisioning); err == nil {
		t.Error("CONNECTING -> PROVISIONING should fail")
	}
}

func TestTransitionEmitsEvent(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("session.", 10)
	defer unsub()

	m := NewMachine("c1", b)
	if err := m.Transition(Connecting); err != nil {
		t.Fatal(err)
	}

	select {
	case evt := <-ch:
		change, ok := evt.Payload.(Change)
		if !ok {
			t.Fatalf("payload = %T, want Change", evt.Payload)
		}
		if change.From != Disconnected || change.To != Connecting || change.ChatReference != "c1" {
			t.Errorf("change = %+v", change)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for state change event")
	}
}
