package status

import (
	"fmt"
	"slices"
	"sync"

	"github.com/mcoutinho/pigeon/internal/bus"
)

// State represents a chat session's connection state.
type State string

const (
	Disconnected State = "DISCONNECTED"
	Provisioning State = "PROVISIONING"
	Connecting   State = "CONNECTING"
	Connected    State = "CONNECTED"
)

// validTransitions defines allowed state transitions. Provisioning is
// entered only from Disconnected (room-missing remediation) and leads
// back to Connecting on success or Disconnected on failure.
var validTransitions = map[State][]State{
	Disconnected: {Connecting, Provisioning},
	Provisioning: {Connecting, Disconnected},
	Connecting:   {Connected, Disconnected},
	Connected:    {Disconnected},
}

// Machine tracks and enforces connection state transitions for one
// chat session, publishing each change on the bus.
type Machine struct {
	mu      sync.RWMutex
	chatRef string
	current State
	bus     *bus.Bus
}

// NewMachine creates a state machine starting in Disconnected.
func NewMachine(chatRef string, b *bus.Bus) *Machine {
	return &Machine{
		chatRef: chatRef,
		current: Disconnected,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns an error if the
// transition is not allowed.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Emit("session.state_changed", Change{
			ChatReference: m.chatRef,
			From:          from,
			To:            to,
		})
	}
	return nil
}

// Change is the payload for state change events.
type Change struct {
	ChatReference string
	From          State
	To            State
}
