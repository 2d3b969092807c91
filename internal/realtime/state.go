package realtime

import (
	"fmt"
	"slices"
	"sync"

	"github.com/matheus3301/wppadmin/internal/bus"
)

// State is a listener's subscription state.
type State string

const (
	Unsubscribed State = "UNSUBSCRIBED"
	Subscribed   State = "SUBSCRIBED"
)

var validTransitions = map[State][]State{
	Unsubscribed: {Subscribed},
	Subscribed:   {Unsubscribed},
}

// Machine enforces subscription state transitions for one thread.
type Machine struct {
	mu        sync.RWMutex
	contactID string
	current   State
	bus       bus.Publisher
}

// NewMachine starts in Unsubscribed. b may be nil.
func NewMachine(contactID string, b bus.Publisher) *Machine {
	return &Machine{contactID: contactID, current: Unsubscribed, bus: b}
}

func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition moves to the given state or fails if the move is not allowed.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !slices.Contains(validTransitions[m.current], to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:    bus.KindRealtimeState,
			Payload: StateChange{ContactID: m.contactID, From: from, To: to},
		})
	}
	return nil
}

// StateChange is the payload of realtime.state_changed events.
type StateChange struct {
	ContactID string
	From      State
	To        State
}
