package flight

import (
	"sync"
	"time"
)

// SystemState is the vehicle state reported upstream.
type SystemState string

const (
	StateDisarmed          SystemState = "disarmed"
	StateArmed             SystemState = "armed"
	StateCalibrating       SystemState = "calibrating"
	StateCalibrated        SystemState = "calibrated"
	StateUnableToCalibrate SystemState = "unable_to_calibrate"
)

// Transition is a published state change.
type Transition struct {
	Time  time.Time   `json:"time"`
	From  SystemState `json:"from"`
	State SystemState `json:"state"`
}

// StatusPublisher holds the current system state and notifies subscribers
// when it changes. Repeated reports of the same state are not republished.
type StatusPublisher struct {
	mu     sync.Mutex
	state  SystemState
	nextID int
	subs   map[int]chan Transition
}

// NewStatusPublisher starts in StateDisarmed.
func NewStatusPublisher() *StatusPublisher {
	return &StatusPublisher{
		state: StateDisarmed,
		subs:  make(map[int]chan Transition),
	}
}

// State returns the current state.
func (p *StatusPublisher) State() SystemState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Publish sets the state at time t. It reports whether the state changed.
// Subscribers that are not keeping up miss the transition.
func (p *StatusPublisher) Publish(t time.Time, s SystemState) (Transition, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s == p.state {
		return Transition{}, false
	}
	tr := Transition{Time: t, From: p.state, State: s}
	p.state = s
	for _, ch := range p.subs {
		select {
		case ch <- tr:
		default:
		}
	}
	return tr, true
}

// Subscribe returns a channel of future transitions and a function that
// cancels the subscription and closes the channel.
func (p *StatusPublisher) Subscribe() (<-chan Transition, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextID
	p.nextID++
	ch := make(chan Transition, 8)
	p.subs[id] = ch
	return ch, func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if c, ok := p.subs[id]; ok {
			close(c)
			delete(p.subs, id)
		}
	}
}
