package recorder

import (
	"path/filepath"
	"sync"
)

// Event is a session state transition.
type Event interface {
	// Status is the human readable status text for the event.
	Status() string
}

// SessionStarting is emitted when a session begins starting.
type SessionStarting struct {
	// Base is the base name of the session's files.
	Base string
}

func (SessionStarting) Status() string { return "Starting…" }

// SessionRecording is emitted when frames start being captured, either at
// the start of the session or after resuming.
type SessionRecording struct {
	Resumed bool
}

func (SessionRecording) Status() string { return "Recording" }

// SessionPaused is emitted when the session is paused.
type SessionPaused struct{}

func (SessionPaused) Status() string { return "Paused" }

// SessionStopping is emitted when the session starts being finalized.
type SessionStopping struct {
	// Reason is set when the session was stopped by the engine itself.
	Reason string
}

func (SessionStopping) Status() string { return "Stopping…" }

// SessionSaved is emitted after the session's artifacts are finalized.
type SessionSaved struct {
	Path  string
	Extra []string
}

func (e SessionSaved) Status() string { return "Saved: " + filepath.Base(e.Path) }

// SessionDegraded is emitted when the session continues (or finished) in a
// degraded way.
type SessionDegraded struct {
	Reason string
}

func (e SessionDegraded) Status() string { return "Degraded: " + e.Reason }

// SessionIdle is emitted when the engine is ready for a new session.
type SessionIdle struct{}

func (SessionIdle) Status() string { return "Idle" }

// Observer receives session events. Events are delivered synchronously on the
// goroutine that detected the transition, so observers that need to run on a
// specific thread must marshal the event themselves.
type Observer interface {
	OnEvent(Event)
}

// ObserverFunc is an Observer implemented as a function.
type ObserverFunc func(Event)

func (f ObserverFunc) OnEvent(e Event) { f(e) }

// Registration is a registered observer.
type Registration struct {
	unreg func() bool
}

// Unregister removes the observer. Returns true if it was still registered.
func (reg Registration) Unregister() bool {
	return reg.unreg()
}

type observers struct {
	mtx      sync.Mutex
	next     uint
	handlers map[uint]Observer
}

func (obs *observers) register(o Observer) Registration {
	var id uint

	obs.mtx.Lock()
	id, obs.next = obs.next, obs.next+1
	if obs.handlers == nil {
		obs.handlers = make(map[uint]Observer)
	}
	obs.handlers[id] = o
	registered := true
	obs.mtx.Unlock()

	return Registration{
		unreg: func() bool {
			obs.mtx.Lock()
			res := registered
			if registered {
				delete(obs.handlers, id)
				registered = false
			}
			obs.mtx.Unlock()
			return res
		},
	}
}

// notify calls every observer. Observers are called outside the lock so they
// may call back into the engine.
func (obs *observers) notify(e Event) {
	obs.mtx.Lock()
	handlers := make([]Observer, 0, len(obs.handlers))
	for _, h := range obs.handlers {
		handlers = append(handlers, h)
	}
	obs.mtx.Unlock()

	for _, h := range handlers {
		h.OnEvent(e)
	}
}
