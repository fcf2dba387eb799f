// Package events is jdbx's per-collection event surface (spec §4.7):
// on/once/off/removeAllListeners/listenerCount, firing strictly after a
// successful operation, with listener exceptions isolated from the
// operation's own result. Grounded on the teacher's
// internal/eventbus.Bus (mutex-guarded handler registry, sequential
// dispatch, errors logged rather than propagated), adapted from a
// type-routed handler chain to a Mongo-style named-event emitter built
// lazily on first registration.
package events

import (
	"log"
	"sync"
)

// Listener receives an event's payload. Use a type switch or a documented
// per-event payload shape; jdbx itself only ever passes the completed
// document / result the operation produced.
type Listener func(payload any)

// Name is one of the fixed event names a jdbx collection fires (spec
// §4.7): insert, insertMany, update, updateMany, replace, delete,
// deleteMany, findOneAndDelete, findOneAndUpdate, findOneAndReplace, drop.
type Name string

const (
	Insert           Name = "insert"
	InsertMany       Name = "insertMany"
	Update           Name = "update"
	UpdateMany       Name = "updateMany"
	Replace          Name = "replace"
	Delete           Name = "delete"
	DeleteMany       Name = "deleteMany"
	FindOneAndDelete Name = "findOneAndDelete"
	FindOneAndUpdate Name = "findOneAndUpdate"
	FindOneAndReplace Name = "findOneAndReplace"
	Drop             Name = "drop"
	Error            Name = "error" // surfaces listener panics/errors, spec §4.7
)

type registration struct {
	id       uint64
	listener Listener
	once     bool
}

// Emitter is lazily constructed: a *Emitter field on Collection starts nil
// and Collection allocates one on first On/Once call (spec: "created
// lazily on first registration"). The zero value's methods are safe to
// call on a nil *Emitter for Emit/ListenerCount (no-ops / zero), since a
// collection with no listeners still fires events internally.
type Emitter struct {
	mu      sync.Mutex
	nextID  uint64
	byName  map[Name][]registration
}

// New constructs an emitter. Collections call this only when On/Once is
// first invoked; Emit tolerates a nil receiver.
func New() *Emitter {
	return &Emitter{byName: make(map[Name][]registration)}
}

// On registers a persistent listener and returns the emitter for chaining.
func (e *Emitter) On(name Name, l Listener) *Emitter {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	e.byName[name] = append(e.byName[name], registration{id: e.nextID, listener: l})
	return e
}

// Once registers a listener that fires at most once, then is removed.
func (e *Emitter) Once(name Name, l Listener) *Emitter {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	e.byName[name] = append(e.byName[name], registration{id: e.nextID, listener: l, once: true})
	return e
}

// Off removes every listener registered for name and returns the emitter
// for chaining. With no name given (empty string), Off is a no-op; use
// RemoveAllListeners for that.
func (e *Emitter) Off(name Name) *Emitter {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.byName, name)
	return e
}

// RemoveAllListeners clears every registration across every event name.
func (e *Emitter) RemoveAllListeners() *Emitter {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.byName = make(map[Name][]registration)
	return e
}

// ListenerCount reports how many listeners are currently registered for
// name. Safe to call on a nil *Emitter (returns 0).
func (e *Emitter) ListenerCount(name Name) int {
	if e == nil {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.byName[name])
}

// Emit fires name synchronously to every registered listener, in
// registration order, removing any "once" listeners as it goes. Safe to
// call on a nil *Emitter (no-op), since collections fire events
// unconditionally after every successful operation regardless of whether
// anyone is listening (spec §4.7). A listener panic is recovered,
// logged, and re-surfaced as an "error" event rather than propagated to
// the operation's caller, since listener failures must never roll back
// an already-committed write.
func (e *Emitter) Emit(name Name, payload any) {
	if e == nil {
		return
	}
	e.mu.Lock()
	regs := append([]registration(nil), e.byName[name]...)
	if len(regs) > 0 {
		remaining := regs[:0:0]
		for _, r := range regs {
			if !r.once {
				remaining = append(remaining, r)
			}
		}
		e.byName[name] = remaining
	}
	e.mu.Unlock()

	for _, r := range regs {
		e.dispatchOne(name, r.listener, payload)
	}
}

func (e *Emitter) dispatchOne(name Name, l Listener, payload any) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("jdbx: listener for event %q panicked: %v", name, rec)
			if name != Error {
				e.Emit(Error, rec)
			}
		}
	}()
	l(payload)
}
