package proc

import (
	"sync"

	"github.com/leeineian/gtatunes/catalog"
)

type Event string

const (
	EventPlay      Event = "play"
	EventPaused    Event = "paused"
	EventResumed   Event = "resumed"
	EventSeeked    Event = "seeked"
	EventEnded     Event = "ended"
	EventDestroyed Event = "destroyed"
)

// EventData is a snapshot of the session taken when the event fired.
type EventData struct {
	Station   *catalog.Station
	Song      *catalog.Song
	Timestamp float64
}

type listener struct {
	id uint64
	fn func(EventData)
}

// Emitter is a synchronous observer registry keyed by event name.
type Emitter struct {
	mu        sync.Mutex
	nextID    uint64
	listeners map[Event][]listener
}

func NewEmitter() *Emitter {
	return &Emitter{listeners: make(map[Event][]listener)}
}

// On registers fn and returns a function that removes it again.
func (e *Emitter) On(ev Event, fn func(EventData)) func() {
	e.mu.Lock()
	e.nextID++
	id := e.nextID
	e.listeners[ev] = append(e.listeners[ev], listener{id: id, fn: fn})
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { e.off(ev, id) })
	}
}

func (e *Emitter) off(ev Event, id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ls := e.listeners[ev]
	for i, l := range ls {
		if l.id == id {
			e.listeners[ev] = append(ls[:i:i], ls[i+1:]...)
			return
		}
	}
}

// Emit calls listeners in registration order on the calling goroutine.
func (e *Emitter) Emit(ev Event, data EventData) {
	e.mu.Lock()
	ls := append([]listener(nil), e.listeners[ev]...)
	e.mu.Unlock()

	for _, l := range ls {
		l.fn(data)
	}
}

func (e *Emitter) Clear() {
	e.mu.Lock()
	e.listeners = make(map[Event][]listener)
	e.mu.Unlock()
}
