package engine

import "github.com/starford/refsync/internal/models"

// Event types delivered to subscribers.
const (
	EventStarted       = "sync.started"
	EventProgress      = "sync.progress"
	EventCompleted     = "sync.completed"
	EventRecordWritten = "record.written"
)

// Write kinds reported with EventRecordWritten.
const (
	KindCreated = "created"
	KindUpdated = "updated"
)

// Event is a notification about a running cycle. Progress events carry
// Done and Total; record events carry Key, Path and Kind.
type Event struct {
	Type    string          `json:"type"`
	Mode    string          `json:"mode,omitempty"`
	Done    int             `json:"done,omitempty"`
	Total   int             `json:"total,omitempty"`
	Key     string          `json:"key,omitempty"`
	Path    string          `json:"path,omitempty"`
	Kind    string          `json:"kind,omitempty"`
	Outcome *models.Outcome `json:"outcome,omitempty"`
}

// ProgressFunc receives events. It is called synchronously from the cycle
// and must not block or call back into the engine.
type ProgressFunc func(Event)

// Subscribe registers fn and returns a function that removes it.
func (e *Engine) Subscribe(fn ProgressFunc) (unsubscribe func()) {
	e.mu.Lock()
	id := e.nextSub
	e.nextSub++
	e.subs[id] = fn
	e.mu.Unlock()
	return func() {
		e.mu.Lock()
		delete(e.subs, id)
		e.mu.Unlock()
	}
}

func (e *Engine) emit(ev Event) {
	e.mu.Lock()
	fns := make([]ProgressFunc, 0, len(e.subs))
	for _, fn := range e.subs {
		fns = append(fns, fn)
	}
	e.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}
