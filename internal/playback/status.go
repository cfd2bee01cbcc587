package playback

import "time"

// Kind classifies a status update.
type Kind string

const (
	KindGenerating Kind = "generating"
	KindPlaying    Kind = "playing"
	KindPaused     Kind = "paused"
	KindStopped    Kind = "stopped"
	KindDone       Kind = "done"
	KindError      Kind = "error"
)

// Terminal reports whether the kind ends a session.
func (k Kind) Terminal() bool {
	return k == KindStopped || k == KindDone || k == KindError
}

// Status is a single progress report for a playback session.
type Status struct {
	SessionID string
	Kind      Kind
	Text      string
	Message   string
	Err       error
	Time      time.Time
}

// Sink receives status updates. Emit is called from the controller's worker
// goroutine and from Pause/Resume callers, never with the controller lock
// held. Implementations must not call Play or Stop.
type Sink interface {
	Emit(Status)
}

type SinkFunc func(Status)

func (f SinkFunc) Emit(s Status) { f(s) }

// MultiSink fans a status out to every non-nil sink in order.
type MultiSink []Sink

func (m MultiSink) Emit(s Status) {
	for _, sink := range m {
		if sink != nil {
			sink.Emit(s)
		}
	}
}
