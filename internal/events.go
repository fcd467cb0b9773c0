package internal

// Phase names the orchestrator's lifecycle states as reported to the host.
type Phase string

const (
	PhaseParsing     Phase = "parsing"
	PhaseTranslating Phase = "translating"
	PhaseAssembling  Phase = "assembling"
	PhaseValidating  Phase = "validating"
	PhaseCompleted   Phase = "completed"
	PhaseCancelled   Phase = "cancelled"
	PhaseFailed      Phase = "failed"
)

// EventKind discriminates lifecycle events delivered to the host's sink.
type EventKind string

const (
	EventStarted         EventKind = "started"
	EventProgress        EventKind = "progress"
	EventStatus          EventKind = "status"
	EventCompleted       EventKind = "completed"
	EventFailed          EventKind = "failed"
	EventStreamChunkDone EventKind = "stream_chunk_processed"
	EventStreamCompleted EventKind = "stream_completed"
)

// Event is one lifecycle notification. Events are transient; the core does
// not persist or replay them.
type Event struct {
	Kind       EventKind          `json:"kind"`
	RequestID  string             `json:"request_id"`
	Phase      Phase              `json:"phase,omitempty"`
	Progress   int                `json:"progress"` // 0-100
	Message    string             `json:"message,omitempty"`
	ChunkIndex int                `json:"chunk_index,omitempty"`
	Result     *TranslationResult `json:"result,omitempty"`
	Err        string             `json:"error,omitempty"`
}

// EventSink receives lifecycle events. Publish must not block for long; the
// orchestrator calls it inline on its own goroutine.
type EventSink interface {
	Publish(Event)
}

// SinkFunc adapts a function to the EventSink interface.
type SinkFunc func(Event)

// Publish implements EventSink.
func (f SinkFunc) Publish(e Event) { f(e) }
