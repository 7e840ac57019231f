package session

import "sync"

// EventBus is a document session's typed observer registry: a
// registered-callback table keyed by event name, invoked synchronously on
// the calling goroutine.
type EventBus struct {
	mu       sync.Mutex
	handlers map[string][]func(payload any)
}

// NewEventBus returns an empty EventBus.
func NewEventBus() *EventBus {
	return &EventBus{handlers: make(map[string][]func(payload any))}
}

// On registers fn to run every time event fires.
func (b *EventBus) On(event string, fn func(payload any)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[event] = append(b.handlers[event], fn)
}

// Emit synchronously invokes every handler registered for event.
func (b *EventBus) Emit(event string, payload any) {
	b.mu.Lock()
	handlers := append([]func(payload any){}, b.handlers[event]...)
	b.mu.Unlock()

	for _, h := range handlers {
		h(payload)
	}
}

// Event names fired by a Session over its lifecycle.
const (
	EventClientJoin              = "client-join"
	EventClientLeave             = "client-leave"
	EventDocumentMessage         = "document-message"
	EventDocumentWrite           = "document-write"
	EventDocumentSizeWarning     = "document-size-warning"
	EventDocumentSizeLimitExceed = "document-size-limit-exceeded"
	EventDispose                 = "dispose"
)

// ClientJoinPayload is the payload for EventClientJoin.
type ClientJoinPayload struct{ ClientID string }

// ClientLeavePayload is the payload for EventClientLeave.
type ClientLeavePayload struct{ ClientID string }

// MessageSource distinguishes a document-message event's origin.
type MessageSource string

const (
	SourceClient      MessageSource = "client"
	SourceReplication MessageSource = "replication"
)

// DocumentMessagePayload is the payload for EventDocumentMessage.
type DocumentMessagePayload struct {
	Source       MessageSource
	Deduped      bool
	SourceNodeID string
}

// DocumentWritePayload is the payload for EventDocumentWrite.
type DocumentWritePayload struct{ SizeBytes int64 }

// DocumentSizeWarningPayload is the payload for EventDocumentSizeWarning.
type DocumentSizeWarningPayload struct {
	SizeBytes int64
	Threshold int64
}

// DocumentSizeLimitExceededPayload is the payload for EventDocumentSizeLimitExceed.
type DocumentSizeLimitExceededPayload struct {
	SizeBytes int64
	Limit     int64
}

// DisposePayload is the payload for EventDispose.
type DisposePayload struct{ DocumentID string }
