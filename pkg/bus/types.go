package bus

// EventKind classifies a normalized inbound occurrence.
type EventKind string

const (
	EventText     EventKind = "text"
	EventCallback EventKind = "callback"
)

// Event is one normalized inbound occurrence. Immutable once created.
type Event struct {
	ChatID    string    `json:"chat_id"`
	Kind      EventKind `json:"kind"`
	Payload   string    `json:"payload"`
	RawOffset int64     `json:"raw_offset"`
}

// OutboundMessage is one pending reply. ID is assigned at enqueue time and
// correlates queue entries with history rows. ReplyMarkup is an opaque
// serialized keyboard descriptor, empty for plain text.
type OutboundMessage struct {
	ID          string `json:"id"`
	ChatID      string `json:"chat_id"`
	Text        string `json:"text"`
	ReplyMarkup string `json:"reply_markup,omitempty"`
}

// HasContent reports whether the message carries anything worth sending.
// Empty messages are rejected at enqueue, never silently later.
func (m OutboundMessage) HasContent() bool {
	return m.Text != "" || m.ReplyMarkup != ""
}
