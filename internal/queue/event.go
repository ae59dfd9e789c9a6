// Package queue defines the message.created event and the background
// consumer that appends one audit line per event to logs/messages.log.
package queue

// MessageCreatedQueue is the durable queue carrying MessageCreatedEvent.
const MessageCreatedQueue = "message.created"

// MessageCreatedEvent is published after a message has been stored.  It
// carries metadata only; message bodies stay in the database so the audit
// feed never holds chat content.
type MessageCreatedEvent struct {
	EventID        string `json:"event_id"`
	MessageID      uint64 `json:"message_id"`
	SenderID       uint64 `json:"sender_id"`
	SenderUsername string `json:"sender_username"`
	Type           string `json:"type"`
	FileName       string `json:"file_name,omitempty"`
	FileSize       int64  `json:"file_size,omitempty"`
	Checksum       string `json:"checksum,omitempty"`
	CreatedAt      string `json:"created_at"`
}
