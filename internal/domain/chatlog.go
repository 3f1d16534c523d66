package domain

import "time"

// ChatLogEntry is a single buffered chat turn for a session.
// Entries for a session form a FIFO sequence in the buffer and are
// flushed together as one compressed batch.
type ChatLogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Actor     string    `json:"actor"`
	Message   string    `json:"message"`
}
