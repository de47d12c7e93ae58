package model

import "time"

// Message is an immutable direct message between two identities.
//
// Timestamp is assigned by the server at send time and defines conversation
// order. ClientTimestamp is whatever the sending client reported; it is kept
// for display only and never used for ordering.
type Message struct {
	ID              string    `json:"id"`
	Sender          string    `json:"sender"`
	Receiver        string    `json:"receiver"`
	Body            string    `json:"body"`
	Timestamp       time.Time `json:"timestamp"`
	ClientTimestamp time.Time `json:"clientTimestamp,omitzero"`
}
