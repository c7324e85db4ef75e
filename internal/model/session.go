package model

import "time"

// Role identifies who authored a history entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// HistoryEntry is one immutable turn of a conversation.
type HistoryEntry struct {
	Role Role      `json:"role" msgpack:"role"`
	Text string    `json:"text" msgpack:"text"`
	At   time.Time `json:"at" msgpack:"at"`
}

// Session binds a conversation to exactly one document.
type Session struct {
	ID         string         `json:"id" msgpack:"id"`
	DocumentID string         `json:"document_id" msgpack:"document_id"`
	History    []HistoryEntry `json:"history" msgpack:"history"`
	CreatedAt  time.Time      `json:"created_at" msgpack:"created_at"`
}

// Clone returns a copy whose History slice does not alias the receiver's.
func (s Session) Clone() Session {
	out := s
	out.History = make([]HistoryEntry, len(s.History))
	copy(out.History, s.History)
	return out
}
