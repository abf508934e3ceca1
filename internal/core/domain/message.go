package domain

import "time"

type MessageID string

// Message is a persisted chat line. CreatedAt is assigned by the store and
// orders a group's messages.
type Message struct {
	ID        MessageID `json:"id"`
	GroupID   GroupID   `json:"group_id"`
	AuthorID  UserID    `json:"author_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

type MessageWithAuthor struct {
	Message
	Author Identity `json:"author"`
}
