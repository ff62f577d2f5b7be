package domain

import "time"

// User represents a registered identity.
//
// SequenceID is the public numeric id handed out by the sequence generator;
// ID is the store's own primary key and is never exposed to clients.
type User struct {
	ID           int64
	SequenceID   int64
	Username     string
	Email        string
	PasswordHash string `json:"-"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
