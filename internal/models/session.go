package models

import "time"

// Session is the durable handle of a user<->assistant conversation,
// spanning any number of turns and agents.
type Session struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
