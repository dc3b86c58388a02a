package types

import (
	"time"
)

type User struct {
	Id           int       `json:"id"`
	Username     string    `json:"username"`
	EmailAddress string    `json:"email_address,omitempty"`
	ReadReceipts bool      `json:"read_receipts"`
	IsPresent    bool      `json:"is_present,omitempty"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
	UpdatedAt    time.Time `json:"updated_at,omitempty"`
}

// Conversation is a two-party conversation as seen by one of its participants.
type Conversation struct {
	Id          int64     `json:"id,string"`
	Counterpart User      `json:"counterpart"`
	CreatedAt   time.Time `json:"created_at"`
}

type Message struct {
	Id             int64     `json:"id,string"`
	ConversationId int64     `json:"conversation_id,string"`
	SenderId       int       `json:"sender_id"`
	Content        string    `json:"content"`
	AttachmentURL  string    `json:"attachment_url,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	WasRead        bool      `json:"was_read"`
}
