package database

import "time"

type Account struct {
	Id           int
	Username     string
	EmailAddress string
	PasswordHash string
	IsRestricted bool
	ReadReceipts bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Conversation is a two-party conversation. UserA is always the smaller
// account id. Members holds the parties that have not left it.
type Conversation struct {
	Id        int64
	UserA     int
	UserB     int
	Members   []int
	CreatedAt time.Time
}

func (c Conversation) IsMember(userId int) bool {
	for _, m := range c.Members {
		if m == userId {
			return true
		}
	}
	return false
}

// Counterpart returns the other party of the conversation, or 0 if userId
// is not one of its parties.
func (c Conversation) Counterpart(userId int) int {
	switch userId {
	case c.UserA:
		return c.UserB
	case c.UserB:
		return c.UserA
	}
	return 0
}

type ConversationListing struct {
	Conversation Conversation
	Counterpart  Account
}

type Message struct {
	Id             int64
	ConversationId int64
	SenderId       int
	Content        string
	AttachmentURL  string
	WasRead        bool
	CreatedAt      time.Time
}

func orderPair(x, y int) (int, int) {
	if x < y {
		return x, y
	}
	return y, x
}
