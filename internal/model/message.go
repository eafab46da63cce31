package model

import "time"

type Status string

const (
	Pending Status = "pending"
	Sent    Status = "sent"
	Failed  Status = "failed"
)

func (s Status) Terminal() bool {
	return s == Sent || s == Failed
}

type ScheduledMessage struct {
	ID            string     `json:"id"`
	Recipient     string     `json:"recipient"`
	Message       string     `json:"message"`
	ScheduledTime time.Time  `json:"scheduledTime"`
	Status        Status     `json:"status"`
	CreatedAt     time.Time  `json:"createdAt"`
	SentAt        *time.Time `json:"sentAt,omitempty"`
	Error         *string    `json:"error,omitempty"`
	RequesterID   string     `json:"requesterId"`
}

// Due reports whether the record may be dispatched at now.
func (m ScheduledMessage) Due(now time.Time) bool {
	return m.Status == Pending && !m.ScheduledTime.After(now)
}

// Draft is a parsed schedule before the store assigns id and createdAt.
type Draft struct {
	Recipient     string
	Message       string
	ScheduledTime time.Time
	Status        Status
	RequesterID   string
}

type StatusUpdate struct {
	Status Status
	SentAt time.Time
	Error  string
}

// Inbound is a chat message delivered by the messaging client.
type Inbound struct {
	ID     string
	Sender string
	Chat   string
	Text   string

	// FromOwner is set when the account owner wrote the message in their own chat.
	FromOwner bool
	// FromBot is set for echoes of messages this process sent.
	FromBot bool
}
