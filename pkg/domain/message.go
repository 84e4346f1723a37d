package domain

import "time"

// Direction tells whether a message was received from or sent to the participant.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Message is an immutable transcript entry of a conversation.
type Message struct {
	ID             int64     `json:"id"`
	ConversationID int64     `json:"conversation_id"`
	Direction      Direction `json:"direction"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}
