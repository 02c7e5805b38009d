// ABOUTME: Wire-format shapes for the catalog REST API and the broker frames.
// ABOUTME: No package outside wire may interpret these raw field names.

package wire

import "time"

// Frame type markers carried by broker frames. Chat messages arrive with
// the message marker or no type at all.
const (
	FrameStaffJoined = "STAFF_JOINED"
	// FrameEmployeeJoined is the older marker still emitted for the same
	// notice; both map to the staff-joined event.
	FrameEmployeeJoined     = "EMPLOYEE_JOINED"
	FrameConversationClosed = "CONVERSATION_CLOSED"
	FrameChatMessage        = "CHAT_MESSAGE"
)

// Message type markers on the send destination.
const (
	MessageTypeText  = "TEXT"
	MessageTypeImage = "IMAGE"
	MessageTypeFile  = "FILE"
)

// Conversation is the catalog's conversation record.
type Conversation struct {
	ID             string    `json:"id"`
	CustomerID     string    `json:"customerId"`
	CustomerHandle string    `json:"customerHandle"`
	AssigneeID     string    `json:"assigneeId,omitempty"`
	AssigneeHandle string    `json:"assigneeHandle,omitempty"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Message is the catalog's message record and the outbound publish payload.
type Message struct {
	ID             string    `json:"id,omitempty"`
	ConversationID string    `json:"conversationId"`
	SenderID       string    `json:"senderId"`
	SenderHandle   string    `json:"senderHandle"`
	Body           string    `json:"body"`
	MessageType    string    `json:"messageType,omitempty"`
	SentAt         time.Time `json:"sentAt,omitempty"`
}

// Outgoing is the publish payload for the well-known send destination.
type Outgoing struct {
	ConversationID string `json:"conversationId"`
	SenderID       string `json:"senderId"`
	SenderHandle   string `json:"senderHandle"`
	Body           string `json:"body"`
	MessageType    string `json:"messageType"`
}

// Frame is an inbound broker frame on a conversation topic. Type is set on
// staff-joined and conversation-closed notices; chat messages carry the
// Message fields.
type Frame struct {
	Type string `json:"type,omitempty"`
	Message
}
