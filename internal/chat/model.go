// ABOUTME: Internal display model for conversations and messages.
// ABOUTME: All components exchange these types; raw wire shapes never leave the wire package.

package chat

import "time"

// Status is a conversation's lifecycle state. Transitions are one-way:
// OPEN conversations may close, closed conversations never reopen.
type Status string

const (
	StatusOpen   Status = "OPEN"
	StatusClosed Status = "CLOSED"
)

// Origin distinguishes optimistic local messages from broker-confirmed ones.
type Origin string

const (
	// OriginLocalPending marks a message inserted optimistically on send,
	// not yet observed from the broker.
	OriginLocalPending Origin = "LOCAL_PENDING"
	// OriginConfirmed marks a message observed from the broker or loaded
	// from conversation history.
	OriginConfirmed Origin = "CONFIRMED"
)

// Message is one chat message as displayed to the viewer.
type Message struct {
	ID             string
	ConversationID string
	AuthorID       string
	AuthorHandle   string
	Body           string
	SentAt         time.Time
	Origin         Origin
	// Mine is true when the current identity authored the message.
	Mine bool
}

// Conversation is the canonical in-memory view of one support conversation.
// The Store owns all mutation; other components receive copies.
type Conversation struct {
	ID             string
	CustomerID     string
	CustomerHandle string

	// AssigneeID is empty while the conversation is an orphan. Assignment
	// is monotonic: once set it is never cleared by this subsystem.
	AssigneeID     string
	AssigneeHandle string

	Status    Status
	CreatedAt time.Time

	UnreadCount        int
	LastMessagePreview string

	// Messages is populated lazily: empty until the conversation is
	// selected and its history loaded.
	Messages []Message

	// DisplayName and Subtitle are the role-dependent projection computed
	// when the conversation list is (re)loaded.
	DisplayName string
	Subtitle    string
}

// Orphan reports whether no staff member owns the conversation.
func (c *Conversation) Orphan() bool {
	return c.AssigneeID == ""
}

// EventKind is the normalized inbound event taxonomy.
type EventKind string

const (
	// KindStaffJoined signals an assignment change somewhere in the list;
	// consumers react with a full conversation-list refresh.
	KindStaffJoined EventKind = "staff_joined"
	// KindConversationClosed marks one conversation CLOSED in place.
	KindConversationClosed EventKind = "conversation_closed"
	// KindMessage carries a chat message.
	KindMessage EventKind = "message"
)

// Event is a normalized inbound broker event. Message is set only for
// KindMessage.
type Event struct {
	Kind           EventKind
	ConversationID string
	Message        *Message
}
