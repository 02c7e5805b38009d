// ABOUTME: The Message Normalizer: wire shapes in, internal display model out.
// ABOUTME: Single point where wire field mapping and "is this mine" authorship happen.

package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cineverse/supportdesk/internal/chat"
	"github.com/cineverse/supportdesk/internal/identity"
)

// ErrMalformedFrame is returned for inbound frames that cannot be decoded
// or are missing their conversation id. Callers log and drop them.
var ErrMalformedFrame = errors.New("malformed frame")

// Normalizer translates between wire shapes and the internal model for one
// viewing identity.
type Normalizer struct {
	Self identity.Identity
}

// Frame decodes one inbound broker frame into a normalized event.
func (n Normalizer) Frame(body []byte) (chat.Event, error) {
	var f Frame
	if err := json.Unmarshal(body, &f); err != nil {
		return chat.Event{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if f.ConversationID == "" {
		return chat.Event{}, fmt.Errorf("%w: missing conversation id", ErrMalformedFrame)
	}

	switch f.Type {
	case FrameStaffJoined, FrameEmployeeJoined:
		return chat.Event{Kind: chat.KindStaffJoined, ConversationID: f.ConversationID}, nil
	case FrameConversationClosed:
		return chat.Event{Kind: chat.KindConversationClosed, ConversationID: f.ConversationID}, nil
	case "", FrameChatMessage:
		msg := n.Message(f.Message)
		return chat.Event{Kind: chat.KindMessage, ConversationID: f.ConversationID, Message: &msg}, nil
	default:
		// Unknown frame types are protocol drift, not chat traffic; callers
		// log and drop them.
		return chat.Event{}, fmt.Errorf("%w: unrecognized frame type %q", ErrMalformedFrame, f.Type)
	}
}

// Conversation maps a catalog conversation record into the internal model.
// Display projection is applied later by the Store.
func (n Normalizer) Conversation(dto Conversation) chat.Conversation {
	status := chat.Status(dto.Status)
	if status != chat.StatusClosed {
		status = chat.StatusOpen
	}
	return chat.Conversation{
		ID:             dto.ID,
		CustomerID:     dto.CustomerID,
		CustomerHandle: dto.CustomerHandle,
		AssigneeID:     dto.AssigneeID,
		AssigneeHandle: dto.AssigneeHandle,
		Status:         status,
		CreatedAt:      dto.CreatedAt,
	}
}

// Message maps a catalog or broker message into the internal model,
// resolving authorship against the current identity.
func (n Normalizer) Message(dto Message) chat.Message {
	id := dto.ID
	if id == "" {
		// Broker frames may arrive before persistence assigned an id. The
		// substitute is derived from the frame content so a redelivered
		// frame maps to the same message.
		id = derivedMessageID(dto)
	}
	sentAt := dto.SentAt
	if sentAt.IsZero() {
		sentAt = time.Now()
	}
	mine := dto.SenderID == n.Self.ID
	handle := dto.SenderHandle
	if mine {
		handle = n.Self.Handle
	}
	return chat.Message{
		ID:             id,
		ConversationID: dto.ConversationID,
		AuthorID:       dto.SenderID,
		AuthorHandle:   handle,
		Body:           dto.Body,
		SentAt:         sentAt,
		Origin:         chat.OriginConfirmed,
		Mine:           mine,
	}
}

// derivedMessageID builds a deterministic substitute id for frames that
// carry none. Two distinct messages collide only when conversation, sender,
// timestamp, and body all match.
func derivedMessageID(dto Message) string {
	seed := dto.ConversationID + "|" + dto.SenderID + "|" +
		dto.SentAt.UTC().Format(time.RFC3339Nano) + "|" + dto.Body
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(seed)).String()
}

// Local builds the optimistic LOCAL_PENDING message for a send, with a
// client-generated provisional id.
func (n Normalizer) Local(conversationID, body string) chat.Message {
	return chat.Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		AuthorID:       n.Self.ID,
		AuthorHandle:   n.Self.Handle,
		Body:           body,
		SentAt:         time.Now(),
		Origin:         chat.OriginLocalPending,
		Mine:           true,
	}
}

// Outbound encodes the publish payload for the send destination. The
// broker side stamps sentAt and assigns the persistent id.
func (n Normalizer) Outbound(conversationID, body string) ([]byte, error) {
	return json.Marshal(Outgoing{
		ConversationID: conversationID,
		SenderID:       n.Self.ID,
		SenderHandle:   n.Self.Handle,
		Body:           body,
		MessageType:    MessageTypeText,
	})
}
