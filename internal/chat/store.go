// ABOUTME: The Conversation Store: canonical in-memory state of all conversations.
// ABOUTME: Sole owner of conversation mutation; everything else gets copies or events.

package chat

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/cineverse/supportdesk/internal/identity"
)

// ErrNoActiveConversation is returned when an operation needs an active
// conversation and none is selected.
var ErrNoActiveConversation = errors.New("no active conversation")

// Store holds every conversation known to the session, the active one, and
// unread counters. It is safe for concurrent use; inbound events and API
// calls may arrive from different goroutines.
type Store struct {
	mu        sync.RWMutex
	logger    *slog.Logger
	projector Projector

	order    []string
	byID     map[string]*Conversation
	activeID string

	// epoch invalidates in-flight history fetches: it advances on every
	// Select and CloseActive, and SetHistory applies only when the caller
	// still holds the current epoch.
	epoch uint64
}

// NewStore creates a Store projecting conversations for the given viewer.
// Pass nil logger for default.
func NewStore(viewer identity.Identity, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		logger:    logger.With("component", "store"),
		projector: Projector{Viewer: viewer},
		byID:      make(map[string]*Conversation),
	}
}

// ReplaceAll swaps in a freshly loaded conversation list. Projections are
// recomputed for every entry. Local per-conversation state that the list
// endpoint does not carry (unread counters, previews, loaded messages) is
// carried over from the previous entry with the same id, as are fields the
// subsystem guarantees monotonic: an entry never regresses to orphan once
// assigned, and never reopens once closed. The active conversation survives
// the replacement when its id is still present.
func (s *Store) ReplaceAll(convs []Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order := make([]string, 0, len(convs))
	byID := make(map[string]*Conversation, len(convs))

	for i := range convs {
		conv := convs[i]
		if prev, ok := s.byID[conv.ID]; ok {
			conv.UnreadCount = prev.UnreadCount
			conv.LastMessagePreview = prev.LastMessagePreview
			conv.Messages = prev.Messages

			if conv.AssigneeID == "" && prev.AssigneeID != "" {
				s.logger.Warn("refusing orphan regression",
					"conversation_id", conv.ID,
					"assignee_id", prev.AssigneeID)
				conv.AssigneeID = prev.AssigneeID
				conv.AssigneeHandle = prev.AssigneeHandle
			}
			if conv.Status == StatusOpen && prev.Status == StatusClosed {
				s.logger.Warn("refusing conversation reopen",
					"conversation_id", conv.ID)
				conv.Status = StatusClosed
			}
		}
		s.projector.Apply(&conv)

		order = append(order, conv.ID)
		byID[conv.ID] = &conv
	}

	s.order = order
	s.byID = byID

	if s.activeID != "" {
		if _, ok := byID[s.activeID]; !ok {
			s.logger.Debug("active conversation gone after reload",
				"conversation_id", s.activeID)
			s.activeID = ""
			s.epoch++
		}
	}
}

// Add inserts a newly created conversation at the front of the list.
// It is a no-op if the id is already known.
func (s *Store) Add(conv Conversation) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[conv.ID]; ok {
		return false
	}
	s.projector.Apply(&conv)
	s.order = append([]string{conv.ID}, s.order...)
	s.byID[conv.ID] = &conv
	return true
}

// Select makes id the active conversation and resets its unread counter.
// It returns an epoch token the caller must present to SetHistory, so a
// history fetch superseded by a later selection cannot apply its result.
func (s *Store) Select(id string) (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.byID[id]
	if !ok {
		return 0, false
	}
	conv.UnreadCount = 0
	s.activeID = id
	s.epoch++
	return s.epoch, true
}

// SetHistory replaces the conversation's message list with server truth.
// The write is dropped unless the epoch is still current and id is still
// the active conversation; it reports whether the history was applied.
// Server truth supersedes optimistic messages sent before selection
// completed.
func (s *Store) SetHistory(id string, epoch uint64, msgs []Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if epoch != s.epoch || s.activeID != id {
		s.logger.Debug("dropping stale history",
			"conversation_id", id,
			"epoch", epoch,
			"current_epoch", s.epoch)
		return false
	}
	conv, ok := s.byID[id]
	if !ok {
		return false
	}
	conv.Messages = append([]Message(nil), msgs...)
	return true
}

// CloseActive clears the active-conversation pointer. Conversation data is
// untouched.
func (s *Store) CloseActive() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.activeID = ""
	s.epoch++
}

// ActiveID returns the active conversation's id, or "" when none is open.
func (s *Store) ActiveID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeID
}

// Active returns a copy of the active conversation.
func (s *Store) Active() (Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.activeID == "" {
		return Conversation{}, false
	}
	conv, ok := s.byID[s.activeID]
	if !ok {
		return Conversation{}, false
	}
	return copyConversation(conv), true
}

// ApplyMessage applies an inbound confirmed message: appended to the message
// list only when its conversation is the active one, while the unread counter
// and preview update unconditionally, active conversation included, so the
// aggregate badge counts on-screen traffic too.
// It reports false when the conversation is unknown.
func (s *Store) ApplyMessage(m Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.byID[m.ConversationID]
	if !ok {
		return false
	}

	if s.activeID == m.ConversationID {
		conv.Messages = append(conv.Messages, m)
	}
	conv.UnreadCount++
	conv.LastMessagePreview = m.Body
	return true
}

// AppendLocal inserts an optimistic LOCAL_PENDING message into the active
// conversation and updates its preview. The unread counter is not touched:
// the author is looking at the conversation they just typed into.
func (s *Store) AppendLocal(m Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.activeID == "" || s.activeID != m.ConversationID {
		return ErrNoActiveConversation
	}
	conv, ok := s.byID[m.ConversationID]
	if !ok {
		return ErrNoActiveConversation
	}
	conv.Messages = append(conv.Messages, m)
	conv.LastMessagePreview = m.Body
	return nil
}

// MarkClosed transitions a conversation to CLOSED in place. No other
// fields change.
func (s *Store) MarkClosed(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if conv, ok := s.byID[id]; ok {
		conv.Status = StatusClosed
	}
}

// TotalUnread sums unread counters across all conversations. Always
// computed from current state, never cached.
func (s *Store) TotalUnread() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := 0
	for _, conv := range s.byID {
		total += conv.UnreadCount
	}
	return total
}

// IDs returns conversation ids in display order.
func (s *Store) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.order...)
}

// Len returns the number of stored conversations.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Get returns a copy of one conversation.
func (s *Store) Get(id string) (Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.byID[id]
	if !ok {
		return Conversation{}, false
	}
	return copyConversation(conv), true
}

// Snapshot returns copies of all conversations in display order.
func (s *Store) Snapshot() []Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Conversation, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, copyConversation(s.byID[id]))
	}
	return out
}

func copyConversation(conv *Conversation) Conversation {
	c := *conv
	c.Messages = append([]Message(nil), conv.Messages...)
	return c
}
