// ABOUTME: The desk Service wires identity, store, catalog, and channel together.
// ABOUTME: Single event loop applying inbound events; optimistic send; claim coordination.

package desk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/cineverse/supportdesk/internal/catalog"
	"github.com/cineverse/supportdesk/internal/channel"
	"github.com/cineverse/supportdesk/internal/chat"
	"github.com/cineverse/supportdesk/internal/dedupe"
	"github.com/cineverse/supportdesk/internal/identity"
	"github.com/cineverse/supportdesk/internal/wire"
)

// ErrDisconnected is returned when an operation needs the channel and the
// session is currently offline. Retryable once connectivity returns.
var ErrDisconnected = errors.New("disconnected")

// ErrUnknownConversation is returned for operations on conversation ids the
// store does not know.
var ErrUnknownConversation = errors.New("unknown conversation")

// ErrNotStaff is returned when a non-staff identity attempts a staff
// operation.
var ErrNotStaff = errors.New("staff capability required")

// ErrNotCustomer is returned when a staff identity tries to start a
// support conversation of its own.
var ErrNotCustomer = errors.New("only customers start conversations")

// Catalog defines what the service needs from the catalog collaborator.
type Catalog interface {
	Conversations(ctx context.Context, identityID string) ([]wire.Conversation, error)
	Messages(ctx context.Context, conversationID string) ([]wire.Message, error)
	CreateConversation(ctx context.Context, customerID string) (wire.Conversation, error)
	Assign(ctx context.Context, conversationID, staffID string) (wire.Conversation, error)
	CloseConversation(ctx context.Context, conversationID string) (wire.Conversation, error)
	WaitingConversations(ctx context.Context) ([]wire.Conversation, error)
}

// Channel defines what the service needs from the connection manager.
type Channel interface {
	Connect(ctx context.Context)
	Disconnect()
	SubscribeConversation(id string) error
	Send(ctx context.Context, body []byte) error
	States() <-chan channel.State
	Events() <-chan chat.Event
}

// UpdateKind classifies consumer notifications.
type UpdateKind string

const (
	// UpdateConnectivity signals a CONNECTED/DISCONNECTED transition.
	UpdateConnectivity UpdateKind = "connectivity"
	// UpdateRoster signals that the conversation list was replaced.
	UpdateRoster UpdateKind = "roster"
	// UpdateMessage signals a message applied to the store.
	UpdateMessage UpdateKind = "message"
	// UpdateConversation signals a single conversation change
	// (selection, close, history load).
	UpdateConversation UpdateKind = "conversation"
)

// Update is a lightweight change notification. Consumers re-read store
// snapshots for actual data; updates may be dropped under load.
type Update struct {
	Kind           UpdateKind
	State          channel.State
	ConversationID string
	Message        *chat.Message
}

const updateBufferSize = 64

// Service is the support-desk coordination layer for one identity session.
// It owns the single event loop that applies inbound broker events to the
// Store, and exposes the user-facing operations.
type Service struct {
	self    identity.Identity
	store   *chat.Store
	catalog Catalog
	channel Channel
	norm    wire.Normalizer
	seen    *dedupe.Cache
	logger  *slog.Logger

	connected  atomic.Bool
	started    atomic.Bool
	refreshing atomic.Bool
	updates    chan Update
	stop       chan struct{}
	done       chan struct{}
	startOnce  sync.Once
	stopOnce   sync.Once
}

// New creates a Service. Pass nil logger for default.
func New(self identity.Identity, store *chat.Store, cat Catalog, ch Channel, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		self:    self,
		store:   store,
		catalog: cat,
		channel: ch,
		norm:    wire.Normalizer{Self: self},
		seen:    dedupe.New(0, 0),
		logger:  logger.With("component", "desk"),
		updates: make(chan Update, updateBufferSize),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start opens the channel and begins processing inbound events. Idempotent.
func (s *Service) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		s.started.Store(true)
		s.channel.Connect(ctx)
		go s.loop(ctx)
	})
}

// Stop tears the session down: subscriptions, transport, event loop.
// Idempotent; safe on teardown paths.
func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		s.channel.Disconnect()
		s.seen.Close()
		close(s.stop)
		if s.started.Load() {
			<-s.done
		}
	})
}

// Updates notifies consumers of state changes. Best-effort: drops under
// load, re-read Snapshot for truth.
func (s *Service) Updates() <-chan Update {
	return s.updates
}

// Connected reports current connectivity for the UI indicator.
func (s *Service) Connected() bool {
	return s.connected.Load()
}

// TotalUnread sums unread counters across all conversations.
func (s *Service) TotalUnread() int {
	return s.store.TotalUnread()
}

// Snapshot returns copies of all conversations in display order.
func (s *Service) Snapshot() []chat.Conversation {
	return s.store.Snapshot()
}

// Active returns a copy of the active conversation.
func (s *Service) Active() (chat.Conversation, bool) {
	return s.store.Active()
}

// loop is the single consumer of inbound events and connection-state
// changes; all store mutation triggered by the broker happens here.
func (s *Service) loop(ctx context.Context) {
	defer close(s.done)

	for {
		select {
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		case state := <-s.channel.States():
			s.handleState(ctx, state)
		case ev := <-s.channel.Events():
			s.handleEvent(ctx, ev)
		}
	}
}

func (s *Service) handleState(ctx context.Context, state channel.State) {
	s.connected.Store(state == channel.StateConnected)
	s.notify(Update{Kind: UpdateConnectivity, State: state})

	if state == channel.StateConnected {
		s.refresh(ctx, "connected")
	}
}

// refresh runs LoadConversations off the event loop so a slow catalog
// cannot stall inbound frame processing. Triggers arriving while a fetch
// is in flight collapse into it.
func (s *Service) refresh(ctx context.Context, reason string) {
	if !s.refreshing.CompareAndSwap(false, true) {
		s.logger.Debug("refresh already in flight", "reason", reason)
		return
	}
	go func() {
		defer s.refreshing.Store(false)
		if err := s.LoadConversations(ctx); err != nil {
			s.logger.Warn("refresh failed", "reason", reason, "error", err)
		}
	}()
}

func (s *Service) handleEvent(ctx context.Context, ev chat.Event) {
	switch ev.Kind {
	case chat.KindStaffJoined:
		// Assignment affects projection everywhere; a full refresh is
		// cheaper to get right than incremental patching.
		s.logger.Debug("staff joined", "conversation_id", ev.ConversationID)
		s.refresh(ctx, "staff joined")

	case chat.KindConversationClosed:
		s.store.MarkClosed(ev.ConversationID)
		s.notify(Update{Kind: UpdateConversation, ConversationID: ev.ConversationID})

	case chat.KindMessage:
		if ev.Message == nil {
			return
		}
		if ev.Message.Mine {
			// Self-echo: the optimistic copy already represents this
			// message. Discarded before it reaches the store.
			s.logger.Debug("discarding self-echo",
				"conversation_id", ev.ConversationID,
				"message_id", ev.Message.ID)
			return
		}
		if s.seen.Observe(ev.Message.ID) {
			// Auto-ack consumption can redeliver across a reconnect.
			s.logger.Debug("dropping redelivered message",
				"conversation_id", ev.ConversationID,
				"message_id", ev.Message.ID)
			return
		}
		if !s.store.ApplyMessage(*ev.Message) {
			s.logger.Warn("message for unknown conversation",
				"conversation_id", ev.ConversationID)
			return
		}
		s.notify(Update{Kind: UpdateMessage, ConversationID: ev.ConversationID, Message: ev.Message})
	}
}

// LoadConversations fetches the full conversation list, replaces the store
// wholesale, and subscribes every conversation's topic. On failure the
// prior state is kept and the error returned as a retryable condition.
func (s *Service) LoadConversations(ctx context.Context) error {
	dtos, err := s.catalog.Conversations(ctx, s.self.ID)
	if err != nil {
		s.logger.Warn("conversation list fetch failed, keeping prior state", "error", err)
		return fmt.Errorf("loading conversations: %w", err)
	}

	convs := make([]chat.Conversation, 0, len(dtos))
	for _, dto := range dtos {
		convs = append(convs, s.norm.Conversation(dto))
	}
	s.store.ReplaceAll(convs)
	s.subscribeKnown()
	s.notify(Update{Kind: UpdateRoster})
	return nil
}

// subscribeKnown registers topic interest for every stored conversation.
// Offline is fine: the manager resubscribes the full roster on the next
// CONNECTED transition.
func (s *Service) subscribeKnown() {
	for _, id := range s.store.IDs() {
		if err := s.channel.SubscribeConversation(id); err != nil {
			if errors.Is(err, channel.ErrNotConnected) {
				return
			}
			s.logger.Warn("subscribe failed", "conversation_id", id, "error", err)
		}
	}
}

// SelectConversation makes id the active conversation, resets its unread
// counter, and reloads its history from the catalog. A selection that is
// superseded before its fetch resolves never touches the store.
func (s *Service) SelectConversation(ctx context.Context, id string) error {
	epoch, ok := s.store.Select(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownConversation, id)
	}
	s.notify(Update{Kind: UpdateConversation, ConversationID: id})

	dtos, err := s.catalog.Messages(ctx, id)
	if err != nil {
		s.logger.Warn("history fetch failed", "conversation_id", id, "error", err)
		return fmt.Errorf("loading history: %w", err)
	}

	history := make([]chat.Message, 0, len(dtos))
	for _, dto := range dtos {
		history = append(history, s.norm.Message(dto))
	}
	if s.store.SetHistory(id, epoch, history) {
		s.notify(Update{Kind: UpdateConversation, ConversationID: id})
	}
	return nil
}

// CloseActive clears the active-conversation pointer.
func (s *Service) CloseActive() {
	s.store.CloseActive()
}

// Send inserts an optimistic LOCAL_PENDING message and publishes it to the
// conversation's topic. Rejected while disconnected; empty input is a
// no-op. Delivery is fire-and-forget: the optimistic copy stays visible
// even if the publish fails, and the broker's echo of our own message is
// discarded on receipt rather than reconciled.
func (s *Service) Send(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if !s.connected.Load() {
		return ErrDisconnected
	}
	active := s.store.ActiveID()
	if active == "" {
		return chat.ErrNoActiveConversation
	}

	local := s.norm.Local(active, text)
	if err := s.store.AppendLocal(local); err != nil {
		return err
	}
	s.notify(Update{Kind: UpdateMessage, ConversationID: active, Message: &local})

	body, err := s.norm.Outbound(active, text)
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}
	if err := s.channel.Send(ctx, body); err != nil {
		s.logger.Warn("publish failed", "conversation_id", active, "error", err)
		return fmt.Errorf("sending message: %w", err)
	}
	return nil
}

// Claim takes ownership of an orphan conversation for the current staff
// identity. Exclusivity lives in the collaborator's write: on conflict the
// list is refreshed so the true assignee shows, and the conflict is
// surfaced to the caller as a non-fatal condition.
func (s *Service) Claim(ctx context.Context, conversationID string) error {
	if !s.self.IsStaff() {
		return ErrNotStaff
	}

	if _, err := s.catalog.Assign(ctx, conversationID, s.self.ID); err != nil {
		if errors.Is(err, catalog.ErrConflict) {
			s.logger.Info("claim lost to another staff member",
				"conversation_id", conversationID)
			if lerr := s.LoadConversations(ctx); lerr != nil {
				s.logger.Warn("refresh after claim conflict failed", "error", lerr)
			}
			return err
		}
		return fmt.Errorf("claiming conversation: %w", err)
	}

	return s.LoadConversations(ctx)
}

// StartConversation opens a new support conversation for the current
// customer, subscribes its topic, and makes it active.
func (s *Service) StartConversation(ctx context.Context) (chat.Conversation, error) {
	if s.self.Role != identity.RoleCustomer {
		return chat.Conversation{}, ErrNotCustomer
	}

	dto, err := s.catalog.CreateConversation(ctx, s.self.ID)
	if err != nil {
		return chat.Conversation{}, fmt.Errorf("creating conversation: %w", err)
	}

	conv := s.norm.Conversation(dto)
	s.store.Add(conv)
	if err := s.channel.SubscribeConversation(conv.ID); err != nil && !errors.Is(err, channel.ErrNotConnected) {
		s.logger.Warn("subscribe failed", "conversation_id", conv.ID, "error", err)
	}
	if _, ok := s.store.Select(conv.ID); !ok {
		return chat.Conversation{}, fmt.Errorf("%w: %s", ErrUnknownConversation, conv.ID)
	}
	s.notify(Update{Kind: UpdateRoster})

	created, _ := s.store.Get(conv.ID)
	return created, nil
}

// CloseConversation closes a conversation through the catalog and marks it
// CLOSED locally. Staff only.
func (s *Service) CloseConversation(ctx context.Context, conversationID string) error {
	if !s.self.IsStaff() {
		return ErrNotStaff
	}
	if _, err := s.catalog.CloseConversation(ctx, conversationID); err != nil {
		return fmt.Errorf("closing conversation: %w", err)
	}
	s.store.MarkClosed(conversationID)
	s.notify(Update{Kind: UpdateConversation, ConversationID: conversationID})
	return nil
}

// Waiting lists orphan conversations awaiting a claim, projected for the
// current viewer. Staff only.
func (s *Service) Waiting(ctx context.Context) ([]chat.Conversation, error) {
	if !s.self.IsStaff() {
		return nil, ErrNotStaff
	}
	dtos, err := s.catalog.WaitingConversations(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing waiting conversations: %w", err)
	}

	projector := chat.Projector{Viewer: s.self}
	convs := make([]chat.Conversation, 0, len(dtos))
	for _, dto := range dtos {
		conv := s.norm.Conversation(dto)
		projector.Apply(&conv)
		convs = append(convs, conv)
	}
	return convs, nil
}

// notify is best-effort: a slow consumer loses updates, never blocks the
// event loop.
func (s *Service) notify(u Update) {
	select {
	case s.updates <- u:
	default:
		s.logger.Debug("dropping update for slow consumer", "kind", u.Kind)
	}
}
