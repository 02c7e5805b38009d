// ABOUTME: The Channel Connection Manager: one logical persistent connection per session.
// ABOUTME: Owns reconnect/backoff, the per-conversation subscription map, and frame delivery.

package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cineverse/supportdesk/internal/chat"
)

// ErrNotConnected is returned when an operation needs a live link. It is
// a retryable condition: callers wait for the next CONNECTED signal.
var ErrNotConnected = errors.New("not connected")

// State is the manager's observable connection state.
type State string

const (
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
)

// Defaults for Config zero values.
const (
	DefaultReconnectInterval = 5 * time.Second
	DefaultSendTopic         = "chat.send"

	stateBufferSize = 4
	eventBufferSize = 64
)

// Normalizer turns raw frame bodies into typed events. Satisfied by
// wire.Normalizer.
type Normalizer interface {
	Frame(body []byte) (chat.Event, error)
}

// Roster reports every conversation currently known to the Store. The
// manager resubscribes to all of them on each CONNECTED transition,
// because subscriptions do not survive a disconnect.
type Roster func() []string

// Config tunes the manager.
type Config struct {
	// ReconnectInterval is the fixed backoff between connection attempts.
	ReconnectInterval time.Duration
	// SendTopic is the well-known outbound publish destination.
	SendTopic string
}

// Manager maintains exactly one logical persistent connection. Transport
// faults never escape it: disconnection is recoverable state reported via
// States, not an error return. Construct one per identity session and tear
// it down with Disconnect on logout.
type Manager struct {
	transport Transport
	norm      Normalizer
	roster    Roster
	cfg       Config
	logger    *slog.Logger

	states chan State
	events chan chat.Event

	mu        sync.Mutex
	link      Link
	subs      map[string]struct{}
	connected bool
	running   bool
	stopped   bool
	stop      chan struct{}
	done      chan struct{}
}

// NewManager creates a Manager. Pass nil logger for default.
func NewManager(transport Transport, norm Normalizer, roster Roster, cfg Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = DefaultReconnectInterval
	}
	if cfg.SendTopic == "" {
		cfg.SendTopic = DefaultSendTopic
	}
	return &Manager{
		transport: transport,
		norm:      norm,
		roster:    roster,
		cfg:       cfg,
		logger:    logger.With("component", "channel"),
		states:    make(chan State, stateBufferSize),
		events:    make(chan chat.Event, eventBufferSize),
		subs:      make(map[string]struct{}),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// States reports CONNECTED/DISCONNECTED transitions.
func (m *Manager) States() <-chan State {
	return m.states
}

// Events delivers normalized inbound events in per-topic broker order.
func (m *Manager) Events() <-chan chat.Event {
	return m.events
}

// Connected reports whether a live link is up.
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// Connect opens the persistent connection. Idempotent: a second call while
// running is a no-op, and a call after Disconnect is rejected since the
// manager is session-scoped. Dial failures are not surfaced here; the
// manager keeps retrying on the fixed backoff interval until Disconnect.
func (m *Manager) Connect(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running || m.stopped {
		return
	}
	m.running = true
	go m.run(ctx)
}

// Disconnect tears down all subscriptions and closes the transport.
// Idempotent and non-blocking; safe on teardown paths.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	link := m.link
	close(m.stop)
	m.mu.Unlock()

	if link != nil {
		_ = link.Close()
	}
	m.logger.Debug("disconnect requested")
}

// Done closes once the connection loop has fully exited after Disconnect.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// SubscribeConversation registers interest in one conversation's topic.
// No-op when already subscribed. Returns ErrNotConnected when no link is
// up; the caller retries after the next CONNECTED transition. The
// subscription map never holds more than one live handle per id.
func (m *Manager) SubscribeConversation(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected || m.link == nil {
		return ErrNotConnected
	}
	if _, ok := m.subs[id]; ok {
		return nil
	}
	if err := m.link.Subscribe(Topic(id)); err != nil {
		return fmt.Errorf("subscribing to conversation %s: %w", id, err)
	}
	m.subs[id] = struct{}{}
	m.logger.Debug("subscribed", "conversation_id", id)
	return nil
}

// Subscriptions returns the number of live topic subscriptions.
func (m *Manager) Subscriptions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

// Send publishes a payload to the well-known send destination.
func (m *Manager) Send(ctx context.Context, body []byte) error {
	m.mu.Lock()
	link := m.link
	connected := m.connected
	m.mu.Unlock()

	if !connected || link == nil {
		return ErrNotConnected
	}
	if err := link.Publish(ctx, m.cfg.SendTopic, body); err != nil {
		return fmt.Errorf("publishing to %s: %w", m.cfg.SendTopic, err)
	}
	return nil
}

// run is the connection loop: dial, resubscribe, pump frames, and on any
// loss of the link go back to dialing after the backoff interval.
func (m *Manager) run(ctx context.Context) {
	defer close(m.done)

	for {
		if m.halted(ctx) {
			return
		}

		link, err := m.transport.Dial(ctx)
		if err != nil {
			m.logger.Warn("dial failed",
				"error", err,
				"retry_in", m.cfg.ReconnectInterval)
			if !m.backoff(ctx) {
				return
			}
			continue
		}

		m.mu.Lock()
		if m.stopped {
			m.mu.Unlock()
			_ = link.Close()
			return
		}
		m.link = link
		m.connected = true
		m.mu.Unlock()

		m.logger.Info("connected")
		// Restore subscriptions before announcing the transition so
		// dependents observing CONNECTED already see a complete roster.
		m.resubscribe(link)
		m.emitState(ctx, StateConnected)
		m.pump(ctx, link)

		m.mu.Lock()
		m.link = nil
		m.connected = false
		m.subs = make(map[string]struct{})
		m.mu.Unlock()
		_ = link.Close()

		m.logger.Info("disconnected")
		m.emitState(ctx, StateDisconnected)

		if m.halted(ctx) {
			return
		}
		if !m.backoff(ctx) {
			return
		}
	}
}

// resubscribe restores one subscription per conversation the Store knows.
func (m *Manager) resubscribe(link Link) {
	if m.roster == nil {
		return
	}
	ids := m.roster()
	count := 0
	for _, id := range ids {
		if err := link.Subscribe(Topic(id)); err != nil {
			m.logger.Warn("resubscribe failed",
				"conversation_id", id,
				"error", err)
			continue
		}
		m.mu.Lock()
		m.subs[id] = struct{}{}
		m.mu.Unlock()
		count++
	}
	if count > 0 {
		m.logger.Debug("resubscribed", "count", count)
	}
}

// pump consumes frames from the link until it dies or the manager stops.
func (m *Manager) pump(ctx context.Context, link Link) {
	for {
		select {
		case <-m.stop:
			return
		case <-ctx.Done():
			return
		case err := <-link.Closed():
			if err != nil {
				m.logger.Warn("link lost", "error", err)
			}
			return
		case frame, ok := <-link.Frames():
			if !ok {
				return
			}
			ev, err := m.norm.Frame(frame.Body)
			if err != nil {
				// Protocol fault: drop the frame, keep the loop alive.
				m.logger.Warn("dropping malformed frame",
					"topic", frame.Topic,
					"error", err)
				continue
			}
			select {
			case m.events <- ev:
			case <-m.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}
}

func (m *Manager) emitState(ctx context.Context, s State) {
	select {
	case m.states <- s:
	case <-m.stop:
	case <-ctx.Done():
	}
}

// backoff waits one reconnect interval; false means the manager stopped.
func (m *Manager) backoff(ctx context.Context) bool {
	timer := time.NewTimer(m.cfg.ReconnectInterval)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-m.stop:
		return false
	case <-ctx.Done():
		return false
	}
}

func (m *Manager) halted(ctx context.Context) bool {
	select {
	case <-m.stop:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}
