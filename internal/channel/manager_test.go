// ABOUTME: Tests for the connection Manager against an in-memory fake transport.
// ABOUTME: Covers reconnect/backoff, resubscription, subscription bookkeeping, and frame flow.

package channel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cineverse/supportdesk/internal/chat"
	"github.com/cineverse/supportdesk/internal/identity"
	"github.com/cineverse/supportdesk/internal/wire"
)

type publishRecord struct {
	topic string
	body  []byte
}

type fakeLink struct {
	mu        sync.Mutex
	subs      map[string]int
	published []publishRecord

	frames chan Frame
	closed chan error
	once   sync.Once
}

func newFakeLink() *fakeLink {
	return &fakeLink{
		subs:   make(map[string]int),
		frames: make(chan Frame, 16),
		closed: make(chan error, 1),
	}
}

func (l *fakeLink) Subscribe(topic string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.subs[topic]++
	return nil
}

func (l *fakeLink) Unsubscribe(topic string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.subs, topic)
	return nil
}

func (l *fakeLink) Publish(_ context.Context, topic string, body []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.published = append(l.published, publishRecord{topic: topic, body: body})
	return nil
}

func (l *fakeLink) Frames() <-chan Frame { return l.frames }
func (l *fakeLink) Closed() <-chan error { return l.closed }

func (l *fakeLink) Close() error {
	l.once.Do(func() { l.closed <- nil })
	return nil
}

// fail simulates the broker dropping the connection.
func (l *fakeLink) fail(err error) {
	l.once.Do(func() { l.closed <- err })
}

func (l *fakeLink) deliver(body string) {
	l.frames <- Frame{Topic: "conversation.test", Body: []byte(body)}
}

func (l *fakeLink) subscribeCount(topic string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.subs[topic]
}

func (l *fakeLink) subscriptions() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.subs)
}

func (l *fakeLink) sends() []publishRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]publishRecord(nil), l.published...)
}

type fakeTransport struct {
	mu        sync.Mutex
	dialFails int
	dials     int
	dialed    chan *fakeLink
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{dialed: make(chan *fakeLink, 8)}
}

func (t *fakeTransport) Dial(_ context.Context) (Link, error) {
	t.mu.Lock()
	t.dials++
	if t.dialFails > 0 {
		t.dialFails--
		t.mu.Unlock()
		return nil, errors.New("broker unreachable")
	}
	t.mu.Unlock()

	link := newFakeLink()
	t.dialed <- link
	return link, nil
}

func (t *fakeTransport) dialCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dials
}

var testSelf = identity.Identity{ID: "u-1", Handle: "maria", Role: identity.RoleStaff}

func newTestManager(t *testing.T, transport Transport, roster Roster) *Manager {
	t.Helper()
	m := NewManager(transport, wire.Normalizer{Self: testSelf}, roster, Config{
		ReconnectInterval: 10 * time.Millisecond,
	}, nil)
	t.Cleanup(m.Disconnect)
	return m
}

func waitState(t *testing.T, m *Manager, want State) {
	t.Helper()
	select {
	case got := <-m.States():
		require.Equal(t, want, got)
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for state %s", want)
	}
}

func waitLink(t *testing.T, transport *fakeTransport) *fakeLink {
	t.Helper()
	select {
	case link := <-transport.dialed:
		return link
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dial")
		return nil
	}
}

func TestConnect_EmitsConnectedAndResubscribes(t *testing.T) {
	transport := newFakeTransport()
	roster := func() []string { return []string{"1", "2"} }
	m := newTestManager(t, transport, roster)

	m.Connect(context.Background())
	link := waitLink(t, transport)
	waitState(t, m, StateConnected)

	assert.Equal(t, 1, link.subscribeCount("conversation.1"))
	assert.Equal(t, 1, link.subscribeCount("conversation.2"))
	assert.Equal(t, 2, m.Subscriptions())
	assert.True(t, m.Connected())
}

func TestConnect_Idempotent(t *testing.T) {
	transport := newFakeTransport()
	m := newTestManager(t, transport, nil)

	ctx := context.Background()
	m.Connect(ctx)
	m.Connect(ctx)
	waitLink(t, transport)
	waitState(t, m, StateConnected)

	assert.Equal(t, 1, transport.dialCount())
}

func TestConnect_RetriesAfterDialFailure(t *testing.T) {
	transport := newFakeTransport()
	transport.dialFails = 2
	m := newTestManager(t, transport, nil)

	m.Connect(context.Background())
	waitLink(t, transport)
	waitState(t, m, StateConnected)

	assert.Equal(t, 3, transport.dialCount())
}

func TestReconnect_ResubscribesEveryKnownConversation(t *testing.T) {
	transport := newFakeTransport()
	ids := []string{"1", "2", "3"}
	roster := func() []string { return ids }
	m := newTestManager(t, transport, roster)

	m.Connect(context.Background())
	link1 := waitLink(t, transport)
	waitState(t, m, StateConnected)
	require.Equal(t, 3, m.Subscriptions())

	link1.fail(errors.New("connection reset"))
	waitState(t, m, StateDisconnected)
	assert.Zero(t, m.Subscriptions(), "subscriptions do not survive a disconnect")

	link2 := waitLink(t, transport)
	waitState(t, m, StateConnected)

	assert.Equal(t, len(ids), m.Subscriptions())
	assert.Equal(t, len(ids), link2.subscriptions())
}

func TestSubscribeConversation(t *testing.T) {
	transport := newFakeTransport()
	m := newTestManager(t, transport, nil)

	// Not connected yet: caller must retry after the CONNECTED transition.
	assert.ErrorIs(t, m.SubscribeConversation("1"), ErrNotConnected)

	m.Connect(context.Background())
	link := waitLink(t, transport)
	waitState(t, m, StateConnected)

	require.NoError(t, m.SubscribeConversation("1"))
	require.NoError(t, m.SubscribeConversation("1"), "re-subscription is a no-op")

	assert.Equal(t, 1, link.subscribeCount("conversation.1"), "handles are never stacked")
	assert.Equal(t, 1, m.Subscriptions())
}

func TestEvents_NormalizedFrameFlow(t *testing.T) {
	transport := newFakeTransport()
	m := newTestManager(t, transport, nil)

	m.Connect(context.Background())
	link := waitLink(t, transport)
	waitState(t, m, StateConnected)

	link.deliver(`{"conversationId":"7","senderId":"u-2","senderHandle":"carlos","body":"hola"}`)

	select {
	case ev := <-m.Events():
		assert.Equal(t, chat.KindMessage, ev.Kind)
		assert.Equal(t, "7", ev.ConversationID)
		require.NotNil(t, ev.Message)
		assert.Equal(t, "hola", ev.Message.Body)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestEvents_MalformedFrameDoesNotKillTheLoop(t *testing.T) {
	transport := newFakeTransport()
	m := newTestManager(t, transport, nil)

	m.Connect(context.Background())
	link := waitLink(t, transport)
	waitState(t, m, StateConnected)

	link.deliver(`{{{not json`)
	link.deliver(`{"type":"CONVERSATION_CLOSED","conversationId":"7"}`)

	select {
	case ev := <-m.Events():
		assert.Equal(t, chat.KindConversationClosed, ev.Kind, "good frame after bad one still arrives")
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestSend(t *testing.T) {
	transport := newFakeTransport()
	m := newTestManager(t, transport, nil)

	err := m.Send(context.Background(), []byte(`{}`))
	assert.ErrorIs(t, err, ErrNotConnected)

	m.Connect(context.Background())
	link := waitLink(t, transport)
	waitState(t, m, StateConnected)

	require.NoError(t, m.Send(context.Background(), []byte(`{"body":"hi"}`)))

	sends := link.sends()
	require.Len(t, sends, 1)
	assert.Equal(t, DefaultSendTopic, sends[0].topic)
	assert.JSONEq(t, `{"body":"hi"}`, string(sends[0].body))
}

func TestDisconnect(t *testing.T) {
	transport := newFakeTransport()
	m := newTestManager(t, transport, nil)

	m.Connect(context.Background())
	waitLink(t, transport)
	waitState(t, m, StateConnected)

	m.Disconnect()
	m.Disconnect() // idempotent

	select {
	case <-m.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for shutdown")
	}

	dials := transport.dialCount()
	// Session-scoped: no redial after teardown, and Connect is rejected.
	m.Connect(context.Background())
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, dials, transport.dialCount())
	assert.False(t, m.Connected())
}

func TestTopic(t *testing.T) {
	assert.Equal(t, "conversation.42", Topic("42"))
	assert.Equal(t, fmt.Sprintf("%s%s", TopicPrefix, "abc"), Topic("abc"))
}
