// ABOUTME: RabbitMQ transport: topic exchange, session-scoped queue, per-topic bindings.
// ABOUTME: One Link per dialed connection; the Manager handles redial on loss.

package channel

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// DefaultExchange is the topic exchange carrying conversation traffic.
const DefaultExchange = "cineverse.chat"

const frameBufferSize = 64

// AMQPConfig configures the RabbitMQ transport.
type AMQPConfig struct {
	URL      string
	Exchange string
	// Dial overrides the connection factory; tests inject fakes here.
	Dial func(url string) (*amqp.Connection, error)
}

// AMQPTransport dials RabbitMQ links. Each Dial produces an exclusive,
// server-named queue whose topic bindings implement conversation
// subscriptions; the queue (and with it every subscription) dies with the
// connection, which is exactly the lifetime the Manager expects.
type AMQPTransport struct {
	cfg    AMQPConfig
	logger *slog.Logger
}

// NewAMQPTransport creates the transport. Pass nil logger for default.
func NewAMQPTransport(cfg AMQPConfig, logger *slog.Logger) *AMQPTransport {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Exchange == "" {
		cfg.Exchange = DefaultExchange
	}
	return &AMQPTransport{cfg: cfg, logger: logger.With("component", "amqp")}
}

// Dial opens a connection, declares the exchange, and starts consuming the
// session queue.
func (t *AMQPTransport) Dial(ctx context.Context) (Link, error) {
	dial := t.cfg.Dial
	if dial == nil {
		dial = amqp.Dial
	}

	conn, err := dial(t.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dialing broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("opening channel: %w", err)
	}

	if err := ch.ExchangeDeclare(t.cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declaring exchange %s: %w", t.cfg.Exchange, err)
	}

	// Exclusive + auto-delete: the queue exists only for this session.
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declaring session queue: %w", err)
	}

	deliveries, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("consuming session queue: %w", err)
	}

	link := &amqpLink{
		conn:     conn,
		ch:       ch,
		exchange: t.cfg.Exchange,
		queue:    q.Name,
		frames:   make(chan Frame, frameBufferSize),
		closed:   make(chan error, 1),
		done:     make(chan struct{}),
	}

	notify := conn.NotifyClose(make(chan *amqp.Error, 1))
	go link.watch(notify)
	go link.pump(deliveries)

	t.logger.Debug("link established", "queue", q.Name)
	return link, nil
}

type amqpLink struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	queue    string

	frames chan Frame
	closed chan error

	once sync.Once
	done chan struct{}
}

func (l *amqpLink) Subscribe(topic string) error {
	return l.ch.QueueBind(l.queue, topic, l.exchange, false, nil)
}

func (l *amqpLink) Unsubscribe(topic string) error {
	return l.ch.QueueUnbind(l.queue, topic, l.exchange, nil)
}

func (l *amqpLink) Publish(ctx context.Context, topic string, body []byte) error {
	return l.ch.PublishWithContext(ctx, l.exchange, topic, false, false, amqp.Publishing{
		ContentType: "application/json",
		MessageId:   uuid.New().String(),
		Timestamp:   time.Now(),
		Body:        body,
	})
}

func (l *amqpLink) Frames() <-chan Frame {
	return l.frames
}

func (l *amqpLink) Closed() <-chan error {
	return l.closed
}

func (l *amqpLink) Close() error {
	l.once.Do(func() { close(l.done) })
	return l.conn.Close()
}

// watch forwards the broker's close notification.
func (l *amqpLink) watch(notify <-chan *amqp.Error) {
	amqpErr, ok := <-notify
	if ok && amqpErr != nil {
		l.closed <- amqpErr
		return
	}
	l.closed <- nil
}

// pump moves deliveries into the frame channel until the connection dies
// or the link is closed.
func (l *amqpLink) pump(deliveries <-chan amqp.Delivery) {
	defer close(l.frames)
	for d := range deliveries {
		select {
		case l.frames <- Frame{Topic: d.RoutingKey, Body: d.Body}:
		case <-l.done:
			return
		}
	}
}
