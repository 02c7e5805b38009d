// ABOUTME: Transport abstraction the connection Manager programs against.
// ABOUTME: The AMQP implementation lives in amqp.go; tests inject an in-memory fake.

package channel

import "context"

// TopicPrefix scopes one pub/sub topic per conversation.
const TopicPrefix = "conversation."

// Topic returns the pub/sub topic for a conversation.
func Topic(conversationID string) string {
	return TopicPrefix + conversationID
}

// Frame is one raw inbound frame from the broker.
type Frame struct {
	Topic string
	Body  []byte
}

// Link is one live broker connection. A Link is good until Closed fires;
// afterwards every method fails and the Manager dials a fresh one.
type Link interface {
	// Subscribe registers interest in a topic.
	Subscribe(topic string) error
	// Unsubscribe drops interest in a topic.
	Unsubscribe(topic string) error
	// Publish sends a payload to a topic.
	Publish(ctx context.Context, topic string, body []byte) error
	// Frames delivers inbound frames in broker order per topic. The
	// channel closes when the link dies.
	Frames() <-chan Frame
	// Closed fires once when the link is lost, with the transport error
	// if one is known.
	Closed() <-chan error
	// Close tears the link down. Safe to call more than once.
	Close() error
}

// Transport dials broker links.
type Transport interface {
	Dial(ctx context.Context) (Link, error)
}
