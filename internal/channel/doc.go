// Package channel owns the persistent broker connection for one identity
// session.
//
// The Manager wraps a Transport (RabbitMQ in production, fakes in tests)
// and presents two signals to dependents: connection-state transitions and
// a stream of normalized inbound events. Everything transport-flavored is
// recoverable by construction — a lost link means DISCONNECTED plus a
// redial on a fixed interval, never an error return.
//
// Subscriptions are keyed by conversation id, at most one live handle per
// id, and they do not survive a disconnect: on every CONNECTED transition
// the Manager re-subscribes to every conversation the Store knows via the
// Roster callback.
package channel
