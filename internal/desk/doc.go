// Package desk is the coordination layer of one support session. A
// Service owns the conversation store, the broker channel, and the
// catalog client for a single identity, and runs the one event loop
// through which every inbound broker event reaches the store.
//
// The loop applies a strict order on reconnect: the channel restores
// topic subscriptions before announcing CONNECTED, and the service
// answers CONNECTED with a full conversation refresh, so no window
// exists where the session looks live but is missing traffic.
//
// Outbound sends are optimistic. The local copy is stored as pending
// before publish, and the broker's echo of our own message is discarded
// on receipt; the catalog history fetched on the next selection is what
// replaces pending copies with confirmed ones.
package desk
