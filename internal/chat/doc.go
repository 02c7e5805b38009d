// Package chat holds the internal display model for support conversations
// and the Store that owns it.
//
// # Model
//
// Conversations track the initiating customer, the owning staff member (if
// any), an unread counter, and a lazily loaded message list. Messages carry
// an Origin: optimistic local sends start as LOCAL_PENDING, everything
// observed from the broker or loaded from history is CONFIRMED.
//
// # Store
//
// The Store is the single source of truth for the UI and the only component
// allowed to mutate conversation data. Other components deliver normalized
// events to it (the connection manager) or read copies from it (consumers).
//
// Two properties the Store enforces on every write:
//
//   - assignment is monotonic: a conversation never regresses to orphan
//   - status only moves OPEN -> CLOSED, never back
//
// # Stale history guard
//
// Selecting a conversation returns an epoch token. A history fetch that
// resolves after the user has moved on (new Select, or CloseActive) presents
// a stale epoch and its result is dropped, so a slow fetch can never
// overwrite the conversation the user is actually looking at.
package chat
