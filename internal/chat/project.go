// ABOUTME: Role-dependent display projection for conversations.
// ABOUTME: Recomputed on every list load so assignment changes show up immediately.

package chat

import "github.com/cineverse/supportdesk/internal/identity"

const (
	// SupportLabel is what a customer sees while nobody has claimed
	// their conversation.
	SupportLabel = "CineVerse Support"
	// UnassignedLabel marks orphan conversations for staff viewers.
	UnassignedLabel = "Unassigned"
)

// Projector derives the viewer-facing name and subtitle of a conversation.
type Projector struct {
	Viewer identity.Identity
}

// Apply sets DisplayName and Subtitle on c according to the viewer's role:
//
//   - customer: the assignee's handle, or a generic support label when orphan
//   - supervisor: customer handle primary, assignee handle (or an explicit
//     unassigned marker) as subtitle
//   - staff: customer handle primary, unassigned marker as subtitle when orphan
func (p Projector) Apply(c *Conversation) {
	switch {
	case p.Viewer.IsSupervisor():
		c.DisplayName = c.CustomerHandle
		if c.Orphan() {
			c.Subtitle = UnassignedLabel
		} else {
			c.Subtitle = c.AssigneeHandle
		}
	case p.Viewer.IsStaff():
		c.DisplayName = c.CustomerHandle
		if c.Orphan() {
			c.Subtitle = UnassignedLabel
		} else {
			c.Subtitle = ""
		}
	default:
		if c.Orphan() {
			c.DisplayName = SupportLabel
		} else {
			c.DisplayName = c.AssigneeHandle
		}
		c.Subtitle = ""
	}
}
