// ABOUTME: Tests for the role-dependent display projection.
// ABOUTME: One case per viewer role, for assigned and orphan conversations.

package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cineverse/supportdesk/internal/identity"
)

func TestProjector(t *testing.T) {
	assigned := Conversation{
		ID:             "1",
		CustomerHandle: "carlos",
		AssigneeID:     "s-1",
		AssigneeHandle: "maria",
	}
	orphan := Conversation{
		ID:             "2",
		CustomerHandle: "carlos",
	}

	tests := []struct {
		name        string
		viewer      identity.Identity
		conv        Conversation
		displayName string
		subtitle    string
	}{
		{
			name:        "customer sees assignee",
			viewer:      identity.Identity{ID: "c-1", Role: identity.RoleCustomer},
			conv:        assigned,
			displayName: "maria",
		},
		{
			name:        "customer sees support label when orphan",
			viewer:      identity.Identity{ID: "c-1", Role: identity.RoleCustomer},
			conv:        orphan,
			displayName: SupportLabel,
		},
		{
			name:        "staff sees customer",
			viewer:      identity.Identity{ID: "s-1", Role: identity.RoleStaff},
			conv:        assigned,
			displayName: "carlos",
		},
		{
			name:        "staff sees unassigned marker when orphan",
			viewer:      identity.Identity{ID: "s-1", Role: identity.RoleStaff},
			conv:        orphan,
			displayName: "carlos",
			subtitle:    UnassignedLabel,
		},
		{
			name:        "supervisor sees assignee as subtitle",
			viewer:      identity.Identity{ID: "a-1", Role: identity.RoleSupervisor},
			conv:        assigned,
			displayName: "carlos",
			subtitle:    "maria",
		},
		{
			name:        "supervisor sees unassigned marker when orphan",
			viewer:      identity.Identity{ID: "a-1", Role: identity.RoleSupervisor},
			conv:        orphan,
			displayName: "carlos",
			subtitle:    UnassignedLabel,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := tt.conv
			Projector{Viewer: tt.viewer}.Apply(&c)
			assert.Equal(t, tt.displayName, c.DisplayName)
			assert.Equal(t, tt.subtitle, c.Subtitle)
		})
	}
}
