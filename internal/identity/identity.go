// ABOUTME: Session identity for the support-desk subsystem, derived from the session token.
// ABOUTME: Carries the viewer's id, handle, and role; drives display projection and capabilities.

package identity

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Role is the viewer's role as asserted by the identity provider.
type Role string

const (
	RoleCustomer   Role = "customer"
	RoleStaff      Role = "staff"
	RoleSupervisor Role = "supervisor"
)

// ErrInvalidToken is returned when the session token cannot be parsed
// or is missing required claims.
var ErrInvalidToken = errors.New("invalid session token")

// Identity is the current session's principal.
type Identity struct {
	ID     string
	Handle string
	Role   Role
}

// IsStaff reports whether the identity holds the staff capability
// (supervisors are staff too).
func (i Identity) IsStaff() bool {
	return i.Role == RoleStaff || i.Role == RoleSupervisor
}

// IsSupervisor reports whether the identity holds the supervisor role.
func (i Identity) IsSupervisor() bool {
	return i.Role == RoleSupervisor
}

// FromToken extracts the session identity from a JWT issued by the
// identity provider. The token is parsed without signature verification:
// verification is the collaborator's responsibility, this subsystem only
// needs the claims to attribute authorship and compute projections.
func FromToken(token string) (Identity, error) {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return Identity{}, fmt.Errorf("%w: missing subject claim", ErrInvalidToken)
	}

	handle, _ := claims["handle"].(string)
	if handle == "" {
		// Older tokens carry the handle under "username".
		handle, _ = claims["username"].(string)
	}
	if handle == "" {
		return Identity{}, fmt.Errorf("%w: missing handle claim", ErrInvalidToken)
	}

	role, _ := claims["role"].(string)
	switch Role(role) {
	case RoleCustomer, RoleStaff, RoleSupervisor:
	default:
		return Identity{}, fmt.Errorf("%w: unknown role %q", ErrInvalidToken, role)
	}

	return Identity{ID: sub, Handle: handle, Role: Role(role)}, nil
}
