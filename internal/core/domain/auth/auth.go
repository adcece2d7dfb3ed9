package auth

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type Role string

const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

func (r Role) IsValid() bool {
	switch r {
	case RoleAdmin, RoleMember:
		return true
	default:
		return false
	}
}

// Principal is the caller on whose behalf a service call runs. It is always
// passed explicitly; the zero value is the anonymous principal.
type Principal struct {
	UserID uuid.UUID `json:"user_id"`
	Role   Role      `json:"role"`
}

// Anonymous returns the principal used for unauthenticated requests.
func Anonymous() Principal {
	return Principal{}
}

func (p Principal) IsAnonymous() bool {
	return p.UserID == uuid.Nil
}

func (p Principal) IsAdmin() bool {
	return !p.IsAnonymous() && p.Role == RoleAdmin
}

// Owns reports whether the principal created the resource owned by creatorID.
func (p Principal) Owns(creatorID uuid.UUID) bool {
	return !p.IsAnonymous() && p.UserID == creatorID
}

// Claims represents the JWT claims accepted from the token issuer
type Claims struct {
	UserID uuid.UUID `json:"user_id"`
	Role   Role      `json:"role"`

	jwt.RegisteredClaims
}

// Principal converts verified claims into a principal.
func (c *Claims) Principal() Principal {
	role := c.Role
	if !role.IsValid() {
		role = RoleMember
	}
	return Principal{UserID: c.UserID, Role: role}
}
