package jwt

import (
	"github.com/golang-jwt/jwt"

	"studysphere/internal/app/user"
)

// Payload defines the JWT claims issued by the auth collaborator.
// Only the identity fields the chat layer needs are read; anything else in the
// token is ignored.
type Payload struct {
	jwt.StandardClaims

	// ID is the stable user identifier; it becomes the sender id of messages.
	ID string `json:"id"`

	// Name is the display name at issuance time.
	Name string `json:"name,omitempty"`

	// Email is the account email, used as a display-name fallback.
	Email string `json:"email,omitempty"`

	// UserType is the role of the holder (e.g. "student", "admin").
	UserType string `json:"user_type,omitempty"`
}

// User converts the claims into the chat layer's identity.
func (p *Payload) User() user.User {
	return user.User{
		ID:       p.ID,
		Name:     p.Name,
		Email:    p.Email,
		UserType: p.UserType,
	}
}
