/*
Package user contains the identity types of chat participants.

User is the authenticated identity taken from a bearer token. Sender is how a
message author is described at the service boundary; it is resolved once into a
display name instead of being inspected at every render site.
*/
package user

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// User represents the authenticated identity of a participant.
type User struct {
	// ID is the stable user identifier issued by the auth collaborator.
	ID string `json:"id"`

	// Name is the display name, may be empty.
	Name string `json:"name,omitempty"`

	// Email is the account email, may be empty.
	Email string `json:"email,omitempty"`

	// UserType is the role of the participant (e.g. "student", "admin").
	UserType string `json:"userType,omitempty"`
}

// Sender returns the sender describing u, using its profile when it has one.
func (u User) Sender() Sender {
	if u.Name == "" && u.Email == "" {
		return IDSender(u.ID)
	}
	return ProfileSender(u.ID, u.Name, u.Email)
}

// SenderKind tags the variant held by a Sender.
type SenderKind string

const (
	// KindID is a sender known only by its identifier.
	KindID SenderKind = "id"

	// KindProfile is a sender with a name and/or email.
	KindProfile SenderKind = "profile"
)

// Sender is a tagged union: either an identifier alone (KindID) or an
// identifier with profile fields (KindProfile).
type Sender struct {
	Kind  SenderKind `json:"kind"`
	ID    string     `json:"id,omitempty"`
	Name  string     `json:"name,omitempty"`
	Email string     `json:"email,omitempty"`
}

// IDSender builds a sender known only by id.
func IDSender(id string) Sender {
	return Sender{Kind: KindID, ID: id}
}

// ProfileSender builds a sender carrying profile fields.
func ProfileSender(id, name, email string) Sender {
	return Sender{
		Kind:  KindProfile,
		ID:    id,
		Name:  strings.TrimSpace(name),
		Email: strings.TrimSpace(email),
	}
}

// DisplayName resolves the name shown next to a message:
// profile name, then the local part of the email, then the id.
func (s Sender) DisplayName() string {
	if s.Kind == KindProfile {
		if s.Name != "" {
			return s.Name
		}
		if local, _, ok := strings.Cut(s.Email, "@"); ok && local != "" {
			return local
		}
		if s.Email != "" {
			return s.Email
		}
	}

	if s.ID == "" {
		return "Unknown"
	}
	return s.ID
}

// WithID returns a copy of s whose id is replaced by id. The server uses it to
// pin the sender id to the authenticated identity whatever the client claimed.
func (s Sender) WithID(id string) Sender {
	s.ID = id
	if s.Kind == "" {
		s.Kind = KindID
	}
	return s
}

// UnmarshalJSON accepts the legacy shapes clients send for a sender: a bare
// id string, or an object with id/_id, name and email.
func (s *Sender) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*s = Sender{}
		return nil
	}

	if data[0] == '"' {
		var id string
		if err := json.Unmarshal(data, &id); err != nil {
			return err
		}
		*s = IDSender(id)
		return nil
	}

	var raw struct {
		Kind     SenderKind `json:"kind"`
		ID       string     `json:"id"`
		MongoID  string     `json:"_id"`
		Name     string     `json:"name"`
		Username string     `json:"username"`
		Email    string     `json:"email"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("sender: %w", err)
	}

	id := raw.ID
	if id == "" {
		id = raw.MongoID
	}
	name := raw.Name
	if name == "" {
		name = raw.Username
	}

	if name == "" && raw.Email == "" {
		*s = IDSender(id)
		return nil
	}

	*s = ProfileSender(id, name, raw.Email)
	return nil
}
