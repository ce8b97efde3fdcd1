/*
Package randx generates identifiers and validates client-supplied keys.

Message, connection and temporary ids are UUID v4 strings; room keys are
human-chosen slugs validated against a fixed alphabet.
*/
package randx

import (
	"strings"

	"github.com/google/uuid"
)

const (
	// RoomKeyMaxLength is the maximum length of a room key.
	RoomKeyMaxLength = 64

	// roomKeyChars is the alphabet allowed after the first character of a room key.
	roomKeyChars = "abcdefghijklmnopqrstuvwxyz0123456789-_"

	// TempIDPrefix marks client-generated temporary message ids.
	TempIDPrefix = "tmp_"
)

// MessageID generates a standard UUID v4 string to serve as a unique identifier for a message.
func MessageID() string {
	return uuid.New().String()
}

// ConnectionID generates the identifier of one real-time connection.
func ConnectionID() string {
	return uuid.New().String()
}

// TempID generates a temporary id for an optimistic message.
func TempID() string {
	return TempIDPrefix + uuid.New().String()
}

// IsValidRoomKey reports whether key is a usable room key: 1 to RoomKeyMaxLength
// characters from [a-z0-9-_], starting with a letter or digit.
func IsValidRoomKey(key string) bool {
	if key == "" || len(key) > RoomKeyMaxLength {
		return false
	}

	for i, char := range key {
		if !strings.ContainsRune(roomKeyChars, char) {
			return false
		}
		if i == 0 && (char == '-' || char == '_') {
			return false
		}
	}

	return true
}

// IsValidMessageID reports whether id has the shape of a server-assigned message id.
func IsValidMessageID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
