package user

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSender_DisplayName(t *testing.T) {
	tests := []struct {
		name   string
		sender Sender
		want   string
	}{
		{"profile name wins", ProfileSender("u1", "Ada", "ada@example.com"), "Ada"},
		{"email local part", ProfileSender("u1", "", "ada@example.com"), "ada"},
		{"email without at", ProfileSender("u1", "", "ada"), "ada"},
		{"id only", IDSender("u1"), "u1"},
		{"empty profile falls back to id", ProfileSender("u1", " ", ""), "u1"},
		{"nothing known", Sender{}, "Unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.sender.DisplayName())
		})
	}
}

func TestSender_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Sender
	}{
		{"bare id", `"u42"`, IDSender("u42")},
		{"object with profile", `{"id":"u42","name":"Grace","email":"grace@example.com"}`, ProfileSender("u42", "Grace", "grace@example.com")},
		{"mongo style id", `{"_id":"abc","email":"x@example.com"}`, ProfileSender("abc", "", "x@example.com")},
		{"username alias", `{"id":"u1","username":"gh"}`, ProfileSender("u1", "gh", "")},
		{"object without profile", `{"id":"u1"}`, IDSender("u1")},
		{"null", `null`, Sender{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got Sender
			require.NoError(t, json.Unmarshal([]byte(tt.in), &got))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSender_UnmarshalJSON_Invalid(t *testing.T) {
	var s Sender
	assert.Error(t, json.Unmarshal([]byte(`[1,2]`), &s))
}

func TestSender_WithID(t *testing.T) {
	s := Sender{}.WithID("u9")
	assert.Equal(t, KindID, s.Kind)
	assert.Equal(t, "u9", s.ID)

	p := ProfileSender("spoofed", "Ada", "").WithID("u1")
	assert.Equal(t, KindProfile, p.Kind)
	assert.Equal(t, "u1", p.ID)
	assert.Equal(t, "Ada", p.DisplayName())
}

func TestUser_Sender(t *testing.T) {
	assert.Equal(t, IDSender("u1"), User{ID: "u1"}.Sender())
	assert.Equal(t, ProfileSender("u1", "Ada", ""), User{ID: "u1", Name: "Ada"}.Sender())
}
