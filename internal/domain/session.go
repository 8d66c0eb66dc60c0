package domain

import (
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// Session is the authenticated identity resolved from an access token.
type Session struct {
	AccessToken string
	UserID      string
	Email       string
	Name        string
	AvatarURL   string
	ExpiresAt   time.Time
}

// Profile is what the navbar shows for the signed-in user.
type Profile struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Avatar  string `json:"avatar,omitempty"`
	Initial string `json:"initial"`
}

// ProfileOf derives the navbar profile. Missing names render as "User" with initial "U".
func ProfileOf(s *Session) Profile {
	p := Profile{
		Name:    s.Name,
		Email:   s.Email,
		Avatar:  s.AvatarURL,
		Initial: "U",
	}
	if r, _ := utf8.DecodeRuneInString(strings.TrimSpace(s.Name)); r != utf8.RuneError {
		p.Initial = string(unicode.ToUpper(r))
	}
	if p.Name == "" {
		p.Name = "User"
	}
	return p
}

// NameFromMetadata picks the display name from OAuth user metadata (full_name, then name).
func NameFromMetadata(meta map[string]interface{}) string {
	for _, key := range []string{"full_name", "name"} {
		if v, ok := meta[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// AvatarFromMetadata returns avatar_url from OAuth user metadata, if any.
func AvatarFromMetadata(meta map[string]interface{}) string {
	if v, ok := meta["avatar_url"].(string); ok {
		return v
	}
	return ""
}
