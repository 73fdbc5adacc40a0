// Package validate checks and sanitizes client supplied identifiers and text
// before any relay state is touched.
package validate

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/adwski/webrtc-meshrelay/backend/model"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
)

const (
	MaxRoomIDLen      = 50
	MaxDisplayNameLen = 50
	MaxChatTextLen    = 500
)

var strict = bluemonday.StrictPolicy()

// RoomID accepts alphanumeric ids or UUIDs no longer than MaxRoomIDLen.
func RoomID(roomID string) error {
	if roomID == "" || len(roomID) > MaxRoomIDLen {
		return fmt.Errorf("%w: room id must be 1-%d characters", model.ErrValidation, MaxRoomIDLen)
	}
	if _, err := uuid.Parse(roomID); err == nil && len(roomID) == 36 {
		return nil
	}
	for _, r := range roomID {
		if r > unicode.MaxASCII || !(unicode.IsLetter(r) || unicode.IsDigit(r)) {
			return fmt.Errorf("%w: room id must be alphanumeric or uuid", model.ErrValidation)
		}
	}
	return nil
}

// DisplayName returns the sanitized name.
func DisplayName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if n := utf8.RuneCountInString(name); n < 1 || n > MaxDisplayNameLen {
		return "", fmt.Errorf("%w: display name must be 1-%d characters", model.ErrValidation, MaxDisplayNameLen)
	}
	clean := Sanitize(name)
	if strings.TrimSpace(clean) == "" {
		return "", fmt.Errorf("%w: display name is empty after sanitizing", model.ErrValidation)
	}
	return clean, nil
}

// ChatText returns the sanitized chat text.
func ChatText(text string) (string, error) {
	if n := utf8.RuneCountInString(text); n < 1 || n > MaxChatTextLen {
		return "", fmt.Errorf("%w: message must be 1-%d characters", model.ErrValidation, MaxChatTextLen)
	}
	clean := Sanitize(text)
	if strings.TrimSpace(clean) == "" {
		return "", fmt.Errorf("%w: message is empty after sanitizing", model.ErrValidation)
	}
	return clean, nil
}

// Target accepts only known media targets.
func Target(target string) error {
	if target != model.TargetVideo && target != model.TargetAudio {
		return fmt.Errorf("%w: unknown media target %q", model.ErrValidation, target)
	}
	return nil
}

// Sanitize strips markup and escapes what is left.
func Sanitize(s string) string {
	return strict.Sanitize(s)
}
