package validate

import (
	"errors"
	"strings"
	"testing"

	"github.com/adwski/webrtc-meshrelay/backend/model"
)

func TestRoomID(t *testing.T) {
	tests := []struct {
		name    string
		roomID  string
		wantErr bool
	}{
		{name: "alphanumeric", roomID: "room42"},
		{name: "uuid", roomID: "3f1c2a4e-8b7d-4c2a-9e1f-0a2b3c4d5e6f"},
		{name: "empty", roomID: "", wantErr: true},
		{name: "too long", roomID: strings.Repeat("a", MaxRoomIDLen+1), wantErr: true},
		{name: "dash but not uuid", roomID: "my-room", wantErr: true},
		{name: "markup", roomID: "<b>room</b>", wantErr: true},
		{name: "non ascii", roomID: "комната", wantErr: true},
		{name: "urn uuid", roomID: "urn:uuid:3f1c2a4e-8b7d-4c2a-9e1f-0a2b3c4d5e6f", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := RoomID(tt.roomID)
			if tt.wantErr {
				if !errors.Is(err, model.ErrValidation) {
					t.Errorf("expected validation error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestDisplayName(t *testing.T) {
	name, err := DisplayName("  alice ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if name != "alice" {
		t.Errorf("expected trimmed name, got %q", name)
	}

	name, err = DisplayName("<b>bob</b>")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(name, "<") {
		t.Errorf("markup survived sanitizing: %q", name)
	}

	if _, err = DisplayName(""); !errors.Is(err, model.ErrValidation) {
		t.Errorf("expected validation error for empty name, got %v", err)
	}
	if _, err = DisplayName(strings.Repeat("x", MaxDisplayNameLen+1)); !errors.Is(err, model.ErrValidation) {
		t.Errorf("expected validation error for long name, got %v", err)
	}
	if _, err = DisplayName(strings.Repeat("я", MaxDisplayNameLen)); err != nil {
		t.Errorf("multibyte name within limit rejected: %v", err)
	}
}

func TestChatText(t *testing.T) {
	if _, err := ChatText(""); !errors.Is(err, model.ErrValidation) {
		t.Errorf("expected validation error for empty text, got %v", err)
	}
	if _, err := ChatText(strings.Repeat("x", MaxChatTextLen+1)); !errors.Is(err, model.ErrValidation) {
		t.Errorf("expected validation error for long text, got %v", err)
	}
	text, err := ChatText(`hi <img src=x onerror="alert(1)">there`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(text, "<img") || strings.Contains(text, "onerror") {
		t.Errorf("markup survived sanitizing: %q", text)
	}
}

func TestTarget(t *testing.T) {
	if err := Target(model.TargetVideo); err != nil {
		t.Errorf("video rejected: %v", err)
	}
	if err := Target(model.TargetAudio); err != nil {
		t.Errorf("audio rejected: %v", err)
	}
	if err := Target("screen"); !errors.Is(err, model.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}
