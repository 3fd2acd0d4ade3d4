package domain

import (
	"regexp"
	"strings"
)

const (
	MinRoomNameLen = 1
	MaxRoomNameLen = 20
	MinUsernameLen = 1
	MaxUsernameLen = 16
)

var validName = regexp.MustCompile(`^[A-Za-z0-9_\- ]+$`)

// ValidateRoomName checks a room name before any room is created.
func ValidateRoomName(name string) error {
	return validateName("name", name, MinRoomNameLen, MaxRoomNameLen)
}

// ValidateUsername checks a display name before a membership is reserved.
func ValidateUsername(username string) error {
	return validateName("username", username, MinUsernameLen, MaxUsernameLen)
}

func validateName(field, value string, minLen, maxLen int) error {
	if value != strings.TrimSpace(value) {
		return Inputf("value of %q is not trimmed", field)
	}
	if len(value) < minLen || len(value) > maxLen {
		return Inputf("value of %q has length %d, expected between %d and %d", field, len(value), minLen, maxLen)
	}
	if !validName.MatchString(value) {
		return Inputf("value of %q contains disallowed characters", field)
	}
	return nil
}
