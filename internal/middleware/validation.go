package middleware

import (
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

// MaxTranscriptLength bounds a single utterance.
const MaxTranscriptLength = 4000

// ValidateTranscript checks a user utterance.
func ValidateTranscript(transcript string) error {
	if strings.TrimSpace(transcript) == "" {
		return errors.New("transcript cannot be empty")
	}
	if len(transcript) > MaxTranscriptLength {
		return errors.New("transcript exceeds maximum length")
	}
	if !utf8.ValidString(transcript) {
		return errors.New("transcript must be valid UTF-8")
	}
	return nil
}

// ValidateConversationID checks a conversation id. Empty is allowed and
// means a new conversation.
func ValidateConversationID(id string) error {
	if id == "" {
		return nil
	}
	if _, err := uuid.Parse(id); err != nil {
		return errors.New("invalid conversation ID format")
	}
	return nil
}

// ValidateOptionID checks a selected clarification option id.
func ValidateOptionID(id string) error {
	if len(id) > 64 {
		return errors.New("option ID exceeds maximum length")
	}
	for _, r := range id {
		if !(r == '-' || r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return errors.New("invalid option ID format")
		}
	}
	return nil
}
