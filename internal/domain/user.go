// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	MaxParticipantIDLen = 64
	MaxDisplayNameLen   = 36
)

var (
	ErrDisplayNameTooLong = fmt.Errorf("%w: display name too long", ErrInvalidRequest)
	ErrDisplayNameEmpty   = fmt.Errorf("%w: display name empty", ErrInvalidRequest)
	ErrParticipantIDEmpty = errors.New("participant id empty")
)

// ParticipantID is tied to one signaling channel instance.
type ParticipantID string

func NewParticipantID() ParticipantID {
	return ParticipantID(uuid.NewString())
}

type User struct {
	ID          ParticipantID `json:"id"`
	DisplayName string        `json:"displayName"`
}

// NewUser is a tiny helper to avoid ad-hoc struct literals in adapters.
func NewUser(id ParticipantID, displayName string) (*User, error) {
	if id == "" {
		return nil, ErrParticipantIDEmpty
	}
	if err := ValidateDisplayName(displayName); err != nil {
		return nil, err
	}
	return &User{ID: id, DisplayName: displayName}, nil
}

func ValidateDisplayName(name string) error {
	if len(name) == 0 {
		return ErrDisplayNameEmpty
	}
	if utf8.RuneCountInString(name) > MaxDisplayNameLen {
		return ErrDisplayNameTooLong
	}
	return nil
}
