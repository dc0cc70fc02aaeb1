package domain

import (
	"fmt"
	"unicode/utf8"
)

const MaxRoomIDLen = 64

var (
	ErrRoomIDEmpty   = fmt.Errorf("%w: room id empty", ErrInvalidRequest)
	ErrRoomIDTooLong = fmt.Errorf("%w: room id too long", ErrInvalidRequest)
)

// RoomID is opaque and chosen by the first participant to reference it.
type RoomID string

func ValidateRoomID(id RoomID) error {
	if id == "" {
		return ErrRoomIDEmpty
	}
	if utf8.RuneCountInString(string(id)) > MaxRoomIDLen {
		return ErrRoomIDTooLong
	}
	return nil
}
