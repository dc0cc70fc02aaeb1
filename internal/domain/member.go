package domain

import "time"

// Member represents a participant's membership meta for a room.
// No transport or lifecycle logic here.
type Member struct {
	User     *User
	RoomID   RoomID
	JoinedAt time.Time
}

// NewMember avoids raw literals in adapters and keeps construction obvious.
func NewMember(user *User, room RoomID) *Member {
	return &Member{User: user, RoomID: room, JoinedAt: time.Now()}
}
