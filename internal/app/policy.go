package app

import "github.com/dkeye/huddle/internal/core"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	MarkSlow
	KickMember
	DropFrame
)

func (a BackpressureAction) String() string {
	switch a {
	case MarkSlow:
		return "mark_slow"
	case KickMember:
		return "kick"
	case DropFrame:
		return "drop"
	}
	return "none"
}

// Policy decides what happens to a participant whose signal queue is full
// when a room event is fanned out.
type Policy interface {
	OnBackPressure(room core.RoomService, p *core.Participant) BackpressureAction
}

// SimplePolicy disconnects anyone who cannot keep up; a client that
// missed a newProducer or participantLeft event has a stale room view.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(room core.RoomService, p *core.Participant) BackpressureAction {
	return KickMember
}

// TolerantPolicy only drops the event.
type TolerantPolicy struct{}

func (TolerantPolicy) OnBackPressure(room core.RoomService, p *core.Participant) BackpressureAction {
	return DropFrame
}
