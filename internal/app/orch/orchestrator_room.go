package orch

import (
	"context"

	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/domain"
	"github.com/rs/zerolog/log"
)

// JoinResult is handed to the caller while the room is still locked, so
// that the capabilities reply and the catch-up producer list reach the
// joiner before any later room event.
type JoinResult struct {
	ParticipantID   domain.ParticipantID
	RoomID          domain.RoomID
	RTPCapabilities domain.RTPCapabilities
	Peers           []core.MemberDTO
	Producers       []core.ProducerInfo
}

func (o *Orchestrator) Join(
	ctx context.Context,
	p *core.Participant,
	roomID domain.RoomID,
	displayName string,
	welcome func(JoinResult),
) error {
	if err := o.Admit(p, OpJoin); err != nil {
		return err
	}
	if err := domain.ValidateRoomID(roomID); err != nil {
		return domain.NewError(string(OpJoin), err)
	}
	user, err := domain.NewUser(p.ID(), displayName)
	if err != nil {
		return domain.NewError(string(OpJoin), err)
	}
	if err := p.SetMember(domain.NewMember(user, roomID)); err != nil {
		return domain.NewError(string(OpJoin), err)
	}

	ctx, cancel := o.opCtx(ctx)
	defer cancel()
	room, err := o.Rooms.Join(ctx, roomID, p, func(room core.RoomService, w core.Welcome) {
		p.Advance(core.StateCapabilitiesSent)
		if welcome != nil {
			welcome(JoinResult{
				ParticipantID:   p.ID(),
				RoomID:          room.ID(),
				RTPCapabilities: w.RTPCapabilities,
				Peers:           w.Peers,
				Producers:       w.Producers,
			})
		}
	})
	if err != nil {
		p.ClearMember()
		return domain.NewError(string(OpJoin), err)
	}
	o.metrics().ParticipantJoined()
	log.Info().Str("module", "orch").Str("participant", string(p.ID())).Str("room", string(roomID)).Str("name", displayName).Msg("joined")

	o.broadcast(room, p.ID(), core.Envelope{
		Type: core.EventParticipantJoined,
		Data: core.ParticipantJoinedEvent{ParticipantID: p.ID(), DisplayName: displayName},
	})
	return nil
}

// Leave closes everything the participant owns, removes it from its room
// and tells the others. It runs once per participant; later calls
// report false and do nothing.
func (o *Orchestrator) Leave(p *core.Participant) bool {
	if !p.MarkLeft() {
		return false
	}
	roomID := p.RoomID()
	if roomID == "" {
		return true
	}
	room, ok := o.Rooms.Get(roomID)
	if !ok {
		return true
	}
	for _, d := range p.DetachAll() {
		o.releaseDetached(room, p, d, "leave")
	}
	if o.Rooms.RemoveParticipant(roomID, p) {
		o.metrics().ParticipantLeft()
	}
	log.Info().Str("module", "orch").Str("participant", string(p.ID())).Str("room", string(roomID)).Msg("left")

	o.broadcast(room, p.ID(), core.Envelope{
		Type: core.EventParticipantLeft,
		Data: core.ParticipantLeftEvent{ParticipantID: p.ID()},
	})
	return true
}

// OnDisconnect is the channel-level counterpart of Leave.
func (o *Orchestrator) OnDisconnect(p *core.Participant) {
	o.Leave(p)
	if o.Sessions != nil {
		o.Sessions.Unbind(p.ID())
	}
}

// EvictRoom disconnects everybody in the room.
func (o *Orchestrator) EvictRoom(id domain.RoomID) bool {
	room, ok := o.Rooms.Get(id)
	if !ok {
		return false
	}
	for _, m := range room.MembersSnapshot() {
		if p, ok := room.Participant(m.ID); ok {
			o.Leave(p)
		}
		if o.Sessions != nil {
			o.Sessions.Cancel(m.ID)
		}
	}
	return true
}
