package signal

import (
	"fmt"

	"github.com/dkeye/huddle/internal/app/orch"
	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/domain"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handleJoin(s *session, req Request) error {
	var p joinPayload
	if err := ctl.decode(req, &p); err != nil {
		return err
	}
	if !ctl.limiter.Allow(s.rateKey()) {
		log.Warn().Str("module", "signal").Str("participant", string(s.p.ID())).Msg("join rate limited")
		return domain.NewError(req.Type, fmt.Errorf("%w: too many joins, slow down", domain.ErrInvalidRequest))
	}

	log.Info().Str("module", "signal").Str("participant", string(s.p.ID())).Str("room", p.RoomID).Msg("join")
	// The welcome runs under the room lock: the capabilities reply and the
	// catch-up producers are queued before any later room event.
	return ctl.Orch.Join(s.ctx, s.p, domain.RoomID(p.RoomID), p.Username, func(res orch.JoinResult) {
		ctl.reply(s, req, core.EventRouterRtpCapabilities, capabilitiesReply{
			ParticipantID:   res.ParticipantID,
			RoomID:          res.RoomID,
			RTPCapabilities: res.RTPCapabilities,
			Peers:           res.Peers,
		})
		for _, pr := range res.Producers {
			ctl.reply(s, Request{}, core.EventNewProducer, core.NewProducerEvent{
				ProducerID:    pr.ID,
				ParticipantID: pr.Owner,
				Kind:          pr.Kind,
			})
		}
	})
}

// handleLeave leaves the room but keeps the connection; the connection
// continues as a fresh participant that may join again.
func (ctl *SignalWSController) handleLeave(s *session, req Request) error {
	var p leavePayload
	if err := ctl.decode(req, &p); err != nil {
		return err
	}
	if err := ctl.Orch.Admit(s.p, orch.OpLeave); err != nil {
		return err
	}
	old := s.p
	log.Info().Str("module", "signal").Str("participant", string(old.ID())).Msg("leave")
	ctl.Orch.OnDisconnect(old)
	ctl.bindParticipant(s)
	ctl.reply(s, req, ReplyLeft, whoAmIReply{ParticipantID: s.p.ID(), State: s.p.State().String()})
	return nil
}

func (s *session) rateKey() string {
	if s.token != "" {
		return s.token
	}
	return string(s.p.ID())
}
