package signal

import (
	"github.com/dkeye/huddle/internal/domain"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handleCreateTransport(dir domain.Direction) handlerFunc {
	return func(s *session, req Request) error {
		params, err := ctl.Orch.CreateTransport(s.ctx, s.p, dir)
		if err != nil {
			return err
		}
		ctl.reply(s, req, ReplyTransportCreated, params)
		return nil
	}
}

func (ctl *SignalWSController) handleConnectTransport(s *session, req Request) error {
	var p connectPayload
	if err := ctl.decode(req, &p); err != nil {
		return err
	}
	if err := ctl.Orch.ConnectTransport(s.ctx, s.p, p.TransportID, p.DTLSParameters, p.ICEParameters); err != nil {
		return err
	}
	ctl.reply(s, req, ReplyTransportConnected, transportConnectedReply{TransportID: p.TransportID})
	return nil
}

func (ctl *SignalWSController) handleProduce(s *session, req Request) error {
	var p producePayload
	if err := ctl.decode(req, &p); err != nil {
		return err
	}
	id, err := ctl.Orch.Produce(s.ctx, s.p, p.Kind, p.RTPParameters)
	if err != nil {
		return err
	}
	ctl.reply(s, req, ReplyProduced, producedReply{ProducerID: id})
	return nil
}

func (ctl *SignalWSController) handleConsume(s *session, req Request) error {
	var p consumePayload
	if err := ctl.decode(req, &p); err != nil {
		return err
	}
	res, err := ctl.Orch.Consume(s.ctx, s.p, p.ProducerID, p.RTPCapabilities, p.TransportID, p.Paused)
	if err != nil {
		return err
	}
	ctl.reply(s, req, ReplyConsumed, res)
	return nil
}

func (ctl *SignalWSController) handlePauseConsumer(s *session, req Request) error {
	var p consumerRefPayload
	if err := ctl.decode(req, &p); err != nil {
		return err
	}
	if err := ctl.Orch.PauseConsumer(s.p, p.ConsumerID); err != nil {
		return err
	}
	ctl.reply(s, req, ReplyConsumerPaused, consumerRefReply{ConsumerID: p.ConsumerID})
	return nil
}

func (ctl *SignalWSController) handleResumeConsumer(s *session, req Request) error {
	var p consumerRefPayload
	if err := ctl.decode(req, &p); err != nil {
		return err
	}
	if err := ctl.Orch.ResumeConsumer(s.p, p.ConsumerID); err != nil {
		return err
	}
	ctl.reply(s, req, ReplyConsumerResumed, consumerRefReply{ConsumerID: p.ConsumerID})
	return nil
}

// handleIceCandidate never replies, not even on a malformed payload.
func (ctl *SignalWSController) handleIceCandidate(s *session, req Request) error {
	var p icePayload
	if err := ctl.decode(req, &p); err != nil {
		log.Debug().Err(err).Str("module", "signal").Str("participant", string(s.p.ID())).Msg("bad candidate payload")
		return nil
	}
	ctl.Orch.IceCandidate(s.p, p.TransportID, p.Candidate)
	return nil
}
