package signal

import (
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

type handlerFunc func(s *session, req Request) error

func (ctl *SignalWSController) routes() map[string]handlerFunc {
	return map[string]handlerFunc{
		MsgJoinRoom:                ctl.handleJoin,
		MsgLeaveRoom:               ctl.handleLeave,
		MsgCreateProducerTransport: ctl.handleCreateTransport(domain.DirectionSend),
		MsgCreateConsumerTransport: ctl.handleCreateTransport(domain.DirectionRecv),
		MsgConnectTransport:        ctl.handleConnectTransport,
		MsgProduce:                 ctl.handleProduce,
		MsgConsume:                 ctl.handleConsume,
		MsgPauseConsumer:           ctl.handlePauseConsumer,
		MsgResumeConsumer:          ctl.handleResumeConsumer,
		MsgIceCandidate:            ctl.handleIceCandidate,
		MsgPing:                    ctl.handlePing,
		MsgWhoAmI:                  ctl.handleWhoAmI,
	}
}

func (ctl *SignalWSController) writePump(s *session) {
	ticker := time.NewTicker(ctl.opts.PingPeriod)
	defer ticker.Stop()
	c := s.conn
	for {
		select {
		case <-s.ctx.Done():
			log.Debug().Str("module", "signal").Msg("writePump ctx done")
			return
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.opts.WriteWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug().Err(err).Str("module", "signal").Msg("writePump ping")
				return
			}
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.opts.WriteWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(c.codec.FrameType(), data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

// readPump owns the session: it handles messages one at a time and runs
// the disconnect path exactly once when the connection goes away.
func (ctl *SignalWSController) readPump(s *session) {
	ws := s.conn.conn
	defer func() {
		log.Info().Str("module", "signal").Str("participant", string(s.p.ID())).Msg("readPump closing")
		ctl.Orch.OnDisconnect(s.p)
		s.conn.Close()
		s.cancel()
		ctl.Metrics.ClientDisconnected()
	}()

	// A cancelled session must unblock ReadMessage.
	go func() {
		<-s.ctx.Done()
		s.conn.Close()
	}()

	pongWait := ctl.opts.PingPeriod * 10 / 9
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		select {
		case <-s.ctx.Done():
			log.Info().Str("module", "signal").Str("participant", string(s.p.ID())).Msg("readPump ctx done")
			return
		default:
			_, data, err := ws.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Warn().Err(err).Str("module", "signal").Str("participant", string(s.p.ID())).Msg("readPump read error")
				}
				return
			}
			_ = ws.SetReadDeadline(time.Now().Add(pongWait))
			ctl.handleSignal(s, data)
		}
	}
}

func (ctl *SignalWSController) handleSignal(s *session, data []byte) {
	req, err := s.conn.codec.Decode(data)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("participant", string(s.p.ID())).Msg("bad frame")
		ctl.replyError(s, req, err)
		return
	}
	ctl.Metrics.SignalingMessageReceived(req.Type, len(data))

	h, ok := ctl.handlers[req.Type]
	if !ok {
		log.Warn().Str("module", "signal").Str("type", req.Type).Msg("unknown signal")
		ctl.replyError(s, req, fmt.Errorf("%w: unknown message type %q", domain.ErrInvalidRequest, req.Type))
		return
	}
	if err := h(s, req); err != nil {
		ctl.replyError(s, req, err)
	}
}

// decode reads and validates the payload of req.
func (ctl *SignalWSController) decode(req Request, v any) error {
	if err := req.DecodePayload(v); err != nil {
		return domain.NewError(req.Type, err)
	}
	if err := ctl.validate.Struct(v); err != nil {
		return domain.NewError(req.Type, fmt.Errorf("%w: %w", domain.ErrInvalidRequest, err))
	}
	return nil
}

func (ctl *SignalWSController) reply(s *session, req Request, typ string, data any) {
	err := s.conn.Send(core.Envelope{Type: typ, ID: req.ID, Data: data})
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("participant", string(s.p.ID())).Str("type", typ).Msg("reply dropped")
	}
}

func (ctl *SignalWSController) replyError(s *session, req Request, err error) {
	body := errorBody{Code: domain.CodeOf(err), Message: err.Error()}
	var se *domain.SignalError
	if errors.As(err, &se) {
		body.TransportID = se.TransportID
	}
	ctl.Metrics.SignalingMessageError(req.Type, string(body.Code))
	if body.Code == domain.CodeInternal {
		log.Error().Err(err).Str("module", "signal").Str("participant", string(s.p.ID())).Str("type", req.Type).Msg("request failed")
	} else {
		log.Debug().Err(err).Str("module", "signal").Str("participant", string(s.p.ID())).Str("type", req.Type).Msg("request rejected")
	}
	if sendErr := s.conn.Send(errorReply{Type: ReplyError, ID: req.ID, Error: body}); sendErr != nil {
		log.Warn().Err(sendErr).Str("module", "signal").Str("participant", string(s.p.ID())).Msg("error reply dropped")
	}
}
