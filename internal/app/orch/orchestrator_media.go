package orch

import (
	"context"
	"errors"

	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/domain"
	"github.com/rs/zerolog/log"
)

// ConsumeResult is what a browser needs to attach the incoming track.
type ConsumeResult struct {
	ID            domain.ConsumerID    `json:"id"`
	ProducerID    domain.ProducerID    `json:"producerId"`
	Kind          domain.MediaKind     `json:"kind"`
	RTPParameters domain.RTPParameters `json:"rtpParameters"`
	Paused        bool                 `json:"paused"`
}

func opFor(dir domain.Direction) Op {
	if dir == domain.DirectionSend {
		return OpCreateProducerTransport
	}
	return OpCreateConsumerTransport
}

// CreateTransport creates the participant's single transport for dir.
func (o *Orchestrator) CreateTransport(ctx context.Context, p *core.Participant, dir domain.Direction) (domain.TransportParams, error) {
	op := string(opFor(dir))
	if err := o.Admit(p, opFor(dir)); err != nil {
		return domain.TransportParams{}, err
	}
	room, err := o.roomOf(p)
	if err != nil {
		return domain.TransportParams{}, domain.NewError(op, err)
	}
	if err := p.ReserveTransport(dir); err != nil {
		var se *domain.SignalError
		if errors.As(err, &se) {
			se.Op = op
			return domain.TransportParams{}, se
		}
		return domain.TransportParams{}, domain.NewError(op, err)
	}

	ctx, cancel := o.opCtx(ctx)
	defer cancel()
	t, err := room.Router().CreateTransport(ctx, dir)
	if err != nil {
		p.ReleaseReservation(dir)
		return domain.TransportParams{}, domain.NewError(op, domain.EngineError(err))
	}
	if err := ctx.Err(); err != nil {
		t.Close()
		p.ReleaseReservation(dir)
		return domain.TransportParams{}, domain.NewError(op, domain.EngineError(err))
	}
	if err := p.AttachTransport(t); err != nil {
		t.Close()
		return domain.TransportParams{}, domain.NewError(op, err)
	}
	room.TrackTransport(t, p.ID())
	o.watchTransport(room, p, t)
	p.ArmReaper(t.ID(), o.ConnectTimeout, func() { o.reap(room, p, t.ID()) })
	o.metrics().TransportCreated(string(dir))

	log.Info().Str("module", "orch").Str("participant", string(p.ID())).Str("transport", string(t.ID())).Str("direction", string(dir)).Msg("transport created")
	return t.Params(), nil
}

// ConnectTransport completes the handshake on one of the caller's own
// transports. Identifiers of other participants' transports are unknown
// here by construction.
func (o *Orchestrator) ConnectTransport(
	ctx context.Context,
	p *core.Participant,
	id domain.TransportID,
	dtls domain.DTLSParameters,
	ice *domain.ICEParameters,
) error {
	op := string(OpConnectTransport)
	if err := o.Admit(p, OpConnectTransport); err != nil {
		return err
	}
	room, err := o.roomOf(p)
	if err != nil {
		return domain.NewError(op, err)
	}
	t, ok := p.Transport(id)
	if !ok {
		return domain.NewTransportError(op, id, domain.ErrTransportNotFound)
	}
	if p.IsConnected(id) {
		return domain.NewTransportError(op, id, domain.ErrAlreadyConnected)
	}
	if len(dtls.Fingerprints) == 0 {
		return domain.NewTransportError(op, id, errors.Join(domain.ErrInvalidRequest, errors.New("dtlsParameters without fingerprints")))
	}

	ctx, cancel := o.opCtx(ctx)
	defer cancel()
	if err := t.Connect(ctx, dtls, ice); err != nil {
		switch {
		case errors.Is(err, domain.ErrAlreadyConnected):
			p.MarkConnected(id)
			return domain.NewTransportError(op, id, err)
		case errors.Is(err, domain.ErrInvalidRequest):
			// Rejected before the handshake started; the transport is
			// still usable with corrected parameters.
			return domain.NewTransportError(op, id, err)
		}
		// A half-negotiated transport is useless; the client starts over
		// with a fresh createTransport.
		if d, ok := p.DetachTransport(id); ok {
			o.releaseDetached(room, p, d, "connect_failed")
		}
		return domain.NewTransportError(op, id, domain.EngineError(err))
	}
	if !p.MarkConnected(id) {
		// Reaped or closed while the handshake was running.
		return domain.NewTransportError(op, id, domain.ErrTransportNotFound)
	}
	log.Info().Str("module", "orch").Str("participant", string(p.ID())).Str("transport", string(id)).Msg("transport connected")
	return nil
}

// Produce publishes a track and announces it to the rest of the room.
func (o *Orchestrator) Produce(ctx context.Context, p *core.Participant, kind domain.MediaKind, params domain.RTPParameters) (domain.ProducerID, error) {
	op := string(OpProduce)
	if err := o.Admit(p, OpProduce); err != nil {
		return "", err
	}
	if _, err := domain.ParseMediaKind(string(kind)); err != nil {
		return "", domain.NewError(op, err)
	}
	if err := params.Validate(); err != nil {
		return "", domain.NewError(op, err)
	}
	room, err := o.roomOf(p)
	if err != nil {
		return "", domain.NewError(op, err)
	}
	t, connected, ok := p.TransportFor(domain.DirectionSend)
	if !ok || !connected {
		return "", domain.NewError(op, domain.ErrTransportNotReady)
	}
	if p.HasProducer(kind) {
		return "", domain.NewError(op, domain.ErrAlreadyProducing)
	}

	ctx, cancel := o.opCtx(ctx)
	defer cancel()
	pr, err := t.Produce(ctx, kind, params)
	if err != nil {
		return "", domain.NewTransportError(op, t.ID(), domain.EngineError(err))
	}
	if err := ctx.Err(); err != nil {
		pr.Close()
		return "", domain.NewError(op, domain.EngineError(err))
	}
	// The send transport may have failed while the engine was busy.
	if err := p.AddProducer(t.ID(), pr); err != nil {
		pr.Close()
		return "", domain.NewTransportError(op, t.ID(), err)
	}
	o.metrics().ProducerCreated(string(kind))
	p.Advance(core.StateProducing)

	res, err := room.AddProducer(p.ID(), pr, core.Envelope{
		Type: core.EventNewProducer,
		Data: core.NewProducerEvent{ProducerID: pr.ID(), ParticipantID: p.ID(), Kind: pr.Kind()},
	})
	if err != nil {
		if _, ok := p.RemoveProducer(pr.ID()); ok {
			o.closeProducer(room, pr)
		}
		return "", domain.NewError(op, err)
	}
	if !p.OwnsProducer(pr.ID()) {
		// Detached between the two registrations: the transport cleanup
		// closed pr but could not see the room entry yet.
		o.retractProducer(room, pr.ID())
		return "", domain.NewTransportError(op, t.ID(), domain.ErrTransportNotFound)
	}
	o.handleDropped(room, core.EventNewProducer, res)
	p.Advance(core.StateActive)

	log.Info().Str("module", "orch").Str("participant", string(p.ID())).Str("producer", string(pr.ID())).Str("kind", string(kind)).Int("announced_to", res.SendTo).Msg("producing")
	return pr.ID(), nil
}

// Consume binds a consumer for a remote producer on the caller's consumer
// transport. A producer that went away yields domain.ErrProducerNotFound,
// which clients treat as "skip this peer".
func (o *Orchestrator) Consume(
	ctx context.Context,
	p *core.Participant,
	producerID domain.ProducerID,
	caps domain.RTPCapabilities,
	transportID domain.TransportID,
	paused bool,
) (ConsumeResult, error) {
	op := string(OpConsume)
	if err := o.Admit(p, OpConsume); err != nil {
		return ConsumeResult{}, err
	}
	if len(caps.Codecs) == 0 {
		return ConsumeResult{}, domain.NewError(op, errors.Join(domain.ErrInvalidRequest, errors.New("rtpCapabilities without codecs")))
	}
	room, err := o.roomOf(p)
	if err != nil {
		return ConsumeResult{}, domain.NewError(op, err)
	}
	entry, ok := room.Producer(producerID)
	if !ok {
		return ConsumeResult{}, domain.NewError(op, domain.ErrProducerNotFound)
	}
	if entry.Owner == p.ID() {
		return ConsumeResult{}, domain.NewError(op, domain.ErrConsumeOwnProducer)
	}
	if _, ok := p.ConsumerOf(producerID); ok {
		return ConsumeResult{}, domain.NewError(op, domain.ErrAlreadyConsuming)
	}
	t, _, ok := p.TransportFor(domain.DirectionRecv)
	if !ok || (transportID != "" && transportID != t.ID()) {
		return ConsumeResult{}, domain.NewTransportError(op, transportID, domain.ErrTransportNotFound)
	}

	ctx, cancel := o.opCtx(ctx)
	defer cancel()
	c, err := t.Consume(ctx, producerID, caps, paused)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrInvalidRequest):
		return ConsumeResult{}, domain.NewTransportError(op, t.ID(), err)
	default:
		return ConsumeResult{}, domain.NewTransportError(op, t.ID(), domain.EngineError(err))
	}
	if err := ctx.Err(); err != nil {
		c.Close()
		return ConsumeResult{}, domain.NewError(op, domain.EngineError(err))
	}
	if err := p.AddConsumer(t.ID(), c); err != nil {
		c.Close()
		return ConsumeResult{}, domain.NewTransportError(op, t.ID(), err)
	}
	if err := room.AddConsumer(producerID, p.ID(), c.ID()); err != nil {
		p.RemoveConsumer(c.ID())
		c.Close()
		return ConsumeResult{}, domain.NewError(op, err)
	}
	if _, ok := p.Consumer(c.ID()); !ok {
		room.RemoveConsumer(producerID, c.ID())
		return ConsumeResult{}, domain.NewTransportError(op, t.ID(), domain.ErrTransportNotFound)
	}
	o.metrics().ConsumerCreated(string(c.Kind()))

	log.Info().Str("module", "orch").Str("participant", string(p.ID())).Str("consumer", string(c.ID())).Str("producer", string(producerID)).Msg("consuming")
	return ConsumeResult{
		ID:            c.ID(),
		ProducerID:    producerID,
		Kind:          c.Kind(),
		RTPParameters: c.RTPParameters(),
		Paused:        c.Paused(),
	}, nil
}

// PauseConsumer stops forwarding media to one of the caller's consumers.
func (o *Orchestrator) PauseConsumer(p *core.Participant, id domain.ConsumerID) error {
	c, err := o.ownConsumer(p, OpPauseConsumer, id)
	if err != nil {
		return err
	}
	c.Pause()
	return nil
}

// ResumeConsumer restarts forwarding. Resuming a consumer that is not
// paused is an acknowledged no-op.
func (o *Orchestrator) ResumeConsumer(p *core.Participant, id domain.ConsumerID) error {
	c, err := o.ownConsumer(p, OpResumeConsumer, id)
	if err != nil {
		return err
	}
	c.Resume()
	return nil
}

func (o *Orchestrator) ownConsumer(p *core.Participant, op Op, id domain.ConsumerID) (core.Consumer, error) {
	if err := o.Admit(p, op); err != nil {
		return nil, err
	}
	c, ok := p.Consumer(id)
	if !ok {
		return nil, domain.NewError(string(op), domain.ErrConsumerNotFound)
	}
	return c, nil
}

// IceCandidate forwards a late candidate. Candidates for transports that
// are gone are dropped.
func (o *Orchestrator) IceCandidate(p *core.Participant, id domain.TransportID, cand domain.ICECandidate) {
	if o.Admit(p, OpIceCandidate) != nil {
		return
	}
	t, ok := p.Transport(id)
	if !ok {
		log.Debug().Str("module", "orch").Str("participant", string(p.ID())).Str("transport", string(id)).Msg("candidate for unknown transport dropped")
		return
	}
	if err := t.AddICECandidate(cand); err != nil {
		log.Debug().Err(err).Str("module", "orch").Str("participant", string(p.ID())).Str("transport", string(id)).Msg("candidate dropped")
	}
}
