package orch

import (
	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/domain"
	"github.com/rs/zerolog/log"
)

func (o *Orchestrator) watchTransport(room core.RoomService, p *core.Participant, t core.Transport) {
	id := t.ID()
	t.OnStateChange(func(s domain.TransportState) {
		if !s.Terminal() {
			return
		}
		d, ok := p.DetachTransport(id)
		if !ok {
			return
		}
		log.Info().Str("module", "orch").Str("participant", string(p.ID())).Str("transport", string(id)).Str("state", string(s)).Msg("transport went away")
		o.releaseDetached(room, p, d, string(s))
	})
}

func (o *Orchestrator) reap(room core.RoomService, p *core.Participant, id domain.TransportID) {
	if p.IsConnected(id) {
		return
	}
	d, ok := p.DetachTransport(id)
	if !ok {
		return
	}
	log.Warn().Str("module", "orch").Str("participant", string(p.ID())).Str("transport", string(id)).Dur("timeout", o.ConnectTimeout).Msg("transport never connected, reaping")
	o.releaseDetached(room, p, d, "timeout")
}

// releaseDetached closes a transport that already left its owner and
// cascades to its producers and consumers.
func (o *Orchestrator) releaseDetached(room core.RoomService, owner *core.Participant, d core.Detached, reason string) {
	room.UntrackTransport(d.Transport.ID())
	for _, pr := range d.Producers {
		o.closeProducer(room, pr)
	}
	for _, c := range d.Consumers {
		room.RemoveConsumer(c.ProducerID(), c.ID())
		c.Close()
	}
	d.Transport.Close()
	o.metrics().TransportClosed(string(d.Transport.Direction()), reason)
}

// closeProducer closes pr and every consumer depending on it, telling
// their owners.
func (o *Orchestrator) closeProducer(room core.RoomService, pr core.Producer) {
	o.retractProducer(room, pr.ID())
	pr.Close()
	o.metrics().ProducerClosed(string(pr.Kind()))
}

// retractProducer removes a producer from the room and closes the
// consumers bound to it.
func (o *Orchestrator) retractProducer(room core.RoomService, id domain.ProducerID) {
	entry, ok := room.RemoveProducer(id)
	if !ok {
		return
	}
	for cid, ownerID := range entry.Consumers {
		consumerOwner, ok := room.Participant(ownerID)
		if !ok {
			continue
		}
		if c, ok := consumerOwner.RemoveConsumer(cid); ok {
			c.Close()
		}
		if consumerOwner.State() == core.StateLeft {
			continue
		}
		err := consumerOwner.Signal().Send(core.Envelope{
			Type: core.EventProducerClosed,
			Data: core.ProducerClosedEvent{ProducerID: id, ConsumerID: cid},
		})
		if err != nil {
			o.handleDropped(room, core.EventProducerClosed, core.PublishResult{Dropped: []*core.Participant{consumerOwner}})
		}
	}
}
