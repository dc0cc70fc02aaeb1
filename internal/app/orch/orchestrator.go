package orch

import (
	"context"
	"fmt"
	"time"

	"github.com/dkeye/huddle/internal/app"
	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/domain"
	"github.com/dkeye/huddle/internal/metrics"
	"github.com/rs/zerolog/log"
)

// Op names one signaling operation.
type Op string

const (
	OpJoin                    Op = "joinRoom"
	OpCreateProducerTransport Op = "createProducerTransport"
	OpCreateConsumerTransport Op = "createConsumerTransport"
	OpConnectTransport        Op = "connectTransport"
	OpProduce                 Op = "produce"
	OpConsume                 Op = "consume"
	OpPauseConsumer           Op = "pauseConsumer"
	OpResumeConsumer          Op = "resumeConsumer"
	OpIceCandidate            Op = "iceCandidate"
	OpLeave                   Op = "leaveRoom"
)

var joined = []core.State{
	core.StateCapabilitiesSent,
	core.StateProducerTransportPending,
	core.StateProducing,
	core.StateActive,
}

// admission lists the states in which each operation is accepted.
var admission = map[Op][]core.State{
	OpJoin:                    {core.StateJoining},
	OpCreateProducerTransport: joined,
	OpCreateConsumerTransport: joined,
	OpConnectTransport:        joined,
	OpProduce:                 {core.StateProducerTransportPending, core.StateActive},
	OpConsume:                 joined,
	OpPauseConsumer:           joined,
	OpResumeConsumer:          joined,
	OpIceCandidate:            joined,
	OpLeave:                   append([]core.State{core.StateJoining}, joined...),
}

type Orchestrator struct {
	Sessions *app.Registry
	Rooms    *core.Registry
	Policy   app.Policy
	Metrics  metrics.Collector

	// ConnectTimeout bounds how long a transport may stay unconnected.
	ConnectTimeout time.Duration
	// OperationTimeout bounds a single engine call.
	OperationTimeout time.Duration
}

func New(sessions *app.Registry, rooms *core.Registry, policy app.Policy, m metrics.Collector) *Orchestrator {
	if m == nil {
		m = metrics.Noop{}
	}
	o := &Orchestrator{
		Sessions:         sessions,
		Rooms:            rooms,
		Policy:           policy,
		Metrics:          m,
		ConnectTimeout:   30 * time.Second,
		OperationTimeout: 10 * time.Second,
	}
	rooms.OnLifecycle(
		func(domain.RoomID) { o.Metrics.RoomCreated() },
		func(domain.RoomID) { o.Metrics.RoomReleased() },
	)
	return o
}

// Admit checks that p may run op in its current state.
func (o *Orchestrator) Admit(p *core.Participant, op Op) error {
	st := p.State()
	for _, allowed := range admission[op] {
		if st == allowed {
			return nil
		}
	}
	switch {
	case st == core.StateLeft:
		return domain.NewError(string(op), fmt.Errorf("%w: %w", domain.ErrInvalidRequest, domain.ErrParticipantLeft))
	case op == OpJoin:
		return domain.NewError(string(op), domain.ErrAlreadyJoined)
	case st == core.StateJoining:
		return domain.NewError(string(op), domain.ErrNotJoined)
	case op == OpProduce:
		return domain.NewError(string(op), domain.ErrTransportNotReady)
	}
	return domain.NewError(string(op), fmt.Errorf("%w: %s not allowed in state %s", domain.ErrInvalidRequest, op, st))
}

func (o *Orchestrator) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.OperationTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, o.OperationTimeout)
}

func (o *Orchestrator) roomOf(p *core.Participant) (core.RoomService, error) {
	room, ok := o.Rooms.Get(p.RoomID())
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	return room, nil
}

func (o *Orchestrator) metrics() metrics.Collector {
	if o.Metrics == nil {
		return metrics.Noop{}
	}
	return o.Metrics
}

// broadcast fans v out to the room except from and applies the
// backpressure policy to receivers that could not take it.
func (o *Orchestrator) broadcast(room core.RoomService, from domain.ParticipantID, v core.Envelope) {
	o.handleDropped(room, v.Type, room.Broadcast(from, v))
}

func (o *Orchestrator) handleDropped(room core.RoomService, event string, res core.PublishResult) {
	if len(res.Dropped) == 0 {
		return
	}
	o.metrics().BroadcastDropped(event, len(res.Dropped))
	if o.Policy == nil {
		return
	}
	for _, slow := range res.Dropped {
		action := o.Policy.OnBackPressure(room, slow)
		log.Warn().Str("module", "orch").Str("room", string(room.ID())).Str("participant", string(slow.ID())).Str("event", event).Str("action", action.String()).Msg("receiver cannot keep up")
		switch action {
		case app.KickMember:
			if o.Sessions != nil {
				o.Sessions.Cancel(slow.ID())
			}
		case app.MarkSlow, app.DropFrame, app.NoAction:
		}
	}
}

// Shutdown ends every connection and releases every room.
func (o *Orchestrator) Shutdown() {
	if o.Sessions != nil {
		o.Sessions.CancelAll()
	}
	o.Rooms.Close()
}
