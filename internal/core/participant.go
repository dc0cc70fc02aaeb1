package core

import (
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/dkeye/huddle/internal/domain"
)

// State is the negotiation progress of one participant.
type State int32

const (
	StateJoining State = iota
	StateCapabilitiesSent
	StateProducerTransportPending
	StateProducing
	StateActive
	StateLeft
)

func (s State) String() string {
	switch s {
	case StateJoining:
		return "joining"
	case StateCapabilitiesSent:
		return "capabilities_sent"
	case StateProducerTransportPending:
		return "producer_transport_pending"
	case StateProducing:
		return "producing"
	case StateActive:
		return "active"
	case StateLeft:
		return "left"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// TransportSlot is a transport owned by exactly one participant.
type TransportSlot struct {
	Transport Transport
	Connected bool
	reaper    *time.Timer
}

// Participant is the per-connection session: one user's transports,
// producers and consumers within one room.
type Participant struct {
	id     domain.ParticipantID
	signal SignalConnection

	mu         sync.Mutex
	state      State
	meta       *domain.Member
	transports map[domain.TransportID]*TransportSlot
	byDir      map[domain.Direction]domain.TransportID
	creating   map[domain.Direction]bool
	producers  map[domain.MediaKind]Producer
	consumers  map[domain.ConsumerID]Consumer
}

func NewParticipant(id domain.ParticipantID, signal SignalConnection) *Participant {
	return &Participant{
		id:         id,
		signal:     signal,
		state:      StateJoining,
		transports: make(map[domain.TransportID]*TransportSlot),
		byDir:      make(map[domain.Direction]domain.TransportID),
		creating:   make(map[domain.Direction]bool),
		producers:  make(map[domain.MediaKind]Producer),
		consumers:  make(map[domain.ConsumerID]Consumer),
	}
}

func (p *Participant) ID() domain.ParticipantID { return p.id }
func (p *Participant) Signal() SignalConnection { return p.signal }

func (p *Participant) Meta() *domain.Member {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.meta
}

// RoomID is empty until the participant joined.
func (p *Participant) RoomID() domain.RoomID {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.meta == nil {
		return ""
	}
	return p.meta.RoomID
}

func (p *Participant) DisplayName() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.meta == nil {
		return ""
	}
	return p.meta.User.DisplayName
}

func (p *Participant) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// SetMember binds the participant to its room. Only valid while joining.
func (p *Participant) SetMember(m *domain.Member) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateJoining || p.meta != nil {
		return domain.ErrAlreadyJoined
	}
	p.meta = m
	return nil
}

// ClearMember undoes SetMember after a failed join.
func (p *Participant) ClearMember() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StateJoining {
		p.meta = nil
	}
}

// Advance moves the state forward; it never leaves StateLeft and never
// moves backwards.
func (p *Participant) Advance(to State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StateLeft || to < p.state {
		return
	}
	p.state = to
}

// MarkLeft transitions to StateLeft. It reports false when the
// participant had already left, which callers use to run cleanup once.
func (p *Participant) MarkLeft() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StateLeft {
		return false
	}
	p.state = StateLeft
	return true
}

// ReserveTransport claims the single slot for dir before the engine call.
func (p *Participant) ReserveTransport(dir domain.Direction) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StateLeft {
		return domain.ErrParticipantLeft
	}
	if id, ok := p.byDir[dir]; ok {
		return domain.NewTransportError("reserve", id, domain.ErrTransportExists)
	}
	if p.creating[dir] {
		return domain.ErrTransportExists
	}
	p.creating[dir] = true
	return nil
}

func (p *Participant) ReleaseReservation(dir domain.Direction) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.creating, dir)
}

// AttachTransport registers a freshly created transport. It fails when
// the participant left meanwhile; the caller then owns closing t.
func (p *Participant) AttachTransport(t Transport) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.creating, t.Direction())
	if p.state == StateLeft {
		return domain.ErrParticipantLeft
	}
	p.transports[t.ID()] = &TransportSlot{Transport: t}
	p.byDir[t.Direction()] = t.ID()
	if t.Direction() == domain.DirectionSend && p.state < StateProducerTransportPending {
		p.state = StateProducerTransportPending
	}
	return nil
}

// ArmReaper schedules fn unless the transport connects within d.
func (p *Participant) ArmReaper(id domain.TransportID, d time.Duration, fn func()) {
	if d <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	slot, ok := p.transports[id]
	if !ok || slot.Connected {
		return
	}
	if slot.reaper != nil {
		slot.reaper.Stop()
	}
	slot.reaper = time.AfterFunc(d, fn)
}

// Transport resolves id among this participant's own transports only.
func (p *Participant) Transport(id domain.TransportID) (Transport, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	slot, ok := p.transports[id]
	if !ok {
		return nil, false
	}
	return slot.Transport, true
}

// TransportFor returns the participant's transport for dir and whether
// its handshake completed.
func (p *Participant) TransportFor(dir domain.Direction) (Transport, bool, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id, ok := p.byDir[dir]
	if !ok {
		return nil, false, false
	}
	slot := p.transports[id]
	return slot.Transport, slot.Connected, true
}

func (p *Participant) IsConnected(id domain.TransportID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	slot, ok := p.transports[id]
	return ok && slot.Connected
}

// MarkConnected records a completed handshake and stops the reaper.
func (p *Participant) MarkConnected(id domain.TransportID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	slot, ok := p.transports[id]
	if !ok {
		return false
	}
	slot.Connected = true
	if slot.reaper != nil {
		slot.reaper.Stop()
		slot.reaper = nil
	}
	return true
}

// Detached is what a transport took with it when it went away.
type Detached struct {
	Transport Transport
	Producers []Producer
	Consumers []Consumer
}

// DetachTransport forgets the transport and everything bound to it.
// It is idempotent: a second call returns ok=false.
func (p *Participant) DetachTransport(id domain.TransportID) (Detached, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	slot, ok := p.transports[id]
	if !ok {
		return Detached{}, false
	}
	return p.detachLocked(id, slot), true
}

func (p *Participant) detachLocked(id domain.TransportID, slot *TransportSlot) Detached {
	if slot.reaper != nil {
		slot.reaper.Stop()
	}
	delete(p.transports, id)
	dir := slot.Transport.Direction()
	if p.byDir[dir] == id {
		delete(p.byDir, dir)
	}
	out := Detached{Transport: slot.Transport}
	switch dir {
	case domain.DirectionSend:
		for kind, pr := range p.producers {
			out.Producers = append(out.Producers, pr)
			delete(p.producers, kind)
		}
		if p.state != StateLeft {
			p.state = StateCapabilitiesSent
		}
	case domain.DirectionRecv:
		for cid, c := range p.consumers {
			out.Consumers = append(out.Consumers, c)
			delete(p.consumers, cid)
		}
	}
	return out
}

// DetachAll drains every owned transport. Used on leave.
func (p *Participant) DetachAll() []Detached {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Detached, 0, len(p.transports))
	for _, id := range slices.Sorted(maps.Keys(p.transports)) {
		out = append(out, p.detachLocked(id, p.transports[id]))
	}
	return out
}

// liveLocked reports whether id is still this participant's transport
// for dir.
func (p *Participant) liveLocked(id domain.TransportID, dir domain.Direction) bool {
	cur, ok := p.byDir[dir]
	return ok && cur == id
}

// AddProducer stores pr, created on the send transport id; at most one
// producer per kind. It fails with domain.ErrTransportNotFound when that
// transport went away while the engine was producing.
func (p *Participant) AddProducer(id domain.TransportID, pr Producer) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StateLeft {
		return domain.ErrParticipantLeft
	}
	if !p.liveLocked(id, domain.DirectionSend) {
		return domain.ErrTransportNotFound
	}
	if _, ok := p.producers[pr.Kind()]; ok {
		return domain.ErrAlreadyProducing
	}
	p.producers[pr.Kind()] = pr
	return nil
}

// OwnsProducer reports whether id is still one of the participant's
// producers.
func (p *Participant) OwnsProducer(id domain.ProducerID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, pr := range p.producers {
		if pr.ID() == id {
			return true
		}
	}
	return false
}

func (p *Participant) HasProducer(kind domain.MediaKind) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.producers[kind]
	return ok
}

func (p *Participant) RemoveProducer(id domain.ProducerID) (Producer, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for kind, pr := range p.producers {
		if pr.ID() == id {
			delete(p.producers, kind)
			return pr, true
		}
	}
	return nil, false
}

// AddConsumer stores c, created on the recv transport id. A producer is
// consumed at most once per participant.
func (p *Participant) AddConsumer(id domain.TransportID, c Consumer) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StateLeft {
		return domain.ErrParticipantLeft
	}
	if !p.liveLocked(id, domain.DirectionRecv) {
		return domain.ErrTransportNotFound
	}
	if _, ok := p.consumerOfLocked(c.ProducerID()); ok {
		return domain.ErrAlreadyConsuming
	}
	p.consumers[c.ID()] = c
	return nil
}

// ConsumerOf returns the participant's consumer of producer, if any.
func (p *Participant) ConsumerOf(producer domain.ProducerID) (Consumer, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.consumerOfLocked(producer)
}

func (p *Participant) consumerOfLocked(producer domain.ProducerID) (Consumer, bool) {
	for _, c := range p.consumers {
		if c.ProducerID() == producer {
			return c, true
		}
	}
	return nil, false
}

func (p *Participant) Consumer(id domain.ConsumerID) (Consumer, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.consumers[id]
	return c, ok
}

func (p *Participant) RemoveConsumer(id domain.ConsumerID) (Consumer, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.consumers[id]
	delete(p.consumers, id)
	return c, ok
}

// ConsumerCount is mostly useful to tests and the REST view.
func (p *Participant) ConsumerCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.consumers)
}
