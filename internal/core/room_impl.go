package core

import (
	"maps"
	"slices"
	"sync"

	"github.com/dkeye/huddle/internal/domain"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
)

type trackedTransport struct {
	t     Transport
	owner domain.ParticipantID
}

// roomImpl is a threadsafe in-memory room.
// It never closes adapter-owned signal connections.
type roomImpl struct {
	id     domain.RoomID
	router Router

	mu         sync.Mutex
	closed     bool
	members    map[domain.ParticipantID]*Participant
	producers  map[domain.ProducerID]*ProducerEntry
	transports map[domain.TransportID]trackedTransport
}

func NewRoomService(id domain.RoomID, router Router) RoomService {
	return &roomImpl{
		id:         id,
		router:     router,
		members:    make(map[domain.ParticipantID]*Participant),
		producers:  make(map[domain.ProducerID]*ProducerEntry),
		transports: make(map[domain.TransportID]trackedTransport),
	}
}

func (r *roomImpl) ID() domain.RoomID { return r.id }
func (r *roomImpl) Router() Router    { return r.router }

func (r *roomImpl) ParticipantCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

func (r *roomImpl) TransportCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.transports)
}

func (r *roomImpl) AddParticipant(p *Participant, welcome func(Welcome)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return domain.ErrRoomClosed
	}
	if _, ok := r.members[p.ID()]; ok {
		return domain.ErrAlreadyJoined
	}
	w := Welcome{
		RTPCapabilities: r.router.RTPCapabilities(),
		Peers:           r.membersLocked(),
		Producers:       r.producersLocked(),
	}
	r.members[p.ID()] = p
	log.Info().Str("module", "core.room").Str("room", string(r.id)).Str("participant", string(p.ID())).Msg("participant added")
	if welcome != nil {
		welcome(w)
	}
	return nil
}

func (r *roomImpl) RemoveParticipant(id domain.ParticipantID) (bool, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.members[id]
	delete(r.members, id)
	if ok {
		log.Info().Str("module", "core.room").Str("room", string(r.id)).Str("participant", string(id)).Msg("participant removed")
	}
	return ok, len(r.members) == 0
}

func (r *roomImpl) Participant(id domain.ParticipantID) (*Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.members[id]
	return p, ok
}

func (r *roomImpl) AddProducer(owner domain.ParticipantID, pr Producer, announce any) (PublishResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return PublishResult{}, domain.ErrRoomClosed
	}
	if p, ok := r.members[owner]; !ok || p.State() == StateLeft {
		return PublishResult{}, domain.ErrParticipantLeft
	}
	r.producers[pr.ID()] = &ProducerEntry{
		Producer:  pr,
		Owner:     owner,
		Consumers: make(map[domain.ConsumerID]domain.ParticipantID),
	}
	log.Info().Str("module", "core.room").Str("room", string(r.id)).Str("producer", string(pr.ID())).Str("owner", string(owner)).Msg("producer added")
	if announce == nil {
		return PublishResult{}, nil
	}
	return r.broadcastLocked(owner, announce), nil
}

func (r *roomImpl) RemoveProducer(id domain.ProducerID) (ProducerEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.producers[id]
	if !ok {
		return ProducerEntry{}, false
	}
	delete(r.producers, id)
	out := *e
	out.Consumers = maps.Clone(e.Consumers)
	log.Info().Str("module", "core.room").Str("room", string(r.id)).Str("producer", string(id)).Int("consumers", len(out.Consumers)).Msg("producer removed")
	return out, true
}

func (r *roomImpl) Producer(id domain.ProducerID) (ProducerEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.producers[id]
	if !ok {
		return ProducerEntry{}, false
	}
	out := *e
	out.Consumers = maps.Clone(e.Consumers)
	return out, true
}

// AddConsumer links a consumer to its producer. It fails when the
// producer went away while the consumer was being created.
func (r *roomImpl) AddConsumer(producerID domain.ProducerID, owner domain.ParticipantID, consumerID domain.ConsumerID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.producers[producerID]
	if !ok {
		return domain.ErrProducerNotFound
	}
	e.Consumers[consumerID] = owner
	return nil
}

func (r *roomImpl) RemoveConsumer(producerID domain.ProducerID, consumerID domain.ConsumerID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.producers[producerID]; ok {
		delete(e.Consumers, consumerID)
	}
}

func (r *roomImpl) TrackTransport(t Transport, owner domain.ParticipantID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transports[t.ID()] = trackedTransport{t: t, owner: owner}
}

func (r *roomImpl) UntrackTransport(id domain.TransportID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.transports, id)
}

// Broadcast delivers v to every live member except from. Targets are
// taken from membership at the moment of the call.
func (r *roomImpl) Broadcast(from domain.ParticipantID, v any) PublishResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.broadcastLocked(from, v)
}

func (r *roomImpl) broadcastLocked(from domain.ParticipantID, v any) PublishResult {
	res := PublishResult{}
	for id, p := range r.members {
		if id == from || p.State() == StateLeft {
			continue
		}
		if err := p.Signal().Send(v); err != nil {
			res.Dropped = append(res.Dropped, p)
			continue
		}
		res.SendTo++
	}
	log.Debug().Str("module", "core.room").Str("room", string(r.id)).Str("from", string(from)).Int("sent_to", res.SendTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}

func (r *roomImpl) MembersSnapshot() []MemberDTO {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.membersLocked()
}

func (r *roomImpl) membersLocked() []MemberDTO {
	out := make([]MemberDTO, 0, len(r.members))
	for _, id := range slices.Sorted(maps.Keys(r.members)) {
		p := r.members[id]
		st := p.State()
		if st == StateLeft {
			continue
		}
		out = append(out, MemberDTO{ID: id, DisplayName: p.DisplayName(), State: st.String()})
	}
	return out
}

func (r *roomImpl) ProducersSnapshot() []ProducerInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.producersLocked()
}

func (r *roomImpl) producersLocked() []ProducerInfo {
	out := make([]ProducerInfo, 0, len(r.producers))
	for _, id := range slices.Sorted(maps.Keys(r.producers)) {
		e := r.producers[id]
		out = append(out, ProducerInfo{ID: id, Owner: e.Owner, Kind: e.Producer.Kind()})
	}
	return out
}

func (r *roomImpl) CloseIfEmpty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.members) != 0 {
		return false
	}
	r.closed = true
	return true
}

func (r *roomImpl) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *roomImpl) Release() {
	r.mu.Lock()
	r.closed = true
	transports := make([]Transport, 0, len(r.transports))
	for _, tt := range r.transports {
		transports = append(transports, tt.t)
	}
	clear(r.transports)
	clear(r.producers)
	r.mu.Unlock()

	var wg conc.WaitGroup
	for _, t := range transports {
		wg.Go(t.Close)
	}
	wg.Wait()
	r.router.Close()
	log.Info().Str("module", "core.room").Str("room", string(r.id)).Int("transports", len(transports)).Msg("room released")
}
