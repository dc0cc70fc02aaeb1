package loopback

import (
	"context"
	"sync"

	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/domain"
	"github.com/google/uuid"
)

type Router struct {
	id     domain.RouterID
	engine *Engine
	caps   domain.RTPCapabilities

	mu         sync.Mutex
	closed     bool
	transports map[domain.TransportID]*Transport
	producers  map[domain.ProducerID]*Producer
}

func (r *Router) ID() domain.RouterID                     { return r.id }
func (r *Router) RTPCapabilities() domain.RTPCapabilities { return r.caps }

func (r *Router) CreateTransport(ctx context.Context, dir domain.Direction) (core.Transport, error) {
	if err := r.engine.check(ctx, "createTransport"); err != nil {
		return nil, err
	}
	id := domain.TransportID(uuid.NewString())
	port := uint16(r.engine.nextPort.Add(1))
	t := &Transport{
		id:     id,
		dir:    dir,
		router: r,
		state:  domain.TransportNew,
		params: domain.TransportParams{
			ID: id,
			ICEParameters: domain.ICEParameters{
				UsernameFragment: uuid.NewString()[:8],
				Password:         uuid.NewString(),
				ICELite:          true,
			},
			ICECandidates: []domain.ICECandidate{{
				Foundation: "udpcandidate",
				Priority:   1076302079,
				Address:    r.engine.announcedIP,
				Protocol:   "udp",
				Port:       port,
				Type:       "host",
			}},
			DTLSParameters: domain.DTLSParameters{
				Role:         "auto",
				Fingerprints: []domain.DTLSFingerprint{{Algorithm: "sha-256", Value: randomFingerprint()}},
			},
		},
		consumers: make(map[domain.ConsumerID]*Consumer),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, domain.ErrRoomClosed
	}
	r.transports[id] = t
	return t, nil
}

func (r *Router) producer(id domain.ProducerID) (*Producer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.producers[id]
	return p, ok
}

func (r *Router) addProducer(p *Producer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.producers[p.id] = p
}

func (r *Router) removeProducer(id domain.ProducerID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.producers, id)
}

func (r *Router) removeTransport(id domain.TransportID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.transports, id)
}

// TransportCount is the number of transports not yet closed.
func (r *Router) TransportCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.transports)
}

func (r *Router) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *Router) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	transports := make([]*Transport, 0, len(r.transports))
	for _, t := range r.transports {
		transports = append(transports, t)
	}
	r.mu.Unlock()

	for _, t := range transports {
		t.Close()
	}
	r.engine.forget(r.id)
}
