package loopback

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/domain"
	"github.com/google/uuid"
)

var ErrTransportClosed = errors.New("transport closed")

type Transport struct {
	id     domain.TransportID
	dir    domain.Direction
	router *Router
	params domain.TransportParams

	mu         sync.Mutex
	state      domain.TransportState
	onState    func(domain.TransportState)
	candidates []domain.ICECandidate
	producers  []*Producer
	consumers  map[domain.ConsumerID]*Consumer
}

func (t *Transport) ID() domain.TransportID         { return t.id }
func (t *Transport) Direction() domain.Direction    { return t.dir }
func (t *Transport) Params() domain.TransportParams { return t.params }

func (t *Transport) State() domain.TransportState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// RemoteCandidates returns candidates added through AddICECandidate.
func (t *Transport) RemoteCandidates() []domain.ICECandidate {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]domain.ICECandidate(nil), t.candidates...)
}

func (t *Transport) OnStateChange(fn func(domain.TransportState)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onState = fn
}

func (t *Transport) setState(s domain.TransportState) {
	t.mu.Lock()
	if t.state == s {
		t.mu.Unlock()
		return
	}
	t.state = s
	fn := t.onState
	t.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

func (t *Transport) Connect(ctx context.Context, dtls domain.DTLSParameters, _ *domain.ICEParameters) error {
	if err := t.router.engine.check(ctx, "connect"); err != nil {
		return err
	}
	if len(dtls.Fingerprints) == 0 {
		return fmt.Errorf("dtlsParameters without fingerprints")
	}
	switch t.State() {
	case domain.TransportConnected:
		return domain.ErrAlreadyConnected
	case domain.TransportClosed, domain.TransportFailed:
		return ErrTransportClosed
	}
	t.setState(domain.TransportConnecting)
	t.setState(domain.TransportConnected)
	return nil
}

// Fail simulates the remote side dropping the DTLS session.
func (t *Transport) Fail() {
	t.setState(domain.TransportFailed)
}

func (t *Transport) Produce(ctx context.Context, kind domain.MediaKind, params domain.RTPParameters) (core.Producer, error) {
	if err := t.router.engine.check(ctx, "produce"); err != nil {
		return nil, err
	}
	if t.dir != domain.DirectionSend {
		return nil, fmt.Errorf("produce on %s transport", t.dir)
	}
	if t.State() != domain.TransportConnected {
		return nil, fmt.Errorf("produce on transport in state %s", t.State())
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	p := &Producer{
		id:        domain.ProducerID(uuid.NewString()),
		kind:      kind,
		params:    params,
		transport: t,
		consumers: make(map[domain.ConsumerID]*Consumer),
	}
	t.mu.Lock()
	t.producers = append(t.producers, p)
	t.mu.Unlock()
	t.router.addProducer(p)
	return p, nil
}

func (t *Transport) Consume(ctx context.Context, producerID domain.ProducerID, caps domain.RTPCapabilities, paused bool) (core.Consumer, error) {
	if err := t.router.engine.check(ctx, "consume"); err != nil {
		return nil, err
	}
	if t.dir != domain.DirectionRecv {
		return nil, fmt.Errorf("consume on %s transport", t.dir)
	}
	if st := t.State(); st.Terminal() {
		return nil, ErrTransportClosed
	}
	p, ok := t.router.producer(producerID)
	if !ok || p.Closed() {
		return nil, domain.ErrProducerNotFound
	}
	codec := p.params.Codecs[0]
	if !caps.Supports(codec.MimeType) {
		return nil, domain.ErrIncompatibleCodecs
	}
	c := &Consumer{
		id:       domain.ConsumerID(uuid.NewString()),
		producer: p,
		params: domain.RTPParameters{
			MID:       fmt.Sprintf("%d", rand.IntN(1<<16)),
			Codecs:    []domain.RTPCodecParameters{codec},
			Encodings: []domain.RTPEncoding{{SSRC: rand.Uint32()}},
		},
		transport: t,
	}
	c.paused.Store(paused)
	if !p.attach(c) {
		return nil, domain.ErrProducerNotFound
	}
	t.mu.Lock()
	t.consumers[c.id] = c
	t.mu.Unlock()
	return c, nil
}

func (t *Transport) AddICECandidate(c domain.ICECandidate) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.Terminal() {
		return ErrTransportClosed
	}
	t.candidates = append(t.candidates, c)
	return nil
}

func (t *Transport) removeConsumer(id domain.ConsumerID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.consumers, id)
}

func (t *Transport) Close() {
	t.mu.Lock()
	if t.state == domain.TransportClosed {
		t.mu.Unlock()
		return
	}
	producers := t.producers
	t.producers = nil
	consumers := make([]*Consumer, 0, len(t.consumers))
	for _, c := range t.consumers {
		consumers = append(consumers, c)
	}
	t.mu.Unlock()

	for _, p := range producers {
		p.Close()
	}
	for _, c := range consumers {
		c.Close()
	}
	t.router.removeTransport(t.id)
	t.setState(domain.TransportClosed)
}
