package rtc

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/domain"
	"github.com/google/uuid"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var ErrTransportClosed = errors.New("transport closed")

type Transport struct {
	id       domain.TransportID
	dir      domain.Direction
	router   *Router
	params   domain.TransportParams
	gatherer *webrtc.ICEGatherer
	ice      *webrtc.ICETransport
	dtls     *webrtc.DTLSTransport

	mu        sync.Mutex
	state     domain.TransportState
	onState   func(domain.TransportState)
	events    chan domain.TransportState
	started   bool
	closed    bool
	producers map[domain.ProducerID]*Producer
	consumers map[domain.ConsumerID]*Consumer
}

// newTransport gathers local candidates before returning so that the
// parameters handed to the browser are complete.
func newTransport(ctx context.Context, r *Router, dir domain.Direction) (*Transport, error) {
	gatherer, err := r.api.NewICEGatherer(webrtc.ICEGatherOptions{ICEServers: r.engine.iceServers()})
	if err != nil {
		return nil, fmt.Errorf("ice gatherer: %w", err)
	}
	ice := r.api.NewICETransport(gatherer)
	dtls, err := r.api.NewDTLSTransport(ice, nil)
	if err != nil {
		_ = gatherer.Close()
		return nil, fmt.Errorf("dtls transport: %w", err)
	}

	t := &Transport{
		id:        domain.TransportID(uuid.NewString()),
		dir:       dir,
		router:    r,
		gatherer:  gatherer,
		ice:       ice,
		dtls:      dtls,
		state:     domain.TransportNew,
		events:    make(chan domain.TransportState, stateQueueLen),
		producers: make(map[domain.ProducerID]*Producer),
		consumers: make(map[domain.ConsumerID]*Consumer),
	}

	gathered := make(chan struct{})
	var once sync.Once
	gatherer.OnLocalCandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			once.Do(func() { close(gathered) })
		}
	})
	if err := gatherer.Gather(); err != nil {
		t.stop()
		return nil, fmt.Errorf("gather: %w", err)
	}
	select {
	case <-gathered:
	case <-ctx.Done():
		t.stop()
		return nil, ctx.Err()
	}

	iceParams, err := gatherer.GetLocalParameters()
	if err != nil {
		t.stop()
		return nil, fmt.Errorf("ice parameters: %w", err)
	}
	cands, err := gatherer.GetLocalCandidates()
	if err != nil {
		t.stop()
		return nil, fmt.Errorf("ice candidates: %w", err)
	}
	dtlsParams, err := dtls.GetLocalParameters()
	if err != nil {
		t.stop()
		return nil, fmt.Errorf("dtls parameters: %w", err)
	}

	t.params = domain.TransportParams{
		ID: t.id,
		ICEParameters: domain.ICEParameters{
			UsernameFragment: iceParams.UsernameFragment,
			Password:         iceParams.Password,
			ICELite:          iceParams.ICELite,
		},
		ICECandidates:  make([]domain.ICECandidate, 0, len(cands)),
		DTLSParameters: dtlsFromWebRTC(dtlsParams),
	}
	for _, c := range cands {
		t.params.ICECandidates = append(t.params.ICECandidates, candidateFromWebRTC(c))
	}

	go t.dispatch()
	dtls.OnStateChange(func(s webrtc.DTLSTransportState) {
		log.Debug().Str("module", "rtc").Str("transport", string(t.id)).Str("dtls_state", s.String()).Msg("DTLS state")
		if st, ok := dtlsState(s); ok {
			t.setState(st)
		}
	})
	ice.OnConnectionStateChange(func(s webrtc.ICETransportState) {
		log.Debug().Str("module", "rtc").Str("transport", string(t.id)).Str("ice_state", s.String()).Msg("ICE state")
		if s == webrtc.ICETransportStateFailed {
			t.setState(domain.TransportFailed)
		}
	})

	log.Info().Str("module", "rtc").Str("transport", string(t.id)).Str("direction", string(dir)).Int("candidates", len(cands)).Msg("transport created")
	return t, nil
}

func (t *Transport) ID() domain.TransportID         { return t.id }
func (t *Transport) Direction() domain.Direction    { return t.dir }
func (t *Transport) Params() domain.TransportParams { return t.params }

func (t *Transport) OnStateChange(fn func(domain.TransportState)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onState = fn
}

// stateQueueLen covers every transition a transport can make:
// connecting, connected and one terminal state.
const stateQueueLen = 4

// setState records s and queues it for the state callback. Each state is
// reported once and terminal states are final. pion reports DTLS changes
// while holding its transport lock, so the callback never runs here: it
// may close this very transport.
func (t *Transport) setState(s domain.TransportState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == s || t.state.Terminal() {
		return
	}
	t.state = s
	select {
	case t.events <- s:
	default:
		log.Warn().Str("module", "rtc").Str("transport", string(t.id)).Str("state", string(s)).Msg("state change not reported")
	}
	if s.Terminal() {
		close(t.events)
	}
}

// dispatch runs the state callback in order until the terminal state.
func (t *Transport) dispatch() {
	for s := range t.events {
		t.mu.Lock()
		fn := t.onState
		t.mu.Unlock()
		if fn != nil {
			fn(s)
		}
	}
}

func (t *Transport) State() domain.TransportState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Connect runs ICE and then the DTLS handshake. Both block in pion, so
// they run in their own goroutine and a cancelled ctx closes the
// transport.
func (t *Transport) Connect(ctx context.Context, dtls domain.DTLSParameters, ice *domain.ICEParameters) error {
	t.mu.Lock()
	switch {
	case t.state.Terminal():
		t.mu.Unlock()
		return ErrTransportClosed
	case t.started:
		t.mu.Unlock()
		return domain.ErrAlreadyConnected
	// pion runs full ICE and needs the remote credentials for its checks.
	case ice == nil || ice.UsernameFragment == "" || ice.Password == "":
		t.mu.Unlock()
		return fmt.Errorf("%w: iceParameters with usernameFragment and password are required", domain.ErrInvalidRequest)
	}
	t.started = true
	t.mu.Unlock()

	role := t.router.engine.iceRole
	remoteICE := webrtc.ICEParameters{UsernameFragment: ice.UsernameFragment, Password: ice.Password, ICELite: ice.ICELite}
	remoteDTLS := dtlsToWebRTC(dtls)

	done := make(chan error, 1)
	go func() {
		if err := t.ice.Start(nil, remoteICE, &role); err != nil {
			done <- fmt.Errorf("ice start: %w", err)
			return
		}
		if err := t.dtls.Start(remoteDTLS); err != nil {
			done <- fmt.Errorf("dtls start: %w", err)
			return
		}
		done <- nil
	}()

	select {
	case err := <-done:
		if err != nil {
			t.setState(domain.TransportFailed)
		}
		return err
	case <-ctx.Done():
		t.Close()
		return ctx.Err()
	}
}

func (t *Transport) AddICECandidate(c domain.ICECandidate) error {
	if t.State().Terminal() {
		return ErrTransportClosed
	}
	cand, err := candidateToWebRTC(c)
	if err != nil {
		return err
	}
	return t.ice.AddRemoteCandidate(cand)
}

func (t *Transport) Produce(ctx context.Context, kind domain.MediaKind, params domain.RTPParameters) (core.Producer, error) {
	if t.dir != domain.DirectionSend {
		return nil, fmt.Errorf("%w: produce on a %s transport", domain.ErrInvalidRequest, t.dir)
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	typ, err := codecType(kind)
	if err != nil {
		return nil, err
	}
	codec, ok := findCodec(t.router.codecs, params.Codecs[0].MimeType)
	if !ok || codec.Kind != kind {
		return nil, fmt.Errorf("%w: codec %s", domain.ErrIncompatibleCodecs, params.Codecs[0].MimeType)
	}

	receiver, err := t.router.api.NewRTPReceiver(typ, t.dtls)
	if err != nil {
		return nil, fmt.Errorf("rtp receiver: %w", err)
	}
	enc := params.Encodings[0]
	err = receiver.Receive(webrtc.RTPReceiveParameters{Encodings: []webrtc.RTPDecodingParameters{{
		RTPCodingParameters: webrtc.RTPCodingParameters{
			RID:         enc.RID,
			SSRC:        webrtc.SSRC(enc.SSRC),
			PayloadType: webrtc.PayloadType(params.Codecs[0].PayloadType),
		},
	}}})
	if err != nil {
		_ = receiver.Stop()
		return nil, fmt.Errorf("rtp receive: %w", err)
	}

	p := &Producer{
		id:        domain.ProducerID(uuid.NewString()),
		kind:      kind,
		codec:     codec,
		ssrc:      enc.SSRC,
		transport: t,
		receiver:  receiver,
	}
	t.mu.Lock()
	if t.state.Terminal() {
		t.mu.Unlock()
		_ = receiver.Stop()
		return nil, ErrTransportClosed
	}
	t.producers[p.id] = p
	t.mu.Unlock()
	t.router.addProducer(p)

	track := receiver.Track()
	t.router.relays.StartRelay(context.Background(), p.id, func() (*rtp.Packet, error) {
		pkt, _, err := track.ReadRTP()
		return pkt, err
	})
	log.Info().Str("module", "rtc").Str("producer", string(p.id)).Str("kind", string(kind)).Uint32("ssrc", enc.SSRC).Msg("producer started")
	return p, nil
}

func (t *Transport) Consume(ctx context.Context, producerID domain.ProducerID, caps domain.RTPCapabilities, paused bool) (core.Consumer, error) {
	if t.dir != domain.DirectionRecv {
		return nil, fmt.Errorf("%w: consume on a %s transport", domain.ErrInvalidRequest, t.dir)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, ok := t.router.producer(producerID)
	if !ok || p.Closed() {
		return nil, domain.ErrProducerNotFound
	}
	if !caps.Supports(p.codec.MimeType) {
		return nil, fmt.Errorf("%w: %s", domain.ErrIncompatibleCodecs, p.codec.MimeType)
	}

	id := domain.ConsumerID(uuid.NewString())
	wc := codecToWebRTC(p.codec)
	track, err := webrtc.NewTrackLocalStaticRTP(wc.RTPCodecCapability, string(id), string(producerID))
	if err != nil {
		return nil, fmt.Errorf("local track: %w", err)
	}
	sender, err := t.router.api.NewRTPSender(track, t.dtls)
	if err != nil {
		return nil, fmt.Errorf("rtp sender: %w", err)
	}
	sendParams := sender.GetParameters()
	if err := sender.Send(sendParams); err != nil {
		_ = sender.Stop()
		return nil, fmt.Errorf("rtp send: %w", err)
	}
	var ssrc uint32
	if len(sendParams.Encodings) > 0 {
		ssrc = uint32(sendParams.Encodings[0].SSRC)
	}

	c := &Consumer{
		id:       id,
		producer: p,
		sender:   sender,
		params: domain.RTPParameters{
			MID: string(id),
			Codecs: []domain.RTPCodecParameters{{
				MimeType:     p.codec.MimeType,
				PayloadType:  p.codec.PayloadType,
				ClockRate:    p.codec.ClockRate,
				Channels:     p.codec.Channels,
				SDPFmtpLine:  p.codec.SDPFmtpLine,
				RTCPFeedback: p.codec.RTCPFeedback,
			}},
			Encodings: []domain.RTPEncoding{{SSRC: ssrc}},
		},
		transport: t,
		paused:    paused,
	}
	t.mu.Lock()
	if t.state.Terminal() {
		t.mu.Unlock()
		_ = sender.Stop()
		return nil, ErrTransportClosed
	}
	t.consumers[id] = c
	t.mu.Unlock()

	if !t.router.relays.AddSubscriber(producerID, id, track, paused) {
		c.Close()
		return nil, domain.ErrProducerNotFound
	}
	go c.readRTCP()
	if p.kind == domain.KindVideo {
		p.RequestKeyFrame()
	}
	log.Info().Str("module", "rtc").Str("consumer", string(id)).Str("producer", string(producerID)).Uint32("ssrc", ssrc).Msg("consumer started")
	return c, nil
}

func (t *Transport) writeRTCP(pkts []rtcp.Packet) error {
	_, err := t.dtls.WriteRTCP(pkts)
	return err
}

func (t *Transport) removeProducer(id domain.ProducerID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.producers, id)
}

func (t *Transport) removeConsumer(id domain.ConsumerID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.consumers, id)
}

// Close closes the transport with its producers and consumers. It is
// idempotent, and the state callback may call it again.
func (t *Transport) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	producers := make([]*Producer, 0, len(t.producers))
	for _, p := range t.producers {
		producers = append(producers, p)
	}
	consumers := make([]*Consumer, 0, len(t.consumers))
	for _, c := range t.consumers {
		consumers = append(consumers, c)
	}
	t.mu.Unlock()
	// Terminal before stop: the closed report pion emits from Stop is
	// then ignored.
	t.setState(domain.TransportClosed)

	for _, p := range producers {
		p.Close()
	}
	for _, c := range consumers {
		c.Close()
	}
	t.stop()
	t.router.removeTransport(t.id)
}

func (t *Transport) stop() {
	if err := t.dtls.Stop(); err != nil {
		log.Debug().Err(err).Str("module", "rtc").Str("transport", string(t.id)).Msg("dtls stop")
	}
	if err := t.ice.Stop(); err != nil {
		log.Debug().Err(err).Str("module", "rtc").Str("transport", string(t.id)).Msg("ice stop")
	}
	if err := t.gatherer.Close(); err != nil {
		log.Debug().Err(err).Str("module", "rtc").Str("transport", string(t.id)).Msg("gatherer close")
	}
}
