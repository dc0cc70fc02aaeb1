package orch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/huddle/internal/adapters/loopback"
	"github.com/dkeye/huddle/internal/app"
	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/domain"
	"github.com/dkeye/huddle/internal/metrics"
	"github.com/stretchr/testify/require"
)

var (
	testCodecs = []domain.RTPCodec{
		{Kind: domain.KindAudio, MimeType: "audio/opus", ClockRate: 48000, Channels: 2, PayloadType: 111},
		{Kind: domain.KindVideo, MimeType: "video/VP8", ClockRate: 90000, PayloadType: 96},
	}
	testCaps   = domain.RTPCapabilities{Codecs: testCodecs}
	clientDTLS = domain.DTLSParameters{
		Role:         "client",
		Fingerprints: []domain.DTLSFingerprint{{Algorithm: "sha-256", Value: "AB:CD"}},
	}
	opusParams = domain.RTPParameters{
		Codecs:    []domain.RTPCodecParameters{{MimeType: "audio/opus", PayloadType: 111, ClockRate: 48000, Channels: 2}},
		Encodings: []domain.RTPEncoding{{SSRC: 1111}},
	}
	vp8Params = domain.RTPParameters{
		Codecs:    []domain.RTPCodecParameters{{MimeType: "video/VP8", PayloadType: 96, ClockRate: 90000}},
		Encodings: []domain.RTPEncoding{{SSRC: 2222}},
	}
)

var errQueueFull = errors.New("queue full")

// recorder is a SignalConnection keeping every event it was sent.
type recorder struct {
	mu     sync.Mutex
	full   bool
	events []core.Envelope
}

func (r *recorder) Send(v any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.full {
		return errQueueFull
	}
	if env, ok := v.(core.Envelope); ok {
		r.events = append(r.events, env)
	}
	return nil
}

func (r *recorder) TrySend(core.Frame) error { return nil }
func (r *recorder) Close()                   {}

func (r *recorder) of(typ string) []core.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []core.Envelope
	for _, e := range r.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

type harness struct {
	t      *testing.T
	engine *loopback.Engine
	o      *Orchestrator
	ctx    context.Context
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	engine := loopback.NewEngine("")
	h := newHarnessWith(t, engine)
	h.engine = engine
	return h
}

// newHarnessWith runs the orchestrator on any engine; h.engine stays nil
// unless the caller sets it.
func newHarnessWith(t *testing.T, engine core.Engine) *harness {
	t.Helper()
	o := New(app.NewRegistry(), core.NewRegistry(engine, testCodecs), app.SimplePolicy{}, metrics.Noop{})
	o.ConnectTimeout = time.Minute
	t.Cleanup(o.Shutdown)
	return &harness{t: t, o: o, ctx: context.Background()}
}

type peer struct {
	p       *core.Participant
	rec     *recorder
	welcome JoinResult
}

func (h *harness) peer(id string) *peer {
	rec := &recorder{}
	p := core.NewParticipant(domain.ParticipantID(id), rec)
	h.o.Sessions.BindSession(p, nil)
	return &peer{p: p, rec: rec}
}

func (h *harness) join(id string, room domain.RoomID) *peer {
	h.t.Helper()
	pe := h.peer(id)
	require.NoError(h.t, h.o.Join(h.ctx, pe.p, room, id, func(res JoinResult) { pe.welcome = res }))
	return pe
}

func (h *harness) transport(pe *peer, dir domain.Direction) domain.TransportID {
	h.t.Helper()
	params, err := h.o.CreateTransport(h.ctx, pe.p, dir)
	require.NoError(h.t, err)
	require.NoError(h.t, h.o.ConnectTransport(h.ctx, pe.p, params.ID, clientDTLS, nil))
	return params.ID
}

func (h *harness) produce(pe *peer, kind domain.MediaKind) domain.ProducerID {
	h.t.Helper()
	if _, _, ok := pe.p.TransportFor(domain.DirectionSend); !ok {
		h.transport(pe, domain.DirectionSend)
	}
	params := opusParams
	if kind == domain.KindVideo {
		params = vp8Params
	}
	id, err := h.o.Produce(h.ctx, pe.p, kind, params)
	require.NoError(h.t, err)
	return id
}

func (h *harness) consume(pe *peer, producer domain.ProducerID) ConsumeResult {
	h.t.Helper()
	if _, _, ok := pe.p.TransportFor(domain.DirectionRecv); !ok {
		h.transport(pe, domain.DirectionRecv)
	}
	res, err := h.o.Consume(h.ctx, pe.p, producer, testCaps, "", false)
	require.NoError(h.t, err)
	return res
}

func (h *harness) room(id domain.RoomID) core.RoomService {
	h.t.Helper()
	room, ok := h.o.Rooms.Get(id)
	require.True(h.t, ok, "room %s not live", id)
	return room
}
