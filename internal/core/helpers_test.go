package core_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/dkeye/huddle/internal/adapters/loopback"
	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/domain"
	"github.com/stretchr/testify/require"
)

var testCodecs = []domain.RTPCodec{
	{Kind: domain.KindAudio, MimeType: "audio/opus", ClockRate: 48000, Channels: 2, PayloadType: 111},
	{Kind: domain.KindVideo, MimeType: "video/VP8", ClockRate: 90000, PayloadType: 96},
}

var remoteDTLS = domain.DTLSParameters{
	Role:         "client",
	Fingerprints: []domain.DTLSFingerprint{{Algorithm: "sha-256", Value: "AA:BB"}},
}

var errFull = errors.New("queue full")

// recorder is a SignalConnection keeping everything it was sent.
type recorder struct {
	mu     sync.Mutex
	full   bool
	events []core.Envelope
}

func (r *recorder) Send(v any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.full {
		return errFull
	}
	if env, ok := v.(core.Envelope); ok {
		r.events = append(r.events, env)
	}
	return nil
}

func (r *recorder) TrySend(core.Frame) error { return nil }
func (r *recorder) Close()                   {}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

func newParticipant(id string) (*core.Participant, *recorder) {
	rec := &recorder{}
	return core.NewParticipant(domain.ParticipantID(id), rec), rec
}

func member(t *testing.T, p *core.Participant, room domain.RoomID) {
	t.Helper()
	u, err := domain.NewUser(p.ID(), string(p.ID()))
	require.NoError(t, err)
	require.NoError(t, p.SetMember(domain.NewMember(u, room)))
}

func newRouter(t *testing.T) (*loopback.Engine, core.Router) {
	t.Helper()
	e := loopback.NewEngine("")
	r, err := e.CreateRouter(context.Background(), testCodecs)
	require.NoError(t, err)
	return e, r
}
