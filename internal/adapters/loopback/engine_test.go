package loopback

import (
	"context"
	"errors"
	"testing"

	"github.com/dkeye/huddle/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	codecs = []domain.RTPCodec{
		{Kind: domain.KindAudio, MimeType: "audio/opus", ClockRate: 48000, Channels: 2, PayloadType: 111},
	}
	dtls = domain.DTLSParameters{Fingerprints: []domain.DTLSFingerprint{{Algorithm: "sha-256", Value: "00:11"}}}
	opus = domain.RTPParameters{
		Codecs:    []domain.RTPCodecParameters{{MimeType: "audio/opus", PayloadType: 111, ClockRate: 48000}},
		Encodings: []domain.RTPEncoding{{SSRC: 1234}},
	}
)

func connected(t *testing.T, r *Router, dir domain.Direction) *Transport {
	t.Helper()
	tr, err := r.CreateTransport(context.Background(), dir)
	require.NoError(t, err)
	require.NoError(t, tr.Connect(context.Background(), dtls, nil))
	return tr.(*Transport)
}

func newTestRouter(t *testing.T) (*Engine, *Router) {
	t.Helper()
	e := NewEngine("10.0.0.1")
	r, err := e.CreateRouter(context.Background(), codecs)
	require.NoError(t, err)
	return e, r.(*Router)
}

func TestTransportParams(t *testing.T) {
	_, r := newTestRouter(t)
	tr, err := r.CreateTransport(context.Background(), domain.DirectionSend)
	require.NoError(t, err)

	p := tr.Params()
	assert.Equal(t, tr.ID(), p.ID)
	assert.NotEmpty(t, p.ICEParameters.UsernameFragment)
	require.Len(t, p.ICECandidates, 1)
	assert.Equal(t, "10.0.0.1", p.ICECandidates[0].Address)
	require.Len(t, p.DTLSParameters.Fingerprints, 1)
	assert.Len(t, p.DTLSParameters.Fingerprints[0].Value, 32*3-1)
}

func TestConnectStates(t *testing.T) {
	_, r := newTestRouter(t)
	tr, err := r.CreateTransport(context.Background(), domain.DirectionSend)
	require.NoError(t, err)

	var states []domain.TransportState
	tr.OnStateChange(func(s domain.TransportState) { states = append(states, s) })

	assert.Error(t, tr.Connect(context.Background(), domain.DTLSParameters{}, nil))
	require.NoError(t, tr.Connect(context.Background(), dtls, nil))
	assert.ErrorIs(t, tr.Connect(context.Background(), dtls, nil), domain.ErrAlreadyConnected)

	tr.Close()
	tr.Close()
	assert.Equal(t, []domain.TransportState{
		domain.TransportConnecting, domain.TransportConnected, domain.TransportClosed,
	}, states)
	assert.ErrorIs(t, tr.Connect(context.Background(), dtls, nil), ErrTransportClosed)
	assert.Zero(t, r.TransportCount())
}

func TestProduceConsume(t *testing.T) {
	_, r := newTestRouter(t)
	send := connected(t, r, domain.DirectionSend)
	recv := connected(t, r, domain.DirectionRecv)

	_, err := recv.Produce(context.Background(), domain.KindAudio, opus)
	assert.Error(t, err)

	pr, err := send.Produce(context.Background(), domain.KindAudio, opus)
	require.NoError(t, err)

	_, err = recv.Consume(context.Background(), pr.ID(), domain.RTPCapabilities{
		Codecs: []domain.RTPCodec{{MimeType: "video/VP8"}},
	}, false)
	assert.ErrorIs(t, err, domain.ErrIncompatibleCodecs)

	c, err := recv.Consume(context.Background(), pr.ID(), domain.RTPCapabilities{Codecs: codecs}, false)
	require.NoError(t, err)
	assert.Equal(t, pr.ID(), c.ProducerID())
	assert.Equal(t, domain.KindAudio, c.Kind())
	assert.Equal(t, "audio/opus", c.RTPParameters().Codecs[0].MimeType)
	assert.False(t, c.Paused())

	paused, err := recv.Consume(context.Background(), pr.ID(), domain.RTPCapabilities{Codecs: codecs}, true)
	require.NoError(t, err)
	assert.True(t, paused.Paused())

	pr.Close()
	assert.True(t, c.(*Consumer).Closed())
	_, err = recv.Consume(context.Background(), pr.ID(), domain.RTPCapabilities{Codecs: codecs}, false)
	assert.ErrorIs(t, err, domain.ErrProducerNotFound)
}

func TestRouterCloseCascades(t *testing.T) {
	e, r := newTestRouter(t)
	send := connected(t, r, domain.DirectionSend)
	pr, err := send.Produce(context.Background(), domain.KindAudio, opus)
	require.NoError(t, err)

	r.Close()
	assert.Equal(t, domain.TransportClosed, send.State())
	assert.True(t, pr.(*Producer).Closed())
	assert.Zero(t, e.LiveRouters())

	_, err = r.CreateTransport(context.Background(), domain.DirectionRecv)
	assert.ErrorIs(t, err, domain.ErrRoomClosed)
}

func TestFaultInjection(t *testing.T) {
	e, r := newTestRouter(t)
	boom := errors.New("boom")
	e.SetFault(func(op string) error {
		if op == "createTransport" {
			return boom
		}
		return nil
	})
	_, err := r.CreateTransport(context.Background(), domain.DirectionSend)
	assert.ErrorIs(t, err, boom)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	e.SetFault(nil)
	_, err = r.CreateTransport(ctx, domain.DirectionSend)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFailAndCandidates(t *testing.T) {
	_, r := newTestRouter(t)
	tr := connected(t, r, domain.DirectionRecv)
	require.NoError(t, tr.AddICECandidate(domain.ICECandidate{Address: "1.2.3.4", Port: 5000}))
	assert.Len(t, tr.RemoteCandidates(), 1)

	tr.Fail()
	assert.Equal(t, domain.TransportFailed, tr.State())
	assert.ErrorIs(t, tr.AddICECandidate(domain.ICECandidate{}), ErrTransportClosed)
}
