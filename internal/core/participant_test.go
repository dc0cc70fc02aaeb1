package core_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParticipantStateNeverMovesBack(t *testing.T) {
	p, _ := newParticipant("p1")
	assert.Equal(t, core.StateJoining, p.State())

	p.Advance(core.StateActive)
	p.Advance(core.StateCapabilitiesSent)
	assert.Equal(t, core.StateActive, p.State())

	assert.True(t, p.MarkLeft())
	assert.False(t, p.MarkLeft())
	p.Advance(core.StateActive)
	assert.Equal(t, core.StateLeft, p.State())
	assert.Equal(t, "left", p.State().String())
}

func TestParticipantSetMemberOnce(t *testing.T) {
	p, _ := newParticipant("p1")
	member(t, p, "room")
	assert.Equal(t, domain.RoomID("room"), p.RoomID())

	u, _ := domain.NewUser("p1", "again")
	assert.ErrorIs(t, p.SetMember(domain.NewMember(u, "other")), domain.ErrAlreadyJoined)

	p.ClearMember()
	assert.Empty(t, p.RoomID())
}

func TestParticipantOneTransportPerDirection(t *testing.T) {
	_, router := newRouter(t)
	p, _ := newParticipant("p1")
	p.Advance(core.StateCapabilitiesSent)

	require.NoError(t, p.ReserveTransport(domain.DirectionSend))
	assert.ErrorIs(t, p.ReserveTransport(domain.DirectionSend), domain.ErrTransportExists)

	tr, err := router.CreateTransport(context.Background(), domain.DirectionSend)
	require.NoError(t, err)
	require.NoError(t, p.AttachTransport(tr))
	assert.Equal(t, core.StateProducerTransportPending, p.State())

	err = p.ReserveTransport(domain.DirectionSend)
	var se *domain.SignalError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, tr.ID(), se.TransportID)

	require.NoError(t, p.ReserveTransport(domain.DirectionRecv))
	p.ReleaseReservation(domain.DirectionRecv)
	require.NoError(t, p.ReserveTransport(domain.DirectionRecv))
}

func TestParticipantDetachIsIdempotent(t *testing.T) {
	_, router := newRouter(t)
	p, _ := newParticipant("p1")
	p.Advance(core.StateCapabilitiesSent)
	tr, err := router.CreateTransport(context.Background(), domain.DirectionSend)
	require.NoError(t, err)
	require.NoError(t, p.AttachTransport(tr))
	require.NoError(t, tr.Connect(context.Background(), remoteDTLS, nil))
	require.True(t, p.MarkConnected(tr.ID()))

	pr, err := tr.Produce(context.Background(), domain.KindAudio, domain.RTPParameters{
		Codecs:    []domain.RTPCodecParameters{{MimeType: "audio/opus", PayloadType: 111, ClockRate: 48000}},
		Encodings: []domain.RTPEncoding{{SSRC: 1}},
	})
	require.NoError(t, err)
	require.NoError(t, p.AddProducer(tr.ID(), pr))
	assert.ErrorIs(t, p.AddProducer(tr.ID(), pr), domain.ErrAlreadyProducing)
	assert.True(t, p.OwnsProducer(pr.ID()))

	d, ok := p.DetachTransport(tr.ID())
	require.True(t, ok)
	assert.Len(t, d.Producers, 1)
	assert.False(t, p.HasProducer(domain.KindAudio))
	assert.Equal(t, core.StateCapabilitiesSent, p.State())

	_, ok = p.DetachTransport(tr.ID())
	assert.False(t, ok)
	_, ok = p.Transport(tr.ID())
	assert.False(t, ok)

	assert.False(t, p.OwnsProducer(pr.ID()))
	assert.ErrorIs(t, p.AddProducer(tr.ID(), pr), domain.ErrTransportNotFound)
	assert.False(t, p.HasProducer(domain.KindAudio))
}

func TestParticipantConsumesProducerOnce(t *testing.T) {
	_, router := newRouter(t)
	ctx := context.Background()
	params := domain.RTPParameters{
		Codecs:    []domain.RTPCodecParameters{{MimeType: "audio/opus", PayloadType: 111, ClockRate: 48000}},
		Encodings: []domain.RTPEncoding{{SSRC: 1}},
	}

	send, err := router.CreateTransport(ctx, domain.DirectionSend)
	require.NoError(t, err)
	require.NoError(t, send.Connect(ctx, remoteDTLS, nil))
	pr, err := send.Produce(ctx, domain.KindAudio, params)
	require.NoError(t, err)

	p, _ := newParticipant("p1")
	p.Advance(core.StateCapabilitiesSent)
	recv, err := router.CreateTransport(ctx, domain.DirectionRecv)
	require.NoError(t, err)
	require.NoError(t, p.AttachTransport(recv))

	caps := domain.RTPCapabilities{Codecs: testCodecs}
	first, err := recv.Consume(ctx, pr.ID(), caps, false)
	require.NoError(t, err)
	second, err := recv.Consume(ctx, pr.ID(), caps, false)
	require.NoError(t, err)

	assert.ErrorIs(t, p.AddConsumer("elsewhere", first), domain.ErrTransportNotFound)
	require.NoError(t, p.AddConsumer(recv.ID(), first))
	assert.ErrorIs(t, p.AddConsumer(recv.ID(), second), domain.ErrAlreadyConsuming)
	assert.Equal(t, 1, p.ConsumerCount())

	got, ok := p.ConsumerOf(pr.ID())
	require.True(t, ok)
	assert.Equal(t, first.ID(), got.ID())
}

func TestParticipantAttachAfterLeft(t *testing.T) {
	_, router := newRouter(t)
	p, _ := newParticipant("p1")
	require.NoError(t, p.ReserveTransport(domain.DirectionRecv))
	tr, err := router.CreateTransport(context.Background(), domain.DirectionRecv)
	require.NoError(t, err)

	p.MarkLeft()
	assert.ErrorIs(t, p.AttachTransport(tr), domain.ErrParticipantLeft)
	assert.ErrorIs(t, p.ReserveTransport(domain.DirectionRecv), domain.ErrParticipantLeft)
}

func TestParticipantReaper(t *testing.T) {
	_, router := newRouter(t)
	p, _ := newParticipant("p1")
	p.Advance(core.StateCapabilitiesSent)

	fired := make(chan struct{})
	tr, err := router.CreateTransport(context.Background(), domain.DirectionRecv)
	require.NoError(t, err)
	require.NoError(t, p.AttachTransport(tr))
	p.ArmReaper(tr.ID(), 10*time.Millisecond, func() { close(fired) })

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("reaper did not fire")
	}

	var calls atomic.Int32
	tr2, err := router.CreateTransport(context.Background(), domain.DirectionSend)
	require.NoError(t, err)
	require.NoError(t, p.AttachTransport(tr2))
	p.ArmReaper(tr2.ID(), 20*time.Millisecond, func() { calls.Add(1) })
	require.True(t, p.MarkConnected(tr2.ID()))
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, calls.Load())
}
