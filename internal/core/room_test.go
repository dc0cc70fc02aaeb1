package core_test

import (
	"testing"

	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProducer struct {
	id   domain.ProducerID
	kind domain.MediaKind
}

func (s stubProducer) ID() domain.ProducerID  { return s.id }
func (s stubProducer) Kind() domain.MediaKind { return s.kind }
func (s stubProducer) Close()                 {}

func TestRoomWelcomeSeesEarlierState(t *testing.T) {
	_, router := newRouter(t)
	room := core.NewRoomService("r1", router)

	alice, _ := newParticipant("alice")
	member(t, alice, "r1")
	require.NoError(t, room.AddParticipant(alice, nil))
	alice.Advance(core.StateActive)
	_, err := room.AddProducer("alice", stubProducer{id: "pa", kind: domain.KindAudio}, nil)
	require.NoError(t, err)

	bob, _ := newParticipant("bob")
	member(t, bob, "r1")
	var got core.Welcome
	require.NoError(t, room.AddParticipant(bob, func(w core.Welcome) { got = w }))

	require.Len(t, got.Peers, 1)
	assert.Equal(t, domain.ParticipantID("alice"), got.Peers[0].ID)
	require.Len(t, got.Producers, 1)
	assert.Equal(t, domain.ProducerID("pa"), got.Producers[0].ID)
	assert.NotEmpty(t, got.RTPCapabilities.Codecs)

	assert.ErrorIs(t, room.AddParticipant(bob, nil), domain.ErrAlreadyJoined)
}

func TestRoomBroadcastSkipsSenderAndLeft(t *testing.T) {
	_, router := newRouter(t)
	room := core.NewRoomService("r1", router)

	a, recA := newParticipant("a")
	b, recB := newParticipant("b")
	c, recC := newParticipant("c")
	for _, p := range []*core.Participant{a, b, c} {
		require.NoError(t, room.AddParticipant(p, nil))
	}
	c.MarkLeft()

	res := room.Broadcast("a", core.Envelope{Type: core.EventParticipantJoined})
	assert.Equal(t, 1, res.SendTo)
	assert.Empty(t, recA.types())
	assert.Equal(t, []string{core.EventParticipantJoined}, recB.types())
	assert.Empty(t, recC.types())
}

func TestRoomBroadcastReportsDropped(t *testing.T) {
	_, router := newRouter(t)
	room := core.NewRoomService("r1", router)

	a, _ := newParticipant("a")
	b, recB := newParticipant("b")
	recB.full = true
	require.NoError(t, room.AddParticipant(a, nil))
	require.NoError(t, room.AddParticipant(b, nil))

	res := room.Broadcast("a", core.Envelope{Type: core.EventNewProducer})
	assert.Zero(t, res.SendTo)
	require.Len(t, res.Dropped, 1)
	assert.Equal(t, b, res.Dropped[0])
}

func TestRoomProducerConsumerLinks(t *testing.T) {
	_, router := newRouter(t)
	room := core.NewRoomService("r1", router)
	a, _ := newParticipant("a")
	require.NoError(t, room.AddParticipant(a, nil))

	_, err := room.AddProducer("ghost", stubProducer{id: "px"}, nil)
	assert.ErrorIs(t, err, domain.ErrParticipantLeft)

	_, err = room.AddProducer("a", stubProducer{id: "p1", kind: domain.KindVideo}, nil)
	require.NoError(t, err)
	require.NoError(t, room.AddConsumer("p1", "b", "c1"))
	assert.ErrorIs(t, room.AddConsumer("nope", "b", "c2"), domain.ErrProducerNotFound)

	e, ok := room.RemoveProducer("p1")
	require.True(t, ok)
	assert.Equal(t, map[domain.ConsumerID]domain.ParticipantID{"c1": "b"}, e.Consumers)
	_, ok = room.RemoveProducer("p1")
	assert.False(t, ok)
	assert.ErrorIs(t, room.AddConsumer("p1", "b", "c3"), domain.ErrProducerNotFound)
}

func TestRoomClosedRejectsJoin(t *testing.T) {
	e, router := newRouter(t)
	room := core.NewRoomService("r1", router)
	assert.True(t, room.CloseIfEmpty())
	p, _ := newParticipant("late")
	assert.ErrorIs(t, room.AddParticipant(p, nil), domain.ErrRoomClosed)

	room.Release()
	assert.Zero(t, e.LiveRouters())
}
