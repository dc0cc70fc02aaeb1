package core_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/dkeye/huddle/internal/adapters/loopback"
	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryConcurrentFirstJoinSharesRouter(t *testing.T) {
	engine := loopback.NewEngine("")
	reg := core.NewRegistry(engine, testCodecs)

	const n = 16
	var wg sync.WaitGroup
	routers := make([]domain.RouterID, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, _ := newParticipant(string(rune('a' + i)))
			room, err := reg.Join(context.Background(), "lobby", p, nil)
			assert.NoError(t, err)
			routers[i] = room.Router().ID()
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, engine.RoutersCreated())
	for _, id := range routers {
		assert.Equal(t, routers[0], id)
	}
	require.Len(t, reg.List(), 1)
	assert.Equal(t, n, reg.List()[0].ParticipantCount)
}

func TestRegistryTeardownAndRecreate(t *testing.T) {
	engine := loopback.NewEngine("")
	reg := core.NewRegistry(engine, testCodecs)
	var created, released []domain.RoomID
	reg.OnLifecycle(
		func(id domain.RoomID) { created = append(created, id) },
		func(id domain.RoomID) { released = append(released, id) },
	)

	p, _ := newParticipant("solo")
	member(t, p, "r")
	room, err := reg.Join(context.Background(), "r", p, nil)
	require.NoError(t, err)
	first := room.Router().ID()

	assert.True(t, reg.RemoveParticipant("r", p))
	assert.False(t, reg.RemoveParticipant("r", p))
	_, ok := reg.Get("r")
	assert.False(t, ok)
	assert.Zero(t, engine.LiveRouters())

	q, _ := newParticipant("next")
	room, err = reg.Join(context.Background(), "r", q, nil)
	require.NoError(t, err)
	assert.NotEqual(t, first, room.Router().ID())
	assert.Equal(t, []domain.RoomID{"r", "r"}, created)
	assert.Equal(t, []domain.RoomID{"r"}, released)
}

func TestRegistryRouterFailure(t *testing.T) {
	engine := loopback.NewEngine("")
	engine.SetFault(func(op string) error {
		if op == "createRouter" {
			return errors.New("no worker")
		}
		return nil
	})
	reg := core.NewRegistry(engine, testCodecs)
	p, _ := newParticipant("p")
	_, err := reg.Join(context.Background(), "r", p, nil)
	assert.ErrorIs(t, err, domain.ErrEngineFailure)
	assert.Empty(t, reg.List())

	_, err = reg.GetOrCreate(context.Background(), "")
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestRegistryCloseReleasesEverything(t *testing.T) {
	engine := loopback.NewEngine("")
	reg := core.NewRegistry(engine, testCodecs)
	for _, id := range []domain.RoomID{"a", "b"} {
		p, _ := newParticipant("p-" + string(id))
		_, err := reg.Join(context.Background(), id, p, nil)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, engine.LiveRouters())

	reg.Close()
	assert.Zero(t, engine.LiveRouters())
	assert.Empty(t, reg.List())
}
