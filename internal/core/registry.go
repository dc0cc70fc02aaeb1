package core

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sync"

	"github.com/dkeye/huddle/internal/domain"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
	"golang.org/x/sync/singleflight"
)

// Registry maps room ids to rooms. Rooms are created lazily on first
// join and released when their last participant leaves.
type Registry struct {
	engine Engine
	codecs []domain.RTPCodec

	group singleflight.Group
	mu    sync.RWMutex
	rooms map[domain.RoomID]RoomService

	onCreate  func(domain.RoomID)
	onRelease func(domain.RoomID)
}

func NewRegistry(engine Engine, codecs []domain.RTPCodec) *Registry {
	return &Registry{
		engine: engine,
		codecs: codecs,
		rooms:  make(map[domain.RoomID]RoomService),
	}
}

// OnLifecycle sets hooks fired after a room is created or released.
func (r *Registry) OnLifecycle(onCreate, onRelease func(domain.RoomID)) {
	r.onCreate = onCreate
	r.onRelease = onRelease
}

// Get returns a live room.
func (r *Registry) Get(id domain.RoomID) (RoomService, bool) {
	r.mu.RLock()
	room, ok := r.rooms[id]
	r.mu.RUnlock()
	if !ok || room.Closed() {
		return nil, false
	}
	return room, true
}

// GetOrCreate returns the room for id, creating its router on first use.
// Concurrent callers for the same unknown id share one router creation.
func (r *Registry) GetOrCreate(ctx context.Context, id domain.RoomID) (RoomService, error) {
	if err := domain.ValidateRoomID(id); err != nil {
		return nil, err
	}
	if room, ok := r.Get(id); ok {
		return room, nil
	}
	v, err, _ := r.group.Do(string(id), func() (any, error) {
		if room, ok := r.Get(id); ok {
			return room, nil
		}
		router, err := r.engine.CreateRouter(ctx, r.codecs)
		if err != nil {
			return nil, domain.EngineError(err)
		}
		room := NewRoomService(id, router)
		r.mu.Lock()
		r.rooms[id] = room
		r.mu.Unlock()
		log.Info().Str("module", "core.registry").Str("room", string(id)).Str("router", string(router.ID())).Msg("room created")
		if r.onCreate != nil {
			r.onCreate(id)
		}
		return room, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(RoomService), nil
}

// Join resolves the room and registers p in it. A room torn down between
// lookup and registration is recreated.
func (r *Registry) Join(ctx context.Context, id domain.RoomID, p *Participant, welcome func(RoomService, Welcome)) (RoomService, error) {
	for {
		room, err := r.GetOrCreate(ctx, id)
		if err != nil {
			return nil, err
		}
		err = room.AddParticipant(p, func(w Welcome) {
			if welcome != nil {
				welcome(room, w)
			}
		})
		if errors.Is(err, domain.ErrRoomClosed) {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}
		if err != nil {
			return nil, err
		}
		return room, nil
	}
}

// RemoveParticipant removes the participant, closes its transports, and
// releases the room when it became empty. Safe to call repeatedly.
func (r *Registry) RemoveParticipant(id domain.RoomID, p *Participant) bool {
	r.mu.RLock()
	room, ok := r.rooms[id]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	removed, empty := room.RemoveParticipant(p.ID())
	for _, d := range p.DetachAll() {
		room.UntrackTransport(d.Transport.ID())
		d.Transport.Close()
	}
	if empty {
		r.releaseIfEmpty(id, room)
	}
	return removed
}

func (r *Registry) releaseIfEmpty(id domain.RoomID, room RoomService) {
	if !room.CloseIfEmpty() {
		return
	}
	r.mu.Lock()
	if cur, ok := r.rooms[id]; ok && cur == room {
		delete(r.rooms, id)
	}
	r.mu.Unlock()
	room.Release()
	log.Info().Str("module", "core.registry").Str("room", string(id)).Msg("room removed")
	if r.onRelease != nil {
		r.onRelease(id)
	}
}

func (r *Registry) List() []RoomInfo {
	r.mu.RLock()
	rooms := make([]RoomService, 0, len(r.rooms))
	for _, id := range slices.Sorted(maps.Keys(r.rooms)) {
		rooms = append(rooms, r.rooms[id])
	}
	r.mu.RUnlock()

	out := make([]RoomInfo, 0, len(rooms))
	for _, room := range rooms {
		out = append(out, RoomInfo{
			ID:               room.ID(),
			ParticipantCount: room.ParticipantCount(),
			ProducerCount:    len(room.ProducersSnapshot()),
			TransportCount:   room.TransportCount(),
		})
	}
	return out
}

// Close releases every room. Used on shutdown.
func (r *Registry) Close() {
	r.mu.Lock()
	rooms := slices.Collect(maps.Values(r.rooms))
	clear(r.rooms)
	r.mu.Unlock()

	var wg conc.WaitGroup
	for _, room := range rooms {
		wg.Go(room.Release)
	}
	wg.Wait()
	log.Info().Str("module", "core.registry").Int("rooms", len(rooms)).Msg("registry closed")
}
