// Package loopback is an in-process media engine. It runs the whole
// negotiation state model (routers, transports, producers, consumers)
// without opening sockets, which makes it usable for local development
// and for exercising the signaling layer in tests.
package loopback

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Fault lets callers make an engine operation fail. op is one of
// "createRouter", "createTransport", "connect", "produce", "consume".
type Fault func(op string) error

type Engine struct {
	announcedIP string

	mu      sync.Mutex
	fault   Fault
	routers map[domain.RouterID]*Router

	created  atomic.Int64
	nextPort atomic.Uint32
}

func NewEngine(announcedIP string) *Engine {
	if announcedIP == "" {
		announcedIP = "127.0.0.1"
	}
	e := &Engine{
		announcedIP: announcedIP,
		routers:     make(map[domain.RouterID]*Router),
	}
	e.nextPort.Store(40000)
	return e
}

func (e *Engine) SetFault(f Fault) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fault = f
}

func (e *Engine) check(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	f := e.fault
	e.mu.Unlock()
	if f == nil {
		return nil
	}
	return f(op)
}

// RoutersCreated counts every router ever created.
func (e *Engine) RoutersCreated() int64 { return e.created.Load() }

// LiveRouters counts routers not yet closed.
func (e *Engine) LiveRouters() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.routers)
}

func (e *Engine) CreateRouter(ctx context.Context, codecs []domain.RTPCodec) (core.Router, error) {
	if err := e.check(ctx, "createRouter"); err != nil {
		return nil, err
	}
	if len(codecs) == 0 {
		return nil, fmt.Errorf("router needs at least one codec")
	}
	r := &Router{
		id:         domain.RouterID(uuid.NewString()),
		engine:     e,
		caps:       domain.RTPCapabilities{Codecs: append([]domain.RTPCodec(nil), codecs...)},
		transports: make(map[domain.TransportID]*Transport),
		producers:  make(map[domain.ProducerID]*Producer),
	}
	e.mu.Lock()
	e.routers[r.id] = r
	e.mu.Unlock()
	e.created.Add(1)
	log.Debug().Str("module", "loopback").Str("router", string(r.id)).Msg("router created")
	return r, nil
}

func (e *Engine) Close() {
	e.mu.Lock()
	routers := make([]*Router, 0, len(e.routers))
	for _, r := range e.routers {
		routers = append(routers, r)
	}
	e.mu.Unlock()
	for _, r := range routers {
		r.Close()
	}
}

func (e *Engine) forget(id domain.RouterID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.routers, id)
}

func randomFingerprint() string {
	b := make([]byte, 32)
	_, _ = rand.Read(b)
	parts := make([]string, len(b))
	for i := range b {
		parts[i] = strings.ToUpper(hex.EncodeToString(b[i : i+1]))
	}
	return strings.Join(parts, ":")
}
