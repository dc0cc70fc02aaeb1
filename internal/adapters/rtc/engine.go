// Package rtc is the media engine backed by the pion ORTC API: every
// transport is an ICE gatherer, an ICE transport and a DTLS transport,
// producers are RTP receivers and consumers are RTP senders fed by the
// sfu relays.
package rtc

import (
	"context"
	"fmt"
	"sync"

	"github.com/dkeye/huddle/internal/app/sfu"
	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/domain"
	"github.com/google/uuid"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

type Options struct {
	ICEServers  []string
	AnnouncedIP string
	UDPPortMin  uint16
	UDPPortMax  uint16
	// ICERole is the local ICE role: "controlled" (default) or "controlling".
	ICERole string
}

func DefaultOptions() Options {
	return Options{
		ICEServers: []string{"stun:stun.l.google.com:19302"},
		ICERole:    "controlled",
	}
}

type Engine struct {
	opts     Options
	settings webrtc.SettingEngine
	iceRole  webrtc.ICERole

	mu      sync.Mutex
	closed  bool
	routers map[domain.RouterID]*Router
}

func NewEngine(opts Options) (*Engine, error) {
	e := &Engine{opts: opts, routers: make(map[domain.RouterID]*Router)}

	if opts.UDPPortMin != 0 || opts.UDPPortMax != 0 {
		if err := e.settings.SetEphemeralUDPPortRange(opts.UDPPortMin, opts.UDPPortMax); err != nil {
			return nil, fmt.Errorf("udp port range: %w", err)
		}
	}
	if opts.AnnouncedIP != "" {
		e.settings.SetNAT1To1IPs([]string{opts.AnnouncedIP}, webrtc.ICECandidateTypeHost)
	}

	e.iceRole = webrtc.ICERoleControlled
	if opts.ICERole != "" {
		// UnmarshalText maps anything it does not know to ICERoleUnknown.
		if err := e.iceRole.UnmarshalText([]byte(opts.ICERole)); err != nil || e.iceRole == webrtc.ICERoleUnknown {
			return nil, fmt.Errorf("ice role %q: want controlled or controlling", opts.ICERole)
		}
	}
	return e, nil
}

func (e *Engine) iceServers() []webrtc.ICEServer {
	if len(e.opts.ICEServers) == 0 {
		return nil
	}
	return []webrtc.ICEServer{{URLs: e.opts.ICEServers}}
}

func (e *Engine) CreateRouter(ctx context.Context, codecs []domain.RTPCodec) (core.Router, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	me, err := newMediaEngine(codecs)
	if err != nil {
		return nil, err
	}
	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(me, ir); err != nil {
		return nil, fmt.Errorf("interceptors: %w", err)
	}

	r := &Router{
		id:         domain.RouterID(uuid.NewString()),
		engine:     e,
		api:        webrtc.NewAPI(webrtc.WithMediaEngine(me), webrtc.WithSettingEngine(e.settings), webrtc.WithInterceptorRegistry(ir)),
		codecs:     append([]domain.RTPCodec(nil), codecs...),
		relays:     sfu.NewRelayManager(),
		transports: make(map[domain.TransportID]*Transport),
		producers:  make(map[domain.ProducerID]*Producer),
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, fmt.Errorf("engine closed")
	}
	e.routers[r.id] = r
	log.Info().Str("module", "rtc").Str("router", string(r.id)).Int("codecs", len(codecs)).Msg("router created")
	return r, nil
}

func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
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
