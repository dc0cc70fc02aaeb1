package core

import (
	"context"

	"github.com/dkeye/huddle/internal/domain"
)

// Engine is the media engine adapter: one worker able to host routers.
type Engine interface {
	CreateRouter(ctx context.Context, codecs []domain.RTPCodec) (Router, error)
	Close()
}

// Router scopes which producers and consumers may be paired. One per room.
type Router interface {
	ID() domain.RouterID
	RTPCapabilities() domain.RTPCapabilities
	CreateTransport(ctx context.Context, dir domain.Direction) (Transport, error)
	// Close releases the router and every transport created on it.
	Close()
}

type Transport interface {
	ID() domain.TransportID
	Direction() domain.Direction
	Params() domain.TransportParams
	// Connect completes the DTLS handshake. ICE parameters are optional
	// for engines running ICE-lite.
	Connect(ctx context.Context, dtls domain.DTLSParameters, ice *domain.ICEParameters) error
	Produce(ctx context.Context, kind domain.MediaKind, params domain.RTPParameters) (Producer, error)
	// Consume fails with domain.ErrProducerNotFound when the producer is gone.
	// A paused consumer receives no media until Resume.
	Consume(ctx context.Context, producerID domain.ProducerID, caps domain.RTPCapabilities, paused bool) (Consumer, error)
	AddICECandidate(domain.ICECandidate) error
	// OnStateChange sets a callback invoked on every transport state change.
	OnStateChange(func(domain.TransportState))
	// Close closes the transport with its producers and consumers.
	Close()
}

type Producer interface {
	ID() domain.ProducerID
	Kind() domain.MediaKind
	Close()
}

type Consumer interface {
	ID() domain.ConsumerID
	ProducerID() domain.ProducerID
	Kind() domain.MediaKind
	RTPParameters() domain.RTPParameters
	// Pause stops forwarding media to the consumer until Resume.
	Pause()
	Resume()
	Paused() bool
	Close()
}
