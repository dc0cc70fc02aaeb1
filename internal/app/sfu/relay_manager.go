// Package sfu forwards RTP from producers to their consumers.
package sfu

import (
	"context"
	"sync"

	"github.com/dkeye/huddle/internal/domain"
	"github.com/rs/zerolog/log"
)

type RelayManager struct {
	mu     sync.RWMutex
	relays map[domain.ProducerID]*Relay
}

func NewRelayManager() *RelayManager {
	return &RelayManager{
		relays: make(map[domain.ProducerID]*Relay),
	}
}

// StartRelay creates the relay of a producer and starts its loop.
func (m *RelayManager) StartRelay(ctx context.Context, id domain.ProducerID, src RTPSource) *Relay {
	logger := log.With().
		Str("module", "relay").
		Str("producer", string(id)).
		Logger()

	relayCtx, cancel := context.WithCancel(ctx)
	relay := NewRelay(src, cancel)

	m.mu.Lock()
	if old, ok := m.relays[id]; ok {
		logger.Info().Msg("replacing existing relay for producer")
		old.markAllDelete()
		old.cancel()
	}
	m.relays[id] = relay
	m.mu.Unlock()

	logger.Debug().Msg("starting relay loop")
	go relay.loop(relayCtx, &logger)
	return relay
}

// AddSubscriber attaches a consumer's writer to the relay of producer.
// A paused subscriber gets no packet until ResumeSubscriber. It reports
// false when the producer has no relay.
func (m *RelayManager) AddSubscriber(producer domain.ProducerID, consumer domain.ConsumerID, w RTPWriter, paused bool) bool {
	relay, ok := m.relay(producer)
	if !ok {
		return false
	}
	ot := NewOutTrack(w)
	if paused {
		ot.MarkPaused()
	}
	relay.AddOutTrack(consumer, ot)
	return true
}

// MarkSubscriberDelete stops forwarding to consumer; the relay drops the
// out track on its next packet.
func (m *RelayManager) MarkSubscriberDelete(producer domain.ProducerID, consumer domain.ConsumerID) {
	if ot, ok := m.outTrack(producer, consumer); ok {
		ot.MarkDelete()
	}
}

func (m *RelayManager) PauseSubscriber(producer domain.ProducerID, consumer domain.ConsumerID) {
	if ot, ok := m.outTrack(producer, consumer); ok {
		ot.MarkPaused()
	}
}

func (m *RelayManager) ResumeSubscriber(producer domain.ProducerID, consumer domain.ConsumerID) {
	if ot, ok := m.outTrack(producer, consumer); ok {
		ot.MarkOk()
	}
}

// StopRelay stops a relay and removes it from the manager. The returned
// channel is closed once the relay loop returned; it is nil when the
// producer had no relay.
func (m *RelayManager) StopRelay(producer domain.ProducerID) <-chan struct{} {
	m.mu.Lock()
	relay, ok := m.relays[producer]
	if ok {
		delete(m.relays, producer)
	}
	m.mu.Unlock()
	if !ok {
		return nil
	}
	log.Debug().Str("module", "relay").Str("producer", string(producer)).Int("subscribers", relay.Len()).Msg("stopping relay")
	relay.markAllDelete()
	relay.cancel()
	return relay.Done()
}

func (m *RelayManager) relay(producer domain.ProducerID) (*Relay, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	relay, ok := m.relays[producer]
	return relay, ok
}

func (m *RelayManager) outTrack(producer domain.ProducerID, consumer domain.ConsumerID) (*OutTrack, bool) {
	relay, ok := m.relay(producer)
	if !ok {
		return nil, false
	}
	return relay.outTrack(consumer)
}
