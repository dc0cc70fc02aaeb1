package rtc

import (
	"errors"
	"io"
	"sync"
	"time"

	"github.com/dkeye/huddle/internal/domain"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// relayDrainTimeout bounds how long closing a producer waits for its
// relay loop to notice the stopped receiver.
const relayDrainTimeout = time.Second

type Producer struct {
	id        domain.ProducerID
	kind      domain.MediaKind
	codec     domain.RTPCodec
	ssrc      uint32
	transport *Transport
	receiver  *webrtc.RTPReceiver

	mu     sync.Mutex
	closed bool
}

func (p *Producer) ID() domain.ProducerID  { return p.id }
func (p *Producer) Kind() domain.MediaKind { return p.kind }

func (p *Producer) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// RequestKeyFrame asks the sender for a fresh keyframe so that a new
// consumer does not wait for the next periodic one.
func (p *Producer) RequestKeyFrame() {
	err := p.transport.writeRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: p.ssrc}})
	if err != nil {
		log.Debug().Err(err).Str("module", "rtc").Str("producer", string(p.id)).Msg("PLI not sent")
	}
}

// Close stops the receiver; the relay then marks every out track for
// deletion. Consumers themselves are closed by their owners.
func (p *Producer) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	done := p.transport.router.relays.StopRelay(p.id)
	if err := p.receiver.Stop(); err != nil {
		log.Debug().Err(err).Str("module", "rtc").Str("producer", string(p.id)).Msg("receiver stop")
	}
	if done != nil {
		select {
		case <-done:
		case <-time.After(relayDrainTimeout):
			log.Warn().Str("module", "rtc").Str("producer", string(p.id)).Msg("relay loop still running after close")
		}
	}
	p.transport.router.removeProducer(p.id)
	p.transport.removeProducer(p.id)
}

type Consumer struct {
	id        domain.ConsumerID
	producer  *Producer
	sender    *webrtc.RTPSender
	params    domain.RTPParameters
	transport *Transport

	mu     sync.Mutex
	closed bool
	paused bool
}

func (c *Consumer) ID() domain.ConsumerID               { return c.id }
func (c *Consumer) ProducerID() domain.ProducerID       { return c.producer.id }
func (c *Consumer) Kind() domain.MediaKind              { return c.producer.kind }
func (c *Consumer) RTPParameters() domain.RTPParameters { return c.params }

func (c *Consumer) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.paused = true
	c.transport.router.relays.PauseSubscriber(c.producer.id, c.id)
}

// Resume restarts forwarding and asks the producer for a keyframe so the
// decoder does not wait for the next one.
func (c *Consumer) Resume() {
	c.mu.Lock()
	if c.closed || !c.paused {
		c.mu.Unlock()
		return
	}
	c.paused = false
	c.transport.router.relays.ResumeSubscriber(c.producer.id, c.id)
	c.mu.Unlock()
	c.producer.RequestKeyFrame()
}

func (c *Consumer) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// readRTCP drains receiver feedback and relays keyframe requests to the
// producer.
func (c *Consumer) readRTCP() {
	for {
		pkts, _, err := c.sender.ReadRTCP()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
				log.Debug().Err(err).Str("module", "rtc").Str("consumer", string(c.id)).Msg("rtcp read ended")
			}
			return
		}
		for _, pkt := range pkts {
			switch pkt.(type) {
			case *rtcp.PictureLossIndication, *rtcp.FullIntraRequest:
				c.producer.RequestKeyFrame()
			}
		}
	}
}

func (c *Consumer) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.transport.router.relays.MarkSubscriberDelete(c.producer.id, c.id)
	if err := c.sender.Stop(); err != nil {
		log.Debug().Err(err).Str("module", "rtc").Str("consumer", string(c.id)).Msg("sender stop")
	}
	c.transport.removeConsumer(c.id)
}
