package loopback

import (
	"sync"
	"sync/atomic"

	"github.com/dkeye/huddle/internal/domain"
)

type Producer struct {
	id        domain.ProducerID
	kind      domain.MediaKind
	params    domain.RTPParameters
	transport *Transport

	mu        sync.Mutex
	closed    bool
	consumers map[domain.ConsumerID]*Consumer
}

func (p *Producer) ID() domain.ProducerID  { return p.id }
func (p *Producer) Kind() domain.MediaKind { return p.kind }

func (p *Producer) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Producer) attach(c *Consumer) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.consumers[c.id] = c
	return true
}

func (p *Producer) detach(id domain.ConsumerID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.consumers, id)
}

// Close closes the producer and every consumer bound to it.
func (p *Producer) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	consumers := make([]*Consumer, 0, len(p.consumers))
	for _, c := range p.consumers {
		consumers = append(consumers, c)
	}
	clear(p.consumers)
	p.mu.Unlock()

	for _, c := range consumers {
		c.Close()
	}
	p.transport.router.removeProducer(p.id)
}

type Consumer struct {
	id        domain.ConsumerID
	producer  *Producer
	params    domain.RTPParameters
	transport *Transport
	paused    atomic.Bool

	mu     sync.Mutex
	closed bool
}

func (c *Consumer) ID() domain.ConsumerID               { return c.id }
func (c *Consumer) ProducerID() domain.ProducerID       { return c.producer.id }
func (c *Consumer) Kind() domain.MediaKind              { return c.producer.kind }
func (c *Consumer) RTPParameters() domain.RTPParameters { return c.params }

func (c *Consumer) Pause()       { c.paused.Store(true) }
func (c *Consumer) Resume()      { c.paused.Store(false) }
func (c *Consumer) Paused() bool { return c.paused.Load() }

func (c *Consumer) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Consumer) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	c.producer.detach(c.id)
	c.transport.removeConsumer(c.id)
}
