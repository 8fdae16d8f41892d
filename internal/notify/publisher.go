// Package notify fans terminal transaction events out to waiting clients.
package notify

import (
	"context"
	"fmt"
	"log"
	"sync"

	"payment_reconciliation/internal/domain"
)

// Lookup reads the current state of a transaction.
type Lookup interface {
	Get(id string) (domain.PendingTransaction, error)
}

// Subscription receives exactly one terminal event on Events, after which the
// channel is closed. Close (or cancelling the subscribe context) closes the
// channel early without an event.
type Subscription struct {
	TransactionID string
	Events        <-chan domain.Event

	events chan domain.Event
	once   sync.Once
	pub    *Publisher

	mu       sync.Mutex
	detached bool
	stopWait func() bool
}

func (s *Subscription) deliver(ev domain.Event) {
	s.once.Do(func() {
		s.events <- ev
		close(s.events)
	})
	s.detach()
}

// Close detaches the subscription. It does not affect the transaction.
func (s *Subscription) Close() {
	s.pub.unregister(s)
	s.once.Do(func() { close(s.events) })
	s.detach()
}

// watch ties the subscription to ctx. A subscription that already finished
// releases the context callback straight away.
func (s *Subscription) watch(ctx context.Context) {
	stop := context.AfterFunc(ctx, s.Close)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.detached {
		stop()
		return
	}
	s.stopWait = stop
}

func (s *Subscription) detach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detached = true
	if s.stopWait != nil {
		s.stopWait()
		s.stopWait = nil
	}
}

// Publisher keeps one topic per transaction id. Its lock covers subscriber
// bookkeeping only; transaction state lives in the registry.
type Publisher struct {
	mu     sync.Mutex
	topics map[string]map[*Subscription]struct{}
	lookup Lookup
}

func NewPublisher(lookup Lookup) *Publisher {
	return &Publisher{
		topics: make(map[string]map[*Subscription]struct{}),
		lookup: lookup,
	}
}

// Subscribe waits for the terminal event of id. A transaction that is already
// terminal yields its event immediately.
func (p *Publisher) Subscribe(ctx context.Context, id string) (*Subscription, error) {
	if _, err := p.lookup.Get(id); err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", id, err)
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", id, err)
	}

	ch := make(chan domain.Event, 1)
	s := &Subscription{TransactionID: id, Events: ch, events: ch, pub: p}

	p.mu.Lock()
	subs, ok := p.topics[id]
	if !ok {
		subs = make(map[*Subscription]struct{})
		p.topics[id] = subs
	}
	subs[s] = struct{}{}
	p.mu.Unlock()

	// Registered first, so a cancellation from here on always finds the
	// subscription to remove.
	s.watch(ctx)

	// Read the state again after registering: a resolution that landed in
	// between has either emitted to us already or is visible here.
	t, err := p.lookup.Get(id)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("subscribe %s: %w", id, err)
	}
	if t.Status.Terminal() {
		p.unregister(s)
		s.deliver(domain.EventFor(t))
	}
	return s, nil
}

// Emit delivers ev to every subscriber of id and drops the topic. It never
// blocks: each subscription has room for its single event.
func (p *Publisher) Emit(id string, ev domain.Event) {
	p.mu.Lock()
	subs := p.topics[id]
	delete(p.topics, id)
	p.mu.Unlock()

	for s := range subs {
		s.deliver(ev)
	}
	if len(subs) > 0 {
		log.Printf("INFO: Delivered %s event for %s to %d subscribers", ev.Status, id, len(subs))
	}
}

func (p *Publisher) subscriberCount(id string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.topics[id])
}

func (p *Publisher) unregister(s *Subscription) {
	p.mu.Lock()
	defer p.mu.Unlock()
	subs, ok := p.topics[s.TransactionID]
	if !ok {
		return
	}
	delete(subs, s)
	if len(subs) == 0 {
		delete(p.topics, s.TransactionID)
	}
}
