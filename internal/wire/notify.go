/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Harold Brenes. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package wire

import (
	"context"
	"sync"

	"github.com/smallnest/chanx"

	"github.com/harold-b/musashi-dap/internal/dvalue"
)

// Notification is one unsolicited runtime message, or one of the synthetic
// kinds (attach-result, disconnect).
type Notification struct {
	Kind int

	// Values is the raw body for wire notifications, excluding the leading
	// subtype integer. Empty for synthetic kinds.
	Values []dvalue.Value

	// Err carries the failure for synthetic kinds (nil attach-result means
	// the handshake succeeded; disconnect always carries the close cause).
	Err error
}

// Bus dispatches notifications to subscribers keyed by kind. Delivery order
// matches publish order; nothing is coalesced. Publishing never blocks: each
// subscription drains through an unbounded queue.
type Bus struct {
	ctx context.Context

	mu   sync.Mutex
	subs map[int][]*Subscription
}

// NewBus creates a bus whose subscription queues live until ctx is
// cancelled.
func NewBus(ctx context.Context) *Bus {
	return &Bus{
		ctx:  ctx,
		subs: make(map[int][]*Subscription),
	}
}

// Subscription is one registered listener. Read notifications from Out;
// call Cancel when done. One-shot subscriptions cancel themselves after the
// first delivery and their Out channel is closed.
type Subscription struct {
	bus  *Bus
	kind int
	once bool

	mu        sync.Mutex
	cancelled bool
	queue     *chanx.UnboundedChan[Notification]
}

// Subscribe registers a listener for one notification kind.
func (b *Bus) Subscribe(kind int) *Subscription {
	return b.subscribe(kind, false)
}

// SubscribeOnce registers a listener that auto-unsubscribes after the first
// delivery.
func (b *Bus) SubscribeOnce(kind int) *Subscription {
	return b.subscribe(kind, true)
}

func (b *Bus) subscribe(kind int, once bool) *Subscription {
	sub := &Subscription{
		bus:   b,
		kind:  kind,
		once:  once,
		queue: chanx.NewUnboundedChan[Notification](b.ctx, 8),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[kind] = append(b.subs[kind], sub)
	return sub
}

// Publish delivers n to every subscriber of its kind, in subscription order.
func (b *Bus) Publish(n Notification) {
	b.mu.Lock()
	current := append([]*Subscription(nil), b.subs[n.Kind]...)
	b.mu.Unlock()

	for _, sub := range current {
		sub.deliver(n)
	}
}

// Out returns the subscription's delivery channel. It is closed when the
// subscription is cancelled.
func (s *Subscription) Out() <-chan Notification {
	return s.queue.Out
}

// Cancel removes the subscription and closes its delivery channel. Safe to
// call more than once.
func (s *Subscription) Cancel() {
	s.mu.Lock()
	if s.cancelled {
		s.mu.Unlock()
		return
	}
	s.cancelled = true
	close(s.queue.In)
	s.mu.Unlock()

	s.bus.remove(s)
}

func (s *Subscription) deliver(n Notification) {
	s.mu.Lock()
	if s.cancelled {
		s.mu.Unlock()
		return
	}
	s.queue.In <- n
	if s.once {
		s.cancelled = true
		close(s.queue.In)
		s.mu.Unlock()
		s.bus.remove(s)
		return
	}
	s.mu.Unlock()
}

func (b *Bus) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	current := b.subs[sub.kind]
	for i, candidate := range current {
		if candidate == sub {
			b.subs[sub.kind] = append(current[:i], current[i+1:]...)
			return
		}
	}
}
