/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Harold Brenes. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package wire

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harold-b/musashi-dap/internal/dvalue"
)

func receiveOne(t *testing.T, sub *Subscription) Notification {
	t.Helper()

	select {
	case n := <-sub.Out():
		return n
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for notification")
		return Notification{}
	}
}

func TestBus_DeliveryOrder(t *testing.T) {
	t.Parallel()

	bus := NewBus(context.Background())
	sub := bus.Subscribe(NotifyPrint)
	defer sub.Cancel()

	for i := 0; i < 5; i++ {
		bus.Publish(Notification{Kind: NotifyPrint, Values: []dvalue.Value{dvalue.Int(int32(i))}})
	}

	for i := 0; i < 5; i++ {
		n := receiveOne(t, sub)
		assert.Equal(t, int32(i), n.Values[0].Int, "delivery order must match publish order")
	}
}

func TestBus_KindIsolation(t *testing.T) {
	t.Parallel()

	bus := NewBus(context.Background())
	prints := bus.Subscribe(NotifyPrint)
	defer prints.Cancel()
	logs := bus.Subscribe(NotifyLog)
	defer logs.Cancel()

	bus.Publish(Notification{Kind: NotifyLog})

	n := receiveOne(t, logs)
	assert.Equal(t, NotifyLog, n.Kind)

	select {
	case <-prints.Out():
		t.Fatal("print subscriber must not see log notifications")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBus_SubscribeOnce(t *testing.T) {
	t.Parallel()

	bus := NewBus(context.Background())
	sub := bus.SubscribeOnce(NotifyDisconnect)

	bus.Publish(Notification{Kind: NotifyDisconnect, Err: ErrTransportClosed})
	// A second publish must not reach the one-shot subscriber.
	bus.Publish(Notification{Kind: NotifyDisconnect, Err: ErrTransportClosed})

	first := receiveOne(t, sub)
	require.ErrorIs(t, first.Err, ErrTransportClosed)

	// Channel closes after the single delivery.
	select {
	case _, ok := <-sub.Out():
		assert.False(t, ok, "one-shot subscription channel should be closed")
	case <-time.After(time.Second):
		t.Fatal("one-shot subscription channel was not closed")
	}
}

func TestBus_CancelIsIdempotent(t *testing.T) {
	t.Parallel()

	bus := NewBus(context.Background())
	sub := bus.Subscribe(NotifyStatus)

	sub.Cancel()
	sub.Cancel()

	// Publishing after cancel must not panic or deliver.
	bus.Publish(Notification{Kind: NotifyStatus})

	_, ok := <-sub.Out()
	assert.False(t, ok)
}
