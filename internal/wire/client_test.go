/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Harold Brenes. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package wire

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harold-b/musashi-dap/internal/dvalue"
)

// runtimePeer scripts the runtime end of a debug connection for tests.
type runtimePeer struct {
	t        *testing.T
	conn     net.Conn
	incoming chan Message
}

func newRuntimePeer(t *testing.T, conn net.Conn) *runtimePeer {
	p := &runtimePeer{
		t:        t,
		conn:     conn,
		incoming: make(chan Message, 16),
	}
	go p.readLoop()
	return p
}

func (p *runtimePeer) readLoop() {
	var f framer
	buf := make([]byte, 1024)
	for {
		n, err := p.conn.Read(buf)
		if n > 0 {
			feedErr := f.feed(buf[:n], func(m Message) error {
				p.incoming <- m
				return nil
			})
			if feedErr != nil {
				return
			}
		}
		if err != nil {
			return
		}
	}
}

func (p *runtimePeer) greet() {
	_, err := p.conn.Write([]byte("1 musashi v1.0 test-target\n"))
	require.NoError(p.t, err)
}

func (p *runtimePeer) nextRequest() Message {
	select {
	case m := <-p.incoming:
		return m
	case <-time.After(time.Second):
		p.t.Fatal("timed out waiting for request")
		return Message{}
	}
}

func (p *runtimePeer) send(marker dvalue.Value, values ...dvalue.Value) {
	_, err := p.conn.Write(buildFrame(marker, values...))
	require.NoError(p.t, err)
}

// newAttachedClient wires a client and scripted peer over an in-memory pipe
// and completes the handshake.
func newAttachedClient(t *testing.T) (*Client, *runtimePeer, *Bus) {
	t.Helper()

	clientEnd, peerEnd := net.Pipe()
	t.Cleanup(func() {
		clientEnd.Close()
		peerEnd.Close()
	})

	bus := NewBus(context.Background())
	client := NewClient(clientEnd, ClientConfig{Bus: bus})
	peer := newRuntimePeer(t, peerEnd)

	attachDone := make(chan error, 1)
	go func() { attachDone <- client.Attach(context.Background()) }()
	peer.greet()
	require.NoError(t, <-attachDone)

	return client, peer, bus
}

func TestClient_AttachHandshake(t *testing.T) {
	t.Parallel()

	clientEnd, peerEnd := net.Pipe()
	defer clientEnd.Close()
	defer peerEnd.Close()

	bus := NewBus(context.Background())
	attached := bus.SubscribeOnce(NotifyAttachResult)
	client := NewClient(clientEnd, ClientConfig{Bus: bus})

	attachDone := make(chan error, 1)
	go func() { attachDone <- client.Attach(context.Background()) }()

	_, err := peerEnd.Write([]byte("1 musashi v1.0\n"))
	require.NoError(t, err)
	require.NoError(t, <-attachDone)

	result := receiveOne(t, attached)
	assert.NoError(t, result.Err)
	assert.Equal(t, 1, client.Target().ProtocolVersion)
	assert.Equal(t, "musashi v1.0", client.Target().Identification)
}

func TestClient_AttachRejectsUnsupportedVersion(t *testing.T) {
	t.Parallel()

	clientEnd, peerEnd := net.Pipe()
	defer clientEnd.Close()
	defer peerEnd.Close()

	bus := NewBus(context.Background())
	attached := bus.SubscribeOnce(NotifyAttachResult)
	client := NewClient(clientEnd, ClientConfig{Bus: bus})

	attachDone := make(chan error, 1)
	go func() { attachDone <- client.Attach(context.Background()) }()

	_, err := peerEnd.Write([]byte("9 future-runtime\n"))
	require.NoError(t, err)
	assert.ErrorIs(t, <-attachDone, ErrHandshakeFailed)

	result := receiveOne(t, attached)
	assert.ErrorIs(t, result.Err, ErrHandshakeFailed)
}

func TestClient_FIFOCorrelation(t *testing.T) {
	t.Parallel()

	client, peer, _ := newAttachedClient(t)

	// Issue three concurrent calls; collect the peer-observed order, reply
	// in that order with an echo of each command code. FIFO correlation
	// means every caller must get back exactly its own command's echo.
	commands := []int{CmdPause, CmdResume, CmdStepInto}

	type echo struct {
		cmd    int
		values []dvalue.Value
		err    error
	}
	echoes := make(chan echo, len(commands))

	var wg sync.WaitGroup
	for _, cmd := range commands {
		wg.Add(1)
		go func(cmd int) {
			defer wg.Done()
			values, err := client.Call(context.Background(), cmd)
			echoes <- echo{cmd: cmd, values: values, err: err}
		}(cmd)
	}

	// Read all three requests before replying so all are pending at once,
	// then answer strictly in arrival order.
	var arrived []Message
	for range commands {
		arrived = append(arrived, peer.nextRequest())
	}
	for _, req := range arrived {
		peer.send(dvalue.Reply(), req.Values[0])
	}

	wg.Wait()
	close(echoes)

	for e := range echoes {
		require.NoError(t, e.err)
		require.Len(t, e.values, 1)
		assert.Equal(t, int32(e.cmd), e.values[0].Int, "reply for command 0x%02x was mis-correlated", e.cmd)
	}
}

func TestClient_CommandError(t *testing.T) {
	t.Parallel()

	client, peer, _ := newAttachedClient(t)

	done := make(chan error, 1)
	go func() {
		err := client.DeleteBreakpoint(context.Background(), 42)
		done <- err
	}()

	req := peer.nextRequest()
	assert.Equal(t, dvalue.Int(CmdDelBreak), req.Values[0])
	peer.send(dvalue.ErrMarker(), dvalue.Int(ErrCodeNotFound), dvalue.String("no such breakpoint"))

	err := <-done
	require.Error(t, err)
	assert.True(t, IsNotFound(err))

	// The session continues: a later command still works.
	go func() {
		reqErr := client.Pause(context.Background())
		done <- reqErr
	}()
	peer.nextRequest()
	peer.send(dvalue.Reply())
	assert.NoError(t, <-done)
}

func TestClient_ReplyWithEmptyQueueIsFatal(t *testing.T) {
	t.Parallel()

	client, peer, bus := newAttachedClient(t)
	disconnected := bus.SubscribeOnce(NotifyDisconnect)

	// Unsolicited reply with nothing pending.
	peer.send(dvalue.Reply(), dvalue.Int(0))

	n := receiveOne(t, disconnected)
	assert.ErrorIs(t, n.Err, ErrProtocolDesync)

	// Client is dead; new calls fail immediately.
	_, err := client.Call(context.Background(), CmdPause)
	assert.ErrorIs(t, err, ErrProtocolDesync)
}

func TestClient_TransportLossFailsPending(t *testing.T) {
	t.Parallel()

	client, peer, bus := newAttachedClient(t)
	disconnected := bus.SubscribeOnce(NotifyDisconnect)

	done := make(chan error, 1)
	go func() {
		_, err := client.Call(context.Background(), CmdGetCallStack)
		done <- err
	}()
	peer.nextRequest()

	// Runtime dies without replying.
	peer.conn.Close()

	assert.ErrorIs(t, <-done, ErrTransportClosed)

	n := receiveOne(t, disconnected)
	assert.ErrorIs(t, n.Err, ErrTransportClosed)
}

func TestClient_NotificationsBypassPendingQueue(t *testing.T) {
	t.Parallel()

	client, peer, bus := newAttachedClient(t)
	statuses := bus.Subscribe(NotifyStatus)
	defer statuses.Cancel()

	// A notification arriving while a request is pending must not consume
	// the pending slot.
	done := make(chan error, 1)
	go func() {
		err := client.Resume(context.Background())
		done <- err
	}()
	peer.nextRequest()

	peer.send(dvalue.Notify(),
		dvalue.Int(NotifyStatus),
		dvalue.Int(StateRunning),
		dvalue.String("main.js"),
		dvalue.String(""),
		dvalue.Int(0),
		dvalue.Int(0),
	)
	peer.send(dvalue.Reply())

	assert.NoError(t, <-done)

	n := receiveOne(t, statuses)
	status, parseErr := ParseStatus(n.Values)
	require.NoError(t, parseErr)
	assert.Equal(t, StateRunning, status.State)
	assert.Equal(t, "main.js", status.FileName)
}

func TestClient_TypedWrappers(t *testing.T) {
	t.Parallel()

	client, peer, _ := newAttachedClient(t)

	t.Run("GetCallStack", func(t *testing.T) {
		type result struct {
			entries []CallStackEntry
			err     error
		}
		done := make(chan result, 1)
		go func() {
			entries, err := client.GetCallStack(context.Background())
			done <- result{entries, err}
		}()

		peer.nextRequest()
		peer.send(dvalue.Reply(),
			dvalue.String("inner.js"), dvalue.String("leaf"), dvalue.Int(12), dvalue.Int(88),
			dvalue.String("main.js"), dvalue.String("global"), dvalue.Int(3), dvalue.Int(7),
		)

		r := <-done
		require.NoError(t, r.err)
		require.Len(t, r.entries, 2)
		assert.Equal(t, CallStackEntry{FileName: "inner.js", FuncName: "leaf", Line: 12, PC: 88}, r.entries[0])
	})

	t.Run("AddBreakpoint", func(t *testing.T) {
		type result struct {
			index int
			err   error
		}
		done := make(chan result, 1)
		go func() {
			index, err := client.AddBreakpoint(context.Background(), "main.js", 10)
			done <- result{index, err}
		}()

		req := peer.nextRequest()
		assert.Equal(t, []dvalue.Value{dvalue.Int(CmdAddBreak), dvalue.String("main.js"), dvalue.Int(10)}, req.Values)
		peer.send(dvalue.Reply(), dvalue.Int(2))

		r := <-done
		require.NoError(t, r.err)
		assert.Equal(t, 2, r.index)
	})

	t.Run("Eval soft failure", func(t *testing.T) {
		done := make(chan error, 1)
		go func() {
			_, err := client.Eval(context.Background(), -1, "explode()")
			done <- err
		}()

		peer.nextRequest()
		peer.send(dvalue.Reply(), dvalue.Int(1), dvalue.String("ReferenceError: explode is not defined"))

		err := <-done
		var evalErr *EvalError
		require.ErrorAs(t, err, &evalErr)
		assert.Contains(t, evalErr.Display, "ReferenceError")
	})

	t.Run("GetHeapObjInfo", func(t *testing.T) {
		ptr := dvalue.NewPointer32(0x1000)
		type result struct {
			props []Property
			err   error
		}
		done := make(chan result, 1)
		go func() {
			props, err := client.GetHeapObjInfo(context.Background(), ptr)
			done <- result{props, err}
		}()

		req := peer.nextRequest()
		assert.Equal(t, dvalue.HeapPtr(ptr), req.Values[1])
		peer.send(dvalue.Reply(),
			dvalue.Int(PropFlagArtificial), dvalue.String("class_name"), dvalue.String("Widget"),
			dvalue.Int(PropFlagWritable|PropFlagEnumerable), dvalue.String("size"), dvalue.Int(4),
		)

		r := <-done
		require.NoError(t, r.err)
		require.Len(t, r.props, 2)
		assert.True(t, r.props[0].Artificial())
		assert.False(t, r.props[1].Artificial())
	})
}
