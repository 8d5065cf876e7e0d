/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Harold Brenes. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package wire

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-logr/logr"

	"github.com/harold-b/musashi-dap/internal/dvalue"
)

// supportedProtocolVersion is the identification-line version this client
// understands.
const supportedProtocolVersion = 1

// handshakeTimeout bounds how long the runtime may take to send its
// identification line after the socket connects.
const handshakeTimeout = 5 * time.Second

// TargetInfo is the runtime's self-identification, assembled from the
// handshake line and the BasicInfo reply.
type TargetInfo struct {
	ProtocolVersion int
	Identification  string
}

// ClientConfig configures a Client.
type ClientConfig struct {
	// Bus receives all runtime notifications plus the synthetic
	// attach-result and disconnect kinds. Required.
	Bus *Bus

	// Logger for protocol flow. Defaults to logr.Discard().
	Logger logr.Logger
}

// Client drives the runtime debug socket: it frames outgoing commands,
// reassembles incoming messages, and correlates replies to callers in strict
// FIFO order.
type Client struct {
	conn   net.Conn
	reader *bufio.Reader
	bus    *Bus
	log    logr.Logger

	// sendMu serializes the enqueue-then-write sequence so the pending
	// queue order always matches the order bytes hit the wire.
	sendMu sync.Mutex

	mu       sync.Mutex
	pending  []*pendingCall
	closed   bool
	closeErr error

	failOnce sync.Once

	target TargetInfo
}

// pendingCall is an in-flight command awaiting its reply. It is resolved
// exactly once, always at the head of the FIFO queue.
type pendingCall struct {
	command int
	done    chan callResult
}

type callResult struct {
	values []dvalue.Value
	err    error
}

// Dial connects to the runtime's debug server, retrying with exponential
// backoff until the context expires. The runtime typically opens its debug
// port a moment after launch, so the first attempts are expected to fail.
func Dial(ctx context.Context, address string, log logr.Logger) (net.Conn, error) {
	policy := backoff.WithContext(backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(100*time.Millisecond),
		backoff.WithMaxInterval(time.Second),
		backoff.WithMaxElapsedTime(10*time.Second),
	), ctx)

	return backoff.RetryNotifyWithData(
		func() (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "tcp", address)
		},
		policy,
		func(err error, next time.Duration) {
			log.V(1).Info("Runtime debug port not reachable yet, retrying", "error", err.Error(), "retryIn", next)
		})
}

// NewClient wraps an established runtime connection. Call Attach to perform
// the handshake and start the read loop.
func NewClient(conn net.Conn, config ClientConfig) *Client {
	log := config.Logger
	if log.GetSink() == nil {
		log = logr.Discard()
	}

	return &Client{
		conn:   conn,
		reader: bufio.NewReader(conn),
		bus:    config.Bus,
		log:    log,
	}
}

// Attach reads the runtime's identification line, validates the protocol
// version, publishes the attach-result notification, and starts the message
// read loop. The binary protocol begins immediately after the line.
func (c *Client) Attach(ctx context.Context) error {
	deadline := time.Now().Add(handshakeTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	_ = c.conn.SetReadDeadline(deadline)

	line, readErr := c.reader.ReadString('\n')
	if readErr != nil {
		handshakeErr := fmt.Errorf("%w: reading identification line: %v", ErrHandshakeFailed, readErr)
		c.bus.Publish(Notification{Kind: NotifyAttachResult, Err: handshakeErr})
		c.fail(handshakeErr)
		return handshakeErr
	}
	_ = c.conn.SetReadDeadline(time.Time{})

	target, parseErr := parseIdentification(line)
	if parseErr != nil {
		c.bus.Publish(Notification{Kind: NotifyAttachResult, Err: parseErr})
		c.fail(parseErr)
		return parseErr
	}
	c.target = target

	c.log.Info("Attached to runtime", "protocolVersion", target.ProtocolVersion, "target", target.Identification)
	c.bus.Publish(Notification{Kind: NotifyAttachResult})

	go c.readLoop()
	return nil
}

// Target returns the handshake identification. Valid after Attach succeeds.
func (c *Client) Target() TargetInfo {
	return c.target
}

// parseIdentification parses the LF-terminated handshake line. The first
// space-separated token is the protocol version; the rest is free text.
func parseIdentification(line string) (TargetInfo, error) {
	line = strings.TrimRight(line, "\r\n")
	fields := strings.SplitN(line, " ", 2)
	if len(fields) == 0 || fields[0] == "" {
		return TargetInfo{}, fmt.Errorf("%w: empty identification line", ErrHandshakeFailed)
	}

	version, convErr := strconv.Atoi(fields[0])
	if convErr != nil {
		return TargetInfo{}, fmt.Errorf("%w: malformed version %q", ErrHandshakeFailed, fields[0])
	}
	if version != supportedProtocolVersion {
		return TargetInfo{}, fmt.Errorf("%w: unsupported protocol version %d", ErrHandshakeFailed, version)
	}

	info := TargetInfo{ProtocolVersion: version}
	if len(fields) == 2 {
		info.Identification = fields[1]
	}
	return info, nil
}

// Call sends a command and blocks until its reply arrives. Concurrent calls
// are legal and are pipelined onto the wire in call order. A cancelled
// context abandons the wait but cannot recall the request: the protocol has
// no cancel primitive, so the pending slot stays queued and its eventual
// reply is discarded to keep FIFO correlation intact.
func (c *Client) Call(ctx context.Context, command int, args ...dvalue.Value) ([]dvalue.Value, error) {
	call := &pendingCall{
		command: command,
		done:    make(chan callResult, 1),
	}
	frame := encodeRequest(command, args)

	c.sendMu.Lock()
	c.mu.Lock()
	if c.closed {
		closeErr := c.closeErr
		c.mu.Unlock()
		c.sendMu.Unlock()
		return nil, closeErr
	}
	c.pending = append(c.pending, call)
	c.mu.Unlock()

	c.log.V(1).Info("Sending command", "command", fmt.Sprintf("0x%02x", command), "args", len(args))
	_, writeErr := c.conn.Write(frame)
	c.sendMu.Unlock()

	if writeErr != nil {
		werr := fmt.Errorf("%w: %v", ErrTransportClosed, writeErr)
		c.fail(werr)
		return nil, werr
	}

	select {
	case result := <-call.done:
		return result.values, result.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// readLoop pulls bytes off the socket and feeds the framer until the
// connection dies.
func (c *Client) readLoop() {
	var f framer
	buf := make([]byte, 4096)

	for {
		n, readErr := c.conn.Read(buf)
		if n > 0 {
			if feedErr := f.feed(buf[:n], c.dispatch); feedErr != nil {
				c.log.Error(feedErr, "Protocol desync, closing connection")
				c.fail(feedErr)
				return
			}
		}
		if readErr != nil {
			c.fail(fmt.Errorf("%w: %v", ErrTransportClosed, readErr))
			return
		}
	}
}

// dispatch routes one complete message: replies and errors resolve the head
// of the pending queue, notifications go to the bus.
func (c *Client) dispatch(msg Message) error {
	switch msg.Marker {
	case dvalue.KindREP:
		return c.resolveHead(callResult{values: msg.Values})

	case dvalue.KindERR:
		return c.resolveHead(callResult{err: parseCommandError(msg.Values)})

	case dvalue.KindNFY:
		if len(msg.Values) == 0 || msg.Values[0].Kind != dvalue.KindInteger {
			return fmt.Errorf("%w: notification without subtype", ErrProtocolDesync)
		}
		kind := int(msg.Values[0].Int)
		c.log.V(1).Info("Notification received", "kind", kind)
		c.bus.Publish(Notification{Kind: kind, Values: msg.Values[1:]})
		return nil

	default:
		// The runtime never sends requests.
		return fmt.Errorf("%w: unexpected %s message from runtime", ErrProtocolDesync, msg.Marker)
	}
}

// resolveHead completes the oldest pending call. A reply with an empty
// queue means correlation is broken beyond repair.
func (c *Client) resolveHead(result callResult) error {
	c.mu.Lock()
	if len(c.pending) == 0 {
		c.mu.Unlock()
		return fmt.Errorf("%w: reply with no pending request", ErrProtocolDesync)
	}
	head := c.pending[0]
	c.pending = c.pending[1:]
	c.mu.Unlock()

	head.done <- result
	return nil
}

// parseCommandError decodes an ERR frame body into a CommandError.
func parseCommandError(values []dvalue.Value) error {
	cmdErr := &CommandError{Code: ErrCodeUnknown}
	if len(values) > 0 && values[0].Kind == dvalue.KindInteger {
		cmdErr.Code = int(values[0].Int)
	}
	if len(values) > 1 && values[1].Kind == dvalue.KindString {
		cmdErr.Message = values[1].Str
	}
	return cmdErr
}

// Close tears the connection down, failing every pending call and emitting
// the disconnect notification exactly once.
func (c *Client) Close() {
	c.fail(ErrTransportClosed)
}

// fail moves the client to its terminal state: socket closed, all pending
// requests failed, one disconnect notification published.
func (c *Client) fail(cause error) {
	c.failOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.closeErr = cause
		abandoned := c.pending
		c.pending = nil
		c.mu.Unlock()

		_ = c.conn.Close()

		for _, call := range abandoned {
			call.done <- callResult{err: cause}
		}

		if !errors.Is(cause, ErrTransportClosed) {
			c.log.V(1).Info("Runtime connection closed", "cause", cause.Error())
		}
		c.bus.Publish(Notification{Kind: NotifyDisconnect, Err: cause})
	})
}
