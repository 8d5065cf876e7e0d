/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Harold Brenes. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package session

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/google/go-dap"
)

// Transport carries DAP messages to and from the front end. Reads and
// writes may come from different goroutines, but only one read and one
// write run at a time. Close unblocks a pending ReadMessage.
type Transport interface {
	// ReadMessage blocks until the next complete DAP message arrives.
	ReadMessage() (dap.Message, error)

	// WriteMessage writes one DAP message and flushes it.
	WriteMessage(msg dap.Message) error

	// Close releases the underlying streams.
	Close() error
}

// streamTransport frames DAP over any reader/writer pair: a TCP connection
// in listen mode, the process's stdin/stdout otherwise.
type streamTransport struct {
	reader *bufio.Reader
	writer *bufio.Writer
	close  func() error

	// writeMu keeps a message and its flush atomic.
	writeMu sync.Mutex

	mu     sync.Mutex
	closed bool
}

// NewConnTransport wraps a front-end network connection.
func NewConnTransport(conn net.Conn) Transport {
	return &streamTransport{
		reader: bufio.NewReader(conn),
		writer: bufio.NewWriter(conn),
		close:  conn.Close,
	}
}

// NewStdioTransport wraps the process's standard streams. stderr stays free
// for logging.
func NewStdioTransport(stdin io.ReadCloser, stdout io.WriteCloser) Transport {
	return &streamTransport{
		reader: bufio.NewReader(stdin),
		writer: bufio.NewWriter(stdout),
		close: func() error {
			readErr := stdin.Close()
			if writeErr := stdout.Close(); writeErr != nil && readErr == nil {
				readErr = writeErr
			}
			return readErr
		},
	}
}

func (t *streamTransport) ReadMessage() (dap.Message, error) {
	if t.isClosed() {
		return nil, ErrTransportClosed
	}

	msg, readErr := dap.ReadProtocolMessage(t.reader)
	if readErr != nil {
		return nil, fmt.Errorf("reading DAP message: %w", readErr)
	}
	return msg, nil
}

func (t *streamTransport) WriteMessage(msg dap.Message) error {
	if t.isClosed() {
		return ErrTransportClosed
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if writeErr := dap.WriteProtocolMessage(t.writer, msg); writeErr != nil {
		return fmt.Errorf("writing DAP message: %w", writeErr)
	}
	if flushErr := t.writer.Flush(); flushErr != nil {
		return fmt.Errorf("flushing DAP message: %w", flushErr)
	}
	return nil
}

func (t *streamTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true
	return t.close()
}

func (t *streamTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// sequenceCounter hands out DAP sequence numbers.
type sequenceCounter struct {
	mu  sync.Mutex
	seq int
}

func (c *sequenceCounter) Next() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	return c.seq
}
