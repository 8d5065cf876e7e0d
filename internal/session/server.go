/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Harold Brenes. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
)

// ServeStdio runs one DAP session over stdin/stdout and returns when the
// front end disconnects.
func ServeStdio(ctx context.Context, config Config) error {
	transport := NewStdioTransport(os.Stdin, os.Stdout)
	return serveOne(ctx, transport, config)
}

// ListenAndServe accepts front-end TCP connections and serves them one at a
// time until ctx is cancelled.
func ListenAndServe(ctx context.Context, address string, config Config) error {
	var lc net.ListenConfig
	listener, listenErr := lc.Listen(ctx, "tcp", address)
	if listenErr != nil {
		return fmt.Errorf("failed to listen on %s: %w", address, listenErr)
	}
	defer listener.Close()

	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	config.Logger.Info("Waiting for a debug front end", "address", listener.Addr().String())

	for {
		conn, acceptErr := listener.Accept()
		if acceptErr != nil {
			if ctx.Err() != nil || errors.Is(acceptErr, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept failed: %w", acceptErr)
		}

		config.Logger.Info("Front end connected", "remote", conn.RemoteAddr().String())
		if serveErr := serveOne(ctx, NewConnTransport(conn), config); serveErr != nil {
			config.Logger.V(1).Info("Session ended with error", "error", serveErr.Error())
		}
		config.Logger.Info("Front end disconnected")
	}
}

func serveOne(ctx context.Context, transport Transport, config Config) error {
	s := New(transport, config)

	go func() {
		select {
		case <-ctx.Done():
			_ = transport.Close()
		case <-s.ctx.Done():
		}
	}()

	defer func() {
		_ = transport.Close()
	}()
	return s.Run()
}
