/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Harold Brenes. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package session

import "errors"

var (
	// ErrNotAttached is returned for requests that need a live runtime
	// connection before attach completed.
	ErrNotAttached = errors.New("not attached to a runtime")

	// ErrNotPaused is returned for requests that are only valid while the
	// target is stopped.
	ErrNotPaused = errors.New("target is not paused")

	// ErrUnknownHandle is returned when a frame, scope or variables
	// reference is not in the current handle generation.
	ErrUnknownHandle = errors.New("unknown or stale handle")

	// ErrUnknownSource is returned when a breakpoint request names a file
	// that cannot be resolved to a runtime script.
	ErrUnknownSource = errors.New("source file not found")

	// ErrTransportClosed is returned by a Transport after Close.
	ErrTransportClosed = errors.New("transport is closed")
)
