/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Harold Brenes. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package wire

import (
	"errors"
	"fmt"
)

var (
	// ErrTransportClosed is returned by calls that were still pending when
	// the runtime socket failed or was closed.
	ErrTransportClosed = errors.New("runtime transport closed")

	// ErrProtocolDesync indicates the byte stream can no longer be trusted:
	// an unrecognized tag, a malformed frame, or a reply with no pending
	// request. It is fatal; the connection is torn down without any attempt
	// at resynchronization.
	ErrProtocolDesync = errors.New("runtime protocol desync")

	// ErrHandshakeFailed is returned when the runtime's identification line
	// is malformed or advertises an unsupported protocol version.
	ErrHandshakeFailed = errors.New("runtime handshake failed")
)

// CommandError is a runtime-side rejection of a single command (an ERR
// reply). It is local to the one request; the session continues.
type CommandError struct {
	Code    int
	Message string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("runtime error %s: %s", errCodeName(e.Code), e.Message)
}

// IsNotFound reports whether err is a runtime "not found" command error.
func IsNotFound(err error) bool {
	var cmdErr *CommandError
	return errors.As(err, &cmdErr) && cmdErr.Code == ErrCodeNotFound
}

func errCodeName(code int) string {
	switch code {
	case ErrCodeUnknown:
		return "unknown"
	case ErrCodeUnsupported:
		return "unsupported"
	case ErrCodeTooMany:
		return "too-many"
	case ErrCodeNotFound:
		return "not-found"
	default:
		return fmt.Sprintf("%d", code)
	}
}

// EvalError is a soft failure of an eval command: the expression ran but
// threw. The thrown value's display form is preserved for the front end.
type EvalError struct {
	Display string
}

func (e *EvalError) Error() string {
	return fmt.Sprintf("eval failed: %s", e.Display)
}
