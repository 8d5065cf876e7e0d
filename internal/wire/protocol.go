/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Harold Brenes. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

// Package wire implements the Musashi runtime debug protocol: message
// framing over a duplex TCP stream, strict-FIFO request/response
// correlation, and a typed notification bus for unsolicited runtime
// messages.
//
// The protocol carries no request identifiers. Replies arrive in the exact
// order requests were written, so ordering is the only correlation
// mechanism; see Client for the single-writer discipline that preserves it.
package wire

// Command codes, sent as the first integer dvalue of a request.
const (
	CmdBasicInfo           = 0x10
	CmdTriggerStatus       = 0x11
	CmdPause               = 0x12
	CmdResume              = 0x13
	CmdStepInto            = 0x14
	CmdStepOver            = 0x15
	CmdStepOut             = 0x16
	CmdListBreak           = 0x17
	CmdAddBreak            = 0x18
	CmdDelBreak            = 0x19
	CmdGetVar              = 0x1a
	CmdPutVar              = 0x1b
	CmdGetCallStack        = 0x1c
	CmdGetLocals           = 0x1d
	CmdEval                = 0x1e
	CmdDetach              = 0x1f
	CmdDumpHeap            = 0x20
	CmdGetBytecode         = 0x21
	CmdAppRequest          = 0x22
	CmdGetHeapObjInfo      = 0x23
	CmdGetObjPropDescRange = 0x24
	CmdGarbageCollect      = 0x25
)

// Notification subtypes, sent as the first integer dvalue after the NFY
// marker.
const (
	NotifyStatus    = 0x01
	NotifyPrint     = 0x02
	NotifyAlert     = 0x03
	NotifyLog       = 0x04
	NotifyThrow     = 0x05
	NotifyDetaching = 0x06

	// Synthetic notification kinds, never seen on the wire. AttachResult is
	// published once when the handshake completes (or fails); Disconnect is
	// published exactly once when the transport is lost or closed.
	NotifyAttachResult = 0x100
	NotifyDisconnect   = 0x101
)

// Execution states reported by status notifications.
const (
	StateRunning = 0x00
	StatePaused  = 0x01
)

// Error codes carried by ERR replies.
const (
	ErrCodeUnknown     = 0x00
	ErrCodeUnsupported = 0x01
	ErrCodeTooMany     = 0x02
	ErrCodeNotFound    = 0x03
)

// Property flags reported by heap object inspection. Artificial properties
// are synthetic diagnostic entries (internal class/prototype info) that do
// not exist on the script-visible object.
const (
	PropFlagWritable     = 0x01
	PropFlagEnumerable   = 0x02
	PropFlagConfigurable = 0x04
	PropFlagAccessor     = 0x08
	PropFlagArtificial   = 0x100
)

// classNames maps runtime class ids to display names for object summaries.
var classNames = []string{
	"Unused",
	"Arguments",
	"Array",
	"Boolean",
	"Date",
	"Error",
	"Function",
	"JSON",
	"Math",
	"Number",
	"Object",
	"RegExp",
	"String",
	"global",
	"Symbol",
	"ObjEnv",
	"DecEnv",
	"Buffer",
	"Pointer",
	"Thread",
}

// ClassName returns the display name for a runtime class id, falling back
// to "Object" for ids outside the known table.
func ClassName(id int) string {
	if id >= 0 && id < len(classNames) {
		return classNames[id]
	}
	return "Object"
}
