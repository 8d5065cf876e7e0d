/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Harold Brenes. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package wire

import (
	"context"
	"fmt"

	"github.com/harold-b/musashi-dap/internal/dvalue"
)

// BasicInfo is the runtime's answer to the basic-info command.
type BasicInfo struct {
	Version     int
	Description string
	TargetInfo  string
	Endianness  int
}

// BreakpointLocation is one entry of the runtime's breakpoint table, in
// table order. The slice index of a ListBreakpoints result is the runtime's
// breakpoint index.
type BreakpointLocation struct {
	File string
	Line int
}

// CallStackEntry is one activation record, reported deepest-first.
type CallStackEntry struct {
	FileName string
	FuncName string
	Line     int
	PC       int
}

// LocalVariable is one name/value pair from get-locals.
type LocalVariable struct {
	Name  string
	Value dvalue.Value
}

// Property is one key of an inspected heap object.
type Property struct {
	Flags int
	Key   string
	Value dvalue.Value
}

// Artificial reports whether the property is a synthetic diagnostic entry
// rather than a script-visible key.
func (p Property) Artificial() bool {
	return p.Flags&PropFlagArtificial != 0
}

// BasicInfo queries runtime version and target identification.
func (c *Client) BasicInfo(ctx context.Context) (BasicInfo, error) {
	values, err := c.Call(ctx, CmdBasicInfo)
	if err != nil {
		return BasicInfo{}, err
	}

	r := replyReader{values: values}
	info := BasicInfo{
		Version:     r.intAt(0),
		Description: r.strAt(1),
		TargetInfo:  r.strAt(2),
		Endianness:  r.intAt(3),
	}
	return info, r.err(CmdBasicInfo)
}

// TriggerStatus asks the runtime to re-emit a status notification.
func (c *Client) TriggerStatus(ctx context.Context) error {
	_, err := c.Call(ctx, CmdTriggerStatus)
	return err
}

func (c *Client) Pause(ctx context.Context) error {
	_, err := c.Call(ctx, CmdPause)
	return err
}

func (c *Client) Resume(ctx context.Context) error {
	_, err := c.Call(ctx, CmdResume)
	return err
}

func (c *Client) StepInto(ctx context.Context) error {
	_, err := c.Call(ctx, CmdStepInto)
	return err
}

func (c *Client) StepOver(ctx context.Context) error {
	_, err := c.Call(ctx, CmdStepOver)
	return err
}

func (c *Client) StepOut(ctx context.Context) error {
	_, err := c.Call(ctx, CmdStepOut)
	return err
}

// ListBreakpoints returns the runtime's breakpoint table in index order.
func (c *Client) ListBreakpoints(ctx context.Context) ([]BreakpointLocation, error) {
	values, err := c.Call(ctx, CmdListBreak)
	if err != nil {
		return nil, err
	}
	if len(values)%2 != 0 {
		return nil, fmt.Errorf("%w: odd list-breakpoints reply length %d", ErrProtocolDesync, len(values))
	}

	r := replyReader{values: values}
	locations := make([]BreakpointLocation, 0, len(values)/2)
	for i := 0; i < len(values); i += 2 {
		locations = append(locations, BreakpointLocation{
			File: r.strAt(i),
			Line: r.intAt(i + 1),
		})
	}
	return locations, r.err(CmdListBreak)
}

// AddBreakpoint registers a breakpoint and returns the runtime-assigned
// index. The runtime appends to its table, so the index equals the new
// table length minus one.
func (c *Client) AddBreakpoint(ctx context.Context, file string, line int) (int, error) {
	values, err := c.Call(ctx, CmdAddBreak, dvalue.String(file), dvalue.Int(int32(line)))
	if err != nil {
		return 0, err
	}

	r := replyReader{values: values}
	index := r.intAt(0)
	return index, r.err(CmdAddBreak)
}

// DeleteBreakpoint removes the breakpoint at the given runtime index. Every
// entry above it shifts down by one.
func (c *Client) DeleteBreakpoint(ctx context.Context, index int) error {
	_, err := c.Call(ctx, CmdDelBreak, dvalue.Int(int32(index)))
	return err
}

// GetVariable looks a name up in the current activation. found is false
// when the name does not resolve.
func (c *Client) GetVariable(ctx context.Context, name string) (found bool, value dvalue.Value, err error) {
	values, callErr := c.Call(ctx, CmdGetVar, dvalue.String(name))
	if callErr != nil {
		return false, dvalue.Value{}, callErr
	}

	r := replyReader{values: values}
	found = r.intAt(0) != 0
	value = r.valueAt(1)
	return found, value, r.err(CmdGetVar)
}

// PutVariable assigns a value to a name in the current activation.
func (c *Client) PutVariable(ctx context.Context, name string, value dvalue.Value) error {
	_, err := c.Call(ctx, CmdPutVar, dvalue.String(name), value)
	return err
}

// GetCallStack returns the activation stack, deepest frame first.
func (c *Client) GetCallStack(ctx context.Context) ([]CallStackEntry, error) {
	values, err := c.Call(ctx, CmdGetCallStack)
	if err != nil {
		return nil, err
	}
	if len(values)%4 != 0 {
		return nil, fmt.Errorf("%w: malformed call stack reply length %d", ErrProtocolDesync, len(values))
	}

	r := replyReader{values: values}
	entries := make([]CallStackEntry, 0, len(values)/4)
	for i := 0; i < len(values); i += 4 {
		entries = append(entries, CallStackEntry{
			FileName: r.strAt(i),
			FuncName: r.strAt(i + 1),
			Line:     r.intAt(i + 2),
			PC:       r.intAt(i + 3),
		})
	}
	return entries, r.err(CmdGetCallStack)
}

// GetLocals lists the local variable names and values of one activation.
// level addresses the frame: -1 is the deepest frame, -2 its caller.
func (c *Client) GetLocals(ctx context.Context, level int) ([]LocalVariable, error) {
	values, err := c.Call(ctx, CmdGetLocals, dvalue.Int(int32(level)))
	if err != nil {
		return nil, err
	}
	if len(values)%2 != 0 {
		return nil, fmt.Errorf("%w: odd get-locals reply length %d", ErrProtocolDesync, len(values))
	}

	r := replyReader{values: values}
	locals := make([]LocalVariable, 0, len(values)/2)
	for i := 0; i < len(values); i += 2 {
		locals = append(locals, LocalVariable{
			Name:  r.strAt(i),
			Value: r.valueAt(i + 1),
		})
	}
	return locals, r.err(CmdGetLocals)
}

// Eval evaluates an expression in the context of one activation (level as
// in GetLocals). When the expression throws, the thrown value's display
// form is returned inside an *EvalError; this is a soft failure.
func (c *Client) Eval(ctx context.Context, level int, expression string) (dvalue.Value, error) {
	values, err := c.Call(ctx, CmdEval, dvalue.Int(int32(level)), dvalue.String(expression))
	if err != nil {
		return dvalue.Value{}, err
	}

	r := replyReader{values: values}
	status := r.intAt(0)
	result := r.valueAt(1)
	if rErr := r.err(CmdEval); rErr != nil {
		return dvalue.Value{}, rErr
	}

	if status != 0 {
		return dvalue.Value{}, &EvalError{Display: result.String()}
	}
	return result, nil
}

// Detach asks the runtime to end the debug session. The runtime replies,
// emits a detaching notification and closes its end of the socket.
func (c *Client) Detach(ctx context.Context) error {
	_, err := c.Call(ctx, CmdDetach)
	return err
}

// DumpHeap returns the raw heap dump values. The shape is target-defined;
// callers interpret it themselves.
func (c *Client) DumpHeap(ctx context.Context) ([]dvalue.Value, error) {
	return c.Call(ctx, CmdDumpHeap)
}

// GetBytecode returns the compiled bytecode of the current function.
func (c *Client) GetBytecode(ctx context.Context) ([]byte, error) {
	values, err := c.Call(ctx, CmdGetBytecode)
	if err != nil {
		return nil, err
	}

	r := replyReader{values: values}
	code := r.bufAt(0)
	return code, r.err(CmdGetBytecode)
}

// AppRequest forwards an application-defined command to the runtime.
func (c *Client) AppRequest(ctx context.Context, args ...dvalue.Value) ([]dvalue.Value, error) {
	return c.Call(ctx, CmdAppRequest, args...)
}

// GetHeapObjInfo inspects a heap object and returns its properties,
// artificial entries included, in the runtime's own order.
func (c *Client) GetHeapObjInfo(ctx context.Context, ptr dvalue.Pointer) ([]Property, error) {
	values, err := c.Call(ctx, CmdGetHeapObjInfo, dvalue.HeapPtr(ptr))
	if err != nil {
		return nil, err
	}
	return parseProperties(values)
}

// GetObjPropRange inspects a bounded index range of a heap object's
// properties.
func (c *Client) GetObjPropRange(ctx context.Context, ptr dvalue.Pointer, start, end int) ([]Property, error) {
	values, err := c.Call(ctx, CmdGetObjPropDescRange, dvalue.HeapPtr(ptr), dvalue.Int(int32(start)), dvalue.Int(int32(end)))
	if err != nil {
		return nil, err
	}
	return parseProperties(values)
}

// GarbageCollect forces a full collection pass on the target.
func (c *Client) GarbageCollect(ctx context.Context) error {
	_, err := c.Call(ctx, CmdGarbageCollect)
	return err
}

func parseProperties(values []dvalue.Value) ([]Property, error) {
	if len(values)%3 != 0 {
		return nil, fmt.Errorf("%w: malformed property reply length %d", ErrProtocolDesync, len(values))
	}

	r := replyReader{values: values}
	props := make([]Property, 0, len(values)/3)
	for i := 0; i < len(values); i += 3 {
		props = append(props, Property{
			Flags: r.intAt(i),
			Key:   r.strAt(i + 1),
			Value: r.valueAt(i + 2),
		})
	}
	return props, r.err(CmdGetHeapObjInfo)
}

// StatusNotification is the parsed form of a status notification.
type StatusNotification struct {
	State    int // StateRunning or StatePaused
	FileName string
	FuncName string
	Line     int
	PC       int
}

// Paused reports whether the runtime is stopped.
func (s StatusNotification) Paused() bool {
	return s.State == StatePaused
}

// ParseStatus decodes a status notification body.
func ParseStatus(values []dvalue.Value) (StatusNotification, error) {
	r := replyReader{values: values}
	status := StatusNotification{
		State:    r.intAt(0),
		FileName: r.strAt(1),
		FuncName: r.strAt(2),
		Line:     r.intAt(3),
		PC:       r.intAt(4),
	}
	return status, r.err(CmdTriggerStatus)
}

// ThrowNotification is the parsed form of a throw notification.
type ThrowNotification struct {
	Fatal    bool
	Message  string
	FileName string
	Line     int
}

// ParseThrow decodes a throw notification body.
func ParseThrow(values []dvalue.Value) (ThrowNotification, error) {
	r := replyReader{values: values}
	throw := ThrowNotification{
		Fatal:    r.intAt(0) != 0,
		Message:  r.strAt(1),
		FileName: r.strAt(2),
		Line:     r.intAt(3),
	}
	return throw, r.err(NotifyThrow)
}

// LogNotification is the parsed form of a log notification.
type LogNotification struct {
	Level   int
	Message string
}

// ParseLog decodes a log notification body.
func ParseLog(values []dvalue.Value) (LogNotification, error) {
	r := replyReader{values: values}
	entry := LogNotification{
		Level:   r.intAt(0),
		Message: r.strAt(1),
	}
	return entry, r.err(NotifyLog)
}

// ParseText decodes the single-string body shared by print and alert
// notifications.
func ParseText(values []dvalue.Value) (string, error) {
	r := replyReader{values: values}
	text := r.strAt(0)
	return text, r.err(NotifyPrint)
}

// replyReader extracts typed fields from a reply body, remembering the
// first shape violation instead of forcing a check at every access.
type replyReader struct {
	values  []dvalue.Value
	badAt   int
	invalid bool
}

func (r *replyReader) intAt(i int) int {
	if i >= len(r.values) || r.values[i].Kind != dvalue.KindInteger {
		r.flag(i)
		return 0
	}
	return int(r.values[i].Int)
}

func (r *replyReader) strAt(i int) string {
	if i >= len(r.values) || r.values[i].Kind != dvalue.KindString {
		r.flag(i)
		return ""
	}
	return r.values[i].Str
}

func (r *replyReader) bufAt(i int) []byte {
	if i >= len(r.values) || r.values[i].Kind != dvalue.KindBuffer {
		r.flag(i)
		return nil
	}
	return r.values[i].Buf
}

func (r *replyReader) valueAt(i int) dvalue.Value {
	if i >= len(r.values) {
		r.flag(i)
		return dvalue.Undefined()
	}
	return r.values[i]
}

func (r *replyReader) flag(i int) {
	if !r.invalid {
		r.invalid = true
		r.badAt = i
	}
}

func (r *replyReader) err(command int) error {
	if !r.invalid {
		return nil
	}
	return fmt.Errorf("%w: malformed reply for command 0x%02x at value %d", ErrProtocolDesync, command, r.badAt)
}
