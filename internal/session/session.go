/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Harold Brenes. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

// Package session implements the debug adapter: it serves the Debug Adapter
// Protocol on one side, drives the runtime's binary debug protocol on the
// other, and owns the state that bridges the two (breakpoint index map,
// stack/scope/variable handles, source registry).
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/go-dap"
	"github.com/google/uuid"

	"github.com/harold-b/musashi-dap/internal/dvalue"
	"github.com/harold-b/musashi-dap/internal/wire"
)

// mainThreadID is the single logical thread exposed to the front end.
const mainThreadID = 1

// detachTimeout bounds the graceful detach sequence; after that the socket
// is closed unconditionally.
const detachTimeout = 2 * time.Second

// sessionState is where the session is in its lifecycle.
type sessionState int

const (
	stateDisconnected sessionState = iota
	stateAttaching
	stateInitializing
	stateRunning
	statePaused
)

func (s sessionState) String() string {
	switch s {
	case stateDisconnected:
		return "disconnected"
	case stateAttaching:
		return "attaching"
	case stateInitializing:
		return "initializing"
	case stateRunning:
		return "running"
	case statePaused:
		return "paused"
	default:
		return "unknown"
	}
}

// attachArguments are the adapter-specific attach request arguments.
type attachArguments struct {
	// Address overrides the runtime debug address from the command line.
	Address string `json:"address,omitempty"`

	// LocalRoot is the workspace directory holding the original sources.
	LocalRoot string `json:"localRoot,omitempty"`

	// RemoteRoot is the directory scripts are rooted at on the runtime's
	// side; names under it are re-anchored at LocalRoot/OutDir.
	RemoteRoot string `json:"remoteRoot,omitempty"`

	// OutDir is the directory holding the generated files the runtime
	// actually executes.
	OutDir string `json:"outDir,omitempty"`

	// SourceMaps enables generated-to-original position translation.
	SourceMaps bool `json:"sourceMaps,omitempty"`

	// StopOnEntry pauses the target as soon as the session attaches.
	StopOnEntry bool `json:"stopOnEntry,omitempty"`
}

// Config configures a Session.
type Config struct {
	// RuntimeAddress is the runtime debug server's TCP address, used when
	// the attach request does not carry its own.
	RuntimeAddress string

	// Logger defaults to logr.Discard().
	Logger logr.Logger
}

// Session serves one DAP connection against one runtime connection.
type Session struct {
	log         logr.Logger
	transport   Transport
	runtimeAddr string

	ctx    context.Context
	cancel context.CancelFunc

	seq sequenceCounter

	// mu guards the lifecycle fields below.
	mu                sync.Mutex
	state             sessionState
	initialized       bool
	cachedStatus      *wire.StatusNotification
	pendingStopReason string
	client            *wire.Client
	stopOnEntry       bool

	bus         *wire.Bus
	breakpoints *breakpointMap
	handles     *handleTable
	sources     *sourceRegistry

	// bpMu serializes breakpoint requests: the runtime's index renumbering
	// is stateful, so remove/add sequences must not interleave.
	bpMu sync.Mutex
}

// New creates a session bound to one front-end transport.
func New(transport Transport, config Config) *Session {
	log := config.Logger
	if log.GetSink() == nil {
		log = logr.Discard()
	}
	// Each session gets its own id so logs from consecutive connections in
	// listen mode stay distinguishable.
	log = log.WithValues("session", uuid.NewString())

	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		log:         log,
		transport:   transport,
		runtimeAddr: config.RuntimeAddress,
		ctx:         ctx,
		cancel:      cancel,
		state:       stateDisconnected,
		breakpoints: &breakpointMap{},
		handles:     newHandleTable(),
	}
}

// Run reads front-end messages until the transport closes or the session
// ends. Each request is handled on its own goroutine; the runtime client
// serializes wire traffic underneath.
func (s *Session) Run() error {
	defer s.cancel()
	defer s.teardownRuntime()

	for {
		msg, readErr := s.transport.ReadMessage()
		if readErr != nil {
			select {
			case <-s.ctx.Done():
				return nil
			default:
			}
			return readErr
		}

		go s.handleMessage(msg)
	}
}

func (s *Session) handleMessage(msg dap.Message) {
	switch m := msg.(type) {
	case *dap.InitializeRequest:
		s.onInitialize(m)
	case *dap.LaunchRequest:
		s.sendErrorResponse(m.Request, "launching a runtime is not supported, use an attach configuration")
	case *dap.AttachRequest:
		s.onAttach(m)
	case *dap.SetBreakpointsRequest:
		s.onSetBreakpoints(m)
	case *dap.ConfigurationDoneRequest:
		s.onConfigurationDone(m)
	case *dap.ThreadsRequest:
		s.onThreads(m)
	case *dap.StackTraceRequest:
		s.onStackTrace(m)
	case *dap.ScopesRequest:
		s.onScopes(m)
	case *dap.VariablesRequest:
		s.onVariables(m)
	case *dap.EvaluateRequest:
		s.onEvaluate(m)
	case *dap.ContinueRequest:
		s.onResumeCommand(m.Request, "", wire.CmdResume)
	case *dap.NextRequest:
		s.onResumeCommand(m.Request, "step", wire.CmdStepOver)
	case *dap.StepInRequest:
		s.onResumeCommand(m.Request, "step", wire.CmdStepInto)
	case *dap.StepOutRequest:
		s.onResumeCommand(m.Request, "step", wire.CmdStepOut)
	case *dap.PauseRequest:
		s.onPause(m)
	case *dap.DisconnectRequest:
		s.onDisconnect(m)
	default:
		if req, ok := msg.(dap.RequestMessage); ok {
			s.sendErrorResponse(*req.GetRequest(), fmt.Sprintf("unsupported request %q", req.GetRequest().Command))
		} else {
			s.log.V(1).Info("Ignoring non-request DAP message", "type", fmt.Sprintf("%T", msg))
		}
	}
}

// --- DAP plumbing ---

func (s *Session) send(msg dap.Message) {
	if writeErr := s.transport.WriteMessage(msg); writeErr != nil {
		s.log.V(1).Info("Failed to write DAP message", "error", writeErr.Error())
	}
}

func (s *Session) okResponse(req dap.Request) dap.Response {
	return dap.Response{
		ProtocolMessage: dap.ProtocolMessage{Seq: s.seq.Next(), Type: "response"},
		RequestSeq:      req.Seq,
		Success:         true,
		Command:         req.Command,
	}
}

func (s *Session) sendErrorResponse(req dap.Request, message string) {
	resp := &dap.ErrorResponse{
		Response: dap.Response{
			ProtocolMessage: dap.ProtocolMessage{Seq: s.seq.Next(), Type: "response"},
			RequestSeq:      req.Seq,
			Success:         false,
			Command:         req.Command,
			Message:         message,
		},
	}
	resp.Body.Error = &dap.ErrorMessage{
		Id:       1,
		Format:   message,
		ShowUser: true,
	}
	s.send(resp)
}

func (s *Session) newEvent(event string) dap.Event {
	return dap.Event{
		ProtocolMessage: dap.ProtocolMessage{Seq: s.seq.Next(), Type: "event"},
		Event:           event,
	}
}

func (s *Session) sendOutput(category, output string) {
	e := &dap.OutputEvent{Event: s.newEvent("output")}
	e.Body = dap.OutputEventBody{Category: category, Output: output}
	s.send(e)
}

// --- lifecycle requests ---

func (s *Session) onInitialize(m *dap.InitializeRequest) {
	resp := &dap.InitializeResponse{Response: s.okResponse(m.Request)}
	resp.Body = dap.Capabilities{
		SupportsConfigurationDoneRequest: true,
		SupportsEvaluateForHovers:        true,
	}
	s.send(resp)
}

func (s *Session) onAttach(m *dap.AttachRequest) {
	var args attachArguments
	if len(m.Arguments) > 0 {
		if err := json.Unmarshal(m.Arguments, &args); err != nil {
			s.sendErrorResponse(m.Request, fmt.Sprintf("malformed attach arguments: %v", err))
			return
		}
	}

	s.mu.Lock()
	if s.state != stateDisconnected {
		s.mu.Unlock()
		s.sendErrorResponse(m.Request, fmt.Sprintf("cannot attach while %s", s.state))
		return
	}
	s.state = stateAttaching
	s.stopOnEntry = args.StopOnEntry
	s.mu.Unlock()

	address := args.Address
	if address == "" {
		address = s.runtimeAddr
	}

	sources := newSourceRegistry(s.log, args.OutDir, args.LocalRoot, args.RemoteRoot, args.SourceMaps)
	s.mu.Lock()
	s.sources = sources
	s.mu.Unlock()

	if attachErr := s.attachRuntime(address); attachErr != nil {
		s.mu.Lock()
		s.state = stateDisconnected
		s.mu.Unlock()
		s.sendErrorResponse(m.Request, fmt.Sprintf("failed to attach to runtime at %s: %v", address, attachErr))
		return
	}

	s.send(&dap.AttachResponse{Response: s.okResponse(m.Request)})
	s.send(&dap.InitializedEvent{Event: s.newEvent("initialized")})
}

// attachRuntime connects the wire client, validates the target, clears any
// breakpoints left over from a prior broken session, and requests the
// initial run state.
func (s *Session) attachRuntime(address string) error {
	conn, dialErr := wire.Dial(s.ctx, address, s.log)
	if dialErr != nil {
		return dialErr
	}

	bus := wire.NewBus(s.ctx)
	client := wire.NewClient(conn, wire.ClientConfig{Bus: bus, Logger: s.log})

	s.mu.Lock()
	s.bus = bus
	s.client = client
	s.mu.Unlock()

	s.startNotificationPumps(bus)

	if attachErr := client.Attach(s.ctx); attachErr != nil {
		return attachErr
	}

	info, infoErr := client.BasicInfo(s.ctx)
	if infoErr != nil {
		client.Close()
		return infoErr
	}
	s.log.Info("Runtime attached",
		"version", info.Version,
		"description", info.Description,
		"target", info.TargetInfo,
		"endianness", info.Endianness)

	// A previous session that died without detaching leaves its breakpoints
	// in the runtime's table. Delete from the highest index down so each
	// delete leaves the remaining indices untouched.
	stale, listErr := client.ListBreakpoints(s.ctx)
	if listErr != nil {
		client.Close()
		return listErr
	}
	for i := len(stale) - 1; i >= 0; i-- {
		if delErr := client.DeleteBreakpoint(s.ctx, i); delErr != nil {
			s.log.V(1).Info("Failed to clear stale breakpoint", "index", i, "error", delErr.Error())
		}
	}
	s.breakpoints.Clear()

	s.mu.Lock()
	s.state = stateInitializing
	stopOnEntry := s.stopOnEntry
	s.mu.Unlock()

	var runErr error
	if stopOnEntry {
		runErr = client.Pause(s.ctx)
	} else {
		runErr = client.Resume(s.ctx)
	}
	if runErr != nil {
		s.log.V(1).Info("Initial run state request failed", "stopOnEntry", stopOnEntry, "error", runErr.Error())
	}

	return nil
}

func (s *Session) onConfigurationDone(m *dap.ConfigurationDoneRequest) {
	client := s.runtimeClient()
	if client == nil {
		s.sendErrorResponse(m.Request, ErrNotAttached.Error())
		return
	}

	s.mu.Lock()
	s.initialized = true
	cached := s.cachedStatus
	s.cachedStatus = nil
	s.mu.Unlock()

	s.send(&dap.ConfigurationDoneResponse{Response: s.okResponse(m.Request)})

	// Statuses observed during negotiation were cached rather than acted
	// upon; apply the latest now, or ask the runtime for a fresh one.
	if cached != nil {
		s.applyStatus(*cached)
	} else if statusErr := client.TriggerStatus(s.ctx); statusErr != nil {
		s.log.V(1).Info("Trigger-status failed", "error", statusErr.Error())
	}
}

func (s *Session) onDisconnect(m *dap.DisconnectRequest) {
	client := s.runtimeClient()

	if client != nil {
		done := make(chan struct{})
		go func() {
			defer close(done)
			s.detachGracefully(client)
		}()

		select {
		case <-done:
		case <-time.After(detachTimeout):
			s.log.V(1).Info("Graceful detach timed out, forcing socket close")
			client.Close()
		}
	}

	s.send(&dap.DisconnectResponse{Response: s.okResponse(m.Request)})
	s.cancel()
	_ = s.transport.Close()
}

// detachGracefully removes this session's breakpoints and asks the runtime
// to end the debug session before closing the socket.
func (s *Session) detachGracefully(client *wire.Client) {
	ctx, cancel := context.WithTimeout(context.Background(), detachTimeout)
	defer cancel()

	entries := s.breakpoints.All()
	for i := len(entries) - 1; i >= 0; i-- {
		if delErr := client.DeleteBreakpoint(ctx, entries[i].Index); delErr != nil {
			s.log.V(1).Info("Failed to remove breakpoint during detach", "error", delErr.Error())
			break
		}
	}
	s.breakpoints.Clear()

	if detachErr := client.Detach(ctx); detachErr != nil {
		s.log.V(1).Info("Detach request failed", "error", detachErr.Error())
	}
	client.Close()
}

// teardownRuntime closes the runtime connection when the front end goes
// away without a disconnect request.
func (s *Session) teardownRuntime() {
	if client := s.runtimeClient(); client != nil {
		client.Close()
	}
}

func (s *Session) runtimeClient() *wire.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client
}

func (s *Session) sourceRegistry() *sourceRegistry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sources
}

// --- notifications ---

func (s *Session) startNotificationPumps(bus *wire.Bus) {
	go s.pumpStatus(bus.Subscribe(wire.NotifyStatus))
	go s.pumpText(bus.Subscribe(wire.NotifyPrint), "stdout")
	go s.pumpText(bus.Subscribe(wire.NotifyAlert), "stderr")
	go s.pumpLog(bus.Subscribe(wire.NotifyLog))
	go s.pumpThrow(bus.Subscribe(wire.NotifyThrow))
	go s.pumpDetaching(bus.SubscribeOnce(wire.NotifyDetaching))
	go s.pumpDisconnect(bus.SubscribeOnce(wire.NotifyDisconnect))
}

func (s *Session) pumpStatus(sub *wire.Subscription) {
	for n := range sub.Out() {
		status, parseErr := wire.ParseStatus(n.Values)
		if parseErr != nil {
			s.log.V(1).Info("Malformed status notification", "error", parseErr.Error())
			continue
		}
		s.applyStatus(status)
	}
}

func (s *Session) pumpText(sub *wire.Subscription, category string) {
	for n := range sub.Out() {
		text, parseErr := wire.ParseText(n.Values)
		if parseErr != nil {
			continue
		}
		s.sendOutput(category, text)
	}
}

func (s *Session) pumpLog(sub *wire.Subscription) {
	for n := range sub.Out() {
		entry, parseErr := wire.ParseLog(n.Values)
		if parseErr != nil {
			continue
		}
		s.sendOutput("console", fmt.Sprintf("[%d] %s\n", entry.Level, entry.Message))
	}
}

func (s *Session) pumpThrow(sub *wire.Subscription) {
	for n := range sub.Out() {
		throw, parseErr := wire.ParseThrow(n.Values)
		if parseErr != nil {
			continue
		}

		s.mu.Lock()
		s.pendingStopReason = "exception"
		s.mu.Unlock()

		kind := "Caught"
		if throw.Fatal {
			kind = "Uncaught"
		}
		s.sendOutput("stderr", fmt.Sprintf("%s exception: %s (%s:%d)\n", kind, throw.Message, throw.FileName, throw.Line))
	}
}

func (s *Session) pumpDetaching(sub *wire.Subscription) {
	for range sub.Out() {
		s.log.Info("Runtime is detaching")
	}
}

func (s *Session) pumpDisconnect(sub *wire.Subscription) {
	for n := range sub.Out() {
		s.onRuntimeLost(n.Err)
	}
}

// onRuntimeLost moves the session to its terminal state after transport
// loss or detach and tells the front end the target is gone.
func (s *Session) onRuntimeLost(cause error) {
	s.mu.Lock()
	alreadyDown := s.state == stateDisconnected
	s.state = stateDisconnected
	s.mu.Unlock()

	if alreadyDown {
		return
	}

	s.handles.Reset()
	if cause != nil && !errors.Is(cause, wire.ErrTransportClosed) {
		s.log.Error(cause, "Runtime connection lost")
	}

	s.send(&dap.TerminatedEvent{Event: s.newEvent("terminated")})
}

// applyStatus is the Running/Paused transition driver. Statuses seen before
// the front end finished configuration are cached, not acted upon.
func (s *Session) applyStatus(status wire.StatusNotification) {
	s.mu.Lock()
	if !s.initialized {
		cached := status
		s.cachedStatus = &cached
		s.mu.Unlock()
		return
	}

	prev := s.state
	if status.Paused() {
		s.state = statePaused
	} else {
		s.state = stateRunning
	}

	if status.Paused() && prev != statePaused {
		reason := s.classifyStopLocked(status)
		s.mu.Unlock()

		s.handles.Reset()
		e := &dap.StoppedEvent{Event: s.newEvent("stopped")}
		e.Body = dap.StoppedEventBody{
			Reason:            reason,
			ThreadId:          mainThreadID,
			AllThreadsStopped: true,
		}
		s.send(e)
		return
	}

	if !status.Paused() && prev == statePaused {
		s.mu.Unlock()

		s.handles.Reset()
		e := &dap.ContinuedEvent{Event: s.newEvent("continued")}
		e.Body = dap.ContinuedEventBody{ThreadId: mainThreadID, AllThreadsContinued: true}
		s.send(e)
		return
	}

	s.mu.Unlock()
}

// classifyStopLocked picks the stop reason: a breakpoint map hit on the
// reported generated location wins, then the most recent pending reason,
// then the generic fallback. Caller holds s.mu.
func (s *Session) classifyStopLocked(status wire.StatusNotification) string {
	if s.breakpoints.FindByName(status.FileName, status.Line) != nil {
		s.pendingStopReason = ""
		return "breakpoint"
	}
	if s.pendingStopReason != "" {
		reason := s.pendingStopReason
		s.pendingStopReason = ""
		return reason
	}
	return "debugger"
}

// --- execution control ---

func (s *Session) onResumeCommand(req dap.Request, pendingReason string, command int) {
	client := s.runtimeClient()
	if client == nil {
		s.sendErrorResponse(req, ErrNotAttached.Error())
		return
	}

	s.mu.Lock()
	if s.state != statePaused {
		s.mu.Unlock()
		s.sendErrorResponse(req, ErrNotPaused.Error())
		return
	}
	s.pendingStopReason = pendingReason
	s.mu.Unlock()

	if _, callErr := client.Call(s.ctx, command); callErr != nil {
		s.sendErrorResponse(req, fmt.Sprintf("runtime rejected the request: %v", callErr))
		return
	}

	switch req.Command {
	case "continue":
		resp := &dap.ContinueResponse{Response: s.okResponse(req)}
		resp.Body = dap.ContinueResponseBody{AllThreadsContinued: true}
		s.send(resp)
	case "next":
		s.send(&dap.NextResponse{Response: s.okResponse(req)})
	case "stepIn":
		s.send(&dap.StepInResponse{Response: s.okResponse(req)})
	case "stepOut":
		s.send(&dap.StepOutResponse{Response: s.okResponse(req)})
	default:
		s.send(&dap.Response{
			ProtocolMessage: dap.ProtocolMessage{Seq: s.seq.Next(), Type: "response"},
			RequestSeq:      req.Seq,
			Success:         true,
			Command:         req.Command,
		})
	}
}

func (s *Session) onPause(m *dap.PauseRequest) {
	client := s.runtimeClient()
	if client == nil {
		s.sendErrorResponse(m.Request, ErrNotAttached.Error())
		return
	}

	s.mu.Lock()
	if s.state == statePaused {
		s.mu.Unlock()
		s.sendErrorResponse(m.Request, "target is already paused")
		return
	}
	s.pendingStopReason = "pause"
	s.mu.Unlock()

	if pauseErr := client.Pause(s.ctx); pauseErr != nil {
		s.sendErrorResponse(m.Request, fmt.Sprintf("pause failed: %v", pauseErr))
		return
	}
	s.send(&dap.PauseResponse{Response: s.okResponse(m.Request)})
}

// --- breakpoints ---

func (s *Session) onSetBreakpoints(m *dap.SetBreakpointsRequest) {
	client := s.runtimeClient()
	if client == nil {
		s.sendErrorResponse(m.Request, ErrNotAttached.Error())
		return
	}

	lines := make([]int, 0, len(m.Arguments.Breakpoints))
	for _, b := range m.Arguments.Breakpoints {
		lines = append(lines, b.Line)
	}
	if len(lines) == 0 {
		lines = append(lines, m.Arguments.Lines...)
	}

	results := s.setBreakpointsForFile(client, m.Arguments.Source.Path, lines)

	resp := &dap.SetBreakpointsResponse{Response: s.okResponse(m.Request)}
	resp.Body = dap.SetBreakpointsResponseBody{Breakpoints: results}
	s.send(resp)
}

// breakTarget is one requested breakpoint resolved to a runtime location.
type breakTarget struct {
	requestedLine int
	path          string // generated file path
	name          string // runtime-facing script name
	line          int    // generated line
	ok            bool
}

// setBreakpointsForFile reconciles the request against the breakpoint map
// with a three-way diff: unchanged entries are left alone so their runtime
// indices stay valid, removed entries are deleted from the highest index
// down, and additions are appended last.
func (s *Session) setBreakpointsForFile(client *wire.Client, sourcePath string, lines []int) []dap.Breakpoint {
	s.bpMu.Lock()
	defer s.bpMu.Unlock()

	targets := make([]breakTarget, len(lines))
	for i, line := range lines {
		targets[i] = s.resolveBreakTarget(sourcePath, line)
	}

	// Group by generated path; the runtime's table is diffed per file.
	byPath := make(map[string][]breakTarget)
	order := []string{}
	for _, t := range targets {
		if !t.ok {
			continue
		}
		if _, seen := byPath[t.path]; !seen {
			order = append(order, t.path)
		}
		byPath[t.path] = append(byPath[t.path], t)
	}

	verified := make(map[string]bool) // generated location -> runtime accepted
	for _, path := range order {
		s.applyFileDiff(client, path, byPath[path], verified)
	}

	results := make([]dap.Breakpoint, len(targets))
	for i, t := range targets {
		results[i] = dap.Breakpoint{
			Verified: t.ok && verified[breakKey(t.path, t.line)],
			Line:     t.requestedLine,
		}
		if !t.ok {
			results[i].Message = ErrUnknownSource.Error()
		}
	}
	return results
}

func breakKey(path string, line int) string {
	return fmt.Sprintf("%s:%d", path, line)
}

// resolveBreakTarget turns a front-end source path and line into the
// runtime's generated location.
func (s *Session) resolveBreakTarget(sourcePath string, line int) breakTarget {
	t := breakTarget{requestedLine: line}
	sources := s.sourceRegistry()

	// The path may already be a generated file the runtime executes.
	name := sources.NameForPath(sourcePath)
	direct := sources.Resolve(name)
	if direct.Path != "" && sameFile(direct.Path, sourcePath) {
		t.path, t.name, t.line, t.ok = direct.Path, direct.Name, line, true
		return t
	}

	// Otherwise it is an original source: translate through a loaded map.
	if generated, genLine, ok := sources.GeneratedFor(sourcePath, line); ok {
		t.path, t.name, t.line, t.ok = generated.Path, generated.Name, genLine, true
		return t
	}

	s.log.V(1).Info("Cannot resolve breakpoint source", "path", sourcePath, "line", line)
	return t
}

func sameFile(a, b string) bool {
	ra, errA := filepath.Abs(a)
	rb, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return a == b
	}
	return ra == rb
}

// applyFileDiff syncs one generated file's breakpoints with the runtime.
func (s *Session) applyFileDiff(client *wire.Client, path string, targets []breakTarget, verified map[string]bool) {
	existing := s.breakpoints.ForFile(path)

	wanted := make(map[int]bool, len(targets))
	for _, t := range targets {
		wanted[t.line] = true
	}
	kept := make(map[int]bool, len(existing))

	var toRemove []*Breakpoint
	for _, e := range existing {
		if wanted[e.Line] && !kept[e.Line] {
			kept[e.Line] = true
			verified[breakKey(path, e.Line)] = true
			continue
		}
		toRemove = append(toRemove, e)
	}

	// Delete from the highest runtime index down: each delete shifts every
	// higher entry, so ascending order would target the wrong lines.
	sort.Slice(toRemove, func(i, j int) bool { return toRemove[i].Index > toRemove[j].Index })
	var removed []*Breakpoint
	for _, e := range toRemove {
		if delErr := client.DeleteBreakpoint(s.ctx, e.Index); delErr != nil {
			s.log.V(1).Info("Breakpoint delete failed", "file", e.Name, "line", e.Line, "error", delErr.Error())
			continue
		}
		removed = append(removed, e)
	}
	s.breakpoints.RemoveMany(removed)

	var added []*Breakpoint
	for _, t := range targets {
		if kept[t.line] {
			continue
		}
		index, addErr := client.AddBreakpoint(s.ctx, t.name, t.line)
		if addErr != nil {
			s.log.V(1).Info("Breakpoint add failed", "file", t.name, "line", t.line, "error", addErr.Error())
			continue
		}
		if index != s.breakpoints.Len()+len(added) {
			s.log.V(1).Info("Runtime breakpoint index out of step",
				"runtimeIndex", index, "localIndex", s.breakpoints.Len()+len(added))
		}
		added = append(added, &Breakpoint{Path: t.path, Name: t.name, Line: t.line})
		verified[breakKey(path, t.line)] = true
		kept[t.line] = true
	}
	s.breakpoints.AddMany(added)
}

// --- threads / stack / scopes / variables ---

func (s *Session) onThreads(m *dap.ThreadsRequest) {
	resp := &dap.ThreadsResponse{Response: s.okResponse(m.Request)}
	resp.Body = dap.ThreadsResponseBody{
		Threads: []dap.Thread{{Id: mainThreadID, Name: "mainThread"}},
	}
	s.send(resp)
}

func (s *Session) onStackTrace(m *dap.StackTraceRequest) {
	client, gen, err := s.requirePaused()
	if err != nil {
		s.sendErrorResponse(m.Request, err.Error())
		return
	}

	entries, stackErr := client.GetCallStack(s.ctx)
	if stackErr != nil {
		s.sendErrorResponse(m.Request, fmt.Sprintf("failed to read call stack: %v", stackErr))
		return
	}

	sources := s.sourceRegistry()
	frames := make([]*StackFrame, 0, len(entries))
	for i, e := range entries {
		f := sources.Resolve(e.FileName)
		path, line, _ := sources.OriginalFor(f, e.Line)
		frames = append(frames, &StackFrame{
			Level:    -(i + 1),
			FuncName: e.FuncName,
			Path:     path,
			Line:     line,
		})
	}

	// Resolve this-binding constructors one frame at a time to bound
	// concurrent runtime evaluations.
	for _, frame := range frames {
		if s.handles.Stale(gen) {
			s.sendErrorResponse(m.Request, "target resumed while building the stack trace")
			return
		}
		frame.ClassName = s.resolveFrameClass(client, frame.Level)
	}

	if s.handles.Stale(gen) {
		s.sendErrorResponse(m.Request, "target resumed while building the stack trace")
		return
	}

	dapFrames := make([]dap.StackFrame, 0, len(frames))
	for i, frame := range frames {
		s.handles.AddFrame(frame)
		df := dap.StackFrame{
			Id:   frame.ID,
			Name: frame.Name(),
			Line: frame.Line,
		}
		if frame.Path != "" {
			df.Source = &dap.Source{
				Name: filepath.Base(frame.Path),
				Path: frame.Path,
			}
		} else {
			df.Source = &dap.Source{Name: entries[i].FileName}
		}
		dapFrames = append(dapFrames, df)
	}

	resp := &dap.StackTraceResponse{Response: s.okResponse(m.Request)}
	resp.Body = dap.StackTraceResponseBody{
		StackFrames: dapFrames,
		TotalFrames: len(dapFrames),
	}
	s.send(resp)
}

// resolveFrameClass evaluates the frame's this-binding and reads its class.
// Best effort: any failure means no class prefix.
func (s *Session) resolveFrameClass(client *wire.Client, level int) string {
	v, evalErr := client.Eval(s.ctx, level, "this")
	if evalErr != nil {
		return ""
	}
	if v.Kind != dvalue.KindObject {
		return ""
	}
	return wire.ClassName(v.Class)
}

func (s *Session) onScopes(m *dap.ScopesRequest) {
	frame, ok := s.handles.Frame(m.Arguments.FrameId)
	if !ok {
		s.sendErrorResponse(m.Request, ErrUnknownHandle.Error())
		return
	}

	set := s.handles.LocalScopeSet(frame)

	resp := &dap.ScopesResponse{Response: s.okResponse(m.Request)}
	resp.Body = dap.ScopesResponseBody{
		Scopes: []dap.Scope{{
			Name:               "Local",
			VariablesReference: set.ID,
			Expensive:          false,
		}},
	}
	s.send(resp)
}

func (s *Session) onVariables(m *dap.VariablesRequest) {
	set, ok := s.handles.Set(m.Arguments.VariablesReference)
	if !ok {
		s.sendErrorResponse(m.Request, ErrUnknownHandle.Error())
		return
	}

	client, gen, err := s.requirePaused()
	if err != nil {
		s.sendErrorResponse(m.Request, err.Error())
		return
	}

	s.materialize(client, gen, set)

	if s.handles.Stale(gen) {
		s.sendErrorResponse(m.Request, ErrUnknownHandle.Error())
		return
	}

	rows := set.Variables()
	dapVars := make([]dap.Variable, 0, len(rows))
	for _, row := range rows {
		dapVars = append(dapVars, dap.Variable{
			Name:               row.Name,
			Value:              row.Value,
			VariablesReference: row.Ref,
		})
	}

	resp := &dap.VariablesResponse{Response: s.okResponse(m.Request)}
	resp.Body = dap.VariablesResponseBody{Variables: dapVars}
	s.send(resp)
}

// materialize fills a property set on first expansion. Every runtime
// failure inside is soft: the affected row degrades to a placeholder and
// the rest of the set is still returned.
func (s *Session) materialize(client *wire.Client, gen uint64, set *PropertySet) {
	set.mu.Lock()
	defer set.mu.Unlock()
	if set.materialized {
		return
	}

	switch set.Kind {
	case setScope:
		set.variables = s.materializeScope(client, gen, set.Level)
	case setObject:
		set.variables = s.materializeObject(client, gen, set)
	case setArtificial:
		// Filled by its parent at creation.
	}

	if !s.handles.Stale(gen) {
		set.materialized = true
	}
}

// materializeScope lists the frame's locals plus this, evaluating each name
// in the frame's context.
func (s *Session) materializeScope(client *wire.Client, gen uint64, level int) []Variable {
	names := []string{"this"}
	locals, localsErr := client.GetLocals(s.ctx, level)
	if localsErr != nil {
		s.log.V(1).Info("get-locals failed", "level", level, "error", localsErr.Error())
	}
	for _, l := range locals {
		names = append(names, l.Name)
	}

	vars := make([]Variable, 0, len(names))
	for _, name := range names {
		if s.handles.Stale(gen) {
			return nil
		}
		vars = append(vars, s.evaluateVariable(client, gen, level, name))
	}
	return vars
}

// evaluateVariable resolves one scope name to a display row. Object results
// are deduplicated through the pointer cache so shared references expand to
// the same node.
func (s *Session) evaluateVariable(client *wire.Client, gen uint64, level int, name string) Variable {
	v, evalErr := client.Eval(s.ctx, level, name)
	if evalErr != nil {
		return Variable{Name: name, Value: valueUnavailable}
	}

	if v.Kind != dvalue.KindObject {
		return Variable{Name: name, Value: formatValue(v)}
	}

	set, created := s.handles.ObjectSet(v.Ptr)
	display := set.DisplayName()
	if created || display == "" {
		display = set.resolveDisplay(s.resolveObjectDisplay(client, level, name, v))
	}
	if s.handles.Stale(gen) {
		return Variable{Name: name, Value: valueUnavailable}
	}
	return Variable{Name: name, Value: display, Ref: set.ID}
}

// resolveObjectDisplay runs the display-name fallback chain: the target's
// own String() conversion, then the class name when String() is the generic
// Object form, then a generic label.
func (s *Session) resolveObjectDisplay(client *wire.Client, level int, expr string, v dvalue.Value) string {
	sv, evalErr := client.Eval(s.ctx, level, "String("+expr+")")
	if evalErr == nil && sv.Kind == dvalue.KindString && sv.Str != genericObjectDisplay {
		return sv.Str
	}

	if name := wire.ClassName(v.Class); name != "" {
		return name
	}
	return "[object]"
}

// materializeObject inspects a heap object. Artificial diagnostic
// properties go under a separate unsorted child node.
func (s *Session) materializeObject(client *wire.Client, gen uint64, set *PropertySet) []Variable {
	props, inspectErr := client.GetHeapObjInfo(s.ctx, set.Ptr)
	if inspectErr != nil {
		s.log.V(1).Info("Heap inspection failed", "ptr", set.Ptr.String(), "error", inspectErr.Error())
		return nil
	}
	if s.handles.Stale(gen) {
		return nil
	}

	var rows []Variable
	var artificial []Variable
	for _, p := range props {
		row := s.propertyRow(p)
		if p.Artificial() {
			artificial = append(artificial, row)
		} else {
			rows = append(rows, row)
		}
	}

	if len(artificial) > 0 {
		child := s.handles.NewSet(setArtificial, 0)
		child.mu.Lock()
		child.variables = artificial
		child.materialized = true
		child.mu.Unlock()
		set.artificialRef = child.ID

		label := set.DisplayName()
		if label == "" {
			label = "(internals)"
		}
		rows = append(rows, Variable{Name: label, Value: fmt.Sprintf("%d internal properties", len(artificial)), Ref: child.ID})
	}

	return rows
}

// propertyRow formats one inspected property. Object-valued properties are
// deduplicated like scope variables, but their display name can only come
// from the class table: there is no expression to evaluate.
func (s *Session) propertyRow(p wire.Property) Variable {
	if p.Value.Kind != dvalue.KindObject {
		return Variable{Name: p.Key, Value: formatValue(p.Value)}
	}

	child, created := s.handles.ObjectSet(p.Value.Ptr)
	display := child.DisplayName()
	if created || display == "" {
		display = child.resolveDisplay(wire.ClassName(p.Value.Class))
	}
	return Variable{Name: p.Key, Value: display, Ref: child.ID}
}

// --- evaluate ---

func (s *Session) onEvaluate(m *dap.EvaluateRequest) {
	client, gen, err := s.requirePaused()
	if err != nil {
		s.sendErrorResponse(m.Request, err.Error())
		return
	}

	level := -1
	if m.Arguments.FrameId != 0 {
		frame, ok := s.handles.Frame(m.Arguments.FrameId)
		if !ok {
			s.sendErrorResponse(m.Request, ErrUnknownHandle.Error())
			return
		}
		level = frame.Level
	}

	v, evalErr := client.Eval(s.ctx, level, m.Arguments.Expression)
	if evalErr != nil {
		var softErr *wire.EvalError
		if errors.As(evalErr, &softErr) {
			s.sendErrorResponse(m.Request, softErr.Display)
		} else {
			s.sendErrorResponse(m.Request, fmt.Sprintf("evaluation failed: %v", evalErr))
		}
		return
	}

	result := formatValue(v)
	ref := 0
	if v.Kind == dvalue.KindObject {
		set, created := s.handles.ObjectSet(v.Ptr)
		display := set.DisplayName()
		if created || display == "" {
			display = set.resolveDisplay(s.resolveObjectDisplay(client, level, m.Arguments.Expression, v))
		}
		result = display
		ref = set.ID
	}

	if s.handles.Stale(gen) {
		s.sendErrorResponse(m.Request, "target resumed during evaluation")
		return
	}

	resp := &dap.EvaluateResponse{Response: s.okResponse(m.Request)}
	resp.Body = dap.EvaluateResponseBody{
		Result:             result,
		VariablesReference: ref,
	}
	s.send(resp)
}

// requirePaused returns the client and current handle generation, or an
// error when the session is not attached and paused.
func (s *Session) requirePaused() (*wire.Client, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client == nil {
		return nil, 0, ErrNotAttached
	}
	if s.state != statePaused {
		return nil, 0, ErrNotPaused
	}
	return s.client, s.handles.Generation(), nil
}
