/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Harold Brenes. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package session

import (
	"sort"
	"strconv"
	"sync"

	"github.com/harold-b/musashi-dap/internal/dvalue"
)

// propertySetKind classifies an expandable variables node.
type propertySetKind int

const (
	// setScope backs a scope's top-level variables, materialized from
	// get-locals plus per-name evaluation.
	setScope propertySetKind = iota

	// setObject backs a heap object, materialized from heap inspection.
	setObject

	// setArtificial holds the synthetic diagnostic properties of an
	// inspected object. Never sorted: wire order is meaningful.
	setArtificial
)

// StackFrame is one activation record of the current pause.
type StackFrame struct {
	ID    int
	Level int // runtime frame level: -1 is the deepest frame

	FuncName  string
	ClassName string // resolved this-binding constructor, may be empty

	// Path and Line are the presentation location: the original source
	// position when a source map applies, the generated one otherwise.
	Path string
	Line int

	// localRef is the Local scope's property set handle, created on the
	// first scopes request for this frame.
	localRef int
}

// Name returns the frame's display name, prefixed with the resolved class
// when one is known.
func (f *StackFrame) Name() string {
	name := f.FuncName
	if name == "" {
		name = "(anonymous)"
	}
	if f.ClassName != "" && f.ClassName != "Object" && f.ClassName != "global" {
		return f.ClassName + "." + name
	}
	return name
}

// Variable is one materialized name/value row of a property set.
type Variable struct {
	Name  string
	Value string

	// Ref is the child property set handle, or 0 for a terminal value.
	Ref int
}

// PropertySet is an expandable group of variables behind one DAP variables
// reference.
type PropertySet struct {
	ID   int
	Kind propertySetKind

	// Level is the owning frame's runtime level, for scope sets.
	Level int

	// Ptr identifies the inspected heap object, for object sets.
	Ptr dvalue.Pointer

	// nameMu guards display. It is a separate lock from mu so display
	// resolution never contends with materialization: an object whose
	// properties include itself would otherwise deadlock.
	nameMu  sync.Mutex
	display string

	// mu serializes materialization so overlapping variables requests for
	// the same reference expand it once.
	mu           sync.Mutex
	materialized bool
	variables    []Variable

	// artificialRef is the child node holding synthetic diagnostic
	// properties, for object sets that have any.
	artificialRef int
}

// handleTable owns every frame and property set handle of the current pause
// cycle. Handles are monotonically increasing and never reused; a reset
// bumps the generation and drops all live handles, so stale lookups miss
// instead of returning old data.
type handleTable struct {
	mu         sync.Mutex
	generation uint64
	nextID     int
	frames     map[int]*StackFrame
	sets       map[int]*PropertySet

	// byPointer dedups object sets by canonical pointer string, so two
	// variables referencing the same heap object share one node.
	byPointer map[string]*PropertySet
}

func newHandleTable() *handleTable {
	t := &handleTable{}
	t.resetLocked()
	return t
}

// Reset invalidates every handle and starts a new generation. Returns the
// new generation.
func (t *handleTable) Reset() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resetLocked()
	return t.generation
}

func (t *handleTable) resetLocked() {
	t.generation++
	t.frames = make(map[int]*StackFrame)
	t.sets = make(map[int]*PropertySet)
	t.byPointer = make(map[string]*PropertySet)
}

// Generation returns the current pause-cycle generation.
func (t *handleTable) Generation() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.generation
}

// Stale reports whether gen belongs to a superseded pause cycle. In-flight
// expansions check this before mutating shared state.
func (t *handleTable) Stale(gen uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.generation != gen
}

// AddFrame registers a frame and assigns its handle.
func (t *handleTable) AddFrame(f *StackFrame) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	f.ID = t.nextID
	t.frames[f.ID] = f
	return f.ID
}

// Frame looks a frame handle up in the current generation.
func (t *handleTable) Frame(id int) (*StackFrame, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	f, ok := t.frames[id]
	return f, ok
}

// NewSet registers a fresh property set and assigns its handle.
func (t *handleTable) NewSet(kind propertySetKind, level int) *PropertySet {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.newSetLocked(kind, level)
}

func (t *handleTable) newSetLocked(kind propertySetKind, level int) *PropertySet {
	t.nextID++
	s := &PropertySet{ID: t.nextID, Kind: kind, Level: level}
	t.sets[s.ID] = s
	return s
}

// LocalScopeSet returns the frame's Local scope property set, creating it
// on first use.
func (t *handleTable) LocalScopeSet(f *StackFrame) *PropertySet {
	t.mu.Lock()
	defer t.mu.Unlock()

	if f.localRef != 0 {
		if existing, ok := t.sets[f.localRef]; ok {
			return existing
		}
	}

	s := t.newSetLocked(setScope, f.Level)
	f.localRef = s.ID
	return s
}

// Set looks a variables reference up in the current generation.
func (t *handleTable) Set(id int) (*PropertySet, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sets[id]
	return s, ok
}

// ObjectSet returns the property set for a heap object, creating it on
// first sight. Identity is the pointer's canonical string form, so the same
// object reached through different variables shares one expandable node.
func (t *handleTable) ObjectSet(ptr dvalue.Pointer) (set *PropertySet, created bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := ptr.String()
	if existing, ok := t.byPointer[key]; ok {
		return existing, false
	}

	s := t.newSetLocked(setObject, 0)
	s.Ptr = ptr
	t.byPointer[key] = s
	return s, true
}

// DisplayName returns the resolved string form of the object, or "" when no
// resolver has run yet.
func (s *PropertySet) DisplayName() string {
	s.nameMu.Lock()
	defer s.nameMu.Unlock()
	return s.display
}

// resolveDisplay stores name as the set's display form unless a concurrent
// resolver got there first, and returns the winning value. Requests sharing
// the set may both evaluate the name, but exactly one result sticks.
func (s *PropertySet) resolveDisplay(name string) string {
	s.nameMu.Lock()
	defer s.nameMu.Unlock()
	if s.display == "" {
		s.display = name
	}
	return s.display
}

// Variables returns the materialized rows, sorted for presentation:
// non-numeric names lexicographically, then numeric names ascending by
// value. Artificial sets keep wire order.
func (s *PropertySet) Variables() []Variable {
	s.mu.Lock()
	vars := append([]Variable(nil), s.variables...)
	s.mu.Unlock()

	if s.Kind != setArtificial {
		sortVariables(vars)
	}
	return vars
}

// sortVariables orders rows for display: non-numeric names first in
// lexicographic order, then numeric names ascending by numeric value.
func sortVariables(vars []Variable) {
	sort.SliceStable(vars, func(i, j int) bool {
		a, aNumeric := numericName(vars[i].Name)
		b, bNumeric := numericName(vars[j].Name)

		switch {
		case aNumeric && bNumeric:
			return a < b
		case aNumeric != bNumeric:
			return !aNumeric
		default:
			return vars[i].Name < vars[j].Name
		}
	})
}

func numericName(name string) (int, bool) {
	n, err := strconv.Atoi(name)
	return n, err == nil
}
