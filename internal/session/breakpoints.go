/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Harold Brenes. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package session

import "sync"

// Breakpoint is one client-side mirror entry of the runtime's breakpoint
// table. Name is the script name the runtime knows the file by and Line is
// the generated-file line the runtime stops on. Index is the runtime's
// positional index for the entry.
type Breakpoint struct {
	// Path is the absolute generated-file path on the local filesystem.
	Path string

	// Name is the runtime-facing script name sent with add-breakpoint and
	// reported in status notifications.
	Name string

	// Line is the line in the generated file.
	Line int

	// Index is the runtime's current index for this breakpoint. The runtime
	// renumbers its table positionally on every delete, so Index is only
	// stable between structural changes.
	Index int
}

// breakpointMap mirrors the runtime's contiguous breakpoint table. The
// runtime addresses breakpoints by position: deleting entry k shifts every
// entry above k down by one. The map therefore renumbers all entries to
// their positional order after every structural change, keeping Index in
// lockstep with the runtime at all times.
type breakpointMap struct {
	mu      sync.Mutex
	entries []*Breakpoint
}

// Find returns the entry at the given generated path and line, or nil.
func (m *breakpointMap) Find(path string, line int) *Breakpoint {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range m.entries {
		if e.Path == path && e.Line == line {
			return e
		}
	}
	return nil
}

// FindByName matches on the runtime-facing script name, as reported by
// status notifications.
func (m *breakpointMap) FindByName(name string, line int) *Breakpoint {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range m.entries {
		if e.Name == name && e.Line == line {
			return e
		}
	}
	return nil
}

// ForFile returns the entries for one generated path, in table order.
func (m *breakpointMap) ForFile(path string) []*Breakpoint {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []*Breakpoint
	for _, e := range m.entries {
		if e.Path == path {
			result = append(result, e)
		}
	}
	return result
}

// All returns the entries in table order.
func (m *breakpointMap) All() []*Breakpoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Breakpoint(nil), m.entries...)
}

// Len returns the number of entries.
func (m *breakpointMap) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// AddMany appends entries and renumbers. The caller must already have sent
// the matching add-breakpoint commands, in entry order.
func (m *breakpointMap) AddMany(entries []*Breakpoint) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = append(m.entries, entries...)
	m.renumber()
}

// RemoveMany deletes entries by identity and renumbers the rest.
func (m *breakpointMap) RemoveMany(entries []*Breakpoint) {
	m.mu.Lock()
	defer m.mu.Unlock()

	doomed := make(map[*Breakpoint]bool, len(entries))
	for _, e := range entries {
		doomed[e] = true
	}

	kept := m.entries[:0]
	for _, e := range m.entries {
		if !doomed[e] {
			kept = append(kept, e)
		}
	}
	m.entries = kept
	m.renumber()
}

// Clear drops every entry.
func (m *breakpointMap) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = nil
}

func (m *breakpointMap) renumber() {
	for i, e := range m.entries {
		e.Index = i
	}
}
