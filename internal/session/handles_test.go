/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Harold Brenes. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harold-b/musashi-dap/internal/dvalue"
)

func TestHandleTableResetInvalidates(t *testing.T) {
	t.Parallel()

	table := newHandleTable()
	gen := table.Generation()

	frameID := table.AddFrame(&StackFrame{Level: -1, FuncName: "main"})
	set := table.NewSet(setScope, -1)

	_, ok := table.Frame(frameID)
	require.True(t, ok)
	_, ok = table.Set(set.ID)
	require.True(t, ok)
	assert.False(t, table.Stale(gen))

	newGen := table.Reset()
	assert.NotEqual(t, gen, newGen)
	assert.True(t, table.Stale(gen))

	_, ok = table.Frame(frameID)
	assert.False(t, ok, "frame handle must not survive a reset")
	_, ok = table.Set(set.ID)
	assert.False(t, ok, "variables reference must not survive a reset")
}

func TestHandleTableHandlesNeverReused(t *testing.T) {
	t.Parallel()

	table := newHandleTable()
	first := table.AddFrame(&StackFrame{})
	table.Reset()
	second := table.AddFrame(&StackFrame{})

	assert.Greater(t, second, first)
}

func TestObjectSetDedupByPointer(t *testing.T) {
	t.Parallel()

	table := newHandleTable()
	ptr := dvalue.NewPointer64(0x12, 0x3456)
	same := dvalue.NewPointer64(0x12, 0x3456)
	other := dvalue.NewPointer64(0x12, 0x9999)

	a, created := table.ObjectSet(ptr)
	require.True(t, created)

	b, created := table.ObjectSet(same)
	assert.False(t, created)
	assert.Same(t, a, b, "identical pointers must share one property set")

	c, created := table.ObjectSet(other)
	assert.True(t, created)
	assert.NotEqual(t, a.ID, c.ID)

	// A 4-byte pointer with the same low word is a different identity.
	d, created := table.ObjectSet(dvalue.NewPointer32(0x3456))
	assert.True(t, created)
	assert.NotEqual(t, a.ID, d.ID)
}

func TestVariableSortOrder(t *testing.T) {
	t.Parallel()

	vars := []Variable{{Name: "b"}, {Name: "2"}, {Name: "a"}, {Name: "10"}}
	sortVariables(vars)

	names := make([]string, len(vars))
	for i, v := range vars {
		names[i] = v.Name
	}
	assert.Equal(t, []string{"a", "b", "2", "10"}, names)
}

func TestArtificialSetPreservesWireOrder(t *testing.T) {
	t.Parallel()

	set := &PropertySet{Kind: setArtificial}
	set.variables = []Variable{{Name: "b"}, {Name: "2"}, {Name: "a"}, {Name: "10"}}

	got := set.Variables()
	names := make([]string, len(got))
	for i, v := range got {
		names[i] = v.Name
	}
	assert.Equal(t, []string{"b", "2", "a", "10"}, names)
}

func TestFrameName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "run", (&StackFrame{FuncName: "run"}).Name())
	assert.Equal(t, "Timer.run", (&StackFrame{FuncName: "run", ClassName: "Timer"}).Name())
	assert.Equal(t, "run", (&StackFrame{FuncName: "run", ClassName: "Object"}).Name())
	assert.Equal(t, "(anonymous)", (&StackFrame{}).Name())
}
