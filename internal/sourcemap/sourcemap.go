/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Harold Brenes. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

// Package sourcemap reads revision-3 source maps and answers position
// queries in both directions: generated-to-original for stack locations and
// original-to-generated for breakpoint placement. Lines are 1-based and
// columns 0-based throughout, matching the debugger's conventions.
package sourcemap

import (
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strings"
)

// Bias selects which neighboring mapping to use when a query position has
// no exact mapping.
type Bias int

const (
	// GreatestLowerBound picks the nearest mapping at or before the query.
	GreatestLowerBound Bias = iota

	// LeastUpperBound picks the nearest mapping at or after the query.
	LeastUpperBound
)

// Position is an original-source location.
type Position struct {
	Source string
	Line   int
	Column int
	Name   string
}

// GeneratedPosition is a generated-file location.
type GeneratedPosition struct {
	Line   int
	Column int
}

// mapping is one decoded segment. Generated and original lines are 1-based.
type mapping struct {
	genLine int
	genCol  int
	srcIdx  int // -1 when the segment carries no source
	srcLine int
	srcCol  int
	nameIdx int // -1 when the segment carries no name
}

// Consumer answers position queries against one parsed source map.
type Consumer struct {
	file     string
	sources  []string
	names    []string
	mappings []mapping // sorted by generated position

	// bySource holds, per source index, the mappings sorted by original
	// position.
	bySource map[int][]mapping
}

type rawSourceMap struct {
	Version    int      `json:"version"`
	File       string   `json:"file"`
	SourceRoot string   `json:"sourceRoot"`
	Sources    []string `json:"sources"`
	Names      []string `json:"names"`
	Mappings   string   `json:"mappings"`
}

// Parse decodes a source map document.
func Parse(data []byte) (*Consumer, error) {
	var raw rawSourceMap
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse source map: %w", err)
	}
	if raw.Version != 3 {
		return nil, fmt.Errorf("unsupported source map version %d", raw.Version)
	}

	sources := make([]string, len(raw.Sources))
	for i, s := range raw.Sources {
		if raw.SourceRoot != "" {
			s = path.Join(raw.SourceRoot, s)
		}
		sources[i] = path.Clean(s)
	}

	c := &Consumer{
		file:     raw.File,
		sources:  sources,
		names:    raw.Names,
		bySource: make(map[int][]mapping),
	}

	if err := c.decodeMappings(raw.Mappings); err != nil {
		return nil, err
	}

	sort.SliceStable(c.mappings, func(i, j int) bool {
		return lessGenerated(c.mappings[i], c.mappings[j])
	})
	for idx := range c.bySource {
		sort.SliceStable(c.bySource[idx], func(i, j int) bool {
			return lessOriginal(c.bySource[idx][i], c.bySource[idx][j])
		})
	}

	return c, nil
}

func (c *Consumer) decodeMappings(encoded string) error {
	genLine := 1
	srcIdx, srcLine, srcCol, nameIdx := 0, 1, 0, 0

	for _, lineChunk := range strings.Split(encoded, ";") {
		genCol := 0

		for _, segment := range strings.Split(lineChunk, ",") {
			if segment == "" {
				continue
			}

			fields, err := decodeSegment(segment)
			if err != nil {
				return err
			}

			genCol += fields[0]
			m := mapping{genLine: genLine, genCol: genCol, srcIdx: -1, nameIdx: -1}

			if len(fields) >= 4 {
				srcIdx += fields[1]
				srcLine += fields[2]
				srcCol += fields[3]
				if srcIdx < 0 || srcIdx >= len(c.sources) {
					return fmt.Errorf("sourcemap: segment source index %d out of range", srcIdx)
				}
				m.srcIdx = srcIdx
				m.srcLine = srcLine
				m.srcCol = srcCol
			}
			if len(fields) >= 5 {
				nameIdx += fields[4]
				if nameIdx >= 0 && nameIdx < len(c.names) {
					m.nameIdx = nameIdx
				}
			}

			c.mappings = append(c.mappings, m)
			if m.srcIdx >= 0 {
				c.bySource[m.srcIdx] = append(c.bySource[m.srcIdx], m)
			}
		}

		genLine++
	}

	return nil
}

// decodeSegment decodes the 1, 4 or 5 VLQ fields of one segment.
func decodeSegment(segment string) ([]int, error) {
	fields := make([]int, 0, 5)
	for len(segment) > 0 {
		value, consumed, err := decodeVLQ(segment)
		if err != nil {
			return nil, err
		}
		fields = append(fields, value)
		segment = segment[consumed:]
	}

	switch len(fields) {
	case 1, 4, 5:
		return fields, nil
	default:
		return nil, fmt.Errorf("sourcemap: segment has %d fields", len(fields))
	}
}

// Sources lists the original source paths referenced by the map.
func (c *Consumer) Sources() []string {
	return c.sources
}

// File returns the generated file name recorded in the map, if any.
func (c *Consumer) File() string {
	return c.file
}

// OriginalPositionFor maps a generated position to its original source
// position. Returns ok=false when no mapping exists under the given bias.
func (c *Consumer) OriginalPositionFor(line, column int, bias Bias) (Position, bool) {
	query := mapping{genLine: line, genCol: column}
	m, ok := lookup(c.mappings, query, bias, lessGenerated)
	if !ok || m.srcIdx < 0 {
		return Position{}, false
	}

	pos := Position{
		Source: c.sources[m.srcIdx],
		Line:   m.srcLine,
		Column: m.srcCol,
	}
	if m.nameIdx >= 0 {
		pos.Name = c.names[m.nameIdx]
	}
	return pos, true
}

// GeneratedPositionFor maps an original source position to the generated
// file. The source is matched exactly first, then by path suffix in either
// direction, so callers may pass paths rooted differently from the map's.
func (c *Consumer) GeneratedPositionFor(source string, line, column int, bias Bias) (GeneratedPosition, bool) {
	srcIdx := c.sourceIndex(source)
	if srcIdx < 0 {
		return GeneratedPosition{}, false
	}

	query := mapping{srcLine: line, srcCol: column}
	m, ok := lookup(c.bySource[srcIdx], query, bias, lessOriginal)
	if !ok {
		return GeneratedPosition{}, false
	}
	return GeneratedPosition{Line: m.genLine, Column: m.genCol}, true
}

func (c *Consumer) sourceIndex(source string) int {
	source = path.Clean(strings.ReplaceAll(source, "\\", "/"))
	for i, s := range c.sources {
		if s == source {
			return i
		}
	}
	for i, s := range c.sources {
		// Maps commonly record sources relative to the generated file
		// ("../src/app.ts"); match on the path tail so differently rooted
		// queries still resolve.
		for strings.HasPrefix(s, "../") {
			s = s[3:]
		}
		if s == source || strings.HasSuffix(source, "/"+s) || strings.HasSuffix(s, "/"+source) {
			return i
		}
	}
	return -1
}

// lookup binary-searches sorted for the query under the given bias.
func lookup(sorted []mapping, query mapping, bias Bias, less func(a, b mapping) bool) (mapping, bool) {
	if len(sorted) == 0 {
		return mapping{}, false
	}

	// First index whose mapping is >= query.
	i := sort.Search(len(sorted), func(i int) bool {
		return !less(sorted[i], query)
	})

	if bias == LeastUpperBound {
		if i == len(sorted) {
			return mapping{}, false
		}
		return sorted[i], true
	}

	// GreatestLowerBound: exact hit is fine, otherwise step back.
	if i < len(sorted) && !less(query, sorted[i]) {
		return sorted[i], true
	}
	if i == 0 {
		return mapping{}, false
	}
	return sorted[i-1], true
}

func lessGenerated(a, b mapping) bool {
	if a.genLine != b.genLine {
		return a.genLine < b.genLine
	}
	return a.genCol < b.genCol
}

func lessOriginal(a, b mapping) bool {
	if a.srcLine != b.srcLine {
		return a.srcLine < b.srcLine
	}
	return a.srcCol < b.srcCol
}
