/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Harold Brenes. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package session

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-logr/logr"

	"github.com/harold-b/musashi-dap/internal/sourcemap"
)

// sourceMappingURLPrefix introduces the source-map comment a compiler
// appends to a generated file.
const sourceMappingURLPrefix = "//# sourceMappingURL="

// SourceFile is one script known to the session: the name the runtime
// reports it by, the resolved local path of the generated file, and its
// source map when one was discovered.
type SourceFile struct {
	ID   int
	Name string
	Path string
	Map  *sourcemap.Consumer
}

// sourceRegistry resolves runtime script names to local files and provides
// position translation through discovered source maps. Entries are created
// lazily on first reference and live until the session resets.
type sourceRegistry struct {
	log           logr.Logger
	outDir        string
	localRoot     string
	remoteRoot    string
	useSourceMaps bool

	mu      sync.Mutex
	nextID  int
	byName  map[string]*SourceFile
	scanned bool

	// mapped holds the generated files found by the output-directory scan
	// that carry a source map, for original-to-generated lookups.
	mapped []*SourceFile
}

func newSourceRegistry(log logr.Logger, outDir, localRoot, remoteRoot string, useSourceMaps bool) *sourceRegistry {
	return &sourceRegistry{
		log:           log,
		outDir:        outDir,
		localRoot:     localRoot,
		remoteRoot:    remoteRoot,
		useSourceMaps: useSourceMaps,
		byName:        make(map[string]*SourceFile),
	}
}

// Reset drops all registered files.
func (r *sourceRegistry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byName = make(map[string]*SourceFile)
	r.mapped = nil
	r.scanned = false
}

// Resolve returns the SourceFile for a runtime-reported script name,
// probing the output directory and then the local root. The file is
// registered even when no local copy exists, so stack frames always have a
// display name.
func (r *sourceRegistry) Resolve(name string) *SourceFile {
	r.mu.Lock()
	defer r.mu.Unlock()

	if f, ok := r.byName[name]; ok {
		return f
	}

	r.nextID++
	f := &SourceFile{ID: r.nextID, Name: name}
	f.Path = r.probe(name)
	if f.Path != "" && r.useSourceMaps {
		f.Map = r.loadMap(f.Path)
	}
	r.byName[name] = f
	return f
}

// probe finds the local generated file for a runtime script name. Names
// rooted at the remote system's root directory are re-anchored locally.
func (r *sourceRegistry) probe(name string) string {
	if r.remoteRoot != "" {
		slashed := filepath.ToSlash(name)
		remote := strings.TrimSuffix(filepath.ToSlash(r.remoteRoot), "/")
		if trimmed := strings.TrimPrefix(slashed, remote+"/"); trimmed != slashed {
			name = trimmed
		}
	}

	candidates := []string{}
	if r.outDir != "" {
		candidates = append(candidates, filepath.Join(r.outDir, filepath.FromSlash(name)))
	}
	if r.localRoot != "" {
		candidates = append(candidates, filepath.Join(r.localRoot, filepath.FromSlash(name)))
	}
	if filepath.IsAbs(name) {
		candidates = append(candidates, name)
	}

	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
	}

	r.log.V(1).Info("Script has no local file", "name", name)
	return ""
}

// loadMap discovers and parses the source map for a generated file: the
// trailing sourceMappingURL comment first, then a sibling <file>.map.
func (r *sourceRegistry) loadMap(generatedPath string) *sourcemap.Consumer {
	mapPath := ""

	if content, err := os.ReadFile(generatedPath); err == nil {
		if url := findSourceMappingURL(string(content)); url != "" && !strings.HasPrefix(url, "data:") {
			if filepath.IsAbs(url) {
				mapPath = url
			} else {
				mapPath = filepath.Join(filepath.Dir(generatedPath), filepath.FromSlash(url))
			}
		}
	}

	if mapPath == "" {
		mapPath = generatedPath + ".map"
	}

	data, err := os.ReadFile(mapPath)
	if err != nil {
		return nil
	}

	consumer, parseErr := sourcemap.Parse(data)
	if parseErr != nil {
		r.log.V(1).Info("Ignoring unparseable source map", "path", mapPath, "error", parseErr.Error())
		return nil
	}

	r.log.V(1).Info("Loaded source map", "generated", generatedPath, "map", mapPath)
	return consumer
}

// findSourceMappingURL returns the URL of the last sourceMappingURL comment
// in the file, or "".
func findSourceMappingURL(content string) string {
	idx := strings.LastIndex(content, sourceMappingURLPrefix)
	if idx < 0 {
		return ""
	}

	url := content[idx+len(sourceMappingURLPrefix):]
	if end := strings.IndexAny(url, "\r\n \t"); end >= 0 {
		url = url[:end]
	}
	return strings.TrimSpace(url)
}

// OriginalFor translates a generated-file line to its original source
// position. Falls back to the generated location when no map applies.
func (r *sourceRegistry) OriginalFor(f *SourceFile, line int) (path string, originalLine int, mapped bool) {
	if f.Map == nil {
		return f.Path, line, false
	}

	pos, ok := f.Map.OriginalPositionFor(line, 0, sourcemap.GreatestLowerBound)
	if !ok {
		return f.Path, line, false
	}

	original := r.resolveOriginal(f, pos.Source)
	return original, pos.Line, true
}

// resolveOriginal turns a map-recorded source path into a local path,
// anchored at the generated file's directory and then the local root.
func (r *sourceRegistry) resolveOriginal(f *SourceFile, source string) string {
	if filepath.IsAbs(source) {
		return source
	}

	relative := filepath.FromSlash(source)
	if f.Path != "" {
		candidate := filepath.Join(filepath.Dir(f.Path), relative)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	if r.localRoot != "" {
		candidate := filepath.Join(r.localRoot, relative)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}

		// Strip any leading parent hops and anchor at the root.
		trimmed := source
		for strings.HasPrefix(trimmed, "../") {
			trimmed = trimmed[3:]
		}
		candidate = filepath.Join(r.localRoot, filepath.FromSlash(trimmed))
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return relative
}

// GeneratedFor finds the generated file and line for a breakpoint requested
// on an original source path. Returns ok=false when no loaded map covers
// the path.
func (r *sourceRegistry) GeneratedFor(originalPath string, line int) (f *SourceFile, generatedLine int, ok bool) {
	if !r.useSourceMaps {
		return nil, 0, false
	}

	r.mu.Lock()
	r.scanLocked()
	candidates := append([]*SourceFile(nil), r.mapped...)
	r.mu.Unlock()

	query := filepath.ToSlash(originalPath)
	for _, candidate := range candidates {
		pos, found := candidate.Map.GeneratedPositionFor(query, line, 0, sourcemap.LeastUpperBound)
		if found {
			return candidate, pos.Line, true
		}
	}
	return nil, 0, false
}

// scanLocked walks the output directory once, registering every generated
// file that carries a source map.
func (r *sourceRegistry) scanLocked() {
	if r.scanned || r.outDir == "" {
		return
	}
	r.scanned = true

	walkErr := filepath.WalkDir(r.outDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if strings.HasSuffix(path, ".map") {
			return nil
		}

		name, relErr := filepath.Rel(r.outDir, path)
		if relErr != nil {
			return nil
		}
		name = filepath.ToSlash(name)

		f, known := r.byName[name]
		if !known {
			r.nextID++
			f = &SourceFile{ID: r.nextID, Name: name, Path: path}
			if r.useSourceMaps {
				f.Map = r.loadMap(path)
			}
			r.byName[name] = f
		}
		if f.Map != nil {
			r.mapped = append(r.mapped, f)
		}
		return nil
	})
	if walkErr != nil {
		r.log.V(1).Info("Output directory scan failed", "dir", r.outDir, "error", walkErr.Error())
	}
}

// NameForPath returns the runtime-facing script name for a local generated
// file path, relative to the output directory when possible.
func (r *sourceRegistry) NameForPath(path string) string {
	if r.outDir != "" {
		if rel, err := filepath.Rel(r.outDir, path); err == nil && !strings.HasPrefix(rel, "..") {
			return filepath.ToSlash(rel)
		}
	}
	if r.localRoot != "" {
		if rel, err := filepath.Rel(r.localRoot, path); err == nil && !strings.HasPrefix(rel, "..") {
			return filepath.ToSlash(rel)
		}
	}
	return filepath.ToSlash(filepath.Base(path))
}
