// Package diff splits raw git diff output into per-file records and filters
// out files that carry no signal for a change summary.
//
// # Splitting
// Input is split on the literal "diff --git " header. The "b" path of each
// header is canonical; sections for the same path are merged into one
// FileDiff. Input with no header produces no files.
//
// # Exclusions
// Build output, dependency directories, VCS internals, editor/OS artifacts,
// lock files and logs are excluded by path pattern. Patterns ending in "/"
// match a directory at any depth; other patterns are filepath.Match globs
// tried against the full path and the base name.
//
// # Binary files
// Binary detection is delegated to a BinaryDetector (git --numstat). It is
// only consulted when files remain after pattern filtering and their total
// size exceeds the binary check threshold.
package diff

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
)

// ErrNoRelevantChanges is returned when filtering removes every file.
var ErrNoRelevantChanges = errors.New("no relevant changes after filtering")

// DefaultBinaryCheckThreshold is the total diff size in bytes above which
// the BinaryDetector is consulted.
const DefaultBinaryCheckThreshold = 10 * 1024

// DefaultExcludePatterns are applied when FilterOptions.Patterns is nil.
var DefaultExcludePatterns = []string{
	// build output
	"dist/", "build/", "out/", "target/", "coverage/", ".next/", "__pycache__/",
	"*.pyc", "*.class", "*.o", "*.so", "*.min.js", "*.min.css", "*.map",
	// dependencies
	"node_modules/", "vendor/", "bower_components/", ".venv/",
	// VCS internals
	".git/", ".svn/", ".hg/",
	// editor and OS artifacts
	".idea/", ".vscode/", ".DS_Store", "Thumbs.db", "*.swp", "*~",
	// lock files
	"*.lock", "package-lock.json", "yarn.lock", "pnpm-lock.yaml", "go.sum",
	"Cargo.lock", "poetry.lock", "composer.lock", "Gemfile.lock",
	// logs
	"*.log", "logs/",
}

// BinaryDetector reports which paths in the current change set are binary.
type BinaryDetector interface {
	BinaryPaths(ctx context.Context) ([]string, error)
}

// FilterOptions configures Filter. The zero value uses DefaultExcludePatterns,
// DefaultBinaryCheckThreshold and no binary detection.
type FilterOptions struct {
	// Patterns replaces the defaults when non-nil.
	Patterns []string
	// Extra patterns are applied in addition to Patterns (or the defaults).
	Extra []string
	// Binary is consulted for large change sets; nil skips binary detection.
	Binary BinaryDetector
	// BinaryCheckThreshold overrides DefaultBinaryCheckThreshold when > 0.
	BinaryCheckThreshold int
}

func (o FilterOptions) patterns() []string {
	base := DefaultExcludePatterns
	if o.Patterns != nil {
		base = o.Patterns
	}
	if len(o.Extra) == 0 {
		return base
	}
	out := make([]string, 0, len(base)+len(o.Extra))
	out = append(out, base...)
	return append(out, o.Extra...)
}

func (o FilterOptions) binaryThreshold() int {
	if o.BinaryCheckThreshold > 0 {
		return o.BinaryCheckThreshold
	}
	return DefaultBinaryCheckThreshold
}

// Filter returns files not matching any exclusion pattern and not reported
// binary. Empty input returns nil, nil. When input is non-empty and every
// file is removed, Filter returns ErrNoRelevantChanges.
func Filter(ctx context.Context, files []FileDiff, opts FilterOptions) ([]FileDiff, error) {
	if len(files) == 0 {
		return nil, nil
	}
	patterns := opts.patterns()
	kept := make([]FileDiff, 0, len(files))
	for _, f := range files {
		if !Excluded(f.Path, patterns) {
			kept = append(kept, f)
		}
	}
	if len(kept) == 0 {
		return nil, ErrNoRelevantChanges
	}
	if opts.Binary != nil && TotalSize(kept) > opts.binaryThreshold() {
		binary, err := opts.Binary.BinaryPaths(ctx)
		if err != nil {
			return nil, fmt.Errorf("detect binary files: %w", err)
		}
		kept = dropPaths(kept, binary)
		if len(kept) == 0 {
			return nil, ErrNoRelevantChanges
		}
	}
	return kept, nil
}

// FilterRaw filters raw diff text section by section, preserving original
// section boundaries (duplicate sections are not merged). Text without
// headers yields "", nil.
func FilterRaw(ctx context.Context, raw string, opts FilterOptions) (string, error) {
	sections := splitSections(raw)
	if len(sections) == 0 {
		return "", nil
	}
	files := make([]FileDiff, 0, len(sections))
	for _, s := range sections {
		p, ok := sectionPath(s)
		if !ok {
			continue
		}
		files = append(files, NewFileDiff(p, s))
	}
	if len(files) == 0 {
		return "", nil
	}
	kept, err := Filter(ctx, files, opts)
	if err != nil {
		return "", err
	}
	return Join(kept), nil
}

// Excluded reports whether p matches any pattern. Paths are matched with
// forward slashes.
func Excluded(p string, patterns []string) bool {
	p = strings.TrimPrefix(p, "./")
	for _, pat := range patterns {
		if pat == "" {
			continue
		}
		if strings.HasSuffix(pat, "/") {
			if hasDir(p, strings.TrimSuffix(pat, "/")) {
				return true
			}
			continue
		}
		// filepath.Match has no **; "dir/**" is a directory prefix.
		if dir, ok := strings.CutSuffix(pat, "/**"); ok {
			if hasDir(p, dir) {
				return true
			}
			continue
		}
		if ok, err := path.Match(pat, p); err == nil && ok {
			return true
		}
		if ok, _ := path.Match(pat, path.Base(p)); ok {
			return true
		}
	}
	return false
}

// hasDir reports whether dir (which may itself contain slashes) occurs as a
// whole directory component sequence of p.
func hasDir(p, dir string) bool {
	if dir == "" {
		return false
	}
	if strings.HasPrefix(p, dir+"/") {
		return true
	}
	return strings.Contains(p, "/"+dir+"/")
}

func dropPaths(files []FileDiff, paths []string) []FileDiff {
	if len(paths) == 0 {
		return files
	}
	drop := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		drop[p] = struct{}{}
	}
	out := make([]FileDiff, 0, len(files))
	for _, f := range files {
		if _, ok := drop[f.Path]; !ok {
			out = append(out, f)
		}
	}
	return out
}
