package grouping

import (
	"fmt"
	"strings"

	"diffsum/cli/internal/diff"
)

// Reconcile returns a partition of exactly target groups covering the same
// files, when possible. Too many groups: the two smallest by TotalSize are
// merged, repeatedly. Too few: the largest group with more than one file is
// split in half by position, repeatedly, stopping early when every group is
// a single file. Groups that are not merged or split keep their identity.
// target below 1 is treated as 1. The input slice is not modified.
func Reconcile(groups []FileGroup, target int) []FileGroup {
	if target < 1 {
		target = 1
	}
	out := make([]FileGroup, len(groups))
	copy(out, groups)
	for len(out) > target && len(out) > 1 {
		out = mergeSmallest(out)
	}
	for len(out) < target {
		next, ok := splitLargest(out)
		if !ok {
			break
		}
		out = next
	}
	return out
}

// mergeSmallest merges the two smallest groups into one placed at the
// earlier group's position. Ties keep the earlier group first.
func mergeSmallest(groups []FileGroup) []FileGroup {
	a, b := -1, -1
	for i, g := range groups {
		switch {
		case a == -1 || g.TotalSize < groups[a].TotalSize:
			a, b = i, a
		case b == -1 || g.TotalSize < groups[b].TotalSize:
			b = i
		}
	}
	if a > b {
		a, b = b, a
	}
	first, second := groups[a], groups[b]
	files := make([]diff.FileDiff, 0, len(first.Files)+len(second.Files))
	files = append(files, first.Files...)
	files = append(files, second.Files...)
	merged := NewGroup(first.Name+" + "+second.Name, joinNonEmpty("; ", first.Description, second.Description), files)

	out := make([]FileGroup, 0, len(groups)-1)
	for i, g := range groups {
		switch i {
		case a:
			out = append(out, merged)
		case b:
		default:
			out = append(out, g)
		}
	}
	return out
}

// splitLargest splits the largest group with at least two files into its
// first and second half. It returns false when no group can be split.
func splitLargest(groups []FileGroup) ([]FileGroup, bool) {
	idx := -1
	for i, g := range groups {
		if len(g.Files) < 2 {
			continue
		}
		if idx == -1 || g.TotalSize > groups[idx].TotalSize {
			idx = i
		}
	}
	if idx == -1 {
		return groups, false
	}
	g := groups[idx]
	mid := (len(g.Files) + 1) / 2
	first := NewGroup(fmt.Sprintf("%s (part 1)", g.Name), g.Description, append([]diff.FileDiff(nil), g.Files[:mid]...))
	second := NewGroup(fmt.Sprintf("%s (part 2)", g.Name), g.Description, append([]diff.FileDiff(nil), g.Files[mid:]...))

	out := make([]FileGroup, 0, len(groups)+1)
	out = append(out, groups[:idx]...)
	out = append(out, first, second)
	out = append(out, groups[idx+1:]...)
	return out, true
}

func joinNonEmpty(sep string, parts ...string) string {
	var kept []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, sep)
}
