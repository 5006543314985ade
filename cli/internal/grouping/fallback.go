package grouping

import (
	"path"
	"sort"

	"diffsum/cli/internal/diff"
)

// RootName names the group of files at the repository root.
const RootName = "(root)"

// ByDirectory groups files by containing directory, sorted by directory
// name with the root group first. File order within a group is preserved.
// The result is not reconciled to a target count.
func ByDirectory(files []diff.FileDiff) []FileGroup {
	byDir := make(map[string][]diff.FileDiff)
	var dirs []string
	for _, f := range files {
		d := path.Dir(f.Path)
		if d == "." || d == "/" {
			d = ""
		}
		if _, ok := byDir[d]; !ok {
			dirs = append(dirs, d)
		}
		byDir[d] = append(byDir[d], f)
	}
	sort.Strings(dirs)
	out := make([]FileGroup, 0, len(dirs))
	for _, d := range dirs {
		name := d
		if name == "" {
			name = RootName
		}
		out = append(out, NewGroup(name, "", byDir[d]))
	}
	return out
}

// Plan turns a model suggestion into groups. A parseable suggestion is
// reconciled to target; otherwise the directory partition is returned as is.
// The second return is false when the fallback was used.
func Plan(raw string, files []diff.FileDiff, target int) ([]FileGroup, bool) {
	groups, err := ParseSuggestion(raw, files)
	if err != nil {
		return ByDirectory(files), false
	}
	return Reconcile(groups, target), true
}
