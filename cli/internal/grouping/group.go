// Package grouping partitions a change set into named file groups for
// batch commits and reconciles a suggested partition to an exact count.
package grouping

import (
	"github.com/google/uuid"

	"diffsum/cli/internal/diff"
)

// FileGroup is a named set of file diffs. TotalSize is always the sum of
// the member sizes; build groups with NewGroup.
type FileGroup struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Files       []diff.FileDiff `json:"-"`
	TotalSize   int             `json:"total_size"`
}

// NewGroup returns a group with a fresh ID and TotalSize computed from files.
func NewGroup(name, description string, files []diff.FileDiff) FileGroup {
	return FileGroup{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		Files:       files,
		TotalSize:   diff.TotalSize(files),
	}
}

// Paths returns the member file paths in order.
func (g FileGroup) Paths() []string {
	return diff.Paths(g.Files)
}

// AllPaths returns every member path across groups, in group order.
func AllPaths(groups []FileGroup) []string {
	var out []string
	for _, g := range groups {
		out = append(out, g.Paths()...)
	}
	return out
}
