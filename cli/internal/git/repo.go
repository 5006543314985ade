// Package git runs the git commands diffsum needs: repository discovery,
// the working diff, changed and untracked paths, and binary detection.
package git

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"diffsum/cli/internal/erruser"
)

// RepoRoot returns the absolute path of the git repository root containing dir.
// Runs "git rev-parse --show-toplevel" with Dir=dir. Returns error if dir is
// not inside a git repository.
func RepoRoot(dir string) (string, error) {
	cmd := exec.Command("git", "rev-parse", "--show-toplevel")
	cmd.Dir = dir
	cmd.Env = minimalEnv()
	out, err := cmd.Output()
	if err != nil {
		return "", erruser.New("This directory is not inside a Git repository.", err)
	}
	return filepath.Abs(strings.TrimSpace(string(out)))
}

// Repo is a working tree. Staged limits diffs to the index; otherwise
// diffs cover staged and unstaged changes against HEAD.
type Repo struct {
	Root   string
	Staged bool
}

// Diff returns the unified diff of the current changes. In a repository
// without commits it returns the staged diff followed by the unstaged one,
// so a file with both appears twice.
func (r Repo) Diff(ctx context.Context) (string, error) {
	if r.Staged {
		return r.git(ctx, "diff", "--cached", "--no-color", "--no-ext-diff", "--no-renames")
	}
	if r.hasHead(ctx) {
		return r.git(ctx, "diff", "HEAD", "--no-color", "--no-ext-diff", "--no-renames")
	}
	staged, err := r.git(ctx, "diff", "--cached", "--no-color", "--no-ext-diff", "--no-renames")
	if err != nil {
		return "", err
	}
	unstaged, err := r.git(ctx, "diff", "--no-color", "--no-ext-diff", "--no-renames")
	if err != nil {
		return "", err
	}
	if staged == "" || unstaged == "" {
		return staged + unstaged, nil
	}
	return strings.TrimSuffix(staged, "\n") + "\n" + unstaged, nil
}

// ChangedPaths returns the paths with tracked changes, in git's order.
func (r Repo) ChangedPaths(ctx context.Context) ([]string, error) {
	out, err := r.git(ctx, append([]string{"diff", "--name-only", "--no-renames", "-z"}, r.base(ctx)...)...)
	if err != nil {
		return nil, err
	}
	return splitNUL(out), nil
}

// BinaryPaths returns the changed paths git reports as binary in
// "git diff --numstat".
func (r Repo) BinaryPaths(ctx context.Context) ([]string, error) {
	out, err := r.git(ctx, append([]string{"diff", "--numstat", "--no-renames"}, r.base(ctx)...)...)
	if err != nil {
		return nil, err
	}
	return ParseNumstat(out), nil
}

// Untracked returns untracked files not ignored by .gitignore.
func (r Repo) Untracked(ctx context.Context) ([]string, error) {
	out, err := r.git(ctx, "ls-files", "--others", "--exclude-standard", "-z")
	if err != nil {
		return nil, err
	}
	return splitNUL(out), nil
}

// Branch returns the current branch name, or "HEAD" when detached. A
// repository without commits reports the unborn branch name.
func (r Repo) Branch(ctx context.Context) (string, error) {
	out, err := r.git(ctx, "symbolic-ref", "--short", "-q", "HEAD")
	if err == nil && strings.TrimSpace(out) != "" {
		return strings.TrimSpace(out), nil
	}
	return "HEAD", nil
}

// ParseNumstat returns the paths whose added and deleted counts are "-",
// git's marker for binary content.
func ParseNumstat(out string) []string {
	var paths []string
	for _, line := range strings.Split(out, "\n") {
		fields := strings.SplitN(line, "\t", 3)
		if len(fields) != 3 {
			continue
		}
		if fields[0] == "-" && fields[1] == "-" {
			paths = append(paths, fields[2])
		}
	}
	return paths
}

// base is the diff target matching Diff.
func (r Repo) base(ctx context.Context) []string {
	if r.Staged || !r.hasHead(ctx) {
		return []string{"--cached"}
	}
	return []string{"HEAD"}
}

func (r Repo) hasHead(ctx context.Context) bool {
	_, err := r.git(ctx, "rev-parse", "--verify", "-q", "HEAD")
	return err == nil
}

// git runs a git subcommand in r.Root. Paths in its output are not
// octal-escaped, so diff headers match the -z path listings.
func (r Repo) git(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", append([]string{"-c", "core.quotePath=false"}, args...)...)
	cmd.Dir = r.Root
	cmd.Env = minimalEnv()
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return "", fmt.Errorf("git %s: %w: %s", args[0], err, msg)
		}
		return "", fmt.Errorf("git %s: %w", args[0], err)
	}
	return string(out), nil
}

func splitNUL(s string) []string {
	var out []string
	for _, p := range strings.Split(s, "\x00") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func minimalEnv() []string {
	env := []string{
		"PATH=" + os.Getenv("PATH"),
		"GIT_TERMINAL_PROMPT=0",
		"GIT_PAGER=cat",
	}
	if home := os.Getenv("HOME"); home != "" {
		env = append(env, "HOME="+home)
	} else if runtime.GOOS == "windows" {
		if profile := os.Getenv("USERPROFILE"); profile != "" {
			env = append(env, "HOME="+profile)
		}
	}
	return env
}
