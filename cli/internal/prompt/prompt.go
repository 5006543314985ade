// Package prompt provides the system prompts (built-in or overridden from the
// state directory) and user prompt builders for commit message generation and
// batch grouping.
package prompt

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"diffsum/cli/internal/diff"
)

// OverrideFilename is the file in the state directory that replaces the
// built-in commit message system prompt.
const OverrideFilename = "system_prompt.txt"

// DefaultSystemPrompt instructs the model to produce a conventional commit
// message for a unified diff (or one part of it).
const DefaultSystemPrompt = `You generate git commit messages from a unified diff.
Output only the commit message, no other text or explanation.
Format:
- First line: short summary, 50 characters or less, in imperative mood (e.g. "Add feature" not "Added feature"). Optionally prefix with a scope (e.g. "cli: add batch command").
- Blank line.
- Then a longer description if needed, wrapped at 72 characters.
Lines like "[... 12 unchanged lines ...]" mark content that was shortened before it reached you; do not mention them.
If you are given one part of a larger diff, describe only the changes in that part.
Do not use markdown, code blocks, or quotes.`

// GroupingSystemPrompt instructs the model to partition changed files into
// logical commits and answer with JSON only.
const GroupingSystemPrompt = `You split a set of changed files into logical git commits.
Each commit should contain files that belong to one coherent change.
Respond with a single JSON object and nothing else:
{"groups":[{"name":"short commit title","description":"one sentence","files":[1,2]}]}
"files" lists the 1-based numbers of the files as given. Every file must appear in exactly one group.`

// SystemPrompt returns the commit message system prompt. If
// stateDir/system_prompt.txt exists its trimmed contents are returned;
// otherwise DefaultSystemPrompt. A missing file is not an error; any other
// read error is returned so the user can see it.
func SystemPrompt(stateDir string) (string, error) {
	if stateDir == "" {
		return DefaultSystemPrompt, nil
	}
	data, err := os.ReadFile(filepath.Join(stateDir, OverrideFilename))
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultSystemPrompt, nil
		}
		return "", fmt.Errorf("read prompt override: %w", err)
	}
	s := strings.TrimSpace(string(data))
	if s == "" {
		return DefaultSystemPrompt, nil
	}
	return s, nil
}

// ChunkPrompt builds the user prompt for one request. When total > 1 the
// content is labeled as part index (1-based) of total.
func ChunkPrompt(content string, index, total int) string {
	if total <= 1 {
		return "Diff:\n\n" + content
	}
	return fmt.Sprintf("Diff (part %d of %d):\n\n%s", index, total, content)
}

// GroupingPrompt lists the changed files with their 1-based numbers and
// sizes and asks for exactly target groups. hint is free-text context such
// as the branch name; empty hints are omitted.
func GroupingPrompt(files []diff.FileDiff, target int, hint string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Group these %d changed files into %d commits.\n", len(files), target)
	if h := strings.TrimSpace(hint); h != "" {
		b.WriteString("Context: " + h + "\n")
	}
	b.WriteString("\nFiles:\n")
	for i, f := range files {
		fmt.Fprintf(&b, "%d. %s (%s)\n", i+1, f.Path, diff.FormatSize(f.Size))
	}
	return b.String()
}

// GroupPrompt prefixes a chunk prompt with one commit group's name and
// description.
func GroupPrompt(name, description, chunk string) string {
	var b strings.Builder
	b.WriteString("Commit: " + name + "\n")
	if description != "" {
		b.WriteString("Intent: " + description + "\n")
	}
	b.WriteString("\n" + chunk)
	return b.String()
}
