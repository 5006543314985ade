package diff

import (
	"bytes"
	"fmt"
	"strings"

	difflib "github.com/pmezard/go-difflib/difflib"
)

// Added synthesizes a git-style "new file" diff for content that git diff
// does not report (untracked files). It returns false for content containing
// NUL bytes, which is treated as binary.
func Added(p string, content []byte) (FileDiff, bool) {
	if bytes.IndexByte(content, 0) >= 0 {
		return FileDiff{}, false
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%sa/%s b/%s\nnew file mode 100644\n", headerPrefix, p, p)
	if len(content) > 0 {
		u := difflib.UnifiedDiff{
			A:        []string{},
			B:        difflib.SplitLines(string(content)),
			FromFile: "/dev/null",
			ToFile:   "b/" + p,
			Context:  3,
		}
		body, err := difflib.GetUnifiedDiffString(u)
		if err != nil {
			return FileDiff{}, false
		}
		b.WriteString(body)
	}
	return NewFileDiff(p, strings.TrimRight(b.String(), "\n")), true
}
