package diff

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type fakeBinary struct {
	paths []string
	err   error
	calls int
}

func (f *fakeBinary) BinaryPaths(context.Context) ([]string, error) {
	f.calls++
	return f.paths, f.err
}

func files(paths ...string) []FileDiff {
	out := make([]FileDiff, len(paths))
	for i, p := range paths {
		out[i] = NewFileDiff(p, section(p, "@@ -1 +1 @@\n-a\n+b"))
	}
	return out
}

func TestExcluded(t *testing.T) {
	t.Parallel()
	tests := []struct {
		path string
		want bool
	}{
		{"node_modules/react/index.js", true},
		{"web/node_modules/x.js", true},
		{"vendor/github.com/x/y.go", true},
		{"internal/vendorutil/x.go", false},
		{"package-lock.json", true},
		{"web/yarn.lock", true},
		{"go.sum", true},
		{"app.log", true},
		{".idea/workspace.xml", true},
		{"src/.DS_Store", true},
		{"dist/bundle.js", true},
		{".git/HEAD", true},
		{"cmd/main.go", false},
		{"README.md", false},
		{"docs/build.md", false},
	}
	for _, tt := range tests {
		if got := Excluded(tt.path, DefaultExcludePatterns); got != tt.want {
			t.Errorf("Excluded(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestExcluded_doubleStarAndMalformed(t *testing.T) {
	t.Parallel()
	if !Excluded("gen/api/x.pb.go", []string{"gen/**"}) {
		t.Error("gen/** should exclude nested file")
	}
	if Excluded("main.go", []string{"[invalid"}) {
		t.Error("malformed pattern should not exclude")
	}
}

func TestFilter_patterns(t *testing.T) {
	t.Parallel()
	in := files("main.go", "go.sum", "node_modules/a.js", "docs/x.md")
	got, err := Filter(context.Background(), in, FilterOptions{})
	if err != nil {
		t.Fatalf("Filter: %v", err)
	}
	if strings.Join(Paths(got), ",") != "main.go,docs/x.md" {
		t.Errorf("Paths = %v", Paths(got))
	}
}

func TestFilter_customAndExtraPatterns(t *testing.T) {
	t.Parallel()
	in := files("main.go", "go.sum", "api.snap")
	got, err := Filter(context.Background(), in, FilterOptions{Patterns: []string{}, Extra: []string{"*.snap"}})
	if err != nil {
		t.Fatalf("Filter: %v", err)
	}
	if strings.Join(Paths(got), ",") != "main.go,go.sum" {
		t.Errorf("Paths = %v", Paths(got))
	}
}

func TestFilter_emptyInput(t *testing.T) {
	t.Parallel()
	got, err := Filter(context.Background(), nil, FilterOptions{})
	if err != nil || got != nil {
		t.Errorf("Filter(nil) = %v, %v; want nil, nil", got, err)
	}
}

func TestFilter_allExcluded(t *testing.T) {
	t.Parallel()
	bin := &fakeBinary{}
	_, err := Filter(context.Background(), files("go.sum", "yarn.lock"), FilterOptions{Binary: bin, BinaryCheckThreshold: 1})
	if !errors.Is(err, ErrNoRelevantChanges) {
		t.Fatalf("err = %v, want ErrNoRelevantChanges", err)
	}
	if bin.calls != 0 {
		t.Error("binary detector should not run when every file is already excluded")
	}
}

func TestFilter_binarySkippedForSmallDiffs(t *testing.T) {
	t.Parallel()
	bin := &fakeBinary{paths: []string{"logo.png"}}
	got, err := Filter(context.Background(), files("main.go", "logo.png"), FilterOptions{Binary: bin})
	if err != nil {
		t.Fatalf("Filter: %v", err)
	}
	if bin.calls != 0 {
		t.Error("binary detector should not run under the threshold")
	}
	if len(got) != 2 {
		t.Errorf("len = %d, want 2", len(got))
	}
}

func TestFilter_binaryRemovedForLargeDiffs(t *testing.T) {
	t.Parallel()
	bin := &fakeBinary{paths: []string{"logo.png"}}
	got, err := Filter(context.Background(), files("main.go", "logo.png"), FilterOptions{Binary: bin, BinaryCheckThreshold: 10})
	if err != nil {
		t.Fatalf("Filter: %v", err)
	}
	if bin.calls != 1 {
		t.Errorf("binary detector calls = %d, want 1", bin.calls)
	}
	if strings.Join(Paths(got), ",") != "main.go" {
		t.Errorf("Paths = %v", Paths(got))
	}
}

func TestFilter_binaryOnly(t *testing.T) {
	t.Parallel()
	bin := &fakeBinary{paths: []string{"logo.png"}}
	_, err := Filter(context.Background(), files("logo.png"), FilterOptions{Binary: bin, BinaryCheckThreshold: 1})
	if !errors.Is(err, ErrNoRelevantChanges) {
		t.Fatalf("err = %v, want ErrNoRelevantChanges", err)
	}
}

func TestFilter_binaryDetectorError(t *testing.T) {
	t.Parallel()
	bin := &fakeBinary{err: errors.New("git failed")}
	_, err := Filter(context.Background(), files("main.go"), FilterOptions{Binary: bin, BinaryCheckThreshold: 1})
	if err == nil || !strings.Contains(err.Error(), "git failed") {
		t.Fatalf("err = %v, want wrapped detector error", err)
	}
}

func TestFilterRaw_preservesSections(t *testing.T) {
	t.Parallel()
	s1 := section("a.go", "@@ -1 +1 @@\n-a\n+b")
	s2 := section("go.sum", "@@ -1 +1 @@\n-h1\n+h2")
	s3 := section("a.go", "@@ -5 +5 @@\n-c\n+d")
	got, err := FilterRaw(context.Background(), s1+"\n"+s2+"\n"+s3+"\n", FilterOptions{})
	if err != nil {
		t.Fatalf("FilterRaw: %v", err)
	}
	if got != s1+"\n"+s3 {
		t.Errorf("FilterRaw = %q", got)
	}
}

func TestFilterRaw_noHeaders(t *testing.T) {
	t.Parallel()
	got, err := FilterRaw(context.Background(), "just text", FilterOptions{})
	if err != nil || got != "" {
		t.Errorf("FilterRaw = %q, %v; want \"\", nil", got, err)
	}
}
