package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"diffsum/cli/internal/ollama"
	"diffsum/cli/internal/prompt"
)

// isolate points config lookup at empty directories and runs from outside
// any repository. Tests using it cannot run in parallel.
func isolate(t *testing.T) {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", home)
	t.Chdir(t.TempDir())
}

// run executes the CLI with in as standard input and returns the exit code
// and captured output.
func run(t *testing.T, in string, args ...string) (int, string, string) {
	t.Helper()
	var out, errOut bytes.Buffer
	oldIn, oldOut, oldErr := stdin, stdout, stderr
	stdin, stdout, stderr = strings.NewReader(in), &out, &errOut
	t.Cleanup(func() { stdin, stdout, stderr = oldIn, oldOut, oldErr })
	code := runCLI(args)
	return code, out.String(), errOut.String()
}

func fileDiff(path, line string) string {
	return "diff --git a/" + path + " b/" + path + "\n" +
		"--- a/" + path + "\n" +
		"+++ b/" + path + "\n" +
		"@@ -1 +1 @@\n" +
		"-old\n" +
		"+" + line + "\n"
}

// fakeOllama answers grouping requests with grouping and everything else
// with message. It counts chat requests.
func fakeOllama(t *testing.T, grouping, message string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			_, _ = w.Write([]byte(`{"models":[{"name":"test-model"}]}`))
		case "/api/chat":
			calls.Add(1)
			var req struct {
				Messages []ollama.Message `json:"messages"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			reply := message
			if len(req.Messages) > 0 && req.Messages[0].Content == prompt.GroupingSystemPrompt {
				reply = grouping
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"message": map[string]string{"role": "assistant", "content": reply},
				"done":    true,
			})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestRunCLI(t *testing.T) {
	isolate(t)
	if got, _, _ := run(t, "", "--help"); got != 0 {
		t.Errorf("runCLI(--help) = %d, want 0", got)
	}
	code, out, _ := run(t, "", "version")
	if code != 0 || !strings.HasPrefix(out, "diffsum ") {
		t.Errorf("version = %d %q", code, out)
	}
	if got, _, _ := run(t, "", "no-such-command"); got != exitError {
		t.Errorf("unknown command exit = %d, want %d", got, exitError)
	}
}

func TestMessage_stdin(t *testing.T) {
	isolate(t)
	srv, calls := fakeOllama(t, "", `"Add greeting to main"`)
	in := fileDiff("cmd/app/main.go", `fmt.Println("hello")`)
	code, out, errOut := run(t, in, "message", "-", "--encoding", "approx", "--ollama-base-url", srv.URL, "--model", "test-model")
	if code != 0 {
		t.Fatalf("exit = %d, stderr = %q", code, errOut)
	}
	if out != "Add greeting to main\n" {
		t.Errorf("stdout = %q", out)
	}
	if calls.Load() != 1 {
		t.Errorf("chat calls = %d, want 1", calls.Load())
	}
}

func TestMessage_otelStdout(t *testing.T) {
	isolate(t)
	srv, _ := fakeOllama(t, "", `"Add greeting to main"`)
	in := fileDiff("cmd/app/main.go", `fmt.Println("hello")`)
	code, out, errOut := run(t, in, "message", "-", "--encoding", "approx", "--ollama-base-url", srv.URL, "--model", "test-model", "--otel-stdout")
	if code != 0 {
		t.Fatalf("exit = %d, stderr = %q", code, errOut)
	}
	if out != "Add greeting to main\n" {
		t.Errorf("stdout = %q", out)
	}
	for _, want := range []string{"diffsum.requests", "diffsum.request.tokens"} {
		if !strings.Contains(errOut, want) {
			t.Errorf("stderr missing metric %q", want)
		}
	}
}

func TestMessage_exitCodes(t *testing.T) {
	tests := []struct {
		name  string
		input string
		args  []string
		want  int
	}{
		{
			name:  "only excluded files",
			input: fileDiff("go.sum", "example.com/x v1.0.0 h1:abc="),
			want:  exitNoChanges,
		},
		{
			name:  "budget below system prompt",
			input: fileDiff("main.go", "x := 1"),
			args:  []string{"--max-input-tokens", "60", "--max-output-tokens", "50"},
			want:  exitBudget,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolate(t)
			srv, calls := fakeOllama(t, "", "unused")
			args := append([]string{"message", "-", "--encoding", "approx", "--ollama-base-url", srv.URL}, tt.args...)
			code, _, errOut := run(t, tt.input, args...)
			if code != tt.want {
				t.Errorf("exit = %d, want %d (stderr %q)", code, tt.want, errOut)
			}
			if calls.Load() != 0 {
				t.Errorf("chat calls = %d, want 0", calls.Load())
			}
		})
	}
}

func TestMessage_unreachable(t *testing.T) {
	isolate(t)
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	code, _, errOut := run(t, fileDiff("main.go", "x := 1"), "message", "-", "--encoding", "approx", "--ollama-base-url", url)
	if code != exitUnreachable {
		t.Errorf("exit = %d, want %d", code, exitUnreachable)
	}
	if !strings.Contains(errOut, "Ollama unreachable at "+url) {
		t.Errorf("stderr = %q", errOut)
	}
}

func TestBatch_json(t *testing.T) {
	isolate(t)
	grouping := `{"groups":[{"name":"api","description":"Handlers","files":[1,2]},{"name":"cmd","files":[3]}]}`
	srv, calls := fakeOllama(t, grouping, "Update code")
	in := fileDiff("api/x.go", "x := 1") + fileDiff("api/y.go", "y := 2") + fileDiff("cmd/z.go", "z := 3")
	code, out, errOut := run(t, in, "batch", "-", "--count", "2", "--json", "--encoding", "approx", "--ollama-base-url", srv.URL)
	if code != 0 {
		t.Fatalf("exit = %d, stderr = %q", code, errOut)
	}
	var got []batchGroup
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if len(got) != 2 {
		t.Fatalf("groups = %d, want 2", len(got))
	}
	if got[0].Name != "api" || got[0].Description != "Handlers" || len(got[0].Files) != 2 || got[0].Files[1].Path != "api/y.go" {
		t.Errorf("group 0 = %+v", got[0])
	}
	if got[1].Name != "cmd" || len(got[1].Files) != 1 || got[1].Files[0].Path != "cmd/z.go" {
		t.Errorf("group 1 = %+v", got[1])
	}
	for _, g := range got {
		if g.Message != "Update code" || !g.Confirmed || g.ID == "" {
			t.Errorf("group %q: message %q confirmed %v id %q", g.Name, g.Message, g.Confirmed, g.ID)
		}
	}
	if calls.Load() != 3 {
		t.Errorf("chat calls = %d, want 3", calls.Load())
	}
}

func TestBatch_text(t *testing.T) {
	isolate(t)
	srv, _ := fakeOllama(t, "no json here", "Touch files")
	in := fileDiff("api/x.go", "x := 1") + fileDiff("cmd/z.go", "z := 3")
	code, out, errOut := run(t, in, "batch", "-", "--encoding", "approx", "--ollama-base-url", srv.URL)
	if code != 0 {
		t.Fatalf("exit = %d, stderr = %q", code, errOut)
	}
	for _, want := range []string{"[1] api (1 files", "[2] cmd (1 files", "    api/x.go\n", "  Touch files\n"} {
		if !strings.Contains(out, want) {
			t.Errorf("stdout missing %q:\n%s", want, out)
		}
	}
}

func TestTokens(t *testing.T) {
	isolate(t)
	in := fileDiff("cmd/app/main.go", "x := 1") + fileDiff("go.sum", "example.com/x v1.0.0 h1:abc=")
	code, out, errOut := run(t, in, "tokens", "-", "--encoding", "approx")
	if code != 0 {
		t.Fatalf("exit = %d, stderr = %q", code, errOut)
	}
	if !strings.Contains(out, "cmd/app/main.go") || strings.Contains(out, "go.sum") {
		t.Errorf("file list wrong:\n%s", out)
	}
	if !strings.Contains(out, "(estimated) in 1 files") || !strings.Contains(out, "budget: ") {
		t.Errorf("summary missing:\n%s", out)
	}
}

func TestDoctor(t *testing.T) {
	isolate(t)
	srv, _ := fakeOllama(t, "", "")
	code, out, _ := run(t, "", "doctor", "--ollama-base-url", srv.URL, "--model", "test-model")
	if code != 0 || !strings.Contains(out, "Ollama OK") {
		t.Errorf("doctor = %d %q", code, out)
	}
	code, _, errOut := run(t, "", "doctor", "--ollama-base-url", srv.URL, "--model", "missing")
	if code != exitError || !strings.Contains(errOut, `Model "missing" not found`) {
		t.Errorf("doctor missing model = %d %q", code, errOut)
	}
}
