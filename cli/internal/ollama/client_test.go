package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNewClient_trimsSlash(t *testing.T) {
	t.Parallel()
	for _, in := range []string{"http://127.0.0.1:11434/", "http://127.0.0.1:11434"} {
		if c := NewClient(in, nil); c.baseURL != "http://127.0.0.1:11434" {
			t.Errorf("NewClient(%q).baseURL = %q", in, c.baseURL)
		}
	}
}

// tagsServer serves status and body on /api/tags.
func tagsServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/api/tags" {
			t.Errorf("request = %s %s, want GET /api/tags", r.Method, r.URL.Path)
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_Check(t *testing.T) {
	t.Parallel()
	const installed = `{"models":[{"name":"llama3.2:3b"},{"name":"qwen3-coder:30b"}]}`
	tests := []struct {
		name        string
		status      int
		body        string
		model       string
		wantPresent bool
		wantNames   int
	}{
		{name: "installed", status: http.StatusOK, body: installed, model: "qwen3-coder:30b", wantPresent: true, wantNames: 2},
		{name: "not_installed", status: http.StatusOK, body: installed, model: "mistral:7b", wantNames: 2},
		{name: "no_models", status: http.StatusOK, body: `{"models":[]}`, model: "mistral:7b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := tagsServer(t, tt.status, tt.body)
			got, err := NewClient(srv.URL, srv.Client()).Check(context.Background(), tt.model)
			if err != nil {
				t.Fatalf("Check: %v", err)
			}
			if !got.Reachable || got.ModelPresent != tt.wantPresent || len(got.ModelNames) != tt.wantNames {
				t.Errorf("Check = %+v, want present=%v names=%d", got, tt.wantPresent, tt.wantNames)
			}
		})
	}
}

func TestClient_Check_errors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name        string
		status      int
		body        string
		unreachable bool
	}{
		{name: "bad_json", status: http.StatusOK, body: `{"models":`},
		{name: "not_found", status: http.StatusNotFound, unreachable: true},
		{name: "server_error", status: http.StatusBadGateway, unreachable: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := tagsServer(t, tt.status, tt.body)
			_, err := NewClient(srv.URL, srv.Client()).Check(context.Background(), "any")
			if err == nil {
				t.Fatal("Check: want error")
			}
			if errors.Is(err, ErrUnreachable) != tt.unreachable {
				t.Errorf("errors.Is(%v, ErrUnreachable) = %v, want %v", err, !tt.unreachable, tt.unreachable)
			}
		})
	}
}

func TestClient_nothingListening(t *testing.T) {
	t.Parallel()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	url := "http://" + l.Addr().String()
	_ = l.Close()

	c := NewClient(url, nil)
	if _, err := c.Check(context.Background(), "any"); !errors.Is(err, ErrUnreachable) {
		t.Errorf("Check error = %v, want ErrUnreachable", err)
	}
	if _, err := c.Chat(context.Background(), "m", nil, nil); !errors.Is(err, ErrUnreachable) {
		t.Errorf("Chat error = %v, want ErrUnreachable", err)
	}
}

func TestClient_Chat(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		status    int
		body      string
		want      string
		wantErrIs error
		wantErr   bool
	}{
		{name: "ok", status: http.StatusOK, body: `{"message":{"role":"assistant","content":"  Add login\n"}}`, want: "Add login"},
		{name: "empty", status: http.StatusOK, body: `{"message":{"role":"assistant","content":" "}}`, wantErrIs: ErrEmptyResponse},
		{name: "error_field", status: http.StatusOK, body: `{"error":"model crashed"}`, wantErr: true},
		{name: "invalid_json", status: http.StatusOK, body: `{`, wantErr: true},
		{name: "404", status: http.StatusNotFound, body: `{"error":"model not found"}`, wantErrIs: ErrBadRequest},
		{name: "503", status: http.StatusServiceUnavailable, wantErrIs: ErrUnreachable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost || r.URL.Path != "/api/chat" {
					t.Errorf("request = %s %s, want POST /api/chat", r.Method, r.URL.Path)
				}
				var req chatRequest
				if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
					t.Errorf("decode request: %v", err)
				}
				if req.Stream {
					t.Error("stream should be false")
				}
				if req.Model != "m" || len(req.Messages) != 2 || req.Messages[0].Role != "system" {
					t.Errorf("unexpected request %+v", req)
				}
				if req.Options == nil || req.Options.NumPredict != 500 {
					t.Errorf("options = %+v, want num_predict 500", req.Options)
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			gen := ChatGenerator{Client: NewClient(srv.URL, srv.Client()), Model: "m", Options: &ChatOptions{Temperature: 0.2, NumPredict: 500}}
			got, err := gen.Generate(context.Background(), []Message{{Role: "system", Content: "s"}, {Role: "user", Content: "u"}})
			if tt.wantErrIs != nil || tt.wantErr {
				if err == nil {
					t.Fatal("Chat: want error, got nil")
				}
				if tt.wantErrIs != nil && !errors.Is(err, tt.wantErrIs) {
					t.Errorf("error %v should wrap %v", err, tt.wantErrIs)
				}
				return
			}
			if err != nil {
				t.Fatalf("Chat: %v", err)
			}
			if got != tt.want {
				t.Errorf("Chat = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestChatGenerator_nilClient(t *testing.T) {
	t.Parallel()
	if _, err := (ChatGenerator{}).Generate(context.Background(), nil); err == nil {
		t.Fatal("want error for nil client")
	}
}
