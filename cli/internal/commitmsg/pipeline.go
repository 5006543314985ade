// Package commitmsg turns a raw diff into commit messages with a text
// generation backend, keeping every request inside the token budget.
//
// Generate runs split, filter, optimize, size, pack, truncate, and then
// dispatches every chunk at once and joins the answers in chunk order.
// Batch asks the backend to partition the changed files, reconciles the
// partition to the requested commit count and generates one message per
// group, falling back to "Update <name>" when a group's request fails.
package commitmsg

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"diffsum/cli/internal/compose"
	"diffsum/cli/internal/diff"
	"diffsum/cli/internal/metrics"
	"diffsum/cli/internal/minify"
	"diffsum/cli/internal/ollama"
	"diffsum/cli/internal/prompt"
	"diffsum/cli/internal/tokens"
	"diffsum/cli/internal/trace"
	"diffsum/cli/internal/truncate"
)

var tracer = otel.Tracer("diffsum/commitmsg")

// Generator produces text for an ordered list of role-tagged messages.
type Generator interface {
	Generate(ctx context.Context, messages []ollama.Message) (string, error)
}

// Counter returns the token count of a string.
type Counter interface {
	Count(text string) int
}

// Options configures a Pipeline. Budget needs MaxInputTokens and
// MaxOutputTokens; the system prompt cost is measured per request.
type Options struct {
	Budget       tokens.Budget
	SystemPrompt string // empty uses prompt.DefaultSystemPrompt
	// Known is the authoritative changed-path list; nil skips the cross-check.
	Known    []string
	Filter   diff.FilterOptions
	Optimize minify.Options
	// WarnThreshold is the context fill ratio above which a request is
	// logged as tight; zero uses tokens.DefaultWarnThreshold.
	WarnThreshold float64

	Tracer  *trace.Tracer
	Metrics *metrics.PipelineMetrics
	Logger  *slog.Logger
}

// Pipeline generates commit messages. Use New.
type Pipeline struct {
	gen       Generator
	counter   Counter
	truncator *truncate.Truncator
	opts      Options
}

// New returns a Pipeline sending requests to gen and counting with counter.
func New(gen Generator, counter Counter, opts Options) *Pipeline {
	if opts.SystemPrompt == "" {
		opts.SystemPrompt = prompt.DefaultSystemPrompt
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.WarnThreshold <= 0 {
		opts.WarnThreshold = tokens.DefaultWarnThreshold
	}
	return &Pipeline{
		gen:       gen,
		counter:   counter,
		truncator: truncate.New(counter),
		opts:      opts,
	}
}

// Files splits and filters raw. Text without diff headers yields nil, nil;
// a change set that is entirely excluded returns diff.ErrNoRelevantChanges.
func (p *Pipeline) Files(ctx context.Context, raw string) ([]diff.FileDiff, error) {
	tr := p.opts.Tracer
	files := diff.Split(raw, p.opts.Known)
	tr.Section("Split")
	tr.Printf("input=%s files=%d\n", diff.FormatSize(len(raw)), len(files))
	if len(files) == 0 {
		return nil, nil
	}
	kept, err := diff.Filter(ctx, files, p.opts.Filter)
	if err != nil {
		return nil, err
	}
	tr.Section("Filter")
	tr.Printf("kept=%d dropped=%d\n", len(kept), len(files)-len(kept))
	for _, f := range kept {
		tr.Printf("  %s (%s)\n", f.Path, diff.FormatSize(f.Size))
	}
	return kept, nil
}

// Generate returns one commit message for raw. It returns "" and a nil
// error when raw holds no file diffs. Any failed chunk request fails the
// call; *truncate.BudgetError is returned when a chunk cannot be made to fit.
func (p *Pipeline) Generate(ctx context.Context, raw string) (string, error) {
	files, err := p.Files(ctx, raw)
	if err != nil || len(files) == 0 {
		return "", err
	}
	return p.summarize(ctx, files, func(content string, i, n int) string {
		return prompt.ChunkPrompt(content, i, n)
	})
}

type wrapFunc func(content string, index, total int) string

// summarize optimizes files, packs them into requests that fit the budget,
// dispatches the requests concurrently and joins the answers in order.
func (p *Pipeline) summarize(ctx context.Context, files []diff.FileDiff, wrap wrapFunc) (string, error) {
	tr := p.opts.Tracer
	before := diff.TotalSize(files)
	files = minify.OptimizeFiles(files, p.opts.Optimize)
	if after := diff.TotalSize(files); after != before {
		tr.Section("Optimize")
		tr.Printf("%s -> %s\n", diff.FormatSize(before), diff.FormatSize(after))
	}

	// The user prompt wrapper is charged with the system prompt.
	overhead := p.counter.Count(p.opts.SystemPrompt) + p.counter.Count(wrap("", 1, 2))
	budget := p.opts.Budget.WithSystemPrompt(overhead)
	tr.Section("Budget")
	tr.Printf("%s\n", budget)

	requests, err := p.plan(ctx, files, budget)
	if err != nil {
		return "", err
	}
	results, err := p.dispatch(ctx, requests, wrap)
	if err != nil {
		return "", err
	}
	return compose.Join(results), nil
}

// plan returns the request contents for files, each within budget.
func (p *Pipeline) plan(ctx context.Context, files []diff.FileDiff, budget tokens.Budget) ([]truncate.Result, error) {
	tr := p.opts.Tracer
	avail := budget.Available()
	content := diff.Join(files)
	n := p.counter.Count(content)

	var chunks []string
	if n <= avail || len(files) == 1 {
		chunks = []string{content}
		tr.Printf("single request: %d tokens\n", n)
	} else {
		texts := make([]string, len(files))
		for i, f := range files {
			texts[i] = f.Diff
		}
		packed := compose.Pack(texts, avail, p.counter)
		chunks = compose.Contents(packed)
		tr.Section("Compose")
		for i, c := range packed {
			tr.Printf("chunk %d: files=%d tokens=%d over=%v\n", i+1, c.Files, c.Tokens, c.Over)
		}
	}

	out := make([]truncate.Result, 0, len(chunks))
	for i, c := range chunks {
		res, err := p.truncator.Fit(c, budget)
		if err != nil {
			return nil, fmt.Errorf("chunk %d: %w", i+1, err)
		}
		if res.Truncated() {
			tr.Printf("chunk %d truncated (%s): %d tokens\n", i+1, res.Mode, res.Tokens)
			p.opts.Metrics.RecordTruncation(ctx, string(res.Mode))
		}
		if w := tokens.WarnIfOver(budget.SystemPromptTokens+res.Tokens, budget.MaxOutputTokens, budget.MaxInputTokens, p.opts.WarnThreshold); w != "" {
			p.opts.Logger.Warn(w, "chunk", i+1)
		}
		out = append(out, res)
	}
	return out, nil
}

// dispatch sends every request concurrently and returns the answers in
// request order. The first failure cancels the rest.
func (p *Pipeline) dispatch(ctx context.Context, requests []truncate.Result, wrap wrapFunc) ([]string, error) {
	results := make([]string, len(requests))
	g, gctx := errgroup.WithContext(ctx)
	for i, req := range requests {
		g.Go(func() error {
			ctx, span := tracer.Start(gctx, "commitmsg.chunk",
				oteltrace.WithSpanKind(oteltrace.SpanKindClient),
				oteltrace.WithAttributes(
					attribute.Int("chunk.index", i+1),
					attribute.Int("chunk.tokens", req.Tokens),
				),
			)
			defer span.End()
			msg, err := p.ask(ctx, "chunk", req.Tokens, wrap(req.Content, i+1, len(requests)))
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return fmt.Errorf("chunk %d of %d: %w", i+1, len(requests), err)
			}
			results[i] = msg
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// ask sends one request with the commit system prompt and cleans the answer.
func (p *Pipeline) ask(ctx context.Context, kind string, contentTokens int, user string) (string, error) {
	return p.request(ctx, kind, contentTokens, p.opts.SystemPrompt, user)
}

func (p *Pipeline) request(ctx context.Context, kind string, contentTokens int, system, user string) (string, error) {
	start := time.Now()
	out, err := p.gen.Generate(ctx, []ollama.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	})
	if err == nil {
		out = Clean(out)
		if out == "" {
			err = ollama.ErrEmptyResponse
		}
	}
	p.opts.Metrics.RecordRequest(ctx, kind, contentTokens, time.Since(start), err)
	if err != nil {
		return "", err
	}
	p.opts.Tracer.Block(kind+" response", out, 2000)
	return out, nil
}

// Clean trims a generated message and removes a surrounding markdown code
// fence or matching quotes.
func Clean(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if i := strings.IndexByte(s, '\n'); i >= 0 && !strings.Contains(s[:i], " ") {
			// Drop a language tag such as ```text.
			s = s[i+1:]
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		s = strings.TrimSpace(s)
	}
	if len(s) >= 2 {
		if q := s[0]; (q == '"' || q == '\'') && s[len(s)-1] == q && strings.Count(s, string(q)) == 2 {
			s = strings.TrimSpace(s[1 : len(s)-1])
		}
	}
	return s
}

// isFatal reports errors that must not be replaced by a fallback message:
// budget errors, and any error once ctx itself is done. A request that timed
// out on its own leaves ctx alive and is not fatal.
func isFatal(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, truncate.ErrBudgetExceeded)
}
