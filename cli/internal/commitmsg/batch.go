package commitmsg

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"diffsum/cli/internal/diff"
	"diffsum/cli/internal/grouping"
	"diffsum/cli/internal/metrics"
	"diffsum/cli/internal/prompt"
)

// CommitGroup is a file group with its commit message. Confirmed is true
// when the message was generated and false when it is the fallback.
type CommitGroup struct {
	grouping.FileGroup
	Message   string `json:"message"`
	Confirmed bool   `json:"confirmed"`
}

// FallbackMessage is used for a group whose message request failed.
func FallbackMessage(name string) string {
	return "Update " + name
}

// BatchOptions controls Batch.
type BatchOptions struct {
	Count int    // target number of commits; values below 1 mean 1
	Hint  string // free-text context such as the branch name
}

// Batch splits the changes in raw into opts.Count commits and generates a
// message for each. Unparseable or failed grouping answers fall back to
// grouping by directory, which is not reconciled to the count. A failed
// group message is replaced by FallbackMessage; only budget errors and
// cancellation abort the batch.
func (p *Pipeline) Batch(ctx context.Context, raw string, opts BatchOptions) ([]CommitGroup, error) {
	files, err := p.Files(ctx, raw)
	if err != nil || len(files) == 0 {
		return nil, err
	}
	if opts.Count < 1 {
		opts.Count = 1
	}
	groups, err := p.group(ctx, files, opts)
	if err != nil {
		return nil, err
	}

	out := make([]CommitGroup, len(groups))
	g, gctx := errgroup.WithContext(ctx)
	for i, fg := range groups {
		g.Go(func() error {
			msg, err := p.groupMessage(gctx, fg)
			if err != nil {
				if isFatal(gctx, err) {
					return fmt.Errorf("group %q: %w", fg.Name, err)
				}
				p.opts.Logger.Warn("commit message generation failed; using fallback", "group", fg.Name, "error", err)
				p.opts.Tracer.Printf("group %q fallback: %v\n", fg.Name, err)
				p.opts.Metrics.RecordFallback(gctx, metrics.FallbackGroupMessage)
				out[i] = CommitGroup{FileGroup: fg, Message: FallbackMessage(fg.Name)}
				return nil
			}
			out[i] = CommitGroup{FileGroup: fg, Message: msg, Confirmed: true}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// group asks for a partition of files and reconciles it to opts.Count.
func (p *Pipeline) group(ctx context.Context, files []diff.FileDiff, opts BatchOptions) ([]grouping.FileGroup, error) {
	tr := p.opts.Tracer
	ctx, span := tracer.Start(ctx, "commitmsg.grouping")
	defer span.End()
	span.SetAttributes(attribute.Int("files", len(files)), attribute.Int("target", opts.Count))

	user := prompt.GroupingPrompt(files, opts.Count, opts.Hint)
	budget := p.opts.Budget.WithSystemPrompt(p.counter.Count(prompt.GroupingSystemPrompt))
	fit, err := p.truncator.Fit(user, budget)
	if err != nil {
		return nil, err
	}
	resp, err := p.request(ctx, "grouping", fit.Tokens, prompt.GroupingSystemPrompt, fit.Content)

	tr.Section("Grouping")
	var groups []grouping.FileGroup
	planned := false
	if err != nil {
		if isFatal(ctx, err) {
			return nil, err
		}
		span.RecordError(err)
		p.opts.Logger.Warn("grouping request failed; grouping by directory", "error", err)
		groups = grouping.ByDirectory(files)
	} else {
		groups, planned = grouping.Plan(resp, files, opts.Count)
	}
	if !planned {
		tr.Printf("suggestion unusable; grouped by directory\n")
		p.opts.Metrics.RecordFallback(ctx, metrics.FallbackGrouping)
	}
	for _, g := range groups {
		tr.Printf("%s: %d files (%s)\n", g.Name, len(g.Files), diff.FormatSize(g.TotalSize))
	}
	span.SetAttributes(attribute.Int("groups", len(groups)), attribute.Bool("fallback", !planned))
	return groups, nil
}

func (p *Pipeline) groupMessage(ctx context.Context, g grouping.FileGroup) (string, error) {
	ctx, span := tracer.Start(ctx, "commitmsg.group")
	defer span.End()
	span.SetAttributes(attribute.String("group.name", g.Name), attribute.Int("group.files", len(g.Files)))
	msg, err := p.summarize(ctx, g.Files, func(content string, i, n int) string {
		return prompt.GroupPrompt(g.Name, g.Description, prompt.ChunkPrompt(content, i, n))
	})
	if err != nil {
		span.RecordError(err)
	}
	return msg, err
}
