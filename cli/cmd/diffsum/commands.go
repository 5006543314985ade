package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"diffsum/cli/internal/commitmsg"
	"diffsum/cli/internal/config"
	"diffsum/cli/internal/diff"
	"diffsum/cli/internal/git"
	"diffsum/cli/internal/ollama"
	"diffsum/cli/internal/tokens"
)

const diffArgUsage = `With no argument the diff is read from git (staged and unstaged changes
against HEAD, or only staged changes with --staged). A file argument reads
a saved diff; "-" reads standard input.`

func newMessageCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "message [diff-file|-]",
		Short: "Generate a commit message for the current changes",
		Long:  "Generate a single commit message.\n\n" + diffArgUsage,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, p, raw, err := prepare(cmd, args)
			if err != nil {
				return err
			}
			defer a.close(cmd.Context())
			msg, err := p.Generate(cmd.Context(), raw)
			if err != nil {
				return a.exitFor(err)
			}
			if msg == "" {
				fmt.Fprintln(stderr, "No changes to describe.")
				return nil
			}
			fmt.Fprintln(stdout, msg)
			return nil
		},
	}
}

// batchFile and batchGroup are the --json output shapes.
type batchFile struct {
	Path string `json:"path"`
	Size int    `json:"size"`
}

type batchGroup struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Files       []batchFile `json:"files"`
	TotalSize   int         `json:"total_size"`
	Message     string      `json:"message"`
	Confirmed   bool        `json:"confirmed"`
}

func newBatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch [diff-file|-]",
		Short: "Split the current changes into several commits with messages",
		Long:  "Group changed files into commits and generate a message for each.\n\n" + diffArgUsage,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, p, raw, err := prepare(cmd, args)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			defer a.close(ctx)
			hint, _ := cmd.Flags().GetString("hint")
			if hint == "" && a.repo != nil {
				if b, err := a.repo.Branch(ctx); err == nil && b != "HEAD" {
					hint = "branch " + b
				}
			}
			groups, err := p.Batch(ctx, raw, commitmsg.BatchOptions{Count: a.cfg.CommitCount, Hint: hint})
			if err != nil {
				return a.exitFor(err)
			}
			if len(groups) == 0 {
				fmt.Fprintln(stderr, "No changes to describe.")
				return nil
			}
			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				return writeBatchJSON(groups)
			}
			writeBatch(groups)
			return nil
		},
	}
	cmd.Flags().Int("count", 0, "Target number of commits (default from config, 3)")
	cmd.Flags().String("hint", "", "Context for grouping (default: current branch name)")
	cmd.Flags().Bool("json", false, "Print groups as JSON")
	return cmd
}

func writeBatch(groups []commitmsg.CommitGroup) {
	for i, g := range groups {
		if i > 0 {
			fmt.Fprintln(stdout)
		}
		fmt.Fprintf(stdout, "[%d] %s (%d files, %s)\n", i+1, g.Name, len(g.Files), diff.FormatSize(g.TotalSize))
		for _, f := range g.Files {
			fmt.Fprintf(stdout, "    %s\n", f.Path)
		}
		if !g.Confirmed {
			fmt.Fprintln(stdout, "    (fallback message)")
		}
		fmt.Fprintln(stdout)
		for _, line := range strings.Split(g.Message, "\n") {
			fmt.Fprintf(stdout, "  %s\n", line)
		}
	}
}

func writeBatchJSON(groups []commitmsg.CommitGroup) error {
	out := make([]batchGroup, len(groups))
	for i, g := range groups {
		files := make([]batchFile, len(g.Files))
		for j, f := range g.Files {
			files[j] = batchFile{Path: f.Path, Size: f.Size}
		}
		out[i] = batchGroup{
			ID:          g.ID,
			Name:        g.Name,
			Description: g.Description,
			Files:       files,
			TotalSize:   g.TotalSize,
			Message:     g.Message,
			Confirmed:   g.Confirmed,
		}
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func newTokensCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tokens [diff-file|-]",
		Short: "Show per-file sizes and token counts against the budget",
		Long:  "List the files that would be sent, with sizes and token counts, and the budget they must fit.\n\n" + diffArgUsage,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, p, raw, err := prepare(cmd, args)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			defer a.close(ctx)
			files, err := p.Files(ctx, raw)
			if err != nil {
				return a.exitFor(err)
			}
			total := 0
			for _, f := range files {
				n := a.counter.Count(f.Diff)
				total += n
				fmt.Fprintf(stdout, "%8d  %9s  %s\n", n, diff.FormatSize(f.Size), f.Path)
			}
			kind := "exact"
			if !a.counter.Exact() {
				kind = "estimated"
			}
			fmt.Fprintf(stdout, "total: %d tokens (%s) in %d files\n", total, kind, len(files))
			fmt.Fprintf(stdout, "budget: %s\n", a.budget())
			if w := tokens.WarnIfOver(total, a.cfg.MaxOutputTokens, a.cfg.MaxInputTokens, a.cfg.WarnThreshold); w != "" {
				fmt.Fprintln(stdout, w)
			}
			return nil
		},
	}
}

func newDoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Verify environment (Ollama, model)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			opts := config.LoadOptions{Overrides: overridesFromFlags(cmd)}
			if cwd, err := os.Getwd(); err == nil {
				if root, err := git.RepoRoot(cwd); err == nil {
					opts.RepoRoot = root
				}
			}
			cfg, err := config.Load(ctx, opts)
			if err != nil {
				return err
			}
			client := ollama.NewClient(cfg.OllamaBaseURL, &http.Client{Timeout: cfg.Timeout})
			res, err := client.Check(ctx, cfg.Model)
			if err != nil {
				if errors.Is(err, ollama.ErrUnreachable) {
					fmt.Fprintf(stderr, "Ollama unreachable at %s. Is the server running? For local: ollama serve.\n", cfg.OllamaBaseURL)
					fmt.Fprintf(stderr, "Details: %v\n", err)
					return errExit(exitUnreachable)
				}
				return err
			}
			if !res.ModelPresent {
				fmt.Fprintf(stderr, "Model %q not found. Pull it with: ollama pull %s\n", cfg.Model, cfg.Model)
				return errExit(exitError)
			}
			fmt.Fprintln(stdout, "Ollama OK")
			fmt.Fprintf(stdout, "Model: %s\n", cfg.Model)
			return nil
		},
	}
}
