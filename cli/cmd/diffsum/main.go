package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"diffsum/cli/internal/commitmsg"
	"diffsum/cli/internal/config"
	"diffsum/cli/internal/diff"
	"diffsum/cli/internal/erruser"
	"diffsum/cli/internal/git"
	"diffsum/cli/internal/metrics"
	"diffsum/cli/internal/minify"
	"diffsum/cli/internal/ollama"
	"diffsum/cli/internal/prompt"
	"diffsum/cli/internal/rules"
	"diffsum/cli/internal/tokens"
	"diffsum/cli/internal/trace"
	"diffsum/cli/internal/truncate"
	"diffsum/cli/internal/version"
)

// errExit is an error that carries an exit code for the CLI. Use errors.As to detect it.
type errExit int

func (e errExit) Error() string {
	return "exit " + strconv.Itoa(int(e))
}

const (
	exitError        = 1
	exitUnreachable  = 2
	exitBudget       = 3
	exitNoChanges    = 4
	maxUntrackedSize = 1 << 20
)

// Standard streams; tests replace them.
var (
	stdin  io.Reader = os.Stdin
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

func main() {
	os.Exit(Run())
}

// Run is the entry point for the CLI.
func Run() int {
	return runCLI(os.Args[1:])
}

func runCLI(args []string) int {
	rootCmd := &cobra.Command{
		Use:     "diffsum",
		Short:   "Summarize diffs into commit messages with a local model",
		Version: version.String(),
	}
	addSharedFlags(rootCmd)
	rootCmd.AddCommand(newMessageCmd())
	rootCmd.AddCommand(newBatchCmd())
	rootCmd.AddCommand(newTokensCmd())
	rootCmd.AddCommand(newDoctorCmd())
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.SilenceUsage = true
	rootCmd.SilenceErrors = true
	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		var exitErr errExit
		if errors.As(err, &exitErr) {
			return int(exitErr)
		}
		fmt.Fprintln(stderr, err)
		if d := erruser.Details(err); d != nil {
			fmt.Fprintf(stderr, "Details: %v\n", d)
		}
		return exitError
	}
	return 0
}

// addSharedFlags registers the flags every pipeline command reads.
func addSharedFlags(cmd *cobra.Command) {
	f := cmd.PersistentFlags()
	f.String("model", "", "Ollama model name (overrides config and env)")
	f.String("ollama-base-url", "", "Ollama API root (overrides config and env)")
	f.Int("max-input-tokens", 0, "Input token ceiling of the model (overrides config and env)")
	f.Int("max-output-tokens", 0, "Tokens reserved for the answer (overrides config and env)")
	f.String("encoding", "", `Tokenizer encoding, or "approx" for estimates (overrides config and env)`)
	f.Bool("staged", false, "Use only staged changes")
	f.Bool("include-untracked", false, "Include untracked files as new-file diffs")
	f.Bool("trace", false, "Print internal steps to stderr (split, filter, budget, chunks, responses)")
	f.Bool("otel-stdout", false, "Print OpenTelemetry spans and metrics to stderr")
}

// overridesFromFlags returns Overrides for the shared flags that were set.
func overridesFromFlags(cmd *cobra.Command) *config.Overrides {
	flags := cmd.Flags()
	changed := func(name string) bool {
		f := flags.Lookup(name)
		return f != nil && f.Changed
	}
	o := &config.Overrides{}
	set := false
	if changed("model") {
		v, _ := flags.GetString("model")
		o.Model, set = &v, true
	}
	if changed("ollama-base-url") {
		v, _ := flags.GetString("ollama-base-url")
		o.OllamaBaseURL, set = &v, true
	}
	if changed("max-input-tokens") {
		v, _ := flags.GetInt("max-input-tokens")
		o.MaxInputTokens, set = &v, true
	}
	if changed("max-output-tokens") {
		v, _ := flags.GetInt("max-output-tokens")
		o.MaxOutputTokens, set = &v, true
	}
	if changed("encoding") {
		v, _ := flags.GetString("encoding")
		o.Encoding, set = &v, true
	}
	if changed("count") {
		v, _ := flags.GetInt("count")
		o.CommitCount, set = &v, true
	}
	if !set {
		return nil
	}
	return o
}

// app is the per-invocation wiring shared by the pipeline commands.
type app struct {
	cfg      *config.Config
	repoRoot string // "" when not inside a repository
	repo     *git.Repo
	tracer   *trace.Tracer
	logger   *slog.Logger
	counter  *tokens.Counter
	shutdown func(context.Context) error
}

// newApp loads configuration and builds collaborators. needRepo is false
// when the diff comes from a file or stdin.
func newApp(cmd *cobra.Command, needRepo bool) (*app, error) {
	a := &app{
		logger: slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: slog.LevelWarn})),
	}
	cwd, err := os.Getwd()
	if err != nil {
		return nil, erruser.New("Could not determine current directory.", err)
	}
	if root, err := git.RepoRoot(cwd); err == nil {
		a.repoRoot = root
	} else if needRepo {
		return nil, err
	}
	a.cfg, err = config.Load(cmd.Context(), config.LoadOptions{RepoRoot: a.repoRoot, Overrides: overridesFromFlags(cmd)})
	if err != nil {
		return nil, err
	}
	if needRepo {
		staged, _ := cmd.Flags().GetBool("staged")
		a.repo = &git.Repo{Root: a.repoRoot, Staged: staged}
	}
	if on, _ := cmd.Flags().GetBool("trace"); on {
		a.tracer = trace.New(stderr)
	}
	if on, _ := cmd.Flags().GetBool("otel-stdout"); on {
		stopTracer, err := metrics.InitTracer(stderr)
		if err != nil {
			return nil, fmt.Errorf("init tracing: %w", err)
		}
		stopMeter, err := metrics.InitMeter(stderr)
		if err != nil {
			_ = stopTracer(cmd.Context())
			return nil, fmt.Errorf("init metrics: %w", err)
		}
		a.shutdown = func(ctx context.Context) error {
			return errors.Join(stopTracer(ctx), stopMeter(ctx))
		}
	}
	a.counter = a.newCounter()
	return a, nil
}

func (a *app) close(ctx context.Context) {
	if a.shutdown != nil {
		if err := a.shutdown(ctx); err != nil {
			a.logger.Warn("flush telemetry", "error", err)
		}
	}
}

// newCounter returns an exact counter for the configured encoding, or an
// estimating one when the encoding is "approx" or cannot be loaded.
func (a *app) newCounter() *tokens.Counter {
	if a.cfg.Encoding == config.EncodingApprox {
		return tokens.NewCounter(nil, tokens.CounterOptions{})
	}
	enc, err := tokens.NewTiktoken(a.cfg.Encoding)
	if err != nil {
		a.logger.Warn("exact token counting unavailable; using estimates", "encoding", a.cfg.Encoding, "error", err)
		return tokens.NewCounter(nil, tokens.CounterOptions{})
	}
	return tokens.NewCounter(enc, tokens.CounterOptions{})
}

// input returns the diff to summarize and, for git input, the
// authoritative changed-path list.
func (a *app) input(ctx context.Context, args []string) (string, []string, error) {
	if len(args) > 0 {
		var data []byte
		var err error
		if args[0] == "-" {
			data, err = io.ReadAll(stdin)
		} else {
			data, err = os.ReadFile(args[0])
		}
		if err != nil {
			return "", nil, erruser.New("Could not read diff input.", err)
		}
		return string(data), nil, nil
	}
	raw, err := a.repo.Diff(ctx)
	if err != nil {
		return "", nil, erruser.New("Could not read changes from git.", err)
	}
	known, err := a.repo.ChangedPaths(ctx)
	if err != nil {
		return "", nil, erruser.New("Could not list changed files.", err)
	}
	return raw, known, nil
}

// withUntracked appends new-file diffs for untracked text files.
func (a *app) withUntracked(ctx context.Context, raw string, known []string) (string, []string, error) {
	paths, err := a.repo.Untracked(ctx)
	if err != nil {
		return "", nil, erruser.New("Could not list untracked files.", err)
	}
	var b strings.Builder
	b.WriteString(strings.TrimSuffix(raw, "\n"))
	for _, p := range paths {
		data, err := os.ReadFile(filepath.Join(a.repoRoot, filepath.FromSlash(p)))
		if err != nil || len(data) > maxUntrackedSize {
			a.tracer.Printf("skip untracked %s\n", p)
			continue
		}
		fd, ok := diff.Added(p, data)
		if !ok {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(fd.Diff)
		known = append(known, p)
	}
	return b.String(), known, nil
}

// pipeline builds the commit message pipeline for the given change set.
func (a *app) pipeline(known []string) (*commitmsg.Pipeline, error) {
	stateDir := a.cfg.StateDir
	if a.repoRoot != "" {
		stateDir = a.cfg.EffectiveStateDir(a.repoRoot)
	}
	system, err := prompt.SystemPrompt(stateDir)
	if err != nil {
		return nil, erruser.New("Could not read the system prompt override.", err)
	}
	filter := diff.FilterOptions{
		Extra:                a.cfg.Exclude,
		BinaryCheckThreshold: a.cfg.BinaryCheckThreshold,
	}
	if a.repo != nil {
		filter.Binary = a.repo
	}
	if a.repoRoot != "" {
		r, err := rules.Load(a.repoRoot)
		if err != nil {
			return nil, err
		}
		filter = r.Apply(filter)
	}
	m, err := metrics.New()
	if err != nil {
		return nil, fmt.Errorf("create metrics: %w", err)
	}
	gen := ollama.ChatGenerator{
		Client: ollama.NewClient(a.cfg.OllamaBaseURL, &http.Client{Timeout: a.cfg.Timeout}),
		Model:  a.cfg.Model,
		Options: &ollama.ChatOptions{
			Temperature: a.cfg.Temperature,
			NumCtx:      a.cfg.MaxInputTokens,
			NumPredict:  a.cfg.MaxOutputTokens,
		},
	}
	return commitmsg.New(gen, a.counter, commitmsg.Options{
		Budget:        a.budget(),
		SystemPrompt:  system,
		Known:         known,
		Filter:        filter,
		Optimize:      minify.Options{Threshold: a.cfg.OptimizeThreshold},
		WarnThreshold: a.cfg.WarnThreshold,
		Tracer:        a.tracer,
		Metrics:       m,
		Logger:        a.logger,
	}), nil
}

func (a *app) budget() tokens.Budget {
	return tokens.Budget{MaxInputTokens: a.cfg.MaxInputTokens, MaxOutputTokens: a.cfg.MaxOutputTokens}
}

// prepare runs the common setup of message, batch and tokens.
func prepare(cmd *cobra.Command, args []string) (*app, *commitmsg.Pipeline, string, error) {
	a, err := newApp(cmd, len(args) == 0)
	if err != nil {
		return nil, nil, "", err
	}
	ctx := cmd.Context()
	raw, known, err := a.input(ctx, args)
	if err != nil {
		a.close(ctx)
		return nil, nil, "", err
	}
	if untracked, _ := cmd.Flags().GetBool("include-untracked"); untracked && a.repo != nil {
		if raw, known, err = a.withUntracked(ctx, raw, known); err != nil {
			a.close(ctx)
			return nil, nil, "", err
		}
	}
	p, err := a.pipeline(known)
	if err != nil {
		a.close(ctx)
		return nil, nil, "", err
	}
	return a, p, raw, nil
}

// exitFor prints the user message for pipeline errors with their own exit code.
func (a *app) exitFor(err error) error {
	switch {
	case errors.Is(err, diff.ErrNoRelevantChanges):
		fmt.Fprintln(stderr, "No relevant changes: every changed file is excluded or binary.")
		return errExit(exitNoChanges)
	case errors.Is(err, truncate.ErrBudgetExceeded):
		fmt.Fprintln(stderr, err)
		return errExit(exitBudget)
	case errors.Is(err, ollama.ErrUnreachable):
		fmt.Fprintf(stderr, "Ollama unreachable at %s. Is the server running? For local: ollama serve.\n", a.cfg.OllamaBaseURL)
		fmt.Fprintf(stderr, "Details: %v\n", err)
		return errExit(exitUnreachable)
	case errors.Is(err, ollama.ErrBadRequest):
		fmt.Fprintf(stderr, "Ollama bad request at %s. %v\n", a.cfg.OllamaBaseURL, err)
		return errExit(exitUnreachable)
	}
	return err
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(stdout, "diffsum %s\n", version.String())
			return nil
		},
	}
}
