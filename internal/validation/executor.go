package validation

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fyrsmithlabs/harness/internal/ignore"
	"go.uber.org/zap"
)

// Executor runs one validation step.
type Executor interface {
	Run(ctx context.Context, step string) error
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, step string) error

// Run implements Executor.
func (f ExecutorFunc) Run(ctx context.Context, step string) error {
	return f(ctx, step)
}

// Predicate is a custom check.
type Predicate func(ctx context.Context) error

const (
	maxCommandOutput = 64 << 10
	commandWaitDelay = 2 * time.Second
)

// LocalExecutor runs steps against a project directory.
//
// Prefixed steps are executed directly. A free-form step runs the predicate
// registered for its exact text if there is one, then the fallback command
// if one is configured, and otherwise fails with ErrNoCheck.
type LocalExecutor struct {
	root     string
	fallback string
	ignore   *ignore.Matcher
	logger   *zap.Logger

	mu     sync.RWMutex
	checks map[string]Predicate
	exact  map[string]Predicate
}

// ExecutorOption configures a LocalExecutor.
type ExecutorOption func(*LocalExecutor)

// WithFallbackCommand sets the command run for free-form steps. It gets the
// step text in HARNESS_STEP.
func WithFallbackCommand(cmd string) ExecutorOption {
	return func(e *LocalExecutor) {
		e.fallback = strings.TrimSpace(cmd)
	}
}

// WithIgnore excludes matching paths from file and absent globs.
func WithIgnore(m *ignore.Matcher) ExecutorOption {
	return func(e *LocalExecutor) {
		e.ignore = m
	}
}

// WithExecutorLogger sets the logger.
func WithExecutorLogger(l *zap.Logger) ExecutorOption {
	return func(e *LocalExecutor) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewLocalExecutor creates an executor rooted at root.
func NewLocalExecutor(root string, opts ...ExecutorOption) *LocalExecutor {
	e := &LocalExecutor{
		root:   root,
		ignore: ignore.New(),
		logger: zap.NewNop(),
		checks: make(map[string]Predicate),
		exact:  make(map[string]Predicate),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RegisterCheck makes p available as `check: name`.
func (e *LocalExecutor) RegisterCheck(name string, p Predicate) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.checks[strings.TrimSpace(name)] = p
}

// RegisterPredicate binds p to a free-form step with exactly this text.
func (e *LocalExecutor) RegisterPredicate(text string, p Predicate) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.exact[strings.TrimSpace(text)] = p
}

// Run implements Executor.
func (e *LocalExecutor) Run(ctx context.Context, raw string) error {
	s := ParseStep(raw)
	switch s.Kind {
	case KindFile:
		return e.checkFile(s)
	case KindAbsent:
		return e.checkAbsent(s)
	case KindContains:
		return e.checkContains(s)
	case KindCmd:
		return e.runCommand(ctx, s.Arg, s.Raw)
	case KindCheck:
		e.mu.RLock()
		p, ok := e.checks[s.Arg]
		e.mu.RUnlock()
		if !ok {
			return fmt.Errorf("%w: check %q", ErrNoCheck, s.Arg)
		}
		return p(ctx)
	}

	e.mu.RLock()
	p, ok := e.exact[s.Arg]
	e.mu.RUnlock()
	if ok {
		return p(ctx)
	}
	if e.fallback != "" {
		return e.runCommand(ctx, e.fallback, s.Raw)
	}
	return ErrNoCheck
}

func (e *LocalExecutor) checkFile(s Step) error {
	matches, err := e.glob(s.Arg)
	if err != nil {
		return err
	}
	if len(matches) == 0 {
		return fmt.Errorf("%w %s", ErrNoMatch, s.Arg)
	}
	return nil
}

func (e *LocalExecutor) checkAbsent(s Step) error {
	matches, err := e.glob(s.Arg)
	if err != nil {
		return err
	}
	if len(matches) > 0 {
		return fmt.Errorf("%w %s: %s", ErrUnexpected, s.Arg, strings.Join(firstN(matches, 3), ", "))
	}
	return nil
}

func (e *LocalExecutor) checkContains(s Step) error {
	if s.Arg == "" || s.Text == "" {
		return fmt.Errorf("%w: want %q", ErrMalformedStep, "contains: <path> :: <text>")
	}
	path, err := e.resolve(s.Arg)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", s.Arg, err)
	}
	if !bytes.Contains(data, []byte(s.Text)) {
		return fmt.Errorf("%w in %s: %q", ErrNotContained, s.Arg, s.Text)
	}
	return nil
}

func (e *LocalExecutor) glob(pattern string) ([]string, error) {
	pattern = strings.TrimPrefix(filepath.ToSlash(pattern), "./")
	if pattern == "" || strings.HasPrefix(pattern, "/") || !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("%w: bad glob %q", ErrMalformedStep, pattern)
	}
	var matches []string
	err := doublestar.GlobWalk(os.DirFS(e.root), pattern, func(path string, d fs.DirEntry) error {
		if !e.ignore.Match(path) {
			matches = append(matches, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("glob %s: %w", pattern, err)
	}
	return matches, nil
}

// resolve joins a relative path to the root and refuses to leave it.
func (e *LocalExecutor) resolve(rel string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(rel))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: path %q is outside the project", ErrMalformedStep, rel)
	}
	return filepath.Join(e.root, clean), nil
}

func (e *LocalExecutor) runCommand(ctx context.Context, command, step string) error {
	if strings.TrimSpace(command) == "" {
		return fmt.Errorf("%w: empty command", ErrMalformedStep)
	}
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = e.root
	cmd.Env = append(os.Environ(), "HARNESS_STEP="+step)
	if id, ok := featureFromContext(ctx); ok {
		cmd.Env = append(cmd.Env, "HARNESS_FEATURE_ID="+strconv.Itoa(id))
	}
	out := &cappedBuffer{max: maxCommandOutput}
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.WaitDelay = commandWaitDelay

	err := cmd.Run()
	e.logger.Debug("validation command finished",
		zap.String("command", command),
		zap.Int("output_bytes", out.Len()),
		zap.Error(err))
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if msg := lastLines(out.String(), 5); msg != "" {
			return fmt.Errorf("%w: %s", err, msg)
		}
		return err
	}
	return nil
}

type cappedBuffer struct {
	bytes.Buffer
	max int
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if room := b.max - b.Len(); room > 0 {
		if len(p) > room {
			b.Buffer.Write(p[:room])
		} else {
			b.Buffer.Write(p)
		}
	}
	return len(p), nil
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func firstN(s []string, n int) []string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

type featureCtxKey struct{}

// WithFeature tags ctx with the feature being validated. Commands see it as
// HARNESS_FEATURE_ID.
func WithFeature(ctx context.Context, id int) context.Context {
	return context.WithValue(ctx, featureCtxKey{}, id)
}

func featureFromContext(ctx context.Context) (int, bool) {
	id, ok := ctx.Value(featureCtxKey{}).(int)
	return id, ok
}
