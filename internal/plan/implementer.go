package plan

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/fyrsmithlabs/harness/internal/session"
	"go.uber.org/zap"
)

// ErrNoCommand is returned when a CommandImplementer has nothing to run.
var ErrNoCommand = errors.New("implementer command is not configured")

// File is a file the implementer read or changed. Change is empty for
// files that were only read.
type File struct {
	Path      string               `json:"path"`
	Change    session.ArtifactKind `json:"change,omitempty"`
	Content   string               `json:"content,omitempty"`
	Relevance session.Relevance    `json:"relevance,omitempty"`
	Summary   string               `json:"summary,omitempty"`
}

// DecisionNote is a decision the implementer made.
type DecisionNote struct {
	Description string          `json:"description"`
	Reasoning   string          `json:"reasoning,omitempty"`
	Outcome     session.Outcome `json:"outcome,omitempty"`
	Reversible  bool            `json:"reversible,omitempty"`
}

// ErrorNote is a problem the implementer hit.
type ErrorNote struct {
	Type    session.ErrorType `json:"type,omitempty"`
	Message string            `json:"message"`
	File    string            `json:"file,omitempty"`
}

// ArtifactSet is what an implementer reports back.
type ArtifactSet struct {
	Files     []File         `json:"files,omitempty"`
	Decisions []DecisionNote `json:"decisions,omitempty"`
	Errors    []ErrorNote    `json:"errors,omitempty"`
	Notes     []string       `json:"notes,omitempty"`
}

// Implementer carries out a plan. The harness never writes code itself.
type Implementer interface {
	Run(ctx context.Context, p Plan) (ArtifactSet, error)
}

// NopImplementer does nothing. It is used for dry runs, where validation
// checks whatever is already on disk.
type NopImplementer struct{}

// Run implements Implementer.
func (NopImplementer) Run(context.Context, Plan) (ArtifactSet, error) {
	return ArtifactSet{Notes: []string{"dry run: no implementer configured"}}, nil
}

const (
	maxOutputBytes = 8 << 20
	waitDelay      = 2 * time.Second
)

// CommandImplementer runs an external agent command. The plan is written to
// its stdin as JSON and an ArtifactSet is read from its stdout.
type CommandImplementer struct {
	command string
	dir     string
	timeout time.Duration
	logger  *zap.Logger
}

// CommandOption configures a CommandImplementer.
type CommandOption func(*CommandImplementer)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) CommandOption {
	return func(c *CommandImplementer) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewCommandImplementer runs command through sh -c in dir.
func NewCommandImplementer(command, dir string, timeout time.Duration, opts ...CommandOption) *CommandImplementer {
	c := &CommandImplementer{
		command: strings.TrimSpace(command),
		dir:     dir,
		timeout: timeout,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run implements Implementer.
func (c *CommandImplementer) Run(ctx context.Context, p Plan) (ArtifactSet, error) {
	if c.command == "" {
		return ArtifactSet{}, ErrNoCommand
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	input, err := json.Marshal(p)
	if err != nil {
		return ArtifactSet{}, fmt.Errorf("encoding plan: %w", err)
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", c.command)
	cmd.Dir = c.dir
	cmd.Env = append(os.Environ(),
		"HARNESS_FEATURE_ID="+strconv.Itoa(p.FeatureID),
		"HARNESS_FEATURE_NAME="+p.FeatureName,
	)
	cmd.Stdin = bytes.NewReader(input)
	stdout := &limitedBuffer{max: maxOutputBytes}
	var stderr bytes.Buffer
	cmd.Stdout = stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = waitDelay

	start := time.Now()
	runErr := cmd.Run()
	c.logger.Debug("implementer finished",
		zap.Int("feature_id", p.FeatureID),
		zap.Duration("duration", time.Since(start)),
		zap.Int("stdout_bytes", stdout.Len()),
		zap.Error(runErr))

	if runErr != nil {
		if ctx.Err() != nil {
			return ArtifactSet{}, fmt.Errorf("implementer timed out after %s: %w", c.timeout, ctx.Err())
		}
		return ArtifactSet{}, fmt.Errorf("implementer failed: %w: %s", runErr, tail(stderr.String(), 500))
	}
	if stdout.truncated {
		return ArtifactSet{}, fmt.Errorf("implementer output exceeds %d bytes", maxOutputBytes)
	}

	var set ArtifactSet
	if len(bytes.TrimSpace(stdout.Bytes())) == 0 {
		return set, nil
	}
	if err := json.Unmarshal(stdout.Bytes(), &set); err != nil {
		return ArtifactSet{}, fmt.Errorf("decoding implementer output: %w", err)
	}
	return set, nil
}

type limitedBuffer struct {
	bytes.Buffer
	max       int
	truncated bool
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	n := len(p)
	if room := b.max - b.Len(); room < len(p) {
		b.truncated = true
		if room > 0 {
			b.Buffer.Write(p[:room])
		}
		return n, nil
	}
	b.Buffer.Write(p)
	return n, nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
