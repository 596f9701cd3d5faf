// Package ignore reads gitignore-style files and matches project paths
// against them.
package ignore

import (
	"bufio"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// DefaultFiles are the ignore files read from a project root.
var DefaultFiles = []string{".gitignore", ".harnessignore"}

// AlwaysIgnored are excluded whether or not an ignore file lists them.
var AlwaysIgnored = []string{".git/**", ".harness/**"}

// Matcher reports whether a slash-separated, root-relative path is ignored.
type Matcher struct {
	patterns []string
}

// New builds a matcher from gitignore lines. AlwaysIgnored is included.
func New(lines ...string) *Matcher {
	m := &Matcher{}
	seen := map[string]bool{}
	add := func(p string) {
		if p != "" && !seen[p] {
			seen[p] = true
			m.patterns = append(m.patterns, p)
		}
	}
	for _, p := range AlwaysIgnored {
		add(p)
	}
	for _, line := range lines {
		for _, p := range toGlobs(line) {
			add(p)
		}
	}
	return m
}

// Load reads files (DefaultFiles when none are given) from root. Missing
// files are skipped.
func Load(root string, files ...string) (*Matcher, error) {
	if len(files) == 0 {
		files = DefaultFiles
	}
	var lines []string
	for _, name := range files {
		got, err := readLines(filepath.Join(root, name))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		lines = append(lines, got...)
	}
	return New(lines...), nil
}

// Match reports whether path is ignored.
func (m *Matcher) Match(path string) bool {
	path = strings.TrimPrefix(filepath.ToSlash(path), "./")
	for _, p := range m.patterns {
		if ok, _ := doublestar.Match(p, path); ok {
			return true
		}
	}
	return false
}

// Patterns returns the doublestar patterns in use.
func (m *Matcher) Patterns() []string {
	return append([]string(nil), m.patterns...)
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return lines, sc.Err()
}

// toGlobs converts one gitignore line. A pattern matches the path itself
// and, when the path is a directory, everything below it. Negations are
// not supported and are dropped.
func toGlobs(line string) []string {
	line = strings.TrimRight(line, " \t")
	if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "!") {
		return nil
	}

	dirOnly := strings.HasSuffix(line, "/")
	line = strings.TrimSuffix(line, "/")
	anchored := strings.HasPrefix(line, "/") || strings.Contains(line, "/")
	line = strings.TrimPrefix(line, "/")
	if line == "" {
		return nil
	}
	if !anchored && !strings.HasPrefix(line, "**/") {
		line = "**/" + line
	}

	if dirOnly {
		return []string{line + "/**"}
	}
	return []string{line, line + "/**"}
}
