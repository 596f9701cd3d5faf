// Package store persists harness state under the project's .harness
// directory.
package store

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/fyrsmithlabs/harness/internal/config"
	"github.com/fyrsmithlabs/harness/internal/features"
	"github.com/fyrsmithlabs/harness/internal/handoff"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// File names.
const (
	FeatureListFile = "feature_list.json"
	HistoryFile     = "session_history.json"
	HandoffFile     = "latest_handoff.json"
	ReportFile      = "claude_progress.txt"
)

// DefaultMaxSessions bounds session_history.json.
const DefaultMaxSessions = 50

const (
	dirPerm  = 0o755
	filePerm = 0o644
)

//go:embed schema/feature_list.schema.json
var featureListSchema string

var progressFile = regexp.MustCompile(`^progress_(\d+)\.json$`)

// FileStore reads and writes harness documents. Every write replaces the
// target atomically.
type FileStore struct {
	projectDir  string
	dir         string
	maxSessions int
	schema      *jsonschema.Schema

	// mu serialises history read-modify-write cycles.
	mu sync.Mutex
}

// New creates a store for projectDir. The state directory is created on
// first write.
func New(projectDir string, maxSessions int) (*FileStore, error) {
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(FeatureListFile, strings.NewReader(featureListSchema)); err != nil {
		return nil, fmt.Errorf("loading feature list schema: %w", err)
	}
	schema, err := c.Compile(FeatureListFile)
	if err != nil {
		return nil, fmt.Errorf("compiling feature list schema: %w", err)
	}
	return &FileStore{
		projectDir:  projectDir,
		dir:         filepath.Join(projectDir, config.StateDir),
		maxSessions: maxSessions,
		schema:      schema,
	}, nil
}

// Dir returns the state directory.
func (s *FileStore) Dir() string { return s.dir }

// ProjectDir returns the project root.
func (s *FileStore) ProjectDir() string { return s.projectDir }

// Initialized reports whether a feature list exists.
func (s *FileStore) Initialized() bool {
	_, err := os.Stat(filepath.Join(s.dir, FeatureListFile))
	return err == nil
}

// SaveFeatureList validates and writes the feature list.
func (s *FileStore) SaveFeatureList(l *features.FeatureList) error {
	if err := l.Validate(); err != nil {
		return fmt.Errorf("refusing to save feature list: %w", err)
	}
	return s.writeJSON(filepath.Join(s.dir, FeatureListFile), l)
}

// LoadFeatureList reads the feature list, checking it against the embedded
// schema and the list invariants.
func (s *FileStore) LoadFeatureList() (*features.FeatureList, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, FeatureListFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotInitialized
	}
	if err != nil {
		return nil, fmt.Errorf("reading feature list: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc interface{}
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidDocument, FeatureListFile, err)
	}
	if err := s.schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidDocument, FeatureListFile, err)
	}

	var l features.FeatureList
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidDocument, FeatureListFile, err)
	}
	if err := l.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidDocument, FeatureListFile, err)
	}
	return &l, nil
}

// SaveProgress writes progress_<N>.json for the session.
func (s *FileStore) SaveProgress(p Progress) error {
	return s.writeJSON(filepath.Join(s.dir, progressName(p.SessionNumber)), p)
}

// LoadProgress reads the progress of session n.
func (s *FileStore) LoadProgress(n int) (Progress, error) {
	var p Progress
	err := s.readJSON(filepath.Join(s.dir, progressName(n)), &p)
	return p, err
}

// LatestProgress returns the progress with the highest session number.
func (s *FileStore) LatestProgress() (Progress, bool, error) {
	nums, err := s.progressNumbers()
	if err != nil || len(nums) == 0 {
		return Progress{}, false, err
	}
	p, err := s.LoadProgress(nums[len(nums)-1])
	if err != nil {
		return Progress{}, false, err
	}
	return p, true, nil
}

// LastSessionNumber returns the highest session number on disk, from either
// progress files or the history.
func (s *FileStore) LastSessionNumber() (int, error) {
	last := 0
	nums, err := s.progressNumbers()
	if err != nil {
		return 0, err
	}
	if len(nums) > 0 {
		last = nums[len(nums)-1]
	}
	history, err := s.LoadHistory()
	if err != nil {
		return 0, err
	}
	for _, rec := range history {
		if rec.Session.Number > last {
			last = rec.Session.Number
		}
	}
	return last, nil
}

func (s *FileStore) progressNumbers() ([]int, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var nums []int
	for _, e := range entries {
		m := progressFile.FindStringSubmatch(e.Name())
		if m == nil || e.IsDir() {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		nums = append(nums, n)
	}
	sort.Ints(nums)
	return nums, nil
}

// AppendSession archives a session, evicting the oldest records beyond the
// configured maximum.
func (s *FileStore) AppendSession(rec SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	history, err := s.LoadHistory()
	if err != nil {
		return err
	}
	history = append(history, rec)
	if len(history) > s.maxSessions {
		history = history[len(history)-s.maxSessions:]
	}
	return s.writeJSON(filepath.Join(s.dir, HistoryFile), history)
}

// LoadHistory returns archived sessions, oldest first.
func (s *FileStore) LoadHistory() ([]SessionRecord, error) {
	var history []SessionRecord
	err := s.readJSON(filepath.Join(s.dir, HistoryFile), &history)
	if errors.Is(err, fs.ErrNotExist) {
		return []SessionRecord{}, nil
	}
	if err != nil {
		return nil, err
	}
	if history == nil {
		history = []SessionRecord{}
	}
	return history, nil
}

// SaveHandoff writes latest_handoff.json.
func (s *FileStore) SaveHandoff(h handoff.Handoff) error {
	return s.writeJSON(filepath.Join(s.dir, HandoffFile), h)
}

// LoadHandoff reads latest_handoff.json. ok is false when none exists.
func (s *FileStore) LoadHandoff() (h handoff.Handoff, ok bool, err error) {
	err = s.readJSON(filepath.Join(s.dir, HandoffFile), &h)
	if errors.Is(err, fs.ErrNotExist) {
		return handoff.Handoff{}, false, nil
	}
	if err != nil {
		return handoff.Handoff{}, false, err
	}
	return h, true, nil
}

// WriteReport writes the human-readable report to the project root.
func (s *FileStore) WriteReport(text string) error {
	return writeAtomic(filepath.Join(s.projectDir, ReportFile), []byte(text))
}

func (s *FileStore) writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	return writeAtomic(path, append(data, '\n'))
}

func (s *FileStore) readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidDocument, filepath.Base(path), err)
	}
	return nil
}

// writeAtomic writes through a temp file in the target directory and
// renames it into place.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpPath, filePerm); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming %s: %w", filepath.Base(path), err)
	}
	return nil
}

func progressName(n int) string {
	return fmt.Sprintf("progress_%d.json", n)
}
