// Package budget estimates the context cost of content and governs the
// per-session token budget.
package budget

import (
	"path/filepath"
	"regexp"
	"strings"
)

// ContentClass is the coarse kind of content being charged.
type ContentClass string

const (
	ClassCode       ContentClass = "code"
	ClassStructured ContentClass = "structured"
	ClassProse      ContentClass = "prose"
	ClassOther      ContentClass = "other"
)

// Multiplier scales the base character estimate for a content class.
func (c ContentClass) Multiplier() float64 {
	return float64(c.tenths()) / 10
}

// tenths returns the multiplier in tenths so estimates stay in integers.
func (c ContentClass) tenths() int {
	switch c {
	case ClassCode:
		return 13
	case ClassStructured:
		return 15
	case ClassProse:
		return 11
	default:
		return 10
	}
}

// DefaultExtensions maps common file extensions to content classes.
func DefaultExtensions() map[string]ContentClass {
	m := map[string]ContentClass{}
	for _, ext := range []string{
		".go", ".ts", ".tsx", ".js", ".jsx", ".mjs", ".py", ".rb", ".rs",
		".java", ".kt", ".swift", ".c", ".h", ".cc", ".cpp", ".cs", ".php",
		".sh", ".bash", ".sql", ".vue", ".svelte", ".css", ".scss",
	} {
		m[ext] = ClassCode
	}
	for _, ext := range []string{".json", ".yaml", ".yml", ".toml", ".xml", ".csv", ".lock", ".ini", ".env"} {
		m[ext] = ClassStructured
	}
	for _, ext := range []string{".md", ".markdown", ".txt", ".rst", ".html", ".htm", ".adoc"} {
		m[ext] = ClassProse
	}
	return m
}

var (
	codeFenceRegex   = regexp.MustCompile("```[a-z]*\n")
	codeKeywordRegex = regexp.MustCompile(`\b(func|function|def|class|interface|struct|impl|import|return|const|let|var)\b`)
	braceSemiRegex   = regexp.MustCompile(`[{};]`)

	keyValueRegex = regexp.MustCompile(`(?m)^\s*"?[\w.-]+"?\s*[:=]\s*\S`)

	headerRegex   = regexp.MustCompile(`(?m)^#{1,6}\s+.+$`)
	listRegex     = regexp.MustCompile(`(?m)^\s*([-*+]|\d+\.)\s+\S`)
	sentenceRegex = regexp.MustCompile(`[A-Za-z]{2,}[.!?](\s|$)`)
)

// Classifier maps a path and its content to a ContentClass. The extension
// table is injected; content sniffing covers unknown extensions.
type Classifier struct {
	extensions map[string]ContentClass
}

// NewClassifier creates a classifier. A nil table uses DefaultExtensions.
func NewClassifier(extensions map[string]ContentClass) *Classifier {
	if extensions == nil {
		extensions = DefaultExtensions()
	}
	normalized := make(map[string]ContentClass, len(extensions))
	for ext, class := range extensions {
		ext = strings.ToLower(ext)
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		normalized[ext] = class
	}
	return &Classifier{extensions: normalized}
}

// Classify returns the content class for path and content. Either may be
// empty; decisions and notes are classified by content alone.
func (c *Classifier) Classify(path, content string) ContentClass {
	if path != "" {
		if class, ok := c.extensions[strings.ToLower(filepath.Ext(path))]; ok {
			return class
		}
	}
	return sniff(content)
}

func sniff(content string) ContentClass {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return ClassOther
	}

	if (strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}")) ||
		(strings.HasPrefix(trimmed, "[") && strings.HasSuffix(trimmed, "]")) {
		return ClassStructured
	}

	if codeFenceRegex.MatchString(content) {
		return ClassCode
	}
	braces := len(braceSemiRegex.FindAllString(content, -1))
	if codeKeywordRegex.MatchString(content) && float64(braces)/float64(len(content)) > 0.01 {
		return ClassCode
	}

	lines := strings.Count(trimmed, "\n") + 1
	if kv := len(keyValueRegex.FindAllString(content, -1)); lines >= 2 && kv*2 >= lines {
		return ClassStructured
	}

	if headerRegex.MatchString(content) || listRegex.MatchString(content) || sentenceRegex.MatchString(content) {
		return ClassProse
	}

	return ClassOther
}
