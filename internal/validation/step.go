package validation

import "strings"

// Kind is the check a step maps to.
type Kind string

const (
	KindFile     Kind = "file"
	KindAbsent   Kind = "absent"
	KindContains Kind = "contains"
	KindCmd      Kind = "cmd"
	KindCheck    Kind = "check"
	// KindText is a free-form description with no prefix.
	KindText Kind = "text"
)

// containsSep separates the path from the text in a contains step.
const containsSep = "::"

// Step is a parsed validation step.
type Step struct {
	Raw  string
	Kind Kind
	// Arg is the glob, path, command or check name.
	Arg string
	// Text is the substring a contains step looks for.
	Text string
}

// ParseStep parses raw. Steps without a known prefix are KindText.
func ParseStep(raw string) Step {
	s := Step{Raw: raw, Kind: KindText, Arg: strings.TrimSpace(raw)}
	prefix, rest, ok := strings.Cut(raw, ":")
	if !ok {
		return s
	}
	kind := Kind(strings.ToLower(strings.TrimSpace(prefix)))
	switch kind {
	case KindFile, KindAbsent, KindCmd, KindCheck:
		s.Kind = kind
		s.Arg = strings.TrimSpace(rest)
	case KindContains:
		s.Kind = kind
		path, text, _ := strings.Cut(rest, containsSep)
		s.Arg = strings.TrimSpace(path)
		s.Text = strings.TrimSpace(text)
	}
	return s
}
