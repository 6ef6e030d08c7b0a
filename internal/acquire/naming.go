package acquire

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
)

const fallbackName = "routine"

var (
	actionWords   = regexp.MustCompile(`(?i)(view|download|click|here)`)
	spaceRun      = regexp.MustCompile(`\s+`)
	unsafeChars   = regexp.MustCompile(`[^a-zA-Z0-9._-]`)
	underscoreRun = regexp.MustCompile(`_+`)
)

// CleanDescription removes link action words from a listing description and
// collapses whitespace.
func CleanDescription(desc string) string {
	s := actionWords.ReplaceAllString(desc, "")
	return spaceRun.ReplaceAllString(strings.TrimSpace(s), " ")
}

// SanitizeFilename turns text into a filesystem-safe base name of at most
// maxLen bytes. Empty results fall back to "routine".
func SanitizeFilename(text string, maxLen int) string {
	s := unsafeChars.ReplaceAllString(text, "_")
	s = underscoreRun.ReplaceAllString(s, "_")
	s = strings.Trim(s, "_")
	if maxLen > 0 && len(s) > maxLen {
		s = s[:maxLen]
	}
	if s == "" {
		return fallbackName
	}
	return s
}

// BaseName derives the unsuffixed document name for a listing description.
func BaseName(desc string, maxLen int) string {
	return SanitizeFilename(CleanDescription(desc), maxLen)
}

// NameRegistry hands out unique document names for a single run.
type NameRegistry struct {
	mu   sync.Mutex
	used map[string]struct{}
}

// NewNameRegistry returns an empty registry.
func NewNameRegistry() *NameRegistry {
	return &NameRegistry{used: make(map[string]struct{})}
}

// Reserve claims base.pdf, or the first free base_N.pdf with N starting at 1.
// Names are compared case-insensitively so they stay distinct on
// case-insensitive filesystems.
func (r *NameRegistry) Reserve(base string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := base + ".pdf"
	for n := 1; ; n++ {
		if _, taken := r.used[strings.ToLower(name)]; !taken {
			break
		}
		name = fmt.Sprintf("%s_%d.pdf", base, n)
	}
	r.used[strings.ToLower(name)] = struct{}{}
	return name
}

// Len reports how many names have been reserved.
func (r *NameRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.used)
}
