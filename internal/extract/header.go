package extract

import (
	"regexp"
	"strings"
)

var (
	programPattern = regexp.MustCompile(`(?is)Program:\s*(.*?)(?:\s*Intake:|$)`)
	pairPattern    = regexp.MustCompile(`(?i)Intake:\s*(\d+)(?:\s*-\s*|\s+Section:\s*|\s+)(\d+)`)
	intakePattern  = regexp.MustCompile(`(?i)Intake:\s*(\d+)`)
	sectionPattern = regexp.MustCompile(`(?i)Section:\s*(\d+)`)
)

const defaultSection = "1"

// Pair is one intake/section combination named in a page header.
type Pair struct {
	Intake  string
	Section string
}

// Header is the metadata read from the top of a page.
type Header struct {
	Program string
	Pairs   []Pair
}

// ParseHeader reads the program and intake/section pairs from the first
// limit characters of text. fallbackProgram is used when no program label
// is present.
func ParseHeader(text string, limit int, fallbackProgram string) Header {
	meta := headOf(text, limit)

	program := fallbackProgram
	if m := programPattern.FindStringSubmatch(meta); m != nil {
		program = strings.TrimSpace(m[1])
	}
	return Header{Program: program, Pairs: parsePairs(meta)}
}

func parsePairs(meta string) []Pair {
	var pairs []Pair
	for _, m := range pairPattern.FindAllStringSubmatch(meta, -1) {
		pairs = append(pairs, Pair{Intake: m[1], Section: m[2]})
	}
	if len(pairs) > 0 {
		return pairs
	}

	intakes := intakePattern.FindAllStringSubmatch(meta, -1)
	sections := sectionPattern.FindAllStringSubmatch(meta, -1)
	for i, m := range intakes {
		section := defaultSection
		if i < len(sections) {
			section = sections[i][1]
		}
		pairs = append(pairs, Pair{Intake: m[1], Section: section})
	}
	return pairs
}

func headOf(text string, limit int) string {
	if limit <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}
