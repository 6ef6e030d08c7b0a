// Package normalize maps free-text program headings to canonical program names.
package normalize

import (
	"regexp"
	"strings"

	"github.com/tuhinx/bubt-annex-routine/internal/routine"
)

// Rule maps every heading matching Pattern to Canonical.
type Rule struct {
	Pattern   *regexp.Regexp
	Canonical string
}

// DefaultRules is evaluated in order and the first match wins. The executive
// program must precede the generic MBA rule or it would never be reached.
var DefaultRules = []Rule{
	{regexp.MustCompile(`(?i)B\.?\s*A\.?\s*\(?Hons\)?\s*in\s*English`), "B.A. (Hons) in English"},
	{regexp.MustCompile(`(?i)B\.?\s*S\.?c\.?\s*\(?Hons\)?\s*in\s*Economics`), "B.Sc. (Hons) in Economics"},
	{regexp.MustCompile(`(?i)B\.?\s*S\.?c\.?\s*(Engg\.?|Engineering)?\s*in\s*CSE(\s*\(?Evening\)?)?`), "B.Sc. in CSE"},
	{regexp.MustCompile(`(?i)B\.?\s*S\.?c\.?\s*(Engg\.?|Engineering)?\s*in\s*EEE(\s*\(?Evening\)?)?`), "B.Sc. in EEE"},
	{regexp.MustCompile(`(?i)B\.?S\.?c\.?\s*in\s*Civil\s*(Engg\.?|Engineering)?`), "B.Sc. in Civil Engineering"},
	{regexp.MustCompile(`(?i)B\.?S\.?c\.?\s*in\s*Textile\s*(Engg\.?|Engineering)?`), "B.Sc. in Textile Engineering"},
	{regexp.MustCompile(`(?i)BBA`), "BBA"},
	{regexp.MustCompile(`(?i)Executive\s*MBA`), "Executive MBA"},
	{regexp.MustCompile(`(?i)MBA`), "MBA"},
	{regexp.MustCompile(`(?i)LL\.?\s*B\.?\s*\(?Hons\)?`), "LL.B (Hons)"},
	{regexp.MustCompile(`(?i)M\.?S\.?c\.?\s*in\s*Economics`), "M.Sc. in Economics"},
	{regexp.MustCompile(`(?i)MA\s*in\s*ELT`), "MA in ELT"},
	{regexp.MustCompile(`(?i)MA\s*in\s*English`), "MA in English"},
	{regexp.MustCompile(`(?i)M\.?B\.?A`), "MBA"},
}

var (
	leadingNoise = regexp.MustCompile(`^[\d_.\s]+`)
	whitespace   = regexp.MustCompile(`\s+`)
)

// eveningPrograms lists the canonical programs offered in an evening shift.
var eveningPrograms = []string{"CSE", "EEE", "Civil", "Textile"}

// Normalizer resolves raw headings with an ordered rule list.
type Normalizer struct {
	rules []Rule
}

// New returns a Normalizer using rules, or DefaultRules when none are given.
func New(rules ...Rule) *Normalizer {
	if len(rules) == 0 {
		rules = DefaultRules
	}
	return &Normalizer{rules: rules}
}

// Normalize returns the canonical program name for raw. Evening marks documents
// published for the evening shift.
func (n *Normalizer) Normalize(raw string, evening bool) string {
	cleaned := Clean(raw)
	if cleaned == "" {
		return routine.Unknown
	}

	result := cleaned
	for _, rule := range n.rules {
		if !rule.Pattern.MatchString(cleaned) {
			continue
		}
		result = rule.Canonical
		if evening && offersEvening(result) && !strings.Contains(result, "Evening") {
			result += " (Evening)"
		}
		break
	}

	if strings.Contains(cleaned, "1 Year") && strings.Contains(result, "MA in ELT") {
		result = "MA in ELT"
	}
	return result
}

// Normalize resolves raw with DefaultRules.
func Normalize(raw string, evening bool) string {
	return defaultNormalizer.Normalize(raw, evening)
}

var defaultNormalizer = New()

// Clean strips leading enumeration noise, turns underscores and newlines into
// spaces, and collapses whitespace.
func Clean(raw string) string {
	s := leadingNoise.ReplaceAllString(raw, "")
	s = strings.NewReplacer("_", " ", "\n", " ").Replace(s)
	return whitespace.ReplaceAllString(strings.TrimSpace(s), " ")
}

func offersEvening(canonical string) bool {
	for _, p := range eveningPrograms {
		if strings.Contains(canonical, p) {
			return true
		}
	}
	return false
}
