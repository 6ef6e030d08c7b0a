package normalize

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tuhinx/bubt-annex-routine/internal/routine"
)

func TestNormalizeCanonicalNames(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		raw     string
		evening bool
		want    string
	}{
		{name: "evening cse", raw: "10_B.Sc Engg in CSE (Evening)", evening: true, want: "B.Sc. in CSE (Evening)"},
		{name: "day cse", raw: "B.Sc. Engg. in CSE", want: "B.Sc. in CSE"},
		{name: "plain mba", raw: "MBA", want: "MBA"},
		{name: "executive before mba", raw: "Executive MBA", want: "Executive MBA"},
		{name: "executive evening has no marker", raw: "Executive MBA", evening: true, want: "Executive MBA"},
		{name: "unmatched kept", raw: "Diploma in XYZ", want: "Diploma in XYZ"},
		{name: "unmatched cleaned", raw: "03_Diploma__in\nXYZ ", want: "Diploma in XYZ"},
		{name: "english honours", raw: "BA (Hons) in English", want: "B.A. (Hons) in English"},
		{name: "economics honours", raw: "B.Sc (Hons) in Economics", want: "B.Sc. (Hons) in Economics"},
		{name: "eee evening", raw: "B.Sc. in EEE", evening: true, want: "B.Sc. in EEE (Evening)"},
		{name: "civil evening", raw: "BSc in Civil Engg", evening: true, want: "B.Sc. in Civil Engineering (Evening)"},
		{name: "textile", raw: "B.Sc. in Textile Engineering", want: "B.Sc. in Textile Engineering"},
		{name: "bba evening has no marker", raw: "BBA", evening: true, want: "BBA"},
		{name: "law", raw: "LL.B (Hons)", want: "LL.B (Hons)"},
		{name: "msc economics", raw: "M.Sc. in Economics", want: "M.Sc. in Economics"},
		{name: "ma elt one year", raw: "MA in ELT 1 Year", want: "MA in ELT"},
		{name: "ma english", raw: "MA in English", want: "MA in English"},
		{name: "dotted mba", raw: "M.B.A", want: "MBA"},
		{name: "empty", raw: "", want: routine.Unknown},
		{name: "only noise", raw: "12_ . ", want: routine.Unknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, Normalize(tt.raw, tt.evening))
		})
	}
}

func TestNormalizeDoesNotDuplicateEveningMarker(t *testing.T) {
	t.Parallel()

	n := New(Rule{Pattern: DefaultRules[2].Pattern, Canonical: "B.Sc. in CSE (Evening)"})
	require.Equal(t, "B.Sc. in CSE (Evening)", n.Normalize("BSc in CSE", true))
}

func TestNormalizeRuleOrderDecides(t *testing.T) {
	t.Parallel()

	reordered := append([]Rule{DefaultRules[8]}, DefaultRules...)
	n := New(reordered...)
	require.Equal(t, "MBA", n.Normalize("Executive MBA", false))
}

func TestClean(t *testing.T) {
	t.Parallel()

	require.Equal(t, "BBA Section", Clean("1.2_ BBA__Section\n"))
	require.Equal(t, "B.Sc in CSE", Clean("B.Sc   in\nCSE"))
}
