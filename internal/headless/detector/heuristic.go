// Package detector recognizes bot-challenge interstitials and empty routine pages.
package detector

import (
	"bytes"
	"strings"
)

// DefaultChallengeTitles are document titles shown while a challenge is running.
var DefaultChallengeTitles = []string{"Just a moment", "One moment"}

// DefaultNoDataPhrases are page texts meaning the routine page has nothing to render.
var DefaultNoDataPhrases = []string{"no data found", "routine not found", "no routine found"}

var challengeMarkers = [][]byte{
	[]byte("cf-chl-"),
	[]byte("challenge-platform"),
	[]byte("cf_chl_opt"),
}

// Heuristic implements string-based page classification.
type Heuristic struct {
	ChallengeTitles []string
	NoDataPhrases   []string
}

// NewHeuristic creates a detector with the default titles and phrases.
func NewHeuristic() *Heuristic {
	return &Heuristic{
		ChallengeTitles: DefaultChallengeTitles,
		NoDataPhrases:   DefaultNoDataPhrases,
	}
}

// IsChallengeTitle reports whether title belongs to a challenge interstitial.
func (h *Heuristic) IsChallengeTitle(title string) bool {
	for _, t := range h.ChallengeTitles {
		if strings.Contains(title, t) {
			return true
		}
	}
	return false
}

// HasNoData reports whether the page content states that no routine exists.
func (h *Heuristic) HasNoData(content string) bool {
	lower := strings.ToLower(content)
	for _, phrase := range h.NoDataPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// IsChallengeBody reports whether an HTTP body is a challenge page rather
// than the requested document.
func (h *Heuristic) IsChallengeBody(body []byte) bool {
	if bytes.HasPrefix(body, []byte("%PDF-")) {
		return false
	}
	for _, marker := range challengeMarkers {
		if bytes.Contains(body, marker) {
			return true
		}
	}
	head := body
	if len(head) > 4096 {
		head = head[:4096]
	}
	lower := bytes.ToLower(head)
	if !bytes.Contains(lower, []byte("<title")) {
		return false
	}
	return h.IsChallengeTitle(string(head))
}
