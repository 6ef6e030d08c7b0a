// Package listing extracts routine document references from the listing page HTML.
package listing

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/tuhinx/bubt-annex-routine/internal/routine"
)

// DefaultRenderMarker identifies links that point at a page which must be
// rendered before it can be saved.
const DefaultRenderMarker = "routine.php"

var spaceRun = regexp.MustCompile(`\s+`)

// Parser turns listing HTML into document references.
type Parser struct {
	renderMarker string
}

// NewParser returns a Parser. An empty marker uses DefaultRenderMarker.
func NewParser(renderMarker string) *Parser {
	if renderMarker == "" {
		renderMarker = DefaultRenderMarker
	}
	return &Parser{renderMarker: strings.ToLower(renderMarker)}
}

// Parse scans every table row of html. pageURL resolves relative links.
func (p *Parser) Parse(html string, pageURL string) ([]routine.DocumentReference, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parse page url: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse listing html: %w", err)
	}

	var refs []routine.DocumentReference
	doc.Find("tr").Each(func(_ int, row *goquery.Selection) {
		if ref, ok := p.parseRow(row, base); ok {
			refs = append(refs, ref)
		}
	})
	return refs, nil
}

func (p *Parser) parseRow(row *goquery.Selection, base *url.URL) (routine.DocumentReference, bool) {
	links := row.Find("a")
	if links.Length() == 0 {
		return routine.DocumentReference{}, false
	}
	cells := row.ChildrenFiltered("td, th")
	if cells.Length() < 2 {
		return routine.DocumentReference{}, false
	}

	texts := make([]string, 0, cells.Length())
	cells.Each(func(_ int, cell *goquery.Selection) {
		texts = append(texts, collapse(cell.Text()))
	})
	first := strings.ToLower(texts[0])
	if strings.Contains(first, "sl") || strings.Contains(first, "no") {
		return routine.DocumentReference{}, false
	}

	var candidates []string
	links.Each(func(_ int, a *goquery.Selection) {
		href := resolve(base, a.AttrOr("href", ""))
		lowerHref := strings.ToLower(href)
		text := strings.ToLower(a.Text())
		if strings.Contains(lowerHref, ".pdf") ||
			strings.Contains(lowerHref, p.renderMarker) ||
			strings.Contains(text, "view") ||
			strings.Contains(text, "download") {
			candidates = append(candidates, href)
		}
	})
	if len(candidates) == 0 {
		return routine.DocumentReference{}, false
	}

	best := candidates[0]
	for _, href := range candidates {
		if strings.HasSuffix(strings.ToLower(href), ".pdf") {
			best = href
			break
		}
	}
	return routine.DocumentReference{
		Description: strings.Join(texts, " "),
		SourceURL:   best,
	}, true
}

func resolve(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}

func collapse(s string) string {
	return spaceRun.ReplaceAllString(strings.TrimSpace(s), " ")
}
