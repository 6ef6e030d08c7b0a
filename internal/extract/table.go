package extract

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/tuhinx/bubt-annex-routine/internal/routine"
)

const (
	rowTolerance    = 3.0
	columnTolerance = 12.0
)

var (
	positionPattern = regexp.MustCompile(`(top|left)\s*:\s*(-?[\d.]+)pt`)
	spaceRun        = regexp.MustCompile(`\s+`)
)

type textLine struct {
	top  float64
	left float64
	text string
}

// BuildTables reconstructs table grids from positioned page HTML, as produced
// by MuPDF, where every text line carries absolute top and left offsets.
func BuildTables(pageHTML string) ([]routine.Table, error) {
	lines, err := parseLines(pageHTML)
	if err != nil {
		return nil, err
	}
	return buildTables(lines), nil
}

func parseLines(pageHTML string) ([]textLine, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(pageHTML))
	if err != nil {
		return nil, fmt.Errorf("parse page html: %w", err)
	}

	var lines []textLine
	doc.Find("[style]").Each(func(_ int, sel *goquery.Selection) {
		top, left, ok := position(sel.AttrOr("style", ""))
		if !ok {
			return
		}
		innerPositioned := false
		sel.Find("[style]").EachWithBreak(func(_ int, child *goquery.Selection) bool {
			if _, _, ok := position(child.AttrOr("style", "")); ok {
				innerPositioned = true
				return false
			}
			return true
		})
		if innerPositioned {
			return
		}
		text := spaceRun.ReplaceAllString(strings.TrimSpace(sel.Text()), " ")
		if text == "" {
			return
		}
		lines = append(lines, textLine{top: top, left: left, text: text})
	})
	return lines, nil
}

func position(style string) (float64, float64, bool) {
	var (
		top, left       float64
		hasTop, hasLeft bool
	)
	for _, m := range positionPattern.FindAllStringSubmatch(style, -1) {
		v, err := strconv.ParseFloat(m[2], 64)
		if err != nil {
			continue
		}
		switch m[1] {
		case "top":
			top, hasTop = v, true
		case "left":
			left, hasLeft = v, true
		}
	}
	return top, left, hasTop && hasLeft
}

// buildTables groups lines into rows by vertical position. Runs of two or
// more consecutive multi-cell rows become one table whose columns are
// anchored on the distinct left offsets of its cells.
func buildTables(lines []textLine) []routine.Table {
	if len(lines) == 0 {
		return []routine.Table{}
	}
	sorted := append([]textLine(nil), lines...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].top != sorted[j].top {
			return sorted[i].top < sorted[j].top
		}
		return sorted[i].left < sorted[j].left
	})

	var rows [][]textLine
	rowTop := math.Inf(-1)
	for _, line := range sorted {
		if len(rows) > 0 && line.top-rowTop <= rowTolerance {
			rows[len(rows)-1] = append(rows[len(rows)-1], line)
			continue
		}
		rows = append(rows, []textLine{line})
		rowTop = line.top
	}
	for _, row := range rows {
		sort.SliceStable(row, func(i, j int) bool { return row[i].left < row[j].left })
	}

	tables := []routine.Table{}
	var run [][]textLine
	flush := func() {
		if len(run) >= 2 {
			tables = append(tables, gridOf(run))
		}
		run = nil
	}
	for _, row := range rows {
		if len(row) < 2 {
			flush()
			continue
		}
		run = append(run, row)
	}
	flush()
	return tables
}

func gridOf(rows [][]textLine) routine.Table {
	var lefts []float64
	for _, row := range rows {
		for _, cell := range row {
			lefts = append(lefts, cell.left)
		}
	}
	sort.Float64s(lefts)

	var anchors []float64
	last := math.Inf(-1)
	for _, l := range lefts {
		if l-last > columnTolerance {
			anchors = append(anchors, l)
		}
		last = l
	}

	table := make(routine.Table, 0, len(rows))
	for _, row := range rows {
		cells := make([]*string, len(anchors))
		for _, cell := range row {
			idx := columnOf(anchors, cell.left)
			if cells[idx] != nil {
				joined := *cells[idx] + " " + cell.text
				cells[idx] = &joined
				continue
			}
			text := cell.text
			cells[idx] = &text
		}
		table = append(table, cells)
	}
	return table
}

// columnOf returns the index of the last anchor at or left of x, allowing
// for the clustering tolerance.
func columnOf(anchors []float64, x float64) int {
	idx := sort.Search(len(anchors), func(i int) bool { return anchors[i] > x+columnTolerance })
	if idx == 0 {
		return 0
	}
	return idx - 1
}
