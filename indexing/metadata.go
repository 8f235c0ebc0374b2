package indexing

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/poiesic/plansight/core"
)

var (
	// "SECTION 03 30 00 - CAST-IN-PLACE CONCRETE"
	specSectionPattern = regexp.MustCompile(`^(?i:section)\s+(\d{2}\s?\d{2}\s?\d{2}(?:\.\d+)?)\s*[-:.]?\s*(.*)$`)

	// "1.2 SUBMITTALS", "3.4.1 Installation", "2. PRODUCTS"
	numberedHeadingPattern = regexp.MustCompile(`^(\d{1,2}(?:\.\d{1,2}){0,3})\.?\s+([A-Za-z][^.]{1,80})$`)

	// "PART 2 - PRODUCTS"
	partPattern = regexp.MustCompile(`^(?i:part)\s+(\d+)\s*[-:.]?\s*(.+)$`)

	// cells separated by tabs, pipes or runs of spaces
	cellSeparator = regexp.MustCompile(`\t+|\s*\|\s*|\s{2,}`)
)

const (
	maxHeadingLength = 90
	minTableRows     = 3
	minTableCells    = 3
)

// heading is a section title found in element text.
type heading struct {
	numbering string
	title     string
}

func (h heading) String() string {
	if h.numbering == "" {
		return h.title
	}
	return strings.TrimSpace(h.numbering + " " + h.title)
}

// detectHeading returns the first line of text that looks like a section
// heading.
func detectHeading(text string) (heading, bool) {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || len(line) > maxHeadingLength {
			continue
		}
		if m := specSectionPattern.FindStringSubmatch(line); m != nil {
			return heading{numbering: strings.ReplaceAll(m[1], " ", ""), title: strings.TrimSpace(m[2])}, true
		}
		if m := partPattern.FindStringSubmatch(line); m != nil {
			return heading{numbering: "PART " + m[1], title: strings.TrimSpace(m[2])}, true
		}
		if m := numberedHeadingPattern.FindStringSubmatch(line); m != nil && isTitle(m[2]) {
			return heading{numbering: m[1], title: strings.TrimSpace(m[2])}, true
		}
		if isCapsHeading(line) {
			return heading{title: line}, true
		}
	}
	return heading{}, false
}

// isTitle accepts capitalised phrases and rejects sentences and measurements.
func isTitle(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" || strings.ContainsAny(s, ";,") {
		return false
	}
	return unicode.IsUpper([]rune(s)[0])
}

// isCapsHeading matches short upper-case lines such as "GENERAL NOTES".
func isCapsHeading(line string) bool {
	letters := 0
	for _, r := range line {
		if unicode.IsLetter(r) {
			if !unicode.IsUpper(r) {
				return false
			}
			letters++
		}
	}
	words := len(strings.Fields(line))
	return letters >= 4 && words >= 1 && words <= 8
}

// looksTabular reports whether text contains a run of rows with a
// consistent number of cells.
func looksTabular(text string) bool {
	run, prev := 0, 0
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		cells := 0
		if line != "" {
			cells = len(cellSeparator.Split(line, -1))
		}
		if cells >= minTableCells && (prev == 0 || cells == prev) {
			run++
			prev = cells
			if run >= minTableRows {
				return true
			}
			continue
		}
		run, prev = 0, 0
		if cells >= minTableCells {
			run, prev = 1, cells
		}
	}
	return false
}

// annotate assigns sections and numbering to elements in document order.
// Elements without a heading inherit the current section, and so do tables
// since column headers read like headings. Text elements that look tabular
// are reclassified as tables.
func annotate(elements []core.Element) (sections []string, tables int) {
	current := heading{}
	for i := range elements {
		el := &elements[i]
		if el.Kind == core.ElementText && looksTabular(el.Text) {
			el.Kind = core.ElementTable
		}
		if el.Kind == core.ElementTable {
			tables++
		} else if h, ok := detectHeading(el.Text); ok {
			if h.String() != current.String() {
				sections = append(sections, h.String())
			}
			current = h
		}
		el.Section = current.String()
		el.Numbering = current.numbering
	}
	return sections, tables
}
