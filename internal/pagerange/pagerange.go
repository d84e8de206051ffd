// Package pagerange parses and serializes page-selection expressions such as
// "1-3, 5, 8-10" against a document of known length.
package pagerange

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Selection is an ordered set of unique 1-based page numbers within a document.
// The zero value is an empty selection with no document.
type Selection struct {
	pages []int
	total int
	all   bool // expression was blank
}

// All returns a selection of every page 1..total.
func All(total int) Selection {
	if total <= 0 {
		return Selection{}
	}
	pages := make([]int, total)
	for i := range pages {
		pages[i] = i + 1
	}
	return Selection{pages: pages, total: total, all: true}
}

// Pages returns a copy of the selected pages in ascending order.
func (s Selection) Pages() []int {
	out := make([]int, len(s.pages))
	copy(out, s.pages)
	return out
}

// Len is the number of selected pages.
func (s Selection) Len() int { return len(s.pages) }

// Total is the page count of the document the selection was parsed against.
func (s Selection) Total() int { return s.total }

// Empty reports whether nothing is selected (no document loaded).
func (s Selection) Empty() bool { return len(s.pages) == 0 }

// Contains reports whether page is selected.
func (s Selection) Contains(page int) bool {
	i := sort.SearchInts(s.pages, page)
	return i < len(s.pages) && s.pages[i] == page
}

// IsAll reports whether every page of the document is selected.
func (s Selection) IsAll() bool {
	return s.total > 0 && len(s.pages) == s.total
}

// Summary is the display text shown next to the selection input.
func (s Selection) Summary() string {
	if s.all {
		return fmt.Sprintf("All pages (%d).", s.total)
	}
	return fmt.Sprintf("%d page(s) selected.", len(s.pages))
}

// Expression returns the canonical expression for the selection. A selection of
// every page serializes to "" because an omitted range means all pages.
func (s Selection) Expression() string {
	if s.IsAll() {
		return ""
	}
	return Format(s.pages)
}

// String is the canonical minimal form, never blank for a non-empty selection.
func (s Selection) String() string { return Format(s.pages) }

// Parse validates expr against a document of total pages.
func Parse(expr string, total int) (Selection, error) {
	if total <= 0 {
		return Selection{}, ErrNoDocumentLoaded
	}
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return All(total), nil
	}

	seen := make(map[int]struct{})
	tokens := 0
	for _, raw := range strings.Split(expr, ",") {
		tok := strings.TrimSpace(raw)
		if tok == "" {
			continue
		}
		tokens++
		start, end, err := parseToken(tok, total)
		if err != nil {
			return Selection{}, err
		}
		for p := start; p <= end; p++ {
			seen[p] = struct{}{}
		}
	}
	if tokens == 0 {
		return Selection{}, &ParseError{Kind: KindEmptySelection, Token: expr}
	}

	pages := make([]int, 0, len(seen))
	for p := range seen {
		pages = append(pages, p)
	}
	sort.Ints(pages)
	return Selection{pages: pages, total: total}, nil
}

func parseToken(tok string, total int) (int, int, error) {
	if !strings.Contains(tok, "-") {
		n, ok := parseNumber(tok)
		if !ok {
			return 0, 0, &ParseError{Kind: KindInvalidToken, Token: tok}
		}
		if n <= 0 {
			return 0, 0, &ParseError{Kind: KindInvalidRange, Token: tok}
		}
		if n > total {
			return 0, 0, &ParseError{Kind: KindPageOutOfBounds, Token: tok, Page: n}
		}
		return n, n, nil
	}

	parts := strings.Split(tok, "-")
	if len(parts) != 2 {
		return 0, 0, &ParseError{Kind: KindInvalidToken, Token: tok}
	}
	start, ok1 := parseBound(strings.TrimSpace(parts[0]))
	end, ok2 := parseBound(strings.TrimSpace(parts[1]))
	if !ok1 || !ok2 {
		return 0, 0, &ParseError{Kind: KindInvalidToken, Token: tok}
	}
	if start <= 0 || end <= 0 || start > end {
		return 0, 0, &ParseError{Kind: KindInvalidRange, Token: tok}
	}
	if end > total {
		return 0, 0, &ParseError{Kind: KindPageOutOfBounds, Token: tok, Page: end}
	}
	return start, end, nil
}

// parseBound reads one side of a range. A missing side counts as 0, which
// makes "-3" and "1-" invalid ranges rather than malformed tokens.
func parseBound(s string) (int, bool) {
	if s == "" {
		return 0, true
	}
	return parseNumber(s)
}

// parseNumber accepts ASCII digits only; signs, blanks and overflow are rejected.
func parseNumber(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Format collapses pages into the minimal range expression: consecutive runs
// become "a-b", singletons stay "a", runs are joined with ", ". Input order and
// duplicates do not matter; non-positive pages are dropped.
func Format(pages []int) string {
	sorted := make([]int, 0, len(pages))
	for _, p := range pages {
		if p > 0 {
			sorted = append(sorted, p)
		}
	}
	if len(sorted) == 0 {
		return ""
	}
	sort.Ints(sorted)

	var b strings.Builder
	flush := func(start, end int) {
		if b.Len() > 0 {
			b.WriteString(", ")
		}
		if start == end {
			b.WriteString(strconv.Itoa(start))
			return
		}
		b.WriteString(strconv.Itoa(start))
		b.WriteByte('-')
		b.WriteString(strconv.Itoa(end))
	}

	start, end := sorted[0], sorted[0]
	for _, p := range sorted[1:] {
		switch {
		case p == end:
			continue
		case p == end+1:
			end = p
		default:
			flush(start, end)
			start, end = p, p
		}
	}
	flush(start, end)
	return b.String()
}

// Toggle flips page in the selection described by expr and returns the new
// selection. Removing the last selected page is refused with ErrEmptySelection;
// the caller keeps its previous selection in that case.
func Toggle(expr string, total, page int) (Selection, error) {
	current, err := Parse(expr, total)
	if err != nil {
		return Selection{}, err
	}
	if page <= 0 || page > total {
		return Selection{}, &ParseError{Kind: KindPageOutOfBounds, Token: strconv.Itoa(page), Page: page}
	}

	var next []int
	if current.Contains(page) {
		if current.Len() == 1 {
			return Selection{}, &ParseError{Kind: KindEmptySelection, Token: strconv.Itoa(page), Page: page}
		}
		next = make([]int, 0, current.Len()-1)
		for _, p := range current.pages {
			if p != page {
				next = append(next, p)
			}
		}
	} else {
		next = append(current.Pages(), page)
	}

	return Parse(Selection{pages: next, total: total}.Expression(), total)
}
