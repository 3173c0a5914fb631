package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/mattn/go-runewidth"

	"github.com/mailroom/mailroom/internal/search"
)

// highlightTerms applies highlight styling to every occurrence of the
// active query's terms in text. Matching is case-insensitive.
func highlightTerms(text, queryStr string) string {
	if queryStr == "" || text == "" {
		return text
	}
	terms := extractSearchTerms(queryStr)
	if len(terms) == 0 {
		return text
	}
	return applyHighlight(text, terms)
}

// extractSearchTerms pulls the displayable terms out of a query string.
func extractSearchTerms(queryStr string) []string {
	q := search.Parse(queryStr)
	var terms []string
	terms = append(terms, q.TextTerms...)
	terms = append(terms, q.FromAddrs...)
	terms = append(terms, q.ToAddrs...)
	terms = append(terms, q.SubjectTerms...)
	seen := make(map[string]bool, len(terms))
	filtered := terms[:0]
	for _, t := range terms {
		lower := strings.ToLower(t)
		if t != "" && !seen[lower] {
			seen[lower] = true
			filtered = append(filtered, t)
		}
	}
	return filtered
}

// applyHighlight works on runes so that lowercasing never shifts offsets.
func applyHighlight(text string, terms []string) string {
	textRunes := []rune(text)
	lowerRunes := []rune(strings.ToLower(text))
	if len(lowerRunes) != len(textRunes) {
		return text
	}
	marked := make([]bool, len(textRunes))
	found := false
	for _, term := range terms {
		t := []rune(strings.ToLower(term))
		if len(t) == 0 {
			continue
		}
		for i := 0; i+len(t) <= len(lowerRunes); i++ {
			if string(lowerRunes[i:i+len(t)]) == string(t) {
				for j := i; j < i+len(t); j++ {
					marked[j] = true
				}
				found = true
				i += len(t) - 1
			}
		}
	}
	if !found {
		return text
	}

	var sb strings.Builder
	for i := 0; i < len(textRunes); {
		j := i
		for j < len(textRunes) && marked[j] == marked[i] {
			j++
		}
		chunk := string(textRunes[i:j])
		if marked[i] {
			chunk = highlightStyle.Render(chunk)
		}
		sb.WriteString(chunk)
		i = j
	}
	return sb.String()
}

// formatBytes formats a byte count as a human-readable string (e.g., "1.5 KB").
func formatBytes(bytes int64) string {
	if bytes <= 0 {
		return "-"
	}
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// formatCount formats a count as a human-readable string (e.g., "1.5K", "2.3M").
func formatCount(n int64) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	if n < 1000000 {
		return fmt.Sprintf("%.1fK", float64(n)/1000)
	}
	return fmt.Sprintf("%.1fM", float64(n)/1000000)
}

// formatMetric renders an optional analytics value.
func formatMetric(v *float64) string {
	if v == nil {
		return "-"
	}
	if *v == float64(int64(*v)) {
		return formatCount(int64(*v))
	}
	return fmt.Sprintf("%.1f", *v)
}

// formatListDate shows the time for messages from today and the date
// otherwise. The zero time renders empty.
func formatListDate(t, now time.Time) string {
	if t.IsZero() {
		return ""
	}
	t = t.In(now.Location())
	y1, m1, d1 := t.Date()
	y2, m2, d2 := now.Date()
	switch {
	case y1 == y2 && m1 == m2 && d1 == d2:
		return t.Format("15:04")
	case y1 == y2:
		return t.Format("Jan 02")
	default:
		return t.Format("2006-01-02")
	}
}

// displayName returns the name part of an address header, or the address.
func displayName(addr string) string {
	addr = strings.TrimSpace(addr)
	if i := strings.Index(addr, "<"); i > 0 {
		name := strings.Trim(strings.TrimSpace(addr[:i]), `"`)
		if name != "" {
			return name
		}
	}
	return strings.Trim(addr, "<>")
}

// padRight pads a string with spaces to fill width terminal cells.
// ANSI codes and full-width characters are measured correctly.
func padRight(s string, width int) string {
	sw := lipgloss.Width(s)
	if sw >= width {
		return ansi.Truncate(s, width, "")
	}
	return s + strings.Repeat(" ", width-sw)
}

// truncateRunes truncates a string to fit within maxWidth terminal cells,
// flattening newlines and tabs first.
func truncateRunes(s string, maxWidth int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.ReplaceAll(s, "\t", " ")

	width := runewidth.StringWidth(s)
	if width <= maxWidth {
		return s
	}
	if maxWidth <= 3 {
		return runewidth.Truncate(s, maxWidth, "")
	}
	return runewidth.Truncate(s, maxWidth, "...")
}

// wrapText wraps text to fit within width terminal cells, preferring to
// break at spaces.
func wrapText(text string, width int) []string {
	if width <= 0 {
		width = 80
	}

	var result []string
	for _, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		if runewidth.StringWidth(line) <= width {
			result = append(result, line)
			continue
		}

		runes := []rune(line)
		for len(runes) > 0 {
			currentWidth := 0
			breakAt := 0
			lastSpace := -1

			for i, r := range runes {
				rw := runewidth.RuneWidth(r)
				if currentWidth+rw > width {
					break
				}
				currentWidth += rw
				breakAt = i + 1
				if r == ' ' {
					lastSpace = i
				}
			}

			if lastSpace > breakAt/2 && breakAt < len(runes) {
				breakAt = lastSpace
			}
			if breakAt == 0 {
				breakAt = 1
			}

			result = append(result, string(runes[:breakAt]))
			runes = runes[breakAt:]
			for len(runes) > 0 && runes[0] == ' ' {
				runes = runes[1:]
			}
		}
	}
	return result
}

var sparkBlocks = []rune("▁▂▃▄▅▆▇█")

// sparkline renders values as a row of block characters scaled to the
// largest value.
func sparkline(values []int) string {
	if len(values) == 0 {
		return ""
	}
	hi := 0
	for _, v := range values {
		hi = max(hi, v)
	}
	var sb strings.Builder
	for _, v := range values {
		idx := 0
		if hi > 0 && v > 0 {
			idx = (v*len(sparkBlocks) - 1) / hi
		}
		sb.WriteRune(sparkBlocks[min(idx, len(sparkBlocks)-1)])
	}
	return sb.String()
}
