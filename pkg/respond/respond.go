// Package respond parses model replies into display content and structured
// source citations.
//
// Models that were asked for citations tend to end their replies with a
// "Sources:" style section. The service splits that section off the main
// content so callers can render it separately and record whether the reply
// was grounded at all.
package respond

import (
	"fmt"
	"regexp"
	"strings"
)

// sourceMarkers are the section headers that introduce a citation block,
// matched case-insensitively. The earliest occurrence wins.
var sourceMarkers = []string{"sources:", "references:", "citations:"}

// Source describes one citation extracted from a reply's source section.
type Source struct {
	Title       string `json:"title"`
	URL         string `json:"url,omitempty"`
	Author      string `json:"author,omitempty"`
	Date        string `json:"date,omitempty"`
	Description string `json:"description,omitempty"`
}

var (
	headerRe    = regexp.MustCompile(`^(?i:sources|references|citations):?\s*`)
	leadItemRe  = regexp.MustCompile(`^\s*(?:\d+\.|-)\s*`)
	itemSplitRe = regexp.MustCompile(`\n\s*(?:\d+\.|-)\s*`)
	titleRe     = regexp.MustCompile(`^(.*?)(?::|\.|\n|$)`)
	urlRe       = regexp.MustCompile(`https?://\S+`)
	authorRe    = regexp.MustCompile(`(?i)(?:by|authors?:?\s*)\s*([^,.]+)`)
	dateRe      = regexp.MustCompile(`(?:\(|\[|\s)(\d{4}(?:-\d{2}-\d{2})?|\w+ \d{1,2},? \d{4})(?:\)|\]|\.|\s|$)`)
)

// Split separates a reply into its main content and trailing source
// section. When no marker is present the reply is returned unchanged as
// main and found is false.
func Split(reply string) (main, sources string, found bool) {
	lower := strings.ToLower(reply)

	idx := -1
	for _, marker := range sourceMarkers {
		if at := strings.Index(lower, marker); at >= 0 && (idx == -1 || at < idx) {
			idx = at
		}
	}
	if idx == -1 {
		return reply, "", false
	}
	return strings.TrimSpace(reply[:idx]), strings.TrimSpace(reply[idx:]), true
}

// ParseSources extracts structured citations from a source section. Items
// are recognized as numbered ("1.") or dashed ("-") list entries; anything
// that cannot be broken down keeps its text as the description under a
// positional title.
func ParseSources(section string) []Source {
	if section == "" {
		return nil
	}

	clean := headerRe.ReplaceAllString(section, "")
	// The first list entry has no preceding newline for the splitter to
	// anchor on, so its marker is stripped here.
	clean = leadItemRe.ReplaceAllString(clean, "")

	var items []string
	for _, item := range itemSplitRe.Split(clean, -1) {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}

	sources := make([]Source, 0, len(items))
	for _, item := range items {
		src := Source{}

		if m := titleRe.FindStringSubmatch(item); m != nil {
			src.Title = strings.TrimSpace(m[1])
		}
		if m := urlRe.FindString(item); m != "" {
			src.URL = m
		}
		if m := authorRe.FindStringSubmatch(item); m != nil {
			src.Author = strings.TrimSpace(m[1])
		}
		if m := dateRe.FindStringSubmatch(item); m != nil {
			src.Date = strings.TrimSpace(m[1])
		}

		desc := item
		if src.Title != "" {
			desc = strings.TrimSpace(strings.Replace(desc, src.Title, "", 1))
		}
		desc = strings.TrimSpace(strings.TrimLeft(desc, ":.,"))
		src.Description = desc

		if src.Title == "" {
			src.Title = fmt.Sprintf("Source %d", len(sources)+1)
		}
		sources = append(sources, src)
	}
	return sources
}

// CitationHint appends a request for citations to prompts that do not
// already ask for sources, so downstream replies stay attributable.
func CitationHint(prompt string) string {
	lower := strings.ToLower(prompt)
	if strings.Contains(lower, "source") ||
		strings.Contains(lower, "reference") ||
		strings.Contains(lower, "citation") {
		return prompt
	}
	return prompt + "\n\nPlease include sources or citations for your information."
}
