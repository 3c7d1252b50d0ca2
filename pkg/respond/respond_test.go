package respond

import (
	"strings"
	"testing"
)

func TestSplit(t *testing.T) {
	tests := []struct {
		name        string
		reply       string
		wantMain    string
		wantSources string
		wantFound   bool
	}{
		{
			name:      "no sources",
			reply:     "Plain answer with no citations.",
			wantMain:  "Plain answer with no citations.",
			wantFound: false,
		},
		{
			name:        "sources section",
			reply:       "The answer.\n\nSources:\n1. Example",
			wantMain:    "The answer.",
			wantSources: "Sources:\n1. Example",
			wantFound:   true,
		},
		{
			name:        "case insensitive marker",
			reply:       "Answer.\nREFERENCES:\n- A reference",
			wantMain:    "Answer.",
			wantSources: "REFERENCES:\n- A reference",
			wantFound:   true,
		},
		{
			name:        "earliest marker wins",
			reply:       "Text\nCitations:\nfirst block\nSources:\nsecond block",
			wantMain:    "Text",
			wantSources: "Citations:\nfirst block\nSources:\nsecond block",
			wantFound:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			main, sources, found := Split(tt.reply)
			if found != tt.wantFound {
				t.Fatalf("found = %v, want %v", found, tt.wantFound)
			}
			if main != tt.wantMain {
				t.Errorf("main = %q, want %q", main, tt.wantMain)
			}
			if sources != tt.wantSources {
				t.Errorf("sources = %q, want %q", sources, tt.wantSources)
			}
		})
	}
}

func TestParseSourcesNumberedList(t *testing.T) {
	section := "Sources:\n" +
		"1. Go Documentation: The reference manual. https://go.dev/doc (2024)\n" +
		"2. Effective Go by Rob Pike. https://go.dev/doc/effective_go"

	sources := ParseSources(section)
	if len(sources) != 2 {
		t.Fatalf("parsed %d sources, want 2", len(sources))
	}

	first := sources[0]
	if first.Title != "Go Documentation" {
		t.Errorf("title = %q, want %q", first.Title, "Go Documentation")
	}
	if first.URL != "https://go.dev/doc" {
		t.Errorf("url = %q", first.URL)
	}
	if first.Date != "2024" {
		t.Errorf("date = %q, want 2024", first.Date)
	}

	second := sources[1]
	if second.Author == "" {
		t.Errorf("author not extracted from %q", second.Description)
	}
}

func TestParseSourcesDashList(t *testing.T) {
	section := "References:\n- First item\n- Second item"

	sources := ParseSources(section)
	if len(sources) != 2 {
		t.Fatalf("parsed %d sources, want 2", len(sources))
	}
	if sources[0].Title != "First item" {
		t.Errorf("title = %q", sources[0].Title)
	}
}

func TestParseSourcesEmpty(t *testing.T) {
	if got := ParseSources(""); got != nil {
		t.Fatalf("ParseSources(\"\") = %v, want nil", got)
	}
}

func TestParseSourcesFallbackTitle(t *testing.T) {
	// An item that opens with a colon yields no title text.
	sources := ParseSources("Sources:\n1. : just a fragment")
	if len(sources) != 1 {
		t.Fatalf("parsed %d sources, want 1", len(sources))
	}
	if sources[0].Title != "Source 1" {
		t.Errorf("title = %q, want positional fallback", sources[0].Title)
	}
}

func TestCitationHint(t *testing.T) {
	hinted := CitationHint("Explain how DNS works")
	if !strings.Contains(hinted, "Please include sources or citations") {
		t.Fatalf("hint not appended: %q", hinted)
	}
	if !strings.HasPrefix(hinted, "Explain how DNS works") {
		t.Fatalf("original prompt altered: %q", hinted)
	}

	// Prompts that already ask for grounding are left alone.
	for _, prompt := range []string{
		"List your sources for this claim",
		"Give me a reference for that",
		"Add a citation please",
	} {
		if got := CitationHint(prompt); got != prompt {
			t.Errorf("CitationHint(%q) modified prompt: %q", prompt, got)
		}
	}
}
