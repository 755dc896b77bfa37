package differ

import (
	"strings"
	"unicode/utf8"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// DefaultContextChars is how much unchanged text is kept around each insertion.
const DefaultContextChars = 200

// Stats counts characters (runes) per diff operation.
type Stats struct {
	Additions        int     `json:"additions"`
	Deletions        int     `json:"deletions"`
	Unchanged        int     `json:"unchanged"`
	ChangePercentage float64 `json:"changePercentage"`
}

// Diff is the outcome of comparing two versions of a text.
type Diff struct {
	Stats Stats `json:"stats"`
	// ChangedContent holds insertions plus surrounding context. Deleted text never appears here.
	ChangedContent string `json:"changedContent"`
	Meaningful     bool   `json:"meaningful"`
}

// Options configures a Differ.
type Options struct {
	ContextChars int
}

// Differ computes semantic span diffs between document versions.
type Differ struct {
	dmp          *diffmatchpatch.DiffMatchPatch
	contextChars int
}

// New creates a Differ. A non-positive ContextChars falls back to DefaultContextChars.
func New(opts Options) *Differ {
	if opts.ContextChars <= 0 {
		opts.ContextChars = DefaultContextChars
	}
	return &Differ{dmp: diffmatchpatch.New(), contextChars: opts.ContextChars}
}

// Compare diffs oldText against newText.
func (d *Differ) Compare(oldText, newText string) *Diff {
	diffs := d.spans(oldText, newText)
	return &Diff{
		Stats:          statsOf(diffs),
		ChangedContent: d.changedContent(diffs),
		Meaningful:     HasMeaningfulChange(oldText, newText),
	}
}

// ChangedContent returns only the insertions of newText relative to oldText, with context.
func (d *Differ) ChangedContent(oldText, newText string) string {
	return d.changedContent(d.spans(oldText, newText))
}

func (d *Differ) spans(oldText, newText string) []diffmatchpatch.Diff {
	diffs := d.dmp.DiffMain(oldText, newText, false)
	return d.dmp.DiffCleanupSemantic(diffs)
}

func statsOf(diffs []diffmatchpatch.Diff) Stats {
	var s Stats
	for _, df := range diffs {
		n := utf8.RuneCountInString(df.Text)
		switch df.Type {
		case diffmatchpatch.DiffInsert:
			s.Additions += n
		case diffmatchpatch.DiffDelete:
			s.Deletions += n
		case diffmatchpatch.DiffEqual:
			s.Unchanged += n
		}
	}
	total := s.Additions + s.Deletions + s.Unchanged
	if total > 0 {
		s.ChangePercentage = float64(s.Additions+s.Deletions) / float64(total) * 100
	}
	return s
}

type window struct{ start, end int }

// changedContent walks the diff in new-text rune coordinates, widens every
// insertion by the context size and merges overlapping windows.
func (d *Differ) changedContent(diffs []diffmatchpatch.Diff) string {
	var newText []rune
	var windows []window

	for _, df := range diffs {
		switch df.Type {
		case diffmatchpatch.DiffEqual:
			newText = append(newText, []rune(df.Text)...)
		case diffmatchpatch.DiffInsert:
			start := len(newText)
			newText = append(newText, []rune(df.Text)...)
			windows = append(windows, window{start: start, end: len(newText)})
		}
	}
	if len(windows) == 0 {
		return ""
	}

	merged := make([]window, 0, len(windows))
	for _, w := range windows {
		w.start = max(0, w.start-d.contextChars)
		w.end = min(len(newText), w.end+d.contextChars)
		if n := len(merged); n > 0 && w.start <= merged[n-1].end {
			merged[n-1].end = max(merged[n-1].end, w.end)
			continue
		}
		merged = append(merged, w)
	}

	parts := make([]string, 0, len(merged))
	for _, w := range merged {
		if s := strings.TrimSpace(string(newText[w.start:w.end])); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n\n")
}

// HasMeaningfulChange compares the two texts after collapsing whitespace, so
// formatting-only edits report false.
func HasMeaningfulChange(oldText, newText string) bool {
	return normalizeWhitespace(oldText) != normalizeWhitespace(newText)
}

func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
