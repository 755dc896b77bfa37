package persona

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	jsonrepair "github.com/kaptinlin/jsonrepair"

	"github.com/soundprediction/recall/pkg/types"
)

// maxSampleChars bounds how much episode text goes into one prompt.
const maxSampleChars = 12000

var errNoSummary = errors.New("no summary object in model output")

// BuildPrompt renders the synthesis prompt for a space or persona.
func BuildPrompt(space *types.Space, mode Mode, analytics *Analytics, episodes []*types.Episode) string {
	var b strings.Builder

	target := fmt.Sprintf("the space %q", space.Name)
	if space.Kind == types.PersonaSpace {
		target = "the author's persona"
	}
	fmt.Fprintf(&b, "You are summarizing %s from their own writing.\n", target)
	if space.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", space.Description)
	}

	b.WriteString("\n<ANALYTICS>\n")
	writeAnalytics(&b, analytics)
	b.WriteString("</ANALYTICS>\n")

	if mode == ModeIncremental && space.Summary != nil {
		existing, _ := json.Marshal(space.Summary)
		fmt.Fprintf(&b, "\n<EXISTING SUMMARY>\n%s\n</EXISTING SUMMARY>\n", existing)
		b.WriteString("\nMerge the NEW EPISODES into the EXISTING SUMMARY. Keep facts that still hold and add what is new.\n")
	}

	b.WriteString("\n<NEW EPISODES>\n")
	used := 0
	for _, ep := range episodes {
		text := strings.TrimSpace(ep.Content)
		if used+len(text) > maxSampleChars {
			break
		}
		used += len(text)
		fmt.Fprintf(&b, "[%s] %s\n---\n", ep.ValidAt.Format("2006-01-02"), text)
	}
	b.WriteString("</NEW EPISODES>\n")

	b.WriteString(`
Respond with a single JSON object and nothing else:
{"overview": "...", "themes": ["..."], "keyFacts": ["..."], "style": "..."}

Guidelines:
1. Only use information from the episodes and analytics above.
2. keyFacts should quote concrete receipts where they exist.
3. style describes how the author writes, based on the style metrics.
`)
	return b.String()
}

func writeAnalytics(b *strings.Builder, a *Analytics) {
	fmt.Fprintf(b, "Episodes: %d\n", a.TotalEpisodes)
	if len(a.Lexicon) > 0 {
		terms := make([]string, 0, len(a.Lexicon))
		for _, t := range a.Lexicon {
			terms = append(terms, fmt.Sprintf("%s (%d)", t.Term, t.Count))
		}
		fmt.Fprintf(b, "Lexicon: %s\n", strings.Join(terms, ", "))
	}
	s := a.Style
	fmt.Fprintf(b, "Style: %d words/sentence, %d sentences/paragraph, bullets in %.0f%% of episodes, code in %.0f%%, %d emphasis markers\n",
		s.AvgSentenceLength, s.AvgParagraphLength, s.BulletFrequency*100, s.CodeFrequency*100, s.EmphasisCount)
	if len(a.Sources) > 0 {
		parts := make([]string, 0, len(a.Sources))
		for _, src := range sortedSources(a.Sources) {
			parts = append(parts, fmt.Sprintf("%s %d%%", src, a.Sources[src]))
		}
		fmt.Fprintf(b, "Sources: %s\n", strings.Join(parts, ", "))
	}
	if a.Temporal.TimeSpanDays > 0 {
		fmt.Fprintf(b, "Span: %d days, about %d episodes per month\n", a.Temporal.TimeSpanDays, a.Temporal.EpisodesPerMonth)
	}
	for _, r := range a.Receipts {
		fmt.Fprintf(b, "Receipt (%s): %s in %q\n", r.Kind, r.Value, r.Context)
	}
	for _, t := range a.Topics {
		fmt.Fprintf(b, "Topic %d (%d episodes): %s\n", t.ID, len(t.EpisodeIDs), strings.Join(t.Keywords, ", "))
	}
}

// ParseSummary decodes a SpaceSummary from model output, repairing
// malformed JSON when necessary.
func ParseSummary(raw string) (*types.SpaceSummary, error) {
	s := strings.TrimSpace(raw)
	start := strings.Index(s, "{")
	if start < 0 {
		return nil, types.NewExtractionError(raw, errNoSummary)
	}
	s = s[start:]
	if end := strings.LastIndex(s, "}"); end >= 0 && json.Valid([]byte(s[:end+1])) {
		s = s[:end+1]
	} else {
		repaired, err := jsonrepair.JSONRepair(s)
		if err != nil {
			return nil, types.NewExtractionError(raw, err)
		}
		s = repaired
	}

	var summary types.SpaceSummary
	if err := json.Unmarshal([]byte(s), &summary); err != nil {
		return nil, types.NewExtractionError(raw, err)
	}
	if strings.TrimSpace(summary.Overview) == "" {
		return nil, types.NewExtractionError(raw, errNoSummary)
	}
	return &summary, nil
}
