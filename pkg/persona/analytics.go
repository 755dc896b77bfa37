// Package persona synthesizes summaries of spaces and of a tenant's persona.
// Synthesis runs local analytics over the episodes first (lexicon, style,
// sources, temporal span, receipts and topics) and hands the result to a
// Completer for the written summary.
package persona

import (
	"context"
	"math"
	"regexp"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/soundprediction/recall/pkg/types"
)

const (
	lexiconSize = 50
	maxReceipts = 20
	receiptSpan = 40
)

// LexiconTerm is a distinctive term with its raw corpus count.
type LexiconTerm struct {
	Term  string  `json:"term"`
	Count int     `json:"count"`
	Score float64 `json:"score"`
}

// StyleMetrics are structural measurements of the writing.
type StyleMetrics struct {
	AvgSentenceLength   int     `json:"avgSentenceLength"`
	AvgParagraphLength  int     `json:"avgParagraphLength"`
	EpisodesWithBullets int     `json:"episodesWithBullets"`
	EpisodesWithCode    int     `json:"episodesWithCode"`
	EmphasisCount       int     `json:"emphasisCount"`
	BulletFrequency     float64 `json:"bulletFrequency"`
	CodeFrequency       float64 `json:"codeFrequency"`
}

// TemporalMetrics describe when the episodes were written.
type TemporalMetrics struct {
	OldestEpisode    time.Time `json:"oldestEpisode"`
	NewestEpisode    time.Time `json:"newestEpisode"`
	TimeSpanDays     int       `json:"timeSpanDays"`
	EpisodesPerMonth int       `json:"episodesPerMonth"`
}

// Receipt is a concrete figure quoted in an episode.
type Receipt struct {
	Kind        string `json:"kind"`
	Value       string `json:"value"`
	Context     string `json:"context"`
	EpisodeUUID string `json:"episodeUuid"`
}

// Analytics is everything computed locally before synthesis.
type Analytics struct {
	TotalEpisodes int             `json:"totalEpisodes"`
	Lexicon       []LexiconTerm   `json:"lexicon"`
	Style         StyleMetrics    `json:"style"`
	Sources       map[string]int  `json:"sources"`
	Temporal      TemporalMetrics `json:"temporal"`
	Receipts      []Receipt       `json:"receipts"`
	Topics        []Topic         `json:"topics,omitempty"`
}

// Analyze computes all analytics for episodes. Independent metrics run concurrently.
func Analyze(ctx context.Context, episodes []*types.Episode, topicOpts TopicOptions) (*Analytics, error) {
	a := &Analytics{TotalEpisodes: len(episodes)}
	if len(episodes) == 0 {
		a.Sources = map[string]int{}
		return a, nil
	}
	contents := make([]string, len(episodes))
	for i, ep := range episodes {
		contents[i] = ep.Content
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { a.Lexicon = Lexicon(contents, lexiconSize); return gctx.Err() })
	g.Go(func() error { a.Style = Style(contents); return gctx.Err() })
	g.Go(func() error { a.Sources = Sources(episodes); return gctx.Err() })
	g.Go(func() error { a.Temporal = Temporal(episodes); return gctx.Err() })
	g.Go(func() error { a.Receipts = Receipts(episodes); return gctx.Err() })
	g.Go(func() error { a.Topics = Topics(episodes, topicOpts); return gctx.Err() })
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return a, nil
}

// Lexicon returns the top n terms by summed TF-IDF weight. Terms in more than
// 80% of the documents are dropped; rare terms are kept for fewer than 5
// documents. A single document has no frequency signal and keeps everything.
func Lexicon(contents []string, n int) []LexiconTerm {
	if len(contents) == 0 {
		return nil
	}
	minDF := 2
	if len(contents) < 5 {
		minDF = 1
	}
	maxDF := 0.8
	if len(contents) == 1 {
		maxDF = 1.0
	}

	m := vectorize(contents, minDF, maxDF)
	scores := make(map[string]float64)
	for _, row := range m.tfidf() {
		for t, w := range row {
			scores[t] += w
		}
	}

	top := topTerms(scores, n)
	out := make([]LexiconTerm, len(top))
	for i, wt := range top {
		out[i] = LexiconTerm{Term: wt.term, Count: m.total(wt.term), Score: wt.score}
	}
	return out
}

var (
	sentenceSplit  = regexp.MustCompile(`[.!?]+`)
	paragraphSplit = regexp.MustCompile(`\n\n+`)
	bulletPattern  = regexp.MustCompile(`(?m)^[ \t]*[-*][ \t]+`)
	codePattern    = regexp.MustCompile("(?m)```|^(?: {4,}|\t)\\S")
	boldPattern    = regexp.MustCompile(`\*\*[^*\n]+\*\*|__[^_\n]+__`)
	italicPattern  = regexp.MustCompile(`\*[^*\s][^*\n]*\*|\b_[^_\s][^_\n]*_\b`)
)

// Style measures sentence and paragraph length, bullets, code and emphasis.
func Style(contents []string) StyleMetrics {
	var s StyleMetrics
	var sentences, words, paragraphs int
	for _, c := range contents {
		sentences += nonEmpty(sentenceSplit.Split(c, -1))
		words += len(strings.Fields(c))
		paragraphs += max(nonEmpty(paragraphSplit.Split(c, -1)), 1)
		if bulletPattern.MatchString(c) {
			s.EpisodesWithBullets++
		}
		if codePattern.MatchString(c) {
			s.EpisodesWithCode++
		}
		bold := boldPattern.FindAllStringIndex(c, -1)
		s.EmphasisCount += len(bold) + len(italicPattern.FindAllString(boldPattern.ReplaceAllString(c, " "), -1))
	}
	if sentences > 0 {
		s.AvgSentenceLength = int(math.Round(float64(words) / float64(sentences)))
	}
	if paragraphs > 0 {
		s.AvgParagraphLength = int(math.Round(float64(sentences) / float64(paragraphs)))
	}
	if n := len(contents); n > 0 {
		s.BulletFrequency = float64(s.EpisodesWithBullets) / float64(n)
		s.CodeFrequency = float64(s.EpisodesWithCode) / float64(n)
	}
	return s
}

func nonEmpty(parts []string) int {
	n := 0
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			n++
		}
	}
	return n
}

// Sources returns the rounded percentage of episodes per source.
func Sources(episodes []*types.Episode) map[string]int {
	counts := make(map[string]int)
	for _, ep := range episodes {
		src := ep.Source
		if src == "" {
			src = "unknown"
		}
		counts[src]++
	}
	out := make(map[string]int, len(counts))
	for src, c := range counts {
		out[src] = int(math.Round(float64(c) / float64(len(episodes)) * 100))
	}
	return out
}

// Temporal returns the span covered by episodes and their monthly rate.
func Temporal(episodes []*types.Episode) TemporalMetrics {
	if len(episodes) == 0 {
		return TemporalMetrics{}
	}
	oldest, newest := episodeTime(episodes[0]), episodeTime(episodes[0])
	for _, ep := range episodes[1:] {
		t := episodeTime(ep)
		if t.Before(oldest) {
			oldest = t
		}
		if t.After(newest) {
			newest = t
		}
	}
	span := int(newest.Sub(oldest).Hours()/24) + 1
	return TemporalMetrics{
		OldestEpisode:    oldest,
		NewestEpisode:    newest,
		TimeSpanDays:     span,
		EpisodesPerMonth: int(math.Round(float64(len(episodes)) / float64(span) * 30)),
	}
}

func episodeTime(ep *types.Episode) time.Time {
	if !ep.CreatedAt.IsZero() {
		return ep.CreatedAt
	}
	return ep.ValidAt
}

type receiptKind struct {
	name    string
	pattern *regexp.Regexp
}

// Currency runs before scaled counts so "€3M" is not reported twice.
var receiptKinds = []receiptKind{
	{"percentage", regexp.MustCompile(`\b\d+(?:\.\d+)?\s?%`)},
	{"currency", regexp.MustCompile(`[$€£]\s?\d[\d,]*(?:\.\d+)?(?:\s?(?:[kKmMbB]|thousand|million|billion)\b)?`)},
	{"scaled_count", regexp.MustCompile(`(?i)\b\d+(?:\.\d+)?\s?(?:k|m|b|thousand|million|billion)\b(?:\s+[a-z]+)?`)},
	{"multiplier", regexp.MustCompile(`(?i)\b\d+(?:\.\d+)?x\b`)},
	{"duration", regexp.MustCompile(`(?i)\b\d+(?:\.\d+)?\s?(?:seconds?|minutes?|hours?|days?|weeks?|months?|years?)\b`)},
}

// Receipts extracts quoted figures, deduplicated by kind and value, capped at 20.
func Receipts(episodes []*types.Episode) []Receipt {
	var out []Receipt
	seen := make(map[string]struct{})
	for _, ep := range episodes {
		type span struct{ start, end int }
		var taken []span
		overlaps := func(s, e int) bool {
			for _, t := range taken {
				if s < t.end && e > t.start {
					return true
				}
			}
			return false
		}
		for _, kind := range receiptKinds {
			for _, loc := range kind.pattern.FindAllStringIndex(ep.Content, -1) {
				if overlaps(loc[0], loc[1]) {
					continue
				}
				taken = append(taken, span{loc[0], loc[1]})
				value := strings.TrimSpace(ep.Content[loc[0]:loc[1]])
				key := kind.name + "\x00" + strings.ToLower(value)
				if _, dup := seen[key]; dup {
					continue
				}
				seen[key] = struct{}{}
				out = append(out, Receipt{
					Kind:        kind.name,
					Value:       value,
					Context:     receiptContext(ep.Content, loc[0], loc[1]),
					EpisodeUUID: ep.UUID,
				})
				if len(out) == maxReceipts {
					return out
				}
			}
		}
	}
	return out
}

func receiptContext(content string, start, end int) string {
	from := max(0, start-receiptSpan)
	to := min(len(content), end+receiptSpan)
	for from > 0 && !isRuneStart(content[from]) {
		from--
	}
	for to < len(content) && !isRuneStart(content[to]) {
		to++
	}
	return strings.Join(strings.Fields(content[from:to]), " ")
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }

// sortedSources returns source names by descending share.
func sortedSources(sources map[string]int) []string {
	names := make([]string, 0, len(sources))
	for s := range sources {
		names = append(names, s)
	}
	sort.Slice(names, func(i, j int) bool {
		if sources[names[i]] != sources[names[j]] {
			return sources[names[i]] > sources[names[j]]
		}
		return names[i] < names[j]
	})
	return names
}
