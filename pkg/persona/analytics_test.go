package persona

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundprediction/recall/pkg/types"
)

func episode(id, content string, at time.Time) *types.Episode {
	return &types.Episode{UUID: id, Content: content, Source: "notes", CreatedAt: at, ValidAt: at}
}

func TestLexicon(t *testing.T) {
	contents := []string{
		"Kubernetes cluster upgrade went fine. The cluster is healthy.",
		"Kubernetes cluster networking needs a new ingress.",
		"Kubernetes storage classes for the database.",
		"Kubernetes database backups finished.",
		"Kubernetes ingress certificates renewed.",
	}
	lex := Lexicon(contents, 50)
	require.NotEmpty(t, lex)

	byTerm := map[string]LexiconTerm{}
	for _, term := range lex {
		byTerm[term.Term] = term
		assert.NotEqual(t, "the", term.Term)
		assert.Greater(t, term.Score, 0.0)
	}
	// Present in every episode, so it carries no signal.
	assert.NotContains(t, byTerm, "kubernetes")
	require.Contains(t, byTerm, "cluster")
	assert.Equal(t, 3, byTerm["cluster"].Count)
	assert.Contains(t, byTerm, "kubernetes cluster")
	assert.Contains(t, byTerm, "database")
	assert.NotContains(t, byTerm, "upgrade")

	assert.Len(t, Lexicon(contents, 3), 3)
}

func TestLexiconDropsUbiquitousTerms(t *testing.T) {
	tests := []struct {
		name string
		docs int
	}{
		{"three documents", 3},
		{"five documents", 5},
		{"ten documents", 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			contents := make([]string, tt.docs)
			for i := range contents {
				contents[i] = "weekly status report"
			}
			contents[0] += " migration"
			contents[1] += " migration"

			var terms []string
			for _, term := range Lexicon(contents, 50) {
				terms = append(terms, term.Term)
			}
			assert.Contains(t, terms, "migration")
			assert.NotContains(t, terms, "weekly")
		})
	}
}

func TestLexiconSingleDocument(t *testing.T) {
	lex := Lexicon([]string{"Kubernetes cluster upgrade"}, 50)
	var terms []string
	for _, term := range lex {
		terms = append(terms, term.Term)
	}
	assert.Contains(t, terms, "kubernetes")
	assert.Contains(t, terms, "kubernetes cluster")
}

func TestLexiconEmpty(t *testing.T) {
	assert.Nil(t, Lexicon(nil, 10))
}

func TestStyle(t *testing.T) {
	tests := []struct {
		name    string
		content string
		check   func(t *testing.T, s StyleMetrics)
	}{
		{
			name:    "sentences and paragraphs",
			content: "One two three. Four five six.\n\nSeven eight nine.",
			check: func(t *testing.T, s StyleMetrics) {
				assert.Equal(t, 3, s.AvgSentenceLength)
				assert.Equal(t, 2, s.AvgParagraphLength)
				assert.Zero(t, s.EpisodesWithBullets)
				assert.Zero(t, s.EpisodesWithCode)
			},
		},
		{
			name:    "bullets",
			content: "Plan:\n- alpha\n- beta",
			check: func(t *testing.T, s StyleMetrics) {
				assert.Equal(t, 1, s.EpisodesWithBullets)
				assert.Equal(t, 1.0, s.BulletFrequency)
			},
		},
		{
			name:    "code fence",
			content: "Run this:\n```\ngo test\n```",
			check: func(t *testing.T, s StyleMetrics) {
				assert.Equal(t, 1, s.EpisodesWithCode)
				assert.Equal(t, 1.0, s.CodeFrequency)
			},
		},
		{
			name:    "indented code",
			content: "Example:\n    x := 1",
			check: func(t *testing.T, s StyleMetrics) {
				assert.Equal(t, 1, s.EpisodesWithCode)
			},
		},
		{
			name:    "emphasis",
			content: "This is **bold** and *italic*.",
			check: func(t *testing.T, s StyleMetrics) {
				assert.Equal(t, 2, s.EmphasisCount)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, Style([]string{tt.content}))
		})
	}
}

func TestSourcesAndTemporal(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	eps := []*types.Episode{
		{UUID: "a", Source: "slack", CreatedAt: t0},
		{UUID: "b", Source: "slack", CreatedAt: t0.Add(29 * 24 * time.Hour)},
		{UUID: "c", CreatedAt: t0.Add(10 * 24 * time.Hour)},
	}

	assert.Equal(t, map[string]int{"slack": 67, "unknown": 33}, Sources(eps))

	tm := Temporal(eps)
	assert.Equal(t, t0, tm.OldestEpisode)
	assert.Equal(t, t0.Add(29*24*time.Hour), tm.NewestEpisode)
	assert.Equal(t, 30, tm.TimeSpanDays)
	assert.Equal(t, 3, tm.EpisodesPerMonth)
}

func TestReceipts(t *testing.T) {
	eps := []*types.Episode{
		{UUID: "e1", Content: "Revenue grew 42% to $1,200 in 6 weeks, reaching 3.5k users and a 10x speedup."},
		{UUID: "e2", Content: "Churn stayed at 42% and we raised €3M."},
	}
	receipts := Receipts(eps)

	got := map[string][]string{}
	for _, r := range receipts {
		got[r.Kind] = append(got[r.Kind], r.Value)
		assert.Contains(t, r.Context, r.Value)
	}
	assert.Equal(t, []string{"42%"}, got["percentage"])
	assert.Equal(t, []string{"$1,200", "€3M"}, got["currency"])
	assert.Equal(t, []string{"3.5k users"}, got["scaled_count"])
	assert.Equal(t, []string{"10x"}, got["multiplier"])
	assert.Equal(t, []string{"6 weeks"}, got["duration"])
	assert.Equal(t, "e1", receipts[0].EpisodeUUID)
}

func TestReceiptsCapped(t *testing.T) {
	var eps []*types.Episode
	for i := 0; i < 30; i++ {
		eps = append(eps, &types.Episode{UUID: "e", Content: fmt.Sprintf("conversion grew %d%% this quarter", i+1)})
	}
	assert.Len(t, Receipts(eps), maxReceipts)
}

func TestTopics(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	mk := func(id, content string, vec []float32) *types.Episode {
		ep := episode(id, content, t0)
		ep.ContentEmbedding = vec
		return ep
	}
	eps := []*types.Episode{
		mk("g1", "golang channels and goroutines", []float32{1, 0, 0}),
		mk("b1", "sourdough bread starter", []float32{0, 1, 0}),
		mk("g2", "golang channels for pipelines", []float32{0.95, 0.1, 0}),
		mk("b2", "sourdough bread hydration", []float32{0.1, 0.95, 0}),
		mk("g3", "golang goroutines leak", []float32{0.9, 0.05, 0.1}),
		mk("b3", "sourdough starter feeding", []float32{0, 0.9, 0.1}),
		mk("x", "unrelated trip to the mountains", []float32{0, 0, 1}),
		mk("none", "no embedding", nil),
	}

	topics := Topics(eps, TopicOptions{})
	require.Len(t, topics, 2)

	assert.Equal(t, []string{"g1", "g2", "g3"}, topics[0].EpisodeIDs)
	assert.Equal(t, []string{"b1", "b2", "b3"}, topics[1].EpisodeIDs)
	assert.Contains(t, topics[0].Keywords, "golang")
	assert.NotContains(t, topics[0].Keywords, "sourdough")
	assert.Contains(t, topics[1].Keywords, "sourdough")
	assert.LessOrEqual(t, len(topics[0].Keywords), topicKeywords)
}

func TestTopicsWithoutEmbeddings(t *testing.T) {
	assert.Nil(t, Topics([]*types.Episode{episode("a", "text", time.Now())}, TopicOptions{}))
}

func TestAnalyze(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	eps := []*types.Episode{
		episode("a", "Shipped the release 2x faster.", t0),
		episode("b", "The release notes are done.", t0.Add(24*time.Hour)),
	}
	a, err := Analyze(context.Background(), eps, TopicOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, a.TotalEpisodes)
	assert.NotEmpty(t, a.Lexicon)
	assert.Equal(t, map[string]int{"notes": 100}, a.Sources)
	assert.Equal(t, 2, a.Temporal.TimeSpanDays)
	require.Len(t, a.Receipts, 1)
	assert.Equal(t, "multiplier", a.Receipts[0].Kind)

	empty, err := Analyze(context.Background(), nil, TopicOptions{})
	require.NoError(t, err)
	assert.Zero(t, empty.TotalEpisodes)
}

func TestParseSummary(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		overview string
		themes   []string
		wantErr  bool
	}{
		{
			name:     "plain",
			raw:      `{"overview": "Writes about Go", "themes": ["concurrency"], "keyFacts": ["42% faster"], "style": "terse"}`,
			overview: "Writes about Go",
			themes:   []string{"concurrency"},
		},
		{
			name:     "fenced with prose",
			raw:      "Here you go:\n```json\n{\"overview\": \"Bakes bread\"}\n```",
			overview: "Bakes bread",
		},
		{
			name:     "truncated",
			raw:      `{"overview": "Writes about Go", "themes": ["concurrency"`,
			overview: "Writes about Go",
			themes:   []string{"concurrency"},
		},
		{name: "no object", raw: "I cannot help with that", wantErr: true},
		{name: "empty overview", raw: `{"overview": "  "}`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := ParseSummary(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, types.ErrExtraction))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.overview, s.Overview)
			assert.Equal(t, tt.themes, s.Themes)
		})
	}
}
