package search

import (
	"sort"
	"time"
)

// recency decays with age: 1 today, 0.5 after thirty days.
func recency(now, validAt time.Time) float64 {
	age := now.Sub(validAt).Hours() / 24
	if age < 0 {
		age = 0
	}
	return 1 / (1 + age/recencyHalfLifeDays)
}

func (e *Engine) score(c *candidate, now time.Time) float64 {
	return e.cfg.SimilarityWeight*c.similarity + e.cfg.RecencyWeight*recency(now, c.triple.Statement.ValidAt)
}

// rank splits candidates into active and invalidated facts, orders each by
// score and truncates to the limit.
func (e *Engine) rank(candidates map[string]*candidate, r resolved) *Result {
	now := e.now()
	res := Empty()
	for _, c := range candidates {
		f := Fact{Triple: c.triple, Similarity: c.similarity, Depth: c.depth, Score: e.score(c, now)}
		switch {
		case c.triple.Statement.Active():
			res.Facts = append(res.Facts, f)
		case r.IncludeInvalidated:
			res.InvalidatedFacts = append(res.InvalidatedFacts, f)
		}
	}
	res.Facts = truncate(sortFacts(res.Facts), r.Limit)
	res.InvalidatedFacts = truncate(sortFacts(res.InvalidatedFacts), r.Limit)
	return res
}

func sortFacts(fs []Fact) []Fact {
	sort.SliceStable(fs, func(i, j int) bool {
		if fs[i].Score != fs[j].Score {
			return fs[i].Score > fs[j].Score
		}
		return fs[i].Triple.Statement.UUID < fs[j].Triple.Statement.UUID
	})
	return fs
}

func truncate(fs []Fact, limit int) []Fact {
	if len(fs) > limit {
		return fs[:limit]
	}
	return fs
}
