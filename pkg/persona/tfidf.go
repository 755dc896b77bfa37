package persona

import (
	"math"
	"regexp"
	"sort"
	"strings"
)

var tokenPattern = regexp.MustCompile(`\b[a-z][a-z0-9_-]{2,}\b`)

// maxFeatures caps the vocabulary to the most frequent terms of the corpus.
const maxFeatures = 1000

// stopWords is the English stop list applied before n-grams are built.
var stopWords = toSet(strings.Fields(`
a about above across after afterwards again against all almost alone along already also although
always am among amongst amount an and another any anyhow anyone anything anyway anywhere are
around as at back be became because become becomes becoming been before beforehand behind being
below beside besides between beyond both bottom but by call can cannot could did do does doing done
down due during each eg eight either eleven else elsewhere empty enough etc even ever every
everyone everything everywhere except few fifteen fifty fill find fire first five for former
formerly forty found four from front full further get give go had has hasnt have he hence her
here hereafter hereby herein hereupon hers herself him himself his how however hundred i ie if in
inc indeed interest into is it its itself just keep last latter latterly least less ltd made many
may me meanwhile might mill mine more moreover most mostly move much must my myself name namely
neither never nevertheless next nine no nobody none noone nor not nothing now nowhere of off often
on once one only onto or other others otherwise our ours ourselves out over own part per perhaps
please put rather re same see seem seemed seeming seems serious several she should show side since
sincere six sixty so some somehow someone something sometime sometimes somewhere still such system
take ten than that the their them themselves then thence there thereafter thereby therefore
therein thereupon these they thick thin third this those though three through throughout thru thus
to together too top toward towards twelve twenty two un under until up upon us very via was we well
were what whatever when whence whenever where whereafter whereas whereby wherein whereupon wherever
whether which while whither who whoever whole whom whose why will with within without would yet you
your yours yourself yourselves
`))

func toSet(words []string) map[string]struct{} {
	out := make(map[string]struct{}, len(words))
	for _, w := range words {
		out[w] = struct{}{}
	}
	return out
}

// terms tokenizes text into unigrams and bigrams with stop words removed.
func terms(text string) []string {
	var words []string
	for _, w := range tokenPattern.FindAllString(strings.ToLower(text), -1) {
		if _, stop := stopWords[w]; !stop {
			words = append(words, w)
		}
	}
	out := make([]string, 0, 2*len(words))
	out = append(out, words...)
	for i := 1; i < len(words); i++ {
		out = append(out, words[i-1]+" "+words[i])
	}
	return out
}

// countMatrix holds per-document term counts over a pruned vocabulary.
type countMatrix struct {
	vocab  []string
	counts []map[string]int
	df     map[string]int
}

// vectorize counts terms per document and prunes the vocabulary. Terms in
// fewer than minDF documents or in more than maxDF of them are dropped, then
// the maxFeatures most frequent terms are kept.
func vectorize(docs []string, minDF int, maxDF float64) *countMatrix {
	m := &countMatrix{counts: make([]map[string]int, len(docs)), df: make(map[string]int)}
	total := make(map[string]int)
	for i, d := range docs {
		c := make(map[string]int)
		for _, t := range terms(d) {
			c[t]++
		}
		for t, n := range c {
			m.df[t]++
			total[t] += n
		}
		m.counts[i] = c
	}

	maxDocs := maxDF * float64(len(docs))
	var vocab []string
	for t, df := range m.df {
		if df < minDF || float64(df) > maxDocs {
			continue
		}
		vocab = append(vocab, t)
	}
	sort.Slice(vocab, func(i, j int) bool {
		if total[vocab[i]] != total[vocab[j]] {
			return total[vocab[i]] > total[vocab[j]]
		}
		return vocab[i] < vocab[j]
	})
	if len(vocab) > maxFeatures {
		vocab = vocab[:maxFeatures]
	}
	sort.Strings(vocab)
	m.vocab = vocab
	return m
}

// tfidf returns l2-normalized rows with smooth idf ln((1+n)/(1+df))+1.
func (m *countMatrix) tfidf() []map[string]float64 {
	n := float64(len(m.counts))
	idf := make(map[string]float64, len(m.vocab))
	for _, t := range m.vocab {
		idf[t] = math.Log((1+n)/(1+float64(m.df[t]))) + 1
	}

	rows := make([]map[string]float64, len(m.counts))
	for i, c := range m.counts {
		row := make(map[string]float64)
		var norm float64
		for _, t := range m.vocab {
			if tf := c[t]; tf > 0 {
				w := float64(tf) * idf[t]
				row[t] = w
				norm += w * w
			}
		}
		if norm > 0 {
			norm = math.Sqrt(norm)
			for t := range row {
				row[t] /= norm
			}
		}
		rows[i] = row
	}
	return rows
}

// total returns the raw corpus count of term.
func (m *countMatrix) total(term string) int {
	n := 0
	for _, c := range m.counts {
		n += c[term]
	}
	return n
}

type weightedTerm struct {
	term  string
	score float64
}

func topTerms(scores map[string]float64, n int) []weightedTerm {
	out := make([]weightedTerm, 0, len(scores))
	for t, s := range scores {
		if s > 0 {
			out = append(out, weightedTerm{term: t, score: s})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		return out[i].term < out[j].term
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}
