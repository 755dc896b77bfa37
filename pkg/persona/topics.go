package persona

import (
	"math"
	"sort"
	"strings"

	"github.com/soundprediction/recall/pkg/types"
	"github.com/soundprediction/recall/pkg/utils"
)

const (
	DefaultTopicThreshold = 0.75
	DefaultMinTopicSize   = 10
	topicKeywords         = 10
	topicMaxDF            = 0.95
)

// TopicOptions tunes episode clustering.
type TopicOptions struct {
	// Threshold is the cosine similarity needed to join a cluster.
	Threshold float64
	// MinTopicSize is lowered automatically for small corpora.
	MinTopicSize int
}

func (o TopicOptions) withDefaults() TopicOptions {
	if o.Threshold <= 0 {
		o.Threshold = DefaultTopicThreshold
	}
	if o.MinTopicSize <= 0 {
		o.MinTopicSize = DefaultMinTopicSize
	}
	return o
}

// effectiveMinSize keeps small corpora from producing no topics at all.
func (o TopicOptions) effectiveMinSize(n int) int {
	return min(o.MinTopicSize, max(2, n/10))
}

// Topic is a cluster of similar episodes.
type Topic struct {
	ID         int      `json:"id"`
	Keywords   []string `json:"keywords"`
	EpisodeIDs []string `json:"episodeIds"`
}

type cluster struct {
	centroid []float32
	members  []int
}

// Topics clusters episodes by content embedding with leader clustering and
// labels each cluster with class-based TF-IDF keywords. Episodes without an
// embedding are skipped; clusters below the minimum size are outliers.
func Topics(episodes []*types.Episode, opts TopicOptions) []Topic {
	opts = opts.withDefaults()

	var idx []int
	for i, ep := range episodes {
		if len(ep.ContentEmbedding) > 0 && strings.TrimSpace(ep.Content) != "" {
			idx = append(idx, i)
		}
	}
	if len(idx) == 0 {
		return nil
	}

	var clusters []*cluster
	for _, i := range idx {
		vec := episodes[i].ContentEmbedding
		best, bestSim := -1, opts.Threshold
		for c, cl := range clusters {
			if sim := utils.CosineSimilarity(vec, cl.centroid); sim >= bestSim {
				best, bestSim = c, sim
			}
		}
		if best < 0 {
			clusters = append(clusters, &cluster{centroid: append([]float32(nil), vec...), members: []int{i}})
			continue
		}
		cl := clusters[best]
		cl.members = append(cl.members, i)
		vectors := make([][]float32, len(cl.members))
		for k, m := range cl.members {
			vectors[k] = episodes[m].ContentEmbedding
		}
		cl.centroid = utils.Centroid(vectors)
	}

	minSize := opts.effectiveMinSize(len(idx))
	var kept []*cluster
	for _, cl := range clusters {
		if len(cl.members) >= minSize {
			kept = append(kept, cl)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool { return len(kept[i].members) > len(kept[j].members) })
	if len(kept) == 0 {
		return nil
	}

	classDocs := make([]string, len(kept))
	for c, cl := range kept {
		parts := make([]string, len(cl.members))
		for k, m := range cl.members {
			parts[k] = episodes[m].Content
		}
		classDocs[c] = strings.Join(parts, "\n\n")
	}
	keywords := classKeywords(episodes, idx, classDocs)

	topics := make([]Topic, len(kept))
	for c, cl := range kept {
		ids := make([]string, len(cl.members))
		for k, m := range cl.members {
			ids[k] = episodes[m].UUID
		}
		topics[c] = Topic{ID: c, Keywords: keywords[c], EpisodeIDs: ids}
	}
	return topics
}

// classKeywords scores terms per cluster with c-TF-IDF: term frequency
// within the cluster, normalized by cluster length, times
// ln(1 + avgClassWords / termFrequencyAcrossClasses).
func classKeywords(episodes []*types.Episode, idx []int, classDocs []string) [][]string {
	docs := make([]string, len(idx))
	for k, i := range idx {
		docs[k] = episodes[i].Content
	}
	minDF := 2
	if len(docs) < 5 {
		minDF = 1
	}
	vocab := make(map[string]struct{})
	for _, t := range vectorize(docs, minDF, topicMaxDF).vocab {
		vocab[t] = struct{}{}
	}

	counts := make([]map[string]int, len(classDocs))
	across := make(map[string]int)
	var totalWords int
	for c, d := range classDocs {
		counts[c] = make(map[string]int)
		for _, t := range terms(d) {
			if _, ok := vocab[t]; !ok {
				continue
			}
			counts[c][t]++
			across[t]++
			totalWords++
		}
	}
	avg := float64(totalWords) / float64(len(classDocs))

	out := make([][]string, len(classDocs))
	for c, cnt := range counts {
		var classTotal int
		for _, n := range cnt {
			classTotal += n
		}
		scores := make(map[string]float64, len(cnt))
		for t, n := range cnt {
			tf := float64(n) / float64(max(classTotal, 1))
			scores[t] = tf * math.Log(1+avg/float64(across[t]))
		}
		top := topTerms(scores, topicKeywords)
		words := make([]string, len(top))
		for i, wt := range top {
			words[i] = wt.term
		}
		out[c] = words
	}
	return out
}
