package recall_test

import (
	"context"
	"encoding/json"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/soundprediction/recall"
	"github.com/soundprediction/recall/pkg/driver"
	"github.com/soundprediction/recall/pkg/embedder"
	"github.com/soundprediction/recall/pkg/ingest"
	"github.com/soundprediction/recall/pkg/types"
)

var factPatterns = []struct {
	re        *regexp.Regexp
	predicate string
	objType   types.EntityType
}{
	{regexp.MustCompile(`([A-Z]\w+) works at ([A-Z]\w+)`), "works_at", types.OrganizationEntity},
	{regexp.MustCompile(`([A-Z]\w+) lives in ([A-Z]\w+)`), "lives_in", types.PlaceEntity},
	{regexp.MustCompile(`([A-Z]\w+) uses ([A-Z]\w+)`), "uses", types.TechnologyEntity},
}

// scriptedLLM answers extraction prompts by pattern matching the content and
// every other prompt with a fixed summary object.
type scriptedLLM struct {
	mu      sync.Mutex
	prompts []string
}

func (s *scriptedLLM) Complete(ctx context.Context, prompt string) (string, error) {
	s.mu.Lock()
	s.prompts = append(s.prompts, prompt)
	s.mu.Unlock()

	content, ok := section(prompt, "CONTENT")
	if !ok {
		return `{"overview": "Talks about work", "themes": ["work"], "summary": "Alice discussed her job", "confidence": 0.9}`, nil
	}

	type triple struct {
		Subject     string `json:"subject"`
		SubjectType string `json:"subject_type"`
		Predicate   string `json:"predicate"`
		Object      string `json:"object"`
		ObjectType  string `json:"object_type"`
		Fact        string `json:"fact"`
	}
	out := struct {
		Triples []triple `json:"triples"`
	}{Triples: []triple{}}
	for _, p := range factPatterns {
		for _, m := range p.re.FindAllStringSubmatch(content, -1) {
			out.Triples = append(out.Triples, triple{
				Subject:     m[1],
				SubjectType: string(types.PersonEntity),
				Predicate:   p.predicate,
				Object:      m[2],
				ObjectType:  string(p.objType),
				Fact:        m[0],
			})
		}
	}
	b, err := json.Marshal(out)
	return string(b), err
}

func (s *scriptedLLM) extractions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, p := range s.prompts {
		if strings.Contains(p, "<CONTENT>") {
			n++
		}
	}
	return n
}

func section(prompt, tag string) (string, bool) {
	open, closing := "<"+tag+">", "</"+tag+">"
	start := strings.Index(prompt, open)
	end := strings.Index(prompt, closing)
	if start < 0 || end < start {
		return "", false
	}
	return prompt[start+len(open) : end], true
}

type harness struct {
	client *recall.Client
	store  driver.GraphStore
	llm    *scriptedLLM
	emb    embedder.Client
}

func newHarness(t *testing.T, store driver.GraphStore) *harness {
	t.Helper()
	h, closeFn, err := openHarness(t.TempDir(), store)
	require.NoError(t, err)
	t.Cleanup(closeFn)
	return h
}

// openHarness builds a client over store, or a fresh MemoryStore, with its
// queue under dir.
func openHarness(dir string, store driver.GraphStore) (*harness, func(), error) {
	if store == nil {
		store = driver.NewMemoryStore(driver.Options{}, nil)
	}
	queue, err := ingest.OpenSQLiteQueue(filepath.Join(dir, "queue.db"))
	if err != nil {
		return nil, nil, err
	}

	h := &harness{store: store, llm: &scriptedLLM{}, emb: embedder.NewHashingEmbedder(256)}
	h.client, err = recall.NewClient(store, h.llm, h.emb, &recall.Config{Queue: queue}, nil)
	if err != nil {
		queue.Close()
		return nil, nil, err
	}
	return h, func() {
		h.client.Close(context.Background())
		queue.Close()
	}, nil
}

// ingest queues in and drains the queue synchronously.
func (h *harness) ingest(ctx context.Context, tenant types.Tenant, in ingest.Input) (*ingest.Item, error) {
	item, err := h.client.Ingest(ctx, tenant, in, "")
	if err != nil {
		return nil, err
	}
	if _, err := h.client.Orchestrator().RunOnce(ctx); err != nil {
		return nil, err
	}
	return h.client.GetIngestItem(ctx, tenant, item.ID)
}

// statements lists every statement of tenant, invalidated ones included.
func (h *harness) statements(ctx context.Context, tenant types.Tenant) ([]*types.Triple, error) {
	vec, err := h.emb.EmbedSingle(ctx, "statements")
	if err != nil {
		return nil, err
	}
	scored, err := h.store.ScoreStatements(ctx, tenant, vec, driver.StatementFilter{IncludeInvalidated: true})
	if err != nil {
		return nil, err
	}
	out := make([]*types.Triple, len(scored))
	for i, s := range scored {
		out[i] = s.Triple
	}
	return out, nil
}
