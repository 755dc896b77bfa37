package ingest

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/soundprediction/recall/pkg/alert"
	"github.com/soundprediction/recall/pkg/checkpoint"
	"github.com/soundprediction/recall/pkg/chunker"
	"github.com/soundprediction/recall/pkg/config"
	"github.com/soundprediction/recall/pkg/differ"
	"github.com/soundprediction/recall/pkg/driver"
	"github.com/soundprediction/recall/pkg/embedder"
	"github.com/soundprediction/recall/pkg/extract"
	"github.com/soundprediction/recall/pkg/quota"
	"github.com/soundprediction/recall/pkg/types"
	"github.com/soundprediction/recall/pkg/utils"
	"github.com/soundprediction/recall/pkg/version"
)

const (
	DefaultWorkers      = 4
	DefaultPollInterval = 500 * time.Millisecond
	DefaultAlertAfter   = 3
	DefaultBatchSize    = 100

	partitionBuffer    = 64
	extractConcurrency = 4
	checkpointMaxAge   = 7 * 24 * time.Hour
	// admissionCredits is the minimum balance needed to queue or start an item.
	admissionCredits = 1
)

// Extractor turns chunk text into triples.
type Extractor interface {
	Extract(ctx context.Context, req extract.Request) ([]extract.ExtractedTriple, error)
}

// Options tunes the orchestrator. Zero values take the defaults above.
type Options struct {
	Workers          int
	PollInterval     time.Duration
	AlertAfter       int
	BatchSize        int
	MaxChunkChars    int
	DiffContextChars int
}

// OptionsFrom maps the ingest config section onto Options.
func OptionsFrom(cfg config.IngestConfig) Options {
	return Options{
		Workers:          cfg.Workers,
		PollInterval:     time.Duration(cfg.PollIntervalMs) * time.Millisecond,
		AlertAfter:       cfg.AlertAfter,
		MaxChunkChars:    cfg.MaxChunkChars,
		DiffContextChars: cfg.DiffContextChars,
	}
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = DefaultWorkers
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.AlertAfter <= 0 {
		o.AlertAfter = DefaultAlertAfter
	}
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	return o
}

// Deps are the collaborators of an Orchestrator. Queue, Store, Extractor and
// Embedder are required.
type Deps struct {
	Queue       Queue
	Store       driver.GraphStore
	Extractor   Extractor
	Embedder    embedder.Client
	Quota       quota.Gate
	Checkpoints *checkpoint.Manager
	Broker      *Broker
	Alerter     alert.Alerter
	Logger      *slog.Logger
}

// Orchestrator admits items into the queue and runs them through the pipeline.
type Orchestrator struct {
	queue       Queue
	store       driver.GraphStore
	extractor   Extractor
	embedder    embedder.Client
	quota       quota.Gate
	checkpoints *checkpoint.Manager
	broker      *Broker
	alerter     alert.Alerter
	logger      *slog.Logger

	chunker  *chunker.Chunker
	differ   *differ.Differ
	resolver *version.Resolver
	opts     Options
	now      func() time.Time

	mu       sync.Mutex
	inflight map[string]struct{}
	wake     chan struct{}
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	graphFailures atomic.Int32
}

// New creates an Orchestrator. Call Start to run background workers, or
// RunOnce to drain the queue synchronously.
func New(deps Deps, opts Options) (*Orchestrator, error) {
	switch {
	case deps.Queue == nil:
		return nil, fmt.Errorf("queue is required")
	case deps.Store == nil:
		return nil, fmt.Errorf("graph store is required")
	case deps.Extractor == nil:
		return nil, fmt.Errorf("extractor is required")
	case deps.Embedder == nil:
		return nil, fmt.Errorf("embedder is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Quota == nil {
		deps.Quota = quota.Unlimited{}
	}
	if deps.Broker == nil {
		deps.Broker = NewBroker(logger)
	}
	if deps.Alerter == nil {
		deps.Alerter = &alert.NoOpAlerter{}
	}
	opts = opts.withDefaults()

	return &Orchestrator{
		queue:       deps.Queue,
		store:       deps.Store,
		extractor:   deps.Extractor,
		embedder:    deps.Embedder,
		quota:       deps.Quota,
		checkpoints: deps.Checkpoints,
		broker:      deps.Broker,
		alerter:     deps.Alerter,
		logger:      logger,
		chunker:     chunker.New(chunker.Options{MaxChunkChars: opts.MaxChunkChars}),
		differ:      differ.New(differ.Options{ContextChars: opts.DiffContextChars}),
		resolver:    version.NewResolver(deps.Store, logger),
		opts:        opts,
		now:         func() time.Time { return time.Now().UTC() },
		inflight:    make(map[string]struct{}),
		wake:        make(chan struct{}, 1),
	}, nil
}

// Broker returns the broker status events are published on.
func (o *Orchestrator) Broker() *Broker {
	return o.broker
}

// Enqueue validates in, checks the tenant's credits and queues the item.
// An empty id gets a generated one; an existing id is re-queued in place.
func (o *Orchestrator) Enqueue(ctx context.Context, tenant types.Tenant, in Input, id string) (*Item, error) {
	if err := tenant.Validate(); err != nil {
		return nil, types.NewValidationError("tenant", err.Error())
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}
	if err := o.quota.Check(ctx, tenant, admissionCredits); err != nil {
		return nil, err
	}

	if id == "" {
		id = uuid.NewString()
	} else if existing, err := o.queue.Get(ctx, id); err == nil && !tenant.Owns(existing.UserID, existing.WorkspaceID) {
		return nil, types.NewValidationError("id", "already in use")
	}
	if in.SessionID == "" {
		in.SessionID = uuid.NewString()
	}
	if in.ReferenceTime.IsZero() {
		in.ReferenceTime = o.now()
	}

	item := &Item{
		ID:          id,
		Data:        in,
		Labels:      in.LabelIDs,
		Title:       in.Title,
		SessionID:   in.SessionID,
		Priority:    in.Priority,
		UserID:      tenant.UserID,
		WorkspaceID: tenant.WorkspaceID,
	}
	if err := o.queue.Enqueue(ctx, item); err != nil {
		return nil, err
	}
	o.logger.Debug("queued item", "queue_item_id", item.ID, "session_id", item.SessionID, "type", in.Type)
	o.broker.Publish(Event{QueueItemID: item.ID, Status: StatusPending})
	o.notify()
	return item, nil
}

// Get returns the item if it belongs to tenant.
func (o *Orchestrator) Get(ctx context.Context, tenant types.Tenant, id string) (*Item, error) {
	it, err := o.queue.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !tenant.Owns(it.UserID, it.WorkspaceID) {
		return nil, ErrItemNotFound
	}
	return it, nil
}

// Requeue moves a FAILED item of tenant back to PENDING under the same id.
func (o *Orchestrator) Requeue(ctx context.Context, tenant types.Tenant, id string) (*Item, error) {
	if _, err := o.Get(ctx, tenant, id); err != nil {
		return nil, err
	}
	it, err := o.queue.Requeue(ctx, id)
	if err != nil {
		return nil, err
	}
	o.broker.Publish(Event{QueueItemID: it.ID, Status: StatusPending})
	o.notify()
	return it, nil
}

// Start resets interrupted items and launches the dispatcher and one worker
// per partition. It returns immediately.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.cancel != nil {
		o.mu.Unlock()
		return fmt.Errorf("orchestrator already started")
	}
	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.mu.Unlock()

	n, err := o.queue.ResetProcessing(ctx)
	if err != nil {
		cancel()
		return err
	}
	if n > 0 {
		o.logger.Info("reset interrupted queue items", "count", n)
	}
	if o.checkpoints != nil {
		// Checkpoints of items that were never retried are dead weight.
		if removed, err := o.checkpoints.CleanOld(ctx, checkpointMaxAge); err != nil {
			o.logger.Warn("failed to prune checkpoints", "error", err)
		} else if removed > 0 {
			o.logger.Info("pruned stale checkpoints", "count", removed)
		}
	}

	partitions := make([]chan *Item, o.opts.Workers)
	for i := range partitions {
		partitions[i] = make(chan *Item, partitionBuffer)
		o.wg.Add(1)
		go o.worker(runCtx, i, partitions[i])
	}
	o.wg.Add(1)
	go o.dispatch(runCtx, partitions)

	o.logger.Info("ingestion started", "workers", o.opts.Workers, "poll_interval", o.opts.PollInterval)
	return nil
}

// Stop cancels the workers and waits for them. Items cut off mid-run stay
// PROCESSING and are reset by the next Start.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	cancel := o.cancel
	o.cancel = nil
	o.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	o.wg.Wait()
	o.logger.Info("ingestion stopped")
}

// RunOnce processes pending items in the calling goroutine until none are
// left, and returns how many it ran.
func (o *Orchestrator) RunOnce(ctx context.Context) (int, error) {
	processed := 0
	for {
		items, err := o.queue.Pending(ctx, o.opts.BatchSize)
		if err != nil {
			return processed, err
		}
		ran := 0
		for _, it := range orderBatch(items) {
			if !o.claim(it.ID) {
				continue
			}
			o.process(ctx, it)
			o.release(it.ID)
			ran++
		}
		processed += ran
		if ran == 0 || ctx.Err() != nil {
			return processed, ctx.Err()
		}
	}
}

func (o *Orchestrator) notify() {
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

func (o *Orchestrator) dispatch(ctx context.Context, partitions []chan *Item) {
	defer o.wg.Done()
	ticker := time.NewTicker(o.opts.PollInterval)
	defer ticker.Stop()

	for {
		o.dispatchOnce(ctx, partitions)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-o.wake:
		}
	}
}

func (o *Orchestrator) dispatchOnce(ctx context.Context, partitions []chan *Item) {
	items, err := o.queue.Pending(ctx, o.opts.BatchSize)
	if err != nil {
		if ctx.Err() == nil {
			o.logger.Error("failed to poll queue", "error", err)
		}
		return
	}
	for _, it := range orderBatch(items) {
		if !o.claim(it.ID) {
			continue
		}
		select {
		case partitions[partitionOf(it, len(partitions))] <- it:
		case <-ctx.Done():
			o.release(it.ID)
			return
		}
	}
}

func (o *Orchestrator) worker(ctx context.Context, id int, items <-chan *Item) {
	defer o.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case it := <-items:
			o.process(ctx, it)
			o.release(it.ID)
		}
	}
}

func (o *Orchestrator) claim(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.inflight[id]; busy {
		return false
	}
	o.inflight[id] = struct{}{}
	return true
}

func (o *Orchestrator) release(id string) {
	o.mu.Lock()
	delete(o.inflight, id)
	o.mu.Unlock()
}

// partitionOf maps an item to a worker by workspace and session.
func partitionOf(it *Item, n int) int {
	h := fnv.New32a()
	h.Write([]byte(it.PartitionKey()))
	return int(h.Sum32() % uint32(n))
}

// orderBatch keeps the priority order across sessions but never lets a later
// item of a session overtake an earlier one.
func orderBatch(items []*Item) []*Item {
	bySession := make(map[string][]*Item)
	var keys []string
	for _, it := range items {
		k := it.PartitionKey()
		if _, ok := bySession[k]; !ok {
			keys = append(keys, k)
		}
		bySession[k] = append(bySession[k], it)
	}
	out := make([]*Item, 0, len(items))
	for _, k := range keys {
		group := bySession[k]
		sort.SliceStable(group, func(i, j int) bool { return group[i].seq < group[j].seq })
		out = append(out, group...)
	}
	return out
}

func (o *Orchestrator) process(ctx context.Context, it *Item) {
	logger := o.logger.With("queue_item_id", it.ID, "session_id", it.SessionID)
	tenant := it.Tenant()

	if err := o.quota.Check(ctx, tenant, admissionCredits); err != nil {
		o.fail(ctx, it, err, logger)
		return
	}
	claimed, err := o.queue.MarkProcessing(ctx, it.ID)
	if err != nil {
		if errors.Is(err, ErrNotPending) || errors.Is(err, ErrItemNotFound) {
			logger.Debug("item no longer pending, skipping")
			return
		}
		logger.Error("failed to mark item processing", "error", err)
		return
	}
	o.broker.Publish(Event{QueueItemID: it.ID, Status: StatusProcessing})

	start := time.Now()
	out, err := o.runSafely(ctx, claimed, logger)
	if err != nil {
		if ctx.Err() != nil {
			logger.Warn("ingestion interrupted", "error", err)
			return
		}
		o.fail(ctx, claimed, err, logger)
		return
	}

	if err := o.queue.Complete(ctx, it.ID, out); err != nil {
		logger.Error("failed to mark item completed", "error", err)
		return
	}
	o.graphFailures.Store(0)
	if o.checkpoints != nil {
		if err := o.checkpoints.Delete(ctx, it.ID); err != nil {
			logger.Warn("failed to delete checkpoint", "error", err)
		}
	}
	logger.Info("ingested item",
		"version", out.Version,
		"noop", out.Noop,
		"episodes", len(out.EpisodeUUIDs),
		"statements_created", out.StatementsCreated,
		"statements_invalidated", out.StatementsInvalidated,
		"duration", time.Since(start))
	o.broker.Publish(Event{QueueItemID: it.ID, Status: StatusCompleted, Output: out})
}

func (o *Orchestrator) runSafely(ctx context.Context, it *Item, logger *slog.Logger) (out *Output, err error) {
	defer utils.RecoverAsError(&err, logger)
	return o.run(ctx, it, logger)
}

func (o *Orchestrator) fail(ctx context.Context, it *Item, cause error, logger *slog.Logger) {
	reason := cause.Error()
	logger.Error("ingestion failed", "error", cause, "attempts", it.Attempts)

	if err := o.queue.Fail(ctx, it.ID, reason); err != nil {
		logger.Error("failed to mark item failed", "error", err)
	}
	if o.checkpoints != nil {
		if err := o.checkpoints.RecordError(ctx, it.ID, cause); err != nil {
			logger.Warn("failed to record checkpoint error", "error", err)
		}
	}

	var gw *types.GraphWriteError
	if errors.As(cause, &gw) {
		n := int(o.graphFailures.Add(1))
		if n%o.opts.AlertAfter == 0 {
			subject := fmt.Sprintf("recall: %d consecutive graph write failures", n)
			msg := fmt.Sprintf("Queue item %s (workspace %s, session %s) failed: %v", it.ID, it.WorkspaceID, it.SessionID, cause)
			if err := o.alerter.Alert(subject, msg); err != nil {
				logger.Warn("failed to send alert", "error", err)
			}
		}
	}
	o.broker.Publish(Event{QueueItemID: it.ID, Status: StatusFailed, Error: reason})
}

// payload is the text extracted for one changed chunk.
type payload struct {
	index   int
	content string
	changed bool
}

func (o *Orchestrator) run(ctx context.Context, it *Item, logger *slog.Logger) (*Output, error) {
	in := it.Data
	tenant := it.Tenant()

	content := in.EpisodeBody
	if in.Type == types.DocumentEpisodeType {
		normalized, err := NormalizeDocument(content)
		if err != nil {
			return nil, err
		}
		content = normalized
	}
	chunks := o.chunker.Chunk(content, in.Type)
	if len(chunks.Chunks) == 0 {
		return nil, types.NewValidationError("episodeBody", "no content left after normalization")
	}

	decision, err := o.resolver.Resolve(ctx, it.SessionID, tenant, content, chunks.Hashes(), in.Type)
	if err != nil {
		return nil, err
	}
	if !decision.HasContentChanged {
		return noop(decision), nil
	}

	payloads, meaningful, err := o.payloads(ctx, tenant, it.SessionID, content, chunks, decision)
	if err != nil {
		return nil, err
	}
	if !meaningful {
		logger.Debug("formatting-only change, skipping", "version", decision.OldVersion)
		return noop(decision), nil
	}

	// One credit per extracted chunk, taken up front and returned if the
	// item does not reach the graph.
	credits := int64(len(payloads))
	if err := o.quota.Consume(ctx, tenant, credits); err != nil {
		return nil, err
	}
	out, err := o.extractAndWrite(ctx, it, chunks, decision, payloads, logger)
	if err != nil {
		if rerr := o.quota.Refund(context.WithoutCancel(ctx), tenant, credits); rerr != nil {
			logger.Error("failed to refund credits", "credits", credits, "error", rerr)
		}
		return nil, err
	}
	return out, nil
}

func (o *Orchestrator) extractAndWrite(ctx context.Context, it *Item, chunks *chunker.Result, decision *version.Decision, payloads []payload, logger *slog.Logger) (out *Output, err error) {
	defer utils.RecoverAsError(&err, logger)
	triples, err := o.extractAll(ctx, it, chunks, decision, payloads, logger)
	if err != nil {
		return nil, err
	}
	vectors, err := o.embed(ctx, chunks, triples)
	if err != nil {
		return nil, err
	}
	return o.write(ctx, it, chunks, decision, triples, vectors)
}

func noop(d *version.Decision) *Output {
	return &Output{
		EpisodeUUIDs:        []string{},
		Version:             d.OldVersion,
		ChangedChunkIndices: []int{},
		Noop:                true,
	}
}

// payloads picks what to extract from. New sessions extract every chunk; new
// versions extract only what changed relative to the chunk at the same
// position in the previous version.
func (o *Orchestrator) payloads(ctx context.Context, tenant types.Tenant, sessionID, content string, chunks *chunker.Result, d *version.Decision) ([]payload, bool, error) {
	var out []payload
	if d.IsNewSession {
		for _, idx := range d.ChangedChunkIndices {
			out = append(out, payload{index: idx, content: chunks.Chunks[idx].Content})
		}
		return out, true, nil
	}

	prev, err := o.store.SessionEpisodes(ctx, tenant, sessionID, d.OldVersion)
	if err != nil {
		return nil, false, fmt.Errorf("failed to load previous version of session %s: %w", sessionID, err)
	}
	if !o.differ.Compare(joinEpisodes(prev), content).Meaningful {
		return nil, false, nil
	}

	for _, idx := range d.ChangedChunkIndices {
		if idx >= len(chunks.Chunks) {
			continue
		}
		cur := chunks.Chunks[idx].Content
		if idx >= len(prev) {
			out = append(out, payload{index: idx, content: cur})
			continue
		}
		changed := o.differ.ChangedContent(prev[idx].Content, cur)
		if strings.TrimSpace(changed) == "" {
			continue
		}
		out = append(out, payload{index: idx, content: changed, changed: true})
	}
	return out, true, nil
}

func joinEpisodes(eps []*types.Episode) string {
	parts := make([]string, len(eps))
	for i, ep := range eps {
		parts[i] = ep.Content
	}
	return strings.Join(parts, "\n\n")
}

func (o *Orchestrator) extractAll(ctx context.Context, it *Item, chunks *chunker.Result, d *version.Decision, payloads []payload, logger *slog.Logger) (map[int][]extract.ExtractedTriple, error) {
	if o.checkpoints != nil {
		cp, err := o.checkpoints.Load(ctx, it.ID)
		if err != nil {
			logger.Warn("failed to load checkpoint", "error", err)
		} else if cp.Reusable(chunks.ContentHash, d.NewVersion) {
			logger.Info("reusing checkpointed extraction", "chunks", len(cp.Triples))
			return cp.Triples, nil
		}
	}

	results := make(map[int][]extract.ExtractedTriple, len(payloads))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(extractConcurrency)
	for _, p := range payloads {
		g.Go(func() error {
			triples, err := o.extractor.Extract(gctx, extract.Request{
				Content:       p.content,
				ReferenceTime: it.Data.ReferenceTime,
				Source:        it.Data.Source,
				Type:          it.Data.Type,
				Changed:       p.changed,
			})
			if err != nil {
				return fmt.Errorf("failed to extract chunk %d: %w", p.index, err)
			}
			mu.Lock()
			results[p.index] = triples
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if o.checkpoints != nil {
		cp := checkpoint.New(it.ID, chunks.ContentHash)
		cp.Version = d.NewVersion
		cp.Step = checkpoint.StepExtracted
		cp.AttemptCount = it.Attempts
		cp.Triples = results
		if err := o.checkpoints.Save(ctx, cp); err != nil {
			logger.Warn("failed to save checkpoint", "error", err)
		}
	}
	return results, nil
}

// embed embeds chunk texts, facts and entity names in one batch.
func (o *Orchestrator) embed(ctx context.Context, chunks *chunker.Result, triples map[int][]extract.ExtractedTriple) (map[string][]float32, error) {
	var texts []string
	seen := make(map[string]struct{})
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" {
			return
		}
		if _, ok := seen[s]; ok {
			return
		}
		seen[s] = struct{}{}
		texts = append(texts, s)
	}
	for _, c := range chunks.Chunks {
		add(c.Content)
	}
	for _, ts := range triples {
		for _, t := range ts {
			add(t.FactText())
			add(t.Subject)
			add(t.Predicate)
			add(t.Object)
		}
	}

	vecs, err := o.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("failed to embed ingestion texts: %w", err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(texts))
	}
	out := make(map[string][]float32, len(texts))
	for i, t := range texts {
		out[t] = vecs[i]
	}
	return out, nil
}

func (o *Orchestrator) write(ctx context.Context, it *Item, chunks *chunker.Result, d *version.Decision, triples map[int][]extract.ExtractedTriple, vectors map[string][]float32) (*Output, error) {
	in := it.Data
	tenant := it.Tenant()
	now := o.now()
	validAt := in.ReferenceTime
	if validAt.IsZero() {
		validAt = now
	}
	vec := func(s string) []float32 { return vectors[strings.TrimSpace(s)] }

	indices := make([]int, 0, len(triples))
	for idx := range triples {
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	var out *Output
	err := o.store.ExecuteWrite(ctx, func(tx driver.GraphTx) error {
		out = &Output{
			Version:             d.NewVersion,
			ChangePercentage:    d.ChangePercentage,
			ChangedChunkIndices: d.ChangedChunkIndices,
		}

		episodes := make([]*types.Episode, len(chunks.Chunks))
		for i, c := range chunks.Chunks {
			ep := &types.Episode{
				UUID:             uuid.NewString(),
				Content:          c.Content,
				Source:           in.Source,
				CreatedAt:        now,
				ValidAt:          validAt,
				SessionID:        it.SessionID,
				ChunkIndex:       i,
				TotalChunks:      len(chunks.Chunks),
				Type:             in.Type,
				UserID:           tenant.UserID,
				WorkspaceID:      tenant.WorkspaceID,
				LabelIDs:         in.LabelIDs,
				Title:            in.Title,
				Version:          d.NewVersion,
				ContentEmbedding: vec(c.Content),
			}
			if i == 0 {
				ep.OriginalContent = in.EpisodeBody
				ep.ContentHash = chunks.ContentHash
				ep.ChunkHashes = chunks.Hashes()
			}
			if !d.IsNewSession {
				ep.PreviousVersionSessionID = d.PreviousVersionSessionID
			}
			if err := tx.CreateEpisode(ctx, ep); err != nil {
				return fmt.Errorf("failed to create episode for chunk %d: %w", i, err)
			}
			episodes[i] = ep
			out.EpisodeUUIDs = append(out.EpisodeUUIDs, ep.UUID)
		}

		for _, idx := range indices {
			if idx >= len(episodes) {
				continue
			}
			for _, t := range triples[idx] {
				res, err := writeTriple(ctx, tx, tenant, episodes[idx], t, vec)
				if err != nil {
					return err
				}
				if res.Created {
					out.StatementsCreated++
				}
				out.StatementsInvalidated += len(res.Invalidated)
			}
		}
		return nil
	})
	if err != nil {
		return nil, &types.GraphWriteError{Op: "ingest", Err: err}
	}
	return out, nil
}

func writeTriple(ctx context.Context, tx driver.GraphTx, tenant types.Tenant, ep *types.Episode, t extract.ExtractedTriple, vec func(string) []float32) (*driver.TripleResult, error) {
	upsert := func(name string, kind types.EntityType) (*types.Entity, error) {
		e, err := tx.UpsertEntity(ctx, driver.EntityInput{
			Name:      strings.TrimSpace(name),
			Type:      kind,
			Tenant:    tenant,
			Embedding: vec(name),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to upsert entity %q: %w", name, err)
		}
		return e, nil
	}

	subject, err := upsert(t.Subject, types.ParseEntityType(t.SubjectType))
	if err != nil {
		return nil, err
	}
	predicate, err := upsert(t.Predicate, types.PredicateEntity)
	if err != nil {
		return nil, err
	}
	object, err := upsert(t.Object, types.ParseEntityType(t.ObjectType))
	if err != nil {
		return nil, err
	}

	fact := t.FactText()
	res, err := tx.CreateTriple(ctx, driver.TripleInput{
		Statement: driver.StatementInput{
			Fact:          fact,
			FactEmbedding: vec(fact),
			Aspect:        types.ParseAspect(t.Aspect),
			Attributes:    t.StringAttributes(),
		},
		Subject:   subject,
		Predicate: predicate,
		Object:    object,
		Episode:   ep,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create triple %q: %w", fact, err)
	}
	return res, nil
}
