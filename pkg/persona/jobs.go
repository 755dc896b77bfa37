package persona

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/soundprediction/recall/pkg/types"
	"github.com/soundprediction/recall/pkg/utils"
)

// DefaultJobRetention is how long a finished job stays queryable.
const DefaultJobRetention = time.Hour

var (
	ErrJobNotFound = errors.New("job not found")
	ErrJobFinished = errors.New("job already finished")
)

// JobState is the lifecycle of a synthesis job.
type JobState string

const (
	JobRunning   JobState = "running"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
	JobCancelled JobState = "cancelled"
)

// Job is a snapshot of a synthesis job.
type Job struct {
	ID         string              `json:"jobId"`
	State      JobState            `json:"state"`
	SpaceID    string              `json:"spaceId,omitempty"`
	Mode       Mode                `json:"mode"`
	Error      string              `json:"error,omitempty"`
	Summary    *types.SpaceSummary `json:"summary,omitempty"`
	StartedAt  time.Time           `json:"startedAt"`
	FinishedAt *time.Time          `json:"finishedAt,omitempty"`

	tenant types.Tenant
}

type jobEntry struct {
	job    Job
	cancel context.CancelFunc
	done   chan struct{}
}

// JobManager runs synthesis jobs in the background, each under its own
// cancellable context.
type JobManager struct {
	synth     *Synthesizer
	logger    *slog.Logger
	retention time.Duration
	now       func() time.Time

	mu   sync.Mutex
	jobs map[string]*jobEntry
	wg   sync.WaitGroup
}

// NewJobManager creates a JobManager for synth.
func NewJobManager(synth *Synthesizer, logger *slog.Logger) *JobManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &JobManager{
		synth:     synth,
		logger:    logger,
		retention: DefaultJobRetention,
		now:       func() time.Time { return time.Now().UTC() },
		jobs:      make(map[string]*jobEntry),
	}
}

// Start validates req and launches a job. It returns the job id.
func (m *JobManager) Start(req Request) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &jobEntry{
		job: Job{
			ID:        uuid.NewString(),
			State:     JobRunning,
			SpaceID:   req.SpaceID,
			Mode:      req.Mode,
			StartedAt: m.now(),
			tenant:    req.Tenant,
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}

	m.mu.Lock()
	m.evictLocked()
	m.jobs[e.job.ID] = e
	m.mu.Unlock()

	m.wg.Add(1)
	go m.run(ctx, e, req)
	m.logger.Info("synthesis job started", "job_id", e.job.ID, "space_id", req.SpaceID, "mode", req.Mode)
	return e.job.ID, nil
}

func (m *JobManager) run(ctx context.Context, e *jobEntry, req Request) {
	defer m.wg.Done()
	defer close(e.done)
	defer e.cancel()

	var (
		res       *Result
		committed bool
	)
	err := func() (err error) {
		defer utils.RecoverAsError(&err, m.logger)
		res, err = m.synth.Generate(ctx, req)
		if err == nil && ctx.Err() == nil {
			err = m.synth.Commit(ctx, req.Tenant, res)
			committed = err == nil
		}
		return err
	}()

	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	e.job.FinishedAt = &now
	switch {
	case committed:
		e.job.State = JobCompleted
		e.job.Summary = res.Summary
		m.logger.Info("synthesis job completed", "job_id", e.job.ID)
	case ctx.Err() != nil:
		e.job.State = JobCancelled
		m.logger.Info("synthesis job cancelled", "job_id", e.job.ID)
	default:
		e.job.State = JobFailed
		e.job.Error = err.Error()
		m.logger.Error("synthesis job failed", "job_id", e.job.ID, "error", err)
	}
}

// evictLocked drops jobs that finished more than the retention window ago.
func (m *JobManager) evictLocked() {
	cutoff := m.now().Add(-m.retention)
	for id, e := range m.jobs {
		if e.job.FinishedAt != nil && e.job.FinishedAt.Before(cutoff) {
			delete(m.jobs, id)
			m.logger.Debug("evicted finished job", "job_id", id, "state", e.job.State)
		}
	}
}

// Status returns a snapshot of the job if it belongs to tenant.
func (m *JobManager) Status(tenant types.Tenant, id string) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.jobs[id]
	if !ok || e.job.tenant != tenant {
		return nil, ErrJobNotFound
	}
	j := e.job
	return &j, nil
}

// Cancel stops a running job. Nothing it generated is written unless the
// write had already committed, in which case the job still completes.
func (m *JobManager) Cancel(tenant types.Tenant, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.jobs[id]
	if !ok || e.job.tenant != tenant {
		return ErrJobNotFound
	}
	if e.job.State != JobRunning {
		return fmt.Errorf("job %s is %s: %w", id, e.job.State, ErrJobFinished)
	}
	e.job.State = JobCancelled
	e.cancel()
	return nil
}

// Wait blocks until the job finishes or ctx is done.
func (m *JobManager) Wait(ctx context.Context, tenant types.Tenant, id string) (*Job, error) {
	m.mu.Lock()
	e, ok := m.jobs[id]
	m.mu.Unlock()
	if !ok || e.job.tenant != tenant {
		return nil, ErrJobNotFound
	}
	select {
	case <-e.done:
		return m.Status(tenant, id)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close cancels every running job and waits for them to exit.
func (m *JobManager) Close() {
	m.mu.Lock()
	for _, e := range m.jobs {
		if e.job.State == JobRunning {
			e.job.State = JobCancelled
			e.cancel()
		}
	}
	m.mu.Unlock()
	m.wg.Wait()
}
