// Package jobs runs pipelines in the background for the HTTP surface and
// fans their progress out to subscribers. Jobs live in memory only.
package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"noteflow/internal/actionable"
	"noteflow/internal/aggregator"
	"noteflow/internal/events"
	"noteflow/internal/logger"
	"noteflow/internal/pipeline"
	"noteflow/internal/references"
	"noteflow/internal/types"
)

type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

func (s Status) Done() bool { return s == StatusSucceeded || s == StatusFailed }

// Runner is the pipeline as seen by the manager.
type Runner interface {
	Run(ctx context.Context, video types.VideoInput, cred types.Credential, obs pipeline.Observer) (*pipeline.Result, error)
}

type Publisher interface {
	Publish(ctx context.Context, ev events.RunEvent) error
}

type Failure struct {
	Kind    types.Kind            `json:"kind"`
	Stage   types.Stage           `json:"stage,omitempty"`
	Message string                `json:"message"`
	Card    actionable.ActionCard `json:"remediation"`
}

// Job is a point-in-time copy of a job's state.
type Job struct {
	ID                string                      `json:"id"`
	Status            Status                      `json:"status"`
	Video             types.VideoInput            `json:"video"`
	Progress          *types.StageProgress        `json:"progress,omitempty"`
	Advisories        []types.Advisory            `json:"advisories,omitempty"`
	Document          *types.NoteDocument         `json:"document,omitempty"`
	TranscriptionTier types.Tier                  `json:"transcription_tier,omitempty"`
	SynthesisTier     types.Tier                  `json:"synthesis_tier,omitempty"`
	References        []references.Reference      `json:"references,omitempty"`
	Clips             []references.VideoReference `json:"clips,omitempty"`
	Error             *Failure                    `json:"error,omitempty"`
	CreatedAt         time.Time                   `json:"created_at"`
	FinishedAt        *time.Time                  `json:"finished_at,omitempty"`
}

// Update is one message to a subscriber.
type Update struct {
	Type     string               `json:"type"` // progress, fallback or done
	JobID    string               `json:"job_id"`
	Progress *types.StageProgress `json:"progress,omitempty"`
	Advisory *types.Advisory      `json:"advisory,omitempty"`
	Job      *Job                 `json:"job,omitempty"`
}

type Options struct {
	TTL        time.Duration
	MaxRecords int
}

type entry struct {
	job  Job
	subs map[chan Update]struct{}
}

type Manager struct {
	runner    Runner
	publisher Publisher
	opts      Options
	log       *logrus.Entry
	now       func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	jobs    map[string]*entry
	records []aggregator.Record
}

func NewManager(r Runner, p Publisher, opts Options, log *logger.Logger) *Manager {
	if opts.TTL <= 0 {
		opts.TTL = time.Hour
	}
	if opts.MaxRecords <= 0 {
		opts.MaxRecords = 1000
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		runner:    r,
		publisher: p,
		opts:      opts,
		log:       logger.OrDefault(log).Component("jobs"),
		now:       time.Now,
		ctx:       ctx,
		cancel:    cancel,
		jobs:      map[string]*entry{},
	}
}

// ErrShuttingDown is returned by Submit after Shutdown.
var ErrShuttingDown = errors.New("job manager is shutting down")

// Submit starts a job. The credential is handed to the pipeline and is not
// kept on the job. cleanup, if set, runs once the job has finished.
func (m *Manager) Submit(video types.VideoInput, cred types.Credential, cleanup func()) (Job, error) {
	if m.ctx.Err() != nil {
		return Job{}, ErrShuttingDown
	}
	e := &entry{
		job: Job{
			ID:        uuid.NewString(),
			Status:    StatusQueued,
			Video:     video,
			CreatedAt: m.now().UTC(),
		},
		subs: map[chan Update]struct{}{},
	}
	m.mu.Lock()
	m.jobs[e.job.ID] = e
	snap := e.job.clone()
	m.mu.Unlock()

	m.wg.Add(1)
	go m.run(e.job.ID, video, cred, cleanup)
	m.log.WithField("job_id", snap.ID).Info("job submitted")
	return snap, nil
}

func (m *Manager) run(id string, video types.VideoInput, cred types.Credential, cleanup func()) {
	defer m.wg.Done()
	if cleanup != nil {
		defer cleanup()
	}

	m.mutate(id, func(j *Job) { j.Status = StatusRunning })
	obs := pipeline.ObserverFuncs{
		OnProgress: func(p types.StageProgress) {
			m.mutate(id, func(j *Job) { j.Progress = &p })
			m.broadcast(id, Update{Type: "progress", JobID: id, Progress: &p})
		},
		OnFallback: func(a types.Advisory) {
			m.mutate(id, func(j *Job) { j.Advisories = append(j.Advisories, a) })
			m.broadcast(id, Update{Type: "fallback", JobID: id, Advisory: &a})
		},
	}

	res, err := m.runner.Run(m.ctx, video, cred, obs)
	finished := m.now().UTC()
	ev := events.RunEvent{JobID: id, OccurredAt: finished}
	rec := aggregator.Record{}

	m.mutate(id, func(j *Job) {
		j.FinishedAt = &finished
		if err != nil {
			j.Status = StatusFailed
			var te *types.Error
			f := &Failure{Kind: types.KindOf(err), Message: "Note generation failed.", Card: actionable.ForError(err)}
			if errors.As(err, &te) {
				f.Stage = te.Stage
				f.Message = te.UserMessage()
			}
			j.Error = f
			ev.EventType, ev.ErrorKind, ev.ErrorStage = events.TypeRunFailed, f.Kind, f.Stage
			rec.Outcome = string(f.Kind)
			ev.DurationMs = finished.Sub(j.CreatedAt).Milliseconds()
			return
		}
		doc := res.Document
		j.Status = StatusSucceeded
		j.Document = &doc
		j.Advisories = res.Advisories
		j.TranscriptionTier = res.TranscriptionTier
		j.SynthesisTier = res.SynthesisTier
		j.References = references.Generate(doc.Summary)
		j.Clips = clipsFor(video, doc)

		ev.EventType, ev.RunID = events.TypeRunCompleted, res.RunID
		ev.TranscriptionTier, ev.SynthesisTier = res.TranscriptionTier, res.SynthesisTier
		ev.Sections, ev.DurationMs = len(doc.Sections), res.DurationMs
		rec.Outcome = aggregator.OutcomeSuccess
	})
	ev.Fallbacks = len(m.snapshotAdvisories(id))
	if res != nil {
		rec.TranscriptionTier, rec.SynthesisTier, rec.DurationMs = res.TranscriptionTier, res.SynthesisTier, res.DurationMs
	} else {
		rec.DurationMs = ev.DurationMs
	}
	m.record(rec)

	if m.publisher != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if perr := m.publisher.Publish(ctx, ev); perr != nil {
			m.log.WithError(perr).WithField("job_id", id).Warn("publishing run event")
		}
		cancel()
	}

	m.finish(id)
	m.log.WithFields(logrus.Fields{"job_id": id, "event": ev.EventType}).Info("job finished")
}

func clipsFor(video types.VideoInput, doc types.NoteDocument) []references.VideoReference {
	src := video.SourceURL
	if src == "" {
		src = video.Name
	}
	return references.Clips(src, doc.Sections)
}

// Get returns a copy of the job.
func (m *Manager) Get(id string) (Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.jobs[id]
	if !ok {
		return Job{}, false
	}
	return e.job.clone(), true
}

// Subscribe streams a job's updates. The channel is closed after the
// "done" update, or immediately after it when the job has already
// finished. Slow subscribers miss intermediate updates, never "done".
func (m *Manager) Subscribe(id string) (<-chan Update, func(), bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.jobs[id]
	if !ok {
		return nil, nil, false
	}
	ch := make(chan Update, 32)
	if e.job.Status.Done() {
		snap := e.job.clone()
		ch <- Update{Type: "done", JobID: id, Job: &snap}
		close(ch)
		return ch, func() {}, true
	}
	e.subs[ch] = struct{}{}
	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if _, ok := e.subs[ch]; ok {
				delete(e.subs, ch)
				close(ch)
			}
		})
	}
	return ch, unsubscribe, true
}

// Usage aggregates the most recent finished runs.
func (m *Manager) Usage() aggregator.Usage {
	m.mu.Lock()
	recs := append([]aggregator.Record(nil), m.records...)
	m.mu.Unlock()
	return aggregator.Aggregate(recs)
}

// Prune drops finished jobs older than the TTL and returns how many went.
func (m *Manager) Prune() int {
	cutoff := m.now().Add(-m.opts.TTL)
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, e := range m.jobs {
		if e.job.FinishedAt != nil && e.job.FinishedAt.Before(cutoff) {
			delete(m.jobs, id)
			n++
		}
	}
	return n
}

// StartJanitor prunes expired jobs every interval until ctx is done.
func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if n := m.Prune(); n > 0 {
					m.log.WithField("pruned", n).Debug("expired jobs removed")
				}
			}
		}
	}()
}

// Shutdown cancels running jobs and waits for them, or for ctx.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.cancel()
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) mutate(id string, fn func(*Job)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.jobs[id]; ok {
		fn(&e.job)
	}
}

func (m *Manager) snapshotAdvisories(id string) []types.Advisory {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.jobs[id]; ok {
		return e.job.Advisories
	}
	return nil
}

func (m *Manager) record(r aggregator.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, r)
	if over := len(m.records) - m.opts.MaxRecords; over > 0 {
		m.records = append([]aggregator.Record(nil), m.records[over:]...)
	}
}

func (m *Manager) broadcast(id string, u Update) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.jobs[id]
	if !ok {
		return
	}
	for ch := range e.subs {
		select {
		case ch <- u:
		default:
		}
	}
}

// finish delivers the final snapshot and closes every subscription.
func (m *Manager) finish(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.jobs[id]
	if !ok {
		return
	}
	snap := e.job.clone()
	for ch := range e.subs {
		select {
		case ch <- Update{Type: "done", JobID: id, Job: &snap}:
		default:
			// drop one queued update to make room for done
			select {
			case <-ch:
			default:
			}
			ch <- Update{Type: "done", JobID: id, Job: &snap}
		}
		close(ch)
		delete(e.subs, ch)
	}
}

func (j Job) clone() Job {
	out := j
	out.Advisories = append([]types.Advisory(nil), j.Advisories...)
	if j.Progress != nil {
		p := *j.Progress
		out.Progress = &p
	}
	if j.Document != nil {
		d := *j.Document
		out.Document = &d
	}
	if j.Error != nil {
		f := *j.Error
		out.Error = &f
	}
	return out
}
