package jobs

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"noteflow/internal/events"
	"noteflow/internal/logger"
	"noteflow/internal/pipeline"
	"noteflow/internal/types"
)

type fakeRunner struct {
	release chan struct{}
	err     error
	cred    types.Credential
	mu      sync.Mutex
}

func (f *fakeRunner) Run(ctx context.Context, _ types.VideoInput, cred types.Credential, obs pipeline.Observer) (*pipeline.Result, error) {
	f.mu.Lock()
	f.cred = cred
	f.mu.Unlock()
	obs.Progress(types.StageProgress{Stage: types.StageInitializing, Percent: 10, Label: "start"})
	obs.Fallback(types.Advisory{Stage: types.StageTranscribing, From: types.TierLocal, To: types.TierRemote, Reason: "empty"})
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, types.NewError(types.KindCanceled, "canceled", ctx.Err())
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	obs.Progress(types.StageProgress{Stage: types.StageComplete, Percent: 100, Label: "done"})
	return &pipeline.Result{
		RunID: "run-1",
		Document: types.NoteDocument{
			Title:     "T",
			Summary:   "S",
			Sections:  []types.Section{{Title: "Intro", Content: "c", Timestamp: "00:00:30"}},
			KeyPoints: []string{"k"},
		},
		TranscriptionTier: types.TierRemote,
		SynthesisTier:     types.TierLocal,
		Advisories:        []types.Advisory{{Stage: types.StageTranscribing, From: types.TierLocal, To: types.TierRemote, Reason: "empty"}},
		DurationMs:        42,
	}, nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []events.RunEvent
}

func (p *fakePublisher) Publish(_ context.Context, ev events.RunEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *fakePublisher) all() []events.RunEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]events.RunEvent(nil), p.events...)
}

func waitDone(t *testing.T, m *Manager, id string) Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if j, ok := m.Get(id); ok && j.Status.Done() {
			return j
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s did not finish", id)
	return Job{}
}

var video = types.VideoInput{Name: "lecture.mp4", MediaType: "video/mp4", SourceURL: "https://example.com/v"}

func TestSubmitSucceeds(t *testing.T) {
	pub := &fakePublisher{}
	runner := &fakeRunner{}
	m := NewManager(runner, pub, Options{}, logger.Discard())
	cleaned := make(chan struct{})

	job, err := m.Submit(video, types.NewCredential("sk-secret"), func() { close(cleaned) })
	if err != nil {
		t.Fatal(err)
	}
	if job.ID == "" || job.Status != StatusQueued {
		t.Fatalf("submitted job = %+v", job)
	}

	got := waitDone(t, m, job.ID)
	if got.Status != StatusSucceeded || got.Document == nil || got.Document.Title != "T" {
		t.Fatalf("job = %+v", got)
	}
	if got.Progress == nil || got.Progress.Percent != 100 {
		t.Errorf("progress = %+v", got.Progress)
	}
	if len(got.References) == 0 {
		t.Error("expected references")
	}
	if len(got.Clips) != 1 || got.Clips[0].URL != "https://example.com/v?t=30" {
		t.Errorf("clips = %+v", got.Clips)
	}
	select {
	case <-cleaned:
	case <-time.After(time.Second):
		t.Error("cleanup did not run")
	}

	if err := m.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	evs := pub.all()
	if len(evs) != 1 || evs[0].EventType != events.TypeRunCompleted || evs[0].RunID != "run-1" || evs[0].Fallbacks != 1 {
		t.Errorf("events = %+v", evs)
	}

	b, _ := json.Marshal(got)
	if strings.Contains(string(b), "sk-secret") {
		t.Error("job JSON leaks the credential")
	}
	if runner.cred.OpenAIKey() != "sk-secret" {
		t.Error("credential was not handed to the pipeline")
	}

	u := m.Usage()
	if u.Runs != 1 || u.PaidRuns != 1 {
		t.Errorf("usage = %+v", u)
	}
}

func TestSubmitFails(t *testing.T) {
	pub := &fakePublisher{}
	m := NewManager(&fakeRunner{err: &types.Error{Kind: types.KindQuotaExceeded, Stage: types.StageTranscribing}}, pub, Options{}, logger.Discard())

	job, _ := m.Submit(video, types.Credential{}, nil)
	got := waitDone(t, m, job.ID)

	if got.Status != StatusFailed || got.Document != nil {
		t.Fatalf("job = %+v", got)
	}
	if got.Error == nil || got.Error.Kind != types.KindQuotaExceeded || got.Error.Stage != types.StageTranscribing {
		t.Fatalf("error = %+v", got.Error)
	}
	if !strings.Contains(got.Error.Message, "quota") || got.Error.Card.Action == "" {
		t.Errorf("failure = %+v", got.Error)
	}
	_ = m.Shutdown(context.Background())
	if evs := pub.all(); len(evs) != 1 || evs[0].EventType != events.TypeRunFailed || evs[0].ErrorKind != types.KindQuotaExceeded {
		t.Errorf("events = %+v", evs)
	}
	if u := m.Usage(); u.Failed != 1 || u.FailuresByKind[string(types.KindQuotaExceeded)] != 1 {
		t.Errorf("usage = %+v", u)
	}
}

func TestSubscribe(t *testing.T) {
	runner := &fakeRunner{release: make(chan struct{})}
	m := NewManager(runner, nil, Options{}, logger.Discard())
	defer m.Shutdown(context.Background())

	job, _ := m.Submit(video, types.Credential{}, nil)
	ch, unsubscribe, ok := m.Subscribe(job.ID)
	if !ok {
		t.Fatal("subscribe failed")
	}
	defer unsubscribe()
	close(runner.release)

	var last Update
	for u := range ch {
		last = u
	}
	if last.Type != "done" || last.Job == nil || last.Job.Status != StatusSucceeded {
		t.Fatalf("last update = %+v", last)
	}

	// subscribing to a finished job yields the final state at once
	ch2, _, ok := m.Subscribe(job.ID)
	if !ok {
		t.Fatal("subscribe to finished job failed")
	}
	u, open := <-ch2
	if !open || u.Type != "done" {
		t.Errorf("update = %+v", u)
	}
	if _, open := <-ch2; open {
		t.Error("channel should be closed")
	}

	if _, _, ok := m.Subscribe("missing"); ok {
		t.Error("subscribe to unknown job should fail")
	}
}

func TestShutdownCancelsRunningJobs(t *testing.T) {
	runner := &fakeRunner{release: make(chan struct{})}
	m := NewManager(runner, nil, Options{}, logger.Discard())
	job, _ := m.Submit(video, types.Credential{}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.Shutdown(ctx); err != nil {
		t.Fatal(err)
	}
	got, _ := m.Get(job.ID)
	if got.Status != StatusFailed || got.Error.Kind != types.KindCanceled {
		t.Errorf("job = %+v", got)
	}
	if _, err := m.Submit(video, types.Credential{}, nil); err != ErrShuttingDown {
		t.Errorf("Submit after shutdown = %v", err)
	}
}

func TestPrune(t *testing.T) {
	m := NewManager(&fakeRunner{}, nil, Options{TTL: time.Minute}, logger.Discard())
	job, _ := m.Submit(video, types.Credential{}, nil)
	waitDone(t, m, job.ID)
	_ = m.Shutdown(context.Background())

	if n := m.Prune(); n != 0 {
		t.Fatalf("pruned fresh job: %d", n)
	}
	m.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	if n := m.Prune(); n != 1 {
		t.Fatalf("pruned = %d, want 1", n)
	}
	if _, ok := m.Get(job.ID); ok {
		t.Error("expired job still present")
	}
}
