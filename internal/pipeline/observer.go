package pipeline

import (
	"sync"

	"noteflow/internal/logger"
	"noteflow/internal/types"
)

// Observer receives a run's checkpoints and fallback advisories, in order,
// on the goroutine running the pipeline.
type Observer interface {
	Progress(p types.StageProgress)
	Fallback(a types.Advisory)
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	OnProgress func(types.StageProgress)
	OnFallback func(types.Advisory)
}

func (f ObserverFuncs) Progress(p types.StageProgress) {
	if f.OnProgress != nil {
		f.OnProgress(p)
	}
}

func (f ObserverFuncs) Fallback(a types.Advisory) {
	if f.OnFallback != nil {
		f.OnFallback(a)
	}
}

// Recorder keeps everything it observes. Safe for concurrent reads.
type Recorder struct {
	mu         sync.Mutex
	progress   []types.StageProgress
	advisories []types.Advisory
}

func (r *Recorder) Progress(p types.StageProgress) {
	r.mu.Lock()
	r.progress = append(r.progress, p)
	r.mu.Unlock()
}

func (r *Recorder) Fallback(a types.Advisory) {
	r.mu.Lock()
	r.advisories = append(r.advisories, a)
	r.mu.Unlock()
}

func (r *Recorder) Checkpoints() []types.StageProgress {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]types.StageProgress(nil), r.progress...)
}

func (r *Recorder) Advisories() []types.Advisory {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]types.Advisory(nil), r.advisories...)
}

// tracker forwards checkpoints to an observer and drops any that would not
// increase the reported percentage.
type tracker struct {
	obs  Observer
	last int
	log  *logger.Logger
}

func newTracker(obs Observer, log *logger.Logger) *tracker {
	if obs == nil {
		obs = ObserverFuncs{}
	}
	return &tracker{obs: obs, last: -1, log: log}
}

func (t *tracker) report(stage types.Stage, percent int, label string) {
	if percent <= t.last || percent > 100 {
		t.log.WithField("stage", stage).WithField("percent", percent).Debug("dropping out-of-order checkpoint")
		return
	}
	t.last = percent
	t.log.WithField("stage", stage).WithField("percent", percent).Debug(label)
	t.obs.Progress(types.StageProgress{Stage: stage, Percent: percent, Label: label})
}

func (t *tracker) advise(a types.Advisory) {
	t.obs.Fallback(a)
}
