// Package pipeline runs one video through audio extraction, transcription
// and note synthesis, reporting progress checkpoints along the way.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"noteflow/internal/logger"
	"noteflow/internal/observability/metrics"
	"noteflow/internal/remote"
	"noteflow/internal/synthesis"
	"noteflow/internal/transcription"
	"noteflow/internal/types"
)

type Extractor interface {
	Extract(ctx context.Context, video types.VideoInput) (types.AudioBlob, error)
}

type Transcriber interface {
	Transcribe(ctx context.Context, audio types.AudioBlob, remote transcription.Remote, notify func(types.Advisory)) (types.Transcript, error)
}

type Synthesizer interface {
	Synthesize(ctx context.Context, transcript types.Transcript, remote synthesis.Completer, notify func(types.Advisory)) (types.NoteDocument, types.Tier, error)
}

// Session is the paid side of one run, built from that run's credential.
type Session interface {
	Transcribe(ctx context.Context, audio types.AudioBlob) (string, error)
	Complete(ctx context.Context, system, user string) (string, error)
	HasSpeech() bool
	HasChat() bool
	Close() error
}

type SessionOpener interface {
	Open(ctx context.Context, cred types.Credential) (Session, error)
}

type SessionOpenerFunc func(ctx context.Context, cred types.Credential) (Session, error)

func (f SessionOpenerFunc) Open(ctx context.Context, cred types.Credential) (Session, error) {
	return f(ctx, cred)
}

// FactoryOpener opens sessions from a remote.Factory.
func FactoryOpener(f *remote.Factory) SessionOpener {
	return SessionOpenerFunc(func(ctx context.Context, cred types.Credential) (Session, error) {
		return f.Open(ctx, cred)
	})
}

// Result is everything a successful run produced.
type Result struct {
	RunID             string             `json:"run_id"`
	Document          types.NoteDocument `json:"document"`
	Transcript        types.Transcript   `json:"transcript"`
	TranscriptionTier types.Tier         `json:"transcription_tier"`
	SynthesisTier     types.Tier         `json:"synthesis_tier"`
	Advisories        []types.Advisory   `json:"advisories,omitempty"`
	DurationMs        int64              `json:"duration_ms"`
}

// Paid reports whether any stage used a paid provider.
func (r *Result) Paid() bool {
	return r.TranscriptionTier == types.TierRemote || r.SynthesisTier == types.TierRemote
}

type Options struct {
	// Timeout bounds a whole run. Zero means only the caller's context applies.
	Timeout time.Duration
}

type Orchestrator struct {
	extractor   Extractor
	transcriber Transcriber
	synthesizer Synthesizer
	sessions    SessionOpener
	opts        Options
	metrics     *metrics.Metrics
	log         *logger.Logger
}

func New(ex Extractor, tr Transcriber, sy Synthesizer, sessions SessionOpener, opts Options, m *metrics.Metrics, log *logger.Logger) *Orchestrator {
	if m == nil {
		m = metrics.DefaultMetrics
	}
	return &Orchestrator{
		extractor:   ex,
		transcriber: tr,
		synthesizer: sy,
		sessions:    sessions,
		opts:        opts,
		metrics:     m,
		log:         logger.OrDefault(log),
	}
}

// Run processes one video. Stages run strictly in order and the first fatal
// error ends the run; no document is returned with an error. The credential
// only lives for the duration of the call.
func (o *Orchestrator) Run(ctx context.Context, video types.VideoInput, cred types.Credential, obs Observer) (*Result, error) {
	if o.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.opts.Timeout)
		defer cancel()
	}

	res := &Result{RunID: uuid.NewString()}
	log := o.log.WithRun(res.RunID)
	start := time.Now()
	o.metrics.RecordRunStart()

	err := o.run(ctx, video, cred, newTracker(obs, log), res, log)

	elapsed := time.Since(start)
	res.DurationMs = elapsed.Milliseconds()
	if err != nil {
		o.metrics.RecordRunEnd(string(types.KindOf(err)), elapsed.Seconds())
		log.WithError(err).WithField("duration_ms", res.DurationMs).Error("run failed")
		return nil, err
	}
	o.metrics.RecordRunEnd("success", elapsed.Seconds())
	log.WithFields(logrus.Fields{
		"transcription_tier": res.TranscriptionTier,
		"synthesis_tier":     res.SynthesisTier,
		"sections":           len(res.Document.Sections),
		"duration_ms":        res.DurationMs,
	}).Info("run complete")
	return res, nil
}

func (o *Orchestrator) run(ctx context.Context, video types.VideoInput, cred types.Credential, tr *tracker, res *Result, log *logger.Logger) error {
	tr.report(types.StageInitializing, 10, "Preparing video for analysis")

	session, err := o.sessions.Open(ctx, cred)
	if err != nil {
		return stageError(ctx, types.StageInitializing, types.KindInvalidInput, err)
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			log.WithError(cerr).Warn("closing remote session")
		}
	}()

	tr.report(types.StageExtractingAudio, 25, "Extracting audio")
	stageStart := time.Now()
	audio, err := o.extractor.Extract(ctx, video)
	if err != nil {
		return stageError(ctx, types.StageExtractingAudio, types.KindExtractionFailed, err)
	}
	o.metrics.RecordStage(string(types.StageExtractingAudio), string(types.TierLocal), time.Since(stageStart).Seconds())
	o.metrics.RecordAudio(audio.Duration.Seconds())

	tr.report(types.StageTranscribing, 40, "Transcribing audio")
	var speech transcription.Remote
	if session.HasSpeech() {
		speech = session
	}
	stageStart = time.Now()
	transcript, err := o.transcriber.Transcribe(ctx, audio, speech, o.onFallback(tr, res, 45, "Transcribing with paid speech service"))
	audio = types.AudioBlob{} // not needed past this point
	if err != nil {
		return stageError(ctx, types.StageTranscribing, types.KindTranscriptionFailed, err)
	}
	res.Transcript = transcript
	res.TranscriptionTier = transcript.Tier
	o.metrics.RecordStage(string(types.StageTranscribing), string(transcript.Tier), time.Since(stageStart).Seconds())

	tr.report(types.StageSynthesizing, 60, "Generating structured notes")
	var chat synthesis.Completer
	if session.HasChat() {
		chat = session
	}
	stageStart = time.Now()
	doc, tier, err := o.synthesizer.Synthesize(ctx, transcript, chat, o.onFallback(tr, res, 70, "Generating notes with paid model"))
	if err != nil {
		return stageError(ctx, types.StageSynthesizing, types.KindSynthesisFailed, err)
	}
	if !doc.Complete() {
		return stageError(ctx, types.StageSynthesizing, types.KindSynthesisFailed,
			errors.New("notes have no sections or key points"))
	}
	res.SynthesisTier = tier
	o.metrics.RecordStage(string(types.StageSynthesizing), string(tier), time.Since(stageStart).Seconds())

	tr.report(types.StageFinalizing, 90, "Finalizing and formatting")
	if err := ctx.Err(); err != nil {
		return stageError(ctx, types.StageFinalizing, types.KindCanceled, err)
	}
	res.Document = doc

	tr.report(types.StageComplete, 100, "Complete")
	return nil
}

// onFallback records an advisory and relabels the current stage.
func (o *Orchestrator) onFallback(tr *tracker, res *Result, percent int, label string) func(types.Advisory) {
	return func(a types.Advisory) {
		res.Advisories = append(res.Advisories, a)
		o.metrics.RecordFallback(string(a.Stage))
		tr.advise(a)
		tr.report(a.Stage, percent, label)
	}
}

// stageError normalizes err into a *types.Error tagged with the stage.
// Untyped errors get kind def, or KindCanceled when ctx is done.
func stageError(ctx context.Context, stage types.Stage, def types.Kind, err error) error {
	var te *types.Error
	if errors.As(err, &te) {
		out := *te
		if out.Stage == "" {
			out.Stage = stage
		}
		return &out
	}
	kind := def
	if ctx.Err() != nil {
		kind = types.KindCanceled
	}
	return &types.Error{Kind: kind, Stage: stage, Err: err}
}
