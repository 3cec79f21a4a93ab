// Package synthesis turns a transcript into a NoteDocument: offline
// heuristics first, the caller's chat model only when they fail.
package synthesis

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"noteflow/internal/logger"
	"noteflow/internal/types"
)

// Local is the offline tier. Heuristics satisfies it.
type Local interface {
	Build(transcript string) (types.NoteDocument, error)
}

// Completer is the paid tier: a chat model answering with a JSON object.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

type Synthesizer struct {
	local Local
	log   *logrus.Entry
}

func New(local Local, log *logger.Logger) *Synthesizer {
	if local == nil {
		local = DefaultHeuristics()
	}
	return &Synthesizer{local: local, log: logger.OrDefault(log).Component("synthesis")}
}

// Synthesize runs the heuristic tier, then the chat model if and only if
// the heuristics failed. remote may be nil when the run has no chat key.
func (s *Synthesizer) Synthesize(ctx context.Context, transcript types.Transcript, remote Completer, notify func(types.Advisory)) (types.NoteDocument, types.Tier, error) {
	start := time.Now()
	doc, localErr := s.local.Build(transcript.Text)
	if localErr == nil {
		s.log.WithFields(logrus.Fields{
			"tier":        types.TierLocal,
			"sections":    len(doc.Sections),
			"duration_ms": time.Since(start).Milliseconds(),
		}).Info("notes ready")
		return doc, types.TierLocal, nil
	}
	if err := ctx.Err(); err != nil {
		return types.NoteDocument{}, "", types.NewError(types.KindCanceled, "synthesis canceled", err)
	}

	log := s.log.WithField("local_error", localErr.Error())
	if remote == nil {
		log.Warn("heuristic synthesis failed and no credential for paid fallback")
		return types.NoteDocument{}, "", types.NewError(types.KindSynthesisFailed,
			"transcript too short for offline notes and no API key was provided for the paid fallback", localErr)
	}

	log.Info("heuristic synthesis failed, using chat model")
	if notify != nil {
		notify(types.Advisory{
			Stage:  types.StageSynthesizing,
			From:   types.TierLocal,
			To:     types.TierRemote,
			Reason: localErr.Error(),
		})
	}

	raw, err := remote.Complete(ctx, systemPrompt, BuildPrompt(transcript.Text))
	if err != nil {
		switch types.KindOf(err) {
		case types.KindQuotaExceeded, types.KindRateLimited, types.KindSynthesisResponseInvalid:
			return types.NoteDocument{}, "", err
		}
		if ctx.Err() != nil {
			return types.NoteDocument{}, "", types.NewError(types.KindCanceled, "synthesis canceled", ctx.Err())
		}
		return types.NoteDocument{}, "", types.NewError(types.KindSynthesisFailed, "both synthesis tiers failed",
			fmt.Errorf("local: %w; remote: %w", localErr, err))
	}

	doc, err = ParseNotes(raw)
	if err != nil {
		log.WithField("response_len", len(raw)).Warn("chat model returned unusable notes")
		return types.NoteDocument{}, "", err
	}
	s.log.WithFields(logrus.Fields{
		"tier":        types.TierRemote,
		"sections":    len(doc.Sections),
		"duration_ms": time.Since(start).Milliseconds(),
	}).Info("notes ready")
	return doc, types.TierRemote, nil
}
