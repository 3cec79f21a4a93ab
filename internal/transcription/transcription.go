// Package transcription turns extracted audio into text: an on-host
// recognizer first, and the caller's paid speech service only when the
// local attempt fails.
package transcription

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"noteflow/internal/logger"
	"noteflow/internal/types"
)

// Local is the zero-cost tier. It fails with KindCapabilityUnavailable or
// KindEmptyTranscript when the paid tier should take over.
type Local interface {
	Transcribe(ctx context.Context, audio types.AudioBlob) (string, error)
}

// Remote is the paid tier, bound to a single run's credential.
type Remote interface {
	Transcribe(ctx context.Context, audio types.AudioBlob) (string, error)
}

type Options struct {
	// MinWords treats a shorter local transcript as empty. Zero keeps the
	// original rule: only an empty transcript triggers the paid tier.
	MinWords int
}

type Transcriber struct {
	local    Local
	minWords int
	log      *logrus.Entry
}

func New(local Local, opts Options, log *logger.Logger) *Transcriber {
	return &Transcriber{
		local:    local,
		minWords: opts.MinWords,
		log:      logger.OrDefault(log).Component("transcription"),
	}
}

// Transcribe runs the local tier, then the remote tier if and only if the
// local tier failed. notify is called right before the paid tier is tried.
// remote may be nil when the run has no credential for it.
func (t *Transcriber) Transcribe(ctx context.Context, audio types.AudioBlob, remote Remote, notify func(types.Advisory)) (types.Transcript, error) {
	start := time.Now()
	text, localErr := t.transcribeLocal(ctx, audio)
	if localErr == nil {
		t.log.WithFields(logrus.Fields{
			"tier":        types.TierLocal,
			"words":       len(strings.Fields(text)),
			"duration_ms": time.Since(start).Milliseconds(),
		}).Info("transcript ready")
		return types.Transcript{Text: text, Tier: types.TierLocal}, nil
	}
	if err := ctx.Err(); err != nil {
		return types.Transcript{}, types.NewError(types.KindCanceled, "transcription canceled", err)
	}

	log := t.log.WithField("local_error", localErr.Error())
	if remote == nil {
		log.Warn("local transcription failed and no credential for paid fallback")
		return types.Transcript{}, types.NewError(types.KindTranscriptionFailed,
			"local transcription failed and no API key was provided for the paid fallback", localErr)
	}

	log.Info("local transcription failed, using paid speech service")
	if notify != nil {
		notify(types.Advisory{
			Stage:  types.StageTranscribing,
			From:   types.TierLocal,
			To:     types.TierRemote,
			Reason: localErr.Error(),
		})
	}

	text, remoteErr := remote.Transcribe(ctx, audio)
	text = strings.TrimSpace(text)
	if remoteErr == nil && text == "" {
		remoteErr = errors.New("paid speech service returned an empty transcript")
	}
	if remoteErr != nil {
		switch {
		case types.IsKind(remoteErr, types.KindQuotaExceeded), types.IsKind(remoteErr, types.KindRateLimited):
			return types.Transcript{}, remoteErr
		case ctx.Err() != nil:
			return types.Transcript{}, types.NewError(types.KindCanceled, "transcription canceled", ctx.Err())
		}
		return types.Transcript{}, types.NewError(types.KindTranscriptionFailed, "both transcription tiers failed",
			fmt.Errorf("local: %w; remote: %w", localErr, remoteErr))
	}

	t.log.WithFields(logrus.Fields{
		"tier":        types.TierRemote,
		"words":       len(strings.Fields(text)),
		"duration_ms": time.Since(start).Milliseconds(),
	}).Info("transcript ready")
	return types.Transcript{Text: text, Tier: types.TierRemote}, nil
}

func (t *Transcriber) transcribeLocal(ctx context.Context, audio types.AudioBlob) (string, error) {
	if t.local == nil {
		return "", types.Errorf(types.KindCapabilityUnavailable, "no local recognizer")
	}
	text, err := t.local.Transcribe(ctx, audio)
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", types.Errorf(types.KindEmptyTranscript, "local transcript is empty")
	}
	if t.minWords > 0 && len(strings.Fields(text)) < t.minWords {
		return "", types.Errorf(types.KindEmptyTranscript, "local transcript has fewer than %d words", t.minWords)
	}
	return text, nil
}
