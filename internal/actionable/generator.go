package actionable

import (
	"errors"
	"fmt"

	"noteflow/internal/aggregator"
	"noteflow/internal/types"
)

type ActionCard struct {
	Insight string `json:"insight"`
	Action  string `json:"action"`
	Impact  string `json:"impact"`
}

// ForError turns a failed run into something the user can act on. Quota
// and rate limiting get different advice.
func ForError(err error) ActionCard {
	kind := types.KindOf(err)
	insight := "Note generation failed."
	var e *types.Error
	if errors.As(err, &e) {
		insight = e.UserMessage()
	}
	switch kind {
	case types.KindQuotaExceeded:
		return ActionCard{
			Insight: insight,
			Action:  "Add credit or raise the usage limit on your API account, or supply a different key",
			Impact:  "Retrying with the same key will fail until the quota resets",
		}
	case types.KindRateLimited:
		return ActionCard{
			Insight: insight,
			Action:  "Wait a minute before retrying; shorter videos use fewer requests",
			Impact:  "Temporary; no change to your account is needed",
		}
	case types.KindInvalidInput:
		return ActionCard{
			Insight: insight,
			Action:  "Upload an MP4, WebM or MOV video file",
			Impact:  "Nothing was processed",
		}
	case types.KindTranscriptionFailed:
		return ActionCard{
			Insight: insight,
			Action:  "Check that the video has audible speech, or provide an API key for the paid speech service",
			Impact:  "No notes can be produced without a transcript",
		}
	case types.KindSynthesisFailed, types.KindSynthesisResponseInvalid:
		return ActionCard{
			Insight: insight,
			Action:  "Retry, or provide an API key so the language model can write the notes",
			Impact:  "The transcript was produced but not turned into notes",
		}
	case types.KindExtractionFailed, types.KindUnsupportedEnvironment:
		return ActionCard{
			Insight: insight,
			Action:  "Try re-encoding the video, or contact the operator if this keeps happening",
			Impact:  "The video could not be processed on this server",
		}
	}
	return ActionCard{
		Insight: insight,
		Action:  "Try again",
		Impact:  "No notes were produced",
	}
}

// ForUsage recommends a change when too many runs need the paid tier.
func ForUsage(u aggregator.Usage) ActionCard {
	worst := ""
	highest := 0.0
	for stage, v := range u.FallbackRate {
		if v > highest {
			highest = v
			worst = stage
		}
	}
	if highest >= 0.35 && worst != "" {
		action := "Install a local speech recognizer and set LOCAL_STT_COMMAND"
		if worst == string(types.StageSynthesizing) {
			action = "Lower SYNTH_MIN_WORDS or encourage longer recordings"
		}
		return ActionCard{
			Insight: fmt.Sprintf("High paid fallback in %s (%.0f%%)", worst, highest*100),
			Action:  action,
			Impact:  "Fewer paid API calls per run",
		}
	}
	return ActionCard{
		Insight: "Most runs stay on the free tier",
		Action:  "Monitor and collect more data",
		Impact:  "Low immediate intervention",
	}
}
