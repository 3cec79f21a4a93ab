// Package aggregator summarizes finished runs: how often each stage needed
// the paid tier, and how runs failed.
package aggregator

import (
	"noteflow/internal/types"
)

// Record is what is kept about one finished run. It never holds the
// credential or the transcript.
type Record struct {
	Outcome           string     `json:"outcome"` // "success" or an error kind
	TranscriptionTier types.Tier `json:"transcription_tier,omitempty"`
	SynthesisTier     types.Tier `json:"synthesis_tier,omitempty"`
	DurationMs        int64      `json:"duration_ms"`
}

const OutcomeSuccess = "success"

// Usage is the paid-vs-free picture across runs.
type Usage struct {
	Runs           int                `json:"runs"`
	Succeeded      int                `json:"succeeded"`
	Failed         int                `json:"failed"`
	PaidRuns       int                `json:"paid_runs"`
	PaidRate       float64            `json:"paid_rate"`
	FallbackRate   map[string]float64 `json:"fallback_rate_by_stage"`
	FailuresByKind map[string]int     `json:"failures_by_kind"`
	AvgDurationMs  int64              `json:"avg_duration_ms"`
}

func Aggregate(records []Record) Usage {
	u := Usage{
		FallbackRate:   map[string]float64{},
		FailuresByKind: map[string]int{},
	}
	total := map[string]int{}
	paid := map[string]int{}
	var durations int64
	for _, r := range records {
		u.Runs++
		durations += r.DurationMs
		if r.Outcome != OutcomeSuccess {
			u.Failed++
			if r.Outcome != "" {
				u.FailuresByKind[r.Outcome]++
			}
		} else {
			u.Succeeded++
		}

		usedPaid := false
		for stage, tier := range map[types.Stage]types.Tier{
			types.StageTranscribing: r.TranscriptionTier,
			types.StageSynthesizing: r.SynthesisTier,
		} {
			if tier == "" {
				continue
			}
			total[string(stage)]++
			if tier == types.TierRemote {
				paid[string(stage)]++
				usedPaid = true
			}
		}
		if usedPaid {
			u.PaidRuns++
		}
	}
	for k := range total {
		if total[k] > 0 {
			u.FallbackRate[k] = float64(paid[k]) / float64(total[k])
		} else {
			u.FallbackRate[k] = 0
		}
	}
	if u.Runs > 0 {
		u.PaidRate = float64(u.PaidRuns) / float64(u.Runs)
		u.AvgDurationMs = durations / int64(u.Runs)
	}
	return u
}
