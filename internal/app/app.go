// Package app assembles the note pipeline from configuration. Both the
// HTTP service and the command line tool build it the same way.
package app

import (
	"noteflow/internal/config"
	"noteflow/internal/logger"
	"noteflow/internal/media"
	"noteflow/internal/observability/metrics"
	"noteflow/internal/pipeline"
	"noteflow/internal/remote"
	"noteflow/internal/synthesis"
	"noteflow/internal/transcription"
)

func NewPipeline(cfg *config.Config, log *logger.Logger) *pipeline.Orchestrator {
	log = logger.OrDefault(log)

	extractor := media.NewExtractor(media.Options{
		FFmpeg:      cfg.FFmpegBin,
		FFprobe:     cfg.FFprobeBin,
		MaxDuration: cfg.AudioMaxDuration,
		WorkDir:     cfg.WorkDir,
	}, log)

	local := &transcription.Command{
		Path:    cfg.LocalSTTCommand,
		Args:    cfg.LocalSTTArgs,
		Grace:   cfg.LocalSTTGrace,
		WorkDir: cfg.WorkDir,
	}
	if local.Path == "" {
		log.Warn("LOCAL_STT_COMMAND not set, every run will use the paid speech service")
	}
	transcriber := transcription.New(local, transcription.Options{MinWords: cfg.LocalMinWords}, log)

	h := synthesis.DefaultHeuristics()
	h.MinWords = cfg.SynthMinWords
	h.CharsPerSecond = cfg.SynthCharsPerSec
	synthesizer := synthesis.New(h, log)

	factory := remote.NewFactory(remote.Config{
		OpenAIBaseURL: cfg.OpenAIBaseURL,
		STTProvider:   cfg.STTProvider,
		STTModel:      cfg.STTModel,
		LanguageCode:  cfg.STTLanguage,
		ChatModel:     cfg.ChatModel,
		Timeout:       cfg.RemoteTimeout,
		MaxRetry:      cfg.RemoteMaxRetry,
	}, metrics.DefaultMetrics, log)

	return pipeline.New(extractor, transcriber, synthesizer, pipeline.FactoryOpener(factory),
		pipeline.Options{Timeout: cfg.RunTimeout}, metrics.DefaultMetrics, log)
}
