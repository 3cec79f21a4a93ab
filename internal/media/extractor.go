// Package media pulls a bounded, muted audio track out of an uploaded video
// using ffprobe and ffmpeg.
package media

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"noteflow/internal/logger"
	"noteflow/internal/types"
)

const (
	DefaultMaxDuration = 180 * time.Second
	AudioMediaType     = "audio/webm"
	// Opus in webm is always 48 kHz; remote speech configs depend on it.
	SampleRateHertz = 48000
)

type Options struct {
	FFmpeg      string
	FFprobe     string
	MaxDuration time.Duration
	WorkDir     string
	Runner      Runner
}

type Extractor struct {
	ffmpeg  string
	ffprobe string
	maxDur  time.Duration
	workDir string
	run     Runner
	log     *logrus.Entry
}

func NewExtractor(opts Options, log *logger.Logger) *Extractor {
	e := &Extractor{
		ffmpeg:  opts.FFmpeg,
		ffprobe: opts.FFprobe,
		maxDur:  opts.MaxDuration,
		workDir: opts.WorkDir,
		run:     opts.Runner,
		log:     logger.OrDefault(log).Component("media.extractor"),
	}
	if e.ffmpeg == "" {
		e.ffmpeg = "ffmpeg"
	}
	if e.ffprobe == "" {
		e.ffprobe = "ffprobe"
	}
	if e.maxDur <= 0 {
		e.maxDur = DefaultMaxDuration
	}
	if e.workDir == "" {
		e.workDir = os.TempDir()
	}
	if e.run == nil {
		e.run = execRunner{}
	}
	return e
}

type probeResult struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
	Streams []struct {
		CodecType string `json:"codec_type"`
	} `json:"streams"`
}

// Extract produces at most MaxDuration of the video's audio as webm/opus.
// Every temporary file it creates is gone when it returns.
func (e *Extractor) Extract(ctx context.Context, video types.VideoInput) (types.AudioBlob, error) {
	if !video.IsVideo() {
		return types.AudioBlob{}, types.Errorf(types.KindInvalidInput, "media type %q is not a video", video.MediaType)
	}
	ffmpeg, err := e.run.LookPath(e.ffmpeg)
	if err != nil {
		return types.AudioBlob{}, types.NewError(types.KindUnsupportedEnvironment, "ffmpeg not found", err)
	}
	ffprobe, err := e.run.LookPath(e.ffprobe)
	if err != nil {
		return types.AudioBlob{}, types.NewError(types.KindUnsupportedEnvironment, "ffprobe not found", err)
	}
	if _, err := os.Stat(video.Path); err != nil {
		return types.AudioBlob{}, types.NewError(types.KindExtractionFailed, "video not readable", err)
	}

	log := e.log.WithFields(logrus.Fields{"video": video.Name, "media_type": video.MediaType})

	srcDur, err := e.probe(ctx, ffprobe, video.Path)
	if err != nil {
		log.WithError(err).Warn("probe failed")
		return types.AudioBlob{}, err
	}

	dir, err := os.MkdirTemp(e.workDir, "noteflow-extract-*")
	if err != nil {
		return types.AudioBlob{}, types.NewError(types.KindExtractionFailed, "create work dir", err)
	}
	defer os.RemoveAll(dir)

	out := filepath.Join(dir, "audio.webm")
	args := []string{
		"-hide_banner", "-loglevel", "error", "-y",
		"-i", video.Path,
		"-t", strconv.FormatFloat(e.maxDur.Seconds(), 'f', 3, 64),
		"-vn", "-ac", "1", "-ar", strconv.Itoa(SampleRateHertz),
		"-c:a", "libopus", "-b:a", "32k",
		"-f", "webm",
		out,
	}
	start := time.Now()
	if _, err := e.run.Output(ctx, ffmpeg, args...); err != nil {
		log.WithError(err).Warn("ffmpeg failed")
		return types.AudioBlob{}, types.NewError(types.KindExtractionFailed, "decode audio track", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		return types.AudioBlob{}, types.NewError(types.KindExtractionFailed, "read extracted audio", err)
	}
	if len(data) == 0 {
		return types.AudioBlob{}, types.Errorf(types.KindExtractionFailed, "ffmpeg produced no audio")
	}

	dur := e.maxDur
	if srcDur > 0 && srcDur < dur {
		dur = srcDur
	}
	log.WithFields(logrus.Fields{
		"bytes":       len(data),
		"duration_s":  dur.Seconds(),
		"truncated":   srcDur > e.maxDur,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Info("audio extracted")

	return types.AudioBlob{Data: data, MediaType: AudioMediaType, Duration: dur}, nil
}

func (e *Extractor) probe(ctx context.Context, ffprobe, path string) (time.Duration, error) {
	raw, err := e.run.Output(ctx, ffprobe,
		"-v", "error", "-print_format", "json", "-show_format", "-show_streams", path)
	if err != nil {
		return 0, types.NewError(types.KindExtractionFailed, "load video metadata", err)
	}
	var pr probeResult
	if err := json.Unmarshal(raw, &pr); err != nil {
		return 0, types.NewError(types.KindExtractionFailed, "parse ffprobe output", err)
	}
	hasAudio := false
	for _, s := range pr.Streams {
		if s.CodecType == "audio" {
			hasAudio = true
			break
		}
	}
	if !hasAudio {
		return 0, types.Errorf(types.KindExtractionFailed, "video has no audio track")
	}
	return parseSeconds(pr.Format.Duration), nil
}

// parseSeconds reads ffprobe's "123.456000"; unknown durations become 0.
func parseSeconds(s string) time.Duration {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || f <= 0 {
		return 0
	}
	return time.Duration(f * float64(time.Second))
}
