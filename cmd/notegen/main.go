// Command notegen runs the note pipeline once over a local video file and
// writes the notes as Markdown (and optionally as a workbook).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"noteflow/internal/actionable"
	"noteflow/internal/app"
	"noteflow/internal/config"
	"noteflow/internal/export"
	"noteflow/internal/logger"
	"noteflow/internal/media"
	"noteflow/internal/pipeline"
	"noteflow/internal/references"
	"noteflow/internal/types"
)

func main() {
	_ = godotenv.Load()

	videoPath := flag.String("video", "", "Path to the video file")
	mediaType := flag.String("media-type", "", "Media type of the video (guessed from the extension when empty)")
	sourceURL := flag.String("source-url", "", "Where the video is published; used for clip links")
	out := flag.String("out", "", "Markdown output file (stdout when empty)")
	xlsxOut := flag.String("xlsx", "", "Optional workbook output file")
	flag.Parse()

	// stdout carries the notes
	log := logger.NewWithOutput(os.Stderr)
	if *videoPath == "" {
		flag.Usage()
		os.Exit(2)
	}

	// keys are read from the environment, never from flags
	cred := types.NewCredential(os.Getenv("OPENAI_API_KEY")).WithGoogleKey(os.Getenv("GOOGLE_API_KEY"))

	video := types.VideoInput{
		Path:      *videoPath,
		Name:      filepath.Base(*videoPath),
		MediaType: media.TypeOf(*mediaType, *videoPath),
		SourceURL: *sourceURL,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()
	orchestrator := app.NewPipeline(cfg, log)
	obs := pipeline.ObserverFuncs{
		OnProgress: func(p types.StageProgress) {
			log.WithFields(logrus.Fields{"stage": p.Stage, "percent": p.Percent}).Info(p.Label)
		},
		OnFallback: func(a types.Advisory) {
			log.WithFields(logrus.Fields{"stage": a.Stage, "reason": a.Reason}).Warn("switching to the paid provider")
		},
	}

	res, err := orchestrator.Run(ctx, video, cred, obs)
	if err != nil {
		card := actionable.ForError(err)
		log.WithFields(logrus.Fields{
			"kind":   types.KindOf(err),
			"action": card.Action,
		}).Error(card.Insight)
		os.Exit(1)
	}

	src := video.SourceURL
	if src == "" {
		src = video.Name
	}
	b := export.Bundle{
		Document:   res.Document,
		References: references.Generate(res.Document.Summary),
		Clips:      references.Clips(src, res.Document.Sections),
	}

	if err := writeTo(*out, os.Stdout, func(w io.Writer) error { return export.Markdown(w, b) }); err != nil {
		log.WithError(err).Fatal("writing markdown")
	}
	if *xlsxOut != "" {
		if err := writeTo(*xlsxOut, nil, func(w io.Writer) error { return export.XLSX(w, b) }); err != nil {
			log.WithError(err).Fatal("writing workbook")
		}
	}

	log.WithFields(logrus.Fields{
		"run_id":             res.RunID,
		"transcription_tier": res.TranscriptionTier,
		"synthesis_tier":     res.SynthesisTier,
		"paid":               res.Paid(),
		"duration_ms":        res.DurationMs,
	}).Info("notes ready")
}

func writeTo(path string, fallback io.Writer, write func(io.Writer) error) error {
	if path == "" {
		if fallback == nil {
			return errors.New("no output path")
		}
		return write(fallback)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("%s: %w", path, err)
	}
	return f.Close()
}
