package transcription

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"strings"
	"time"

	"noteflow/internal/types"
)

// Command runs an on-host speech recognizer (a whisper.cpp or
// faster-whisper wrapper, for example). The audio file path is appended
// as the last argument and the transcript is read from stdout.
type Command struct {
	Path    string
	Args    []string
	Grace   time.Duration
	WorkDir string
}

// Transcribe is bounded by the audio duration plus the grace period.
func (c *Command) Transcribe(ctx context.Context, audio types.AudioBlob) (string, error) {
	if strings.TrimSpace(c.Path) == "" {
		return "", types.Errorf(types.KindCapabilityUnavailable, "no local speech command configured")
	}
	bin, err := exec.LookPath(c.Path)
	if err != nil {
		return "", types.NewError(types.KindCapabilityUnavailable, "local speech command not found", err)
	}

	f, err := os.CreateTemp(c.WorkDir, "noteflow-local-*"+extension(audio.MediaType))
	if err != nil {
		return "", types.NewError(types.KindCapabilityUnavailable, "stage audio for local command", err)
	}
	defer os.Remove(f.Name())
	if _, err := f.Write(audio.Data); err != nil {
		f.Close()
		return "", types.NewError(types.KindCapabilityUnavailable, "stage audio for local command", err)
	}
	if err := f.Close(); err != nil {
		return "", types.NewError(types.KindCapabilityUnavailable, "stage audio for local command", err)
	}

	ctx, cancel := context.WithTimeout(ctx, audio.Duration+c.Grace)
	defer cancel()

	args := append(append([]string{}, c.Args...), f.Name())
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = 2 * time.Second
	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			// whatever was recognised before the deadline still counts
			if text := strings.TrimSpace(stdout.String()); text != "" {
				return text, nil
			}
			return "", types.Errorf(types.KindEmptyTranscript, "local speech command timed out without output")
		}
		return "", types.NewError(types.KindCapabilityUnavailable, "local speech command failed", wrapStderr(err, stderr.String()))
	}

	text := strings.TrimSpace(stdout.String())
	if text == "" {
		return "", types.Errorf(types.KindEmptyTranscript, "local speech command produced no text")
	}
	return text, nil
}

func wrapStderr(err error, stderr string) error {
	stderr = strings.TrimSpace(stderr)
	if stderr == "" {
		return err
	}
	if len(stderr) > 300 {
		stderr = stderr[len(stderr)-300:]
	}
	return errors.Join(err, errors.New(stderr))
}

func extension(mediaType string) string {
	switch {
	case strings.Contains(mediaType, "webm"):
		return ".webm"
	case strings.Contains(mediaType, "wav"):
		return ".wav"
	case strings.Contains(mediaType, "ogg"):
		return ".ogg"
	}
	return ".audio"
}
