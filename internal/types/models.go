package types

import (
	"strings"
	"time"
)

// Tier identifies which path of a two-tier stage produced a value.
type Tier string

const (
	TierLocal  Tier = "local"
	TierRemote Tier = "remote"
)

// VideoInput is the caller's video: a readable file plus its declared media type.
type VideoInput struct {
	Path      string `json:"-"`
	Name      string `json:"name,omitempty"`
	MediaType string `json:"media_type"`
	SourceURL string `json:"source_url,omitempty"`
}

// IsVideo reports whether the declared media type is video/*.
func (v VideoInput) IsVideo() bool {
	mt := strings.ToLower(strings.TrimSpace(v.MediaType))
	return strings.HasPrefix(mt, "video/")
}

// AudioBlob holds extracted audio. It lives for a single run and is dropped
// once transcription finishes.
type AudioBlob struct {
	Data      []byte
	MediaType string
	Duration  time.Duration
}

type Transcript struct {
	Text string `json:"text"`
	Tier Tier   `json:"tier"`
}

// Words returns the number of whitespace separated words.
func (t Transcript) Words() int {
	return len(strings.Fields(t.Text))
}

type Section struct {
	Title     string `json:"title"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp,omitempty"`
}

type NoteDocument struct {
	Title     string    `json:"title"`
	Summary   string    `json:"summary"`
	Sections  []Section `json:"sections"`
	KeyPoints []string  `json:"key_points"`
}

// Complete reports whether the document has the parts every finished run must carry.
func (d NoteDocument) Complete() bool {
	return len(d.Sections) > 0 && len(d.KeyPoints) > 0
}

type Stage string

const (
	StageInitializing    Stage = "initializing"
	StageExtractingAudio Stage = "extracting_audio"
	StageTranscribing    Stage = "transcribing"
	StageSynthesizing    Stage = "synthesizing"
	StageFinalizing      Stage = "finalizing"
	StageComplete        Stage = "complete"
)

// StageProgress is one progress checkpoint.
type StageProgress struct {
	Stage   Stage  `json:"stage"`
	Percent int    `json:"percent"`
	Label   string `json:"label"`
}

// Advisory tells the caller that a stage switched to its paid remote path.
type Advisory struct {
	Stage  Stage  `json:"stage"`
	From   Tier   `json:"from"`
	To     Tier   `json:"to"`
	Reason string `json:"reason"`
}
