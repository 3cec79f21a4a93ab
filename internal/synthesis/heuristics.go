package synthesis

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"noteflow/internal/types"
)

// Heuristics is the deterministic, offline note builder.
type Heuristics struct {
	MinWords           int
	TitleMaxChars      int
	TitleFallbackChars int
	SummaryChars       int
	MaxSections        int
	SectionChars       int
	CharsPerSecond     float64
	KeyPoints          int
	KeyPointChars      int
}

func DefaultHeuristics() Heuristics {
	return Heuristics{
		MinWords:           20,
		TitleMaxChars:      100,
		TitleFallbackChars: 50,
		SummaryChars:       300,
		MaxSections:        6,
		SectionChars:       500,
		CharsPerSecond:     15,
		KeyPoints:          5,
		KeyPointChars:      100,
	}
}

var (
	paragraphBreak = regexp.MustCompile(`\n[ \t\r]*\n`)
	sentence       = regexp.MustCompile(`[^.!?]+[.!?]*`)
)

// Build turns a transcript into notes, or fails with KindInsufficientContent
// when the transcript is too short to analyse.
func (h Heuristics) Build(transcript string) (types.NoteDocument, error) {
	text := strings.TrimSpace(transcript)
	if words := len(strings.Fields(text)); words < h.MinWords {
		return types.NoteDocument{}, types.Errorf(types.KindInsufficientContent,
			"transcript has %d words, need at least %d", words, h.MinWords)
	}
	return types.NoteDocument{
		Title:     h.Title(text),
		Summary:   truncate(text, h.SummaryChars),
		Sections:  h.Sections(text),
		KeyPoints: h.KeyPointList(text),
	}, nil
}

// Title is the first sentence when it is short enough, otherwise a
// truncated prefix.
func (h Heuristics) Title(text string) string {
	if i := strings.IndexAny(text, ".!?"); i >= 0 && utf8.RuneCountInString(text[:i]) < h.TitleMaxChars {
		if t := strings.TrimSpace(text[:i]); t != "" {
			return t
		}
	}
	return truncate(text, h.TitleFallbackChars)
}

// Sections labels the first MaxSections paragraphs positionally and gives
// each an estimated start time assuming a uniform speaking rate.
func (h Heuristics) Sections(text string) []types.Section {
	paras := SplitParagraphs(text)
	total := len(paras)
	spoken := float64(utf8.RuneCountInString(text)) / h.CharsPerSecond

	n := total
	if n > h.MaxSections {
		n = h.MaxSections
	}
	out := make([]types.Section, 0, n)
	for i := 0; i < n; i++ {
		at := float64(i) / float64(total) * spoken
		out = append(out, types.Section{
			Title:     fmt.Sprintf("Section %d", i+1),
			Content:   truncate(paras[i], h.SectionChars),
			Timestamp: FormatTimestamp(int(at)),
		})
	}
	return out
}

// KeyPointList ranks sentences by length, longest first, and keeps the top few.
func (h Heuristics) KeyPointList(text string) []string {
	sentences := SplitSentences(text)
	sort.SliceStable(sentences, func(i, j int) bool {
		return utf8.RuneCountInString(sentences[i]) > utf8.RuneCountInString(sentences[j])
	})
	if len(sentences) > h.KeyPoints {
		sentences = sentences[:h.KeyPoints]
	}
	out := make([]string, 0, len(sentences))
	for _, s := range sentences {
		out = append(out, truncate(s, h.KeyPointChars))
	}
	return out
}

// SplitParagraphs splits on blank lines and drops empty paragraphs.
func SplitParagraphs(text string) []string {
	var out []string
	for _, p := range paragraphBreak.Split(text, -1) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// SplitSentences returns trimmed sentences including their terminators.
func SplitSentences(text string) []string {
	var out []string
	for _, s := range sentence.FindAllString(text, -1) {
		s = strings.Join(strings.Fields(s), " ")
		if strings.Trim(s, ".!? ") != "" {
			out = append(out, s)
		}
	}
	return out
}

// FormatTimestamp renders whole seconds as HH:MM:SS.
func FormatTimestamp(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d:%02d", seconds/3600, seconds%3600/60, seconds%60)
}

// truncate cuts s to n runes and appends "..." when it had to cut.
func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + "..."
}
