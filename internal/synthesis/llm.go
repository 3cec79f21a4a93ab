package synthesis

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"noteflow/internal/types"
)

const systemPrompt = `You are an expert teaching assistant who turns lecture and video transcripts into structured study notes.
Return ONLY a JSON object, no commentary and no markdown fences.`

// BuildPrompt builds the user message for the chat model.
func BuildPrompt(transcript string) string {
	prompt := `Create study notes for the transcript below.

----------------------------------------------------------------------
SCHEMA (STRICT - RETURN ONLY JSON)
{
  "title": "",
  "content": "",
  "sections": [
    {"title": "", "content": "", "timestamp": "HH:MM:SS"}
  ],
  "summaryPoints": []
}
----------------------------------------------------------------------

GUIDELINES:
1. "title" is a short, specific title for the whole video.
2. "content" is a one paragraph summary.
3. Produce 4 to 6 "sections" in the order the topics appear in the transcript.
   Each "timestamp" is the estimated start of the section, formatted HH:MM:SS,
   and timestamps never decrease from one section to the next.
4. Produce exactly 5 "summaryPoints", most important first.
5. Ground everything in the transcript. Do not invent facts.

TRANSCRIPT:
%s
`
	return fmt.Sprintf(prompt, transcript)
}

// llmNotes is the wire shape the model is asked for. Some models answer
// with "summary"/"keyPoints" instead, so both spellings are accepted.
type llmNotes struct {
	Title    string `json:"title"`
	Content  string `json:"content"`
	Summary  string `json:"summary"`
	Sections []struct {
		Title     string `json:"title"`
		Content   string `json:"content"`
		Timestamp string `json:"timestamp"`
	} `json:"sections"`
	SummaryPoints []string `json:"summaryPoints"`
	KeyPoints     []string `json:"keyPoints"`
}

var (
	hhmmss = regexp.MustCompile(`^(\d{1,2}):([0-5]\d):([0-5]\d)$`)
	mmss   = regexp.MustCompile(`^([0-5]?\d):([0-5]\d)$`)
)

// ParseNotes validates a model answer and converts it to a NoteDocument.
// Anything unreadable or missing content fails with KindSynthesisResponseInvalid.
func ParseNotes(raw string) (types.NoteDocument, error) {
	obj := extractJSON(raw)
	if obj == "" {
		return types.NoteDocument{}, types.Errorf(types.KindSynthesisResponseInvalid, "no JSON object in model output")
	}
	var n llmNotes
	if err := json.Unmarshal([]byte(obj), &n); err != nil {
		return types.NoteDocument{}, types.NewError(types.KindSynthesisResponseInvalid, "decode model output", err)
	}

	doc := types.NoteDocument{
		Title:   strings.TrimSpace(n.Title),
		Summary: strings.TrimSpace(firstNonEmpty(n.Content, n.Summary)),
	}
	for _, s := range n.Sections {
		title, content := strings.TrimSpace(s.Title), strings.TrimSpace(s.Content)
		if title == "" && content == "" {
			continue
		}
		doc.Sections = append(doc.Sections, types.Section{
			Title:     title,
			Content:   content,
			Timestamp: normalizeTimestamp(s.Timestamp),
		})
	}
	points := n.SummaryPoints
	if len(points) == 0 {
		points = n.KeyPoints
	}
	for _, p := range points {
		if p = strings.TrimSpace(p); p != "" {
			doc.KeyPoints = append(doc.KeyPoints, p)
		}
	}

	switch {
	case doc.Summary == "":
		return types.NoteDocument{}, types.Errorf(types.KindSynthesisResponseInvalid, "model output has no summary")
	case len(doc.Sections) == 0:
		return types.NoteDocument{}, types.Errorf(types.KindSynthesisResponseInvalid, "model output has no sections")
	case len(doc.KeyPoints) == 0:
		return types.NoteDocument{}, types.Errorf(types.KindSynthesisResponseInvalid, "model output has no summary points")
	}
	if doc.Title == "" {
		doc.Title = firstNonEmpty(doc.Sections[0].Title, "Study Notes")
	}
	return doc, nil
}

// normalizeTimestamp returns HH:MM:SS, or "" for values that cannot be read.
func normalizeTimestamp(ts string) string {
	ts = strings.TrimSpace(ts)
	if m := hhmmss.FindStringSubmatch(ts); m != nil {
		return FormatTimestamp(atoi(m[1])*3600 + atoi(m[2])*60 + atoi(m[3]))
	}
	if m := mmss.FindStringSubmatch(ts); m != nil {
		return FormatTimestamp(atoi(m[1])*60 + atoi(m[2]))
	}
	return ""
}

// extractJSON finds the first balanced JSON object in a string and returns it.
// Markdown fences around the object are ignored, and braces inside JSON
// strings do not count.
func extractJSON(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	start := strings.Index(s, "{")
	if start == -1 {
		return ""
	}

	depth := 0
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case inString && c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return strings.TrimSpace(s[start : i+1])
			}
		}
	}
	return ""
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
