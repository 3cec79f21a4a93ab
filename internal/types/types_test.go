package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestKindRecoverable(t *testing.T) {
	tests := []struct {
		kind Kind
		want bool
	}{
		{KindCapabilityUnavailable, true},
		{KindEmptyTranscript, true},
		{KindInsufficientContent, true},
		{KindInvalidInput, false},
		{KindExtractionFailed, false},
		{KindUnsupportedEnvironment, false},
		{KindQuotaExceeded, false},
		{KindRateLimited, false},
		{KindTranscriptionFailed, false},
		{KindSynthesisResponseInvalid, false},
		{KindSynthesisFailed, false},
		{KindCanceled, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			if got := tt.kind.Recoverable(); got != tt.want {
				t.Errorf("Recoverable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestErrorMatching(t *testing.T) {
	cause := errors.New("http 429")
	err := fmt.Errorf("remote tier: %w", NewError(KindQuotaExceeded, "insufficient_quota", cause))

	if !IsKind(err, KindQuotaExceeded) {
		t.Error("expected wrapped error to match KindQuotaExceeded")
	}
	if IsKind(err, KindRateLimited) {
		t.Error("did not expect wrapped error to match KindRateLimited")
	}
	if KindOf(err) != KindQuotaExceeded {
		t.Errorf("KindOf = %q", KindOf(err))
	}
	if !errors.Is(err, cause) {
		t.Error("expected cause to be reachable through Unwrap")
	}
	if KindOf(cause) != "" {
		t.Error("plain errors have no kind")
	}
}

func TestErrorString(t *testing.T) {
	e := &Error{Kind: KindExtractionFailed, Stage: StageExtractingAudio, Message: "ffprobe failed", Err: errors.New("exit status 1")}
	want := "extracting_audio: extraction_failed: ffprobe failed: exit status 1"
	if e.Error() != want {
		t.Errorf("Error() = %q, want %q", e.Error(), want)
	}
}

func TestUserMessageDistinguishesQuotaFromRateLimit(t *testing.T) {
	q := Errorf(KindQuotaExceeded, "x").UserMessage()
	r := Errorf(KindRateLimited, "x").UserMessage()
	g := Errorf(KindTranscriptionFailed, "x").UserMessage()
	if q == r || q == g || r == g {
		t.Errorf("expected distinct messages, got %q / %q / %q", q, r, g)
	}
}

func TestCredentialNeverFormatsSecret(t *testing.T) {
	c := NewCredential(" sk-secret-123 ").WithGoogleKey("AIza-secret")
	if c.OpenAIKey() != "sk-secret-123" {
		t.Errorf("OpenAIKey = %q", c.OpenAIKey())
	}
	outputs := []string{
		fmt.Sprint(c),
		fmt.Sprintf("%v %+v %#v %s", c, c, c, c),
	}
	b, err := json.Marshal(struct{ Cred Credential }{c})
	if err != nil {
		t.Fatal(err)
	}
	outputs = append(outputs, string(b))
	for _, out := range outputs {
		if strings.Contains(out, "secret") {
			t.Errorf("credential leaked in %q", out)
		}
	}
	if NewCredential("").Empty() != true {
		t.Error("expected empty credential")
	}
	if c.Empty() {
		t.Error("expected non-empty credential")
	}
}

func TestVideoInputIsVideo(t *testing.T) {
	tests := []struct {
		mt   string
		want bool
	}{
		{"video/mp4", true},
		{"Video/WebM", true},
		{"audio/mpeg", false},
		{"", false},
		{"application/octet-stream", false},
	}
	for _, tt := range tests {
		if got := (VideoInput{MediaType: tt.mt}).IsVideo(); got != tt.want {
			t.Errorf("IsVideo(%q) = %v, want %v", tt.mt, got, tt.want)
		}
	}
}
