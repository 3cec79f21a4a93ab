package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"

	"noteflow/internal/types"
)

func (s *Session) transcribeOpenAI(ctx context.Context, audio types.AudioBlob) (string, error) {
	var text string
	err := s.call(ctx, ProviderOpenAI, "transcribe", func(ctx context.Context) error {
		resp, err := s.openai.CreateTranscription(ctx, openai.AudioRequest{
			Model:    s.cfg.STTModel,
			FilePath: "audio" + extensionFor(audio.MediaType),
			Reader:   bytes.NewReader(audio.Data),
			Language: whisperLanguage(s.cfg.LanguageCode),
		})
		if err != nil {
			return err
		}
		text = resp.Text
		return nil
	}, classifyOpenAI)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// Complete asks the chat model for a JSON object answer.
func (s *Session) Complete(ctx context.Context, system, user string) (string, error) {
	if !s.HasChat() {
		return "", ErrNoCredential
	}
	var content string
	err := s.call(ctx, ProviderOpenAI, "complete", func(ctx context.Context) error {
		resp, err := s.openai.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model: s.cfg.ChatModel,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: system},
				{Role: openai.ChatMessageRoleUser, Content: user},
			},
			ResponseFormat: &openai.ChatCompletionResponseFormat{
				Type: openai.ChatCompletionResponseFormatTypeJSONObject,
			},
			Temperature: 0.3,
		})
		if err != nil {
			return err
		}
		if len(resp.Choices) == 0 {
			return types.Errorf(types.KindSynthesisResponseInvalid, "completion returned no choices")
		}
		content = resp.Choices[0].Message.Content
		return nil
	}, classifyOpenAI)
	return content, err
}

// classifyOpenAI maps go-openai errors onto the taxonomy. A 429 is split
// into quota exhaustion and plain rate limiting; neither is retried.
func classifyOpenAI(err error) (error, bool) {
	var te *types.Error
	if errors.As(err, &te) {
		return err, false
	}

	status := 0
	var code, typ, msg string
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
		code = codeString(apiErr.Code)
		typ = apiErr.Type
		msg = apiErr.Message
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
		if reqErr.Err != nil {
			msg = reqErr.Err.Error()
		}
	}

	switch {
	case status == http.StatusTooManyRequests:
		if isQuota(code, typ, msg) {
			return types.NewError(types.KindQuotaExceeded, "remote quota exhausted", err), false
		}
		return types.NewError(types.KindRateLimited, "remote rate limit reached", err), false
	case status >= 500:
		return err, true
	case status >= 400:
		return err, false
	}
	// transport errors
	return err, true
}

func isQuota(code, typ, msg string) bool {
	if code == "insufficient_quota" || typ == "insufficient_quota" {
		return true
	}
	return strings.Contains(strings.ToLower(msg), "quota")
}

func codeString(code any) string {
	switch c := code.(type) {
	case nil:
		return ""
	case string:
		return c
	default:
		return fmt.Sprint(c)
	}
}

// whisperLanguage turns a BCP-47 tag into the ISO-639-1 code Whisper expects.
func whisperLanguage(tag string) string {
	tag = strings.TrimSpace(tag)
	if i := strings.IndexAny(tag, "-_"); i > 0 {
		tag = tag[:i]
	}
	return strings.ToLower(tag)
}

func extensionFor(mediaType string) string {
	switch {
	case strings.Contains(mediaType, "webm"):
		return ".webm"
	case strings.Contains(mediaType, "ogg"):
		return ".ogg"
	case strings.Contains(mediaType, "wav"):
		return ".wav"
	case strings.Contains(mediaType, "mpeg"), strings.Contains(mediaType, "mp3"):
		return ".mp3"
	}
	return ".webm"
}
