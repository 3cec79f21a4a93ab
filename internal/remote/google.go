package remote

import (
	"context"
	"strings"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"noteflow/internal/types"
)

// Opus in webm is always 48 kHz.
const webmOpusSampleRate = 48000

type recognizer interface {
	Recognize(ctx context.Context, req *speechpb.LongRunningRecognizeRequest) (*speechpb.LongRunningRecognizeResponse, error)
	Close() error
}

type googleRecognizer struct {
	client *speech.Client
}

func newGoogleRecognizer(ctx context.Context, apiKey string) (recognizer, error) {
	c, err := speech.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	return &googleRecognizer{client: c}, nil
}

func (g *googleRecognizer) Recognize(ctx context.Context, req *speechpb.LongRunningRecognizeRequest) (*speechpb.LongRunningRecognizeResponse, error) {
	op, err := g.client.LongRunningRecognize(ctx, req)
	if err != nil {
		return nil, err
	}
	return op.Wait(ctx)
}

func (g *googleRecognizer) Close() error { return g.client.Close() }

func (s *Session) recognizer(ctx context.Context) (recognizer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.google != nil {
		return s.google, nil
	}
	if s.googleKey == "" {
		return nil, ErrNoCredential
	}
	r, err := s.newRecognizer(ctx, s.googleKey)
	if err != nil {
		return nil, err
	}
	s.google = r
	return r, nil
}

func (s *Session) transcribeGoogle(ctx context.Context, audio types.AudioBlob) (string, error) {
	rec, err := s.recognizer(ctx)
	if err != nil {
		return "", err
	}
	req := &speechpb.LongRunningRecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:                   speechpb.RecognitionConfig_WEBM_OPUS,
			SampleRateHertz:            webmOpusSampleRate,
			LanguageCode:               s.cfg.LanguageCode,
			EnableAutomaticPunctuation: true,
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: audio.Data},
		},
	}

	var parts []string
	err = s.call(ctx, ProviderGoogle, "transcribe", func(ctx context.Context) error {
		resp, err := rec.Recognize(ctx, req)
		if err != nil {
			return err
		}
		parts = parts[:0]
		for _, r := range resp.GetResults() {
			if alts := r.GetAlternatives(); len(alts) > 0 {
				if t := strings.TrimSpace(alts[0].GetTranscript()); t != "" {
					parts = append(parts, t)
				}
			}
		}
		return nil
	}, classifyGRPC)
	if err != nil {
		return "", err
	}
	return strings.Join(parts, " "), nil
}

// classifyGRPC maps Google API status codes onto the taxonomy.
func classifyGRPC(err error) (error, bool) {
	st, ok := status.FromError(err)
	if !ok {
		return err, true
	}
	switch st.Code() {
	case codes.ResourceExhausted:
		if strings.Contains(strings.ToLower(st.Message()), "quota") {
			return types.NewError(types.KindQuotaExceeded, "remote quota exhausted", err), false
		}
		return types.NewError(types.KindRateLimited, "remote rate limit reached", err), false
	case codes.Unavailable, codes.DeadlineExceeded, codes.Internal, codes.Aborted:
		return err, true
	}
	return err, false
}
