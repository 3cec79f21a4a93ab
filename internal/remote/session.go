// Package remote holds the paid services used as the second tier of
// transcription and note synthesis. A Session is built from one run's
// credential and must not outlive that run.
package remote

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"

	"noteflow/internal/logger"
	"noteflow/internal/observability/metrics"
	"noteflow/internal/types"
)

const (
	ProviderOpenAI = "openai"
	ProviderGoogle = "google"
)

// ErrNoCredential is returned when the run carries no key for the provider.
var ErrNoCredential = errors.New("no credential for remote provider")

type Config struct {
	OpenAIBaseURL string
	STTProvider   string
	STTModel      string
	LanguageCode  string
	ChatModel     string
	Timeout       time.Duration
	MaxRetry      time.Duration
	RetryInitial  time.Duration
}

func (c Config) withDefaults() Config {
	if c.STTProvider == "" {
		c.STTProvider = ProviderOpenAI
	}
	if c.STTModel == "" {
		c.STTModel = openai.Whisper1
	}
	if c.LanguageCode == "" {
		c.LanguageCode = "en-US"
	}
	if c.ChatModel == "" {
		c.ChatModel = openai.GPT4oMini
	}
	if c.Timeout <= 0 {
		c.Timeout = 90 * time.Second
	}
	if c.MaxRetry <= 0 {
		c.MaxRetry = 45 * time.Second
	}
	return c
}

// Factory opens per-run sessions. It holds no secrets itself.
type Factory struct {
	cfg           Config
	metrics       *metrics.Metrics
	log           *logger.Logger
	newRecognizer func(ctx context.Context, apiKey string) (recognizer, error)
}

func NewFactory(cfg Config, m *metrics.Metrics, log *logger.Logger) *Factory {
	if m == nil {
		m = metrics.DefaultMetrics
	}
	return &Factory{
		cfg:           cfg.withDefaults(),
		metrics:       m,
		log:           logger.OrDefault(log),
		newRecognizer: newGoogleRecognizer,
	}
}

// Open builds the clients for one run. It does no network I/O; a session
// opened from an empty credential simply reports no capabilities.
func (f *Factory) Open(_ context.Context, cred types.Credential) (*Session, error) {
	s := &Session{
		cfg:           f.cfg,
		metrics:       f.metrics,
		log:           f.log.Component("remote"),
		googleKey:     cred.GoogleKey(),
		newRecognizer: f.newRecognizer,
	}
	if key := cred.OpenAIKey(); key != "" {
		oc := openai.DefaultConfig(key)
		if f.cfg.OpenAIBaseURL != "" {
			oc.BaseURL = strings.TrimRight(f.cfg.OpenAIBaseURL, "/")
		}
		oc.HTTPClient = &http.Client{Timeout: f.cfg.Timeout}
		s.openai = openai.NewClientWithConfig(oc)
	}
	return s, nil
}

type Session struct {
	cfg     Config
	metrics *metrics.Metrics
	log     *logrus.Entry

	openai *openai.Client

	googleKey     string
	newRecognizer func(ctx context.Context, apiKey string) (recognizer, error)
	mu            sync.Mutex
	google        recognizer
}

// HasSpeech reports whether the session can call the configured speech provider.
func (s *Session) HasSpeech() bool {
	if s.cfg.STTProvider == ProviderGoogle {
		return s.googleKey != ""
	}
	return s.openai != nil
}

// HasChat reports whether the session can call the chat model.
func (s *Session) HasChat() bool { return s.openai != nil }

func (s *Session) SpeechProvider() string { return s.cfg.STTProvider }

// Transcribe sends audio to the configured speech provider.
func (s *Session) Transcribe(ctx context.Context, audio types.AudioBlob) (string, error) {
	if !s.HasSpeech() {
		return "", ErrNoCredential
	}
	if s.cfg.STTProvider == ProviderGoogle {
		return s.transcribeGoogle(ctx, audio)
	}
	return s.transcribeOpenAI(ctx, audio)
}

// Close releases provider connections. The session is unusable afterwards.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.openai = nil
	s.googleKey = ""
	if s.google != nil {
		err := s.google.Close()
		s.google = nil
		return err
	}
	return nil
}

type classifier func(error) (error, bool)

// call runs op with per-attempt timeouts and exponential backoff. classify
// maps a provider error to a taxonomy error and says whether to retry.
func (s *Session) call(ctx context.Context, provider, operation string, op func(ctx context.Context) error, classify classifier) error {
	b := backoff.NewExponentialBackOff()
	if s.cfg.RetryInitial > 0 {
		b.InitialInterval = s.cfg.RetryInitial
	}
	b.MaxElapsedTime = s.cfg.MaxRetry

	log := s.log.WithFields(logrus.Fields{"provider": provider, "operation": operation})
	attempt := 0
	var lastErr error

	retryable := func() error {
		attempt++
		actx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()

		start := time.Now()
		err := op(actx)
		s.metrics.RecordRemoteCall(provider, operation, time.Since(start).Seconds())
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			lastErr = ctx.Err()
			return backoff.Permanent(lastErr)
		}

		classified, retry := classify(err)
		lastErr = classified
		kind := string(types.KindOf(classified))
		if kind == "" {
			kind = "error"
		}
		s.metrics.RecordRemoteError(provider, kind)
		log.WithFields(logrus.Fields{"attempt": attempt, "retry": retry}).WithError(classified).Warn("remote call failed")
		if !retry {
			return backoff.Permanent(classified)
		}
		return classified
	}

	if err := backoff.Retry(retryable, backoff.WithContext(b, ctx)); err != nil {
		if lastErr != nil {
			return lastErr
		}
		return err
	}
	return nil
}
