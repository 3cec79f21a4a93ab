package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"noteflow/internal/logger"
	"noteflow/internal/observability/metrics"
	"noteflow/internal/types"
)

func newTestFactory(t *testing.T, baseURL string, cfg Config) *Factory {
	t.Helper()
	cfg.OpenAIBaseURL = baseURL
	if cfg.RetryInitial == 0 {
		cfg.RetryInitial = time.Millisecond
	}
	if cfg.MaxRetry == 0 {
		cfg.MaxRetry = 2 * time.Second
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	return NewFactory(cfg, metrics.NewMetricsWith(prometheus.NewRegistry()), logger.Discard())
}

func writeOpenAIError(w http.ResponseWriter, status int, typ, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"error":{"message":%q,"type":%q,"param":null,"code":%q}}`, msg, typ, code)
}

func chatResponse(content string) string {
	b, _ := json.Marshal(map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"created": 1,
		"model":   "gpt-4o-mini",
		"choices": []map[string]any{{
			"index":         0,
			"message":       map[string]string{"role": "assistant", "content": content},
			"finish_reason": "stop",
		}},
	})
	return string(b)
}

var testAudio = types.AudioBlob{Data: []byte("webm-bytes"), MediaType: "audio/webm", Duration: 5 * time.Second}

func TestOpenAITranscribe(t *testing.T) {
	var gotAuth, gotModel, gotFile string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/audio/transcriptions" {
			http.NotFound(w, r)
			return
		}
		gotAuth = r.Header.Get("Authorization")
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		gotModel = r.FormValue("model")
		if f, h, err := r.FormFile("file"); err == nil {
			b, _ := io.ReadAll(f)
			gotFile = h.Filename + ":" + string(b)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"text":"  hello from the paid path  "}`)
	}))
	defer srv.Close()

	f := newTestFactory(t, srv.URL+"/v1", Config{})
	s, _ := f.Open(context.Background(), types.NewCredential("sk-run-1"))
	defer s.Close()

	text, err := s.Transcribe(context.Background(), testAudio)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "hello from the paid path" {
		t.Errorf("text = %q", text)
	}
	if gotAuth != "Bearer sk-run-1" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotModel != "whisper-1" {
		t.Errorf("model = %q", gotModel)
	}
	if gotFile != "audio.webm:webm-bytes" {
		t.Errorf("file = %q", gotFile)
	}
}

func TestOpenAIErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		typ      string
		code     string
		msg      string
		wantKind types.Kind
		wantHits int32
	}{
		{"quota by code", 429, "insufficient_quota", "insufficient_quota", "You exceeded your current quota, please check your plan and billing details.", types.KindQuotaExceeded, 1},
		{"rate limit", 429, "requests", "rate_limit_exceeded", "Rate limit reached for requests", types.KindRateLimited, 1},
		{"bad request not retried", 400, "invalid_request_error", "", "Invalid file format.", "", 1},
		{"server error retried", 503, "server_error", "", "overloaded", "", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hits int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&hits, 1)
				writeOpenAIError(w, tt.status, tt.typ, tt.code, tt.msg)
			}))
			defer srv.Close()

			f := newTestFactory(t, srv.URL+"/v1", Config{MaxRetry: 200 * time.Millisecond})
			s, _ := f.Open(context.Background(), types.NewCredential("sk-test"))
			_, err := s.Transcribe(context.Background(), testAudio)
			if err == nil {
				t.Fatal("expected error")
			}
			if got := types.KindOf(err); got != tt.wantKind {
				t.Errorf("kind = %q, want %q (err: %v)", got, tt.wantKind, err)
			}
			n := atomic.LoadInt32(&hits)
			if tt.wantHits > 0 && n != tt.wantHits {
				t.Errorf("hits = %d, want %d", n, tt.wantHits)
			}
			if tt.wantHits == 0 && n < 2 {
				t.Errorf("expected retries on %d, got %d hits", tt.status, n)
			}
		})
	}
}

func TestOpenAIRetriesThenSucceeds(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			io.WriteString(w, "upstream down")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, chatResponse(`{"title":"t"}`))
	}))
	defer srv.Close()

	f := newTestFactory(t, srv.URL+"/v1", Config{})
	s, _ := f.Open(context.Background(), types.NewCredential("sk-test"))
	out, err := s.Complete(context.Background(), "system", "user")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if out != `{"title":"t"}` {
		t.Errorf("content = %q", out)
	}
	if hits != 3 {
		t.Errorf("hits = %d, want 3", hits)
	}
}

func TestCompleteSendsJSONResponseFormat(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, chatResponse(`{}`))
	}))
	defer srv.Close()

	f := newTestFactory(t, srv.URL+"/v1", Config{ChatModel: "gpt-test"})
	s, _ := f.Open(context.Background(), types.NewCredential("sk-test"))
	if _, err := s.Complete(context.Background(), "be terse", "transcript"); err != nil {
		t.Fatal(err)
	}
	if body["model"] != "gpt-test" {
		t.Errorf("model = %v", body["model"])
	}
	rf, _ := body["response_format"].(map[string]any)
	if rf["type"] != "json_object" {
		t.Errorf("response_format = %v", body["response_format"])
	}
	msgs, _ := body["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("messages = %v", body["messages"])
	}
}

func TestSessionsAreIsolatedPerCredential(t *testing.T) {
	var mu sync.Mutex
	seen := map[string]int{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen[r.Header.Get("Authorization")]++
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"text":"ok"}`)
	}))
	defer srv.Close()

	f := newTestFactory(t, srv.URL+"/v1", Config{})
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, _ := f.Open(context.Background(), types.NewCredential(fmt.Sprintf("sk-%d", i%2)))
			defer s.Close()
			if _, err := s.Transcribe(context.Background(), testAudio); err != nil {
				t.Error(err)
			}
		}(i)
	}
	wg.Wait()
	if seen["Bearer sk-0"] != 5 || seen["Bearer sk-1"] != 5 {
		t.Errorf("unexpected credential usage: %v", seen)
	}
}

func TestSessionWithoutCredential(t *testing.T) {
	f := newTestFactory(t, "http://127.0.0.1:1/v1", Config{})
	s, err := f.Open(context.Background(), types.Credential{})
	if err != nil {
		t.Fatal(err)
	}
	if s.HasSpeech() || s.HasChat() {
		t.Error("empty credential should expose no capabilities")
	}
	if _, err := s.Transcribe(context.Background(), testAudio); !errors.Is(err, ErrNoCredential) {
		t.Errorf("Transcribe err = %v", err)
	}
	if _, err := s.Complete(context.Background(), "s", "u"); !errors.Is(err, ErrNoCredential) {
		t.Errorf("Complete err = %v", err)
	}
}

type fakeRecognizer struct {
	resp   *speechpb.LongRunningRecognizeResponse
	errs   []error
	calls  int
	req    *speechpb.LongRunningRecognizeRequest
	closed bool
}

func (f *fakeRecognizer) Recognize(_ context.Context, req *speechpb.LongRunningRecognizeRequest) (*speechpb.LongRunningRecognizeResponse, error) {
	f.req = req
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return nil, err
	}
	return f.resp, nil
}

func (f *fakeRecognizer) Close() error { f.closed = true; return nil }

func TestGoogleTranscribe(t *testing.T) {
	rec := &fakeRecognizer{
		errs: []error{status.Error(codes.Unavailable, "try again")},
		resp: &speechpb.LongRunningRecognizeResponse{Results: []*speechpb.SpeechRecognitionResult{
			{Alternatives: []*speechpb.SpeechRecognitionAlternative{{Transcript: "first part."}}},
			{Alternatives: nil},
			{Alternatives: []*speechpb.SpeechRecognitionAlternative{{Transcript: " second part. "}}},
		}},
	}
	f := newTestFactory(t, "", Config{STTProvider: ProviderGoogle, LanguageCode: "en-GB"})
	var gotKey string
	f.newRecognizer = func(_ context.Context, key string) (recognizer, error) {
		gotKey = key
		return rec, nil
	}

	s, _ := f.Open(context.Background(), types.NewCredential("").WithGoogleKey("AIza-run"))
	if !s.HasSpeech() || s.HasChat() {
		t.Fatalf("capabilities: speech=%v chat=%v", s.HasSpeech(), s.HasChat())
	}
	text, err := s.Transcribe(context.Background(), testAudio)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "first part. second part." {
		t.Errorf("text = %q", text)
	}
	if gotKey != "AIza-run" {
		t.Errorf("key = %q", gotKey)
	}
	if rec.calls != 2 {
		t.Errorf("calls = %d, want 2", rec.calls)
	}
	cfg := rec.req.GetConfig()
	if cfg.GetEncoding() != speechpb.RecognitionConfig_WEBM_OPUS || cfg.GetSampleRateHertz() != 48000 || cfg.GetLanguageCode() != "en-GB" {
		t.Errorf("config = %v", cfg)
	}
	if err := s.Close(); err != nil || !rec.closed {
		t.Errorf("Close: err=%v closed=%v", err, rec.closed)
	}
}

func TestClassifyGRPC(t *testing.T) {
	tests := []struct {
		err       error
		wantKind  types.Kind
		wantRetry bool
	}{
		{status.Error(codes.ResourceExhausted, "Quota exceeded for quota metric 'Requests'"), types.KindQuotaExceeded, false},
		{status.Error(codes.ResourceExhausted, "too many concurrent requests"), types.KindRateLimited, false},
		{status.Error(codes.Unavailable, "connection reset"), "", true},
		{status.Error(codes.PermissionDenied, "API key not valid"), "", false},
		{errors.New("dial tcp: timeout"), "", true},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			err, retry := classifyGRPC(tt.err)
			if types.KindOf(err) != tt.wantKind || retry != tt.wantRetry {
				t.Errorf("got kind=%q retry=%v, want kind=%q retry=%v", types.KindOf(err), retry, tt.wantKind, tt.wantRetry)
			}
		})
	}
}

func TestWhisperLanguage(t *testing.T) {
	for in, want := range map[string]string{"en-US": "en", "pt_BR": "pt", "de": "de", "": ""} {
		if got := whisperLanguage(in); got != want {
			t.Errorf("whisperLanguage(%q) = %q, want %q", in, got, want)
		}
	}
	if !strings.HasSuffix("audio"+extensionFor("audio/webm;codecs=opus"), ".webm") {
		t.Error("webm extension")
	}
}
