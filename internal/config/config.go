package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is read once from the environment (after godotenv has loaded .env).
type Config struct {
	Port        string
	Environment string

	// media
	FFmpegBin        string
	FFprobeBin       string
	AudioMaxDuration time.Duration
	WorkDir          string

	// local speech tier
	LocalSTTCommand  string
	LocalSTTArgs     []string
	LocalSTTGrace    time.Duration
	LocalMinWords    int
	SynthMinWords    int
	SynthCharsPerSec float64

	// remote tier
	OpenAIBaseURL  string
	STTProvider    string
	STTModel       string
	STTLanguage    string
	ChatModel      string
	RemoteTimeout  time.Duration
	RemoteMaxRetry time.Duration

	// http surface
	MaxUploadBytes int64
	JobTTL         time.Duration
	RunTimeout     time.Duration

	Kafka KafkaConfig
}

type KafkaConfig struct {
	Enabled   bool
	Brokers   []string
	Topic     string
	Principal string
}

func Load() *Config {
	return &Config{
		Port:        envOr("PORT", "8080"),
		Environment: envOr("ENVIRONMENT", "local"),

		FFmpegBin:        envOr("FFMPEG_BIN", "ffmpeg"),
		FFprobeBin:       envOr("FFPROBE_BIN", "ffprobe"),
		AudioMaxDuration: envOrDuration("AUDIO_MAX_DURATION", 180*time.Second),
		WorkDir:          envOr("WORK_DIR", os.TempDir()),

		LocalSTTCommand:  os.Getenv("LOCAL_STT_COMMAND"),
		LocalSTTArgs:     envOrList("LOCAL_STT_ARGS", nil, " "),
		LocalSTTGrace:    envOrDuration("LOCAL_STT_GRACE", 10*time.Second),
		LocalMinWords:    envOrInt("LOCAL_TRANSCRIPT_MIN_WORDS", 0),
		SynthMinWords:    envOrInt("SYNTH_MIN_WORDS", 20),
		SynthCharsPerSec: envOrFloat("SYNTH_CHARS_PER_SECOND", 15),

		OpenAIBaseURL:  os.Getenv("OPENAI_BASE_URL"),
		STTProvider:    strings.ToLower(envOr("STT_PROVIDER", "openai")),
		STTModel:       envOr("STT_MODEL", "whisper-1"),
		STTLanguage:    envOr("STT_LANGUAGE_CODE", "en-US"),
		ChatModel:      envOr("CHAT_MODEL", "gpt-4o-mini"),
		RemoteTimeout:  envOrDuration("REMOTE_TIMEOUT", 90*time.Second),
		RemoteMaxRetry: envOrDuration("REMOTE_MAX_RETRY", 45*time.Second),

		MaxUploadBytes: envOrInt64("MAX_UPLOAD_BYTES", 512<<20),
		JobTTL:         envOrDuration("JOB_TTL", time.Hour),
		RunTimeout:     envOrDuration("RUN_TIMEOUT", 15*time.Minute),

		Kafka: KafkaConfig{
			Enabled:   envOrBool("KAFKA_ENABLED", false),
			Brokers:   envOrList("KAFKA_BROKERS", nil, ","),
			Topic:     envOr("KAFKA_TOPIC", "noteflow.runs"),
			Principal: envOr("SERVICE_PRINCIPAL", "noteflow"),
		},
	}
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envOrInt(k string, def int) int {
	v, err := strconv.Atoi(strings.TrimSpace(os.Getenv(k)))
	if err != nil {
		return def
	}
	return v
}

func envOrInt64(k string, def int64) int64 {
	v, err := strconv.ParseInt(strings.TrimSpace(os.Getenv(k)), 10, 64)
	if err != nil {
		return def
	}
	return v
}

func envOrFloat(k string, def float64) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(os.Getenv(k)), 64)
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func envOrBool(k string, def bool) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(k)))
	if err != nil {
		return def
	}
	return v
}

// envOrDuration accepts Go durations ("90s") or a bare number of seconds.
func envOrDuration(k string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(k))
	if raw == "" {
		return def
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second
	}
	return def
}

func envOrList(k string, def []string, sep string) []string {
	raw := strings.TrimSpace(os.Getenv(k))
	if raw == "" {
		return def
	}
	var out []string
	for _, p := range strings.Split(raw, sep) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
