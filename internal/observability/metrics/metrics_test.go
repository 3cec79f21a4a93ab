package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRunLifecycle(t *testing.T) {
	m := NewMetricsWith(prometheus.NewRegistry())

	m.RecordRunStart()
	m.RecordRunStart()
	if got := testutil.ToFloat64(m.RunsActive); got != 2 {
		t.Errorf("RunsActive = %v, want 2", got)
	}

	m.RecordRunEnd("success", 3)
	m.RecordRunEnd("quota_exceeded", 1)
	if got := testutil.ToFloat64(m.RunsActive); got != 0 {
		t.Errorf("RunsActive = %v, want 0", got)
	}
	if got := testutil.ToFloat64(m.RunsTotal.WithLabelValues("success")); got != 1 {
		t.Errorf("success runs = %v", got)
	}
	if got := testutil.ToFloat64(m.RunsTotal.WithLabelValues("quota_exceeded")); got != 1 {
		t.Errorf("quota runs = %v", got)
	}
}

func TestCounters(t *testing.T) {
	m := NewMetricsWith(prometheus.NewRegistry())

	m.RecordFallback("transcribing")
	m.RecordRemoteCall("openai", "transcribe", 0.4)
	m.RecordRemoteCall("openai", "transcribe", 0.2)
	m.RecordRemoteError("openai", "rate_limited")
	m.RecordKafkaPublish("runs", "completed", nil, 0.01)
	m.RecordKafkaPublish("runs", "completed", errors.New("broker down"), 0.01)

	tests := []struct {
		name string
		c    prometheus.Collector
		want float64
	}{
		{"fallbacks", m.Fallbacks.WithLabelValues("transcribing"), 1},
		{"remote calls", m.RemoteCalls.WithLabelValues("openai", "transcribe"), 2},
		{"remote errors", m.RemoteErrors.WithLabelValues("openai", "rate_limited"), 1},
		{"kafka total", m.KafkaPublishTotal.WithLabelValues("runs", "completed"), 2},
		{"kafka errors", m.KafkaPublishErrors.WithLabelValues("runs", "completed"), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := testutil.ToFloat64(tt.c); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}
