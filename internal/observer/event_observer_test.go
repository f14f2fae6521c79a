package observer

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
)

type recordingObserver struct {
	name   string
	events []JobEvent
}

func (r *recordingObserver) OnEvent(ctx context.Context, event JobEvent) {
	r.events = append(r.events, event)
}

func (r *recordingObserver) GetObserverName() string { return r.name }

type panickingObserver struct{}

func (panickingObserver) OnEvent(ctx context.Context, event JobEvent) { panic("boom") }
func (panickingObserver) GetObserverName() string                     { return "panicking" }

func TestEventPublisher_NotifiesInOrder(t *testing.T) {
	p := NewEventPublisher()
	first := &recordingObserver{name: "first"}
	second := &recordingObserver{name: "second"}
	p.Subscribe(first)
	p.Subscribe(panickingObserver{})
	p.Subscribe(second)

	p.NotifyObservers(context.Background(), JobEvent{EventType: JobReceived, JobID: "a"})
	p.NotifyObservers(context.Background(), JobEvent{EventType: JobCompleted, JobID: "a"})

	for _, obs := range []*recordingObserver{first, second} {
		if len(obs.events) != 2 {
			t.Fatalf("%s: expected 2 events, got %d", obs.name, len(obs.events))
		}
		if obs.events[0].EventType != JobReceived || obs.events[1].EventType != JobCompleted {
			t.Errorf("%s: unexpected order %v", obs.name, obs.events)
		}
		if obs.events[0].Timestamp.IsZero() {
			t.Errorf("%s: expected timestamp to be filled in", obs.name)
		}
	}

	p.Unsubscribe(first)
	p.NotifyObservers(context.Background(), JobEvent{EventType: JobReceived})
	if len(first.events) != 2 {
		t.Error("Expected unsubscribed observer to receive nothing")
	}
	if len(second.events) != 3 {
		t.Error("Expected remaining observer to keep receiving events")
	}
}

func TestLoggingObserver_Fields(t *testing.T) {
	var buf bytes.Buffer
	log := logrus.New()
	log.SetOutput(&buf)
	log.SetFormatter(&logrus.JSONFormatter{})
	log.SetLevel(logrus.DebugLevel)

	NewLoggingObserver(log).OnEvent(context.Background(), JobEvent{
		EventType:    JobFailed,
		JobID:        "job-1",
		Tier:         "low",
		Duration:     1500 * time.Millisecond,
		ErrorType:    "inference",
		ErrorMessage: "inference failed",
	})

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Expected JSON log line, got %q", buf.String())
	}
	if entry["level"] != "error" {
		t.Errorf("Expected error level, got %v", entry["level"])
	}
	if entry["job_id"] != "job-1" || entry["error_type"] != "inference" {
		t.Errorf("Unexpected fields %v", entry)
	}
	if entry["duration_ms"] != float64(1500) {
		t.Errorf("Expected duration_ms 1500, got %v", entry["duration_ms"])
	}
}

func TestLoggingObserver_StaleCompletionWarns(t *testing.T) {
	var buf bytes.Buffer
	log := logrus.New()
	log.SetOutput(&buf)
	log.SetFormatter(&logrus.JSONFormatter{})

	NewLoggingObserver(log).OnEvent(context.Background(), JobEvent{EventType: JobCompleted, Stale: true})
	if !strings.Contains(buf.String(), `"level":"warning"`) {
		t.Errorf("Expected warning for stale completion, got %s", buf.String())
	}
}

func TestMetricsObserver(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetricsObserver(reg)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	ctx := context.Background()

	m.OnEvent(ctx, JobEvent{EventType: JobReceived})
	m.OnEvent(ctx, JobEvent{EventType: JobReceived})
	if got := testutil.ToFloat64(m.inFlight); got != 2 {
		t.Errorf("Expected 2 jobs in flight, got %v", got)
	}

	m.OnEvent(ctx, JobEvent{EventType: PipelineReady, Tier: "low"})
	m.OnEvent(ctx, JobEvent{EventType: JobCompleted, Tier: "low", Stale: true, Duration: time.Second})
	m.OnEvent(ctx, JobEvent{EventType: PipelineFailed, Tier: "high"})
	m.OnEvent(ctx, JobEvent{EventType: JobFailed, Tier: "high"})

	if got := testutil.ToFloat64(m.inFlight); got != 0 {
		t.Errorf("Expected 0 jobs in flight, got %v", got)
	}
	if got := testutil.ToFloat64(m.jobs.WithLabelValues("complete", "low")); got != 1 {
		t.Errorf("Expected 1 complete job, got %v", got)
	}
	if got := testutil.ToFloat64(m.jobs.WithLabelValues("error", "high")); got != 1 {
		t.Errorf("Expected 1 failed job, got %v", got)
	}
	if got := testutil.ToFloat64(m.pipelineLoads.WithLabelValues("error", "high")); got != 1 {
		t.Errorf("Expected 1 failed lookup, got %v", got)
	}
	if got := testutil.ToFloat64(m.staleResults); got != 1 {
		t.Errorf("Expected 1 stale result, got %v", got)
	}

	if _, err := NewMetricsObserver(reg); err == nil {
		t.Error("Expected duplicate registration to fail")
	}
}
