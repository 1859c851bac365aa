package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveEvent(t *testing.T) {
	Init()
	ObserveEvent("business")
	ObserveEvent("business")
	ObserveEvent("warning")

	if val := testutil.ToFloat64(scraperEventsTotal.WithLabelValues("business")); val != 2 {
		t.Errorf("expected 2 business events, got %f", val)
	}
	if val := testutil.ToFloat64(scraperEventsTotal.WithLabelValues("warning")); val != 1 {
		t.Errorf("expected 1 warning event, got %f", val)
	}
}

func TestObserveTaskAndGauge(t *testing.T) {
	Init()
	IncActiveTasks()
	IncActiveTasks()
	DecActiveTasks()
	ObserveTask("success")

	if val := testutil.ToFloat64(scraperActiveTasks); val != 1 {
		t.Errorf("expected active gauge 1, got %f", val)
	}
	if val := testutil.ToFloat64(scraperTasksTotal.WithLabelValues("success")); val != 1 {
		t.Errorf("expected 1 successful task, got %f", val)
	}
}

func TestObserveBeforeInitIsNoop(t *testing.T) {
	// Collectors are package-level; a stray observe before Init must not
	// panic even though nothing is recorded.
	ObserveAppendConflict()
	ObserveBreakerTrip()
	ObservePage("ok")
	ObserveBusiness("new")
	ObserveJob("completed")
}
