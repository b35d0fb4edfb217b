package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("Write: %v", err)
	}
	return m.GetCounter().GetValue()
}

func counterVecValue(t *testing.T, c *prometheus.CounterVec, label string) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.WithLabelValues(label).Write(&m); err != nil {
		t.Fatalf("Write: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestNewRegistersEveryCollectorOnceEach(t *testing.T) {
	m := New()
	if m.Registry == nil {
		t.Fatal("expected a non-nil private registry")
	}
	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if len(families) == 0 {
		t.Fatal("expected at least one registered metric family")
	}
}

func TestTwoMetricsSetsDoNotCollideOnGlobalRegistry(t *testing.T) {
	a := New()
	b := New()
	if a.Registry == b.Registry {
		t.Fatal("expected independent registries per Metrics instance")
	}
	// Both register a collector under the same name; on the default global
	// registry this would panic via MustRegister. Against private registries
	// it must not.
	a.RecordCommit("write", time.Millisecond)
	b.RecordCommit("write", time.Millisecond)
}

func TestRecordCommitIncrementsCounterAndObservesDuration(t *testing.T) {
	m := New()
	m.RecordCommit("write", 5*time.Millisecond)
	m.RecordCommit("write", 5*time.Millisecond)
	m.RecordCommit("read", time.Millisecond)

	if got := counterVecValue(t, m.TxnCommitsTotal, "write"); got != 2 {
		t.Errorf("expected 2 write commits, got %v", got)
	}
	if got := counterVecValue(t, m.TxnCommitsTotal, "read"); got != 1 {
		t.Errorf("expected 1 read commit, got %v", got)
	}
}

func TestRecordCursorStepIncrementsByState(t *testing.T) {
	m := New()
	m.RecordCursorStep("hasrow")
	m.RecordCursorStep("hasrow")
	m.RecordCursorStep("done")

	if got := counterVecValue(t, m.CursorStepsTotal, "hasrow"); got != 2 {
		t.Errorf("expected 2 hasrow steps, got %v", got)
	}
	if got := counterVecValue(t, m.CursorStepsTotal, "done"); got != 1 {
		t.Errorf("expected 1 done step, got %v", got)
	}
}

func TestRecordPageReadIncrementsByResult(t *testing.T) {
	m := New()
	m.RecordPageRead("hit")
	m.RecordPageRead("hit")
	m.RecordPageRead("miss")

	if got := counterVecValue(t, m.PageReadsTotal, "hit"); got != 2 {
		t.Errorf("expected 2 hits, got %v", got)
	}
	if got := counterVecValue(t, m.PageReadsTotal, "miss"); got != 1 {
		t.Errorf("expected 1 miss, got %v", got)
	}
}

func TestPlainCountersStartAtZero(t *testing.T) {
	m := New()
	for name, c := range map[string]prometheus.Counter{
		"PageWritesTotal":    m.PageWritesTotal,
		"PageAllocsTotal":    m.PageAllocsTotal,
		"PageFreesTotal":     m.PageFreesTotal,
		"OverflowPagesTotal": m.OverflowPagesTotal,
		"WalFsyncsTotal":     m.WalFsyncsTotal,
		"BtreeSplitsTotal":   m.BtreeSplitsTotal,
		"BtreeMergesTotal":   m.BtreeMergesTotal,
		"TxnAbortsTotal":     m.TxnAbortsTotal,
	} {
		if got := counterValue(t, c); got != 0 {
			t.Errorf("expected %s to start at 0, got %v", name, got)
		}
	}
}
