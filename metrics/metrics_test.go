package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCountersIncrement(t *testing.T) {
	m := New()
	m.BlocksCommitted.Inc()
	m.BlocksCommitted.Inc()
	if got := testutil.ToFloat64(m.BlocksCommitted); got != 2 {
		t.Fatalf("blocks committed = %v, want 2", got)
	}
}

func TestGaugeSet(t *testing.T) {
	m := New()
	m.CurrentSlot.Set(42)
	if got := testutil.ToFloat64(m.CurrentSlot); got != 42 {
		t.Fatalf("current slot = %v, want 42", got)
	}
}

func TestRegistryGather(t *testing.T) {
	m := New()
	m.VotesProcessed.Inc()
	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatal(err)
	}
	if len(families) == 0 {
		t.Fatalf("expected at least one metric family registered")
	}
}
