package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestHelpersBeforeInitAreNoops(t *testing.T) {
	// Init has not run yet in this test binary; nothing may panic.
	IncUplinkDropped("bad_payload")
	SetBinsOnline(3)
	IncTelemetryReceived("")
}

func TestCountersAndGauges(t *testing.T) {
	Init()

	IncUplinkDropped("bad_payload")
	IncUplinkDropped("bad_payload")
	IncUplinkDropped("")
	if got := testutil.ToFloat64(uplinksDropped.WithLabelValues("bad_payload")); got != 2 {
		t.Errorf("bad_payload drops = %v, want 2", got)
	}
	if got := testutil.ToFloat64(uplinksDropped.WithLabelValues("unknown")); got != 1 {
		t.Errorf("unknown drops = %v, want 1", got)
	}

	SetBinsOnline(7)
	if got := testutil.ToFloat64(binsOnline); got != 7 {
		t.Errorf("bins online = %v, want 7", got)
	}
	SetBinsOnline(5)
	if got := testutil.ToFloat64(binsOnline); got != 5 {
		t.Errorf("bins online = %v, want 5", got)
	}
}
