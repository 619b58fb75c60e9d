package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordRotationCountsByOutcome(t *testing.T) {
	before := testutil.ToFloat64(rotationsTotal.WithLabelValues("won"))
	RecordRotation(true)
	after := testutil.ToFloat64(rotationsTotal.WithLabelValues("won"))
	if after != before+1 {
		t.Fatalf("expected won counter to increment by 1, went from %v to %v", before, after)
	}
}

func TestRecordPARIssuedByAccessType(t *testing.T) {
	before := testutil.ToFloat64(parIssuedTotal.WithLabelValues("ObjectRead"))
	RecordPARIssued("ObjectRead")
	after := testutil.ToFloat64(parIssuedTotal.WithLabelValues("ObjectRead"))
	if after != before+1 {
		t.Fatalf("expected ObjectRead counter to increment by 1, went from %v to %v", before, after)
	}
}

func TestObserveMutexWaitDoesNotPanic(t *testing.T) {
	if n := testutil.CollectAndCount(mutexWaitSeconds); n != 1 {
		t.Fatalf("expected exactly one histogram series, got %d", n)
	}
	ObserveMutexWait(50 * time.Millisecond)
}

func TestRecordAdminMutationDoesNotPanic(t *testing.T) {
	RecordAdminMutation()
}
