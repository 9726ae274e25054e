package observability

import (
	"testing"
	"time"

	"github.com/danmuck/clawbridge/internal/testutil/testlog"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	testlog.Start(t)
	RegisterMetrics()
	RegisterMetrics()

	RecordHTTPRequest("bridge-a", "GET", "/health", 200, 12*time.Millisecond)
	RecordConnectAttempt("gateway", false)
	SetConnected("gateway", true)
	RecordStoreOp("update", 3*time.Millisecond, true)
	RecordTranslated("complete")

	before := testutil.ToFloat64(droppedTotal.WithLabelValues("webhook", DropEmpty))
	RecordDrop("webhook", DropEmpty)
	after := testutil.ToFloat64(droppedTotal.WithLabelValues("webhook", DropEmpty))
	if after != before+1 {
		t.Fatalf("drop counter did not advance before=%v after=%v", before, after)
	}

	RecordFrame("webhook", "in")
	if got := testutil.ToFloat64(framesTotal.WithLabelValues("webhook", "in")); got < 1 {
		t.Fatalf("frame counter not recorded got=%v", got)
	}
	if got := testutil.ToFloat64(connectedGauge.WithLabelValues("gateway")); got != 1 {
		t.Fatalf("connected gauge got=%v", got)
	}
}
