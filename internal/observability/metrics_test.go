package observability

import (
	"testing"
	"time"

	"github.com/danmuck/gclink/internal/testutil/testlog"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	testlog.Start(t)
	RegisterMetrics()
	RegisterMetrics()

	RecordHTTPRequest("gcctl", "GET", "/health", 200, 12*time.Millisecond)
	RecordFrame(730, "welcome")
	RecordDecodeError(730)
	RecordHeartbeatFailure(730)
	SetSessionState(730, 3)
	RecordWaiter(730, "craft_response", "matched")
	SetCachedObjects(730, 12)
	RecordDriftRepair(730, "recovered")
}

func TestRecordersUseAppLabel(t *testing.T) {
	testlog.Start(t)
	before := testutil.ToFloat64(driftRepairs.WithLabelValues("440", "failed"))
	RecordDriftRepair(440, "failed")
	RecordDriftRepair(440, "failed")
	if got := testutil.ToFloat64(driftRepairs.WithLabelValues("440", "failed")); got != before+2 {
		t.Fatalf("drift repairs=%v want=%v", got, before+2)
	}

	SetCachedObjects(440, 7)
	if got := testutil.ToFloat64(cachedObjects.WithLabelValues("440")); got != 7 {
		t.Fatalf("cached objects gauge=%v", got)
	}
}
