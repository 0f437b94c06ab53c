package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/therealutkarshpriyadarshi/transcribe/internal/logging"
)

func TestRecordHTTPRequest(t *testing.T) {
	// Reset metrics
	HTTPRequestsTotal.Reset()
	HTTPRequestDuration.Reset()

	RecordHTTPRequest("GET", "/api/v1/plans", "200", 0.123)

	// Verify counter incremented
	counter := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "/api/v1/plans", "200"))
	if counter != 1.0 {
		t.Errorf("Expected counter to be 1.0, got %f", counter)
	}
}

func TestRecordOutcome(t *testing.T) {
	PipelineOutcomesTotal.Reset()

	RecordOutcome("delivered", "delivered", 12.5)
	RecordOutcome("rejected", "quota_exceeded", 0.4)
	RecordOutcome("delivered", "delivered", 3.1)

	delivered := testutil.ToFloat64(PipelineOutcomesTotal.WithLabelValues("delivered", "delivered"))
	if delivered != 2.0 {
		t.Errorf("Expected delivered counter to be 2.0, got %f", delivered)
	}

	rejected := testutil.ToFloat64(PipelineOutcomesTotal.WithLabelValues("rejected", "quota_exceeded"))
	if rejected != 1.0 {
		t.Errorf("Expected rejected counter to be 1.0, got %f", rejected)
	}
}

func TestUpdateJobMetrics(t *testing.T) {
	UpdateJobMetrics(5, 10)

	inProgress := testutil.ToFloat64(JobsInProgress)
	if inProgress != 5.0 {
		t.Errorf("Expected jobs in progress to be 5.0, got %f", inProgress)
	}

	queueDepth := testutil.ToFloat64(JobsQueueDepth)
	if queueDepth != 10.0 {
		t.Errorf("Expected queue depth to be 10.0, got %f", queueDepth)
	}
}

func TestRecordMinutesDebited(t *testing.T) {
	MinutesDebitedTotal.Reset()

	RecordMinutesDebited("free", 1.5)
	RecordMinutesDebited("free", 2.0)

	debited := testutil.ToFloat64(MinutesDebitedTotal.WithLabelValues("free"))
	if debited != 3.5 {
		t.Errorf("Expected debited minutes to be 3.5, got %f", debited)
	}
}

func TestRecordQuotaRejection(t *testing.T) {
	QuotaRejectionsTotal.Reset()

	RecordQuotaRejection("basic")

	if got := testutil.ToFloat64(QuotaRejectionsTotal.WithLabelValues("basic")); got != 1.0 {
		t.Errorf("Expected rejection counter to be 1.0, got %f", got)
	}
}

func TestRecordStorageOperation(t *testing.T) {
	StorageOperationsTotal.Reset()
	StorageBytesTransferred.Reset()

	RecordStorageOperation("download", "success", 1.234, 1048576)

	counter := testutil.ToFloat64(StorageOperationsTotal.WithLabelValues("download", "success"))
	if counter != 1.0 {
		t.Errorf("Expected storage operation counter to be 1.0, got %f", counter)
	}

	bytes := testutil.ToFloat64(StorageBytesTransferred.WithLabelValues("download"))
	if bytes != 1048576.0 {
		t.Errorf("Expected bytes transferred to be 1048576.0, got %f", bytes)
	}
}

func TestRecordDatabaseOperation(t *testing.T) {
	DatabaseOperationsTotal.Reset()

	RecordDatabaseOperation("reserve", Status(nil), 0.05)
	RecordDatabaseOperation("commit", Status(errors.New("boom")), 0.02)

	success := testutil.ToFloat64(DatabaseOperationsTotal.WithLabelValues("reserve", "success"))
	if success != 1.0 {
		t.Errorf("Expected reserve success counter to be 1.0, got %f", success)
	}

	failed := testutil.ToFloat64(DatabaseOperationsTotal.WithLabelValues("commit", "error"))
	if failed != 1.0 {
		t.Errorf("Expected commit error counter to be 1.0, got %f", failed)
	}
}

func TestRecordCacheAccess(t *testing.T) {
	CacheHitsTotal.Reset()
	CacheMissesTotal.Reset()

	RecordCacheAccess("usage", true)
	RecordCacheAccess("usage", true)
	RecordCacheAccess("usage", false)

	hits := testutil.ToFloat64(CacheHitsTotal.WithLabelValues("usage"))
	if hits != 2.0 {
		t.Errorf("Expected cache hits to be 2.0, got %f", hits)
	}

	misses := testutil.ToFloat64(CacheMissesTotal.WithLabelValues("usage"))
	if misses != 1.0 {
		t.Errorf("Expected cache misses to be 1.0, got %f", misses)
	}
}

func TestRecordError(t *testing.T) {
	ErrorsTotal.Reset()

	RecordError("api", "validation")
	RecordError("worker", "persistence")
	RecordError("api", "validation")

	apiErrors := testutil.ToFloat64(ErrorsTotal.WithLabelValues("api", "validation"))
	if apiErrors != 2.0 {
		t.Errorf("Expected API validation errors to be 2.0, got %f", apiErrors)
	}

	workerErrors := testutil.ToFloat64(ErrorsTotal.WithLabelValues("worker", "persistence"))
	if workerErrors != 1.0 {
		t.Errorf("Expected worker persistence errors to be 1.0, got %f", workerErrors)
	}
}

func TestServerExposesMetrics(t *testing.T) {
	RecordReferralCredit()

	srv := NewServer(0, logging.NewNopLogger())
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "transcribe_referral_credits_total") {
		t.Errorf("Expected referral credit metric in output")
	}

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Body.String() != "OK" {
		t.Errorf("Expected OK body, got %q", rec.Body.String())
	}
}

func BenchmarkRecordHTTPRequest(b *testing.B) {
	for i := 0; i < b.N; i++ {
		RecordHTTPRequest("GET", "/api/v1/plans", "200", 0.123)
	}
}
