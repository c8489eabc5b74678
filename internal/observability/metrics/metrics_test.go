package metrics

import (
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNormalizePath(t *testing.T) {
	cases := []struct {
		name string
		path string
		want string
	}{
		{name: "root", path: "/", want: "/"},
		{name: "empty", path: "", want: "/"},
		{name: "uploads", path: "/api/uploads", want: "/api/uploads"},
		{name: "direct", path: "/api/uploads/direct", want: "/api/uploads/direct"},
		{name: "numeric id", path: "/api/uploads/123456", want: "/api/uploads/:id"},
		{name: "guid segment", path: "/api/uploads/9f86d081884c7d65", want: "/api/uploads/:id"},
		{name: "trailing slash", path: "/healthz/", want: "/healthz"},
		{name: "missing leading slash", path: "metrics", want: "/metrics"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			if got := normalizePath(tc.path); got != tc.want {
				t.Fatalf("normalizePath(%q) = %q, want %q", tc.path, got, tc.want)
			}
		})
	}
}

func TestObserveRequestNormalizesLabels(t *testing.T) {
	recorder := New()

	recorder.ObserveRequest("get", "/api/uploads", 200, 150*time.Millisecond)
	recorder.ObserveRequest("GET", "/api/uploads/", 200, 50*time.Millisecond)
	recorder.ObserveRequest("POST", "/api/uploads/direct", 401, time.Second)

	got := testutil.ToFloat64(recorder.requests.WithLabelValues("GET", "/api/uploads", "200"))
	if got != 2 {
		t.Fatalf("GET /api/uploads count = %v, want 2", got)
	}
	got = testutil.ToFloat64(recorder.requests.WithLabelValues("POST", "/api/uploads/direct", "401"))
	if got != 1 {
		t.Fatalf("POST /api/uploads/direct count = %v, want 1", got)
	}
}

func TestObserveUploadOutcomes(t *testing.T) {
	recorder := New()

	recorder.ObserveUpload(UploadSucceeded, 2048)
	recorder.ObserveUpload(UploadSucceeded, 4096)
	recorder.ObserveUpload(UploadRejectedType, 0)
	recorder.ObserveUpload("  ", 0)

	if got := testutil.ToFloat64(recorder.uploads.WithLabelValues("succeeded")); got != 2 {
		t.Fatalf("succeeded count = %v, want 2", got)
	}
	if got := testutil.ToFloat64(recorder.uploads.WithLabelValues("rejected_type")); got != 1 {
		t.Fatalf("rejected_type count = %v, want 1", got)
	}
	if got := testutil.ToFloat64(recorder.uploads.WithLabelValues("unknown")); got != 1 {
		t.Fatalf("blank outcome should normalize to unknown, got %v", got)
	}

	body := scrape(t, recorder)
	if !strings.Contains(body, "mediarelay_upload_bytes_count 2") {
		t.Fatalf("expected two byte observations, output:\n%s", body)
	}
}

func TestInFlightGauge(t *testing.T) {
	recorder := New()

	var wg sync.WaitGroup
	wg.Add(20)
	for i := 0; i < 10; i++ {
		go func() {
			defer wg.Done()
			recorder.UploadStarted()
		}()
		go func() {
			defer wg.Done()
			recorder.UploadFinished()
		}()
	}
	wg.Wait()

	if got := testutil.ToFloat64(recorder.uploadsInFlight); got != 0 {
		t.Fatalf("in-flight gauge = %v, want 0", got)
	}
}

func TestDomainCounters(t *testing.T) {
	recorder := New()

	recorder.OrphanRecorded()
	recorder.CredentialIssued()
	recorder.CredentialIssued()
	recorder.ObserveReconcile("finished")
	recorder.ObserveReconcile("timeout")
	recorder.StagingSwept(3)
	recorder.StagingSwept(0)
	recorder.StagingSwept(-1)

	if got := testutil.ToFloat64(recorder.orphanedVideos); got != 1 {
		t.Fatalf("orphaned videos = %v, want 1", got)
	}
	if got := testutil.ToFloat64(recorder.credentials); got != 2 {
		t.Fatalf("credentials = %v, want 2", got)
	}
	if got := testutil.ToFloat64(recorder.reconciles.WithLabelValues("finished")); got != 1 {
		t.Fatalf("reconcile finished = %v, want 1", got)
	}
	if got := testutil.ToFloat64(recorder.sweptFiles); got != 3 {
		t.Fatalf("swept files = %v, want 3", got)
	}
}

func TestHandlerServesExposition(t *testing.T) {
	recorder := New()
	recorder.ObserveRequest("GET", "/healthz", 200, 5*time.Millisecond)

	res := httptest.NewRecorder()
	recorder.Handler().ServeHTTP(res, httptest.NewRequest("GET", "/metrics", nil))

	if res.Code != 200 {
		t.Fatalf("handler status = %d, want 200", res.Code)
	}
	contentType := res.Result().Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "text/plain") {
		t.Fatalf("unexpected content type: %s", contentType)
	}
	if !strings.Contains(res.Body.String(), `mediarelay_http_requests_total{method="GET",path="/healthz",status="200"} 1`) {
		t.Fatalf("expected request series in output:\n%s", res.Body.String())
	}
}

func TestDefaultRecorderIsStable(t *testing.T) {
	if Default() == nil {
		t.Fatalf("Default() returned nil")
	}
	if Default() != Default() {
		t.Fatalf("Default() should return the same instance")
	}
}

func scrape(t *testing.T, recorder *Recorder) string {
	t.Helper()
	res := httptest.NewRecorder()
	recorder.Handler().ServeHTTP(res, httptest.NewRequest("GET", "/metrics", nil))
	return res.Body.String()
}
