package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestUnaryInterceptorRecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewRPCCollector(reg)
	if err != nil {
		t.Fatalf("NewRPCCollector: %v", err)
	}

	interceptor := collector.UnaryServerInterceptor()
	info := &grpc.UnaryServerInfo{FullMethod: "/macsched.v1.ScheduleQuery/GetSchedule"}

	_, err = interceptor(context.Background(), struct{}{}, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		time.Sleep(time.Millisecond)
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("interceptor handler returned error: %v", err)
	}

	if got := testutil.ToFloat64(collector.Requests.WithLabelValues("ScheduleQuery", "GetSchedule", "OK")); got != 1 {
		t.Fatalf("macsched_rpc_requests_total = %v, want 1", got)
	}
	if count := histogramSampleCount(t, reg, "macsched_rpc_duration_seconds", map[string]string{
		"service": "ScheduleQuery",
		"method":  "GetSchedule",
	}); count != 1 {
		t.Fatalf("macsched_rpc_duration_seconds sample_count = %d, want 1", count)
	}
}

func TestUnaryInterceptorRecordsErrorCode(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewRPCCollector(reg)
	if err != nil {
		t.Fatalf("NewRPCCollector: %v", err)
	}

	info := &grpc.UnaryServerInfo{FullMethod: "/macsched.v1.ScheduleQuery/IsScheduled"}
	_, _ = collector.UnaryServerInterceptor()(context.Background(), struct{}{}, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return nil, status.Error(codes.Unavailable, "not ready")
	})

	if got := testutil.ToFloat64(collector.Requests.WithLabelValues("ScheduleQuery", "IsScheduled", "Unavailable")); got != 1 {
		t.Fatalf("error label count = %v, want 1", got)
	}
}

func TestNewRPCCollectorReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewRPCCollector(reg)
	if err != nil {
		t.Fatalf("first NewRPCCollector: %v", err)
	}
	second, err := NewRPCCollector(reg)
	if err != nil {
		t.Fatalf("second NewRPCCollector: %v", err)
	}
	if first.Requests != second.Requests {
		t.Fatalf("expected second collector to reuse the registered counter vec")
	}
}

func TestSchedulerCollectorRecordsDecision(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewSchedulerCollector(reg, 4)
	if err != nil {
		t.Fatalf("NewSchedulerCollector: %v", err)
	}

	c.RecordDecision(1, 3, []int32{1, 2}, 20*time.Microsecond, false)
	c.RecordDecision(2, 3, []int32{1, 2}, 10*time.Microsecond, true)
	c.SetHistory([]float64{0.01, 1.5, 2.5, 0.01})
	c.SetFairness(1.7)

	if got := testutil.ToFloat64(c.FramesTotal); got != 2 {
		t.Fatalf("frames_total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.FallbackFrames); got != 1 {
		t.Fatalf("fallback_frames_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.SelectedAction); got != 3 {
		t.Fatalf("selected_action = %v, want 3", got)
	}
	if got := testutil.ToFloat64(c.ueScheduled[1]); got != 2 {
		t.Fatalf("ue 1 scheduled = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.ueScheduled[0]); got != 0 {
		t.Fatalf("ue 0 scheduled = %v, want 0", got)
	}
	if got := testutil.ToFloat64(c.ueHistory[2]); got != 2.5 {
		t.Fatalf("ue 2 history = %v, want 2.5", got)
	}
	if got := testutil.ToFloat64(c.FairnessIndex); got != 1 {
		t.Fatalf("fairness index = %v, want clamped 1", got)
	}
	if count := histogramSampleCount(t, reg, "macsched_decision_duration_seconds", nil); count != 2 {
		t.Fatalf("decision duration samples = %d, want 2", count)
	}
}

func TestNilSchedulerCollectorIsSafe(t *testing.T) {
	var c *SchedulerCollector
	c.RecordDecision(0, 0, []int32{0}, time.Millisecond, false)
	c.SetHistory([]float64{1})
	c.SetFairness(0.5)
	if c.Gatherer() != nil {
		t.Fatalf("nil collector should have nil gatherer")
	}
}

func TestMetricsHandlerExposesSchedulerSeries(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewSchedulerCollector(reg, 2)
	if err != nil {
		t.Fatalf("NewSchedulerCollector: %v", err)
	}
	c.RecordDecision(0, 0, []int32{0}, time.Microsecond, false)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	HandlerFor(c.Gatherer()).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d, want 200", rr.Code)
	}
	body := rr.Body.String()
	for _, metric := range []string{
		"macsched_frames_total",
		"macsched_decision_duration_seconds",
		"macsched_selected_action",
		`macsched_ue_scheduled_total{ue="0"} 1`,
		`macsched_ue_pf_history{ue="1"}`,
	} {
		if !strings.Contains(body, metric) {
			t.Fatalf("expected %q in /metrics output", metric)
		}
	}
}

func TestSplitMethod(t *testing.T) {
	cases := []struct {
		in, service, method string
	}{
		{"/macsched.v1.ScheduleQuery/GetMcs", "ScheduleQuery", "GetMcs"},
		{"", "unknown", "unknown"},
		{"nomethod", "unknown", "unknown"},
		{"/svc/", "svc", "unknown"},
	}
	for _, tc := range cases {
		service, method := SplitMethod(tc.in)
		if service != tc.service || method != tc.method {
			t.Fatalf("SplitMethod(%q) = (%q, %q), want (%q, %q)", tc.in, service, method, tc.service, tc.method)
		}
	}
}

func histogramSampleCount(t *testing.T, gatherer prometheus.Gatherer, name string, labels map[string]string) uint64 {
	t.Helper()

	metrics, err := gatherer.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metrics {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.Metric {
			if matchLabels(m.GetLabel(), labels) && m.GetHistogram() != nil {
				return m.GetHistogram().GetSampleCount()
			}
		}
	}
	return 0
}

func matchLabels(got []*dto.LabelPair, want map[string]string) bool {
	if len(got) < len(want) {
		return false
	}
	matched := 0
	for _, lp := range got {
		if val, ok := want[lp.GetName()]; ok && val == lp.GetValue() {
			matched++
		}
	}
	return matched == len(want)
}
