package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestServerAddrBeforeAndAfterStart(t *testing.T) {
	s := NewServerWithRegistry("127.0.0.1:0", prometheus.NewRegistry())
	if s.Addr() != "127.0.0.1:0" {
		t.Errorf("Addr before Start = %q", s.Addr())
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Close()

	if addr := s.Addr(); addr == "127.0.0.1:0" || !strings.HasPrefix(addr, "127.0.0.1:") {
		t.Errorf("Addr after Start = %q, want bound port", addr)
	}
}

func TestServerRoutes(t *testing.T) {
	reg := prometheus.NewRegistry()
	gc := NewGCMetricsWithRegistry(reg)
	gc.RecordTick("throttled", 0.002)
	gc.SetQueueDepth(9)

	tests := []struct {
		name     string
		pprof    bool
		path     string
		wantCode int
		wantBody []string
	}{
		{
			name:     "scrape",
			path:     "/metrics",
			wantCode: http.StatusOK,
			wantBody: []string{
				"reclaim_scheduler_tick_duration_seconds",
				"reclaim_scheduler_queue_depth 9",
				`result="throttled"`,
			},
		},
		{name: "pprof off", path: "/debug/pprof/", wantCode: http.StatusNotFound},
		{name: "pprof on", pprof: true, path: "/debug/pprof/", wantCode: http.StatusOK},
		{name: "unknown", path: "/healthz", wantCode: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(NewServerWithRegistry(":0", reg).WithPprof(tt.pprof).Handler())
			defer srv.Close()

			resp, err := http.Get(srv.URL + tt.path)
			if err != nil {
				t.Fatalf("GET %s: %v", tt.path, err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != tt.wantCode {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.wantCode)
			}
			body, _ := io.ReadAll(resp.Body)
			for _, want := range tt.wantBody {
				if !strings.Contains(string(body), want) {
					t.Errorf("body missing %q", want)
				}
			}
		})
	}
}

func TestServerCloseStopsListener(t *testing.T) {
	s := NewServerWithRegistry("127.0.0.1:0", prometheus.NewRegistry())
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	addr := s.Addr()
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if resp, err := http.Get("http://" + addr + "/metrics"); err == nil {
		resp.Body.Close()
		t.Error("listener still serving after Close")
	}

	// Closing a server that never started is a no-op.
	if err := NewServer(":0").Close(); err != nil {
		t.Errorf("Close without Start: %v", err)
	}
}
