package server

import (
	"net/http/httptest"
	"testing"

	"github.com/aptiscout/aptiscout/internal/models"
)

func TestParseLimit_DefaultsWhenAbsentOrInvalid(t *testing.T) {
	cases := []struct {
		query string
		want  int
	}{
		{"", 50},
		{"limit=10", 10},
		{"limit=0", 50},
		{"limit=-5", 50},
		{"limit=abc", 50},
	}
	for _, c := range cases {
		req := httptest.NewRequest("GET", "/api/scraping/jobs?"+c.query, nil)
		if got := parseLimit(req, 50); got != c.want {
			t.Errorf("parseLimit(%q) = %d, want %d", c.query, got, c.want)
		}
	}
}

func TestTrendMetricName(t *testing.T) {
	cases := map[string]string{
		"performance": "page_extract_latency",
		"volume":      "questions_approved_total",
		"errors":      "driver_errors_total",
		"quality":     "questions_approved_total",
		"":            "questions_approved_total",
	}
	for dimension, want := range cases {
		if got := trendMetricName(dimension); got != want {
			t.Errorf("trendMetricName(%q) = %q, want %q", dimension, got, want)
		}
	}
}

func TestSourceResponse_ReturnsValueCopy(t *testing.T) {
	cfg := &models.SourceConfig{SourceID: "StaticSrc", DisplayName: "Static Source"}
	resp := sourceResponse(cfg)
	resp.DisplayName = "mutated"
	if cfg.DisplayName != "Static Source" {
		t.Error("sourceResponse must return a copy, not alias the stored config")
	}
}

func TestSourceListResponse_PreservesOrder(t *testing.T) {
	sources := []*models.SourceConfig{
		{SourceID: "a"},
		{SourceID: "b"},
	}
	out := sourceListResponse(sources)
	if len(out) != 2 || out[0].SourceID != "a" || out[1].SourceID != "b" {
		t.Errorf("unexpected order: %+v", out)
	}
}

func TestJobResponse_IncludesRequestID(t *testing.T) {
	run := &models.JobRun{RunID: "run-1", State: models.JobQueued}
	resp := jobResponse(run, "req-42")
	if resp["request_id"] != "req-42" {
		t.Errorf("expected request_id req-42, got %v", resp["request_id"])
	}
	if resp["job_id"] != "run-1" {
		t.Errorf("expected job_id run-1, got %v", resp["job_id"])
	}
}

func TestRequestID_ReadsCorrelationHeader(t *testing.T) {
	rr := httptest.NewRecorder()
	rr.Header().Set("X-Correlation-ID", "corr-1")
	if got := requestID(rr); got != "corr-1" {
		t.Errorf("requestID() = %q, want corr-1", got)
	}
}
