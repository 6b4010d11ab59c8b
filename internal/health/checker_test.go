package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

type stubPinger struct {
	err error
}

func (s stubPinger) Ping(_ context.Context) error { return s.err }

func TestCheckReportsOKWhenDatabaseReachable(t *testing.T) {
	checker := New(stubPinger{}, time.Second, zap.NewNop())
	result := checker.Check(context.Background())

	if result.Status != StatusOK {
		t.Errorf("expected status ok, got %q", result.Status)
	}
	if result.Checks["database"] != "ok" {
		t.Errorf("expected database check ok, got %q", result.Checks["database"])
	}
}

func TestCheckReportsDegradedWhenDatabaseUnreachable(t *testing.T) {
	checker := New(stubPinger{err: errors.New("connection refused")}, time.Second, zap.NewNop())
	result := checker.Check(context.Background())

	if result.Status != StatusDegraded {
		t.Errorf("expected status degraded, got %q", result.Status)
	}
	if result.Checks["database"] == "ok" {
		t.Error("expected database check to report failure")
	}
}
