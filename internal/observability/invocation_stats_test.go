package observability

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	benchErrors "github.com/rasterbench/rasterbench/internal/errors"
	"github.com/rasterbench/rasterbench/internal/report"
	"github.com/rasterbench/rasterbench/internal/trial"
)

func invocation(probe string, d time.Duration, err error) *trial.Invocation {
	return &trial.Invocation{Probe: probe, Duration: d, Err: err}
}

// TestInvocationCompletedConcurrent tests concurrent recording for race conditions.
func TestInvocationCompletedConcurrent(t *testing.T) {
	qs := NewInvocationStats()
	ctx := context.Background()
	var wg sync.WaitGroup
	numGoroutines := 10
	recordsPerGoroutine := 100

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < recordsPerGoroutine; j++ {
				qs.InvocationCompleted(ctx, invocation("convert", time.Millisecond, nil))
				qs.InvocationCompleted(ctx, invocation("read", time.Millisecond, nil))
			}
		}()
	}
	wg.Wait()

	top := qs.Top(10)
	if len(top) != 2 {
		t.Fatalf("expected 2 probes, got %d", len(top))
	}
	expected := int64(numGoroutines * recordsPerGoroutine)
	for _, s := range top {
		if s.Count != expected {
			t.Errorf("expected count %d for %s, got %d", expected, s.Probe, s.Count)
		}
		if s.Total != time.Duration(expected)*time.Millisecond {
			t.Errorf("total for %s = %v", s.Probe, s.Total)
		}
	}
}

// TestTopOrdering tests that Top sorts by total wall time.
func TestTopOrdering(t *testing.T) {
	qs := NewInvocationStats()
	ctx := context.Background()

	qs.InvocationCompleted(ctx, invocation("convert", 5*time.Second, nil))
	for i := 0; i < 3; i++ {
		qs.InvocationCompleted(ctx, invocation("read", 1*time.Second, nil))
	}
	qs.InvocationCompleted(ctx, invocation("read-adios2", 4*time.Second, nil))

	top := qs.Top(3)
	want := []string{"convert", "read-adios2", "read"}
	for i, name := range want {
		if top[i].Probe != name {
			t.Errorf("top[%d] = %s, want %s", i, top[i].Probe, name)
		}
	}
	if top[2].Mean() != time.Second || top[2].Max != time.Second {
		t.Errorf("read stats = %+v", top[2])
	}

	if got := qs.Top(1); len(got) != 1 {
		t.Errorf("Top(1) returned %d entries", len(got))
	}
	if got := qs.Top(0); len(got) != 0 {
		t.Errorf("Top(0) returned %d entries", len(got))
	}
}

func TestFailuresByCode(t *testing.T) {
	qs := NewInvocationStats()
	ctx := context.Background()

	timeout := benchErrors.NewLaunchError(benchErrors.CodeLaunchTimeout, "./test_benchmark", errors.New("timed out"))
	qs.InvocationCompleted(ctx, invocation("read", time.Second, timeout))
	qs.InvocationCompleted(ctx, invocation("read", time.Second, errors.New("plain")))
	qs.InvocationCompleted(ctx, invocation("read", time.Second, nil))

	s := qs.Top(1)[0]
	if s.Failures != 2 || s.Count != 3 {
		t.Errorf("failures/count = %d/%d, want 2/3", s.Failures, s.Count)
	}
	if s.Codes[benchErrors.CodeLaunchTimeout] != 1 || s.Codes["UNKNOWN"] != 1 {
		t.Errorf("codes = %v", s.Codes)
	}

	// Top hands out copies.
	s.Codes[benchErrors.CodeLaunchTimeout] = 99
	if qs.Top(1)[0].Codes[benchErrors.CodeLaunchTimeout] != 1 {
		t.Error("Top leaked internal map")
	}
}

func TestSweepStartedResets(t *testing.T) {
	qs := NewInvocationStats()
	ctx := context.Background()
	qs.InvocationCompleted(ctx, invocation("convert", time.Second, nil))

	if err := qs.SweepStarted(ctx, &report.SweepReport{RunID: "r"}); err != nil {
		t.Fatal(err)
	}
	if qs.Len() != 0 {
		t.Errorf("Len = %d after SweepStarted", qs.Len())
	}

	qs.InvocationCompleted(ctx, invocation("read", time.Second, nil))
	if err := qs.SweepFinished(ctx, &report.SweepReport{RunID: "r"}); err != nil {
		t.Fatal(err)
	}
}
