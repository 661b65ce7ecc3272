package jobs

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestRunnerRunsSubmittedJobs(t *testing.T) {
	r := NewRunner(Config{Concurrency: 2, Logger: zerolog.Nop()})

	var count atomic.Int32
	for i := 0; i < 10; i++ {
		if err := r.Submit("count", func(context.Context) error {
			count.Add(1)
			return nil
		}); err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
	}

	if err := r.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if got := count.Load(); got != 10 {
		t.Fatalf("jobs run = %d, want 10", got)
	}
}

func TestRunnerSubmitReturnsBeforeJobCompletes(t *testing.T) {
	r := NewRunner(Config{Logger: zerolog.Nop()})
	release := make(chan struct{})

	start := time.Now()
	if err := r.Submit("blocked", func(context.Context) error {
		<-release
		return nil
	}); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("Submit() blocked for %v", elapsed)
	}

	close(release)
	if err := r.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
}

func TestRunnerBoundsConcurrency(t *testing.T) {
	r := NewRunner(Config{Concurrency: 2, Logger: zerolog.Nop()})

	var running, peak atomic.Int32
	for i := 0; i < 8; i++ {
		_ = r.Submit("bounded", func(context.Context) error {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			running.Add(-1)
			return nil
		})
	}
	_ = r.Shutdown(context.Background())

	if got := peak.Load(); got > 2 {
		t.Fatalf("peak concurrency = %d, want <= 2", got)
	}
}

func TestRunnerLogsFailuresAndRecoversPanics(t *testing.T) {
	var buf bytes.Buffer
	r := NewRunner(Config{Logger: zerolog.New(&buf)})

	_ = r.Submit("fails", func(context.Context) error { return errors.New("sink offline") })
	_ = r.Submit("panics", func(context.Context) error { panic("boom") })
	if err := r.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	out := buf.String()
	for _, want := range []string{"sink offline", "job panicked: boom", `"job":"fails"`, `"job":"panics"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("log output missing %q:\n%s", want, out)
		}
	}
}

func TestRunnerRejectsSubmitAfterShutdown(t *testing.T) {
	r := NewRunner(Config{Logger: zerolog.Nop()})
	if err := r.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if err := r.Submit("late", func(context.Context) error { return nil }); !errors.Is(err, ErrClosed) {
		t.Fatalf("Submit() after shutdown error = %v, want ErrClosed", err)
	}
}

func TestRunnerShutdownDeadlineCancelsJobs(t *testing.T) {
	r := NewRunner(Config{Logger: zerolog.Nop()})
	cancelled := make(chan struct{})
	_ = r.Submit("slow", func(ctx context.Context) error {
		<-ctx.Done()
		close(cancelled)
		return ctx.Err()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := r.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Shutdown() error = %v, want DeadlineExceeded", err)
	}

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("job context was not cancelled")
	}
}

func TestRunnerAppliesPerJobTimeout(t *testing.T) {
	r := NewRunner(Config{Timeout: 10 * time.Millisecond, Logger: zerolog.Nop()})
	got := make(chan error, 1)
	_ = r.Submit("timeout", func(ctx context.Context) error {
		<-ctx.Done()
		got <- ctx.Err()
		return ctx.Err()
	})
	_ = r.Shutdown(context.Background())

	if err := <-got; !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("job ctx error = %v, want DeadlineExceeded", err)
	}
}
