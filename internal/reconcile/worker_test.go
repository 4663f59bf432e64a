package reconcile

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"

	"github.com/acervoteatro/acervo/internal/lending"
)

type countingReconciler struct {
	calls atomic.Int32
	grace atomic.Int64
	err   error
}

func (r *countingReconciler) Reconcile(_ context.Context, grace time.Duration) (*lending.ReconcileReport, error) {
	r.calls.Add(1)
	r.grace.Store(int64(grace))
	if r.err != nil {
		return nil, r.err
	}
	return &lending.ReconcileReport{Released: []string{"item-1"}}, nil
}

func TestRunOnceWithoutLock(t *testing.T) {
	r := &countingReconciler{}
	w := &Worker{Reconciler: r, Grace: 3 * time.Minute}

	report, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if len(report.Released) != 1 {
		t.Errorf("expected 1 released item, got %v", report.Released)
	}
	if time.Duration(r.grace.Load()) != 3*time.Minute {
		t.Errorf("expected grace 3m, got %v", time.Duration(r.grace.Load()))
	}
}

func TestRunOnceUnreachableRedisStillRuns(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	r := &countingReconciler{}
	w := &Worker{Reconciler: r, Locker: redislock.New(client)}
	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if r.calls.Load() != 1 {
		t.Errorf("expected pass to run, got %d calls", r.calls.Load())
	}
}

func TestRunOncePropagatesError(t *testing.T) {
	boom := errors.New("db down")
	w := &Worker{Reconciler: &countingReconciler{err: boom}}
	if _, err := w.RunOnce(context.Background()); !errors.Is(err, boom) {
		t.Errorf("expected %v, got %v", boom, err)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	r := &countingReconciler{}
	w := &Worker{Reconciler: r, Interval: 10 * time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for r.calls.Load() < 2 {
		select {
		case <-deadline:
			t.Fatal("worker did not run")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}

// blockingReconciler holds each pass open until release is closed.
type blockingReconciler struct {
	entered chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func (r *blockingReconciler) Reconcile(context.Context, time.Duration) (*lending.ReconcileReport, error) {
	r.calls.Add(1)
	r.entered <- struct{}{}
	<-r.release
	return &lending.ReconcileReport{}, nil
}

func TestRunOnceSharedLock(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	holder := &blockingReconciler{entered: make(chan struct{}, 1), release: make(chan struct{})}
	other := &countingReconciler{}
	first := &Worker{Reconciler: holder, Locker: redislock.New(client), Interval: time.Minute}
	second := &Worker{Reconciler: other, Locker: redislock.New(client), Interval: time.Minute}

	type result struct {
		report *lending.ReconcileReport
		err    error
	}
	done := make(chan result, 1)
	go func() {
		report, err := first.RunOnce(context.Background())
		done <- result{report, err}
	}()

	select {
	case <-holder.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("first worker did not start its pass")
	}

	report, err := second.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("second RunOnce: %v", err)
	}
	if report != nil {
		t.Errorf("expected nil report while the lock is held, got %+v", report)
	}
	if other.calls.Load() != 0 {
		t.Errorf("expected no pass on the second worker, got %d", other.calls.Load())
	}

	close(holder.release)
	res := <-done
	if res.err != nil || res.report == nil {
		t.Fatalf("expected first worker to report, got %v, %v", res.report, res.err)
	}

	// The lock is released after the pass.
	report, err = second.RunOnce(context.Background())
	if err != nil || report == nil {
		t.Errorf("expected second worker to run once the lock is free, got %v, %v", report, err)
	}
	if other.calls.Load() != 1 {
		t.Errorf("expected 1 pass on the second worker, got %d", other.calls.Load())
	}
}

func TestRunOnceLockExpires(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	// A replica that died while holding the lock.
	if _, err := redislock.New(client).Obtain(context.Background(), LockKey, time.Minute, nil); err != nil {
		t.Fatalf("Obtain: %v", err)
	}

	r := &countingReconciler{}
	w := &Worker{Reconciler: r, Locker: redislock.New(client), Interval: time.Minute}
	if report, _ := w.RunOnce(context.Background()); report != nil {
		t.Errorf("expected nil report while the lock is held, got %+v", report)
	}

	mr.FastForward(2 * time.Minute)
	if report, err := w.RunOnce(context.Background()); err != nil || report == nil {
		t.Errorf("expected pass after the lock expired, got %v, %v", report, err)
	}
	if r.calls.Load() != 1 {
		t.Errorf("expected 1 pass, got %d", r.calls.Load())
	}
}
