package fapctl

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func collectStatuses() (StatusChangedFunc, <-chan ServiceStatus) {
	ch := make(chan ServiceStatus, 32)
	return func(s ServiceStatus) { ch <- s }, ch
}

func expectStatus(t *testing.T, ch <-chan ServiceStatus, want ServiceStatus) {
	t.Helper()
	select {
	case got := <-ch:
		if got != want {
			t.Fatalf("status = %v, want %v", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for status %v", want)
	}
}

func TestWatchReportsTransitions(t *testing.T) {
	svc := newFakeService(true)
	fn, ch := collectStatuses()

	wc, err := Watch(context.Background(), svc, fn, WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	defer wc.Kill()

	expectStatus(t, ch, StatusActive)

	svc.setActive(false)
	expectStatus(t, ch, StatusInactive)

	svc.setPollErr(errFake)
	expectStatus(t, ch, StatusUnknown)

	svc.setActive(true)
	svc.setPollErr(nil)
	expectStatus(t, ch, StatusActive)

	// no change, no callback
	select {
	case s := <-ch:
		t.Fatalf("unexpected status %v without a transition", s)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWatchKill(t *testing.T) {
	svc := newFakeService(true)
	fn, ch := collectStatuses()

	wc, err := Watch(context.Background(), svc, fn, WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	expectStatus(t, ch, StatusActive)

	// Kill is safe from many goroutines at once
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			wc.Kill()
		}()
	}
	wg.Wait()
	wc.Kill()

	select {
	case <-wc.Done():
	case <-time.After(time.Second):
		t.Fatal("Done not closed after Kill")
	}

	done := make(chan error, 1)
	go func() { done <- wc.Wait() }()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Wait returned %v", err)
		}
	case <-time.After(time.Second):
		t.Error("Wait took too long")
	}

	// a closed channel stays readable
	<-wc.Done()
}

func TestWatchContextCancellation(t *testing.T) {
	svc := newFakeService(false)
	fn, ch := collectStatuses()
	ctx, cancel := context.WithCancel(context.Background())

	wc, err := Watch(ctx, svc, fn, WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	expectStatus(t, ch, StatusInactive)

	cancel()
	select {
	case <-wc.Done():
	case <-time.After(time.Second):
		t.Fatal("Done not closed after context cancellation")
	}
	wc.Kill()
}

func TestWatchWakePath(t *testing.T) {
	dir := t.TempDir()
	svc := newFakeService(true)
	fn, ch := collectStatuses()

	wc, err := Watch(context.Background(), svc, fn,
		WithInterval(time.Hour),
		WithWakePath(dir),
	)
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	defer wc.Kill()

	expectStatus(t, ch, StatusActive)

	svc.setActive(false)
	if err := os.WriteFile(filepath.Join(dir, "fapolicyd.pid"), []byte("1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	expectStatus(t, ch, StatusInactive)
}

func TestWatchMissingWakePath(t *testing.T) {
	_, err := Watch(context.Background(), newFakeService(true), func(ServiceStatus) {},
		WithWakePath(filepath.Join(t.TempDir(), "missing")))
	if err == nil {
		t.Fatal("expected an error for a missing wake path")
	}
	var opErr *OpError
	if !errors.As(err, &opErr) || opErr.Op != OpWatch {
		t.Errorf("error = %v, want OpError with OpWatch", err)
	}
}
