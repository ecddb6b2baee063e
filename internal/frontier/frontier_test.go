package frontier

import (
	"context"
	"testing"
	"time"

	"github.com/linux/projects/server/page-server/internal/keycodec"
)

func TestAdvanceIsMonotonic(t *testing.T) {
	f := New()
	f.AdvanceLastValidLsn(10)
	f.AdvanceLastValidLsn(5)
	if got := f.GetLastValidLsn(); got != 10 {
		t.Fatalf("last valid lsn regressed to %v, want 10", got)
	}

	f.AdvanceLastRecordLsn(10)
	f.AdvanceLastRecordLsn(3)
	if got := f.GetLastRecordLsn(); got != 10 {
		t.Fatalf("last record lsn regressed to %v, want 10", got)
	}
}

func TestWaitUnblocksOnAdvance(t *testing.T) {
	f := New()
	f.AdvanceLastValidLsn(50)

	done := make(chan keycodec.Lsn, 1)
	errCh := make(chan error, 1)
	go func() {
		observed, err := f.Wait(context.Background(), 100)
		errCh <- err
		done <- observed
	}()

	select {
	case <-done:
		t.Fatal("Wait returned before the frontier advanced")
	case <-time.After(50 * time.Millisecond):
	}

	f.AdvanceLastValidLsn(100)

	select {
	case observed := <-done:
		if observed != 100 {
			t.Fatalf("observed lsn = %v, want 100", observed)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not unblock after advance")
	}
	if err := <-errCh; err != nil {
		t.Fatalf("Wait returned error: %v", err)
	}
}

func TestWaitReturnsImmediatelyIfAlreadySatisfied(t *testing.T) {
	f := New()
	f.AdvanceLastValidLsn(200)
	observed, err := f.Wait(context.Background(), 100)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if observed != 200 {
		t.Fatalf("observed = %v, want 200", observed)
	}
}

func TestWaitTimesOut(t *testing.T) {
	f := New()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := f.Wait(ctx, 1000)
	if err == nil {
		t.Fatal("expected an error when the frontier never advances")
	}
}

func TestWaitHonoursContextCancellation(t *testing.T) {
	f := New()
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		_, err := f.Wait(ctx, 1000)
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("expected an error after context cancellation")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return after context cancellation")
	}
}
