package scan_test

import (
	"context"
	"testing"
	"time"

	"github.com/kozaktomas/facescan/internal/scan"
)

func TestReaperSettlesStaleClaims(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.startScan(t, "s1", 2)

	if _, err := f.tracker.Claim(ctx, job("s1", "stuck")); err != nil {
		t.Fatal(err)
	}

	// A negative age makes every recorded claim stale.
	reaper := scan.NewReaper(f.store, f.tracker, f.publisher, -time.Minute)
	n, err := reaper.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if n != 1 {
		t.Errorf("Sweep() = %d; want 1", n)
	}

	events := f.store.Events()
	if len(events) != 1 {
		t.Fatalf("events = %v; want one error", events)
	}
	if e, ok := events[0].(scan.ErrorEvent); !ok || e.FileID != "stuck" || e.FileName != "stuck.jpg" || e.Message != scan.AbandonedMessage {
		t.Errorf("events[0] = %+v; want abandoned error for stuck", events[0])
	}
	if got := remaining(t, f.store, "s1"); got != "1" {
		t.Errorf("remaining = %s; want 1", got)
	}

	n, _ = reaper.Sweep(ctx)
	if n != 0 {
		t.Errorf("second Sweep() = %d; want 0", n)
	}
}

func TestReaperLeavesFreshClaims(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.startScan(t, "s1", 1)
	if _, err := f.tracker.Claim(ctx, job("s1", "busy")); err != nil {
		t.Fatal(err)
	}

	n, err := scan.NewReaper(f.store, f.tracker, f.publisher, time.Hour).Sweep(ctx)
	if err != nil || n != 0 {
		t.Errorf("Sweep() = %d, %v; want 0, nil", n, err)
	}
	if f.store.LedgerSize(scan.ClaimLedger) != 1 {
		t.Error("fresh claim removed")
	}
}

func TestReaperDropsClaimsOfFinishedScans(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.tracker.Claim(ctx, job("expired", "a")); err != nil {
		t.Fatal(err)
	}

	n, err := scan.NewReaper(f.store, f.tracker, f.publisher, -time.Minute).Sweep(ctx)
	if err != nil || n != 0 {
		t.Errorf("Sweep() = %d, %v; want 0, nil", n, err)
	}
	if f.store.LedgerSize(scan.ClaimLedger) != 0 {
		t.Error("claim of finished scan kept")
	}
	if len(f.store.Events()) != 0 {
		t.Errorf("events = %v; want none", f.store.Events())
	}
}

func TestReaperAndLateExecutorCountOnce(t *testing.T) {
	f := newFixture(t)
	f.startScan(t, "s1", 1)
	f.addFile("slow", targetFace)

	reaper := scan.NewReaper(f.store, f.tracker, f.publisher, -time.Minute)
	f.fetcher.Hook = func(ctx context.Context, fileID string) error {
		// The reaper wins while the download is still running.
		if _, err := reaper.Sweep(ctx); err != nil {
			t.Errorf("Sweep() error = %v", err)
		}
		return nil
	}

	if got := f.execute(t, delivery("s1", "slow")); got != scan.OutcomeOrphaned {
		t.Errorf("Execute() = %s; want orphaned", got)
	}

	events := f.store.Events()
	if n := countType(events, scan.EventMatch); n != 0 {
		t.Errorf("match events = %d; want 0 from orphaned executor", n)
	}
	if n := countType(events, scan.EventError); n != 1 {
		t.Errorf("error events = %d; want 1 from reaper", n)
	}
	if n := countType(events, scan.EventCompleted); n != 1 {
		t.Errorf("completed events = %d; want 1", n)
	}
}
