package scan_test

import (
	"context"
	"testing"
	"time"

	"github.com/kozaktomas/facescan/internal/scan"
	"github.com/kozaktomas/facescan/internal/scan/mock"
)

var (
	targetFace = scan.Embedding{0.1, 0.2, 0.3}
	otherFace  = scan.Embedding{0.9, 0.8, 0.7}
)

type fixture struct {
	store     *mock.Store
	queue     *mock.Queue
	fetcher   *mock.Fetcher
	encoder   *mock.Encoder
	publisher *scan.Publisher
	tracker   *scan.Tracker
	executor  *scan.Executor
	settings  scan.Settings
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    mock.NewStore(),
		queue:    mock.NewQueue(),
		fetcher:  mock.NewFetcher(),
		encoder:  mock.NewEncoder(),
		settings: scan.DefaultSettings(),
	}
	f.publisher = scan.NewPublisher(f.store)
	f.tracker = scan.NewTracker(f.store, f.publisher, f.settings.TTL)
	f.executor = scan.NewExecutor(f.fetcher, f.encoder, mock.Matcher{}, f.queue, f.tracker, f.publisher, f.settings)
	return f
}

// startScan creates the counter for a scan of n files.
func (f *fixture) startScan(t *testing.T, scanID string, n int) {
	t.Helper()
	if err := f.tracker.Start(context.Background(), scanID, n); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
}

// addFile registers a candidate file whose image holds the given faces.
func (f *fixture) addFile(fileID string, faces ...scan.Embedding) {
	data := []byte("image-" + fileID)
	f.fetcher.Put(fileID, data)
	if len(faces) > 0 {
		f.encoder.Put(data, faces...)
	}
}

func (f *fixture) execute(t *testing.T, d scan.Delivery) scan.Outcome {
	t.Helper()
	outcome, err := f.executor.Execute(context.Background(), d)
	if err != nil {
		t.Fatalf("Execute(%s) error = %v", d.Job.FileID, err)
	}
	return outcome
}

// drain runs every pending delivery until the queue is empty.
func (f *fixture) drain(t *testing.T) []scan.Outcome {
	t.Helper()
	var outcomes []scan.Outcome
	for f.queue.Pending() > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		d, err := f.queue.Reserve(ctx)
		cancel()
		if err != nil {
			t.Fatalf("Reserve() error = %v", err)
		}
		outcomes = append(outcomes, f.execute(t, d))
		if err := f.queue.Ack(context.Background(), d); err != nil {
			t.Fatalf("Ack() error = %v", err)
		}
	}
	return outcomes
}

func job(scanID, fileID string) scan.Job {
	return scan.Job{
		ScanID:         scanID,
		FileID:         fileID,
		FileName:       fileID + ".jpg",
		AuthToken:      "token",
		TargetEncoding: targetFace,
	}
}

func delivery(scanID, fileID string) scan.Delivery {
	return scan.Delivery{ID: "d-" + fileID, Job: job(scanID, fileID)}
}

func countType(events []scan.Event, typ scan.EventType) int {
	n := 0
	for _, ev := range events {
		if ev.Type() == typ {
			n++
		}
	}
	return n
}

func remaining(t *testing.T, store *mock.Store, scanID string) string {
	t.Helper()
	v, err := store.Get(context.Background(), "scan_remaining:"+scanID)
	if err != nil {
		return "<missing>"
	}
	return v
}
