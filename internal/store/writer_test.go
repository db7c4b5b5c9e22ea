package store_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/SCUT-HCC/TradeSwarm/internal/model"
	"github.com/SCUT-HCC/TradeSwarm/internal/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recordingDriver records the name of each committed op. Reads are unused.
type recordingDriver struct {
	mu        sync.Mutex
	committed []string
	active    int
	overlap   bool
}

func (d *recordingDriver) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	d.mu.Lock()
	d.active++
	if d.active > 1 {
		d.overlap = true
	}
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		d.active--
		d.mu.Unlock()
	}()
	return fn(nil)
}

func (d *recordingDriver) commit(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.committed = append(d.committed, name)
}

func (d *recordingDriver) names() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.committed...)
}

func (d *recordingDriver) LatestCompleted(context.Context, string, []string) (map[string]*model.OutputRecord, error) {
	return nil, nil
}
func (d *recordingDriver) ListOutputs(context.Context, string) ([]*model.OutputRecord, error) {
	return nil, nil
}
func (d *recordingDriver) GetSession(context.Context, string) (*model.Session, error) {
	return nil, store.ErrNotFound
}
func (d *recordingDriver) Close() error { return nil }

func op(d *recordingDriver, name string, err error) store.WriteOp {
	return store.WriteOp{
		Name: name,
		Apply: func(ctx context.Context, tx store.Tx) error {
			if err != nil {
				return err
			}
			d.commit(name)
			return nil
		},
	}
}

func TestWriterAppliesInSubmissionOrder(t *testing.T) {
	d := &recordingDriver{}
	w := store.NewWriter(d, time.Millisecond, discardLogger())
	defer w.Close()

	want := []string{"a", "b", "c", "d", "e"}
	for _, name := range want {
		if err := w.Submit(op(d, name, nil)); err != nil {
			t.Fatalf("Submit(%s): %v", name, err)
		}
	}
	if err := w.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	got := d.names()
	if len(got) != len(want) {
		t.Fatalf("committed %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("committed[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestWriterFailedOpIsDroppedAndLoopContinues(t *testing.T) {
	d := &recordingDriver{}
	backoff := 50 * time.Millisecond
	w := store.NewWriter(d, backoff, discardLogger())
	defer w.Close()

	start := time.Now()
	w.Submit(op(d, "first", nil))
	w.Submit(op(d, "broken", errors.New("disk full")))
	w.Submit(op(d, "after", nil))
	if err := w.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	got := d.names()
	if len(got) != 2 || got[0] != "first" || got[1] != "after" {
		t.Errorf("committed %v, want [first after]", got)
	}
	if elapsed := time.Since(start); elapsed < backoff {
		t.Errorf("loop resumed after %v, want at least the %v backoff", elapsed, backoff)
	}
}

func TestWriterRecoversFromPanickingOp(t *testing.T) {
	d := &recordingDriver{}
	w := store.NewWriter(d, time.Millisecond, discardLogger())
	defer w.Close()

	w.Submit(store.WriteOp{
		Name: "panics",
		Apply: func(context.Context, store.Tx) error {
			panic("boom")
		},
	})
	w.Submit(op(d, "after", nil))
	if err := w.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	if got := d.names(); len(got) != 1 || got[0] != "after" {
		t.Errorf("committed %v, want [after]", got)
	}
}

func TestWriterSubmitAfterCloseFails(t *testing.T) {
	d := &recordingDriver{}
	w := store.NewWriter(d, time.Millisecond, discardLogger())
	w.Close()

	if err := w.Submit(op(d, "late", nil)); !errors.Is(err, store.ErrClosed) {
		t.Errorf("Submit after Close error = %v, want ErrClosed", err)
	}
	if err := w.Flush(context.Background()); !errors.Is(err, store.ErrClosed) {
		t.Errorf("Flush after Close error = %v, want ErrClosed", err)
	}
	w.Close()
}

func TestWriterCloseDrainsQueue(t *testing.T) {
	d := &recordingDriver{}
	w := store.NewWriter(d, time.Millisecond, discardLogger())

	release := make(chan struct{})
	w.Submit(store.WriteOp{
		Name: "slow",
		Apply: func(context.Context, store.Tx) error {
			<-release
			d.commit("slow")
			return nil
		},
	})
	for _, name := range []string{"x", "y", "z"} {
		w.Submit(op(d, name, nil))
	}

	closed := make(chan struct{})
	go func() {
		w.Close()
		close(closed)
	}()

	select {
	case <-closed:
		t.Fatal("Close returned before the queue drained")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	<-closed

	if got := d.names(); len(got) != 4 {
		t.Errorf("committed %v, want all 4 ops", got)
	}
}

func TestWriterSubmitDoesNotBlockOnSlowOp(t *testing.T) {
	d := &recordingDriver{}
	w := store.NewWriter(d, time.Millisecond, discardLogger())
	release := make(chan struct{})
	defer func() {
		close(release)
		w.Close()
	}()

	started := make(chan struct{})
	w.Submit(store.WriteOp{
		Name: "slow",
		Apply: func(context.Context, store.Tx) error {
			close(started)
			<-release
			return nil
		},
	})
	<-started

	start := time.Now()
	for range 100 {
		if err := w.Submit(op(d, "queued", nil)); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("100 submits took %v while the loop was busy", elapsed)
	}
	if n := w.Pending(); n != 100 {
		t.Errorf("Pending = %d, want 100", n)
	}
}

func TestWriterFlushHonorsContext(t *testing.T) {
	d := &recordingDriver{}
	w := store.NewWriter(d, time.Millisecond, discardLogger())
	release := make(chan struct{})
	defer func() {
		close(release)
		w.Close()
	}()

	w.Submit(store.WriteOp{
		Name: "slow",
		Apply: func(context.Context, store.Tx) error {
			<-release
			return nil
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := w.Flush(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Flush error = %v, want DeadlineExceeded", err)
	}
}

func TestWriterNeverOverlapsTransactions(t *testing.T) {
	d := &recordingDriver{}
	w := store.NewWriter(d, time.Millisecond, discardLogger())
	defer w.Close()

	var wg sync.WaitGroup
	for range 20 {
		wg.Go(func() {
			for range 10 {
				w.Submit(op(d, "op", nil))
			}
		})
	}
	wg.Wait()
	if err := w.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	if n := len(d.names()); n != 200 {
		t.Errorf("committed %d ops, want 200", n)
	}
	if d.overlap {
		t.Error("two transactions ran at the same time")
	}
}

func TestWriterReportsDroppedOp(t *testing.T) {
	d := &recordingDriver{}
	w := store.NewWriter(d, time.Millisecond, discardLogger())
	defer w.Close()

	diskFull := errors.New("disk full")
	failed := make(chan error, 2)
	committed := make(chan struct{}, 1)

	broken := op(d, "broken", diskFull)
	broken.OnCommit = func() { committed <- struct{}{} }
	broken.OnFail = func(err error) { failed <- err }
	w.Submit(broken)
	w.Submit(store.WriteOp{
		Name:   "panics",
		Apply:  func(context.Context, store.Tx) error { panic("boom") },
		OnFail: func(err error) { failed <- err },
	})
	if err := w.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	if err := <-failed; !errors.Is(err, diskFull) {
		t.Errorf("OnFail error = %v, want disk full", err)
	}
	if err := <-failed; err == nil {
		t.Error("OnFail for panicking op got nil error")
	}
	select {
	case <-committed:
		t.Error("OnCommit ran for a dropped op")
	default:
	}
}
