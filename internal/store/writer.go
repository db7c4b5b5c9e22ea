package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultErrorBackoff is how long the write loop pauses after a failed op.
const DefaultErrorBackoff = time.Second

// WriteOp is one unit of work for the write loop.
type WriteOp struct {
	// Name labels the op in logs and metrics.
	Name string
	// Apply performs the mutation inside a driver transaction.
	Apply func(ctx context.Context, tx Tx) error
	// OnCommit, if set, runs on the write loop after Apply committed.
	OnCommit func()
	// OnFail, if set, runs on the write loop with the error of a dropped op.
	OnFail func(error)
}

// entry is a queue element. Exactly one of op, flushed or stop is set.
type entry struct {
	op      *WriteOp
	flushed chan struct{}
	stop    bool
}

// Writer applies write ops one at a time, in submission order, on a single
// goroutine. Submit never blocks on the driver. A failed op is logged and
// dropped; the loop pauses for the error backoff and moves on.
type Writer struct {
	driver  Driver
	backoff time.Duration
	logger  *slog.Logger

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []entry
	closed bool

	done chan struct{}
}

// NewWriter starts the write loop. A backoff of zero or less selects
// DefaultErrorBackoff.
func NewWriter(driver Driver, backoff time.Duration, logger *slog.Logger) *Writer {
	if backoff <= 0 {
		backoff = DefaultErrorBackoff
	}
	w := &Writer{
		driver:  driver,
		backoff: backoff,
		logger:  logger,
		done:    make(chan struct{}),
	}
	w.cond = sync.NewCond(&w.mu)
	go w.run()
	return w
}

// Submit enqueues op. It returns ErrClosed once Close has been called.
func (w *Writer) Submit(op WriteOp) error {
	return w.enqueue(entry{op: &op})
}

// Flush blocks until every op submitted before the call has been applied
// (committed or dropped), or until ctx ends.
func (w *Writer) Flush(ctx context.Context) error {
	ch := make(chan struct{})
	if err := w.enqueue(entry{flushed: ch}); err != nil {
		return err
	}
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting ops, waits for the queue to drain, and stops the
// write loop. It is safe to call more than once.
func (w *Writer) Close() {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		w.queue = append(w.queue, entry{stop: true})
		w.cond.Signal()
	}
	w.mu.Unlock()
	<-w.done
}

// Pending returns the number of queued entries not yet taken by the loop.
func (w *Writer) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.queue)
}

func (w *Writer) enqueue(e entry) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	w.queue = append(w.queue, e)
	writeQueueDepth.Inc()
	w.cond.Signal()
	return nil
}

// next blocks until an entry is available and pops it.
func (w *Writer) next() entry {
	w.mu.Lock()
	defer w.mu.Unlock()
	for len(w.queue) == 0 {
		w.cond.Wait()
	}
	e := w.queue[0]
	w.queue[0] = entry{}
	w.queue = w.queue[1:]
	if !e.stop {
		writeQueueDepth.Dec()
	}
	return e
}

func (w *Writer) run() {
	defer close(w.done)
	for {
		e := w.next()
		switch {
		case e.stop:
			w.logger.Debug("write loop stopped")
			return
		case e.flushed != nil:
			close(e.flushed)
		default:
			w.apply(e.op)
		}
	}
}

func (w *Writer) apply(op *WriteOp) {
	start := time.Now()
	if err := w.commit(op); err != nil {
		writeOpsTotal.WithLabelValues(op.Name, writeFailed).Inc()
		w.logger.Error("write op failed, dropping",
			"op", op.Name,
			"error", err,
			"backoff", w.backoff,
		)
		if op.OnFail != nil {
			op.OnFail(err)
		}
		time.Sleep(w.backoff)
		return
	}
	writeDuration.Observe(time.Since(start).Seconds())
	writeOpsTotal.WithLabelValues(op.Name, writeCommitted).Inc()

	if op.OnCommit != nil {
		op.OnCommit()
	}
}

// commit runs op in a transaction, converting a panic into an error so one
// bad op cannot stop the loop.
func (w *Writer) commit(op *WriteOp) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("write op panicked: %v", r)
		}
	}()
	ctx := context.Background()
	return w.driver.WithTx(ctx, func(tx Tx) error {
		return op.Apply(ctx, tx)
	})
}
