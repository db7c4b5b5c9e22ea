package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/SCUT-HCC/TradeSwarm/internal/model"
)

// DefaultPollInterval is how often waiting readers re-query the driver when
// no commit event wakes them first.
const DefaultPollInterval = 500 * time.Millisecond

// Options configures a Store.
type Options struct {
	PollInterval time.Duration
	ErrorBackoff time.Duration
}

// Store is the publish/wait handoff between independently running stages.
// Writes go through a single Writer; reads go straight to the driver and
// are durable as soon as the corresponding op has committed.
type Store struct {
	driver Driver
	writer *Writer
	broker *Broker
	poll   time.Duration
	logger *slog.Logger

	// published tracks (session, output type) pairs seen by Publish so a
	// repeated publish can be reported.
	mu        sync.Mutex
	published map[string]map[string]struct{}
}

// New creates a Store over driver and starts its write loop. The Store owns
// the driver from here on and closes it in Close.
func New(driver Driver, opts Options, logger *slog.Logger) *Store {
	poll := opts.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	return &Store{
		driver:    driver,
		writer:    NewWriter(driver, opts.ErrorBackoff, logger),
		broker:    NewBroker(),
		poll:      poll,
		logger:    logger,
		published: make(map[string]map[string]struct{}),
	}
}

// CreateSession enqueues a new running session and returns its id. An empty
// id generates one. The session is persisted asynchronously.
func (s *Store) CreateSession(ctx context.Context, id string) (string, error) {
	if id == "" {
		id = model.NewID()
	}
	sess := &model.Session{
		ID:        id,
		Status:    model.SessionRunning,
		CreatedAt: time.Now().UTC(),
	}
	err := s.writer.Submit(WriteOp{
		Name: "create_session",
		Apply: func(ctx context.Context, tx Tx) error {
			return tx.InsertSession(ctx, sess)
		},
	})
	if err != nil {
		return "", err
	}
	s.logger.Info("session created", "session_id", id)
	return id, nil
}

// OpenSession creates a new running session and waits for the insert to
// commit. An empty id generates one. A taken id fails with ErrSessionExists,
// so the caller never runs against a previous session's records.
func (s *Store) OpenSession(ctx context.Context, id string) (string, error) {
	if id == "" {
		id = model.NewID()
	}
	sess := &model.Session{
		ID:        id,
		Status:    model.SessionRunning,
		CreatedAt: time.Now().UTC(),
	}
	result := make(chan error, 1)
	err := s.writer.Submit(WriteOp{
		Name: "open_session",
		Apply: func(ctx context.Context, tx Tx) error {
			return tx.InsertSession(ctx, sess)
		},
		OnCommit: func() { result <- nil },
		OnFail:   func(err error) { result <- err },
	})
	if err != nil {
		return "", err
	}

	select {
	case err := <-result:
		if err != nil {
			return "", fmt.Errorf("open session %s: %w", id, err)
		}
	case <-ctx.Done():
		return "", ctx.Err()
	}
	s.logger.Info("session opened", "session_id", id)
	return id, nil
}

// Publish enqueues a record for the session. The payload is JSON encoded
// now; a json.RawMessage is stored as is. The record becomes visible to
// Get once its op commits.
func (s *Store) Publish(ctx context.Context, sessionID, producer, outputType string, payload any, status string) error {
	if status == "" {
		status = model.OutputCompleted
	}
	if !model.ValidOutputStatus(status) {
		return fmt.Errorf("publish %s: invalid status %q", outputType, status)
	}
	if payload == nil {
		return fmt.Errorf("publish %s: %w", outputType, model.ErrEmptyPayload)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", outputType, err)
	}

	if s.markPublished(sessionID, outputType) {
		s.logger.Warn("output type published more than once",
			"session_id", sessionID,
			"output_type", outputType,
			"producer", producer,
		)
	}

	rec := &model.OutputRecord{
		SessionID:    sessionID,
		ProducerName: producer,
		OutputType:   outputType,
		Payload:      data,
		Status:       status,
		CreatedAt:    time.Now().UTC(),
	}
	return s.writer.Submit(WriteOp{
		Name: "publish",
		Apply: func(ctx context.Context, tx Tx) error {
			return tx.InsertOutput(ctx, rec)
		},
		OnCommit: func() {
			s.broker.Publish(OutputEvent{
				SessionID:    rec.SessionID,
				ProducerName: rec.ProducerName,
				OutputType:   rec.OutputType,
				Status:       rec.Status,
				CreatedAt:    rec.CreatedAt,
			})
		},
	})
}

// Get waits up to timeout for a completed record of outputType in the
// session and returns the most recently created one. It returns a nil record
// and a nil error when the timeout elapses first. Only cancellation of ctx
// is reported as an error.
func (s *Store) Get(ctx context.Context, sessionID, outputType string, timeout time.Duration) (*model.OutputRecord, error) {
	found, err := s.GetMany(ctx, sessionID, []string{outputType}, timeout)
	return found[outputType], err
}

// GetMany waits up to timeout for every one of outputTypes and returns
// whatever subset was found. Types still missing at the deadline are absent
// from the map.
func (s *Store) GetMany(ctx context.Context, sessionID string, outputTypes []string, timeout time.Duration) (map[string]*model.OutputRecord, error) {
	start := time.Now()
	deadline := start.Add(timeout)
	found := make(map[string]*model.OutputRecord, len(outputTypes))

	events, unsubscribe := s.broker.Subscribe(sessionID)
	defer unsubscribe()

	for {
		if missing := missingTypes(outputTypes, found); len(missing) > 0 {
			latest, err := s.driver.LatestCompleted(ctx, sessionID, missing)
			if err != nil {
				if ctx.Err() != nil {
					return found, ctx.Err()
				}
				s.logger.Warn("poll outputs failed", "session_id", sessionID, "error", err)
			}
			for t, r := range latest {
				found[t] = r
			}
		}

		if len(missingTypes(outputTypes, found)) == 0 {
			pollWait.WithLabelValues(waitFound).Observe(time.Since(start).Seconds())
			return found, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			outcome := waitTimeout
			if len(found) > 0 {
				outcome = waitPartial
			}
			pollWait.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
			return found, nil
		}

		timer := time.NewTimer(min(s.poll, remaining))
		select {
		case <-timer.C:
		case _, ok := <-events:
			timer.Stop()
			if !ok {
				// Session completed; fall back to plain polling.
				events = nil
			}
		case <-ctx.Done():
			timer.Stop()
			return found, ctx.Err()
		}
	}
}

// CompleteSession enqueues the running → completed transition. Subscribers
// of the session are closed once it commits.
func (s *Store) CompleteSession(ctx context.Context, sessionID string) error {
	at := time.Now().UTC()
	return s.writer.Submit(WriteOp{
		Name: "complete_session",
		Apply: func(ctx context.Context, tx Tx) error {
			return tx.CompleteSession(ctx, sessionID, at)
		},
		OnCommit: func() {
			s.broker.Close(sessionID)
			s.mu.Lock()
			delete(s.published, sessionID)
			s.mu.Unlock()
			s.logger.Info("session completed", "session_id", sessionID)
		},
	})
}

// Cleanup enqueues deletion of sessions and records older than olderThan.
func (s *Store) Cleanup(ctx context.Context, olderThan time.Duration) error {
	cutoff := time.Now().UTC().Add(-olderThan)
	var purged Purged
	return s.writer.Submit(WriteOp{
		Name: "cleanup",
		Apply: func(ctx context.Context, tx Tx) error {
			var err error
			purged, err = tx.DeleteBefore(ctx, cutoff)
			return err
		},
		OnCommit: func() {
			s.mu.Lock()
			for _, id := range purged.Sessions {
				delete(s.published, id)
			}
			s.mu.Unlock()
			for _, id := range purged.Sessions {
				s.broker.Forget(id)
			}
			s.logger.Info("retention sweep complete",
				"cutoff", cutoff,
				"sessions", len(purged.Sessions),
				"outputs", purged.Outputs,
			)
		},
	})
}

// Session returns the persisted state of a session.
func (s *Store) Session(ctx context.Context, sessionID string) (*model.Session, error) {
	return s.driver.GetSession(ctx, sessionID)
}

// Outputs returns every committed record of a session, oldest first.
func (s *Store) Outputs(ctx context.Context, sessionID string) ([]*model.OutputRecord, error) {
	return s.driver.ListOutputs(ctx, sessionID)
}

// Subscribe streams commit events for a session. See Broker.Subscribe.
func (s *Store) Subscribe(sessionID string) (<-chan OutputEvent, func()) {
	return s.broker.Subscribe(sessionID)
}

// Flush waits until every op submitted so far has been applied.
func (s *Store) Flush(ctx context.Context) error {
	return s.writer.Flush(ctx)
}

// Pending returns the number of queued write ops.
func (s *Store) Pending() int {
	return s.writer.Pending()
}

// Close drains the write queue, stops the write loop and closes the driver.
func (s *Store) Close() error {
	s.writer.Close()
	if err := s.driver.Close(); err != nil {
		return fmt.Errorf("close driver: %w", err)
	}
	return nil
}

// markPublished records the pair and reports whether it was already present.
func (s *Store) markPublished(sessionID, outputType string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	types, ok := s.published[sessionID]
	if !ok {
		types = make(map[string]struct{})
		s.published[sessionID] = types
	}
	if _, dup := types[outputType]; dup {
		return true
	}
	types[outputType] = struct{}{}
	return false
}

func missingTypes(want []string, found map[string]*model.OutputRecord) []string {
	var missing []string
	for _, t := range want {
		if _, ok := found[t]; !ok {
			missing = append(missing, t)
		}
	}
	return missing
}
