package store

import (
	"context"
	"errors"
	"time"

	"github.com/SCUT-HCC/TradeSwarm/internal/model"
)

var (
	// ErrNotFound is returned when a session does not exist.
	ErrNotFound = errors.New("session not found")

	// ErrInvalidTransition is returned when a session status transition is not allowed.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrSessionExists is returned when inserting a session id that is already taken.
	ErrSessionExists = errors.New("session already exists")

	// ErrClosed is returned when submitting work to a store that is shutting down.
	ErrClosed = errors.New("store is closed")
)

// Driver is the durable backing store behind a Store. A driver only needs to
// support one writer at a time: every mutation reaches it through WithTx,
// called from the Store's single write loop.
type Driver interface {
	// WithTx runs fn inside one atomic commit. If fn returns an error the
	// transaction is rolled back where the driver supports it.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// LatestCompleted returns, for each of outputTypes that has one, the most
	// recently created completed record of the session. Types without a
	// completed record are absent from the map.
	LatestCompleted(ctx context.Context, sessionID string, outputTypes []string) (map[string]*model.OutputRecord, error)

	// ListOutputs returns every record of a session, failed ones included,
	// oldest first.
	ListOutputs(ctx context.Context, sessionID string) ([]*model.OutputRecord, error)

	// GetSession returns ErrNotFound if the session does not exist.
	GetSession(ctx context.Context, sessionID string) (*model.Session, error)

	Close() error
}

// Tx is the set of mutations available inside Driver.WithTx.
type Tx interface {
	InsertSession(ctx context.Context, s *model.Session) error
	InsertOutput(ctx context.Context, r *model.OutputRecord) error
	// CompleteSession moves a running session to completed.
	CompleteSession(ctx context.Context, sessionID string, at time.Time) error
	// DeleteBefore removes sessions and records created before cutoff.
	DeleteBefore(ctx context.Context, cutoff time.Time) (Purged, error)
}

// Purged reports what a retention sweep removed.
type Purged struct {
	Sessions []string
	Outputs  int64
}
