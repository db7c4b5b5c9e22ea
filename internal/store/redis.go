package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/SCUT-HCC/TradeSwarm/internal/model"
)

// RedisDriver implements Driver on Redis. Keys:
//
//	<prefix>session:<id>                 => HASH status, created_at, completed_at
//	<prefix>seq                          => record id counter
//	<prefix>rec:<id>                     => JSON-encoded OutputRecord
//	<prefix>idx:sessions                 => ZSET session ids by creation time
//	<prefix>idx:records                  => ZSET record ids by creation time
//	<prefix>idx:outputs:<session>        => ZSET record ids of a session
//	<prefix>idx:completed:<session>:<t>  => ZSET completed record ids of one type
//
// Scores are Unix microseconds. Record ids are zero padded so members with
// equal scores sort in insertion order.
type RedisDriver struct {
	client *redis.Client
	prefix string
}

var _ Driver = (*RedisDriver)(nil)

// NewRedisDriver creates a RedisDriver. prefix defaults to "tradeswarm:".
func NewRedisDriver(client *redis.Client, prefix string) *RedisDriver {
	if prefix == "" {
		prefix = "tradeswarm:"
	}
	return &RedisDriver{client: client, prefix: prefix}
}

func (d *RedisDriver) keySession(id string) string { return d.prefix + "session:" + id }
func (d *RedisDriver) keySeq() string              { return d.prefix + "seq" }
func (d *RedisDriver) keyRecord(member string) string {
	return d.prefix + "rec:" + member
}
func (d *RedisDriver) keySessions() string { return d.prefix + "idx:sessions" }
func (d *RedisDriver) keyRecords() string  { return d.prefix + "idx:records" }
func (d *RedisDriver) keyOutputs(sessionID string) string {
	return d.prefix + "idx:outputs:" + sessionID
}
func (d *RedisDriver) keyCompleted(sessionID, outputType string) string {
	return d.prefix + "idx:completed:" + sessionID + ":" + outputType
}

func member(id int64) string {
	return fmt.Sprintf("%020d", id)
}

func score(t time.Time) float64 {
	return float64(t.UnixMicro())
}

// Close closes the Redis client.
func (d *RedisDriver) Close() error {
	return d.client.Close()
}

// WithTx queues the mutations of fn into one MULTI/EXEC block. Reads made by
// the Tx methods go to the client directly; the single write loop guarantees
// nothing else mutates in between.
func (d *RedisDriver) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	pipe := d.client.TxPipeline()
	if err := fn(&redisTx{d: d, pipe: pipe}); err != nil {
		pipe.Discard()
		return err
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("exec tx: %w", err)
	}
	return nil
}

// LatestCompleted returns the newest completed record per requested type.
func (d *RedisDriver) LatestCompleted(ctx context.Context, sessionID string, outputTypes []string) (map[string]*model.OutputRecord, error) {
	found := make(map[string]*model.OutputRecord, len(outputTypes))
	for _, t := range outputTypes {
		members, err := d.client.ZRevRange(ctx, d.keyCompleted(sessionID, t), 0, 0).Result()
		if err != nil {
			return nil, fmt.Errorf("latest %s: %w", t, err)
		}
		if len(members) == 0 {
			continue
		}
		r, err := d.getRecord(ctx, members[0])
		if err != nil {
			return nil, err
		}
		if r != nil {
			found[t] = r
		}
	}
	return found, nil
}

// ListOutputs returns all records of a session ordered by creation.
func (d *RedisDriver) ListOutputs(ctx context.Context, sessionID string) ([]*model.OutputRecord, error) {
	members, err := d.client.ZRange(ctx, d.keyOutputs(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list outputs: %w", err)
	}
	return d.getRecords(ctx, members)
}

// GetSession retrieves a session by ID.
func (d *RedisDriver) GetSession(ctx context.Context, sessionID string) (*model.Session, error) {
	fields, err := d.client.HGetAll(ctx, d.keySession(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}

	s := &model.Session{ID: sessionID, Status: fields["status"]}
	created, err := strconv.ParseInt(fields["created_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	s.CreatedAt = fromNanos(created)
	if v := fields["completed_at"]; v != "" {
		completed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse completed_at: %w", err)
		}
		t := fromNanos(completed)
		s.CompletedAt = &t
	}
	return s, nil
}

// getRecord returns nil if the record has been deleted.
func (d *RedisDriver) getRecord(ctx context.Context, m string) (*model.OutputRecord, error) {
	data, err := d.client.Get(ctx, d.keyRecord(m)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get record %s: %w", m, err)
	}
	var r model.OutputRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode record %s: %w", m, err)
	}
	return &r, nil
}

func (d *RedisDriver) getRecords(ctx context.Context, members []string) ([]*model.OutputRecord, error) {
	if len(members) == 0 {
		return nil, nil
	}
	keys := make([]string, len(members))
	for i, m := range members {
		keys[i] = d.keyRecord(m)
	}
	values, err := d.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("get records: %w", err)
	}

	records := make([]*model.OutputRecord, 0, len(values))
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var r model.OutputRecord
		if err := json.Unmarshal([]byte(s), &r); err != nil {
			return nil, fmt.Errorf("decode record %s: %w", members[i], err)
		}
		records = append(records, &r)
	}
	return records, nil
}

// redisTx queues writes on a MULTI/EXEC pipeline.
type redisTx struct {
	d    *RedisDriver
	pipe redis.Pipeliner
}

func (t *redisTx) InsertSession(ctx context.Context, s *model.Session) error {
	n, err := t.d.client.Exists(ctx, t.d.keySession(s.ID)).Result()
	if err != nil {
		return fmt.Errorf("check session: %w", err)
	}
	if n > 0 {
		return fmt.Errorf("insert session %s: %w", s.ID, ErrSessionExists)
	}

	t.pipe.HSet(ctx, t.d.keySession(s.ID),
		"status", s.Status,
		"created_at", s.CreatedAt.UnixNano(),
	)
	t.pipe.ZAdd(ctx, t.d.keySessions(), redis.Z{Score: score(s.CreatedAt), Member: s.ID})
	return nil
}

func (t *redisTx) InsertOutput(ctx context.Context, r *model.OutputRecord) error {
	id, err := t.d.client.Incr(ctx, t.d.keySeq()).Result()
	if err != nil {
		return fmt.Errorf("allocate record id: %w", err)
	}
	rec := *r
	rec.ID = id

	data, err := json.Marshal(&rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	m := member(id)
	z := redis.Z{Score: score(rec.CreatedAt), Member: m}
	t.pipe.Set(ctx, t.d.keyRecord(m), data, 0)
	t.pipe.ZAdd(ctx, t.d.keyRecords(), z)
	t.pipe.ZAdd(ctx, t.d.keyOutputs(rec.SessionID), z)
	if rec.Status == model.OutputCompleted {
		t.pipe.ZAdd(ctx, t.d.keyCompleted(rec.SessionID, rec.OutputType), z)
	}
	return nil
}

func (t *redisTx) CompleteSession(ctx context.Context, sessionID string, at time.Time) error {
	status, err := t.d.client.HGet(ctx, t.d.keySession(sessionID), "status").Result()
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get session status: %w", err)
	}
	if !model.ValidSessionTransition(status, model.SessionCompleted) {
		return fmt.Errorf("complete %s session: %w", status, ErrInvalidTransition)
	}

	t.pipe.HSet(ctx, t.d.keySession(sessionID),
		"status", model.SessionCompleted,
		"completed_at", at.UnixNano(),
	)
	return nil
}

func (t *redisTx) DeleteBefore(ctx context.Context, cutoff time.Time) (Purged, error) {
	var purged Purged
	upTo := &redis.ZRangeBy{Min: "-inf", Max: "(" + strconv.FormatInt(cutoff.UnixMicro(), 10)}

	sessions, err := t.d.client.ZRangeByScore(ctx, t.d.keySessions(), upTo).Result()
	if err != nil {
		return purged, fmt.Errorf("select expired sessions: %w", err)
	}
	for _, id := range sessions {
		t.pipe.Del(ctx, t.d.keySession(id))
		t.pipe.ZRem(ctx, t.d.keySessions(), id)
	}
	purged.Sessions = sessions

	members, err := t.d.client.ZRangeByScore(ctx, t.d.keyRecords(), upTo).Result()
	if err != nil {
		return purged, fmt.Errorf("select expired records: %w", err)
	}
	records, err := t.d.getRecords(ctx, members)
	if err != nil {
		return purged, err
	}
	for _, r := range records {
		m := member(r.ID)
		t.pipe.Del(ctx, t.d.keyRecord(m))
		t.pipe.ZRem(ctx, t.d.keyOutputs(r.SessionID), m)
		t.pipe.ZRem(ctx, t.d.keyCompleted(r.SessionID, r.OutputType), m)
	}
	if len(members) > 0 {
		args := make([]any, len(members))
		for i, m := range members {
			args[i] = m
		}
		t.pipe.ZRem(ctx, t.d.keyRecords(), args...)
	}
	purged.Outputs = int64(len(records))
	return purged, nil
}
