package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/moneyfestation-dev/manifest-wall/internal/protocol"
	"github.com/moneyfestation-dev/manifest-wall/internal/storage"
)

// EventPublisher delivers committed events to external consumers. Publish
// must advance the cursor in the same atomic step as the delivery.
type EventPublisher interface {
	Cursor(ctx context.Context) (int64, error)
	Publish(ctx context.Context, entries []protocol.EventEntry) error
}

// EventRelay tails the event log and forwards new entries to a publisher.
type EventRelay struct {
	store      storage.Store
	publisher  EventPublisher
	batchSize  int
	maxBackoff time.Duration
	logger     *slog.Logger

	failures int
	retryAt  time.Time
	now      func() time.Time
}

type EventRelayParams struct {
	Store      storage.Store
	Publisher  EventPublisher
	BatchSize  int
	MaxBackoff time.Duration
	Logger     *slog.Logger
}

func NewEventRelay(params EventRelayParams) (*EventRelay, error) {
	if params.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if params.Publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if params.BatchSize <= 0 {
		params.BatchSize = 100
	}
	if params.MaxBackoff <= 0 {
		params.MaxBackoff = 5 * time.Minute
	}
	if params.Logger == nil {
		params.Logger = slog.Default()
	}
	return &EventRelay{
		store:      params.Store,
		publisher:  params.Publisher,
		batchSize:  params.BatchSize,
		maxBackoff: params.MaxBackoff,
		logger:     params.Logger,
		now:        time.Now,
	}, nil
}

func (r *EventRelay) Run(ctx context.Context, pollInterval time.Duration) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	r.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *EventRelay) tick(ctx context.Context) {
	if r.now().Before(r.retryAt) {
		return
	}
	n, err := r.ProcessBatch(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		r.failures++
		backoff := computeBackoff(r.failures, r.maxBackoff)
		r.retryAt = r.now().Add(backoff)
		r.logger.Error("relay batch failed",
			slog.String("error", err.Error()),
			slog.Int("failures", r.failures),
			slog.Duration("backoff", backoff),
		)
		return
	}
	r.failures = 0
	r.retryAt = time.Time{}
	if n > 0 {
		r.logger.Info("relay batch published", slog.Int("count", n))
	}
}

// ProcessBatch publishes up to one batch of events after the publisher's
// cursor and reports how many were sent.
func (r *EventRelay) ProcessBatch(ctx context.Context) (int, error) {
	cursor, err := r.publisher.Cursor(ctx)
	if err != nil {
		return 0, fmt.Errorf("read relay cursor: %w", err)
	}
	var entries []protocol.EventEntry
	err = r.store.View(ctx, func(tx storage.Tx) error {
		var err error
		entries, err = tx.ListEvents(ctx, cursor, r.batchSize)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("list events after %d: %w", cursor, err)
	}
	if len(entries) == 0 {
		return 0, nil
	}
	if err := r.publisher.Publish(ctx, entries); err != nil {
		return 0, fmt.Errorf("publish events %d..%d: %w", entries[0].Seq, entries[len(entries)-1].Seq, err)
	}
	return len(entries), nil
}

func computeBackoff(attempts int, max time.Duration) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	backoff := time.Duration(1<<uint(min(attempts, 10))) * time.Second
	if backoff > max {
		return max
	}
	return backoff
}

// RedisPublisher appends events to a Redis stream with the event sequence
// number as the entry id, so replays after a lost cursor write are rejected
// by Redis rather than duplicated.
type RedisPublisher struct {
	client    *redis.Client
	stream    string
	cursorKey string
}

func NewRedisPublisher(client *redis.Client, stream, cursorKey string) *RedisPublisher {
	return &RedisPublisher{client: client, stream: stream, cursorKey: cursorKey}
}

func (p *RedisPublisher) Cursor(ctx context.Context) (int64, error) {
	v, err := p.client.Get(ctx, p.cursorKey).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return v, nil
}

func (p *RedisPublisher) Publish(ctx context.Context, entries []protocol.EventEntry) error {
	cmds, err := p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, e := range entries {
			pipe.XAdd(ctx, streamArgs(p.stream, e))
		}
		pipe.Set(ctx, p.cursorKey, entries[len(entries)-1].Seq, 0)
		return nil
	})
	return pipelineResult(cmds, err)
}

// pipelineResult tolerates XADDs rejected as already present; the cursor SET
// in the same MULTI still applies. Any other failure is returned.
func pipelineResult(cmds []redis.Cmder, err error) error {
	if err == nil {
		return nil
	}
	stale := false
	for _, cmd := range cmds {
		cerr := cmd.Err()
		if cerr == nil {
			continue
		}
		if !isStaleStreamID(cerr) {
			return cerr
		}
		stale = true
	}
	if stale {
		return nil
	}
	return err
}

func streamArgs(stream string, e protocol.EventEntry) *redis.XAddArgs {
	return &redis.XAddArgs{
		Stream: stream,
		ID:     strconv.FormatInt(e.Seq, 10) + "-0",
		Values: map[string]any{
			"seq":           e.Seq,
			"event_type":    e.EventType,
			"tx_signature":  e.TxSignature,
			"entry_hash":    e.EntryHash,
			"previous_hash": e.PreviousHash,
			"payload":       string(e.Payload),
			"recorded_at":   e.RecordedAt.UTC().Format(time.RFC3339),
		},
	}
}

func isStaleStreamID(err error) bool {
	return strings.Contains(err.Error(), "equal or smaller than the target stream top item")
}
