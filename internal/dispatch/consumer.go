package dispatch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/xid"

	"threescale-authorizer/internal/infra/logging"
)

// Handler processes one message. The consumer acknowledges the entry once the
// handler returns, whatever the outcome, so handlers must not fail silently on
// work they want retried.
type Handler func(ctx context.Context, msg Message)

// ConsumerConfig tunes a stream Consumer.
type ConsumerConfig struct {
	Stream    string
	Group     string
	Name      string        // consumer name, generated when empty
	Workers   int           // concurrent handler invocations per batch
	BatchSize int64         // entries read per poll
	Block     time.Duration // how long a poll waits for new entries, 0 means 5s, negative does not wait
	ClaimIdle time.Duration // pending entries idle this long are taken over from dead consumers
}

// Consumer reads a Redis stream as a member of a consumer group and feeds a
// bounded pool of handler goroutines. Entries are acknowledged only after their
// handler returns, which makes delivery at-least-once.
type Consumer struct {
	rdb     redis.Cmdable
	cfg     ConsumerConfig
	handler Handler
	sem     chan struct{}
}

// DefaultBlock is how long a poll waits for new entries when the config leaves it unset.
const DefaultBlock = 5 * time.Second

func NewConsumer(rdb redis.Cmdable, cfg ConsumerConfig, handler Handler) *Consumer {
	if cfg.Name == "" {
		host, _ := os.Hostname()
		cfg.Name = host + "-" + xid.New().String()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 16
	}
	if cfg.ClaimIdle <= 0 {
		cfg.ClaimIdle = time.Minute
	}
	if cfg.Block == 0 {
		cfg.Block = DefaultBlock
	}
	return &Consumer{
		rdb:     rdb,
		cfg:     cfg,
		handler: handler,
		sem:     make(chan struct{}, cfg.Workers),
	}
}

// Name is the consumer name registered in the group.
func (c *Consumer) Name() string { return c.cfg.Name }

// EnsureGroup creates the stream and the consumer group when missing.
func (c *Consumer) EnsureGroup(ctx context.Context) error {
	err := c.rdb.XGroupCreateMkStream(ctx, c.cfg.Stream, c.cfg.Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group %s on %s: %w", c.cfg.Group, c.cfg.Stream, err)
	}
	return nil
}

// Poll reads one batch of new entries, processes it and acknowledges it.
// It returns the number of entries handled.
func (c *Consumer) Poll(ctx context.Context) (int, error) {
	block := c.cfg.Block
	if block < 0 {
		block = -1
	}

	streams, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.cfg.Group,
		Consumer: c.cfg.Name,
		Streams:  []string{c.cfg.Stream, ">"},
		Count:    c.cfg.BatchSize,
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	var entries []redis.XMessage
	for _, s := range streams {
		entries = append(entries, s.Messages...)
	}
	return c.process(ctx, entries)
}

// ReclaimStale takes over entries left pending by consumers that stopped before
// acknowledging them, and processes them.
func (c *Consumer) ReclaimStale(ctx context.Context) (int, error) {
	entries, _, err := c.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   c.cfg.Stream,
		Group:    c.cfg.Group,
		Consumer: c.cfg.Name,
		MinIdle:  c.cfg.ClaimIdle,
		Start:    "0-0",
		Count:    c.cfg.BatchSize,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if len(entries) > 0 {
		logging.Warn("Reclaimed pending reporting messages", "count", len(entries), "consumer", c.cfg.Name)
	}
	return c.process(ctx, entries)
}

func (c *Consumer) process(ctx context.Context, entries []redis.XMessage) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}

	// Handlers outlive a shutdown signal: a reporter cut short would read as an
	// authority failure and revoke a valid token.
	workCtx := context.WithoutCancel(ctx)

	var wg sync.WaitGroup
	for _, entry := range entries {
		c.sem <- struct{}{}
		wg.Add(1)
		go func(entry redis.XMessage) {
			defer func() {
				<-c.sem
				wg.Done()
			}()
			c.handle(workCtx, entry)
		}(entry)
	}
	wg.Wait()

	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		ids = append(ids, entry.ID)
	}
	if err := c.rdb.XAck(workCtx, c.cfg.Stream, c.cfg.Group, ids...).Err(); err != nil {
		return len(entries), fmt.Errorf("ack %d entries: %w", len(ids), err)
	}
	return len(entries), nil
}

func (c *Consumer) handle(ctx context.Context, entry redis.XMessage) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error("Reporting handler panicked", "id", entry.ID, "panic", r)
		}
	}()

	raw, _ := entry.Values[payloadField].(string)
	msg, err := Decode([]byte(raw))
	if err != nil {
		logging.Error("Dropping undecodable reporting message", "id", entry.ID, "error", err)
		return
	}
	c.handler(ctx, msg)
}

// Run consumes until ctx is done. Redis outages are logged and retried after a pause.
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.EnsureGroup(ctx); err != nil {
		return err
	}
	logging.Info("Reporting consumer started", "stream", c.cfg.Stream, "group", c.cfg.Group, "consumer", c.cfg.Name)

	lastClaim := time.Time{}
	for {
		if ctx.Err() != nil {
			logging.Info("Reporting consumer stopped", "consumer", c.cfg.Name)
			return nil
		}

		if time.Since(lastClaim) >= c.cfg.ClaimIdle {
			if _, err := c.ReclaimStale(ctx); err != nil && ctx.Err() == nil {
				logging.Warn("Reclaiming pending messages failed", "error", err)
			}
			lastClaim = time.Now()
		}

		if _, err := c.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				continue
			}
			logging.Error("Reading reporting stream failed, retrying in 1s", "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
		}
	}
}
