package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/draftsend/draftsend/internal/database"
	"github.com/draftsend/draftsend/internal/dispatch"
	"github.com/redis/go-redis/v9"
)

// Redis keys for run progress
const (
	runChannelPrefix  = "draftsend:runs:"
	runSnapshotPrefix = "draftsend:run:"
)

// RunChannel returns the pub/sub channel progress events for runID are published on
func RunChannel(runID string) string {
	return runChannelPrefix + runID
}

// ProgressMessage is published to RunChannel for every event
type ProgressMessage struct {
	RunID    string         `json:"runId"`
	Event    dispatch.Event `json:"event"`
	Snapshot RunSnapshot    `json:"snapshot"`
}

// ProgressSink receives run progress and can return the last stored snapshot
type ProgressSink interface {
	Publish(ctx context.Context, snap RunSnapshot, ev dispatch.Event) error
	Snapshot(ctx context.Context, runID string) (*RunSnapshot, error)
}

// ProgressPublisher stores run snapshots in Redis and publishes events
type ProgressPublisher struct {
	rdb *database.Redis
	ttl time.Duration
}

// NewProgressPublisher creates a new ProgressPublisher. Snapshots expire after ttl.
func NewProgressPublisher(rdb *database.Redis, ttl time.Duration) *ProgressPublisher {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &ProgressPublisher{rdb: rdb, ttl: ttl}
}

// Publish stores snap and publishes ev on the run channel
func (p *ProgressPublisher) Publish(ctx context.Context, snap RunSnapshot, ev dispatch.Event) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal run snapshot: %w", err)
	}
	if err := p.rdb.SetWithTTL(ctx, runSnapshotPrefix+snap.ID, data, p.ttl); err != nil {
		return fmt.Errorf("failed to store run snapshot: %w", err)
	}

	msg, err := json.Marshal(ProgressMessage{RunID: snap.ID, Event: ev, Snapshot: snap})
	if err != nil {
		return fmt.Errorf("failed to marshal progress event: %w", err)
	}
	if err := p.rdb.Publish(ctx, RunChannel(snap.ID), string(msg)); err != nil {
		return fmt.Errorf("failed to publish progress event: %w", err)
	}
	return nil
}

// Snapshot returns the last stored snapshot of a run
func (p *ProgressPublisher) Snapshot(ctx context.Context, runID string) (*RunSnapshot, error) {
	data, err := p.rdb.GetString(ctx, runSnapshotPrefix+runID)
	if errors.Is(err, redis.Nil) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run snapshot: %w", err)
	}

	var snap RunSnapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return nil, fmt.Errorf("failed to decode run snapshot: %w", err)
	}
	return &snap, nil
}

// Subscribe listens for progress events of a run
func (p *ProgressPublisher) Subscribe(ctx context.Context, runID string) *redis.PubSub {
	return p.rdb.Subscribe(ctx, RunChannel(runID))
}
