// Package retention runs the daily background sweep (§4.8): heartbeat
// compaction, per-tenant event retention, and aggregate pruning. It is
// grounded in the teacher's internal/metrics.AlertChecker-style
// background-loop pattern, generalized from a single in-memory sweep to a
// three-stage per-tenant loop over every tenant the store knows about.
package retention

import (
	"context"
	"log"
	"time"

	"github.com/hiveboard/server/internal/model"
	"github.com/hiveboard/server/internal/storage"
)

// HeartbeatCompactionAge is the §4.8 stage-1 threshold: heartbeats older
// than this are compacted to one per (agent_id, hour).
const HeartbeatCompactionAge = 24 * time.Hour

// Sweeper drives the retention loop.
type Sweeper struct {
	Store    storage.Backend
	Interval time.Duration
	Logger   *log.Logger
}

// New builds a Sweeper with the given tick interval (default daily).
func New(store storage.Backend, interval time.Duration, logger *log.Logger) *Sweeper {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &Sweeper{Store: store, Interval: interval, Logger: logger}
}

func (s *Sweeper) logf(format string, args ...interface{}) {
	if s.Logger != nil {
		s.Logger.Printf(format, args...)
	}
}

// Run drives the periodic sweep until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce executes one full sweep across every known tenant, plus the
// tenant-independent aggregate prune (§4.8 stage 3). It is also the entry
// point for the admin manual-trigger endpoint (§4.8 "a manual trigger is
// available for admin use").
func (s *Sweeper) RunOnce(ctx context.Context) {
	now := time.Now().UTC()

	tenants, err := s.Store.ListTenants(ctx)
	if err != nil {
		s.logf("retention: failed to list tenants: %v", err)
		return
	}

	for _, t := range tenants {
		compacted, err := s.CompactHeartbeats(ctx, t.TenantID, now)
		if err != nil {
			s.logf("retention: heartbeat compaction failed for tenant=%s: %v", t.TenantID, err)
		} else if compacted > 0 {
			s.logf("retention: compacted %d heartbeats for tenant=%s", compacted, t.TenantID)
		}

		cutoff := now.Add(-t.Plan.RetentionWindow())
		removed, err := s.Store.DeleteEventsOlderThan(ctx, t.TenantID, cutoff)
		if err != nil {
			s.logf("retention: event retention failed for tenant=%s: %v", t.TenantID, err)
		} else if removed > 0 {
			s.logf("retention: removed %d events for tenant=%s (plan=%s)", removed, t.TenantID, t.Plan)
		}
	}

	prunedBuckets, err := s.Store.PruneAggregates(ctx, now.Add(-model.AggregateRetentionWindow))
	if err != nil {
		s.logf("retention: aggregate pruning failed: %v", err)
	} else if prunedBuckets > 0 {
		s.logf("retention: pruned %d aggregate buckets", prunedBuckets)
	}
}

// CompactHeartbeats implements §4.8 stage 1: for heartbeats older than
// HeartbeatCompactionAge, keep one per (agent_id, hour), preferring the
// one with a non-empty payload.
func (s *Sweeper) CompactHeartbeats(ctx context.Context, tenantID string, now time.Time) (int, error) {
	cutoff := now.Add(-HeartbeatCompactionAge)
	var events []*model.Event
	var cursor storage.Cursor
	for {
		batch, next, err := s.Store.GetEvents(ctx, storage.EventFilters{
			TenantID:   tenantID,
			EventTypes: []model.EventType{model.EventHeartbeat},
			Until:      cutoff,
		}, storage.Page{Cursor: cursor, Limit: storage.MaxPageLimit})
		if err != nil {
			return 0, err
		}
		events = append(events, batch...)
		if next == "" || len(batch) == 0 {
			break
		}
		cursor = next
	}
	if len(events) == 0 {
		return 0, nil
	}

	type bucketKey struct {
		agentID string
		hour    time.Time
	}
	keep := make(map[bucketKey]*model.Event)
	for _, e := range events {
		key := bucketKey{agentID: e.AgentID, hour: model.HourOf(e.Timestamp)}
		cur, ok := keep[key]
		if !ok {
			keep[key] = e
			continue
		}
		if len(cur.Payload.Data) == 0 && len(e.Payload.Data) > 0 {
			keep[key] = e
		}
	}

	keepIDs := make(map[string]bool, len(keep))
	for _, e := range keep {
		keepIDs[e.EventID] = true
	}

	var drop []string
	for _, e := range events {
		if !keepIDs[e.EventID] {
			drop = append(drop, e.EventID)
		}
	}
	if len(drop) == 0 {
		return 0, nil
	}
	return s.Store.DeleteEvents(ctx, tenantID, drop)
}
