package storage

import (
	"context"
	"time"

	"github.com/hiveboard/server/internal/model"
)

type bucketTables struct {
	Agent map[string]*model.AgentHourBucket `json:"agent"` // key: tenant/agent/hourRFC3339
	Model map[string]*model.ModelHourBucket `json:"model"` // key: tenant/model/hourRFC3339
}

func newBucketTables() *bucketTables {
	return &bucketTables{
		Agent: make(map[string]*model.AgentHourBucket),
		Model: make(map[string]*model.ModelHourBucket),
	}
}

func agentBucketKey(tenantID, agentID string, hour time.Time) string {
	return tenantID + "/" + agentID + "/" + hour.UTC().Format(time.RFC3339)
}

func modelBucketKey(tenantID, modelName string, hour time.Time) string {
	return tenantID + "/" + modelName + "/" + hour.UTC().Format(time.RFC3339)
}

// GetOrCreateAgentBucket finds/creates the bucket for (tenant, agent, hour)
// per §4.2 stage 10, keyed on the event's timestamp hour — never the
// current wall-clock hour — so late events land in their historical bucket.
func (m *MemStore) GetOrCreateAgentBucket(ctx context.Context, tenantID, agentID string, hour time.Time) (*model.AgentHourBucket, error) {
	m.bucketsMu.Lock()
	defer m.bucketsMu.Unlock()

	hour = model.HourOf(hour)
	key := agentBucketKey(tenantID, agentID, hour)
	b, ok := m.buckets.Agent[key]
	if !ok {
		b = &model.AgentHourBucket{
			TenantID:         tenantID,
			AgentID:          agentID,
			Hour:             hour,
			ActionNameCounts: make(map[string]int64),
			ModelCounts:      make(map[string]int64),
			CallNameCost:     make(map[string]float64),
			ErrorsByType:     make(map[string]int64),
			ErrorsByCategory: make(map[string]int64),
		}
		m.buckets.Agent[key] = b
	}
	return b, nil
}

// SaveAgentBucket persists a bucket mutated by the caller (ingest or rebuild).
func (m *MemStore) SaveAgentBucket(ctx context.Context, b *model.AgentHourBucket) error {
	m.bucketsMu.Lock()
	defer m.bucketsMu.Unlock()

	m.buckets.Agent[agentBucketKey(b.TenantID, b.AgentID, b.Hour)] = b
	return m.saveTable("buckets", m.buckets)
}

func (m *MemStore) GetOrCreateModelBucket(ctx context.Context, tenantID, modelName string, hour time.Time) (*model.ModelHourBucket, error) {
	m.bucketsMu.Lock()
	defer m.bucketsMu.Unlock()

	hour = model.HourOf(hour)
	key := modelBucketKey(tenantID, modelName, hour)
	b, ok := m.buckets.Model[key]
	if !ok {
		b = &model.ModelHourBucket{
			TenantID:       tenantID,
			Model:          modelName,
			Hour:           hour,
			AgentCounts:    make(map[string]int64),
			CallNameCounts: make(map[string]int64),
		}
		m.buckets.Model[key] = b
	}
	return b, nil
}

func (m *MemStore) SaveModelBucket(ctx context.Context, b *model.ModelHourBucket) error {
	m.bucketsMu.Lock()
	defer m.bucketsMu.Unlock()

	m.buckets.Model[modelBucketKey(b.TenantID, b.Model, b.Hour)] = b
	return m.saveTable("buckets", m.buckets)
}

func (m *MemStore) ListAgentBuckets(ctx context.Context, f BucketFilters) ([]*model.AgentHourBucket, error) {
	m.bucketsMu.RLock()
	defer m.bucketsMu.RUnlock()

	var out []*model.AgentHourBucket
	for _, b := range m.buckets.Agent {
		if b.TenantID != f.TenantID {
			continue
		}
		if f.Subject != "" && b.AgentID != f.Subject {
			continue
		}
		if !f.Since.IsZero() && b.Hour.Before(f.Since) {
			continue
		}
		if !f.Until.IsZero() && b.Hour.After(f.Until) {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

func (m *MemStore) ListModelBuckets(ctx context.Context, f BucketFilters) ([]*model.ModelHourBucket, error) {
	m.bucketsMu.RLock()
	defer m.bucketsMu.RUnlock()

	var out []*model.ModelHourBucket
	for _, b := range m.buckets.Model {
		if b.TenantID != f.TenantID {
			continue
		}
		if f.Subject != "" && b.Model != f.Subject {
			continue
		}
		if !f.Since.IsZero() && b.Hour.Before(f.Since) {
			continue
		}
		if !f.Until.IsZero() && b.Hour.After(f.Until) {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

// PruneAggregates deletes hourly buckets older than the cutoff (§3.3, §4.8),
// independent of any tenant's raw-event retention window.
func (m *MemStore) PruneAggregates(ctx context.Context, olderThan time.Time) (int, error) {
	m.bucketsMu.Lock()
	defer m.bucketsMu.Unlock()

	removed := 0
	for k, b := range m.buckets.Agent {
		if b.Hour.Before(olderThan) {
			delete(m.buckets.Agent, k)
			removed++
		}
	}
	for k, b := range m.buckets.Model {
		if b.Hour.Before(olderThan) {
			delete(m.buckets.Model, k)
			removed++
		}
	}
	if removed > 0 {
		if err := m.saveTable("buckets", m.buckets); err != nil {
			return removed, err
		}
	}
	return removed, nil
}

// ClearAggregates empties both rollup tables for a tenant, the first step
// of the rebuild path (§4.5).
func (m *MemStore) ClearAggregates(ctx context.Context, tenantID string) error {
	m.bucketsMu.Lock()
	defer m.bucketsMu.Unlock()

	for k, b := range m.buckets.Agent {
		if b.TenantID == tenantID {
			delete(m.buckets.Agent, k)
		}
	}
	for k, b := range m.buckets.Model {
		if b.TenantID == tenantID {
			delete(m.buckets.Model, k)
		}
	}
	return m.saveTable("buckets", m.buckets)
}
