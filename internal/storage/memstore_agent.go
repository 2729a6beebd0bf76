package storage

import (
	"context"

	"github.com/hiveboard/server/internal/apierr"
	"github.com/hiveboard/server/internal/model"
)

type agentRecord struct {
	Agent *model.Agent `json:"agent"`
}

func agentKey(tenantID, agentID string) string {
	return tenantID + "/" + agentID
}

// UpsertAgent applies COALESCE semantics (§3.1, §8.2): only non-null/non-zero
// incoming fields replace the existing row. The caller is responsible for
// deciding which fields are present in fields (e.g. leaving LastHeartbeat
// zero when the batch had no heartbeat event, per §4.2 stage 8).
// LastSeen and LastHeartbeat only move forward: an incoming time older than
// the stored one is ignored.
func (m *MemStore) UpsertAgent(ctx context.Context, fields *model.Agent) (*model.Agent, error) {
	m.agentsMu.Lock()
	defer m.agentsMu.Unlock()

	key := agentKey(fields.TenantID, fields.AgentID)
	rec, exists := m.agents[key]
	if !exists {
		rec = &agentRecord{Agent: &model.Agent{TenantID: fields.TenantID, AgentID: fields.AgentID}}
		m.agents[key] = rec
	}
	a := rec.Agent

	a.AgentType = model.CoalesceString(a.AgentType, fields.AgentType)
	a.AgentVersion = model.CoalesceString(a.AgentVersion, fields.AgentVersion)
	a.Framework = model.CoalesceString(a.Framework, fields.Framework)
	a.Runtime = model.CoalesceString(a.Runtime, fields.Runtime)
	a.SDKVersion = model.CoalesceString(a.SDKVersion, fields.SDKVersion)
	a.Environment = model.CoalesceString(a.Environment, fields.Environment)
	a.Group = model.CoalesceString(a.Group, fields.Group)
	if fields.LastSeen.After(a.LastSeen) {
		a.LastSeen = fields.LastSeen
	}
	if fields.LastHeartbeat.After(a.LastHeartbeat) {
		a.LastHeartbeat = fields.LastHeartbeat
	}
	if fields.LastEventType != "" {
		a.LastEventType = fields.LastEventType
	}
	a.LastTaskID = model.CoalesceString(a.LastTaskID, fields.LastTaskID)
	a.LastProjectID = model.CoalesceString(a.LastProjectID, fields.LastProjectID)
	a.HeartbeatPayload = model.CoalesceRaw(a.HeartbeatPayload, fields.HeartbeatPayload)
	a.QueueState = model.CoalesceRaw(a.QueueState, fields.QueueState)
	if fields.StuckThresholdSeconds > 0 {
		a.StuckThresholdSeconds = fields.StuckThresholdSeconds
	}

	if err := m.saveTable("agents", m.agents); err != nil {
		return nil, err
	}
	out := *a
	return &out, nil
}

// UpdateAgentWasStuck implements the Backend contract's once-per-episode
// guard: it flips the cached agent's WasStuck flag and reports whether
// this call represents a fresh transition into stuck.
func (m *MemStore) UpdateAgentWasStuck(ctx context.Context, tenantID, agentID string, stuck bool) (bool, error) {
	m.agentsMu.Lock()
	defer m.agentsMu.Unlock()

	rec, ok := m.agents[agentKey(tenantID, agentID)]
	if !ok {
		return false, apierr.New(apierr.KindNotFound, "agent not found")
	}
	a := rec.Agent
	entered := stuck && !a.WasStuck
	a.WasStuck = stuck
	return entered, nil
}

func (m *MemStore) GetAgent(ctx context.Context, tenantID, agentID string) (*model.Agent, error) {
	m.agentsMu.RLock()
	defer m.agentsMu.RUnlock()

	rec, ok := m.agents[agentKey(tenantID, agentID)]
	if !ok {
		return nil, apierr.New(apierr.KindNotFound, "agent not found")
	}
	out := *rec.Agent
	return &out, nil
}

func (m *MemStore) ListAgents(ctx context.Context, tenantID, projectID, environment, group string) ([]*model.Agent, error) {
	m.agentsMu.RLock()
	defer m.agentsMu.RUnlock()

	var memberOf map[string]bool
	if projectID != "" {
		rows, err := m.ListProjectAgents(ctx, tenantID, projectID)
		if err != nil {
			return nil, err
		}
		memberOf = make(map[string]bool, len(rows))
		for _, r := range rows {
			memberOf[r.AgentID] = true
		}
	}

	var out []*model.Agent
	for _, rec := range m.agents {
		a := rec.Agent
		if a.TenantID != tenantID {
			continue
		}
		if memberOf != nil && !memberOf[a.AgentID] {
			continue
		}
		if environment != "" && a.Environment != environment {
			continue
		}
		if group != "" && a.Group != group {
			continue
		}
		copyA := *a
		out = append(out, &copyA)
	}
	return out, nil
}
