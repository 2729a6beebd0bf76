package storage

import (
	"context"

	"github.com/hiveboard/server/internal/apierr"
	"github.com/hiveboard/server/internal/model"
)

type alertTables struct {
	Rules   map[string]*model.AlertRule `json:"rules"`
	History []*model.AlertHistory       `json:"history"`
}

func newAlertTables() *alertTables {
	return &alertTables{Rules: make(map[string]*model.AlertRule)}
}

func (m *MemStore) CreateAlertRule(ctx context.Context, r *model.AlertRule) error {
	m.alertsMu.Lock()
	defer m.alertsMu.Unlock()

	m.alerts.Rules[r.RuleID] = r
	return m.saveTable("alerts", m.alerts)
}

func (m *MemStore) GetAlertRule(ctx context.Context, tenantID, ruleID string) (*model.AlertRule, error) {
	m.alertsMu.RLock()
	defer m.alertsMu.RUnlock()

	r, ok := m.alerts.Rules[ruleID]
	if !ok || r.TenantID != tenantID {
		return nil, apierr.New(apierr.KindNotFound, "alert rule not found")
	}
	return r, nil
}

func (m *MemStore) ListAlertRules(ctx context.Context, tenantID string) ([]*model.AlertRule, error) {
	m.alertsMu.RLock()
	defer m.alertsMu.RUnlock()

	var out []*model.AlertRule
	for _, r := range m.alerts.Rules {
		if r.TenantID == tenantID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *MemStore) UpdateAlertRule(ctx context.Context, r *model.AlertRule) error {
	m.alertsMu.Lock()
	defer m.alertsMu.Unlock()

	existing, ok := m.alerts.Rules[r.RuleID]
	if !ok || existing.TenantID != r.TenantID {
		return apierr.New(apierr.KindNotFound, "alert rule not found")
	}
	m.alerts.Rules[r.RuleID] = r
	return m.saveTable("alerts", m.alerts)
}

func (m *MemStore) DeleteAlertRule(ctx context.Context, tenantID, ruleID string) error {
	m.alertsMu.Lock()
	defer m.alertsMu.Unlock()

	existing, ok := m.alerts.Rules[ruleID]
	if !ok || existing.TenantID != tenantID {
		return apierr.New(apierr.KindNotFound, "alert rule not found")
	}
	delete(m.alerts.Rules, ruleID)
	return m.saveTable("alerts", m.alerts)
}

func (m *MemStore) InsertAlert(ctx context.Context, a *model.AlertHistory) error {
	m.alertsMu.Lock()
	defer m.alertsMu.Unlock()

	m.alerts.History = append(m.alerts.History, a)
	return m.saveTable("alerts", m.alerts)
}

func (m *MemStore) ListAlertHistory(ctx context.Context, tenantID string, page Page) ([]*model.AlertHistory, error) {
	page = page.Normalize()

	m.alertsMu.RLock()
	defer m.alertsMu.RUnlock()

	var matched []*model.AlertHistory
	for i := len(m.alerts.History) - 1; i >= 0; i-- {
		a := m.alerts.History[i]
		if a.TenantID == tenantID {
			matched = append(matched, a)
		}
	}
	if len(matched) > page.Limit {
		matched = matched[:page.Limit]
	}
	return matched, nil
}

// GetLastAlertForRule backs the cooldown check of §4.7.
func (m *MemStore) GetLastAlertForRule(ctx context.Context, tenantID, ruleID string) (*model.AlertHistory, error) {
	m.alertsMu.RLock()
	defer m.alertsMu.RUnlock()

	var last *model.AlertHistory
	for _, a := range m.alerts.History {
		if a.TenantID != tenantID || a.RuleID != ruleID {
			continue
		}
		if last == nil || a.FiredAt.After(last.FiredAt) {
			last = a
		}
	}
	return last, nil
}
