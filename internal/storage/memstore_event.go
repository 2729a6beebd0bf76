package storage

import (
	"context"
	"sort"
	"time"

	"github.com/hiveboard/server/internal/apierr"
	"github.com/hiveboard/server/internal/model"
)

type eventRecord struct {
	Events []*model.Event  `json:"events"`
	Seen   map[string]bool `json:"seen"`
}

// InsertEvents appends events not already present for (tenant_id, event_id)
// (§3.2 invariant 1 / §8.1). Returns the count actually inserted; duplicates
// silently drop from the count per §4.2 stage 7.
func (m *MemStore) InsertEvents(ctx context.Context, tenantID string, evts []*model.Event) (int, error) {
	m.eventsMu.Lock()
	defer m.eventsMu.Unlock()

	rec, ok := m.events[tenantID]
	if !ok {
		rec = &eventRecord{Seen: make(map[string]bool)}
		m.events[tenantID] = rec
	}

	inserted := 0
	for _, e := range evts {
		if rec.Seen[e.EventID] {
			continue
		}
		rec.Seen[e.EventID] = true
		rec.Events = append(rec.Events, e)
		inserted++
	}
	if inserted > 0 {
		if err := m.saveTable("events", m.events); err != nil {
			return inserted, err
		}
	}
	return inserted, nil
}

func (m *MemStore) GetEvent(ctx context.Context, tenantID, eventID string) (*model.Event, error) {
	m.eventsMu.RLock()
	defer m.eventsMu.RUnlock()

	rec, ok := m.events[tenantID]
	if !ok {
		return nil, apierr.New(apierr.KindNotFound, "event not found")
	}
	for _, e := range rec.Events {
		if e.EventID == eventID {
			return e, nil
		}
	}
	return nil, apierr.New(apierr.KindNotFound, "event not found")
}

func (m *MemStore) GetTaskEvents(ctx context.Context, tenantID, taskID string) ([]*model.Event, error) {
	m.eventsMu.RLock()
	defer m.eventsMu.RUnlock()

	rec, ok := m.events[tenantID]
	if !ok {
		return nil, nil
	}
	var out []*model.Event
	for _, e := range rec.Events {
		if e.TaskID == taskID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func matchesFilters(e *model.Event, f EventFilters) bool {
	if f.AgentID != "" && e.AgentID != f.AgentID {
		return false
	}
	if f.TaskID != "" && e.TaskID != f.TaskID {
		return false
	}
	if f.ProjectID != "" && e.ProjectID != f.ProjectID {
		return false
	}
	if f.Environment != "" && e.Environment != f.Environment {
		return false
	}
	if f.Group != "" && e.Group != f.Group {
		return false
	}
	if len(f.EventTypes) > 0 {
		found := false
		for _, t := range f.EventTypes {
			if e.EventType == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.MinSeverity != "" && severityRank(e.Severity) < severityRank(f.MinSeverity) {
		return false
	}
	if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && e.Timestamp.After(f.Until) {
		return false
	}
	return true
}

func severityRank(s model.Severity) int {
	switch s {
	case model.SeverityDebug:
		return 0
	case model.SeverityInfo:
		return 1
	case model.SeverityWarn:
		return 2
	case model.SeverityError:
		return 3
	default:
		return 1
	}
}

// GetEvents implements the cursor-paginated scan of §4.4.5: results ordered
// by (timestamp, event_id) ascending, cursor encodes the last returned pair.
func (m *MemStore) GetEvents(ctx context.Context, f EventFilters, page Page) ([]*model.Event, Cursor, error) {
	page = page.Normalize()

	m.eventsMu.RLock()
	defer m.eventsMu.RUnlock()

	rec, ok := m.events[f.TenantID]
	if !ok {
		return nil, "", nil
	}

	var matched []*model.Event
	for _, e := range rec.Events {
		if matchesFilters(e, f) {
			matched = append(matched, e)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].Timestamp.Equal(matched[j].Timestamp) {
			return matched[i].EventID < matched[j].EventID
		}
		return matched[i].Timestamp.Before(matched[j].Timestamp)
	})

	startIdx := 0
	if ts, id, ok := parseCursor(page.Cursor); ok {
		for i, e := range matched {
			if e.Timestamp.After(ts) || (e.Timestamp.Equal(ts) && e.EventID > id) {
				startIdx = i
				break
			}
			startIdx = i + 1
		}
	}

	end := startIdx + page.Limit
	if end > len(matched) {
		end = len(matched)
	}
	if startIdx > len(matched) {
		startIdx = len(matched)
	}
	out := matched[startIdx:end]

	var next Cursor
	if end < len(matched) && len(out) > 0 {
		last := out[len(out)-1]
		next = newCursor(last.Timestamp, last.EventID)
	}
	return out, next, nil
}

func (m *MemStore) DeleteEventsOlderThan(ctx context.Context, tenantID string, cutoff time.Time) (int, error) {
	m.eventsMu.Lock()
	defer m.eventsMu.Unlock()

	rec, ok := m.events[tenantID]
	if !ok {
		return 0, nil
	}
	kept := rec.Events[:0:0]
	removed := 0
	for _, e := range rec.Events {
		if e.Timestamp.Before(cutoff) {
			delete(rec.Seen, e.EventID)
			removed++
			continue
		}
		kept = append(kept, e)
	}
	rec.Events = kept
	if removed > 0 {
		if err := m.saveTable("events", m.events); err != nil {
			return removed, err
		}
	}
	return removed, nil
}

// DeleteEvents removes specific events by id, used by heartbeat compaction
// (§4.8) to drop superseded heartbeats within a single agent/hour bucket.
func (m *MemStore) DeleteEvents(ctx context.Context, tenantID string, eventIDs []string) (int, error) {
	m.eventsMu.Lock()
	defer m.eventsMu.Unlock()

	rec, ok := m.events[tenantID]
	if !ok || len(eventIDs) == 0 {
		return 0, nil
	}
	drop := make(map[string]bool, len(eventIDs))
	for _, id := range eventIDs {
		drop[id] = true
	}

	kept := rec.Events[:0:0]
	removed := 0
	for _, e := range rec.Events {
		if drop[e.EventID] {
			delete(rec.Seen, e.EventID)
			removed++
			continue
		}
		kept = append(kept, e)
	}
	rec.Events = kept
	if removed > 0 {
		if err := m.saveTable("events", m.events); err != nil {
			return removed, err
		}
	}
	return removed, nil
}

func (m *MemStore) ReassignEventsProject(ctx context.Context, tenantID, fromProject, toProject string) (int, error) {
	m.eventsMu.Lock()
	defer m.eventsMu.Unlock()

	rec, ok := m.events[tenantID]
	if !ok {
		return 0, nil
	}
	count := 0
	for _, e := range rec.Events {
		if e.ProjectID == fromProject {
			e.ProjectID = toProject
			count++
		}
	}
	if count > 0 {
		if err := m.saveTable("events", m.events); err != nil {
			return count, err
		}
	}
	return count, nil
}
