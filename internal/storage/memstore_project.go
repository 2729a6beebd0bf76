package storage

import (
	"context"

	"github.com/hiveboard/server/internal/apierr"
	"github.com/hiveboard/server/internal/model"
)

type projectRecord struct {
	Project  *model.Project          `json:"project"`
	Junction map[string]*model.ProjectAgent `json:"junction"` // agentID -> row
}

func (m *MemStore) CreateProject(ctx context.Context, p *model.Project) error {
	m.projectsMu.Lock()
	defer m.projectsMu.Unlock()

	for _, rec := range m.projects {
		if rec.Project.TenantID == p.TenantID && rec.Project.Slug == p.Slug {
			return apierr.New(apierr.KindConflict, "project slug already exists").WithCode("slug_exists")
		}
	}
	m.projects[p.ProjectID] = &projectRecord{Project: p, Junction: make(map[string]*model.ProjectAgent)}
	return m.saveTable("projects", m.projects)
}

func (m *MemStore) GetProject(ctx context.Context, tenantID, projectID string) (*model.Project, error) {
	m.projectsMu.RLock()
	defer m.projectsMu.RUnlock()

	rec, ok := m.projects[projectID]
	if !ok || rec.Project.TenantID != tenantID {
		return nil, apierr.New(apierr.KindNotFound, "project not found")
	}
	return rec.Project, nil
}

func (m *MemStore) GetProjectBySlug(ctx context.Context, tenantID, slug string) (*model.Project, error) {
	m.projectsMu.RLock()
	defer m.projectsMu.RUnlock()

	for _, rec := range m.projects {
		if rec.Project.TenantID == tenantID && rec.Project.Slug == slug {
			return rec.Project, nil
		}
	}
	return nil, apierr.New(apierr.KindNotFound, "project not found")
}

func (m *MemStore) ListProjects(ctx context.Context, tenantID string, includeArchived bool) ([]*model.Project, error) {
	m.projectsMu.RLock()
	defer m.projectsMu.RUnlock()

	var out []*model.Project
	for _, rec := range m.projects {
		if rec.Project.TenantID != tenantID {
			continue
		}
		if rec.Project.IsArchived && !includeArchived {
			continue
		}
		out = append(out, rec.Project)
	}
	return out, nil
}

func (m *MemStore) UpdateProject(ctx context.Context, p *model.Project) error {
	m.projectsMu.Lock()
	defer m.projectsMu.Unlock()

	rec, ok := m.projects[p.ProjectID]
	if !ok || rec.Project.TenantID != p.TenantID {
		return apierr.New(apierr.KindNotFound, "project not found")
	}
	rec.Project = p
	return m.saveTable("projects", m.projects)
}

func (m *MemStore) ArchiveProject(ctx context.Context, tenantID, projectID string, archived bool) error {
	m.projectsMu.Lock()
	defer m.projectsMu.Unlock()

	rec, ok := m.projects[projectID]
	if !ok || rec.Project.TenantID != tenantID {
		return apierr.New(apierr.KindNotFound, "project not found")
	}
	rec.Project.IsArchived = archived
	return m.saveTable("projects", m.projects)
}

// DeleteProject implements the ordering resolved as an Open Question in
// §9/DESIGN.md: reassign events, reassign project-agent junction rows,
// then delete the project row. The default project can never be deleted
// (enforced by the caller per §3.1).
func (m *MemStore) DeleteProject(ctx context.Context, tenantID, projectID, reassignTo string) error {
	m.projectsMu.Lock()
	defer m.projectsMu.Unlock()

	rec, ok := m.projects[projectID]
	if !ok || rec.Project.TenantID != tenantID {
		return apierr.New(apierr.KindNotFound, "project not found")
	}
	target, ok := m.projects[reassignTo]
	if !ok || target.Project.TenantID != tenantID {
		return apierr.New(apierr.KindValidation, "reassign_to project not found")
	}

	if _, err := m.ReassignEventsProject(ctx, tenantID, projectID, reassignTo); err != nil {
		return err
	}
	for agentID, row := range rec.Junction {
		row.ProjectID = reassignTo
		target.Junction[agentID] = row
	}
	delete(m.projects, projectID)
	return m.saveTable("projects", m.projects)
}

// MergeProject moves events and agent associations from source to target,
// then archives source (§6.3, §8.2 round-trip property).
func (m *MemStore) MergeProject(ctx context.Context, tenantID, sourceID, targetID string) error {
	m.projectsMu.Lock()
	defer m.projectsMu.Unlock()

	source, ok := m.projects[sourceID]
	if !ok || source.Project.TenantID != tenantID {
		return apierr.New(apierr.KindNotFound, "source project not found")
	}
	target, ok := m.projects[targetID]
	if !ok || target.Project.TenantID != tenantID {
		return apierr.New(apierr.KindNotFound, "target project not found")
	}

	if _, err := m.ReassignEventsProject(ctx, tenantID, sourceID, targetID); err != nil {
		return err
	}
	for agentID, row := range source.Junction {
		row.ProjectID = targetID
		target.Junction[agentID] = row
	}
	source.Junction = make(map[string]*model.ProjectAgent)
	source.Project.IsArchived = true
	return m.saveTable("projects", m.projects)
}

func (m *MemStore) UpsertProjectAgent(ctx context.Context, pa *model.ProjectAgent) error {
	m.projectsMu.Lock()
	defer m.projectsMu.Unlock()

	rec, ok := m.projects[pa.ProjectID]
	if !ok || rec.Project.TenantID != pa.TenantID {
		return apierr.New(apierr.KindValidation, "project not found").WithCode("invalid_project_id")
	}
	if _, exists := rec.Junction[pa.AgentID]; !exists {
		rec.Junction[pa.AgentID] = pa
		return m.saveTable("projects", m.projects)
	}
	return nil
}

func (m *MemStore) ListProjectAgents(ctx context.Context, tenantID, projectID string) ([]*model.ProjectAgent, error) {
	m.projectsMu.RLock()
	defer m.projectsMu.RUnlock()

	rec, ok := m.projects[projectID]
	if !ok || rec.Project.TenantID != tenantID {
		return nil, apierr.New(apierr.KindNotFound, "project not found")
	}
	out := make([]*model.ProjectAgent, 0, len(rec.Junction))
	for _, row := range rec.Junction {
		out = append(out, row)
	}
	return out, nil
}

func (m *MemStore) ReassignProjectAgents(ctx context.Context, tenantID, fromProject, toProject string) error {
	m.projectsMu.Lock()
	defer m.projectsMu.Unlock()

	source, ok := m.projects[fromProject]
	if !ok || source.Project.TenantID != tenantID {
		return apierr.New(apierr.KindNotFound, "project not found")
	}
	target, ok := m.projects[toProject]
	if !ok || target.Project.TenantID != tenantID {
		return apierr.New(apierr.KindNotFound, "project not found")
	}
	for agentID, row := range source.Junction {
		row.ProjectID = toProject
		target.Junction[agentID] = row
	}
	source.Junction = make(map[string]*model.ProjectAgent)
	return m.saveTable("projects", m.projects)
}
