package httpapi

import (
	"net/http"

	"github.com/hiveboard/server/internal/apierr"
	"github.com/hiveboard/server/internal/authctx"
	"github.com/hiveboard/server/internal/ingest"
)

// handleIngest implements POST /v1/ingest (§4.2).
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	p, _ := authctx.PrincipalFrom(r.Context())

	var batch ingest.Batch
	if err := decodeJSON(r, &batch); err != nil {
		apierr.WriteJSON(w, err)
		return
	}

	result, err := s.Ingest.Process(r.Context(), p.TenantID, batch)
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}

	if s.Mirror != nil {
		s.Mirror.PublishEvents(p.TenantID, result.AcceptedEvents(), s.projectMirrorEnabled(r, p.TenantID))
	}

	status := http.StatusOK
	if result.Rejected > 0 {
		status = http.StatusMultiStatus
	}
	respondJSON(w, status, result)
}

// projectMirrorEnabled builds the per-project lookup natsmirror.PublishEvents
// needs, backed directly by the project store (§3.4).
func (s *Server) projectMirrorEnabled(r *http.Request, tenantID string) func(projectID string) bool {
	return func(projectID string) bool {
		proj, err := s.Store.GetProject(r.Context(), tenantID, projectID)
		if err != nil {
			return false
		}
		return proj.NATSMirrorEnabled
	}
}
