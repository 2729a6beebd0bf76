// Package natsmirror is the optional outbound event mirror described in
// SPEC_FULL.md §1.2: accepted batches are republished onto
// "hiveboard.events.<tenant_id>" so external consumers (a data lake
// loader, a second analytics pipeline) can tail the stream without
// polling the HTTP API. It publishes only when the server holds a NATS
// connection. An event with a project_id is mirrored only if that project
// opted in (Project.NATSMirrorEnabled); an event without one is always
// mirrored.
package natsmirror

import (
	"encoding/json"
	"log"

	"github.com/nats-io/nats.go"

	"github.com/hiveboard/server/internal/model"
)

// SubjectFor returns the publish subject for a tenant's mirrored events.
func SubjectFor(tenantID string) string {
	return "hiveboard.events." + tenantID
}

// Mirror publishes accepted events to NATS, best-effort.
type Mirror struct {
	conn   *nats.Conn
	logger *log.Logger
}

// Connect dials the configured NATS server. A nil Mirror (returned with a
// non-nil error) means the caller should run without mirroring.
func Connect(url string, logger *log.Logger) (*Mirror, error) {
	conn, err := nats.Connect(url, nats.Name("hiveboardd"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, err
	}
	return &Mirror{conn: conn, logger: logger}, nil
}

// Close drains and closes the underlying connection.
func (m *Mirror) Close() {
	if m == nil || m.conn == nil {
		return
	}
	m.conn.Drain()
}

// PublishEvents mirrors a tenant's accepted batch. projectMirrorEnabled is
// a lookup the caller supplies (usually project cache) so the mirror
// package never depends on storage directly.
func (m *Mirror) PublishEvents(tenantID string, events []*model.Event, projectMirrorEnabled func(projectID string) bool) {
	if m == nil || m.conn == nil {
		return
	}
	subject := SubjectFor(tenantID)
	for _, e := range events {
		if e.ProjectID != "" && projectMirrorEnabled != nil && !projectMirrorEnabled(e.ProjectID) {
			continue
		}
		data, err := json.Marshal(e)
		if err != nil {
			continue
		}
		if err := m.conn.Publish(subject, data); err != nil {
			if m.logger != nil {
				m.logger.Printf("natsmirror: publish failed for tenant=%s: %v", tenantID, err)
			}
			return
		}
	}
}
