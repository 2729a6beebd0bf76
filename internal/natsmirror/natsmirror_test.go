package natsmirror

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/hiveboard/server/internal/model"
)

func TestSubjectFor(t *testing.T) {
	if got := SubjectFor("t1"); got != "hiveboard.events.t1" {
		t.Fatalf("unexpected subject: %s", got)
	}
}

func TestNilMirrorIsSafe(t *testing.T) {
	var m *Mirror
	m.Close() // must not panic
	m.PublishEvents("t1", []*model.Event{{EventID: "e1"}}, nil)
}

func TestEmbeddedServerPublishAndSubscribe(t *testing.T) {
	srv := NewEmbeddedServer(42289)
	if err := srv.Start(); err != nil {
		t.Fatalf("embedded server failed to start: %v", err)
	}
	defer srv.Shutdown()

	mirror, err := Connect(srv.URL(), nil)
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer mirror.Close()

	sub, err := mirror.conn.SubscribeSync(SubjectFor("t1"))
	if err != nil {
		t.Fatalf("SubscribeSync failed: %v", err)
	}

	mirror.PublishEvents("t1", []*model.Event{{EventID: "e1", TenantID: "t1", AgentID: "a1"}}, nil)

	msg, err := sub.NextMsg(2 * time.Second)
	if err != nil {
		t.Fatalf("expected a mirrored message, got error: %v", err)
	}
	var got model.Event
	if err := json.Unmarshal(msg.Data, &got); err != nil {
		t.Fatalf("failed to unmarshal mirrored event: %v", err)
	}
	if got.EventID != "e1" {
		t.Fatalf("expected mirrored event_id e1, got %s", got.EventID)
	}
}

func TestEmbeddedServerDoubleStartFails(t *testing.T) {
	srv := NewEmbeddedServer(42290)
	if err := srv.Start(); err != nil {
		t.Fatalf("first start failed: %v", err)
	}
	defer srv.Shutdown()
	if err := srv.Start(); err == nil {
		t.Fatal("expected a second Start on the same instance to fail")
	}
}
