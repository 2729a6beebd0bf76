package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hiveboard/server/internal/alerts"
	"github.com/hiveboard/server/internal/authctx"
	"github.com/hiveboard/server/internal/hub"
	"github.com/hiveboard/server/internal/ingest"
	"github.com/hiveboard/server/internal/model"
	"github.com/hiveboard/server/internal/query"
	"github.com/hiveboard/server/internal/retention"
	"github.com/hiveboard/server/internal/storage"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	store := storage.NewMemStore(t.TempDir())
	auth := authctx.New(store, "test-secret")
	h := hub.New(nil)
	go h.Run()
	al := alerts.New(store, nil)
	pipeline := &ingest.Pipeline{Store: store, Broadcast: h, Alerts: al}
	q := query.New(store)
	ret := retention.New(store, 0, nil)
	ingestLimiter := authctx.NewLimiters(1000, 1000)
	queryLimiter := authctx.NewLimiters(1000, 1000)

	srv := New(store, auth, pipeline, h, al, q, ret, nil, nil, ingestLimiter, queryLimiter)
	return httptest.NewServer(srv.Router())
}

func registerTenant(t *testing.T, baseURL string) string {
	t.Helper()
	body, _ := json.Marshal(map[string]string{
		"email": "owner@acme.test", "password": "hunter2hunter2", "name": "Owner", "tenant_name": "Acme",
	})
	resp, err := http.Post(baseURL+"/v1/auth/register", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("register request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201 from register, got %d", resp.StatusCode)
	}
	var out struct {
		APIKey string `json:"api_key"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("failed to decode register response: %v", err)
	}
	if out.APIKey == "" {
		t.Fatal("expected a non-empty api_key in the register response")
	}
	return out.APIKey
}

func TestRegisterThenIngestThenListAgents(t *testing.T) {
	ts := newTestServer(t)
	defer ts.Close()

	apiKey := registerTenant(t, ts.URL)

	batch := ingest.Batch{
		Envelope: ingest.Envelope{AgentID: "agent-1", Environment: "prod"},
		Events: []ingest.RawEvent{
			{EventID: "evt-1", EventType: model.EventHeartbeat, Timestamp: time.Now()},
		},
	}
	body, _ := json.Marshal(batch)
	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/v1/ingest", bytes.NewReader(body))
	req.Header.Set("X-API-Key", apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("ingest request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from ingest, got %d", resp.StatusCode)
	}
	var result ingest.Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode ingest response: %v", err)
	}
	if result.Accepted != 1 {
		t.Fatalf("expected 1 accepted event, got %d", result.Accepted)
	}

	agentsReq, _ := http.NewRequest(http.MethodGet, ts.URL+"/v1/agents", nil)
	agentsReq.Header.Set("X-API-Key", apiKey)
	agentsResp, err := http.DefaultClient.Do(agentsReq)
	if err != nil {
		t.Fatalf("list agents request failed: %v", err)
	}
	defer agentsResp.Body.Close()
	if agentsResp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from list agents, got %d", agentsResp.StatusCode)
	}
	var out struct {
		Agents []*query.AgentView `json:"agents"`
	}
	if err := json.NewDecoder(agentsResp.Body).Decode(&out); err != nil {
		t.Fatalf("failed to decode agents response: %v", err)
	}
	if len(out.Agents) != 1 || out.Agents[0].AgentID != "agent-1" {
		t.Fatalf("expected exactly the ingested agent, got %+v", out.Agents)
	}
}

// TestIngestReturns207OnPartialFailure covers §4.2/§8.4 scenario 5: a batch
// mixing a valid event with one referencing a non-existent project_id must
// report 207 with both the accepted count and the per-event error array.
func TestIngestReturns207OnPartialFailure(t *testing.T) {
	ts := newTestServer(t)
	defer ts.Close()

	apiKey := registerTenant(t, ts.URL)

	batch := ingest.Batch{
		Envelope: ingest.Envelope{AgentID: "agent-1"},
		Events: []ingest.RawEvent{
			{EventID: "evt-1", EventType: model.EventHeartbeat, Timestamp: time.Now()},
			{EventID: "evt-2", EventType: model.EventHeartbeat, Timestamp: time.Now(), ProjectID: "does-not-exist"},
		},
	}
	body, _ := json.Marshal(batch)
	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/v1/ingest", bytes.NewReader(body))
	req.Header.Set("X-API-Key", apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("ingest request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMultiStatus {
		t.Fatalf("expected 207 for a partially rejected batch, got %d", resp.StatusCode)
	}
	var result ingest.Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode ingest response: %v", err)
	}
	if result.Accepted != 1 || result.Rejected != 1 {
		t.Fatalf("expected accepted=1 rejected=1, got accepted=%d rejected=%d", result.Accepted, result.Rejected)
	}
	if len(result.Errors) != 1 || result.Errors[0].Error != "invalid_project_id" {
		t.Fatalf("expected one invalid_project_id error, got %+v", result.Errors)
	}
}

func TestIngestRejectsMissingAPIKey(t *testing.T) {
	ts := newTestServer(t)
	defer ts.Close()

	body, _ := json.Marshal(ingest.Batch{})
	resp, err := http.Post(ts.URL+"/v1/ingest", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("ingest request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for an unauthenticated ingest, got %d", resp.StatusCode)
	}
}

func TestRegisterRejectsMissingFields(t *testing.T) {
	ts := newTestServer(t)
	defer ts.Close()

	body, _ := json.Marshal(map[string]string{"email": "a@b.test"})
	resp, err := http.Post(ts.URL+"/v1/auth/register", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("register request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for a missing-field register, got %d", resp.StatusCode)
	}
}
