package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"planline/internal/config"
	"planline/internal/db"
	"planline/internal/domain"
	"planline/internal/engine"
	"planline/internal/migrate"
)

const testJWTSecret = "test-secret"

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default("u1"))
	e.Now = func() time.Time { return time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC) }
	if _, err := e.InitUser(context.Background(), "u1", "acme", "tester"); err != nil {
		t.Fatalf("init user: %v", err)
	}
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth:     AuthConfig{JWTSecret: testJWTSecret, AllowDevUserHeader: true},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if headers == nil {
		req.Header.Set("X-User-Id", "u1")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func TestPlanAndCompleteFlow(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/blocks", map[string]any{
		"user_id":         "u1",
		"name":            "Deep Work",
		"start_time":      "09:00",
		"end_time":        "11:00",
		"required_energy": "HIGH",
		"primary_context": "@computer",
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create block: %d %s", res.StatusCode, data)
	}
	var block domain.EnergyBlock
	if err := json.Unmarshal(data, &block); err != nil {
		t.Fatalf("decode block: %v", err)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks", map[string]any{
		"user_id":            "u1",
		"title":              "Write report",
		"priority":           "HIGH",
		"estimated_duration": 90,
		"required_context":   "@computer",
		"required_energy":    "HIGH",
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create task: %d %s", res.StatusCode, data)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/plan/run", map[string]any{
		"user_id": "u1",
		"from":    "2026-03-02",
		"to":      "2026-03-02",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("plan run: %d %s", res.StatusCode, data)
	}
	var plan struct {
		Scheduled []domain.ScheduledTask `json:"scheduled"`
	}
	if err := json.Unmarshal(data, &plan); err != nil {
		t.Fatalf("decode plan: %v", err)
	}
	if len(plan.Scheduled) != 1 || plan.Scheduled[0].EnergyBlockID != block.ID {
		t.Fatalf("plan = %s", data)
	}
	schedID := plan.Scheduled[0].ID

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/sched/"+schedID+"/start", map[string]any{}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("start: %d %s", res.StatusCode, data)
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/sched/"+schedID+"/complete", map[string]any{
		"actual_duration": 95,
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("complete: %d %s", res.StatusCode, data)
	}
	var done domain.ScheduledTask
	if err := json.Unmarshal(data, &done); err != nil {
		t.Fatalf("decode sched: %v", err)
	}
	if done.Status != domain.SchedCompleted || done.EstimateAccuracy == nil || *done.EstimateAccuracy != domain.EstimateOn {
		t.Fatalf("completed = %s", data)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/analytics/recompute", map[string]any{
		"user_id": "u1",
		"date":    "2026-03-02",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("recompute: %d %s", res.StatusCode, data)
	}
	var rows []domain.EnergyAnalytics
	if err := json.Unmarshal(data, &rows); err != nil {
		t.Fatalf("decode analytics: %v", err)
	}
	if len(rows) != 1 || rows[0].TasksCompleted != 1 {
		t.Fatalf("analytics = %s", data)
	}
}

func TestErrorEnvelope(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	// unknown scheduled task
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/sched/nope/start", map[string]any{}, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("missing sched: %d %s", res.StatusCode, data)
	}
	var envelope struct {
		Error struct {
			Code    string         `json:"code"`
			Message string         `json:"message"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if envelope.Error.Code != "not_found" {
		t.Fatalf("code = %q, want not_found", envelope.Error.Code)
	}

	// inverted window is rejected before any write
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/blocks", map[string]any{
		"user_id":         "u1",
		"name":            "Backwards",
		"start_time":      "11:00",
		"end_time":        "09:00",
		"required_energy": "HIGH",
		"primary_context": "@desk",
	}, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("inverted window: %d %s", res.StatusCode, data)
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if envelope.Error.Code != "invalid_input" {
		t.Fatalf("code = %q, want invalid_input", envelope.Error.Code)
	}
}

func TestInvalidTransitionDetails(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	doJSON(t, client, http.MethodPost, srv.URL+"/v0/blocks", map[string]any{
		"user_id": "u1", "name": "Deep Work", "start_time": "09:00", "end_time": "11:00",
		"required_energy": "HIGH", "primary_context": "@computer",
	}, nil)
	doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks", map[string]any{
		"user_id": "u1", "title": "Write report", "estimated_duration": 60, "required_context": "@computer",
	}, nil)
	_, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/plan/run", map[string]any{
		"user_id": "u1", "from": "2026-03-02", "to": "2026-03-02",
	}, nil)
	var plan struct {
		Scheduled []domain.ScheduledTask `json:"scheduled"`
	}
	if err := json.Unmarshal(data, &plan); err != nil || len(plan.Scheduled) != 1 {
		t.Fatalf("plan = %s (%v)", data, err)
	}

	// completing a PLANNED record is a lifecycle conflict
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/sched/"+plan.Scheduled[0].ID+"/complete", map[string]any{
		"actual_duration": 30,
	}, nil)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("complete planned: %d %s", res.StatusCode, data)
	}
	var envelope struct {
		Error struct {
			Code    string         `json:"code"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if envelope.Error.Code != "invalid_transition" {
		t.Fatalf("code = %q, want invalid_transition", envelope.Error.Code)
	}
	if envelope.Error.Details["from"] != "PLANNED" || envelope.Error.Details["to"] != "COMPLETED" {
		t.Fatalf("details = %v", envelope.Error.Details)
	}
}

func TestAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	// health is exempt
	res, _ := doJSON(t, client, http.MethodGet, srv.URL+"/v0/health", nil, map[string]string{})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health: %d", res.StatusCode)
	}

	// no credentials
	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/tasks?user_id=u1", nil, map[string]string{})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("anonymous: %d %s", res.StatusCode, data)
	}

	// bearer token
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "u1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/tasks?user_id=u1", nil, map[string]string{
		"Authorization": "Bearer " + token,
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("bearer: %d %s", res.StatusCode, data)
	}

	// wrong key fails
	bad, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "u1"}).SignedString([]byte("other"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/tasks?user_id=u1", nil, map[string]string{
		"Authorization": "Bearer " + bad,
	})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("forged bearer: %d %s", res.StatusCode, data)
	}
}
