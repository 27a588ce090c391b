package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"

	"signflow/internal/config"
	"signflow/internal/db"
	"signflow/internal/engine"
	"signflow/internal/migrate"
)

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	cfg := config.Default("acct-1")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg)
	if _, err := e.InitAccount(context.Background(), cfg.Account.ID, "", "tester"); err != nil {
		t.Fatalf("init account: %v", err)
	}
	handler, err := New(Config{Engine: e, BasePath: "/v0", Auth: AuthConfig{AllowLegacyActorHeader: true}})
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
		Engine: e,
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
	req.Header.Set("X-Actor-Id", "tester")
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

// buildSendable creates a draft with one signer and one signature field and
// returns document id and the signer's access token.
func buildSendable(t *testing.T, srv *testServer) (string, string) {
	t.Helper()
	client := srv.Client()
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/documents", map[string]any{
		"title": "NDA",
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create document: %d %s", res.StatusCode, string(data))
	}
	var doc DocumentResponse
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("unmarshal document: %v", err)
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/documents/"+doc.ID+"/signers", map[string]any{
		"email": "alice@example.com",
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("add signer: %d %s", res.StatusCode, string(data))
	}
	var signer SignerResponse
	_ = json.Unmarshal(data, &signer)
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/documents/"+doc.ID+"/fields", map[string]any{
		"type": "signature", "x": 10, "y": 10, "width": 150, "height": 50,
		"signer_email": "alice@example.com",
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("add field: %d %s", res.StatusCode, string(data))
	}
	return doc.ID, signer.AccessToken
}

func TestSigningFlowOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	docID, token := buildSendable(t, srv)
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/documents/"+docID+"/send", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("send: %d %s", res.StatusCode, string(data))
	}

	// signer link works without owner auth
	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/v0/sign/"+token, nil)
	sessionRes, err := client.Do(req)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	sessionBody, _ := io.ReadAll(sessionRes.Body)
	sessionRes.Body.Close()
	if sessionRes.StatusCode != http.StatusOK {
		t.Fatalf("session status %d: %s", sessionRes.StatusCode, string(sessionBody))
	}
	var session SessionResponse
	if err := json.Unmarshal(sessionBody, &session); err != nil {
		t.Fatalf("unmarshal session: %v", err)
	}
	if session.Signer.AccessToken != "" {
		t.Fatalf("signer view must not expose tokens")
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/sign/"+token+"/complete", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("complete: %d %s", res.StatusCode, string(data))
	}
	var agg AggregateResponse
	if err := json.Unmarshal(data, &agg); err != nil {
		t.Fatalf("unmarshal aggregate: %v", err)
	}
	if agg.Document.Status != "completed" {
		t.Fatalf("expected completed, got %s", agg.Document.Status)
	}
}

func TestSendValidationEnvelope(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/documents", map[string]any{
		"title": "Empty",
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create: %d %s", res.StatusCode, string(data))
	}
	var doc DocumentResponse
	_ = json.Unmarshal(data, &doc)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/documents/"+doc.ID+"/send", nil, nil)
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error struct {
			Code    string         `json:"code"`
			Message string         `json:"message"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if envelope.Error.Code != "validation_failed" {
		t.Fatalf("expected validation_failed, got %s", envelope.Error.Code)
	}
	if envelope.Error.Details["errors"] == nil {
		t.Fatalf("expected aggregated error list in details")
	}
}

func TestCancelConflictStatus(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	docID, _ := buildSendable(t, srv)
	// cancelling a draft is an illegal transition
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/documents/"+docID+"/cancel", nil, nil)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	_ = json.Unmarshal(data, &envelope)
	if envelope.Error.Code != "illegal_transition" {
		t.Fatalf("expected illegal_transition, got %s", envelope.Error.Code)
	}
}

func TestReminderRateLimitStatus(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	docID, _ := buildSendable(t, srv)
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/documents/"+docID+"/send", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("send: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/documents/"+docID, nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get: %d %s", res.StatusCode, string(data))
	}
	var agg AggregateResponse
	_ = json.Unmarshal(data, &agg)
	signerID := agg.Signers[0].ID

	for i := 0; i < 5; i++ {
		res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/documents/"+docID+"/signers/"+signerID+"/remind", nil, nil)
		if res.StatusCode != http.StatusOK {
			t.Fatalf("reminder %d: %d %s", i+1, res.StatusCode, string(data))
		}
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/documents/"+docID+"/signers/"+signerID+"/remind", nil, nil)
	if res.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error struct {
			Code    string         `json:"code"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	_ = json.Unmarshal(data, &envelope)
	if envelope.Error.Code != "rate_limited" {
		t.Fatalf("expected rate_limited, got %s", envelope.Error.Code)
	}
}

func TestUnauthorizedWithoutCredentials(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/v0/documents", nil)
	res, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.StatusCode)
	}
}
