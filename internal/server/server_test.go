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

	"formline/internal/config"
	"formline/internal/db"
	"formline/internal/engine"
	"formline/internal/migrate"
)

type testServer struct {
	URL    string
	Engine *engine.Engine
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
	cfg := config.Default("owner-1")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg)
	e.Now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }
	if _, err := e.InitOwner(context.Background(), "owner-1", "acme", "Acme Plumbing", "tester"); err != nil {
		t.Fatalf("init owner: %v", err)
	}
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth:     AuthConfig{AllowLegacyActorHeader: true},
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

var actorHeaders = map[string]string{"X-Actor-Id": "tester"}

func intakeSchema() map[string]any {
	return map[string]any{
		"blocks": []map[string]any{
			{
				"id":       "blk-title",
				"block_id": "blk-title",
				"type":     "title",
				"text":     "Request a Quote",
			},
			{
				"id":            "blk-phone",
				"block_id":      "blk-phone",
				"type":          "input",
				"label":         "Phone",
				"fieldType":     "phone",
				"required":      true,
				"mapsToFactory": "phone",
				"dataKey":       "f.phone",
			},
			{
				"id":            "blk-consent",
				"block_id":      "blk-consent",
				"type":          "checkbox",
				"label":         "Consent to Contact",
				"mapsToFactory": "consent_to_contact",
				"dataKey":       "f.consent_to_contact",
			},
		},
		"style": map[string]any{"backgroundColor": "#0044cc"},
	}
}

func createForm(t *testing.T, srv *testServer, slug string) string {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/owners/owner-1/forms", map[string]any{
		"title":  "Quote Request",
		"slug":   slug,
		"schema": intakeSchema(),
	}, actorHeaders)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("save form status %d: %s", res.StatusCode, string(data))
	}
	var created FormResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal form: %v", err)
	}
	return created.ID
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var body struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		t.Fatalf("unmarshal error envelope: %v (%s)", err, string(data))
	}
	return body.Error.Code
}

func TestSaveAndGetFormRoundTrip(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	formID := createForm(t, srv, "quote")

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/forms/"+formID, nil, actorHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get form status %d: %s", res.StatusCode, string(data))
	}
	var got FormResponse
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal form: %v", err)
	}
	if got.VersionNumber == nil || *got.VersionNumber != 1 {
		t.Fatalf("expected version 1, got %v", got.VersionNumber)
	}
	if got.VersionLabel != "Quote Request v1" {
		t.Fatalf("unexpected version label %q", got.VersionLabel)
	}
	var schema struct {
		Blocks []map[string]any `json:"blocks"`
		Style  map[string]any   `json:"style"`
	}
	if err := json.Unmarshal(got.Schema, &schema); err != nil {
		t.Fatalf("unmarshal schema: %v", err)
	}
	if len(schema.Blocks) != 3 {
		t.Fatalf("expected 3 blocks, got %d", len(schema.Blocks))
	}
	if schema.Style["backgroundColor"] != "#0044cc" {
		t.Fatalf("unexpected style %v", schema.Style)
	}
}

func TestSaveFormValidationEnvelope(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/owners/owner-1/forms", map[string]any{
		"title":  "   ",
		"slug":   "quote",
		"schema": intakeSchema(),
	}, actorHeaders)
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "validation_failed" {
		t.Fatalf("expected validation_failed, got %q", code)
	}
}

func TestSaveFormSlugConflictEnvelope(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	createForm(t, srv, "quote")
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/owners/owner-1/forms", map[string]any{
		"title":  "Another",
		"slug":   "quote",
		"schema": intakeSchema(),
	}, actorHeaders)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "conflict" {
		t.Fatalf("expected conflict, got %q", code)
	}
}

func TestIntakeIsPublic(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	createForm(t, srv, "quote")

	// the first saved form becomes the owner's default; resolve via owner slug
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/intake/acme", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("resolve intake status %d: %s", res.StatusCode, string(data))
	}
	var resolved IntakeResponse
	if err := json.Unmarshal(data, &resolved); err != nil {
		t.Fatalf("unmarshal intake: %v", err)
	}
	if resolved.OwnerID != "owner-1" {
		t.Fatalf("unexpected owner %q", resolved.OwnerID)
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/intake/acme", map[string]any{
		"values": map[string]any{
			"blk-phone":   "(555) 123-4567",
			"blk-consent": true,
		},
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("submit intake status %d: %s", res.StatusCode, string(data))
	}
	var submitted SubmitIntakeResponse
	if err := json.Unmarshal(data, &submitted); err != nil {
		t.Fatalf("unmarshal submission: %v", err)
	}
	if submitted.SubmissionID == "" {
		t.Fatal("expected submission id")
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/owners/owner-1/submissions", nil, actorHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list submissions status %d: %s", res.StatusCode, string(data))
	}
	var page paginatedSubmissions
	if err := json.Unmarshal(data, &page); err != nil {
		t.Fatalf("unmarshal submissions: %v", err)
	}
	if len(page.Items) != 1 {
		t.Fatalf("expected 1 submission, got %d", len(page.Items))
	}
	if got := page.Items[0].Answers["f.phone"]; got != "+15551234567" {
		t.Fatalf("expected normalized phone, got %v", got)
	}
	if page.Items[0].ConsentText == nil || *page.Items[0].ConsentText != "Consent to Contact" {
		t.Fatalf("expected consent text, got %v", page.Items[0].ConsentText)
	}
}

func TestSubmitIntakeValidationEnvelope(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	createForm(t, srv, "quote")

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/intake/acme", map[string]any{
		"values": map[string]any{},
	}, nil)
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", res.StatusCode, string(data))
	}
	var body struct {
		Error struct {
			Code    string `json:"code"`
			Details struct {
				Fields []map[string]any `json:"fields"`
			} `json:"details"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if body.Error.Code != "validation_failed" {
		t.Fatalf("expected validation_failed, got %q", body.Error.Code)
	}
	if len(body.Error.Details.Fields) == 0 {
		t.Fatal("expected per-field validation details")
	}
}

func TestAuthRequiredOutsideIntake(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/owners/owner-1/forms", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "unauthorized" {
		t.Fatalf("expected unauthorized, got %q", code)
	}

	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected health open, got %d", res.StatusCode)
	}
}

func TestCampaignResolution(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	formID := createForm(t, srv, "quote")

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/owners/owner-1/campaigns", map[string]any{
		"form_id":         formID,
		"slug":            "spring-special",
		"status":          "active",
		"start_date":      "2024-02-01T00:00:00Z",
		"end_date":        "2024-04-01T00:00:00Z",
		"success_message": "Thanks, we will call you back.",
	}, actorHeaders)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create campaign status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/intake/spring-special", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("resolve campaign status %d: %s", res.StatusCode, string(data))
	}
	var resolved IntakeResponse
	if err := json.Unmarshal(data, &resolved); err != nil {
		t.Fatalf("unmarshal intake: %v", err)
	}
	if resolved.CampaignID == nil {
		t.Fatal("expected campaign id on resolution")
	}
	if resolved.SuccessMessage != "Thanks, we will call you back." {
		t.Fatalf("unexpected success message %q", resolved.SuccessMessage)
	}

	// paused campaigns resolve as unavailable, not missing
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/owners/owner-1/campaigns", map[string]any{
		"form_id": formID,
		"slug":    "paused-special",
		"status":  "paused",
	}, actorHeaders)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create paused campaign status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/intake/paused-special", nil, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for paused campaign, got %d: %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "not_available" {
		t.Fatalf("expected not_available, got %q", code)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/intake/no-such-slug", nil, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown slug, got %d", res.StatusCode)
	}
	if code := errorCode(t, data); code != "not_found" {
		t.Fatalf("expected not_found, got %q", code)
	}
}

func TestVersionHistoryEndpoints(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	formID := createForm(t, srv, "quote")
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/owners/owner-1/forms", map[string]any{
		"form_id": formID,
		"title":   "Quote Request Updated",
		"slug":    "quote",
		"schema":  intakeSchema(),
	}, actorHeaders)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("resave status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/forms/"+formID+"/versions", nil, actorHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list versions status %d: %s", res.StatusCode, string(data))
	}
	var versions []VersionResponse
	if err := json.Unmarshal(data, &versions); err != nil {
		t.Fatalf("unmarshal versions: %v", err)
	}
	if len(versions) != 2 {
		t.Fatalf("expected 2 versions, got %d", len(versions))
	}
	if versions[0].VersionNumber != 2 {
		t.Fatalf("expected newest first, got %d", versions[0].VersionNumber)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/forms/"+formID+"/versions/1", nil, actorHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get version status %d: %s", res.StatusCode, string(data))
	}
	var v1 VersionResponse
	if err := json.Unmarshal(data, &v1); err != nil {
		t.Fatalf("unmarshal version: %v", err)
	}
	if v1.VersionLabel != "Quote Request v1" {
		t.Fatalf("unexpected label %q", v1.VersionLabel)
	}
}

func TestFieldEndpoints(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/owners/owner-1/fields", map[string]any{
		"key":   "budget",
		"label": "Project Budget",
		"type":  "number",
	}, actorHeaders)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create field status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/owners/owner-1/fields", map[string]any{
		"key":   "budget",
		"label": "Budget Again",
	}, actorHeaders)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 on duplicate key, got %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/owners/owner-1/fields", nil, actorHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list fields status %d: %s", res.StatusCode, string(data))
	}
	var fields []FieldResponse
	if err := json.Unmarshal(data, &fields); err != nil {
		t.Fatalf("unmarshal fields: %v", err)
	}
	if len(fields) != 1 || fields[0].Key != "budget" {
		t.Fatalf("unexpected fields %v", fields)
	}
}
