package engine_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"formline/internal/block"
	"formline/internal/config"
	"formline/internal/db"
	"formline/internal/domain"
	"formline/internal/engine"
	"formline/internal/intake"
	"formline/internal/migrate"
	"formline/internal/repo"
)

type testEnv struct {
	Engine *engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("owner-1")
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	if _, err := eng.InitOwner(ctx, "owner-1", "acme", "Acme", "tester"); err != nil {
		t.Fatalf("init owner: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx}
}

func titleBlock(text string) block.Block {
	b, _ := block.Materialize(block.Template{Type: block.TypeTitle, ControlType: "title", Label: text})
	b.Payload = block.TextPayload{Text: text}
	return b
}

func factoryBlock(key block.FactoryKey) block.Block {
	for _, tpl := range block.FactoryTemplates() {
		if tpl.FactoryKey != nil && *tpl.FactoryKey == key {
			b, _ := block.Materialize(tpl)
			return b
		}
	}
	panic("unknown factory template " + string(key))
}

func schemaWith(blocks ...block.Block) block.Schema {
	return block.Schema{Blocks: blocks, Style: block.Style{BackgroundColor: "#ffffff"}}
}

func TestSaveFormCreatesVersionOne(t *testing.T) {
	env := newTestEnv(t)
	saved, err := env.Engine.SaveForm(env.Ctx, engine.SaveFormOptions{
		OwnerID: "owner-1",
		Title:   "Intake A",
		Slug:    "intake-a",
		Schema:  block.Schema{Blocks: []block.Block{titleBlock("Welcome")}, Style: block.Style{BackgroundColor: "#ff0000"}},
		ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if saved.Version.VersionNumber != 1 || saved.Version.VersionLabel != "Intake A v1" {
		t.Fatalf("version = %+v", saved.Version)
	}
	rec, err := env.Engine.GetForm(env.Ctx, saved.Form.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Version == nil || rec.Version.VersionNumber != 1 {
		t.Fatalf("latest = %+v", rec.Version)
	}
	if rec.Schema.Style.BackgroundColor != "#ff0000" {
		t.Fatalf("style = %+v", rec.Schema.Style)
	}
	if len(rec.Schema.Blocks) != 1 || rec.Schema.Blocks[0].Type != block.TypeTitle {
		t.Fatalf("blocks = %+v", rec.Schema.Blocks)
	}
	if rec.Schema.Blocks[0].Payload.(block.TextPayload).Text != "Welcome" {
		t.Fatalf("text payload lost: %+v", rec.Schema.Blocks[0].Payload)
	}
}

func TestSaveFormValidationOrder(t *testing.T) {
	env := newTestEnv(t)
	cases := []struct {
		name  string
		opts  engine.SaveFormOptions
		field string
	}{
		{"title first", engine.SaveFormOptions{OwnerID: "owner-1", Title: "  "}, "title"},
		{"blocks second", engine.SaveFormOptions{OwnerID: "owner-1", Title: "T"}, "blocks"},
		{"background third", engine.SaveFormOptions{OwnerID: "owner-1", Title: "T",
			Schema: block.Schema{Blocks: []block.Block{titleBlock("x")}}}, "style.backgroundColor"},
		{"slug fourth", engine.SaveFormOptions{OwnerID: "owner-1", Title: "T",
			Schema: schemaWith(titleBlock("x"))}, "slug"},
	}
	for _, tc := range cases {
		_, err := env.Engine.SaveForm(env.Ctx, tc.opts)
		var ve engine.ValidationError
		if !errors.As(err, &ve) || ve.Field != tc.field {
			t.Fatalf("%s: err = %v, want field %s", tc.name, err, tc.field)
		}
	}
}

func TestSaveFormVersionsAreMonotonic(t *testing.T) {
	env := newTestEnv(t)
	var formID string
	for i := 1; i <= 4; i++ {
		saved, err := env.Engine.SaveForm(env.Ctx, engine.SaveFormOptions{
			FormID: formID, OwnerID: "owner-1", Title: "Main", Slug: "main",
			Schema: schemaWith(titleBlock("v")), ActorID: "tester",
		})
		if err != nil {
			t.Fatalf("save %d: %v", i, err)
		}
		if saved.Version.VersionNumber != i {
			t.Fatalf("save %d produced version %d", i, saved.Version.VersionNumber)
		}
		formID = saved.Form.ID
	}
	versions, err := env.Engine.ListVersions(env.Ctx, formID)
	if err != nil || len(versions) != 4 {
		t.Fatalf("versions: %v %d", err, len(versions))
	}
	for i, v := range versions {
		if v.VersionNumber != 4-i {
			t.Fatalf("versions out of order: %+v", versions)
		}
	}
}

func TestSaveFormDedupesFactoryMappingsLastWins(t *testing.T) {
	env := newTestEnv(t)
	first := factoryBlock(block.FactoryEmail)
	second := factoryBlock(block.FactoryEmail)
	between := factoryBlock(block.FactoryPhone)
	saved, err := env.Engine.SaveForm(env.Ctx, engine.SaveFormOptions{
		OwnerID: "owner-1", Title: "Dedupe", Slug: "dedupe",
		Schema: schemaWith(first, between, second), ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	blocks := saved.Schema.Blocks
	if len(blocks) != 2 {
		t.Fatalf("blocks = %d, want 2", len(blocks))
	}
	if blocks[0].BlockID != between.BlockID {
		t.Fatalf("survivor order wrong: %+v", blocks)
	}
	if blocks[1].BlockID != second.BlockID {
		t.Fatalf("kept block should be the last occurrence, got %s", blocks[1].BlockID)
	}
}

func TestSaveFormSlugConflict(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.SaveForm(env.Ctx, engine.SaveFormOptions{
		OwnerID: "owner-1", Title: "A", Slug: "shared", Schema: schemaWith(titleBlock("a")),
	}); err != nil {
		t.Fatalf("first save: %v", err)
	}
	_, err := env.Engine.SaveForm(env.Ctx, engine.SaveFormOptions{
		OwnerID: "owner-1", Title: "B", Slug: "shared", Schema: schemaWith(titleBlock("b")),
	})
	var ce engine.ConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %v, want conflict", err)
	}
	// resaving the same form under its own slug is fine
	saved, err := env.Engine.SaveForm(env.Ctx, engine.SaveFormOptions{
		OwnerID: "owner-1", Title: "A2", Slug: "other", Schema: schemaWith(titleBlock("a")),
	})
	if err != nil {
		t.Fatalf("other slug: %v", err)
	}
	if _, err := env.Engine.SaveForm(env.Ctx, engine.SaveFormOptions{
		FormID: saved.Form.ID, OwnerID: "owner-1", Title: "A2", Slug: "other",
		Schema: schemaWith(titleBlock("a")),
	}); err != nil {
		t.Fatalf("resave own slug: %v", err)
	}
}

func TestFieldRegistryCacheInvalidation(t *testing.T) {
	env := newTestEnv(t)
	reg, err := env.Engine.Registry(env.Ctx, "owner-1")
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	if _, ok := reg.Lookup("nickname"); ok {
		t.Fatalf("unexpected field before create")
	}
	if _, err := env.Engine.CreateField(env.Ctx, "owner-1", "nickname", "Nickname", "text", "tester"); err != nil {
		t.Fatalf("create field: %v", err)
	}
	reg, err = env.Engine.Registry(env.Ctx, "owner-1")
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	if d, ok := reg.Lookup("nickname"); !ok || d.Label != "Nickname" {
		t.Fatalf("lookup after create: %v %v", d, ok)
	}
	_, err = env.Engine.CreateField(env.Ctx, "owner-1", "nickname", "Other", "text", "tester")
	var ce engine.ConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("duplicate key: %v", err)
	}
}

func saveDefaultForm(t *testing.T, env testEnv) engine.Saved {
	t.Helper()
	phone := factoryBlock(block.FactoryPhone)
	p := phone.Payload.(block.InputPayload)
	p.Required = true
	phone.Payload = p
	consent := factoryBlock(block.FactoryConsent)
	saved, err := env.Engine.SaveForm(env.Ctx, engine.SaveFormOptions{
		OwnerID: "owner-1", Title: "Contact", Slug: "contact",
		Schema: schemaWith(titleBlock("Hi"), phone, consent), ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("save form: %v", err)
	}
	return saved
}

func TestResolveIntakeOwnerSlugUsesDefaultForm(t *testing.T) {
	env := newTestEnv(t)
	saved := saveDefaultForm(t, env)
	res, err := env.Engine.ResolveIntake(env.Ctx, "acme")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.FormID != saved.Form.ID || res.CampaignID != nil {
		t.Fatalf("resolved = %+v", res)
	}
	if len(res.Blocks) != 3 {
		t.Fatalf("blocks = %d", len(res.Blocks))
	}
}

func TestResolveIntakeCampaignWindow(t *testing.T) {
	env := newTestEnv(t)
	saved := saveDefaultForm(t, env)
	mk := func(slug, status, start, end string) {
		t.Helper()
		if _, err := env.Engine.CreateCampaign(env.Ctx, engine.CampaignOptions{
			OwnerID: "owner-1", FormID: saved.Form.ID, Slug: slug,
			Status: status, StartDate: start, EndDate: end, SuccessMessage: "thanks",
		}); err != nil {
			t.Fatalf("create campaign %s: %v", slug, err)
		}
	}
	mk("spring", "active", "2023-12-01T00:00:00Z", "2024-02-01T00:00:00Z")
	mk("expired", "active", "2023-01-01T00:00:00Z", "2023-02-01T00:00:00Z")
	mk("paused", "paused", "", "")

	res, err := env.Engine.ResolveIntake(env.Ctx, "spring")
	if err != nil {
		t.Fatalf("resolve active: %v", err)
	}
	if res.CampaignID == nil || res.SuccessMessage != "thanks" {
		t.Fatalf("resolved = %+v", res)
	}
	if _, err := env.Engine.ResolveIntake(env.Ctx, "expired"); !errors.Is(err, engine.ErrNotAvailable) {
		t.Fatalf("expired: %v", err)
	}
	if _, err := env.Engine.ResolveIntake(env.Ctx, "paused"); !errors.Is(err, engine.ErrNotAvailable) {
		t.Fatalf("paused: %v", err)
	}
	if _, err := env.Engine.ResolveIntake(env.Ctx, "no-such-slug"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("missing: %v", err)
	}
}

func TestSubmitIntakeEndToEnd(t *testing.T) {
	env := newTestEnv(t)
	saved := saveDefaultForm(t, env)
	var phoneID, consentID string
	for _, b := range saved.Schema.Blocks {
		if b.MapsToFactory == nil {
			continue
		}
		switch *b.MapsToFactory {
		case block.FactoryPhone:
			phoneID = b.BlockID
		case block.FactoryConsent:
			consentID = b.BlockID
		}
	}

	_, _, err := env.Engine.SubmitIntake(env.Ctx, "acme", intake.Values{}, "public")
	var ve intake.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("empty submit: %v", err)
	}

	sub, res, err := env.Engine.SubmitIntake(env.Ctx, "acme", intake.Values{
		phoneID:   "555-123-4567",
		consentID: true,
	}, "public")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.FormID != saved.Form.ID || res.OwnerID != "owner-1" {
		t.Fatalf("resolved context = %+v", res)
	}
	var answers map[string]any
	if err := json.Unmarshal([]byte(sub.AnswersJSON), &answers); err != nil {
		t.Fatalf("answers: %v", err)
	}
	if answers["f.phone"] != "+15551234567" {
		t.Fatalf("answers = %v", answers)
	}
	if sub.ConsentText == nil || *sub.ConsentText != "Consent to Contact" {
		t.Fatalf("consent = %v", sub.ConsentText)
	}
	listed, err := env.Engine.ListSubmissions(env.Ctx, repo.SubmissionFilters{OwnerID: "owner-1"})
	if err != nil || len(listed) != 1 || listed[0].ID != sub.ID {
		t.Fatalf("list: %v %+v", err, listed)
	}
}

func TestSubmitIntakeEnforcesMaxAnswerLength(t *testing.T) {
	env := newTestEnv(t)
	saved := saveDefaultForm(t, env)
	var phoneID, consentID string
	for _, b := range saved.Schema.Blocks {
		if b.MapsToFactory == nil {
			continue
		}
		switch *b.MapsToFactory {
		case block.FactoryPhone:
			phoneID = b.BlockID
		case block.FactoryConsent:
			consentID = b.BlockID
		}
	}
	limit := env.Engine.Config.Intake.MaxAnswerLength
	if limit <= 0 {
		t.Fatalf("default config should carry an answer length cap, got %d", limit)
	}
	_, _, err := env.Engine.SubmitIntake(env.Ctx, "acme", intake.Values{
		phoneID:   "555-123-4567",
		consentID: true,
		"notes":   strings.Repeat("x", limit+1),
	}, "public")
	var ve intake.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("oversize answer accepted: %v", err)
	}
	if len(ve.Fields) != 1 || ve.Fields[0].Key != "notes" {
		t.Fatalf("fields = %+v", ve.Fields)
	}
	if _, _, err := env.Engine.SubmitIntake(env.Ctx, "acme", intake.Values{
		phoneID:   "555-123-4567",
		consentID: true,
		"notes":   strings.Repeat("x", limit),
	}, "public"); err != nil {
		t.Fatalf("at-limit answer rejected: %v", err)
	}
}

func TestInsertFieldUniqueConstraintIsConflict(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.CreateField(env.Ctx, "owner-1", "budget", "Budget", "text", "tester"); err != nil {
		t.Fatalf("create field: %v", err)
	}
	// bypass the engine pre-check, as a second process would
	tx, err := env.Engine.DB.BeginTx(env.Ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()
	err = env.Engine.Repo.InsertField(env.Ctx, tx, domain.FieldDef{
		ID: "dupe-1", OwnerID: "owner-1", Key: "budget", Label: "Other", Type: "text",
		CreatedAt: "2024-01-01T00:00:00Z",
	})
	if !errors.Is(err, repo.ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
}

func TestDeleteFieldInvalidatesRegistry(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.CreateField(env.Ctx, "owner-1", "budget", "Budget", "text", "tester"); err != nil {
		t.Fatalf("create field: %v", err)
	}
	if err := env.Engine.DeleteField(env.Ctx, "owner-1", "budget", "tester"); err != nil {
		t.Fatalf("delete field: %v", err)
	}
	reg, err := env.Engine.Registry(env.Ctx, "owner-1")
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	if _, ok := reg.Lookup("budget"); ok {
		t.Fatalf("deleted field still resolves")
	}
	if err := env.Engine.DeleteField(env.Ctx, "owner-1", "budget", "tester"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("second delete: %v", err)
	}
	// the key is free for reuse
	if _, err := env.Engine.CreateField(env.Ctx, "owner-1", "budget", "Budget 2", "text", "tester"); err != nil {
		t.Fatalf("recreate: %v", err)
	}
}

func TestGetFormBySlug(t *testing.T) {
	env := newTestEnv(t)
	saved := saveDefaultForm(t, env)
	f, err := env.Engine.Repo.GetFormBySlug(env.Ctx, "owner-1", "contact")
	if err != nil || f.ID != saved.Form.ID {
		t.Fatalf("by slug: %v %+v", err, f)
	}
	if _, err := env.Engine.Repo.GetFormBySlug(env.Ctx, "owner-1", "nope"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("missing slug: %v", err)
	}
}

func TestDeleteFormClearsOwnerDefault(t *testing.T) {
	env := newTestEnv(t)
	saved := saveDefaultForm(t, env)
	if err := env.Engine.DeleteForm(env.Ctx, saved.Form.ID, "tester"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := env.Engine.GetForm(env.Ctx, saved.Form.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("get after delete: %v", err)
	}
	if _, err := env.Engine.ResolveIntake(env.Ctx, "acme"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("resolve after delete: %v", err)
	}
}
