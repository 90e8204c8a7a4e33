package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"formline/internal/block"
	"formline/internal/config"
	"formline/internal/domain"
	"formline/internal/events"
	"formline/internal/intake"
	"formline/internal/repo"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
	Phones intake.PhoneNormalizer

	registry registryCache
}

func New(db *sql.DB, cfg *config.Config) *Engine {
	return &Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
		Phones: intake.NANPNormalizer{},
	}
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// InitOwner creates the owner record for a fresh workspace.
func (e *Engine) InitOwner(ctx context.Context, ownerID, slug, name, actorID string) (domain.Owner, error) {
	if slug == "" {
		slug = ownerID
	}
	if _, err := e.Repo.GetOwnerBySlug(ctx, slug); err == nil {
		return domain.Owner{}, ConflictError{Message: fmt.Sprintf("owner slug %q is already in use", slug)}
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.Owner{}, err
	}
	o := domain.Owner{
		ID:        ownerID,
		Slug:      slug,
		Name:      name,
		CreatedAt: e.now().UTC().Format(time.RFC3339),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Owner{}, err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `INSERT INTO owners(id,slug,name,created_at) VALUES (?,?,?,?)`,
		o.ID, o.Slug, o.Name, o.CreatedAt); err != nil {
		return domain.Owner{}, fmt.Errorf("insert owner: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "owner.init", o.ID, "owner", o.ID, actorID, events.EventPayload{"slug": o.Slug}); err != nil {
		return domain.Owner{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Owner{}, err
	}
	return o, nil
}

// SaveFormOptions carries one save request. FormID empty means create.
type SaveFormOptions struct {
	FormID      string
	OwnerID     string
	Title       string
	Slug        string
	Description string
	Schema      block.Schema
	ActorID     string
}

// Saved is the merged form + latest-version record a save returns.
type Saved struct {
	Form    domain.Form
	Version domain.FormVersion
	Schema  block.Schema
}

// SaveForm runs the pre-save checks in their fixed order, prunes the block
// list, and writes the form plus a new immutable version in one
// transaction. A repeat save of an existing form never mutates earlier
// versions.
func (e *Engine) SaveForm(ctx context.Context, opts SaveFormOptions) (Saved, error) {
	title := strings.TrimSpace(opts.Title)
	if title == "" {
		return Saved{}, ValidationError{Field: "title", Message: "title is required"}
	}
	if len(opts.Schema.Blocks) == 0 {
		return Saved{}, ValidationError{Field: "blocks", Message: "at least one block is required"}
	}
	if opts.Schema.Style.BackgroundColor == "" {
		return Saved{}, ValidationError{Field: "style.backgroundColor", Message: "background color is required"}
	}
	slug := strings.TrimSpace(opts.Slug)
	if slug == "" {
		return Saved{}, ValidationError{Field: "slug", Message: "slug is required"}
	}
	if opts.OwnerID == "" {
		return Saved{}, ValidationError{Field: "owner_id", Message: "owner is required"}
	}
	for _, b := range opts.Schema.Blocks {
		if err := b.Validate(); err != nil {
			return Saved{}, ValidationError{Field: b.BlockID, Message: err.Error()}
		}
	}
	if _, err := e.Repo.GetOwner(ctx, opts.OwnerID); err != nil {
		return Saved{}, err
	}

	blocks := dedupeFactoryMappings(opts.Schema.Blocks)
	blocks = pruneEmptyValues(blocks)
	schema := block.Schema{Blocks: blocks, Style: opts.Schema.Style}
	schemaJSON, err := json.Marshal(schema)
	if err != nil {
		return Saved{}, fmt.Errorf("marshal schema: %w", err)
	}

	now := e.now().UTC().Format(time.RFC3339)
	creating := opts.FormID == ""
	formID := opts.FormID
	if creating {
		formID = uuid.New().String()
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return Saved{}, err
	}
	defer tx.Rollback()

	taken, err := e.Repo.FormSlugTaken(ctx, tx, opts.OwnerID, slug, formID)
	if err != nil {
		return Saved{}, err
	}
	if taken {
		return Saved{}, ConflictError{Message: fmt.Sprintf("slug %q is already in use", slug)}
	}

	f := domain.Form{
		ID:          formID,
		OwnerID:     opts.OwnerID,
		Title:       title,
		Slug:        slug,
		Description: opts.Description,
		UpdatedAt:   now,
	}
	if creating {
		f.CreatedAt = now
		if err := e.Repo.InsertForm(ctx, tx, f); err != nil {
			if errors.Is(err, repo.ErrConflict) {
				return Saved{}, ConflictError{Message: fmt.Sprintf("slug %q is already in use", slug)}
			}
			return Saved{}, fmt.Errorf("insert form: %w", err)
		}
	} else {
		existing, err := e.Repo.GetForm(ctx, formID)
		if err != nil {
			return Saved{}, err
		}
		if existing.OwnerID != opts.OwnerID {
			return Saved{}, repo.ErrNotFound
		}
		f.CreatedAt = existing.CreatedAt
		if err := e.Repo.UpdateForm(ctx, tx, f); err != nil {
			return Saved{}, fmt.Errorf("update form: %w", err)
		}
	}

	maxVersion, err := e.Repo.MaxVersionNumber(ctx, tx, formID)
	if err != nil {
		return Saved{}, err
	}
	v := domain.FormVersion{
		ID:            uuid.New().String(),
		FormID:        formID,
		VersionNumber: maxVersion + 1,
		VersionLabel:  fmt.Sprintf("%s v%d", title, maxVersion+1),
		SchemaJSON:    string(schemaJSON),
		CreatedAt:     now,
	}
	if err := e.Repo.InsertFormVersion(ctx, tx, v); err != nil {
		if errors.Is(err, repo.ErrConflict) {
			return Saved{}, ConflictError{Message: "form was saved concurrently, retry"}
		}
		return Saved{}, fmt.Errorf("insert form version: %w", err)
	}

	evtType := "form.saved"
	if creating {
		evtType = "form.created"
		if err := e.Repo.SetOwnerDefaultFormIfUnset(ctx, tx, opts.OwnerID, formID); err != nil {
			return Saved{}, err
		}
	}
	if err := e.Events.Append(ctx, tx, evtType, opts.OwnerID, "form", formID, opts.ActorID, events.EventPayload{
		"slug": slug, "version": v.VersionNumber,
	}); err != nil {
		return Saved{}, err
	}
	if err := tx.Commit(); err != nil {
		return Saved{}, err
	}
	return Saved{Form: f, Version: v, Schema: schema}, nil
}

// dedupeFactoryMappings scans tail to head and keeps the first occurrence
// of each non-null factory key it meets, so the block closest to the end
// of the list wins. Relative order of the survivors is unchanged.
func dedupeFactoryMappings(blocks []block.Block) []block.Block {
	seen := map[block.FactoryKey]bool{}
	kept := make([]block.Block, 0, len(blocks))
	for i := len(blocks) - 1; i >= 0; i-- {
		b := blocks[i]
		if b.MapsToFactory != nil {
			if seen[*b.MapsToFactory] {
				continue
			}
			seen[*b.MapsToFactory] = true
		}
		kept = append(kept, b)
	}
	for i, j := 0, len(kept)-1; i < j; i, j = i+1, j-1 {
		kept[i], kept[j] = kept[j], kept[i]
	}
	return kept
}

// pruneEmptyValues drops blocks carrying an explicit "value" extra that is
// null or the empty string.
func pruneEmptyValues(blocks []block.Block) []block.Block {
	kept := make([]block.Block, 0, len(blocks))
	for _, b := range blocks {
		if raw, ok := b.Extra("value"); ok {
			s := strings.TrimSpace(string(raw))
			if s == "null" || s == `""` {
				continue
			}
		}
		kept = append(kept, b)
	}
	return kept
}

// FormRecord is the flattened read-path shape: the form plus its latest
// version's blocks and style. A form without versions yields an empty
// schema.
type FormRecord struct {
	Form    domain.Form
	Version *domain.FormVersion
	Schema  block.Schema
}

func (e *Engine) GetForm(ctx context.Context, id string) (FormRecord, error) {
	f, err := e.Repo.GetForm(ctx, id)
	if err != nil {
		return FormRecord{}, err
	}
	rec := FormRecord{Form: f}
	v, err := e.Repo.LatestVersion(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return rec, nil
	}
	if err != nil {
		return FormRecord{}, err
	}
	rec.Version = &v
	if err := json.Unmarshal([]byte(v.SchemaJSON), &rec.Schema); err != nil {
		return FormRecord{}, fmt.Errorf("decode schema for form %s: %w", id, err)
	}
	return rec, nil
}

func (e *Engine) ListForms(ctx context.Context, f repo.FormFilters) ([]domain.Form, error) {
	return e.Repo.ListForms(ctx, f)
}

func (e *Engine) DeleteForm(ctx context.Context, id, actorID string) error {
	f, err := e.Repo.GetForm(ctx, id)
	if err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `UPDATE owners SET default_form_id=NULL WHERE default_form_id=?`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM forms WHERE id=?`, id); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "form.deleted", f.OwnerID, "form", id, actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

func (e *Engine) ListVersions(ctx context.Context, formID string) ([]domain.FormVersion, error) {
	if _, err := e.Repo.GetForm(ctx, formID); err != nil {
		return nil, err
	}
	return e.Repo.ListVersions(ctx, formID)
}

func (e *Engine) GetVersion(ctx context.Context, formID string, n int) (domain.FormVersion, error) {
	return e.Repo.GetVersion(ctx, formID, n)
}

// CreateField registers a reusable custom field key for an owner and
// invalidates the owner's cached registry snapshot.
func (e *Engine) CreateField(ctx context.Context, ownerID, key, label, fieldType, actorID string) (domain.FieldDef, error) {
	key = strings.TrimSpace(strings.ToLower(key))
	if key == "" {
		return domain.FieldDef{}, ValidationError{Field: "key", Message: "key is required"}
	}
	if strings.ContainsAny(key, " .") {
		return domain.FieldDef{}, ValidationError{Field: "key", Message: "key must not contain spaces or dots"}
	}
	if label == "" {
		return domain.FieldDef{}, ValidationError{Field: "label", Message: "label is required"}
	}
	if fieldType == "" {
		fieldType = "text"
	}
	if _, err := e.Repo.GetFieldByKey(ctx, ownerID, key); err == nil {
		return domain.FieldDef{}, ConflictError{Message: fmt.Sprintf("field key %q is already defined", key)}
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.FieldDef{}, err
	}
	f := domain.FieldDef{
		ID:        uuid.New().String(),
		OwnerID:   ownerID,
		Key:       key,
		Label:     label,
		Type:      fieldType,
		CreatedAt: e.now().UTC().Format(time.RFC3339),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.FieldDef{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertField(ctx, tx, f); err != nil {
		if errors.Is(err, repo.ErrConflict) {
			return domain.FieldDef{}, ConflictError{Message: fmt.Sprintf("field key %q is already defined", key)}
		}
		return domain.FieldDef{}, fmt.Errorf("insert field: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "field.created", ownerID, "field", f.ID, actorID, events.EventPayload{"key": key}); err != nil {
		return domain.FieldDef{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.FieldDef{}, err
	}
	e.registry.invalidate(ownerID)
	return f, nil
}

// DeleteField removes a custom field key and invalidates the owner's
// cached registry snapshot. Blocks already saved against the key keep
// their stored data keys.
func (e *Engine) DeleteField(ctx context.Context, ownerID, key, actorID string) error {
	key = strings.TrimSpace(strings.ToLower(key))
	f, err := e.Repo.GetFieldByKey(ctx, ownerID, key)
	if err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteField(ctx, tx, ownerID, key); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "field.deleted", ownerID, "field", f.ID, actorID, events.EventPayload{"key": key}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	e.registry.invalidate(ownerID)
	return nil
}

func (e *Engine) ListFields(ctx context.Context, ownerID string) ([]domain.FieldDef, error) {
	return e.registry.fields(ctx, e.Repo, ownerID)
}

// Registry returns a point-in-time field lookup for the builder's
// inspector, backed by the per-owner cache.
func (e *Engine) Registry(ctx context.Context, ownerID string) (*FieldRegistry, error) {
	defs, err := e.registry.fields(ctx, e.Repo, ownerID)
	if err != nil {
		return nil, err
	}
	return newFieldRegistry(defs), nil
}

// CampaignOptions carries one campaign create request.
type CampaignOptions struct {
	OwnerID        string
	FormID         string
	Slug           string
	Status         string
	StartDate      string
	EndDate        string
	SuccessMessage string
	ActorID        string
}

func (e *Engine) CreateCampaign(ctx context.Context, opts CampaignOptions) (domain.Campaign, error) {
	slug := strings.TrimSpace(opts.Slug)
	if slug == "" {
		return domain.Campaign{}, ValidationError{Field: "slug", Message: "slug is required"}
	}
	if opts.Status == "" {
		opts.Status = "active"
	}
	switch opts.Status {
	case "draft", "active", "paused", "ended":
	default:
		return domain.Campaign{}, ValidationError{Field: "status", Message: fmt.Sprintf("unknown status %q", opts.Status)}
	}
	for _, d := range []struct{ field, val string }{{"start_date", opts.StartDate}, {"end_date", opts.EndDate}} {
		if d.val == "" {
			continue
		}
		if _, err := time.Parse(time.RFC3339, d.val); err != nil {
			return domain.Campaign{}, ValidationError{Field: d.field, Message: "must be RFC3339"}
		}
	}
	f, err := e.Repo.GetForm(ctx, opts.FormID)
	if err != nil {
		return domain.Campaign{}, err
	}
	if f.OwnerID != opts.OwnerID {
		return domain.Campaign{}, repo.ErrNotFound
	}
	if _, err := e.Repo.GetCampaignBySlug(ctx, slug); err == nil {
		return domain.Campaign{}, ConflictError{Message: fmt.Sprintf("campaign slug %q is already in use", slug)}
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.Campaign{}, err
	}
	c := domain.Campaign{
		ID:             uuid.New().String(),
		OwnerID:        opts.OwnerID,
		FormID:         opts.FormID,
		Slug:           slug,
		Status:         opts.Status,
		StartDate:      opts.StartDate,
		EndDate:        opts.EndDate,
		SuccessMessage: opts.SuccessMessage,
		CreatedAt:      e.now().UTC().Format(time.RFC3339),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Campaign{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertCampaign(ctx, tx, c); err != nil {
		if errors.Is(err, repo.ErrConflict) {
			return domain.Campaign{}, ConflictError{Message: fmt.Sprintf("campaign slug %q is already in use", slug)}
		}
		return domain.Campaign{}, fmt.Errorf("insert campaign: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "campaign.created", opts.OwnerID, "campaign", c.ID, opts.ActorID, events.EventPayload{"slug": slug}); err != nil {
		return domain.Campaign{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Campaign{}, err
	}
	return c, nil
}

func (e *Engine) ListCampaigns(ctx context.Context, ownerID string) ([]domain.Campaign, error) {
	return e.Repo.ListCampaigns(ctx, ownerID)
}

// ResolveIntake resolves a public slug to a renderable schema: campaign
// slug first (honoring its active window), then owner slug via the
// owner's default form. The latest version always wins.
func (e *Engine) ResolveIntake(ctx context.Context, slug string) (intake.Resolved, error) {
	var res intake.Resolved
	c, err := e.Repo.GetCampaignBySlug(ctx, slug)
	switch {
	case err == nil:
		if !campaignOpen(c, e.now()) {
			return res, ErrNotAvailable
		}
		res.FormID = c.FormID
		res.OwnerID = c.OwnerID
		res.CampaignID = &c.ID
		res.SuccessMessage = c.SuccessMessage
	case errors.Is(err, repo.ErrNotFound):
		o, err := e.Repo.GetOwnerBySlug(ctx, slug)
		if err != nil {
			return res, err
		}
		if o.DefaultFormID == nil {
			return res, repo.ErrNotFound
		}
		res.FormID = *o.DefaultFormID
		res.OwnerID = o.ID
	default:
		return res, err
	}
	v, err := e.Repo.LatestVersion(ctx, res.FormID)
	if err != nil {
		return res, err
	}
	var schema block.Schema
	if err := json.Unmarshal([]byte(v.SchemaJSON), &schema); err != nil {
		return res, fmt.Errorf("decode schema for form %s: %w", res.FormID, err)
	}
	res.Blocks = schema.Blocks
	res.Style = schema.Style
	return res, nil
}

func campaignOpen(c domain.Campaign, now time.Time) bool {
	if c.Status != "active" {
		return false
	}
	if c.StartDate != "" {
		start, err := time.Parse(time.RFC3339, c.StartDate)
		if err != nil || now.Before(start) {
			return false
		}
	}
	if c.EndDate != "" {
		end, err := time.Parse(time.RFC3339, c.EndDate)
		if err != nil || now.After(end) {
			return false
		}
	}
	return true
}

// SubmitIntake resolves the slug once, validates the entered values
// against the resolved schema, and persists one submission. The resolved
// context rides back so callers never re-resolve. Values are keyed by
// block_id.
func (e *Engine) SubmitIntake(ctx context.Context, slug string, values intake.Values, actorID string) (domain.Submission, intake.Resolved, error) {
	res, err := e.ResolveIntake(ctx, slug)
	if err != nil {
		return domain.Submission{}, res, err
	}
	validator := intake.BuildValidator(res.Blocks, e.Phones)
	if e.Config != nil {
		validator.SetMaxAnswerLength(e.Config.Intake.MaxAnswerLength)
	}
	if errs := validator.Validate(values); len(errs) > 0 {
		return domain.Submission{}, res, intake.ValidationError{Fields: errs}
	}
	answers := intake.AssembleAnswers(res.Blocks, values, e.Phones)
	answersJSON, err := json.Marshal(answers)
	if err != nil {
		return domain.Submission{}, res, fmt.Errorf("marshal answers: %w", err)
	}
	s := domain.Submission{
		ID:          uuid.New().String(),
		FormID:      res.FormID,
		CampaignID:  res.CampaignID,
		OwnerID:     res.OwnerID,
		AnswersJSON: string(answersJSON),
		ConsentText: intake.ConsentText(res.Blocks, values),
		CreatedAt:   e.now().UTC().Format(time.RFC3339),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Submission{}, res, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertSubmission(ctx, tx, s); err != nil {
		return domain.Submission{}, res, fmt.Errorf("insert submission: %w", err)
	}
	payload := events.EventPayload{"form_id": res.FormID}
	if res.CampaignID != nil {
		payload["campaign_id"] = *res.CampaignID
	}
	if err := e.Events.Append(ctx, tx, "intake.submitted", res.OwnerID, "submission", s.ID, actorID, payload); err != nil {
		return domain.Submission{}, res, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Submission{}, res, err
	}
	return s, res, nil
}

func (e *Engine) ListSubmissions(ctx context.Context, f repo.SubmissionFilters) ([]domain.Submission, error) {
	return e.Repo.ListSubmissions(ctx, f)
}

func (e *Engine) GetSubmission(ctx context.Context, id string) (domain.Submission, error) {
	return e.Repo.GetSubmission(ctx, id)
}
