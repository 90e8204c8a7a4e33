package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"formline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// ErrConflict signals a uniqueness collision (owner slug, form slug,
// field key, campaign slug).
var ErrConflict = errors.New("conflict")

// conflictErr maps a sqlite UNIQUE failure to ErrConflict. The engine
// pre-checks uniqueness, but a second process writing to the same
// workspace file can race past that check; the constraint is the
// backstop and its failure is still a conflict, not an internal error.
func conflictErr(err error) error {
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return err
}

func (r Repo) InsertOwner(ctx context.Context, o domain.Owner) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO owners(id,slug,name,default_form_id,created_at) VALUES (?,?,?,?,?)`,
		o.ID, o.Slug, o.Name, nullableStringPtr(o.DefaultFormID), o.CreatedAt)
	return conflictErr(err)
}

func scanOwner(row *sql.Row) (domain.Owner, error) {
	var o domain.Owner
	var defaultForm sql.NullString
	err := row.Scan(&o.ID, &o.Slug, &o.Name, &defaultForm, &o.CreatedAt)
	if err == sql.ErrNoRows {
		return o, ErrNotFound
	}
	if defaultForm.Valid {
		o.DefaultFormID = &defaultForm.String
	}
	return o, err
}

func (r Repo) GetOwner(ctx context.Context, id string) (domain.Owner, error) {
	return scanOwner(r.DB.QueryRowContext(ctx, `SELECT id,slug,name,default_form_id,created_at FROM owners WHERE id=?`, id))
}

func (r Repo) GetOwnerBySlug(ctx context.Context, slug string) (domain.Owner, error) {
	return scanOwner(r.DB.QueryRowContext(ctx, `SELECT id,slug,name,default_form_id,created_at FROM owners WHERE slug=?`, slug))
}

func (r Repo) ListOwners(ctx context.Context) ([]domain.Owner, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,slug,name,default_form_id,created_at FROM owners ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Owner
	for rows.Next() {
		var o domain.Owner
		var defaultForm sql.NullString
		if err := rows.Scan(&o.ID, &o.Slug, &o.Name, &defaultForm, &o.CreatedAt); err != nil {
			return nil, err
		}
		if defaultForm.Valid {
			o.DefaultFormID = &defaultForm.String
		}
		res = append(res, o)
	}
	return res, nil
}

func (r Repo) SetOwnerDefaultForm(ctx context.Context, tx *sql.Tx, ownerID string, formID *string) error {
	res, err := tx.ExecContext(ctx, `UPDATE owners SET default_form_id=? WHERE id=?`, nullableStringPtr(formID), ownerID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetOwnerDefaultFormIfUnset makes the first saved form the owner's
// public default without clobbering an explicit choice.
func (r Repo) SetOwnerDefaultFormIfUnset(ctx context.Context, tx *sql.Tx, ownerID, formID string) error {
	_, err := tx.ExecContext(ctx, `UPDATE owners SET default_form_id=? WHERE id=? AND default_form_id IS NULL`, formID, ownerID)
	return err
}

func (r Repo) InsertForm(ctx context.Context, tx *sql.Tx, f domain.Form) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO forms(id,owner_id,title,slug,description,created_at,updated_at) VALUES (?,?,?,?,?,?,?)`,
		f.ID, f.OwnerID, f.Title, f.Slug, f.Description, f.CreatedAt, f.UpdatedAt)
	return conflictErr(err)
}

func (r Repo) UpdateForm(ctx context.Context, tx *sql.Tx, f domain.Form) error {
	res, err := tx.ExecContext(ctx, `UPDATE forms SET title=?, slug=?, description=?, updated_at=? WHERE id=?`,
		f.Title, f.Slug, f.Description, f.UpdatedAt, f.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanForm(row *sql.Row) (domain.Form, error) {
	var f domain.Form
	err := row.Scan(&f.ID, &f.OwnerID, &f.Title, &f.Slug, &f.Description, &f.CreatedAt, &f.UpdatedAt)
	if err == sql.ErrNoRows {
		return f, ErrNotFound
	}
	return f, err
}

func (r Repo) GetForm(ctx context.Context, id string) (domain.Form, error) {
	return scanForm(r.DB.QueryRowContext(ctx, `SELECT id,owner_id,title,slug,description,created_at,updated_at FROM forms WHERE id=?`, id))
}

func (r Repo) GetFormBySlug(ctx context.Context, ownerID, slug string) (domain.Form, error) {
	return scanForm(r.DB.QueryRowContext(ctx, `SELECT id,owner_id,title,slug,description,created_at,updated_at FROM forms WHERE owner_id=? AND slug=?`, ownerID, slug))
}

// FormSlugTaken reports whether another form of the same owner already
// holds the slug. excludeID carves out the form being saved.
func (r Repo) FormSlugTaken(ctx context.Context, tx *sql.Tx, ownerID, slug, excludeID string) (bool, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT count(*) FROM forms WHERE owner_id=? AND slug=? AND id != ?`, ownerID, slug, excludeID).Scan(&n)
	return n > 0, err
}

type FormFilters struct {
	OwnerID         string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListForms(ctx context.Context, f FormFilters) ([]domain.Form, error) {
	var clauses []string
	var args []any
	if f.OwnerID != "" {
		clauses = append(clauses, "owner_id=?")
		args = append(args, f.OwnerID)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT id,owner_id,title,slug,description,created_at,updated_at FROM forms ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Form
	for rows.Next() {
		var fm domain.Form
		if err := rows.Scan(&fm.ID, &fm.OwnerID, &fm.Title, &fm.Slug, &fm.Description, &fm.CreatedAt, &fm.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, fm)
	}
	return res, nil
}

func (r Repo) DeleteForm(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM forms WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) InsertFormVersion(ctx context.Context, tx *sql.Tx, v domain.FormVersion) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO form_versions(id,form_id,version_number,version_label,schema_json,created_at) VALUES (?,?,?,?,?,?)`,
		v.ID, v.FormID, v.VersionNumber, v.VersionLabel, v.SchemaJSON, v.CreatedAt)
	return conflictErr(err)
}

// MaxVersionNumber returns 0 when the form has no versions yet.
func (r Repo) MaxVersionNumber(ctx context.Context, tx *sql.Tx, formID string) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(version_number),0) FROM form_versions WHERE form_id=?`, formID).Scan(&n)
	return n, err
}

func scanFormVersion(row *sql.Row) (domain.FormVersion, error) {
	var v domain.FormVersion
	err := row.Scan(&v.ID, &v.FormID, &v.VersionNumber, &v.VersionLabel, &v.SchemaJSON, &v.CreatedAt)
	if err == sql.ErrNoRows {
		return v, ErrNotFound
	}
	return v, err
}

func (r Repo) LatestVersion(ctx context.Context, formID string) (domain.FormVersion, error) {
	return scanFormVersion(r.DB.QueryRowContext(ctx,
		`SELECT id,form_id,version_number,version_label,schema_json,created_at FROM form_versions WHERE form_id=? ORDER BY version_number DESC LIMIT 1`, formID))
}

func (r Repo) GetVersion(ctx context.Context, formID string, versionNumber int) (domain.FormVersion, error) {
	return scanFormVersion(r.DB.QueryRowContext(ctx,
		`SELECT id,form_id,version_number,version_label,schema_json,created_at FROM form_versions WHERE form_id=? AND version_number=?`, formID, versionNumber))
}

func (r Repo) ListVersions(ctx context.Context, formID string) ([]domain.FormVersion, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id,form_id,version_number,version_label,schema_json,created_at FROM form_versions WHERE form_id=? ORDER BY version_number DESC`, formID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.FormVersion
	for rows.Next() {
		var v domain.FormVersion
		if err := rows.Scan(&v.ID, &v.FormID, &v.VersionNumber, &v.VersionLabel, &v.SchemaJSON, &v.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, v)
	}
	return res, nil
}

func (r Repo) InsertField(ctx context.Context, tx *sql.Tx, f domain.FieldDef) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO fields(id,owner_id,key,label,type,created_at) VALUES (?,?,?,?,?,?)`,
		f.ID, f.OwnerID, f.Key, f.Label, f.Type, f.CreatedAt)
	return conflictErr(err)
}

func (r Repo) GetFieldByKey(ctx context.Context, ownerID, key string) (domain.FieldDef, error) {
	var f domain.FieldDef
	err := r.DB.QueryRowContext(ctx, `SELECT id,owner_id,key,label,type,created_at FROM fields WHERE owner_id=? AND key=?`, ownerID, key).
		Scan(&f.ID, &f.OwnerID, &f.Key, &f.Label, &f.Type, &f.CreatedAt)
	if err == sql.ErrNoRows {
		return f, ErrNotFound
	}
	return f, err
}

func (r Repo) ListFields(ctx context.Context, ownerID string) ([]domain.FieldDef, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,owner_id,key,label,type,created_at FROM fields WHERE owner_id=? ORDER BY key ASC`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.FieldDef
	for rows.Next() {
		var f domain.FieldDef
		if err := rows.Scan(&f.ID, &f.OwnerID, &f.Key, &f.Label, &f.Type, &f.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, f)
	}
	return res, nil
}

func (r Repo) DeleteField(ctx context.Context, tx *sql.Tx, ownerID, key string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM fields WHERE owner_id=? AND key=?`, ownerID, key)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) InsertCampaign(ctx context.Context, tx *sql.Tx, c domain.Campaign) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO campaigns(id,owner_id,form_id,slug,status,start_date,end_date,success_message,created_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		c.ID, c.OwnerID, c.FormID, c.Slug, c.Status, nullable(c.StartDate), nullable(c.EndDate), c.SuccessMessage, c.CreatedAt)
	return conflictErr(err)
}

func (r Repo) UpdateCampaignStatus(ctx context.Context, tx *sql.Tx, id, status string) error {
	res, err := tx.ExecContext(ctx, `UPDATE campaigns SET status=? WHERE id=?`, status, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanCampaign(row *sql.Row) (domain.Campaign, error) {
	var c domain.Campaign
	var start, end sql.NullString
	err := row.Scan(&c.ID, &c.OwnerID, &c.FormID, &c.Slug, &c.Status, &start, &end, &c.SuccessMessage, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if start.Valid {
		c.StartDate = start.String
	}
	if end.Valid {
		c.EndDate = end.String
	}
	return c, err
}

func (r Repo) GetCampaign(ctx context.Context, id string) (domain.Campaign, error) {
	return scanCampaign(r.DB.QueryRowContext(ctx,
		`SELECT id,owner_id,form_id,slug,status,start_date,end_date,success_message,created_at FROM campaigns WHERE id=?`, id))
}

func (r Repo) GetCampaignBySlug(ctx context.Context, slug string) (domain.Campaign, error) {
	return scanCampaign(r.DB.QueryRowContext(ctx,
		`SELECT id,owner_id,form_id,slug,status,start_date,end_date,success_message,created_at FROM campaigns WHERE slug=?`, slug))
}

func (r Repo) ListCampaigns(ctx context.Context, ownerID string) ([]domain.Campaign, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id,owner_id,form_id,slug,status,start_date,end_date,success_message,created_at FROM campaigns WHERE owner_id=? ORDER BY created_at DESC`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Campaign
	for rows.Next() {
		var c domain.Campaign
		var start, end sql.NullString
		if err := rows.Scan(&c.ID, &c.OwnerID, &c.FormID, &c.Slug, &c.Status, &start, &end, &c.SuccessMessage, &c.CreatedAt); err != nil {
			return nil, err
		}
		if start.Valid {
			c.StartDate = start.String
		}
		if end.Valid {
			c.EndDate = end.String
		}
		res = append(res, c)
	}
	return res, nil
}

func (r Repo) InsertSubmission(ctx context.Context, tx *sql.Tx, s domain.Submission) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO submissions(id,form_id,campaign_id,owner_id,answers_json,consent_text,created_at) VALUES (?,?,?,?,?,?,?)`,
		s.ID, s.FormID, nullableStringPtr(s.CampaignID), s.OwnerID, s.AnswersJSON, nullableStringPtr(s.ConsentText), s.CreatedAt)
	return err
}

func (r Repo) GetSubmission(ctx context.Context, id string) (domain.Submission, error) {
	var s domain.Submission
	var campaignID, consent sql.NullString
	err := r.DB.QueryRowContext(ctx,
		`SELECT id,form_id,campaign_id,owner_id,answers_json,consent_text,created_at FROM submissions WHERE id=?`, id).
		Scan(&s.ID, &s.FormID, &campaignID, &s.OwnerID, &s.AnswersJSON, &consent, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	if campaignID.Valid {
		s.CampaignID = &campaignID.String
	}
	if consent.Valid {
		s.ConsentText = &consent.String
	}
	return s, nil
}

type SubmissionFilters struct {
	OwnerID         string
	FormID          string
	CampaignID      string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListSubmissions(ctx context.Context, f SubmissionFilters) ([]domain.Submission, error) {
	var clauses []string
	var args []any
	if f.OwnerID != "" {
		clauses = append(clauses, "owner_id=?")
		args = append(args, f.OwnerID)
	}
	if f.FormID != "" {
		clauses = append(clauses, "form_id=?")
		args = append(args, f.FormID)
	}
	if f.CampaignID != "" {
		clauses = append(clauses, "campaign_id=?")
		args = append(args, f.CampaignID)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT id,form_id,campaign_id,owner_id,answers_json,consent_text,created_at FROM submissions ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Submission
	for rows.Next() {
		var s domain.Submission
		var campaignID, consent sql.NullString
		if err := rows.Scan(&s.ID, &s.FormID, &campaignID, &s.OwnerID, &s.AnswersJSON, &consent, &s.CreatedAt); err != nil {
			return nil, err
		}
		if campaignID.Valid {
			s.CampaignID = &campaignID.String
		}
		if consent.Valid {
			s.ConsentText = &consent.String
		}
		res = append(res, s)
	}
	return res, nil
}

func (r Repo) CountSubmissionsByForm(ctx context.Context, ownerID string) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT form_id, count(*) FROM submissions WHERE owner_id=? GROUP BY form_id`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var formID string
		var count int
		if err := rows.Scan(&formID, &count); err != nil {
			return nil, err
		}
		res[formID] = count
	}
	return res, nil
}

func (r Repo) LatestEvents(ctx context.Context, limit int, ownerID, evtType, entityKind, entityID string) ([]domain.Event, error) {
	return r.LatestEventsFrom(ctx, limit, 0, ownerID, evtType, entityKind, entityID)
}

func (r Repo) LatestEventsFrom(ctx context.Context, limit int, cursor int64, ownerID, evtType, entityKind, entityID string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if ownerID != "" {
		clauses = append(clauses, "owner_id=?")
		args = append(args, ownerID)
	}
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	if cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, cursor)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,owner_id,entity_kind,entity_id,actor_id,payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var ownerCol, entID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &ownerCol, &e.EntityKind, &entID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		if ownerCol.Valid {
			e.OwnerID = ownerCol.String
		}
		if entID.Valid {
			e.EntityID = entID.String
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, nil
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64, ownerID string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	clauses := []string{"1=1"}
	var args []any
	if ownerID != "" {
		clauses = append(clauses, "owner_id=?")
		args = append(args, ownerID)
	}
	if cursor > 0 {
		clauses = append(clauses, "id>?")
		args = append(args, cursor)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,owner_id,entity_kind,entity_id,actor_id,payload_json FROM events %s ORDER BY id ASC LIMIT ?`, where)
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var ownerCol, entID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &ownerCol, &e.EntityKind, &entID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		if ownerCol.Valid {
			e.OwnerID = ownerCol.String
		}
		if entID.Valid {
			e.EntityID = entID.String
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, nil
}

// LatestEventID returns the most recent event ID for an owner.
func (r Repo) LatestEventID(ctx context.Context, ownerID string) (int64, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events WHERE owner_id=?`, ownerID)
	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}
