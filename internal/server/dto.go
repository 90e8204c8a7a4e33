package server

import (
	"encoding/json"

	"formline/internal/domain"
	"formline/internal/engine"
)

// Request payloads

// SaveFormRequest drives the create-or-new-version save. Schema is the
// raw blocks+style object; the engine owns its decoding so unknown block
// keys survive round-trip untouched.
type SaveFormRequest struct {
	FormID      *string         `json:"form_id,omitempty"`
	Title       string          `json:"title"`
	Slug        string          `json:"slug"`
	Description *string         `json:"description,omitempty"`
	Schema      json.RawMessage `json:"schema"`
}

type CreateFieldRequest struct {
	Key   string `json:"key"`
	Label string `json:"label"`
	Type  string `json:"type,omitempty" enum:"text,email,phone,number,date"`
}

type CreateCampaignRequest struct {
	FormID         string  `json:"form_id"`
	Slug           string  `json:"slug"`
	Status         string  `json:"status,omitempty" enum:"draft,active,paused,ended"`
	StartDate      *string `json:"start_date,omitempty" format:"date-time"`
	EndDate        *string `json:"end_date,omitempty" format:"date-time"`
	SuccessMessage *string `json:"success_message,omitempty"`
}

type SubmitIntakeRequest struct {
	Values map[string]any `json:"values"`
}

// Response payloads

type FormSummaryResponse struct {
	ID          string `json:"id"`
	OwnerID     string `json:"owner_id"`
	Title       string `json:"title"`
	Slug        string `json:"slug"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
	UpdatedAt   string `json:"updated_at" format:"date-time"`
}

// FormResponse is the merged form + latest-version shape both the save
// and read paths return.
type FormResponse struct {
	FormSummaryResponse
	VersionNumber *int            `json:"version_number,omitempty"`
	VersionLabel  string          `json:"version_label,omitempty"`
	Schema        json.RawMessage `json:"schema"`
}

type VersionResponse struct {
	ID            string          `json:"id"`
	FormID        string          `json:"form_id"`
	VersionNumber int             `json:"version_number"`
	VersionLabel  string          `json:"version_label"`
	Schema        json.RawMessage `json:"schema"`
	CreatedAt     string          `json:"created_at" format:"date-time"`
}

type FieldResponse struct {
	ID        string `json:"id"`
	OwnerID   string `json:"owner_id"`
	Key       string `json:"key"`
	Label     string `json:"label"`
	Type      string `json:"type"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type CampaignResponse struct {
	ID             string `json:"id"`
	OwnerID        string `json:"owner_id"`
	FormID         string `json:"form_id"`
	Slug           string `json:"slug"`
	Status         string `json:"status"`
	StartDate      string `json:"start_date,omitempty"`
	EndDate        string `json:"end_date,omitempty"`
	SuccessMessage string `json:"success_message,omitempty"`
	CreatedAt      string `json:"created_at" format:"date-time"`
}

type SubmissionResponse struct {
	ID          string         `json:"id"`
	FormID      string         `json:"form_id"`
	CampaignID  *string        `json:"campaign_id,omitempty"`
	OwnerID     string         `json:"owner_id"`
	Answers     map[string]any `json:"answers"`
	ConsentText *string        `json:"consent_text,omitempty"`
	CreatedAt   string         `json:"created_at" format:"date-time"`
}

// IntakeResponse is what the public GET resolves a slug to.
type IntakeResponse struct {
	FormID         string          `json:"form_id"`
	OwnerID        string          `json:"owner_id"`
	CampaignID     *string         `json:"campaign_id,omitempty"`
	SuccessMessage string          `json:"success_message,omitempty"`
	Schema         json.RawMessage `json:"schema"`
}

type SubmitIntakeResponse struct {
	SubmissionID   string `json:"submission_id"`
	SuccessMessage string `json:"success_message,omitempty"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	OwnerID    string         `json:"owner_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload,omitempty"`
}

type paginatedForms struct {
	Items      []FormSummaryResponse `json:"items"`
	NextCursor string                `json:"next_cursor,omitempty"`
}

type paginatedSubmissions struct {
	Items      []SubmissionResponse `json:"items"`
	NextCursor string               `json:"next_cursor,omitempty"`
}

// Conversions

func formSummaryResponse(f domain.Form) FormSummaryResponse {
	return FormSummaryResponse{
		ID:          f.ID,
		OwnerID:     f.OwnerID,
		Title:       f.Title,
		Slug:        f.Slug,
		Description: f.Description,
		CreatedAt:   f.CreatedAt,
		UpdatedAt:   f.UpdatedAt,
	}
}

func mapForms(items []domain.Form) []FormSummaryResponse {
	res := make([]FormSummaryResponse, 0, len(items))
	for _, f := range items {
		res = append(res, formSummaryResponse(f))
	}
	return res
}

func formRecordResponse(rec engine.FormRecord) FormResponse {
	resp := FormResponse{
		FormSummaryResponse: formSummaryResponse(rec.Form),
		Schema:              marshalSchema(rec),
	}
	if rec.Version != nil {
		n := rec.Version.VersionNumber
		resp.VersionNumber = &n
		resp.VersionLabel = rec.Version.VersionLabel
	}
	return resp
}

func savedResponse(s engine.Saved) FormResponse {
	n := s.Version.VersionNumber
	return FormResponse{
		FormSummaryResponse: formSummaryResponse(s.Form),
		VersionNumber:       &n,
		VersionLabel:        s.Version.VersionLabel,
		Schema:              json.RawMessage(s.Version.SchemaJSON),
	}
}

// marshalSchema re-emits the stored schema JSON verbatim; an empty read
// path (form without versions) yields an empty object shape.
func marshalSchema(rec engine.FormRecord) json.RawMessage {
	if rec.Version != nil {
		return json.RawMessage(rec.Version.SchemaJSON)
	}
	return json.RawMessage(`{"blocks":[],"style":{}}`)
}

func versionResponse(v domain.FormVersion) VersionResponse {
	return VersionResponse{
		ID:            v.ID,
		FormID:        v.FormID,
		VersionNumber: v.VersionNumber,
		VersionLabel:  v.VersionLabel,
		Schema:        json.RawMessage(v.SchemaJSON),
		CreatedAt:     v.CreatedAt,
	}
}

func fieldResponse(f domain.FieldDef) FieldResponse {
	return FieldResponse{
		ID:        f.ID,
		OwnerID:   f.OwnerID,
		Key:       f.Key,
		Label:     f.Label,
		Type:      f.Type,
		CreatedAt: f.CreatedAt,
	}
}

func campaignResponse(c domain.Campaign) CampaignResponse {
	return CampaignResponse{
		ID:             c.ID,
		OwnerID:        c.OwnerID,
		FormID:         c.FormID,
		Slug:           c.Slug,
		Status:         c.Status,
		StartDate:      c.StartDate,
		EndDate:        c.EndDate,
		SuccessMessage: c.SuccessMessage,
		CreatedAt:      c.CreatedAt,
	}
}

func submissionResponse(s domain.Submission) SubmissionResponse {
	var answers map[string]any
	if err := json.Unmarshal([]byte(s.AnswersJSON), &answers); err != nil {
		answers = map[string]any{}
	}
	return SubmissionResponse{
		ID:          s.ID,
		FormID:      s.FormID,
		CampaignID:  s.CampaignID,
		OwnerID:     s.OwnerID,
		Answers:     answers,
		ConsentText: s.ConsentText,
		CreatedAt:   s.CreatedAt,
	}
}

func eventResponse(e domain.Event) EventResponse {
	var payload map[string]any
	if e.Payload != "" {
		_ = json.Unmarshal([]byte(e.Payload), &payload)
	}
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		OwnerID:    e.OwnerID,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    payload,
	}
}

func stringOrEmpty(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}
