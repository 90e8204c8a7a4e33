package domain

type Owner struct {
	ID            string  `json:"id"`
	Slug          string  `json:"slug"`
	Name          string  `json:"name,omitempty"`
	DefaultFormID *string `json:"default_form_id,omitempty"`
	CreatedAt     string  `json:"created_at" format:"date-time"`
}

type Form struct {
	ID          string `json:"id"`
	OwnerID     string `json:"owner_id"`
	Title       string `json:"title"`
	Slug        string `json:"slug"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
	UpdatedAt   string `json:"updated_at" format:"date-time"`
}

// FormVersion is an immutable snapshot of a form's schema. Version numbers
// are 1-based and monotonically increasing per form; "latest" is the row
// with the maximum version_number.
type FormVersion struct {
	ID            string `json:"id"`
	FormID        string `json:"form_id"`
	VersionNumber int    `json:"version_number"`
	VersionLabel  string `json:"version_label"`
	SchemaJSON    string `json:"schema_json"`
	CreatedAt     string `json:"created_at" format:"date-time"`
}

// FieldDef is a registry entry for a reusable custom field key.
type FieldDef struct {
	ID        string `json:"id"`
	OwnerID   string `json:"owner_id"`
	Key       string `json:"key"`
	Label     string `json:"label"`
	Type      string `json:"type" enum:"text,email,phone,number,date"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Campaign struct {
	ID             string `json:"id"`
	OwnerID        string `json:"owner_id"`
	FormID         string `json:"form_id"`
	Slug           string `json:"slug"`
	Status         string `json:"status" enum:"draft,active,paused,ended"`
	StartDate      string `json:"start_date" format:"date-time"`
	EndDate        string `json:"end_date" format:"date-time"`
	SuccessMessage string `json:"success_message,omitempty"`
	CreatedAt      string `json:"created_at" format:"date-time"`
}

type Submission struct {
	ID          string  `json:"id"`
	FormID      string  `json:"form_id"`
	CampaignID  *string `json:"campaign_id,omitempty"`
	OwnerID     string  `json:"owner_id"`
	AnswersJSON string  `json:"answers_json"`
	ConsentText *string `json:"consent_text,omitempty"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	OwnerID    string `json:"owner_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
