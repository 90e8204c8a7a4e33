package formlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Formline HTTP API client.
type Client struct {
	BaseURL     string
	OwnerID     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, ownerID string) *Client {
	return &Client{
		BaseURL: baseURL,
		OwnerID: ownerID,
		Timeout: 10 * time.Second,
	}
}

// Form represents the API form model (partial).
type Form struct {
	ID            string          `json:"id"`
	OwnerID       string          `json:"owner_id"`
	Title         string          `json:"title"`
	Slug          string          `json:"slug"`
	VersionNumber *int            `json:"version_number,omitempty"`
	VersionLabel  string          `json:"version_label,omitempty"`
	Schema        json.RawMessage `json:"schema"`
}

// Field represents an owner-defined custom field.
type Field struct {
	ID      string `json:"id"`
	OwnerID string `json:"owner_id"`
	Key     string `json:"key"`
	Label   string `json:"label"`
	Type    string `json:"type"`
}

// Campaign represents a time-windowed public slug for a form.
type Campaign struct {
	ID             string `json:"id"`
	OwnerID        string `json:"owner_id"`
	FormID         string `json:"form_id"`
	Slug           string `json:"slug"`
	Status         string `json:"status"`
	StartDate      string `json:"start_date,omitempty"`
	EndDate        string `json:"end_date,omitempty"`
	SuccessMessage string `json:"success_message,omitempty"`
}

// Intake is the public shape a slug resolves to.
type Intake struct {
	FormID         string          `json:"form_id"`
	OwnerID        string          `json:"owner_id"`
	CampaignID     *string         `json:"campaign_id,omitempty"`
	SuccessMessage string          `json:"success_message,omitempty"`
	Schema         json.RawMessage `json:"schema"`
}

// SubmitResult is returned by a successful intake submission.
type SubmitResult struct {
	SubmissionID   string `json:"submission_id"`
	SuccessMessage string `json:"success_message,omitempty"`
}

// Submission represents a stored intake submission.
type Submission struct {
	ID          string         `json:"id"`
	FormID      string         `json:"form_id"`
	CampaignID  *string        `json:"campaign_id,omitempty"`
	OwnerID     string         `json:"owner_id"`
	Answers     map[string]any `json:"answers"`
	ConsentText *string        `json:"consent_text,omitempty"`
	CreatedAt   string         `json:"created_at"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	OwnerID    string         `json:"owner_id"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	Payload    map[string]any `json:"payload"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// TransientError wraps network-level failures where no response arrived.
// Callers rendering an intake form can retry these; an APIError means the
// server answered and retrying the same request will not help.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("transient: %v", e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// PaginatedSubmissions wraps list responses with cursors.
type PaginatedSubmissions struct {
	Items      []Submission `json:"items"`
	NextCursor string       `json:"next_cursor"`
}

// SaveForm creates a form or appends a new version when formID is set.
func (c *Client) SaveForm(ctx context.Context, formID, title, slug string, schema json.RawMessage) (Form, error) {
	body := map[string]any{
		"title":  title,
		"slug":   slug,
		"schema": schema,
	}
	if formID != "" {
		body["form_id"] = formID
	}
	var resp Form
	err := c.do(ctx, http.MethodPost, c.ownerPath("forms"), body, &resp)
	return resp, err
}

// GetForm fetches a form with its latest version.
func (c *Client) GetForm(ctx context.Context, id string) (Form, error) {
	var resp Form
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("v0/forms/%s", url.PathEscape(id)), nil, &resp)
	return resp, err
}

// CreateField registers a custom field key for the owner.
func (c *Client) CreateField(ctx context.Context, key, label, fieldType string) (Field, error) {
	body := map[string]any{
		"key":   key,
		"label": label,
		"type":  fieldType,
	}
	var resp Field
	err := c.do(ctx, http.MethodPost, c.ownerPath("fields"), body, &resp)
	return resp, err
}

// CreateCampaign points a public slug at a form.
func (c *Client) CreateCampaign(ctx context.Context, formID, slug, status, startDate, endDate, successMessage string) (Campaign, error) {
	body := map[string]any{
		"form_id": formID,
		"slug":    slug,
	}
	if status != "" {
		body["status"] = status
	}
	if startDate != "" {
		body["start_date"] = startDate
	}
	if endDate != "" {
		body["end_date"] = endDate
	}
	if successMessage != "" {
		body["success_message"] = successMessage
	}
	var resp Campaign
	err := c.do(ctx, http.MethodPost, c.ownerPath("campaigns"), body, &resp)
	return resp, err
}

// ResolveIntake fetches the schema behind a public slug. No credentials needed.
func (c *Client) ResolveIntake(ctx context.Context, slug string) (Intake, error) {
	var resp Intake
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("v0/intake/%s", url.PathEscape(slug)), nil, &resp)
	return resp, err
}

// SubmitIntake posts answers to a public slug. No credentials needed.
func (c *Client) SubmitIntake(ctx context.Context, slug string, values map[string]any) (SubmitResult, error) {
	var resp SubmitResult
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v0/intake/%s", url.PathEscape(slug)), map[string]any{"values": values}, &resp)
	return resp, err
}

// Submissions returns recent submissions.
func (c *Client) Submissions(ctx context.Context, limit int) ([]Submission, error) {
	page, err := c.SubmissionsPage(ctx, limit, "")
	return page.Items, err
}

// SubmissionsPage returns a paginated submission listing.
func (c *Client) SubmissionsPage(ctx context.Context, limit int, cursor string) (PaginatedSubmissions, error) {
	endpoint := c.ownerPath("submissions")
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	if cursor != "" {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint = fmt.Sprintf("%s%scursor=%s", endpoint, sep, url.QueryEscape(cursor))
	}
	var resp PaginatedSubmissions
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := c.ownerPath("events")
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return &TransientError{Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) ownerPath(p string) string {
	owner := url.PathEscape(c.OwnerID)
	return fmt.Sprintf("v0/owners/%s/%s", owner, strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
