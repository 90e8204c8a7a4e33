package intake

import (
	"context"
	"errors"
)

// State is the renderer lifecycle:
// loading -> ready|failed -> submitting -> submitted|ready (with errors).
type State string

const (
	StateLoading    State = "loading"
	StateReady      State = "ready"
	StateFailed     State = "failed"
	StateSubmitting State = "submitting"
	StateSubmitted  State = "submitted"
)

// Sink is the external submission collaborator.
type Sink interface {
	Submit(ctx context.Context, p Payload) (string, error)
}

// Renderer drives one public intake session over a resolved schema. It is
// single-user and event-driven; a liveness flag guards against stale
// responses arriving after Close.
type Renderer struct {
	state     State
	resolved  Resolved
	validator *Validator
	phones    PhoneNormalizer
	values    Values
	errors    []FieldError
	loadErr   error
	closed    bool
}

func NewRenderer(phones PhoneNormalizer) *Renderer {
	if phones == nil {
		phones = NANPNormalizer{}
	}
	return &Renderer{state: StateLoading, phones: phones, values: Values{}}
}

func (r *Renderer) State() State         { return r.state }
func (r *Renderer) Errors() []FieldError { return r.errors }
func (r *Renderer) LoadError() error     { return r.loadErr }
func (r *Renderer) Resolved() Resolved   { return r.resolved }
func (r *Renderer) Values() Values       { return r.values }

// Load transitions to ready and builds the validation schema from the
// resolved block list.
func (r *Renderer) Load(res Resolved) {
	if r.closed {
		return
	}
	r.resolved = res
	r.validator = BuildValidator(res.Blocks, r.phones)
	r.state = StateReady
	r.loadErr = nil
}

// Fail records a terminal load failure (unresolvable slug, inactive
// campaign, store error).
func (r *Renderer) Fail(err error) {
	if r.closed {
		return
	}
	r.loadErr = err
	r.state = StateFailed
}

// SetValue records one field entry and re-validates to keep CanSubmit
// current. Entered values are never discarded by validation failures.
func (r *Renderer) SetValue(key string, val any) {
	if r.closed || r.validator == nil {
		return
	}
	if r.state != StateReady {
		return
	}
	r.values[key] = val
	r.errors = r.validator.Validate(r.values)
}

// CanSubmit gates the submit action on the current values.
func (r *Renderer) CanSubmit() bool {
	if r.validator == nil || r.state != StateReady {
		return false
	}
	return r.validator.CanSubmit(r.values)
}

// Submit validates, assembles the answer payload, and hands it to the
// sink. A validation failure or sink error returns to ready with all
// entered values preserved; nothing reaches the sink unless validation
// passes.
func (r *Renderer) Submit(ctx context.Context, sink Sink) (string, error) {
	if r.closed {
		return "", errors.New("renderer closed")
	}
	if r.state != StateReady {
		return "", errors.New("not ready to submit")
	}
	if errs := r.validator.Validate(r.values); len(errs) > 0 {
		r.errors = errs
		return "", ValidationError{Fields: errs}
	}
	r.state = StateSubmitting
	payload := Payload{
		FormID:      r.resolved.FormID,
		CampaignID:  r.resolved.CampaignID,
		OwnerID:     r.resolved.OwnerID,
		Answers:     AssembleAnswers(r.resolved.Blocks, r.values, r.phones),
		ConsentText: ConsentText(r.resolved.Blocks, r.values),
	}
	id, err := sink.Submit(ctx, payload)
	if r.closed {
		// stale response after unmount: drop it without touching state
		return "", errors.New("renderer closed")
	}
	if err != nil {
		r.state = StateReady
		return "", err
	}
	r.state = StateSubmitted
	return id, nil
}

// Close marks the session unmounted; later responses become no-ops.
func (r *Renderer) Close() { r.closed = true }
