// Package intake rehydrates a persisted form schema into a validated
// public submission flow: per-block validators, a renderer state machine,
// and the answer-payload assembly keyed by each block's resolved data key.
package intake

import (
	"fmt"
	"regexp"
	"strings"

	"formline/internal/block"
)

// Values holds the end user's live entries keyed by block_id. Acknowledge
// checkboxes for required pdf/link blocks live under AckKey(block_id).
type Values map[string]any

// AckKey is the synthetic boolean field a required pdf/link block must have
// set to true before submission.
func AckKey(blockID string) string { return "ack_" + blockID }

// FieldError flags one failing field by its values key.
type FieldError struct {
	Key     string `json:"key"`
	Message string `json:"message"`
}

// ValidationError carries all field failures from one validation pass.
type ValidationError struct {
	Fields []FieldError
}

func (e ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "validation failed"
	}
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Key + ": " + f.Message
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

var emailShape = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

type ruleKind int

const (
	ruleRequired ruleKind = iota
	ruleEmail
	rulePhone
	ruleCheckboxRequired
	ruleAckRequired
)

type rule struct {
	key     string
	kind    ruleKind
	message string
}

// Validator is the runtime validation schema built once per loaded block
// list and rebuilt whenever the blocks change.
type Validator struct {
	rules           []rule
	phones          PhoneNormalizer
	maxAnswerLength int
}

// BuildValidator derives a per-field rule set from the schema blocks.
func BuildValidator(blocks []block.Block, phones PhoneNormalizer) *Validator {
	if phones == nil {
		phones = NANPNormalizer{}
	}
	v := &Validator{phones: phones}
	for _, b := range blocks {
		switch p := b.Payload.(type) {
		case block.InputPayload:
			switch p.FieldType {
			case block.InputEmail:
				v.rules = append(v.rules, rule{key: b.BlockID, kind: ruleEmail, message: "enter a valid email address"})
			case block.InputPhone:
				v.rules = append(v.rules, rule{key: b.BlockID, kind: rulePhone, message: "enter a valid phone number"})
			}
			if p.Required {
				v.rules = append(v.rules, rule{key: b.BlockID, kind: ruleRequired, message: requiredMessage(p.Label)})
			}
		case block.ChoicePayload:
			if p.Required {
				v.rules = append(v.rules, rule{key: b.BlockID, kind: ruleRequired, message: requiredMessage(p.Label)})
			}
		case block.CheckboxPayload:
			if p.Required {
				v.rules = append(v.rules, rule{key: b.BlockID, kind: ruleCheckboxRequired, message: requiredMessage(p.Label)})
			}
		case block.LinkPayload:
			if p.Required {
				v.rules = append(v.rules, rule{key: AckKey(b.BlockID), kind: ruleAckRequired, message: "acknowledgement required"})
			}
		case block.PDFPayload:
			if p.RequireAccept {
				v.rules = append(v.rules, rule{key: AckKey(b.BlockID), kind: ruleAckRequired, message: "please accept the document"})
			}
		}
	}
	return v
}

// SetMaxAnswerLength caps the length of any single string answer. Zero
// disables the cap.
func (v *Validator) SetMaxAnswerLength(n int) { v.maxAnswerLength = n }

func requiredMessage(label string) string {
	if label == "" {
		return "this field is required"
	}
	return fmt.Sprintf("%s is required", label)
}

// Validate runs every rule against the live values and returns all
// failures. Booleans and multi-value answers have their own emptiness
// semantics, checked apart from the generic string rules.
func (v *Validator) Validate(values Values) []FieldError {
	var errs []FieldError
	for _, r := range v.rules {
		val := values[r.key]
		switch r.kind {
		case ruleRequired:
			if isEmpty(val) {
				errs = append(errs, FieldError{Key: r.key, Message: r.message})
			}
		case ruleEmail:
			s, _ := val.(string)
			if strings.TrimSpace(s) == "" {
				continue // emptiness is the required rule's concern
			}
			if !emailShape.MatchString(strings.TrimSpace(s)) {
				errs = append(errs, FieldError{Key: r.key, Message: r.message})
			}
		case rulePhone:
			s, _ := val.(string)
			if strings.TrimSpace(s) == "" {
				continue
			}
			if _, ok := v.phones.Normalize(s); !ok {
				errs = append(errs, FieldError{Key: r.key, Message: r.message})
			}
		case ruleCheckboxRequired:
			if b, ok := val.(bool); !ok || !b {
				errs = append(errs, FieldError{Key: r.key, Message: r.message})
			}
		case ruleAckRequired:
			if b, ok := val.(bool); !ok || !b {
				errs = append(errs, FieldError{Key: r.key, Message: r.message})
			}
		}
	}
	if v.maxAnswerLength > 0 {
		for key, val := range values {
			if s, ok := val.(string); ok && len(s) > v.maxAnswerLength {
				errs = append(errs, FieldError{Key: key, Message: fmt.Sprintf("answer must be at most %d characters", v.maxAnswerLength)})
			}
		}
	}
	return errs
}

// CanSubmit gates the submit action.
func (v *Validator) CanSubmit(values Values) bool {
	return len(v.Validate(values)) == 0
}

func isEmpty(val any) bool {
	switch t := val.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []string:
		return len(t) == 0
	case []any:
		return len(t) == 0
	}
	return false
}
