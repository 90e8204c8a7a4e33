package intake

import (
	"strings"

	"formline/internal/block"
)

// Payload is what the submission sink receives for one completed intake.
type Payload struct {
	FormID      string         `json:"form_id"`
	CampaignID  *string        `json:"campaign_id,omitempty"`
	OwnerID     string         `json:"owner_id"`
	Answers     map[string]any `json:"answers"`
	ConsentText *string        `json:"consent_text,omitempty"`
}

// Resolved is the outcome of slug resolution: which form to render, whose
// data it belongs to, and the campaign context when one matched.
type Resolved struct {
	FormID         string
	OwnerID        string
	CampaignID     *string
	SuccessMessage string
	Blocks         []block.Block
	Style          block.Style
}

// AssembleAnswers maps each block's live value to its resolved data key.
// Factory mappings own the "f." namespace; an author-typed field name lands
// under "r."; anything else keeps the stored data key. Empty values
// (nil, blank-after-trim, empty array) are omitted entirely.
//
// Phone inputs are stored normalized when the normalizer accepts them.
func AssembleAnswers(blocks []block.Block, values Values, phones PhoneNormalizer) map[string]any {
	if phones == nil {
		phones = NANPNormalizer{}
	}
	answers := map[string]any{}
	for _, b := range blocks {
		key := answerKey(b)
		if key == "" {
			continue
		}
		val, ok := values[b.BlockID]
		if !ok || prunable(val) {
			continue
		}
		if p, isInput := b.Payload.(block.InputPayload); isInput && p.FieldType == block.InputPhone {
			if s, isStr := val.(string); isStr {
				if normalized, ok := phones.Normalize(s); ok {
					val = normalized
				}
			}
		}
		answers[key] = val
	}
	return answers
}

// ConsentText extracts the label of a consent_to_contact block if and only
// if it carries a truthy value. The text rides alongside the answers, never
// inside them.
func ConsentText(blocks []block.Block, values Values) *string {
	for _, b := range blocks {
		if b.MapsToFactory == nil || *b.MapsToFactory != block.FactoryConsent {
			continue
		}
		if !truthy(values[b.BlockID]) {
			continue
		}
		label := b.Label()
		return &label
	}
	return nil
}

func answerKey(b block.Block) string {
	if b.MapsToFactory != nil {
		return block.FactoryDataKey(*b.MapsToFactory)
	}
	if name := b.FieldName(); name != "" {
		return block.RegistryDataKey(name)
	}
	return b.DataKey
}

// prunable mirrors the omission rule: undefined, null, empty-after-trim
// strings, and empty arrays never reach the answers map.
func prunable(val any) bool {
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

func truthy(val any) bool {
	switch t := val.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return strings.TrimSpace(t) != ""
	case float64:
		return t != 0
	case int:
		return t != 0
	case []string:
		return len(t) > 0
	case []any:
		return len(t) > 0
	}
	return true
}
