// Package block models the placeable form elements of the builder as a
// closed set of tagged variants sharing one wire shape.
package block

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Type discriminates block variants.
type Type string

const (
	TypeTitle        Type = "title"
	TypeDescription  Type = "description"
	TypeInput        Type = "input"
	TypeDropdown     Type = "dropdown"
	TypeSingleChoice Type = "single-choice"
	TypeCheckbox     Type = "checkbox"
	TypeImage        Type = "image"
	TypeLink         Type = "link"
	TypePDF          Type = "pdf"
)

// FactoryKey names a fixed customer attribute a block can be bound to.
type FactoryKey string

const (
	FactoryFirstName FactoryKey = "first_name"
	FactoryLastName  FactoryKey = "last_name"
	FactoryPhone     FactoryKey = "phone"
	FactoryEmail     FactoryKey = "email"
	FactoryZip       FactoryKey = "zip"
	FactoryConsent   FactoryKey = "consent_to_contact"
)

// FactoryKeys lists the bindable keys in palette order.
func FactoryKeys() []FactoryKey {
	return []FactoryKey{FactoryFirstName, FactoryLastName, FactoryPhone, FactoryEmail, FactoryZip, FactoryConsent}
}

func KnownFactoryKey(k string) bool {
	for _, fk := range FactoryKeys() {
		if string(fk) == k {
			return true
		}
	}
	return false
}

// Data key namespaces. Factory fields own "f.", registry-matched field names
// borrow "r.", anything else is quarantined under "c.<block_id>".
func FactoryDataKey(k FactoryKey) string { return "f." + string(k) }
func RegistryDataKey(name string) string { return "r." + name }
func CustomDataKey(blockID string) string { return "c." + blockID }

// ResolveDataKey applies the three-tier precedence: a factory mapping always
// wins its namespace, a registry-matched field name lands in the registry
// namespace, and an unmatched or empty field name falls back to the
// block-scoped custom key.
func ResolveDataKey(factory *FactoryKey, fieldName string, inRegistry bool, blockID string) string {
	if factory != nil {
		return FactoryDataKey(*factory)
	}
	if fieldName != "" && inRegistry {
		return RegistryDataKey(fieldName)
	}
	return CustomDataKey(blockID)
}

// InputFieldType is the rendering sub-kind of an input block.
type InputFieldType string

const (
	InputText     InputFieldType = "text"
	InputEmail    InputFieldType = "email"
	InputPhone    InputFieldType = "phone"
	InputTextarea InputFieldType = "textarea"
)

// PDFDisplay selects how a pdf block is presented.
type PDFDisplay string

const (
	PDFScroll PDFDisplay = "scroll"
	PDFLink   PDFDisplay = "link"
	PDFEmbed  PDFDisplay = "embed"
)

// Payload is the sealed variant data of a block. Exactly one implementation
// exists per Type; the pairing is enforced by the constructors and checked
// again on unmarshal.
type Payload interface {
	isPayload()
}

// TextPayload backs title and description blocks.
type TextPayload struct {
	Text string
}

// InputPayload backs free-text input blocks.
type InputPayload struct {
	Label             string
	FieldName         string
	Placeholder       string
	FieldType         InputFieldType
	Required          bool
	ValidationSubtype string
}

// ChoicePayload backs dropdown and single-choice blocks. Options order is
// significant and the list must never persist empty.
type ChoicePayload struct {
	Label     string
	FieldName string
	Options   []string
	Required  bool
}

type CheckboxPayload struct {
	Label     string
	FieldName string
	Required  bool
}

type ImagePayload struct {
	URL string
	Alt string
}

type LinkPayload struct {
	Text     string
	URL      string
	Required bool
}

type PDFPayload struct {
	URL            string
	DisplayStyle   PDFDisplay
	RequireAccept  bool
	PromptDownload bool
}

func (TextPayload) isPayload()     {}
func (InputPayload) isPayload()    {}
func (ChoicePayload) isPayload()   {}
func (CheckboxPayload) isPayload() {}
func (ImagePayload) isPayload()    {}
func (LinkPayload) isPayload()     {}
func (PDFPayload) isPayload()      {}

// Block is one placeable form element. ID is the builder-session identity
// (stable across reorders); BlockID is the persisted identity used for
// custom data keys.
type Block struct {
	ID            string
	BlockID       string
	Type          Type
	ControlType   string
	MapsToFactory *FactoryKey
	DataKey       string
	SaveToLatest  bool
	Payload       Payload

	// extra holds unknown wire keys so schemas written by newer builders
	// survive a load/save round trip.
	extra map[string]json.RawMessage
}

// Extra returns the raw value of an unknown wire key, if present.
func (b Block) Extra(key string) (json.RawMessage, bool) {
	raw, ok := b.extra[key]
	return raw, ok
}

// SetExtra records an unknown wire key for round-trip.
func (b *Block) SetExtra(key string, raw json.RawMessage) {
	if b.extra == nil {
		b.extra = map[string]json.RawMessage{}
	}
	b.extra[key] = raw
}

// Label returns the author-facing label for labeled variants, "" otherwise.
func (b Block) Label() string {
	switch p := b.Payload.(type) {
	case InputPayload:
		return p.Label
	case ChoicePayload:
		return p.Label
	case CheckboxPayload:
		return p.Label
	}
	return ""
}

// FieldName returns the author-typed field name for mappable variants.
func (b Block) FieldName() string {
	switch p := b.Payload.(type) {
	case InputPayload:
		return p.FieldName
	case ChoicePayload:
		return p.FieldName
	case CheckboxPayload:
		return p.FieldName
	}
	return ""
}

// Mappable reports whether the variant participates in field-name and
// factory-key resolution (everything except title/description/image/pdf).
func (b Block) Mappable() bool {
	switch b.Type {
	case TypeInput, TypeDropdown, TypeSingleChoice, TypeCheckbox, TypeLink:
		return true
	}
	return false
}

// Required reports whether the block demands an answer at intake time.
func (b Block) Required() bool {
	switch p := b.Payload.(type) {
	case InputPayload:
		return p.Required
	case ChoicePayload:
		return p.Required
	case CheckboxPayload:
		return p.Required
	case LinkPayload:
		return p.Required
	case PDFPayload:
		return p.RequireAccept
	}
	return false
}

// Validate checks the variant invariants that must hold before persisting.
func (b Block) Validate() error {
	if b.Type == "" {
		return fmt.Errorf("block %s: type required", b.BlockID)
	}
	if b.MapsToFactory != nil && !KnownFactoryKey(string(*b.MapsToFactory)) {
		return fmt.Errorf("block %s: unknown factory key %q", b.BlockID, *b.MapsToFactory)
	}
	switch p := b.Payload.(type) {
	case ChoicePayload:
		hasOption := false
		for _, opt := range p.Options {
			if opt != "" {
				hasOption = true
				break
			}
		}
		if !hasOption {
			return fmt.Errorf("block %s: %s requires at least one non-empty option", b.BlockID, b.Type)
		}
	case PDFPayload:
		switch p.DisplayStyle {
		case PDFScroll, PDFLink, PDFEmbed:
		default:
			return fmt.Errorf("block %s: invalid pdf display style %q", b.BlockID, p.DisplayStyle)
		}
	}
	return nil
}

func payloadFor(t Type) (Payload, error) {
	switch t {
	case TypeTitle, TypeDescription:
		return TextPayload{}, nil
	case TypeInput:
		return InputPayload{FieldType: InputText}, nil
	case TypeDropdown, TypeSingleChoice:
		return ChoicePayload{Options: []string{""}}, nil
	case TypeCheckbox:
		return CheckboxPayload{}, nil
	case TypeImage:
		return ImagePayload{}, nil
	case TypeLink:
		return LinkPayload{}, nil
	case TypePDF:
		return PDFPayload{DisplayStyle: PDFScroll}, nil
	}
	return nil, fmt.Errorf("unknown block type %q", t)
}

// Style is the persisted per-form style object.
type Style struct {
	BackgroundColor string `json:"backgroundColor"`
}

// Schema is the persisted form_versions.schema_json shape. Block order is
// the render order.
type Schema struct {
	Blocks []Block `json:"blocks"`
	Style  Style   `json:"style"`
}

// NewID returns a fresh block identity.
func NewID() string { return uuid.New().String() }
