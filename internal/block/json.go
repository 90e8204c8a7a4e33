package block

import (
	"encoding/json"
	"fmt"
)

// Wire keys shared by every variant. Everything not claimed by the variant
// is preserved verbatim in the extras map.
var commonKeys = []string{"id", "block_id", "type", "control_type", "mapsToFactory", "dataKey", "saveToLatest"}

func variantKeys(t Type) []string {
	switch t {
	case TypeTitle, TypeDescription:
		return []string{"text"}
	case TypeInput:
		return []string{"label", "fieldName", "placeholder", "fieldType", "required", "validationSubtype"}
	case TypeDropdown, TypeSingleChoice:
		return []string{"label", "fieldName", "options", "required"}
	case TypeCheckbox:
		return []string{"label", "fieldName", "required"}
	case TypeImage:
		return []string{"url", "alt"}
	case TypeLink:
		return []string{"text", "url", "required"}
	case TypePDF:
		return []string{"url", "displayStyle", "requireAccept", "promptDownload"}
	}
	return nil
}

// MarshalJSON flattens the common fields, the variant payload, and any
// preserved unknown keys into one object.
func (b Block) MarshalJSON() ([]byte, error) {
	out := map[string]any{}
	for k, raw := range b.extra {
		out[k] = raw
	}
	out["id"] = b.ID
	out["block_id"] = b.BlockID
	out["type"] = b.Type
	out["control_type"] = b.ControlType
	out["mapsToFactory"] = b.MapsToFactory
	out["dataKey"] = b.DataKey
	out["saveToLatest"] = b.SaveToLatest
	switch p := b.Payload.(type) {
	case TextPayload:
		out["text"] = p.Text
	case InputPayload:
		out["label"] = p.Label
		out["fieldName"] = p.FieldName
		out["placeholder"] = p.Placeholder
		out["fieldType"] = p.FieldType
		out["required"] = p.Required
		if p.ValidationSubtype != "" {
			out["validationSubtype"] = p.ValidationSubtype
		}
	case ChoicePayload:
		out["label"] = p.Label
		out["fieldName"] = p.FieldName
		out["options"] = p.Options
		out["required"] = p.Required
	case CheckboxPayload:
		out["label"] = p.Label
		out["fieldName"] = p.FieldName
		out["required"] = p.Required
	case ImagePayload:
		out["url"] = p.URL
		out["alt"] = p.Alt
	case LinkPayload:
		out["text"] = p.Text
		out["url"] = p.URL
		out["required"] = p.Required
	case PDFPayload:
		out["url"] = p.URL
		out["displayStyle"] = p.DisplayStyle
		out["requireAccept"] = p.RequireAccept
		out["promptDownload"] = p.PromptDownload
	case nil:
		return nil, fmt.Errorf("block %s: nil payload", b.BlockID)
	}
	return json.Marshal(out)
}

func (b *Block) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	get := func(key string, dst any) error {
		v, ok := raw[key]
		if !ok || string(v) == "null" {
			return nil
		}
		return json.Unmarshal(v, dst)
	}
	if err := get("id", &b.ID); err != nil {
		return fmt.Errorf("block id: %w", err)
	}
	if err := get("block_id", &b.BlockID); err != nil {
		return fmt.Errorf("block block_id: %w", err)
	}
	if err := get("type", &b.Type); err != nil {
		return fmt.Errorf("block type: %w", err)
	}
	if err := get("control_type", &b.ControlType); err != nil {
		return fmt.Errorf("block control_type: %w", err)
	}
	if err := get("mapsToFactory", &b.MapsToFactory); err != nil {
		return fmt.Errorf("block mapsToFactory: %w", err)
	}
	if err := get("dataKey", &b.DataKey); err != nil {
		return fmt.Errorf("block dataKey: %w", err)
	}
	if err := get("saveToLatest", &b.SaveToLatest); err != nil {
		return fmt.Errorf("block saveToLatest: %w", err)
	}

	switch b.Type {
	case TypeTitle, TypeDescription:
		var p TextPayload
		if err := get("text", &p.Text); err != nil {
			return err
		}
		b.Payload = p
	case TypeInput:
		p := InputPayload{FieldType: InputText}
		if err := firstErr(
			get("label", &p.Label),
			get("fieldName", &p.FieldName),
			get("placeholder", &p.Placeholder),
			get("fieldType", &p.FieldType),
			get("required", &p.Required),
			get("validationSubtype", &p.ValidationSubtype),
		); err != nil {
			return err
		}
		b.Payload = p
	case TypeDropdown, TypeSingleChoice:
		var p ChoicePayload
		if err := firstErr(
			get("label", &p.Label),
			get("fieldName", &p.FieldName),
			get("options", &p.Options),
			get("required", &p.Required),
		); err != nil {
			return err
		}
		b.Payload = p
	case TypeCheckbox:
		var p CheckboxPayload
		if err := firstErr(
			get("label", &p.Label),
			get("fieldName", &p.FieldName),
			get("required", &p.Required),
		); err != nil {
			return err
		}
		b.Payload = p
	case TypeImage:
		var p ImagePayload
		if err := firstErr(get("url", &p.URL), get("alt", &p.Alt)); err != nil {
			return err
		}
		b.Payload = p
	case TypeLink:
		var p LinkPayload
		if err := firstErr(
			get("text", &p.Text),
			get("url", &p.URL),
			get("required", &p.Required),
		); err != nil {
			return err
		}
		b.Payload = p
	case TypePDF:
		p := PDFPayload{DisplayStyle: PDFScroll}
		if err := firstErr(
			get("url", &p.URL),
			get("displayStyle", &p.DisplayStyle),
			get("requireAccept", &p.RequireAccept),
			get("promptDownload", &p.PromptDownload),
		); err != nil {
			return err
		}
		b.Payload = p
	default:
		return fmt.Errorf("unknown block type %q", b.Type)
	}

	claimed := map[string]struct{}{}
	for _, k := range commonKeys {
		claimed[k] = struct{}{}
	}
	for _, k := range variantKeys(b.Type) {
		claimed[k] = struct{}{}
	}
	for k, v := range raw {
		if _, ok := claimed[k]; ok {
			continue
		}
		b.SetExtra(k, v)
	}
	return nil
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
