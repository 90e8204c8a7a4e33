package block

// Template is a palette entry: the recipe a click or drag materializes into
// a Block instance.
type Template struct {
	Type        Type           `json:"type"`
	ControlType string         `json:"control_type"`
	Label       string         `json:"label"`
	FactoryKey  *FactoryKey    `json:"factoryKey,omitempty"`
	FieldType   InputFieldType `json:"fieldType,omitempty"`
}

// FactoryTemplates lists the factory-bound palette entries. Each one binds
// its block to a fixed customer attribute at creation time; the mapping
// survives later label edits.
func FactoryTemplates() []Template {
	fk := func(k FactoryKey) *FactoryKey { return &k }
	return []Template{
		{Type: TypeInput, ControlType: "text", Label: "First Name", FactoryKey: fk(FactoryFirstName), FieldType: InputText},
		{Type: TypeInput, ControlType: "text", Label: "Last Name", FactoryKey: fk(FactoryLastName), FieldType: InputText},
		{Type: TypeInput, ControlType: "phone", Label: "Phone", FactoryKey: fk(FactoryPhone), FieldType: InputPhone},
		{Type: TypeInput, ControlType: "email", Label: "Email", FactoryKey: fk(FactoryEmail), FieldType: InputEmail},
		{Type: TypeInput, ControlType: "text", Label: "Zip Code", FactoryKey: fk(FactoryZip), FieldType: InputText},
		{Type: TypeCheckbox, ControlType: "checkbox", Label: "Consent to Contact", FactoryKey: fk(FactoryConsent)},
	}
}

// CustomTemplates lists the unbound palette entries.
func CustomTemplates() []Template {
	return []Template{
		{Type: TypeTitle, ControlType: "title", Label: "Form Title"},
		{Type: TypeDescription, ControlType: "description", Label: "Description"},
		{Type: TypeInput, ControlType: "text", Label: "Text Input", FieldType: InputText},
		{Type: TypeInput, ControlType: "textarea", Label: "Long Answer", FieldType: InputTextarea},
		{Type: TypeInput, ControlType: "email", Label: "Email Input", FieldType: InputEmail},
		{Type: TypeInput, ControlType: "phone", Label: "Phone Input", FieldType: InputPhone},
		{Type: TypeDropdown, ControlType: "dropdown", Label: "Dropdown"},
		{Type: TypeSingleChoice, ControlType: "single-choice", Label: "Single Choice"},
		{Type: TypeCheckbox, ControlType: "checkbox", Label: "Checkbox"},
		{Type: TypeImage, ControlType: "image", Label: "Image"},
		{Type: TypeLink, ControlType: "link", Label: "Link"},
		{Type: TypePDF, ControlType: "pdf", Label: "PDF Document"},
	}
}

// Materialize produces a fully-initialized Block from a palette template.
// Factory-bound templates compute their data key immediately; unbound ones
// start on the block-scoped custom key until the author supplies a field
// name that resolves through the registry.
func Materialize(t Template) (Block, error) {
	payload, err := payloadFor(t.Type)
	if err != nil {
		return Block{}, err
	}
	b := Block{
		ID:           NewID(),
		Type:         t.Type,
		ControlType:  t.ControlType,
		SaveToLatest: true,
		Payload:      payload,
	}
	b.BlockID = b.ID

	switch p := payload.(type) {
	case TextPayload:
		p.Text = t.Label
		b.Payload = p
	case InputPayload:
		p.Label = t.Label
		if t.FieldType != "" {
			p.FieldType = t.FieldType
		}
		b.Payload = p
	case ChoicePayload:
		p.Label = t.Label
		b.Payload = p
	case CheckboxPayload:
		p.Label = t.Label
		b.Payload = p
	case LinkPayload:
		p.Text = t.Label
		b.Payload = p
	}

	if t.FactoryKey != nil {
		key := *t.FactoryKey
		b.MapsToFactory = &key
		b.DataKey = FactoryDataKey(key)
	} else {
		b.DataKey = CustomDataKey(b.BlockID)
	}
	return b, nil
}
