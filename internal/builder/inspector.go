package builder

import (
	"strings"

	"formline/internal/block"
	"formline/internal/domain"
)

// Registry is the field-registry lookup the inspector resolves field names
// against. Implemented by the engine's session cache.
type Registry interface {
	Lookup(key string) (domain.FieldDef, bool)
}

// Patch is a merge-patch emitted by the inspector: only set pointers are
// applied to the block.
type Patch struct {
	FieldName *string
	DataKey   *string
	Label     *string
}

// ResolveFieldName runs on every keystroke in the Field Name input for
// mappable block types. It trims the input, resolves it through the
// registry, derives the data key, and auto-fills an empty label from the
// registry entry without ever overwriting an author-provided one.
//
// A factory-mapped block is left alone: the factory mapping is a strict
// override that a field-name edit cannot clear.
func ResolveFieldName(b block.Block, input string, reg Registry) Patch {
	value := strings.TrimSpace(input)
	patch := Patch{FieldName: &value}

	if b.MapsToFactory != nil {
		key := block.FactoryDataKey(*b.MapsToFactory)
		patch.DataKey = &key
		return patch
	}

	var entry domain.FieldDef
	matched := false
	if value != "" && reg != nil {
		entry, matched = reg.Lookup(value)
	}
	dataKey := block.ResolveDataKey(nil, value, matched, b.BlockID)
	patch.DataKey = &dataKey

	if matched && b.Label() == "" && entry.Label != "" {
		label := entry.Label
		patch.Label = &label
	}
	return patch
}

// SetFactoryMapping is the explicit override path: binding a key forces the
// factory data key; resetting to nil re-derives through the field-name path.
func SetFactoryMapping(b block.Block, key *block.FactoryKey, reg Registry) block.Block {
	b.MapsToFactory = key
	if key != nil {
		b.DataKey = block.FactoryDataKey(*key)
		return b
	}
	matched := false
	if name := b.FieldName(); name != "" && reg != nil {
		_, matched = reg.Lookup(name)
	}
	b.DataKey = block.ResolveDataKey(nil, b.FieldName(), matched, b.BlockID)
	return b
}

// ApplyPatch merges a patch into the block and returns the updated copy.
func ApplyPatch(b block.Block, p Patch) block.Block {
	if p.DataKey != nil {
		b.DataKey = *p.DataKey
	}
	if p.FieldName == nil && p.Label == nil {
		return b
	}
	switch payload := b.Payload.(type) {
	case block.InputPayload:
		if p.FieldName != nil {
			payload.FieldName = *p.FieldName
		}
		if p.Label != nil {
			payload.Label = *p.Label
		}
		b.Payload = payload
	case block.ChoicePayload:
		if p.FieldName != nil {
			payload.FieldName = *p.FieldName
		}
		if p.Label != nil {
			payload.Label = *p.Label
		}
		b.Payload = payload
	case block.CheckboxPayload:
		if p.FieldName != nil {
			payload.FieldName = *p.FieldName
		}
		if p.Label != nil {
			payload.Label = *p.Label
		}
		b.Payload = payload
	}
	return b
}
