// Package builder holds the editing-session state machine behind the form
// builder: the palette of placeable templates, the ordered block list with
// selection, and the property-inspector patch logic.
package builder

import (
	"strings"

	"formline/internal/block"
)

// Palette enumerates the placeable block templates. It is pure UI state;
// nothing here touches the store.
type Palette struct {
	factory []block.Template
	custom  []block.Template
}

func NewPalette() Palette {
	return Palette{
		factory: block.FactoryTemplates(),
		custom:  block.CustomTemplates(),
	}
}

// FactoryBlocks lists the factory-bound templates in palette order.
func (p Palette) FactoryBlocks() []block.Template {
	out := make([]block.Template, len(p.factory))
	copy(out, p.factory)
	return out
}

// CustomBlocks lists the unbound templates filtered by a case-insensitive
// substring match on the label. An empty query returns all.
func (p Palette) CustomBlocks(query string) []block.Template {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		out := make([]block.Template, len(p.custom))
		copy(out, p.custom)
		return out
	}
	var out []block.Template
	for _, tpl := range p.custom {
		if strings.Contains(strings.ToLower(tpl.Label), query) {
			out = append(out, tpl)
		}
	}
	return out
}
