package builder

import (
	"testing"

	"formline/internal/block"
	"formline/internal/domain"
)

type fakeRegistry map[string]domain.FieldDef

func (r fakeRegistry) Lookup(key string) (domain.FieldDef, bool) {
	def, ok := r[key]
	return def, ok
}

func textTemplate() block.Template {
	return block.Template{Type: block.TypeInput, ControlType: "text", Label: "Text Input", FieldType: block.InputText}
}

func mustAdd(t *testing.T, s *Session, tpl block.Template) block.Block {
	t.Helper()
	b, err := s.AddByClick(tpl)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	return b
}

func ids(s *Session) []string {
	var out []string
	for _, b := range s.Blocks() {
		out = append(out, b.ID)
	}
	return out
}

func TestPaletteSearch(t *testing.T) {
	p := NewPalette()
	all := p.CustomBlocks("")
	if len(all) == 0 {
		t.Fatalf("expected custom templates")
	}
	hits := p.CustomBlocks("  DROP  ")
	if len(hits) != 1 || hits[0].Label != "Dropdown" {
		t.Fatalf("search: %+v", hits)
	}
	if got := p.CustomBlocks("zzz"); len(got) != 0 {
		t.Fatalf("expected no hits, got %+v", got)
	}
	if len(p.FactoryBlocks()) != 6 {
		t.Fatalf("expected six factory templates")
	}
}

func TestAddByClickAppendsAndSelects(t *testing.T) {
	s := NewSession(nil)
	a := mustAdd(t, s, textTemplate())
	b := mustAdd(t, s, textTemplate())
	if s.Len() != 2 {
		t.Fatalf("len = %d", s.Len())
	}
	if got := ids(s); got[0] != a.ID || got[1] != b.ID {
		t.Fatalf("order = %v", got)
	}
	if s.SelectedID() != b.ID {
		t.Fatalf("selected = %q, want %q", s.SelectedID(), b.ID)
	}
}

func TestInsertFromPaletteAtBlock(t *testing.T) {
	s := NewSession(nil)
	a := mustAdd(t, s, textTemplate())
	b := mustAdd(t, s, textTemplate())
	inserted, err := s.InsertFromPalette(textTemplate(), b.ID)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	got := ids(s)
	want := []string{a.ID, inserted.ID, b.ID}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
	if s.SelectedID() != inserted.ID {
		t.Fatalf("inserted block not selected")
	}
}

func TestReorderSemantics(t *testing.T) {
	s := NewSession(nil)
	a := mustAdd(t, s, textTemplate())
	b := mustAdd(t, s, textTemplate())
	c := mustAdd(t, s, textTemplate())

	// move first before third
	s.Reorder(a.ID, c.ID)
	if got := ids(s); got[0] != b.ID || got[1] != a.ID || got[2] != c.ID {
		t.Fatalf("after move: %v", got)
	}

	// dropping on the canvas container moves to the end
	s.Reorder(b.ID, CanvasEnd)
	if got := ids(s); got[2] != b.ID {
		t.Fatalf("canvas-end move: %v", got)
	}

	// no-ops
	before := ids(s)
	s.Reorder(a.ID, a.ID)
	s.Reorder("missing", a.ID)
	s.Reorder(a.ID, "missing")
	after := ids(s)
	for i := range before {
		if before[i] != after[i] {
			t.Fatalf("no-op mutated order: %v -> %v", before, after)
		}
	}
}

func TestReorderPreservesContent(t *testing.T) {
	s := NewSession(nil)
	a := mustAdd(t, s, textTemplate())
	b := mustAdd(t, s, textTemplate())
	patched := ApplyPatch(a, Patch{Label: strPtr("Renamed")})
	s.Update(patched)

	s.Reorder(a.ID, CanvasEnd)
	s.Reorder(b.ID, a.ID)
	got, ok := s.Get(a.ID)
	if !ok {
		t.Fatalf("block lost")
	}
	if got.Label() != "Renamed" {
		t.Fatalf("content mutated by reorder: %q", got.Label())
	}
}

func TestDropCommandDispatch(t *testing.T) {
	s := NewSession(nil)
	a := mustAdd(t, s, textTemplate())
	if err := s.Apply(DropCommand{Origin: OriginPalette, Template: textTemplate(), OverID: a.ID}); err != nil {
		t.Fatalf("palette drop: %v", err)
	}
	if s.Len() != 2 {
		t.Fatalf("len = %d", s.Len())
	}
	if err := s.Apply(DropCommand{Origin: OriginCanvas, DragID: a.ID, OverID: CanvasEnd}); err != nil {
		t.Fatalf("canvas drop: %v", err)
	}
	if got := ids(s); got[1] != a.ID {
		t.Fatalf("order = %v", got)
	}
	if err := s.Apply(DropCommand{Origin: "elsewhere"}); err == nil {
		t.Fatalf("expected unknown origin error")
	}
}

func TestDeleteClearsSelection(t *testing.T) {
	s := NewSession(nil)
	a := mustAdd(t, s, textTemplate())
	b := mustAdd(t, s, textTemplate())
	s.Select(a.ID)
	s.Delete(a.ID)
	if s.SelectedID() != "" {
		t.Fatalf("selection not cleared")
	}
	s.Delete(b.ID)
	if s.Len() != 0 {
		t.Fatalf("len = %d", s.Len())
	}
}

func TestResolveFieldNameRegistryMatch(t *testing.T) {
	reg := fakeRegistry{"phone": {Key: "phone", Label: "Phone Number", Type: "phone"}}
	b, _ := block.Materialize(textTemplate())
	p := b.Payload.(block.InputPayload)
	p.Label = ""
	b.Payload = p

	patch := ResolveFieldName(b, "  phone ", reg)
	if patch.FieldName == nil || *patch.FieldName != "phone" {
		t.Fatalf("fieldName = %v", patch.FieldName)
	}
	if patch.DataKey == nil || *patch.DataKey != "r.phone" {
		t.Fatalf("dataKey = %v", patch.DataKey)
	}
	if patch.Label == nil || *patch.Label != "Phone Number" {
		t.Fatalf("label = %v", patch.Label)
	}

	// a non-empty author label is never overwritten
	b = ApplyPatch(b, Patch{Label: strPtr("My Phone")})
	patch = ResolveFieldName(b, "phone", reg)
	if patch.Label != nil {
		t.Fatalf("label should not be patched, got %q", *patch.Label)
	}
}

func TestResolveFieldNameUnmatched(t *testing.T) {
	b, _ := block.Materialize(textTemplate())
	patch := ResolveFieldName(b, "nickname", fakeRegistry{})
	if *patch.DataKey != "c."+b.BlockID {
		t.Fatalf("dataKey = %q", *patch.DataKey)
	}
	patch = ResolveFieldName(b, "   ", fakeRegistry{})
	if *patch.FieldName != "" || *patch.DataKey != "c."+b.BlockID {
		t.Fatalf("blank input: %+v", patch)
	}
}

func TestFactoryMappingStrictOverride(t *testing.T) {
	reg := fakeRegistry{"phone": {Key: "phone", Label: "Phone Number"}}
	tpl := block.FactoryTemplates()[2] // phone
	b, _ := block.Materialize(tpl)

	// a field-name edit cannot clear the factory mapping
	patch := ResolveFieldName(b, "phone", reg)
	b = ApplyPatch(b, patch)
	if b.DataKey != "f.phone" {
		t.Fatalf("dataKey = %q, want f.phone", b.DataKey)
	}

	// explicit reset to None re-derives through the field-name path
	b = SetFactoryMapping(b, nil, reg)
	if b.DataKey != "r.phone" {
		t.Fatalf("after reset: dataKey = %q, want r.phone", b.DataKey)
	}

	// binding a key supersedes whatever resolution produced
	key := block.FactoryEmail
	b = SetFactoryMapping(b, &key, reg)
	if b.DataKey != "f.email" || b.MapsToFactory == nil {
		t.Fatalf("after bind: dataKey = %q", b.DataKey)
	}
}

func TestOptionsEditor(t *testing.T) {
	e := NewOptionsEditor(nil)
	if got := e.Options(); len(got) != 1 || got[0] != "" {
		t.Fatalf("empty sync: %v", got)
	}

	e.Sync([]string{"a", "b"})
	e.InsertAfter(0)
	if got := e.Options(); len(got) != 3 || got[1] != "" {
		t.Fatalf("insert-after: %v", got)
	}
	e.Set(1, "middle")
	e.Move(2, -1)
	if got := e.Options(); got[1] != "b" || got[2] != "middle" {
		t.Fatalf("move: %v", got)
	}
	// bounded at edges
	e.Move(0, -1)
	e.Move(2, 1)
	if got := e.Options(); got[0] != "a" || got[2] != "middle" {
		t.Fatalf("bounded move: %v", got)
	}

	e.Remove(0)
	e.Remove(0)
	e.Remove(0)
	if got := e.Options(); len(got) != 1 || got[0] != "" {
		t.Fatalf("remove last collapses to blank: %v", got)
	}

	e.BulkReplace("  red \n\n blue\n\tgreen  \n")
	if got := e.Options(); len(got) != 3 || got[0] != "red" || got[2] != "green" {
		t.Fatalf("bulk: %v", got)
	}
	e.BulkReplace("   \n  ")
	if got := e.Options(); len(got) != 1 || got[0] != "" {
		t.Fatalf("blank bulk: %v", got)
	}
}

func strPtr(s string) *string { return &s }
