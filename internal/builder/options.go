package builder

import "strings"

// OptionsEditor is the inspector's local draft list for choice-type blocks.
// It is synced from the block's options and never lets the list collapse to
// empty: removing the last entry resets it to a single blank row.
type OptionsEditor struct {
	opts []string
}

// NewOptionsEditor syncs a draft list from the block's current options.
func NewOptionsEditor(options []string) *OptionsEditor {
	e := &OptionsEditor{}
	e.Sync(options)
	return e
}

// Sync replaces the draft with the incoming value.
func (e *OptionsEditor) Sync(options []string) {
	if len(options) == 0 {
		e.opts = []string{""}
		return
	}
	e.opts = make([]string, len(options))
	copy(e.opts, options)
}

// Options returns the current draft. The returned slice is a copy.
func (e *OptionsEditor) Options() []string {
	out := make([]string, len(e.opts))
	copy(out, e.opts)
	return out
}

// Set updates the option text at index.
func (e *OptionsEditor) Set(i int, value string) {
	if i < 0 || i >= len(e.opts) {
		return
	}
	e.opts[i] = value
}

// InsertAfter adds a blank option after index.
func (e *OptionsEditor) InsertAfter(i int) {
	if i < 0 || i >= len(e.opts) {
		e.opts = append(e.opts, "")
		return
	}
	e.opts = append(e.opts, "")
	copy(e.opts[i+2:], e.opts[i+1:])
	e.opts[i+1] = ""
}

// Remove drops the option at index; removing the last one resets to [""].
func (e *OptionsEditor) Remove(i int) {
	if i < 0 || i >= len(e.opts) {
		return
	}
	e.opts = append(e.opts[:i], e.opts[i+1:]...)
	if len(e.opts) == 0 {
		e.opts = []string{""}
	}
}

// Move shifts the option at index by delta (±1), bounded at the edges.
func (e *OptionsEditor) Move(i, delta int) {
	j := i + delta
	if i < 0 || i >= len(e.opts) || j < 0 || j >= len(e.opts) {
		return
	}
	e.opts[i], e.opts[j] = e.opts[j], e.opts[i]
}

// BulkReplace replaces the entire list with newline-split, trimmed,
// non-empty entries. Blank input resets to a single empty row.
func (e *OptionsEditor) BulkReplace(text string) {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		out = append(out, line)
	}
	if len(out) == 0 {
		out = []string{""}
	}
	e.opts = out
}
