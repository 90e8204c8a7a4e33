package builder

import (
	"fmt"

	"formline/internal/block"
)

// CanvasEnd is the drop target for the canvas container itself: inserts
// append and reorders move the dragged block to the end.
const CanvasEnd = "canvas-end"

// DragOrigin tags where a drag started. Target resolution branches on this
// tag, never on id heuristics.
type DragOrigin string

const (
	OriginPalette DragOrigin = "palette"
	OriginCanvas  DragOrigin = "canvas"
)

// DropCommand is the single message both drag producers emit: a palette
// drag carries a template, a canvas drag carries the dragged block id.
type DropCommand struct {
	Origin   DragOrigin
	Template block.Template // palette drags only
	DragID   string         // canvas drags only
	OverID   string         // block id or CanvasEnd
}

// Session is the builder's canvas state: an ordered, mutable block list
// plus the current selection.
type Session struct {
	blocks     []block.Block
	selectedID string
}

// NewSession starts an editing session over an existing block list (empty
// for a new form). The slice is copied; callers keep their own.
func NewSession(blocks []block.Block) *Session {
	s := &Session{blocks: make([]block.Block, len(blocks))}
	copy(s.blocks, blocks)
	return s
}

// Blocks returns the current order. The returned slice is a copy.
func (s *Session) Blocks() []block.Block {
	out := make([]block.Block, len(s.blocks))
	copy(out, s.blocks)
	return out
}

func (s *Session) Len() int { return len(s.blocks) }

// SelectedID returns the selected block id, or "".
func (s *Session) SelectedID() string { return s.selectedID }

// Selected returns the selected block, if any.
func (s *Session) Selected() (block.Block, bool) {
	if s.selectedID == "" {
		return block.Block{}, false
	}
	i := s.indexOf(s.selectedID)
	if i < 0 {
		return block.Block{}, false
	}
	return s.blocks[i], true
}

func (s *Session) Select(id string) {
	if s.indexOf(id) >= 0 {
		s.selectedID = id
	}
}

func (s *Session) Deselect() { s.selectedID = "" }

// Get returns the block with the given session id.
func (s *Session) Get(id string) (block.Block, bool) {
	i := s.indexOf(id)
	if i < 0 {
		return block.Block{}, false
	}
	return s.blocks[i], true
}

// AddByClick materializes the template at the end of the list and selects
// the new block.
func (s *Session) AddByClick(tpl block.Template) (block.Block, error) {
	return s.InsertFromPalette(tpl, CanvasEnd)
}

// InsertFromPalette materializes a new block and splices it at the position
// of overID (or appends for CanvasEnd / unknown targets), then selects it.
func (s *Session) InsertFromPalette(tpl block.Template, overID string) (block.Block, error) {
	b, err := block.Materialize(tpl)
	if err != nil {
		return block.Block{}, err
	}
	at := len(s.blocks)
	if overID != CanvasEnd {
		if i := s.indexOf(overID); i >= 0 {
			at = i
		}
	}
	s.blocks = append(s.blocks, block.Block{})
	copy(s.blocks[at+1:], s.blocks[at:])
	s.blocks[at] = b
	s.selectedID = b.ID
	return b, nil
}

// Reorder removes the dragged block and reinserts it at the position of
// overID (end of list for CanvasEnd). No-op when the ids match or either is
// absent. Block content is untouched; only position changes.
func (s *Session) Reorder(dragID, overID string) {
	if dragID == overID {
		return
	}
	from := s.indexOf(dragID)
	if from < 0 {
		return
	}
	to := len(s.blocks) - 1
	if overID != CanvasEnd {
		over := s.indexOf(overID)
		if over < 0 {
			return
		}
		to = over
		if from < to {
			// removal below shifts the target left
			to--
		}
	}
	moved := s.blocks[from]
	s.blocks = append(s.blocks[:from], s.blocks[from+1:]...)
	s.blocks = append(s.blocks, block.Block{})
	copy(s.blocks[to+1:], s.blocks[to:])
	s.blocks[to] = moved
}

// Apply consumes a drop command from either drag producer.
func (s *Session) Apply(cmd DropCommand) error {
	switch cmd.Origin {
	case OriginPalette:
		_, err := s.InsertFromPalette(cmd.Template, cmd.OverID)
		return err
	case OriginCanvas:
		s.Reorder(cmd.DragID, cmd.OverID)
		return nil
	}
	return fmt.Errorf("unknown drag origin %q", cmd.Origin)
}

// Delete removes the block; a deleted selection is cleared.
func (s *Session) Delete(id string) {
	i := s.indexOf(id)
	if i < 0 {
		return
	}
	s.blocks = append(s.blocks[:i], s.blocks[i+1:]...)
	if s.selectedID == id {
		s.selectedID = ""
	}
}

// Update replaces the block with the same session id in place.
func (s *Session) Update(b block.Block) bool {
	i := s.indexOf(b.ID)
	if i < 0 {
		return false
	}
	s.blocks[i] = b
	return true
}

func (s *Session) indexOf(id string) int {
	for i := range s.blocks {
		if s.blocks[i].ID == id {
			return i
		}
	}
	return -1
}
