package logview

// ViewState is the scroll-derived state shown to the user.
type ViewState struct {
	ShowNewLogs bool
	AtBottom    bool
}

// Row is one visible row of a rendered slice.
type Row struct {
	Index int
	Line  Line
	Top   int      // viewport row the first visible text line is drawn at
	Text  []string // wrapped text lines that fall inside the viewport
}

// Slice is the visible part of the window.
type Slice struct {
	Start  int // first visible index
	End    int // one past the last visible index
	Offset int // scroll offset the slice was computed at
	Total  int // height of the whole window
	Rows   []Row
}

// Viewport renders the visible part of a Manager's window and tracks
// scrolling. It only reads the window.
type Viewport struct {
	height int
	offset int
	state  ViewState
}

// NewViewport returns a viewport pinned to the bottom.
func NewViewport() *Viewport {
	return &Viewport{state: ViewState{AtBottom: true}}
}

// State returns the current view state.
func (v *Viewport) State() ViewState { return v.state }

// Offset returns the scroll offset in rows from the top of the window.
func (v *Viewport) Offset() int { return v.offset }

// Height returns the viewport height.
func (v *Viewport) Height() int { return v.height }

// Resize sets the viewport size. A width change invalidates row heights;
// a viewport that was at the bottom stays there.
func (v *Viewport) Resize(m *Manager, height, width int) {
	if height < 0 {
		height = 0
	}
	v.height = height
	m.SetWidth(width)
	if v.state.AtBottom {
		v.offset = v.maxOffset(m)
		return
	}
	v.clamp(m)
	v.track(m)
}

// ScrollBy moves the offset by delta rows.
func (v *Viewport) ScrollBy(m *Manager, delta int) {
	v.offset += delta
	v.clamp(m)
	v.track(m)
}

// PageUp scrolls one viewport up.
func (v *Viewport) PageUp(m *Manager) { v.ScrollBy(m, -max(1, v.height-1)) }

// PageDown scrolls one viewport down.
func (v *Viewport) PageDown(m *Manager) { v.ScrollBy(m, max(1, v.height-1)) }

// Top scrolls to the first row.
func (v *Viewport) Top(m *Manager) {
	v.offset = 0
	v.track(m)
}

// JumpToBottom scrolls to the last row and clears the new-logs indicator.
func (v *Viewport) JumpToBottom(m *Manager) {
	v.offset = v.maxOffset(m)
	v.state.AtBottom = true
	v.state.ShowNewLogs = false
}

// AtBottom reports whether the last row is fully visible. Rows are whole
// terminal lines, so any scroll up leaves the bottom.
func (v *Viewport) AtBottom(m *Manager) bool {
	return v.offset >= v.maxOffset(m)
}

// Observe updates the view after the manager applied a change. A replaced
// window always lands on the newest row. After a merge the view follows the
// bottom if it was there before; otherwise the offset is kept and new rows
// raise the indicator.
func (v *Viewport) Observe(m *Manager, c Change) {
	switch {
	case c.Replaced:
		v.JumpToBottom(m)
	case c.Merged:
		if v.state.AtBottom {
			v.JumpToBottom(m)
			return
		}
		if c.Added > 0 {
			v.state.ShowNewLogs = true
		}
		v.clamp(m)
	}
}

// Render computes the rows intersecting the viewport.
func (v *Viewport) Render(m *Manager) Slice {
	v.clamp(m)
	s := Slice{Offset: v.offset, Total: m.TotalHeight()}
	n := m.Len()
	if n == 0 || v.height == 0 {
		return s
	}

	first := m.RowAt(v.offset)
	y := m.RowOffset(first) - v.offset
	i := first
	for ; i < n && y < v.height; i++ {
		h := m.RowHeight(i)
		line, _ := m.Line(i)
		text := fitLines(WrapRow(line, m.Width(), m.Location()), h)

		skip := 0
		if y < 0 {
			skip = -y
		}
		top := max(y, 0)
		end := min(len(text), skip+v.height-top)
		s.Rows = append(s.Rows, Row{Index: i, Line: line, Top: top, Text: text[skip:end]})
		y += h
	}
	s.Start = first
	s.End = i
	return s
}

// fitLines pads or trims text to exactly h lines.
func fitLines(text []string, h int) []string {
	if len(text) == h {
		return text
	}
	if len(text) > h {
		return text[:h]
	}
	out := make([]string, h)
	copy(out, text)
	return out
}

func (v *Viewport) maxOffset(m *Manager) int {
	return max(0, m.TotalHeight()-v.height)
}

func (v *Viewport) clamp(m *Manager) {
	v.offset = min(max(v.offset, 0), v.maxOffset(m))
}

func (v *Viewport) track(m *Manager) {
	v.state.AtBottom = v.AtBottom(m)
	if v.state.AtBottom {
		v.state.ShowNewLogs = false
	}
}
