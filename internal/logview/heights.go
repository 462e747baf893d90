package logview

import (
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/x/ansi"
)

// PlaceholderHeight is used for rows that cannot be measured or do not exist.
const PlaceholderHeight = 1

// WrapRow returns the visual lines of a row at the given width. Embedded
// newlines always start a new visual line. A non-positive width disables
// wrapping.
func WrapRow(l Line, width int, loc *time.Location) []string {
	text := strings.NewReplacer("\r", "", "\t", "    ").Replace(RowText(l, loc))
	segs := strings.Split(text, "\n")
	if width <= 0 {
		return segs
	}
	out := make([]string, 0, len(segs))
	for _, seg := range segs {
		if ansi.StringWidth(seg) <= width {
			out = append(out, seg)
			continue
		}
		out = append(out, strings.Split(ansi.Wrap(seg, width, ""), "\n")...)
	}
	return out
}

// MeasureRow returns the number of terminal rows l occupies at width.
func MeasureRow(l Line, width int, loc *time.Location) (int, error) {
	if width <= 0 {
		return PlaceholderHeight, ErrMeasurement
	}
	return len(WrapRow(l, width, loc)), nil
}

// HeightCache memoizes row heights by window index together with their
// cumulative offsets. Rows are measured lazily, in index order, so the
// cache always holds a measured prefix of the window.
type HeightCache struct {
	width   int
	loc     *time.Location
	heights []int
	offsets []int // offsets[i] is the top of row i; len(offsets) == len(heights)+1
}

// NewHeightCache creates an empty cache that formats timestamps in loc.
func NewHeightCache(loc *time.Location) *HeightCache {
	if loc == nil {
		loc = time.Local
	}
	return &HeightCache{loc: loc, offsets: []int{0}}
}

// Width returns the layout width heights are measured at.
func (c *HeightCache) Width() int { return c.width }

// SetWidth changes the layout width. Any change invalidates every
// measurement; it reports whether that happened.
func (c *HeightCache) SetWidth(w int) bool {
	if w == c.width {
		return false
	}
	c.width = w
	c.Reset()
	return true
}

// Reset drops all measurements.
func (c *HeightCache) Reset() {
	c.heights = c.heights[:0]
	c.offsets = c.offsets[:1]
}

// Truncate keeps the measurements of the first n rows.
func (c *HeightCache) Truncate(n int) {
	if n < 0 {
		n = 0
	}
	if n >= len(c.heights) {
		return
	}
	c.heights = c.heights[:n]
	c.offsets = c.offsets[:n+1]
}

// Measured returns the length of the measured prefix.
func (c *HeightCache) Measured() int { return len(c.heights) }

func (c *HeightCache) ensure(lines []Line, n int) {
	if n > len(lines) {
		n = len(lines)
	}
	for i := len(c.heights); i < n; i++ {
		h, err := MeasureRow(lines[i], c.width, c.loc)
		if err != nil {
			h = PlaceholderHeight
		}
		c.heights = append(c.heights, h)
		c.offsets = append(c.offsets, c.offsets[i]+h)
	}
}

// Height returns the height of row i, or PlaceholderHeight when i is out of range.
func (c *HeightCache) Height(lines []Line, i int) int {
	if i < 0 || i >= len(lines) {
		return PlaceholderHeight
	}
	c.ensure(lines, i+1)
	return c.heights[i]
}

// Offset returns the top of row i. Offsets past the end clamp to the total.
func (c *HeightCache) Offset(lines []Line, i int) int {
	if i <= 0 {
		return 0
	}
	if i > len(lines) {
		i = len(lines)
	}
	c.ensure(lines, i)
	return c.offsets[i]
}

// Total returns the height of the whole window.
func (c *HeightCache) Total(lines []Line) int {
	return c.Offset(lines, len(lines))
}

// RowAt returns the index of the row covering vertical position y, clamped
// to [0, len(lines)-1]. It returns 0 for an empty window.
func (c *HeightCache) RowAt(lines []Line, y int) int {
	if len(lines) == 0 || y <= 0 {
		return 0
	}
	c.ensure(lines, len(lines))
	// First row whose bottom is below y.
	i := sort.Search(len(lines), func(i int) bool { return c.offsets[i+1] > y })
	if i >= len(lines) {
		i = len(lines) - 1
	}
	return i
}
