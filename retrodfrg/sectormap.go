package retrodfrg

import (
	"fmt"
	"strings"
)

// Cell is the state shown for one map cell. A cell covering several sectors
// shows the highest ranked state of any of them.
type Cell uint8

const (
	CellPending Cell = iota
	CellSparse
	CellRead
	CellRecovered
	CellBad
)

var glyphs = [...]rune{
	CellPending:   '░',
	CellSparse:    '·',
	CellRead:      '█',
	CellRecovered: '▒',
	CellBad:       'X',
}

// Glyph returns the map rune for c.
func (c Cell) Glyph() rune { return glyphs[c] }

// SectorMap tracks per-cell state for a range of sectors. Large ranges are
// folded so the map never exceeds the cell budget given to NewSectorMap.
type SectorMap struct {
	cells  []Cell
	total  int64
	per    int64
	cursor int64
}

// NewSectorMap covers total sectors with at most maxCells cells.
func NewSectorMap(total int64, maxCells int) *SectorMap {
	if total < 0 {
		total = 0
	}
	if maxCells < 1 {
		maxCells = 1
	}
	per := int64(1)
	if total > int64(maxCells) {
		per = (total + int64(maxCells) - 1) / int64(maxCells)
	}
	n := (total + per - 1) / per
	return &SectorMap{cells: make([]Cell, n), total: total, per: per}
}

// Total is the number of sectors covered.
func (m *SectorMap) Total() int64 { return m.total }

// SectorsPerCell is the fold factor.
func (m *SectorMap) SectorsPerCell() int64 { return m.per }

// Len is the number of cells.
func (m *SectorMap) Len() int { return len(m.cells) }

// At returns the state of cell i.
func (m *SectorMap) At(i int) Cell { return m.cells[i] }

// Mark raises the state of sectors [start, start+count) to c and moves the
// cursor to the last of them.
func (m *SectorMap) Mark(start, count int64, c Cell) {
	end := min(start+count, m.total)
	start = max(start, 0)
	if end <= start {
		return
	}
	for i := start / m.per; i <= (end-1)/m.per; i++ {
		if c > m.cells[i] {
			m.cells[i] = c
		}
	}
	m.cursor = (end - 1) / m.per
}

// Count returns the number of cells in state c.
func (m *SectorMap) Count(c Cell) int {
	n := 0
	for _, v := range m.cells {
		if v == c {
			n++
		}
	}
	return n
}

// Render lays the map out in rows of w cells. When the map does not fit it
// scrolls so the cursor stays on the last visible row.
func (m *SectorMap) Render(w, rows int) []string {
	if w < 1 || rows < 1 || len(m.cells) == 0 {
		return nil
	}
	n := int64(len(m.cells))
	window := int64(w * rows)
	start := int64(0)
	if n > window {
		if m.cursor >= window-1 {
			start = (m.cursor/int64(w)+1)*int64(w) - window
		}
		start = max(min(start, (n+int64(w)-1)/int64(w)*int64(w)-window), 0)
	}
	var lines []string
	for row := 0; row < rows; row++ {
		from := start + int64(row*w)
		if from >= n {
			break
		}
		to := min(from+int64(w), n)
		var b strings.Builder
		b.Grow(int(to-from) * 3)
		for _, c := range m.cells[from:to] {
			b.WriteRune(glyphs[c])
		}
		lines = append(lines, b.String())
	}
	return lines
}

// Legend explains the glyphs and the fold factor.
func (m *SectorMap) Legend() []string {
	unit := "1 sector"
	if m.per > 1 {
		unit = fmt.Sprintf("%d sectors", m.per)
	}
	return []string{fmt.Sprintf("%c pending  %c read  %c zero  %c recovered  %c bad    one cell = %s",
		glyphs[CellPending], glyphs[CellRead], glyphs[CellSparse], glyphs[CellRecovered], glyphs[CellBad], unit)}
}
