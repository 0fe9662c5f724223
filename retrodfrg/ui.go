// Package retrodfrg draws a full screen progress display in the style of old DOS
// disk tools: a title bar, info lines, a legend, a map of cells and a status block.
// It knows nothing about the task being shown; callers hand it prepared lines.
package retrodfrg

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
)

// ErrInterrupted is returned when the user asks to stop.
var ErrInterrupted = errors.New("interrupted")

// UI is a tcell screen with a fixed layout. Setters only store lines; nothing
// appears until LayoutAndDraw.
type UI struct {
	s        tcell.Screen
	closed   bool
	stopChan chan struct{}
	once     sync.Once

	title        string
	phases       []string
	phaseDoneMap map[string]bool
	summaryLines []string
	legendLines  []string
	statusLines  []string

	mapLines []string
}

// NewUI initializes the terminal and starts listening for q, Esc and Ctrl-C.
func NewUI() (*UI, error) {
	s, err := tcell.NewScreen()
	if err != nil {
		return nil, err
	}
	return newUI(s)
}

func newUI(s tcell.Screen) (*UI, error) {
	if err := s.Init(); err != nil {
		return nil, err
	}
	s.DisableMouse()
	u := &UI{
		s:            s,
		stopChan:     make(chan struct{}),
		phaseDoneMap: make(map[string]bool),
	}
	go u.eventLoop()
	return u, nil
}

// Close restores the terminal.
func (u *UI) Close() {
	if u.closed {
		return
	}
	u.closed = true
	u.RequestStop()
	u.s.Fini()
	fmt.Print("\033[?1049l\033[?25h")
}

// RequestStop records a stop request. Safe to call more than once.
func (u *UI) RequestStop() {
	u.once.Do(func() {
		close(u.stopChan)
		_ = u.s.PostEvent(tcell.NewEventInterrupt(nil))
	})
}

// IsStopped reports whether a stop was requested.
func (u *UI) IsStopped() bool {
	select {
	case <-u.stopChan:
		return true
	default:
		return false
	}
}

// Stopped is closed once a stop is requested.
func (u *UI) Stopped() <-chan struct{} { return u.stopChan }

// Hold keeps the last screen up for d, or until a stop is requested.
func (u *UI) Hold(d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-u.stopChan:
		return ErrInterrupted
	case <-timer.C:
		return nil
	}
}

// Size returns the screen width and height.
func (u *UI) Size() (width, height int) {
	if u.closed {
		return 0, 0
	}
	return u.s.Size()
}

// MapRows is the number of rows left for the map with the current lines.
func (u *UI) MapRows() int {
	_, h := u.Size()
	used := len(u.summaryLines) + len(u.legendLines)
	if u.title != "" {
		used++
	}
	if len(u.phases) > 0 {
		used += 2
	}
	if len(u.statusLines) > 0 {
		used += 1 + len(u.statusLines)
	}
	if rows := h - used; rows > 1 {
		return rows
	}
	return 1
}

func putStr(s tcell.Screen, x, y int, str string, style tcell.Style) {
	w, _ := s.Size()
	for i, r := range []rune(str) {
		if x+i >= w {
			break
		}
		s.SetContent(x+i, y, r, nil, style)
	}
}

func rule(s tcell.Screen, y int, label string) {
	w, _ := s.Size()
	putStr(s, 0, y, strings.Repeat("─", w), tcell.StyleDefault)
	putStr(s, 2, y, " "+label+" ", tcell.StyleDefault)
}

// LayoutAndDraw redraws everything.
func (u *UI) LayoutAndDraw() {
	if u.closed {
		return
	}
	u.s.Clear()
	w, h := u.s.Size()
	y := 0

	if u.title != "" {
		putStr(u.s, 0, y, strings.Repeat("═", w), tcell.StyleDefault)
		putStr(u.s, (w-len([]rune(u.title)))/2, y, u.title, tcell.StyleDefault.Bold(true))
		y++
	}
	for _, group := range [][]string{u.summaryLines, u.legendLines} {
		for _, line := range group {
			if y >= h {
				break
			}
			putStr(u.s, 0, y, line, tcell.StyleDefault)
			y++
		}
	}

	rows := min(u.MapRows(), len(u.mapLines))
	for i := 0; i < rows && y < h; i++ {
		putMapLine(u.s, y, u.mapLines[i])
		y++
	}

	if len(u.phases) > 0 && y+1 < h {
		rule(u.s, y, "Phase")
		y++
		var b strings.Builder
		for i, p := range u.phases {
			if i > 0 {
				b.WriteByte(' ')
			}
			mark := ' '
			if u.phaseDoneMap[strings.ToLower(p)] {
				mark = '✓'
			}
			fmt.Fprintf(&b, "[%c]%s", mark, p)
		}
		putStr(u.s, 0, y, b.String(), tcell.StyleDefault)
		y++
	}

	if len(u.statusLines) > 0 && y < h {
		rule(u.s, y, "Status")
		y++
		for _, line := range u.statusLines {
			if y >= h {
				break
			}
			putStr(u.s, 0, y, line, tcell.StyleDefault)
			y++
		}
	}
	u.s.Show()
}

// putMapLine colours bad cells so they stand out on a mostly read map.
func putMapLine(s tcell.Screen, y int, line string) {
	w, _ := s.Size()
	x := 0
	for _, r := range line {
		if x >= w {
			break
		}
		st := tcell.StyleDefault
		switch r {
		case glyphs[CellBad]:
			st = st.Foreground(tcell.ColorRed)
		case glyphs[CellRecovered]:
			st = st.Foreground(tcell.ColorYellow)
		}
		s.SetContent(x, y, r, nil, st)
		x++
	}
}

// SetPhaseDone ticks a phase. Names are case-insensitive.
func (u *UI) SetPhaseDone(p string) {
	if u.phaseDoneMap == nil {
		u.phaseDoneMap = make(map[string]bool)
	}
	u.phaseDoneMap[strings.ToLower(p)] = true
}

// SetPhases sets the phase labels.
func (u *UI) SetPhases(labels []string) { u.phases = append([]string(nil), labels...) }

// SetTitle sets the centred title.
func (u *UI) SetTitle(t string) { u.title = t }

// SetSummaryLines sets the lines below the title.
func (u *UI) SetSummaryLines(lines []string) { u.summaryLines = append([]string(nil), lines...) }

// SetLegend sets the lines above the map.
func (u *UI) SetLegend(lines []string) { u.legendLines = append([]string(nil), lines...) }

// SetStatusLines sets the status block.
func (u *UI) SetStatusLines(lines []string) { u.statusLines = append([]string(nil), lines...) }

// SetProgressMap sets the rendered map rows, usually from SectorMap.Render.
func (u *UI) SetProgressMap(lines []string) { u.mapLines = append([]string(nil), lines...) }

func (u *UI) eventLoop() {
	s := u.s
	for {
		switch ev := s.PollEvent().(type) {
		case *tcell.EventKey:
			switch {
			case ev.Key() == tcell.KeyCtrlC, ev.Key() == tcell.KeyEscape:
				u.RequestStop()
			case ev.Key() == tcell.KeyRune && (ev.Rune() == 'q' || ev.Rune() == 'Q'):
				u.RequestStop()
			}
		case *tcell.EventResize:
			s.Sync()
		case *tcell.EventInterrupt, nil:
			return
		}
	}
}
