// Package grid holds the character buffer for a small alphanumeric display
// and fills it from a text file.
//
// A Grid is always fully populated: every cell is a printable byte or a
// space, including after a failed read.
package grid

import (
	"bufio"
	"errors"
	"io"
	"log/slog"
	"os"
)

const (
	DefaultRows = 2
	DefaultCols = 16

	blank = ' '
)

// Grid is a Rows x Cols matrix of display characters, stored row-major.
type Grid struct {
	rows   int
	cols   int
	cells  []byte
	logger *slog.Logger
}

// New returns a blank grid. It panics if rows or cols is not positive.
func New(rows, cols int) *Grid {
	if rows <= 0 || cols <= 0 {
		panic("grid: rows and cols must be positive")
	}
	g := &Grid{
		rows:   rows,
		cols:   cols,
		cells:  make([]byte, rows*cols),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	g.Clear()
	return g
}

// Rows returns the number of display lines.
func (g *Grid) Rows() int { return g.rows }

// Cols returns the number of characters per line.
func (g *Grid) Cols() int { return g.cols }

// SetLogger sets where Reload reports files it could not read.
// A nil logger is ignored.
func (g *Grid) SetLogger(l *slog.Logger) {
	if l != nil {
		g.logger = l
	}
}

// Clear sets every cell to a space.
func (g *Grid) Clear() {
	for i := range g.cells {
		g.cells[i] = blank
	}
}

// Row returns row i as a string of exactly Cols bytes.
func (g *Grid) Row(i int) string {
	return string(g.row(i))
}

// Lines returns a copy of every row.
func (g *Grid) Lines() []string {
	lines := make([]string, g.rows)
	for i := range lines {
		lines[i] = g.Row(i)
	}
	return lines
}

func (g *Grid) row(i int) []byte {
	return g.cells[i*g.cols : (i+1)*g.cols]
}

// Reload blanks the grid and refills it from the file at path.
// A missing or unreadable file leaves the grid blank; the reason is logged
// at debug level and the grid is valid either way.
func (g *Grid) Reload(path string) {
	if err := g.load(path); err != nil {
		g.logger.Debug("grid:reload", slog.String("path", path), slog.Any("reason", err))
	}
}

func (g *Grid) load(path string) error {
	g.Clear()
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return g.Fill(f)
}

// Fill blanks the grid and copies up to Rows lines from r into it.
// Each line loses one trailing '\n' if it has one, then is clipped to Cols
// bytes. If reading fails part-way, the grid is blanked again and the error
// returned.
func (g *Grid) Fill(r io.Reader) error {
	g.Clear()
	br := bufio.NewReader(r)
	for i := 0; i < g.rows; i++ {
		ok, err := readLine(br, g.row(i))
		if err != nil {
			g.Clear()
			return err
		}
		if !ok {
			return nil
		}
	}
	return nil
}

// readLine copies the next line from br into dst, discarding whatever does
// not fit. It reports false when br was already at EOF.
func readLine(br *bufio.Reader, dst []byte) (bool, error) {
	var n int
	var consumed bool
	for {
		frag, err := br.ReadSlice('\n')
		if len(frag) > 0 {
			consumed = true
		}
		if err == nil {
			// Only a successful ReadSlice ends in the delimiter.
			frag = frag[:len(frag)-1]
		}
		n += copyPrintable(dst[n:], frag)
		switch {
		case err == nil:
			return true, nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF):
			return consumed, nil
		default:
			return false, err
		}
	}
}

// copyPrintable is copy, with control bytes stored as spaces.
func copyPrintable(dst, src []byte) int {
	n := min(len(dst), len(src))
	for i := 0; i < n; i++ {
		c := src[i]
		if c < 0x20 || c == 0x7f {
			c = blank
		}
		dst[i] = c
	}
	return n
}

// Render writes the grid out in row-major order: setPosition(row, 0) once per
// row, then writeCell once per column, left to right.
func (g *Grid) Render(setPosition func(row, col int), writeCell func(c byte)) {
	for i := 0; i < g.rows; i++ {
		setPosition(i, 0)
		for _, c := range g.row(i) {
			writeCell(c)
		}
	}
}
