package lcd

import (
	"bytes"
	"io"
)

// Console draws the display as a bordered text box on a writer. A box is
// written each time the last cell is filled and the contents differ from
// the previous box.
type Console struct {
	w     io.Writer
	rows  int
	cols  int
	cells []byte
	pos   int
	last  []byte
	err   error
}

// NewConsole returns a Console of the given size writing to w.
func NewConsole(w io.Writer, rows, cols int) *Console {
	return &Console{
		w:     w,
		rows:  rows,
		cols:  cols,
		cells: bytes.Repeat([]byte{' '}, rows*cols),
	}
}

// SetPosition moves the cursor to row, col for the next WriteChar.
func (c *Console) SetPosition(row, col int) {
	c.pos = row*c.cols + col
}

// WriteChar stores ch at the cursor and advances it. Writes past the last
// cell are dropped.
func (c *Console) WriteChar(ch byte) {
	if c.pos < 0 || c.pos >= len(c.cells) {
		return
	}
	c.cells[c.pos] = ch
	c.pos++
	if c.pos == len(c.cells) {
		c.flush()
	}
}

// Err returns the first error from the underlying writer, if any.
func (c *Console) Err() error { return c.err }

func (c *Console) flush() {
	if bytes.Equal(c.cells, c.last) {
		return
	}
	c.last = append(c.last[:0], c.cells...)

	border := make([]byte, 0, c.cols+3)
	border = append(border, '+')
	border = append(border, bytes.Repeat([]byte{'-'}, c.cols)...)
	border = append(border, '+', '\n')

	var buf bytes.Buffer
	buf.Write(border)
	for r := 0; r < c.rows; r++ {
		buf.WriteByte('|')
		buf.Write(c.cells[r*c.cols : (r+1)*c.cols])
		buf.WriteString("|\n")
	}
	buf.Write(border)
	if _, err := c.w.Write(buf.Bytes()); err != nil && c.err == nil {
		c.err = err
	}
}
