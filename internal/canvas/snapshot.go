package canvas

import (
	"bytes"
	"errors"
)

// ErrEmptySnapshot is returned when the board answers with no cells at all.
var ErrEmptySnapshot = errors.New("empty board snapshot")

// Snapshot is a decoded full-board response.
//
// The board serves one line per column: line i holds the colours of x=i,
// and character j of that line is y=j. The body "12\n30" therefore decodes
// to (0,0)=1, (0,1)=2, (1,0)=3, (1,1)=0.
type Snapshot struct {
	Columns [][]Color
	Invalid int // digits that failed to decode and were stored as Unknown
}

// DecodeSnapshot parses a board body. Lines beyond width and characters
// beyond height are dropped. Invalid digits become Unknown cells and are
// counted in Invalid; they do not fail the decode.
func DecodeSnapshot(body []byte, width, height int) (*Snapshot, error) {
	body = bytes.TrimRight(body, "\r\n")
	if len(body) == 0 {
		return nil, ErrEmptySnapshot
	}

	s := &Snapshot{}
	for x, line := range bytes.Split(body, []byte{'\n'}) {
		if x >= width {
			break
		}
		line = bytes.TrimRight(line, "\r")
		if len(line) > height {
			line = line[:height]
		}
		col := make([]Color, len(line))
		for y, d := range line {
			c, err := DigitToColor(d)
			if err != nil {
				s.Invalid++
			}
			col[y] = c
		}
		s.Columns = append(s.Columns, col)
	}
	return s, nil
}

// EncodeSnapshot renders a canvas in the board's wire format. Unknown cells
// are written as '0'.
func EncodeSnapshot(c Canvas) []byte {
	var buf bytes.Buffer
	buf.Grow(c.Width() * (c.Height() + 1))
	for x := 0; x < c.Width(); x++ {
		for y := 0; y < c.Height(); y++ {
			d, err := ColorToDigit(c.Get(Pos{X: x, Y: y}))
			if err != nil {
				d = '0'
			}
			buf.WriteByte(d)
		}
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}
