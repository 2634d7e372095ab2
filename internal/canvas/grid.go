// Package canvas holds daub's local view of the remote board: a grid of
// observed colours fed by the synchronizer and, optimistically, by workers.
package canvas

import (
	"fmt"
	"sync"
)

// Color is a board colour code (0-32) or Unknown.
type Color uint8

// Unknown marks a cell that has not been observed yet or could not be decoded.
const Unknown Color = 0xFF

func (c Color) String() string {
	if c == Unknown {
		return "unknown"
	}
	return fmt.Sprintf("%d", uint8(c))
}

// Pos is a 0-indexed board coordinate.
type Pos struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func (p Pos) String() string {
	return fmt.Sprintf("(%d,%d)", p.X, p.Y)
}

// Canvas is the observed state of the board. Implementations must be safe
// for concurrent use; conflicting writers resolve last-write-wins per cell.
type Canvas interface {
	Get(p Pos) Color
	Set(p Pos, c Color)
	Width() int
	Height() int
}

// stripeWidth is the number of columns guarded by one lock.
const stripeWidth = 64

// Grid is the Canvas implementation. Cells are stored column by column
// (index x*height+y) and guarded by one RWMutex per stripe of columns, so
// workers painting different regions and the stream writer rarely contend.
type Grid struct {
	width, height int
	cells         []Color
	stripes       []sync.RWMutex
}

var _ Canvas = (*Grid)(nil)

// NewGrid returns a width×height grid with every cell Unknown.
func NewGrid(width, height int) *Grid {
	if width < 0 || height < 0 {
		panic(fmt.Sprintf("canvas: invalid size %dx%d", width, height))
	}
	cells := make([]Color, width*height)
	for i := range cells {
		cells[i] = Unknown
	}
	return &Grid{
		width:   width,
		height:  height,
		cells:   cells,
		stripes: make([]sync.RWMutex, (width+stripeWidth-1)/stripeWidth),
	}
}

// Width returns the number of columns.
func (g *Grid) Width() int { return g.width }

// Height returns the number of rows.
func (g *Grid) Height() int { return g.height }

// InBounds reports whether p lies on the board.
func (g *Grid) InBounds(p Pos) bool {
	return p.X >= 0 && p.X < g.width && p.Y >= 0 && p.Y < g.height
}

func (g *Grid) stripe(x int) *sync.RWMutex {
	return &g.stripes[x/stripeWidth]
}

// Get returns the observed colour at p, or Unknown when p is off the board.
func (g *Grid) Get(p Pos) Color {
	if !g.InBounds(p) {
		return Unknown
	}
	mu := g.stripe(p.X)
	mu.RLock()
	defer mu.RUnlock()
	return g.cells[p.X*g.height+p.Y]
}

// Set records an observation. Writes off the board are ignored.
func (g *Grid) Set(p Pos, c Color) {
	if !g.InBounds(p) {
		return
	}
	mu := g.stripe(p.X)
	mu.Lock()
	g.cells[p.X*g.height+p.Y] = c
	mu.Unlock()
}

// Apply writes every cell of a decoded snapshot, one stripe at a time.
// Snapshot cells off the board are ignored.
func (g *Grid) Apply(s *Snapshot) {
	for x0 := 0; x0 < len(s.Columns) && x0 < g.width; x0 += stripeWidth {
		mu := g.stripe(x0)
		mu.Lock()
		for x := x0; x < x0+stripeWidth && x < len(s.Columns) && x < g.width; x++ {
			col := s.Columns[x]
			for y := 0; y < len(col) && y < g.height; y++ {
				g.cells[x*g.height+y] = col[y]
			}
		}
		mu.Unlock()
	}
}

// Known returns how many cells hold an observed colour.
func (g *Grid) Known() int {
	known := 0
	for x0 := 0; x0 < g.width; x0 += stripeWidth {
		mu := g.stripe(x0)
		mu.RLock()
		end := x0 + stripeWidth
		if end > g.width {
			end = g.width
		}
		for _, c := range g.cells[x0*g.height : end*g.height] {
			if c != Unknown {
				known++
			}
		}
		mu.RUnlock()
	}
	return known
}
