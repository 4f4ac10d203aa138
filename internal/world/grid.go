package world

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Position is a point in world space.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// CellKey names a grid cell as "cellX:cellY".
type CellKey string

// Coords splits the key back into cell coordinates.
func (k CellKey) Coords() (cx, cy int64, ok bool) {
	xs, ys, found := strings.Cut(string(k), ":")
	if !found {
		return 0, 0, false
	}
	x, err := strconv.ParseInt(xs, 10, 64)
	if err != nil {
		return 0, 0, false
	}
	y, err := strconv.ParseInt(ys, 10, 64)
	if err != nil {
		return 0, 0, false
	}
	return x, y, true
}

func makeKey(cx, cy int64) CellKey {
	return CellKey(fmt.Sprintf("%d:%d", cx, cy))
}

// Grid maps cells to the connections currently inside them.
// The interest set of a cell is the (2r+1)^2 block around it, which trades
// some extra fan-out for O(1) membership lookups instead of distance checks.
// Accessed only from the game loop goroutine, no locks.
type Grid struct {
	cellSize float64
	cells    map[CellKey]map[string]struct{} // cellKey → set of connection IDs
}

func NewGrid(cellSize float64) *Grid {
	return &Grid{
		cellSize: cellSize,
		cells:    make(map[CellKey]map[string]struct{}),
	}
}

// CellSize returns the edge length of one cell in world units.
func (g *Grid) CellSize() float64 {
	return g.cellSize
}

// CellOf returns the cell containing p. Negative coordinates floor toward
// negative infinity, so -0.5 lands in cell -1.
func (g *Grid) CellOf(p Position) CellKey {
	cx := int64(math.Floor(p.X / g.cellSize))
	cy := int64(math.Floor(p.Y / g.cellSize))
	return makeKey(cx, cy)
}

// Neighbors enumerates the (2*radius+1)^2 cells centred on key, key included.
func (g *Grid) Neighbors(key CellKey, radius int) []CellKey {
	cx, cy, ok := key.Coords()
	if !ok {
		return nil
	}
	if radius < 0 {
		radius = 0
	}
	r := int64(radius)
	out := make([]CellKey, 0, (2*radius+1)*(2*radius+1))
	for dx := -r; dx <= r; dx++ {
		for dy := -r; dy <= r; dy++ {
			out = append(out, makeKey(cx+dx, cy+dy))
		}
	}
	return out
}

// Add places a connection into a cell.
func (g *Grid) Add(connID string, key CellKey) {
	if key == "" {
		return
	}
	cell := g.cells[key]
	if cell == nil {
		cell = make(map[string]struct{})
		g.cells[key] = cell
	}
	cell[connID] = struct{}{}
}

// Remove takes a connection out of a cell, pruning the cell when empty.
func (g *Grid) Remove(connID string, key CellKey) {
	cell := g.cells[key]
	if cell == nil {
		return
	}
	delete(cell, connID)
	if len(cell) == 0 {
		delete(g.cells, key)
	}
}

// Move updates a connection's cell. Same old and new cell is a no-op; an
// empty oldCell means a fresh placement and an empty newCell a removal.
func (g *Grid) Move(connID string, oldCell, newCell CellKey) {
	if oldCell == newCell {
		return
	}
	if oldCell != "" {
		g.Remove(connID, oldCell)
	}
	if newCell != "" {
		g.Add(connID, newCell)
	}
}

// MembersOf returns the connections in one cell, sorted.
func (g *Grid) MembersOf(key CellKey) []string {
	cell := g.cells[key]
	if len(cell) == 0 {
		return nil
	}
	out := make([]string, 0, len(cell))
	for id := range cell {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Contains reports whether connID is recorded in key.
func (g *Grid) Contains(key CellKey, connID string) bool {
	_, ok := g.cells[key][connID]
	return ok
}

// InterestSet returns every connection in the neighbourhood of key.
func (g *Grid) InterestSet(key CellKey, radius int) []string {
	var out []string
	for _, k := range g.Neighbors(key, radius) {
		for id := range g.cells[k] {
			out = append(out, id)
		}
	}
	return out
}

// ActiveCells returns the number of non-empty cells.
func (g *Grid) ActiveCells() int {
	return len(g.cells)
}
