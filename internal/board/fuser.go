package board

import (
	"sort"

	"github.com/golang/geo/r2"
)

// Observation is one detected marker: its ID and its four corners in
// pixels.
type Observation struct {
	ID      int
	Corners [4]r2.Point
}

// Centroid is the mean of the marker corners.
func (o Observation) Centroid() r2.Point {
	var c r2.Point
	for _, p := range o.Corners {
		c = c.Add(p)
	}
	return c.Mul(0.25)
}

// Placement records where one known marker landed.
type Placement struct {
	ID       int
	Piece    Piece
	Cell     Cell
	Distance float64
}

// Result is the outcome of fusing one frame of observations.
type Result struct {
	Snapshot   Snapshot
	Placements []Placement
	// Unknown lists marker IDs absent from the catalog, ascending.
	Unknown []int
	// Conflicts lists cells claimed by more than one marker. The last
	// marker in observation order holds the cell.
	Conflicts []Cell
}

// Fuser turns marker observations into a board snapshot.
type Fuser struct {
	grid    *Grid
	catalog *Catalog
}

// NewFuser pairs a calibrated grid with a marker catalog.
func NewFuser(grid *Grid, catalog *Catalog) *Fuser {
	return &Fuser{grid: grid, catalog: catalog}
}

// Grid returns the calibration in use.
func (f *Fuser) Grid() *Grid { return f.grid }

// Catalog returns the marker catalog in use.
func (f *Fuser) Catalog() *Catalog { return f.catalog }

// Fuse places every known marker on the square nearest to its centroid.
// The result depends only on the current observations.
func (f *Fuser) Fuse(obs []Observation) Result {
	var res Result
	claimed := make(map[Cell]bool)
	conflicted := make(map[Cell]bool)
	for _, o := range obs {
		piece, ok := f.catalog.Lookup(o.ID)
		if !ok {
			res.Unknown = append(res.Unknown, o.ID)
			continue
		}
		cell, dist := f.grid.Nearest(o.Centroid())
		if claimed[cell] && !conflicted[cell] {
			conflicted[cell] = true
			res.Conflicts = append(res.Conflicts, cell)
		}
		claimed[cell] = true
		res.Snapshot[cell.Row][cell.Col] = piece.Symbol()
		res.Placements = append(res.Placements, Placement{ID: o.ID, Piece: piece, Cell: cell, Distance: dist})
	}
	sort.Ints(res.Unknown)
	return res
}
