// Package board maps fiducial markers seen by the camera onto chessboard
// squares and renders the occupancy as the piece-placement field of a FEN
// record.
//
// Image rows run top to bottom: row 0 is the edge between the top-left and
// top-right corners and is rank 8; column 0 is file a.
package board

import (
	"errors"
	"fmt"
	"math"

	"github.com/golang/geo/r2"
)

// Size is the number of ranks and files.
const Size = 8

// ErrIncompleteCalibration is returned when the board corners are not
// exactly four points.
var ErrIncompleteCalibration = errors.New("board calibration needs exactly 4 corners")

// Corners holds the board outline in pixels: top-left, top-right,
// bottom-right, bottom-left.
type Corners [4]r2.Point

// NewCorners validates calibration points.
func NewCorners(points []r2.Point) (Corners, error) {
	var c Corners
	if len(points) != len(c) {
		return c, fmt.Errorf("%w: got %d", ErrIncompleteCalibration, len(points))
	}
	for i, p := range points {
		if math.IsNaN(p.X) || math.IsNaN(p.Y) || math.IsInf(p.X, 0) || math.IsInf(p.Y, 0) {
			return c, fmt.Errorf("corner %d is not a finite point: %v", i, p)
		}
		c[i] = p
	}
	return c, nil
}

// Cell addresses one square by image row and column.
type Cell struct {
	Row int
	Col int
}

// String returns the algebraic square name, e.g. "e4".
func (c Cell) String() string {
	return fmt.Sprintf("%c%d", 'a'+c.Col, Size-c.Row)
}

// Grid is the 8x8 matrix of expected marker centers for one calibration.
type Grid struct {
	corners Corners
	centers [Size][Size]r2.Point
}

// NewGrid interpolates the square centers from four board corners.
func NewGrid(points []r2.Point) (*Grid, error) {
	corners, err := NewCorners(points)
	if err != nil {
		return nil, err
	}
	g := &Grid{corners: corners}
	tl, tr, br, bl := corners[0], corners[1], corners[2], corners[3]
	for i := 0; i < Size; i++ {
		u := float64(i) / (Size - 1)
		for j := 0; j < Size; j++ {
			t := float64(j) / (Size - 1)
			top := lerp(tl, tr, t)
			bottom := lerp(bl, br, t)
			g.centers[i][j] = lerp(top, bottom, u)
		}
	}
	return g, nil
}

// Corners returns the calibration the grid was built from.
func (g *Grid) Corners() Corners { return g.corners }

// Center returns the expected marker center of c.
func (g *Grid) Center(c Cell) r2.Point { return g.centers[c.Row][c.Col] }

// Nearest returns the cell whose center is closest to p. Cells are scanned
// in row-major order and the first minimum wins.
func (g *Grid) Nearest(p r2.Point) (Cell, float64) {
	best := Cell{}
	bestDist := math.Inf(1)
	for i := 0; i < Size; i++ {
		for j := 0; j < Size; j++ {
			if d := g.centers[i][j].Sub(p).Norm(); d < bestDist {
				bestDist = d
				best = Cell{Row: i, Col: j}
			}
		}
	}
	return best, bestDist
}

func lerp(a, b r2.Point, t float64) r2.Point {
	return a.Mul(1 - t).Add(b.Mul(t))
}
