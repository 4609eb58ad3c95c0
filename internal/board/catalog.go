package board

import (
	"fmt"
	"sort"
	"strings"
)

// Color is the side a piece belongs to.
type Color int

const (
	White Color = iota
	Black
)

// Kind is the piece type.
type Kind int

const (
	Pawn Kind = iota
	Knight
	Bishop
	Rook
	Queen
	King
)

var kindLetters = map[Kind]byte{Pawn: 'p', Knight: 'n', Bishop: 'b', Rook: 'r', Queen: 'q', King: 'k'}

// Piece is the identity a marker stands for.
type Piece struct {
	Color Color
	Kind  Kind
}

// ParsePiece parses a two-letter code such as "WP" or "BK".
func ParsePiece(code string) (Piece, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != 2 {
		return Piece{}, fmt.Errorf("invalid piece code %q", code)
	}
	var p Piece
	switch code[0] {
	case 'W':
		p.Color = White
	case 'B':
		p.Color = Black
	default:
		return Piece{}, fmt.Errorf("invalid piece color in %q", code)
	}
	k, ok := kindFromLetter(code[1])
	if !ok {
		return Piece{}, fmt.Errorf("invalid piece kind in %q", code)
	}
	p.Kind = k
	return p, nil
}

// PieceFromSymbol parses a FEN letter.
func PieceFromSymbol(sym byte) (Piece, bool) {
	k, ok := kindFromLetter(sym)
	if !ok {
		return Piece{}, false
	}
	if sym >= 'A' && sym <= 'Z' {
		return Piece{Color: White, Kind: k}, true
	}
	return Piece{Color: Black, Kind: k}, true
}

func kindFromLetter(b byte) (Kind, bool) {
	lower := b | 0x20
	for k, l := range kindLetters {
		if l == lower {
			return k, true
		}
	}
	return 0, false
}

// Code returns the two-letter code of the piece.
func (p Piece) Code() string {
	c := byte('W')
	if p.Color == Black {
		c = 'B'
	}
	return string([]byte{c, kindLetters[p.Kind] &^ 0x20})
}

// Symbol returns the FEN letter: uppercase for white.
func (p Piece) Symbol() byte {
	l := kindLetters[p.Kind]
	if p.Color == White {
		return l &^ 0x20
	}
	return l
}

func (p Piece) String() string { return p.Code() }

// DefaultMarkers is the marker layout printed for the bench set.
var DefaultMarkers = map[int]string{
	0: "BN", 1: "WN", 2: "BB", 3: "WB", 4: "BQ", 5: "WQ",
	6: "BK", 7: "WK", 8: "BR", 9: "WR", 10: "BP", 11: "WP",
}

// DefaultHeights are the piece heights of the bench set in mm.
var DefaultHeights = map[Kind]float64{
	Pawn: 24.53, Knight: 41.40, Bishop: 58.48, Rook: 41.40, Queen: 58.29, King: 58.29,
}

// Catalog maps marker IDs to pieces.
type Catalog struct {
	byID    map[int]Piece
	heights map[Kind]float64
}

// NewCatalog builds a catalog from marker ID -> piece code.
func NewCatalog(markers map[int]string) (*Catalog, error) {
	if len(markers) == 0 {
		return nil, fmt.Errorf("marker catalog is empty")
	}
	c := &Catalog{byID: make(map[int]Piece, len(markers)), heights: DefaultHeights}
	for id, code := range markers {
		if id < 0 {
			return nil, fmt.Errorf("marker id %d must not be negative", id)
		}
		p, err := ParsePiece(code)
		if err != nil {
			return nil, fmt.Errorf("marker %d: %w", id, err)
		}
		c.byID[id] = p
	}
	return c, nil
}

// DefaultCatalog returns the catalog of the bench set.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(DefaultMarkers)
	if err != nil {
		panic(err)
	}
	return c
}

// Lookup returns the piece of a marker ID.
func (c *Catalog) Lookup(id int) (Piece, bool) {
	p, ok := c.byID[id]
	return p, ok
}

// MarkerFor returns the lowest marker ID standing for p.
func (c *Catalog) MarkerFor(p Piece) (int, bool) {
	ids := make([]int, 0, len(c.byID))
	for id, q := range c.byID {
		if q == p {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return 0, false
	}
	sort.Ints(ids)
	return ids[0], true
}

// Height returns the height of a piece kind in mm.
func (c *Catalog) Height(k Kind) float64 { return c.heights[k] }

// Len returns the number of known markers.
func (c *Catalog) Len() int { return len(c.byID) }
