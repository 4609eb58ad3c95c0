package board

import (
	"github.com/corentings/chess/v2"
)

// Square converts a cell to the chess library's square.
func (c Cell) Square() chess.Square {
	return chess.NewSquare(chess.File(c.Col), chess.Rank(Size-1-c.Row))
}

// Board converts the snapshot into a chess board.
func (s *Snapshot) Board() *chess.Board {
	m := make(map[chess.Square]chess.Piece)
	for i := 0; i < Size; i++ {
		for j := 0; j < Size; j++ {
			if p, ok := PieceFromSymbol(s[i][j]); ok {
				m[Cell{Row: i, Col: j}.Square()] = toChess(p)
			}
		}
	}
	return chess.NewBoard(m)
}

// Diagram renders the snapshot as a text board for debug logs.
func (s *Snapshot) Diagram() string { return s.Board().Draw() }

func toChess(p Piece) chess.Piece {
	color := chess.White
	if p.Color == Black {
		color = chess.Black
	}
	var t chess.PieceType
	switch p.Kind {
	case Pawn:
		t = chess.Pawn
	case Knight:
		t = chess.Knight
	case Bishop:
		t = chess.Bishop
	case Rook:
		t = chess.Rook
	case Queen:
		t = chess.Queen
	default:
		t = chess.King
	}
	return chess.NewPiece(t, color)
}

// Change is a square whose occupant differs between two snapshots.
type Change struct {
	Square string
	Before byte
	After  byte
}

// Diff lists the changed squares in row-major order.
func Diff(prev, next *Snapshot) []Change {
	var out []Change
	for i := 0; i < Size; i++ {
		for j := 0; j < Size; j++ {
			if prev[i][j] != next[i][j] {
				out = append(out, Change{
					Square: Cell{Row: i, Col: j}.Square().String(),
					Before: prev[i][j],
					After:  next[i][j],
				})
			}
		}
	}
	return out
}
