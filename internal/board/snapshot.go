package board

import (
	"fmt"
	"strings"
)

// Snapshot is the occupancy of the board. Index [row][col] with row 0 at
// rank 8; a zero byte is an empty square.
type Snapshot [Size][Size]byte

// At returns the symbol on c, or 0.
func (s *Snapshot) At(c Cell) byte { return s[c.Row][c.Col] }

// Occupied returns the number of non-empty squares.
func (s *Snapshot) Occupied() int {
	n := 0
	for i := range s {
		for j := range s[i] {
			if s[i][j] != 0 {
				n++
			}
		}
	}
	return n
}

// Placement renders the snapshot as a FEN piece-placement field, row 0
// first, runs of empty squares as digits.
func (s *Snapshot) Placement() string {
	var b strings.Builder
	for i := 0; i < Size; i++ {
		if i > 0 {
			b.WriteByte('/')
		}
		empty := 0
		for j := 0; j < Size; j++ {
			sym := s[i][j]
			if sym == 0 {
				empty++
				continue
			}
			if empty > 0 {
				b.WriteByte(byte('0' + empty))
				empty = 0
			}
			b.WriteByte(sym)
		}
		if empty > 0 {
			b.WriteByte(byte('0' + empty))
		}
	}
	return b.String()
}

func (s *Snapshot) String() string { return s.Placement() }

// ParsePlacement is the inverse of Placement.
func ParsePlacement(field string) (Snapshot, error) {
	var s Snapshot
	rows := strings.Split(strings.TrimSpace(field), "/")
	if len(rows) != Size {
		return s, fmt.Errorf("placement %q: want %d rows, got %d", field, Size, len(rows))
	}
	for i, row := range rows {
		j := 0
		for k := 0; k < len(row); k++ {
			ch := row[k]
			switch {
			case ch >= '1' && ch <= '8':
				j += int(ch - '0')
			default:
				if _, ok := PieceFromSymbol(ch); !ok {
					return s, fmt.Errorf("placement %q: invalid symbol %q in row %d", field, ch, i)
				}
				if j >= Size {
					return s, fmt.Errorf("placement %q: row %d overflows", field, i)
				}
				s[i][j] = ch
				j++
			}
			if j > Size {
				return s, fmt.Errorf("placement %q: row %d overflows", field, i)
			}
		}
		if j != Size {
			return s, fmt.Errorf("placement %q: row %d has %d squares", field, i, j)
		}
	}
	return s, nil
}
