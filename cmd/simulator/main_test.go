package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/golang/geo/r2"

	"chessarm/internal/board"
	"chessarm/internal/vision"
)

func testGrid(t *testing.T) *board.Grid {
	t.Helper()
	pts, err := parseCorners("0,0,800,0,800,800,0,800")
	if err != nil {
		t.Fatal(err)
	}
	grid, err := board.NewGrid(pts)
	if err != nil {
		t.Fatal(err)
	}
	return grid
}

func TestGeneratorRoundTrip(t *testing.T) {
	grid := testGrid(t)
	snap, err := board.ParsePlacement(startPlacement)
	if err != nil {
		t.Fatal(err)
	}
	gen := NewGenerator(grid, board.DefaultCatalog(), snap, 10, 0, 1)

	obs, err := gen.Frame()
	if err != nil {
		t.Fatal(err)
	}
	if len(obs) != 32 {
		t.Fatalf("observations = %d, want 32", len(obs))
	}
	res := board.NewFuser(grid, board.DefaultCatalog()).Fuse(obs)
	if got := res.Snapshot.Placement(); got != startPlacement {
		t.Errorf("fused placement = %s, want %s", got, startPlacement)
	}
	if len(res.Unknown) != 0 || len(res.Conflicts) != 0 {
		t.Errorf("unexpected unknown=%v conflicts=%v", res.Unknown, res.Conflicts)
	}
}

func TestGeneratorDropsEverything(t *testing.T) {
	snap, _ := board.ParsePlacement(startPlacement)
	gen := NewGenerator(testGrid(t), board.DefaultCatalog(), snap, 0, 1, 1)
	obs, err := gen.Frame()
	if err != nil {
		t.Fatal(err)
	}
	if len(obs) != 0 {
		t.Errorf("observations = %d, want 0", len(obs))
	}
}

func TestSquareCentroid(t *testing.T) {
	o := board.Observation{ID: 1, Corners: square(r2.Point{X: 50, Y: 150}, 10)}
	if c := o.Centroid(); c.X != 50 || c.Y != 150 {
		t.Errorf("centroid = %v", c)
	}
}

func TestRunWritesFrames(t *testing.T) {
	snap, _ := board.ParsePlacement("8/8/8/8/8/8/8/4K3")
	gen := NewGenerator(testGrid(t), board.DefaultCatalog(), snap, 0, 0, 1)

	var buf bytes.Buffer
	if err := run(context.Background(), gen, &buf, 1000, 3); err != nil {
		t.Fatal(err)
	}
	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	if len(lines) != 3 {
		t.Fatalf("lines = %d, want 3", len(lines))
	}
	obs, err := vision.DecodeFrame(lines[0])
	if err != nil {
		t.Fatal(err)
	}
	if len(obs) != 1 || obs[0].ID != 7 {
		t.Errorf("frame = %+v, want the white king marker", obs)
	}
}

func TestParseCornersRejectsShortInput(t *testing.T) {
	if _, err := parseCorners("0,0,1,1"); err == nil {
		t.Error("expected error")
	}
}

func TestPlayMoves(t *testing.T) {
	got, err := playMoves("e2e4, e7e5 g1f3")
	if err != nil {
		t.Fatal(err)
	}
	want := "rnbqkbnr/pppp1ppp/8/4p3/4P3/5N2/PPPP1PPP/RNBQKB1R"
	if got != want {
		t.Errorf("placement = %s, want %s", got, want)
	}
	if _, err := playMoves("e2e5"); err == nil {
		t.Error("expected illegal move to fail")
	}
}
