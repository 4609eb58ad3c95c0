// Command simulator stands in for the camera pipeline: it renders a FEN
// placement as marker detections on a calibrated board and streams them as
// JSON lines, either to stdout or to every client of a TCP listener.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/corentings/chess/v2"
	"github.com/golang/geo/r2"

	"chessarm/internal/board"
	"chessarm/internal/vision"
)

const startPlacement = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR"

// Generator renders one board snapshot as marker observations.
type Generator struct {
	grid     *board.Grid
	catalog  *board.Catalog
	snapshot board.Snapshot
	size     float64 // marker edge length in pixels
	jitter   float64 // max centre offset in pixels
	drop     float64 // probability a marker is missed
	rng      *rand.Rand
}

func NewGenerator(grid *board.Grid, catalog *board.Catalog, snapshot board.Snapshot, jitter, drop float64, seed int64) *Generator {
	// 标记边长取格子宽度的一半
	a := grid.Center(board.Cell{Row: 0, Col: 0})
	b := grid.Center(board.Cell{Row: 0, Col: 1})
	return &Generator{
		grid:     grid,
		catalog:  catalog,
		snapshot: snapshot,
		size:     a.Sub(b).Norm() / 2,
		jitter:   jitter,
		drop:     drop,
		rng:      rand.New(rand.NewSource(seed)),
	}
}

// Frame returns the detections of one camera frame.
func (g *Generator) Frame() ([]board.Observation, error) {
	var obs []board.Observation
	for row := 0; row < board.Size; row++ {
		for col := 0; col < board.Size; col++ {
			cell := board.Cell{Row: row, Col: col}
			sym := g.snapshot.At(cell)
			if sym == 0 {
				continue
			}
			if g.drop > 0 && g.rng.Float64() < g.drop {
				continue
			}
			piece, _ := board.PieceFromSymbol(sym)
			id, ok := g.catalog.MarkerFor(piece)
			if !ok {
				return nil, fmt.Errorf("no marker for %s on %s", piece, cell)
			}
			c := g.grid.Center(cell).Add(r2.Point{X: g.offset(), Y: g.offset()})
			obs = append(obs, board.Observation{ID: id, Corners: square(c, g.size/2)})
		}
	}
	return obs, nil
}

func (g *Generator) offset() float64 {
	if g.jitter <= 0 {
		return 0
	}
	return (g.rng.Float64()*2 - 1) * g.jitter
}

// square returns the corners of an axis-aligned marker, clockwise from
// top-left.
func square(c r2.Point, h float64) [4]r2.Point {
	return [4]r2.Point{
		{X: c.X - h, Y: c.Y - h},
		{X: c.X + h, Y: c.Y - h},
		{X: c.X + h, Y: c.Y + h},
		{X: c.X - h, Y: c.Y + h},
	}
}

// playMoves applies UCI moves from the initial position and returns the
// resulting piece placement.
func playMoves(moves string) (string, error) {
	game := chess.NewGame()
	for _, mv := range strings.Fields(strings.ReplaceAll(moves, ",", " ")) {
		if err := game.PushNotationMove(mv, chess.UCINotation{}, nil); err != nil {
			return "", fmt.Errorf("move %s: %w", mv, err)
		}
	}
	return game.Position().Board().String(), nil
}

func parseCorners(s string) ([]r2.Point, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 8 {
		return nil, fmt.Errorf("corners %q: want 8 numbers", s)
	}
	pts := make([]r2.Point, 4)
	for i := 0; i < 4; i++ {
		x, err := strconv.ParseFloat(strings.TrimSpace(parts[2*i]), 64)
		if err != nil {
			return nil, fmt.Errorf("corners %q: %w", s, err)
		}
		y, err := strconv.ParseFloat(strings.TrimSpace(parts[2*i+1]), 64)
		if err != nil {
			return nil, fmt.Errorf("corners %q: %w", s, err)
		}
		pts[i] = r2.Point{X: x, Y: y}
	}
	return pts, nil
}

// fanout writes each line to every connected client and drops clients whose
// write fails.
type fanout struct {
	mu      sync.Mutex
	clients map[net.Conn]struct{}
}

func (f *fanout) add(c net.Conn) {
	f.mu.Lock()
	f.clients[c] = struct{}{}
	f.mu.Unlock()
	log.Printf("Client connected: %s", c.RemoteAddr())
}

func (f *fanout) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for c := range f.clients {
		if _, err := c.Write(p); err != nil {
			log.Printf("Client %s dropped: %v", c.RemoteAddr(), err)
			_ = c.Close()
			delete(f.clients, c)
		}
	}
	return len(p), nil
}

func (f *fanout) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for c := range f.clients {
		_ = c.Close()
	}
	f.clients = nil
	return nil
}

func serve(ctx context.Context, addr string) (io.WriteCloser, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	out := &fanout{clients: make(map[net.Conn]struct{})}
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			out.add(conn)
		}
	}()
	log.Printf("Streaming frames on tcp://%s", ln.Addr())
	return out, nil
}

func run(ctx context.Context, gen *Generator, w io.Writer, rate, count int) error {
	ticker := time.NewTicker(time.Second / time.Duration(rate))
	defer ticker.Stop()

	for sent := 0; count <= 0 || sent < count; sent++ {
		obs, err := gen.Frame()
		if err != nil {
			return err
		}
		line, err := vision.EncodeFrame(obs)
		if err != nil {
			return err
		}
		if _, err := w.Write(append(line, '\n')); err != nil {
			return fmt.Errorf("failed to write frame: %w", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
	return nil
}

func main() {
	var (
		placement = flag.String("placement", startPlacement, "FEN piece placement to render")
		moves     = flag.String("moves", "", "UCI moves played from the initial position, overrides -placement")
		corners   = flag.String("corners", "0,0,800,0,800,800,0,800", "Board corners x,y in a8,h8,h1,a1 order")
		rate      = flag.Int("rate", 10, "Frames per second")
		count     = flag.Int("count", 0, "Frames to emit, 0 for unlimited")
		jitter    = flag.Float64("jitter", 3, "Max marker offset in pixels")
		drop      = flag.Float64("drop", 0, "Probability a marker is missed in a frame")
		seed      = flag.Int64("seed", time.Now().UnixNano(), "Random seed")
		listen    = flag.String("listen", "", "Serve frames on this TCP address instead of stdout")
	)
	flag.Parse()

	if *moves != "" {
		p, err := playMoves(*moves)
		if err != nil {
			log.Fatalf("Invalid moves: %v", err)
		}
		*placement = p
	}

	snap, err := board.ParsePlacement(*placement)
	if err != nil {
		log.Fatalf("Invalid placement: %v", err)
	}
	pts, err := parseCorners(*corners)
	if err != nil {
		log.Fatalf("Invalid corners: %v", err)
	}
	grid, err := board.NewGrid(pts)
	if err != nil {
		log.Fatalf("Invalid corners: %v", err)
	}
	if *rate <= 0 {
		log.Fatalf("Rate must be positive")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var out io.Writer = os.Stdout
	if *listen != "" {
		w, err := serve(ctx, *listen)
		if err != nil {
			log.Fatal(err)
		}
		defer w.Close()
		out = w
	}

	log.Printf("Rendering %s (%d pieces)", snap.Placement(), snap.Occupied())
	gen := NewGenerator(grid, board.DefaultCatalog(), snap, *jitter, *drop, *seed)
	if err := run(ctx, gen, out, *rate, *count); err != nil {
		log.Fatalf("Simulator stopped: %v", err)
	}
}
