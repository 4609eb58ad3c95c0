// Package vision reads marker detections produced by the camera pipeline.
// Each frame is one JSON line:
//
//	{"markers":[{"id":3,"corners":[[x,y],[x,y],[x,y],[x,y]]}]}
//
// Corners are undistorted pixel coordinates.
package vision

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang/geo/r2"

	"chessarm/internal/board"
	"chessarm/internal/logging"
)

// Frame is one set of detections.
type Frame struct {
	Seq     uint64
	At      time.Time
	Markers []board.Observation
}

type wireMarker struct {
	ID      int          `json:"id"`
	Corners [][2]float64 `json:"corners"`
}

type wireFrame struct {
	Markers []wireMarker `json:"markers"`
}

// DecodeFrame parses one JSON line.
func DecodeFrame(line []byte) ([]board.Observation, error) {
	var wf wireFrame
	if err := json.Unmarshal(line, &wf); err != nil {
		return nil, fmt.Errorf("failed to decode frame: %w", err)
	}
	obs := make([]board.Observation, 0, len(wf.Markers))
	for _, m := range wf.Markers {
		if len(m.Corners) != 4 {
			return nil, fmt.Errorf("marker %d has %d corners, want 4", m.ID, len(m.Corners))
		}
		o := board.Observation{ID: m.ID}
		for i, c := range m.Corners {
			o.Corners[i] = r2.Point{X: c[0], Y: c[1]}
		}
		obs = append(obs, o)
	}
	return obs, nil
}

// EncodeFrame is the inverse of DecodeFrame, without the trailing newline.
func EncodeFrame(obs []board.Observation) ([]byte, error) {
	wf := wireFrame{Markers: make([]wireMarker, 0, len(obs))}
	for _, o := range obs {
		m := wireMarker{ID: o.ID, Corners: make([][2]float64, 4)}
		for i, c := range o.Corners {
			m.Corners[i] = [2]float64{c.X, c.Y}
		}
		wf.Markers = append(wf.Markers, m)
	}
	return json.Marshal(wf)
}

// Source keeps the most recent frame read from a stream.
type Source struct {
	name     string
	r        io.ReadCloser
	mu       sync.Mutex
	latest   Frame
	consumed uint64
	bad      uint64
	err      error
	done     chan struct{}
	logger   *logging.Logger
}

// Open connects to a frame stream: "-" is stdin, tcp://host:port dials a
// TCP server, anything else is a file path.
func Open(ctx context.Context, src string) (*Source, error) {
	switch {
	case src == "-":
		return NewSource("stdin", io.NopCloser(os.Stdin)), nil
	case strings.HasPrefix(src, "tcp://"):
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", strings.TrimPrefix(src, "tcp://"))
		if err != nil {
			return nil, fmt.Errorf("failed to connect vision source: %w", err)
		}
		return NewSource(src, conn), nil
	default:
		f, err := os.Open(src)
		if err != nil {
			return nil, fmt.Errorf("failed to open vision source: %w", err)
		}
		return NewSource(src, f), nil
	}
}

// NewSource starts reading frames from r.
func NewSource(name string, r io.ReadCloser) *Source {
	s := &Source{
		name:   name,
		r:      r,
		done:   make(chan struct{}),
		logger: logging.GetLogger("vision").With("source", name),
	}
	go s.readLoop()
	return s
}

func (s *Source) readLoop() {
	defer close(s.done)
	sc := bufio.NewScanner(s.r)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	var seq uint64
	for sc.Scan() {
		line := sc.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		obs, err := DecodeFrame(line)
		if err != nil {
			s.mu.Lock()
			s.bad++
			s.mu.Unlock()
			s.logger.Warn("Skipping malformed frame", "error", err)
			continue
		}
		seq++
		s.mu.Lock()
		s.latest = Frame{Seq: seq, At: time.Now(), Markers: obs}
		s.mu.Unlock()
	}
	err := sc.Err()
	if err == nil {
		err = io.EOF
	}
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
}

// Latest returns the newest frame if it has not been returned before.
func (s *Source) Latest() (Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latest.Seq == 0 || s.latest.Seq == s.consumed {
		return Frame{}, false
	}
	s.consumed = s.latest.Seq
	return s.latest, true
}

// Err reports why the stream stopped: io.EOF at the end of a file, nil
// while it is still being read.
func (s *Source) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Malformed returns the number of lines that failed to decode.
func (s *Source) Malformed() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bad
}

// Done is closed when the reader stops.
func (s *Source) Done() <-chan struct{} { return s.done }

// Close stops reading. Stdin cannot be interrupted; its reader exits with
// the process.
func (s *Source) Close() error {
	s.mu.Lock()
	if s.err == nil {
		s.err = errors.New("vision source closed")
	}
	s.mu.Unlock()
	return s.r.Close()
}
