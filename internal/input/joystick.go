// Package input reads gamepad axes from the Linux joystick API
// (/dev/input/jsN) and hands the latest values to the teleop loop.
package input

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sync"

	"chessarm/internal/logging"
	"chessarm/internal/teleop"
)

// Device delivers the current axis snapshot without blocking.
type Device interface {
	Poll() (teleop.Axes, error)
	Close() error
}

// ErrClosed is returned by Poll after Close.
var ErrClosed = errors.New("input device closed")

const (
	eventSize   = 8
	eventButton = 0x01
	eventAxis   = 0x02
	eventInit   = 0x80
)

// Event is one js_event record: u32 time (ms), s16 value, u8 type, u8 number.
type Event struct {
	Time   uint32
	Value  int16
	Type   uint8
	Number uint8
}

// DecodeEvent parses one little-endian js_event.
func DecodeEvent(b []byte) (Event, error) {
	if len(b) < eventSize {
		return Event{}, fmt.Errorf("short joystick event: %d bytes", len(b))
	}
	return Event{
		Time:   binary.LittleEndian.Uint32(b[0:4]),
		Value:  int16(binary.LittleEndian.Uint16(b[4:6])),
		Type:   b[6],
		Number: b[7],
	}, nil
}

// IsAxis reports whether e moves an axis, including the initial state burst.
func (e Event) IsAxis() bool { return e.Type&^eventInit == eventAxis }

// Normalized maps the raw value onto [-1, 1].
func (e Event) Normalized() float64 {
	return math.Max(-1, math.Min(1, float64(e.Value)/32767))
}

// AxisMap holds the joystick axis numbers of the four teleop axes.
type AxisMap struct {
	LeftTrigger  int
	RightTrigger int
	LeftStick    int
	RightStick   int
}

// DefaultAxisMap matches an Xbox-style pad under the Linux xpad driver.
func DefaultAxisMap() AxisMap {
	return AxisMap{LeftTrigger: 4, RightTrigger: 5, LeftStick: 1, RightStick: 3}
}

// Joystick reads events in the background and keeps the latest axis values.
type Joystick struct {
	r      io.ReadCloser
	axes   AxisMap
	mu     sync.Mutex
	values map[int]float64
	err    error
	done   chan struct{}
	logger *logging.Logger
}

// OpenJoystick opens a joystick device node.
func OpenJoystick(path string, axes AxisMap) (*Joystick, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open joystick %s: %w", path, err)
	}
	js := NewJoystick(f, axes)
	js.logger.Info("Joystick opened", "device", path)
	return js, nil
}

// NewJoystick starts reading events from r.
func NewJoystick(r io.ReadCloser, axes AxisMap) *Joystick {
	js := &Joystick{
		r:    r,
		axes: axes,
		// released triggers rest at -1
		values: map[int]float64{axes.LeftTrigger: -1, axes.RightTrigger: -1},
		done:   make(chan struct{}),
		logger: logging.GetLogger("input"),
	}
	go js.readLoop()
	return js
}

func (js *Joystick) readLoop() {
	defer close(js.done)
	buf := make([]byte, eventSize)
	for {
		if _, err := io.ReadFull(js.r, buf); err != nil {
			js.mu.Lock()
			if js.err == nil {
				js.err = fmt.Errorf("joystick read failed: %w", err)
			}
			js.mu.Unlock()
			return
		}
		ev, _ := DecodeEvent(buf)
		if !ev.IsAxis() {
			continue
		}
		js.mu.Lock()
		js.values[int(ev.Number)] = ev.Normalized()
		js.mu.Unlock()
	}
}

// Poll returns the latest axis values, or the error that stopped the reader.
func (js *Joystick) Poll() (teleop.Axes, error) {
	js.mu.Lock()
	defer js.mu.Unlock()
	if js.err != nil {
		return teleop.Axes{}, js.err
	}
	return teleop.Axes{
		LeftTrigger:  js.values[js.axes.LeftTrigger],
		RightTrigger: js.values[js.axes.RightTrigger],
		LeftStick:    js.values[js.axes.LeftStick],
		RightStick:   js.values[js.axes.RightStick],
	}, nil
}

// Close stops the reader and releases the device.
func (js *Joystick) Close() error {
	js.mu.Lock()
	if js.err == nil {
		js.err = ErrClosed
	}
	js.mu.Unlock()
	err := js.r.Close()
	<-js.done
	return err
}
