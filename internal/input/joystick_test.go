package input

import (
	"encoding/binary"
	"errors"
	"io"
	"testing"
	"time"
)

func encode(ev Event) []byte {
	b := make([]byte, eventSize)
	binary.LittleEndian.PutUint32(b[0:4], ev.Time)
	binary.LittleEndian.PutUint16(b[4:6], uint16(ev.Value))
	b[6] = ev.Type
	b[7] = ev.Number
	return b
}

func TestDecodeEvent(t *testing.T) {
	raw := []byte{0x10, 0x27, 0x00, 0x00, 0x01, 0x80, 0x82, 0x03}
	ev, err := DecodeEvent(raw)
	if err != nil {
		t.Fatal(err)
	}
	if ev.Time != 10000 || ev.Value != -32767 || ev.Number != 3 || !ev.IsAxis() {
		t.Errorf("event = %+v", ev)
	}
	if ev.Normalized() != -1 {
		t.Errorf("Normalized = %v", ev.Normalized())
	}
	if (Event{Type: eventButton}).IsAxis() {
		t.Error("button reported as axis")
	}
	if _, err := DecodeEvent(raw[:5]); err == nil {
		t.Error("short event accepted")
	}
}

func TestJoystickPoll(t *testing.T) {
	pr, pw := io.Pipe()
	js := NewJoystick(pr, DefaultAxisMap())

	axes, err := js.Poll()
	if err != nil || axes.LeftTrigger != -1 || axes.RightTrigger != -1 || axes.LeftStick != 0 {
		t.Fatalf("initial axes = %+v, %v", axes, err)
	}

	for _, ev := range []Event{
		{Type: eventAxis | eventInit, Number: 1, Value: 0},
		{Type: eventAxis, Number: 1, Value: 32767},
		{Type: eventButton, Number: 1, Value: 1},
		{Type: eventAxis, Number: 5, Value: 0},
	} {
		if _, err := pw.Write(encode(ev)); err != nil {
			t.Fatal(err)
		}
	}

	// io.Pipe hands each write to the reader synchronously, but the value
	// is stored after the read returns.
	deadline := time.Now().Add(2 * time.Second)
	for {
		axes, _ = js.Poll()
		if axes.RightTrigger == 0 || time.Now().After(deadline) {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if axes.LeftStick != 1 || axes.RightTrigger != 0 || axes.LeftTrigger != -1 {
		t.Errorf("axes = %+v", axes)
	}

	pw.CloseWithError(errors.New("unplugged"))
	deadline = time.Now().Add(2 * time.Second)
	for {
		if _, err = js.Poll(); err != nil || time.Now().After(deadline) {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if err == nil {
		t.Fatal("Poll did not report the read failure")
	}
	_ = js.Close()
}

func TestCloseStopsReader(t *testing.T) {
	pr, _ := io.Pipe()
	js := NewJoystick(pr, DefaultAxisMap())
	if err := js.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := js.Poll(); !errors.Is(err, ErrClosed) {
		t.Errorf("Poll after Close = %v", err)
	}
}
