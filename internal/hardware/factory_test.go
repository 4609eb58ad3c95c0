package hardware

import (
	"context"
	"fmt"
	"io"
	"os"
	"testing"
	"time"

	"chessarm/internal/hardware/protocols/serial"
	"chessarm/pkg/types"
)

func TestNewTransport(t *testing.T) {
	tr, err := NewTransport(types.TransportConfig{Driver: "none"})
	if err != nil || tr != nil {
		t.Errorf("none driver = %v, %v", tr, err)
	}

	tr, err = NewTransport(types.TransportConfig{Driver: "serial", Port: "/dev/ttyACM0", BaudRate: 115200, Backend: "tarm"})
	if err != nil {
		t.Fatal(err)
	}
	if tr.Name() != "serial:/dev/ttyACM0" || tr.IsConnected() {
		t.Errorf("serial transport = %s, connected = %v", tr.Name(), tr.IsConnected())
	}

	tr, err = NewTransport(types.TransportConfig{Driver: "modbus", Port: "tcp://127.0.0.1:502"})
	if err != nil || tr.Name() != "modbus:tcp://127.0.0.1:502" {
		t.Errorf("modbus transport = %v, %v", tr, err)
	}

	if _, err := NewTransport(types.TransportConfig{Driver: "canbus"}); err == nil {
		t.Error("unknown driver accepted")
	}
	if _, err := NewTransport(types.TransportConfig{Driver: "serial", Backend: "usb"}); err == nil {
		t.Error("unknown backend accepted")
	}
}

type nopPort struct{}

func (nopPort) Read(p []byte) (int, error)  { return 0, io.EOF }
func (nopPort) Write(p []byte) (int, error) { return len(p), nil }
func (nopPort) Close() error                { return nil }

func TestRetrySettingsReachTransport(t *testing.T) {
	cfg := types.TransportConfig{
		Driver:        "serial",
		Port:          "/dev/ttyACM0",
		Timeout:       time.Second,
		RetryCount:    2,
		RetryInterval: time.Millisecond,
	}
	conn := ConnectionConfigFor(cfg)
	if conn.RetryCount != 2 || conn.RetryInterval != time.Millisecond || conn.Timeout != time.Second {
		t.Fatalf("connection config = %+v", conn)
	}

	attempts := 0
	sc := serial.NewSerialClientWithOpener(CreateSerialConfig(cfg, conn), func(serial.SerialConfig) (io.ReadWriteCloser, error) {
		attempts++
		if attempts < 3 {
			return nil, fmt.Errorf("open: %w", os.ErrDeadlineExceeded)
		}
		return nopPort{}, nil
	})
	if err := sc.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}
