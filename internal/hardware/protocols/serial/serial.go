// Package serial sends servo command frames as ASCII lines over a serial
// port. Two port backends are available: jacobsa/go-serial and tarm/serial.
package serial

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	jserial "github.com/jacobsa/go-serial/serial"
	tserial "github.com/tarm/serial"

	"chessarm/internal/hardware/comm"
	"chessarm/internal/servo"
)

// SerialConfig 串口配置
type SerialConfig struct {
	comm.ConnectionConfig `yaml:",inline"`

	PortName    string `yaml:"port_name"` // 如 "/dev/ttyACM0", "COM3"
	BaudRate    int    `yaml:"baud_rate"`
	DataBits    int    `yaml:"data_bits"`
	StopBits    int    `yaml:"stop_bits"`
	Parity      string `yaml:"parity"` // "N", "E", "O"
	FlowControl bool   `yaml:"flow_control"`
	Backend     string `yaml:"backend"` // "jacobsa", "tarm"
}

// Opener opens the physical port.
type Opener func(SerialConfig) (io.ReadWriteCloser, error)

var backends = map[string]Opener{
	"jacobsa": openJacobsa,
	"tarm":    openTarm,
}

// SerialClient 串口客户端
type SerialClient struct {
	*comm.BaseCommunication
	config SerialConfig
	open   Opener
	port   io.ReadWriteCloser
	mu     sync.Mutex
}

// NewSerialClient 创建串口客户端
func NewSerialClient(config SerialConfig) (*SerialClient, error) {
	if config.Backend == "" {
		config.Backend = "jacobsa"
	}
	open, ok := backends[strings.ToLower(config.Backend)]
	if !ok {
		return nil, fmt.Errorf("unknown serial backend %q", config.Backend)
	}
	return NewSerialClientWithOpener(config, open), nil
}

// NewSerialClientWithOpener 使用自定义打开函数，测试中替换物理串口
func NewSerialClientWithOpener(config SerialConfig, open Opener) *SerialClient {
	if config.BaudRate <= 0 {
		config.BaudRate = 115200
	}
	if config.DataBits <= 0 {
		config.DataBits = 8
	}
	if config.StopBits <= 0 {
		config.StopBits = 1
	}
	return &SerialClient{
		BaseCommunication: comm.NewBaseCommunication("serial:"+config.PortName, config.ConnectionConfig),
		config:            config,
		open:              open,
	}
}

func (sc *SerialClient) Name() string { return "serial:" + sc.config.PortName }

// Connect 打开串口
func (sc *SerialClient) Connect(ctx context.Context) error {
	sc.SetStatus(comm.StatusConnecting)

	var port io.ReadWriteCloser
	err := sc.RetryWithTimeout(ctx, func() error {
		var err error
		port, err = sc.open(sc.config)
		return err
	})
	if err != nil {
		return sc.HandleWithError(fmt.Errorf("failed to open serial port %s: %w", sc.config.PortName, err))
	}

	sc.mu.Lock()
	sc.port = port
	sc.mu.Unlock()

	sc.SetStatus(comm.StatusConnected)
	sc.SetLastError(nil)
	sc.EmitConnected()
	sc.Logger().Info("Serial port opened", "baud_rate", sc.config.BaudRate, "backend", sc.config.Backend)
	return nil
}

// Disconnect 关闭串口
func (sc *SerialClient) Disconnect(ctx context.Context) error {
	sc.mu.Lock()
	port := sc.port
	sc.port = nil
	sc.mu.Unlock()

	sc.SetStatus(comm.StatusDisconnected)
	if port == nil {
		return nil
	}
	err := port.Close()
	sc.EmitDisconnected()
	if err != nil {
		return fmt.Errorf("failed to close serial port: %w", err)
	}
	return nil
}

// Send 写出一帧，写失败时关闭串口等待重连
func (sc *SerialClient) Send(ctx context.Context, frame servo.CommandFrame) error {
	sc.mu.Lock()
	port := sc.port
	sc.mu.Unlock()
	if port == nil || !sc.IsConnected() {
		return comm.ErrNotConnected
	}

	data := frame.Bytes()
	if _, err := writeFull(port, data); err != nil {
		sc.mu.Lock()
		sc.port = nil
		sc.mu.Unlock()
		_ = port.Close()
		return sc.HandleWithError(fmt.Errorf("failed to write frame: %w", err))
	}

	sc.EmitFrameSent(frame)
	return nil
}

func writeFull(w io.Writer, data []byte) (int, error) {
	total := 0
	for total < len(data) {
		n, err := w.Write(data[total:])
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, io.ErrShortWrite
		}
	}
	return total, nil
}

func openJacobsa(c SerialConfig) (io.ReadWriteCloser, error) {
	opts := jserial.OpenOptions{
		PortName:          c.PortName,
		BaudRate:          uint(c.BaudRate),
		DataBits:          uint(c.DataBits),
		StopBits:          uint(c.StopBits),
		MinimumReadSize:   1,
		RTSCTSFlowControl: c.FlowControl,
	}
	switch strings.ToUpper(c.Parity) {
	case "E":
		opts.ParityMode = jserial.PARITY_EVEN
	case "O":
		opts.ParityMode = jserial.PARITY_ODD
	default:
		opts.ParityMode = jserial.PARITY_NONE
	}
	return jserial.Open(opts)
}

func openTarm(c SerialConfig) (io.ReadWriteCloser, error) {
	cfg := &tserial.Config{
		Name:        c.PortName,
		Baud:        c.BaudRate,
		ReadTimeout: c.Timeout,
		Size:        byte(c.DataBits),
		StopBits:    tserial.Stop1,
	}
	if c.StopBits == 2 {
		cfg.StopBits = tserial.Stop2
	}
	switch strings.ToUpper(c.Parity) {
	case "E":
		cfg.Parity = tserial.ParityEven
	case "O":
		cfg.Parity = tserial.ParityOdd
	default:
		cfg.Parity = tserial.ParityNone
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = time.Second
	}
	return tserial.OpenPort(cfg)
}
