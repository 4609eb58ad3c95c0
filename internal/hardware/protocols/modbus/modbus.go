// Package modbus writes servo command frames to a Modbus slave, one signed
// centi-degree holding register per joint.
package modbus

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/goburrow/modbus"

	"chessarm/internal/hardware/comm"
	"chessarm/internal/servo"
)

// ModbusConfig Modbus配置
type ModbusConfig struct {
	comm.ConnectionConfig `yaml:",inline"`

	// Address is a serial device for RTU or tcp://host:port for TCP.
	Address       string `yaml:"address"`
	BaudRate      int    `yaml:"baud_rate"`
	DataBits      int    `yaml:"data_bits"`
	StopBits      int    `yaml:"stop_bits"`
	Parity        string `yaml:"parity"`
	SlaveID       byte   `yaml:"slave_id"`
	StartRegister uint16 `yaml:"start_register"`
}

type connector interface {
	Connect() error
	Close() error
}

// Dialer builds the Modbus client and its underlying connection.
type Dialer func(ModbusConfig) (modbus.Client, connector, error)

// ModbusClient Modbus客户端实现
type ModbusClient struct {
	*comm.BaseCommunication
	config  ModbusConfig
	dial    Dialer
	mu      sync.Mutex
	client  modbus.Client
	handler connector
}

// NewModbusClient 创建Modbus客户端
func NewModbusClient(config ModbusConfig) *ModbusClient {
	return NewModbusClientWithDialer(config, dialHandler)
}

// NewModbusClientWithDialer 使用自定义连接函数
func NewModbusClientWithDialer(config ModbusConfig, dial Dialer) *ModbusClient {
	if config.SlaveID == 0 {
		config.SlaveID = 1
	}
	if config.Timeout <= 0 {
		config.Timeout = time.Second
	}
	return &ModbusClient{
		BaseCommunication: comm.NewBaseCommunication("modbus:"+config.Address, config.ConnectionConfig),
		config:            config,
		dial:              dial,
	}
}

func (mc *ModbusClient) Name() string { return "modbus:" + mc.config.Address }

// Connect 连接到Modbus设备
func (mc *ModbusClient) Connect(ctx context.Context) error {
	mc.SetStatus(comm.StatusConnecting)

	var (
		client  modbus.Client
		handler connector
	)
	err := mc.RetryWithTimeout(ctx, func() error {
		var err error
		client, handler, err = mc.dial(mc.config)
		return err
	})
	if err != nil {
		return mc.HandleWithError(fmt.Errorf("failed to connect Modbus %s: %w", mc.config.Address, err))
	}

	// 重连时先关闭旧连接
	mc.mu.Lock()
	old := mc.handler
	mc.client, mc.handler = client, handler
	mc.mu.Unlock()
	if old != nil {
		if err := old.Close(); err != nil {
			mc.Logger().Warn("Failed to close previous Modbus connection", "error", err)
		}
	}

	mc.SetStatus(comm.StatusConnected)
	mc.SetLastError(nil)
	mc.EmitConnected()
	mc.Logger().Info("Modbus connected", "slave_id", mc.config.SlaveID, "start_register", mc.config.StartRegister)
	return nil
}

// Disconnect 断开连接
func (mc *ModbusClient) Disconnect(ctx context.Context) error {
	mc.mu.Lock()
	handler := mc.handler
	mc.client, mc.handler = nil, nil
	mc.mu.Unlock()

	mc.SetStatus(comm.StatusDisconnected)
	if handler == nil {
		return nil
	}
	mc.EmitDisconnected()
	if err := handler.Close(); err != nil {
		return fmt.Errorf("failed to close Modbus connection: %w", err)
	}
	return nil
}

// Send 把一帧写入连续的保持寄存器，写失败时关闭连接等待重连
func (mc *ModbusClient) Send(ctx context.Context, frame servo.CommandFrame) error {
	mc.mu.Lock()
	client := mc.client
	mc.mu.Unlock()
	if client == nil || !mc.IsConnected() {
		return comm.ErrNotConnected
	}

	values, err := EncodeRegisters(frame)
	if err != nil {
		return err
	}
	quantity := uint16(len(values) / 2)
	if _, err := client.WriteMultipleRegisters(mc.config.StartRegister, quantity, values); err != nil {
		mc.mu.Lock()
		handler := mc.handler
		if mc.client == client {
			mc.client, mc.handler = nil, nil
		} else {
			handler = nil
		}
		mc.mu.Unlock()
		if handler != nil {
			_ = handler.Close()
		}
		return mc.HandleWithError(fmt.Errorf("failed to write registers: %w", err))
	}

	mc.EmitFrameSent(frame)
	return nil
}

// EncodeRegisters 把角度编码为有符号百分之一度，大端
func EncodeRegisters(frame servo.CommandFrame) ([]byte, error) {
	vals := frame.Values()
	out := make([]byte, 0, len(vals)*2)
	for i, v := range vals {
		c := math.Round(v * 100)
		if c < math.MinInt16 || c > math.MaxInt16 {
			return nil, fmt.Errorf("field %d: %.2f does not fit a register", i, v)
		}
		r := uint16(int16(c))
		out = append(out, byte(r>>8), byte(r))
	}
	return out, nil
}

// DecodeRegisters 是 EncodeRegisters 的逆过程
func DecodeRegisters(data []byte) []float64 {
	out := make([]float64, len(data)/2)
	for i := range out {
		r := uint16(data[2*i])<<8 | uint16(data[2*i+1])
		out[i] = float64(int16(r)) / 100
	}
	return out
}

func dialHandler(c ModbusConfig) (modbus.Client, connector, error) {
	if addr, ok := strings.CutPrefix(c.Address, "tcp://"); ok {
		h := modbus.NewTCPClientHandler(addr)
		h.Timeout = c.Timeout
		h.SlaveId = c.SlaveID
		if err := h.Connect(); err != nil {
			return nil, nil, fmt.Errorf("failed to connect TCP Modbus: %w", err)
		}
		return modbus.NewClient(h), h, nil
	}

	h := modbus.NewRTUClientHandler(c.Address)
	h.BaudRate = c.BaudRate
	h.DataBits = c.DataBits
	h.StopBits = c.StopBits
	h.Parity = c.Parity
	h.SlaveId = c.SlaveID
	h.Timeout = c.Timeout
	if h.BaudRate <= 0 {
		h.BaudRate = 115200
	}
	if h.DataBits <= 0 {
		h.DataBits = 8
	}
	if h.StopBits <= 0 {
		h.StopBits = 1
	}
	if h.Parity == "" {
		h.Parity = "N"
	}
	if err := h.Connect(); err != nil {
		return nil, nil, fmt.Errorf("failed to connect RTU Modbus: %w", err)
	}
	return modbus.NewClient(h), h, nil
}
