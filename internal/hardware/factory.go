// Package hardware builds the servo-controller transport selected in the
// configuration.
package hardware

import (
	"fmt"

	"chessarm/internal/hardware/comm"
	"chessarm/internal/hardware/protocols/modbus"
	"chessarm/internal/hardware/protocols/serial"
	"chessarm/pkg/types"
)

// NewTransport 根据配置创建传输层；driver 为 none 时返回 nil
func NewTransport(cfg types.TransportConfig) (comm.Transport, error) {
	conn := ConnectionConfigFor(cfg)

	switch cfg.Driver {
	case "", "none":
		return nil, nil
	case "serial":
		return serial.NewSerialClient(CreateSerialConfig(cfg, conn))
	case "modbus":
		return modbus.NewModbusClient(CreateModbusConfig(cfg, conn)), nil
	default:
		return nil, fmt.Errorf("unsupported transport driver: %s", cfg.Driver)
	}
}

// ConnectionConfigFor 连接超时与重试参数
func ConnectionConfigFor(cfg types.TransportConfig) comm.ConnectionConfig {
	return comm.ConnectionConfig{
		Timeout:       cfg.Timeout,
		RetryCount:    cfg.RetryCount,
		RetryInterval: cfg.RetryInterval,
	}
}

// CreateSerialConfig 创建串口配置
func CreateSerialConfig(cfg types.TransportConfig, conn comm.ConnectionConfig) serial.SerialConfig {
	return serial.SerialConfig{
		ConnectionConfig: conn,
		PortName:         cfg.Port,
		BaudRate:         cfg.BaudRate,
		DataBits:         8,
		StopBits:         1,
		Parity:           "N",
		Backend:          cfg.Backend,
	}
}

// CreateModbusConfig 创建Modbus配置
func CreateModbusConfig(cfg types.TransportConfig, conn comm.ConnectionConfig) modbus.ModbusConfig {
	return modbus.ModbusConfig{
		ConnectionConfig: conn,
		Address:          cfg.Port,
		BaudRate:         cfg.BaudRate,
		DataBits:         8,
		StopBits:         1,
		Parity:           "N",
		SlaveID:          cfg.SlaveID,
		StartRegister:    cfg.StartRegister,
	}
}
