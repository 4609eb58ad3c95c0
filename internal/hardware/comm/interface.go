package comm

import (
	"context"
	"errors"
	"time"

	"chessarm/internal/servo"
)

// ErrNotConnected is returned by Send while the link is down.
var ErrNotConnected = errors.New("transport not connected")

// ConnectionStatus 表示连接状态
type ConnectionStatus int

const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusError
)

func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// ConnectionConfig 基础连接配置
type ConnectionConfig struct {
	Timeout       time.Duration `yaml:"timeout"`
	RetryCount    int           `yaml:"retry_count"`
	RetryInterval time.Duration `yaml:"retry_interval"`
}

// Transport 下位机通信接口：只发送指令帧，不等待应答
type Transport interface {
	Name() string

	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error

	GetStatus() ConnectionStatus
	GetLastError() error
	IsConnected() bool

	Send(ctx context.Context, frame servo.CommandFrame) error

	AddEventHandler(handler EventHandler)
}

// ErrorHandler 错误处理接口
type ErrorHandler interface {
	HandleError(err error) error
	ShouldRetry(err error) bool
	GetRetryDelay(err error) time.Duration
}

// EventHandler 事件处理接口
type EventHandler interface {
	OnConnected()
	OnDisconnected()
	OnError(err error)
	OnFrameSent(frame servo.CommandFrame)
}
