// Package comm holds what every servo-controller transport shares: link
// status, event fan-out and connect retries.
package comm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"chessarm/internal/logging"
	"chessarm/internal/servo"
)

// BaseCommunication 基础通信实现
type BaseCommunication struct {
	config        ConnectionConfig
	status        ConnectionStatus
	lastError     error
	eventHandlers []EventHandler
	errorHandler  ErrorHandler
	mutex         sync.RWMutex
	logger        *logging.Logger
}

// NewBaseCommunication 创建基础通信实例
func NewBaseCommunication(name string, config ConnectionConfig) *BaseCommunication {
	return &BaseCommunication{
		config:       config,
		status:       StatusDisconnected,
		errorHandler: &DefaultErrorHandler{},
		logger:       logging.GetLogger("transport").With("transport", name),
	}
}

// Logger 返回带传输名称的日志器
func (bc *BaseCommunication) Logger() *logging.Logger {
	return bc.logger
}

// GetStatus 获取连接状态
func (bc *BaseCommunication) GetStatus() ConnectionStatus {
	bc.mutex.RLock()
	defer bc.mutex.RUnlock()
	return bc.status
}

// SetStatus 设置状态
func (bc *BaseCommunication) SetStatus(status ConnectionStatus) {
	bc.mutex.Lock()
	defer bc.mutex.Unlock()
	bc.status = status
}

// SetLastError 设置最后错误
func (bc *BaseCommunication) SetLastError(err error) {
	bc.mutex.Lock()
	defer bc.mutex.Unlock()
	bc.lastError = err
}

// GetLastError 获取最后错误
func (bc *BaseCommunication) GetLastError() error {
	bc.mutex.RLock()
	defer bc.mutex.RUnlock()
	return bc.lastError
}

// IsConnected 检查是否连接
func (bc *BaseCommunication) IsConnected() bool {
	return bc.GetStatus() == StatusConnected
}

// AddEventHandler 添加事件处理器
func (bc *BaseCommunication) AddEventHandler(handler EventHandler) {
	bc.mutex.Lock()
	defer bc.mutex.Unlock()
	bc.eventHandlers = append(bc.eventHandlers, handler)
}

// SetErrorHandler 设置错误处理器
func (bc *BaseCommunication) SetErrorHandler(handler ErrorHandler) {
	bc.mutex.Lock()
	defer bc.mutex.Unlock()
	bc.errorHandler = handler
}

// emitEvent 触发事件，处理器 panic 只记录日志
func (bc *BaseCommunication) emitEvent(callback func(EventHandler)) {
	bc.mutex.RLock()
	handlers := make([]EventHandler, len(bc.eventHandlers))
	copy(handlers, bc.eventHandlers)
	bc.mutex.RUnlock()

	for _, handler := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					bc.logger.Error("Event handler panic", "panic", r)
				}
			}()
			callback(handler)
		}()
	}
}

func (bc *BaseCommunication) EmitConnected() {
	bc.emitEvent(func(h EventHandler) { h.OnConnected() })
}

func (bc *BaseCommunication) EmitDisconnected() {
	bc.emitEvent(func(h EventHandler) { h.OnDisconnected() })
}

func (bc *BaseCommunication) EmitError(err error) {
	bc.emitEvent(func(h EventHandler) { h.OnError(err) })
}

func (bc *BaseCommunication) EmitFrameSent(frame servo.CommandFrame) {
	bc.emitEvent(func(h EventHandler) { h.OnFrameSent(frame) })
}

// HandleWithError 记录错误、标记链路故障并通知处理器
func (bc *BaseCommunication) HandleWithError(err error) error {
	bc.SetLastError(err)
	bc.SetStatus(StatusError)

	bc.mutex.RLock()
	handler := bc.errorHandler
	bc.mutex.RUnlock()
	if handler != nil {
		err = handler.HandleError(err)
	}

	bc.EmitError(err)
	return err
}

// RetryWithTimeout 带超时的重试机制
func (bc *BaseCommunication) RetryWithTimeout(ctx context.Context, operation func() error) error {
	var lastErr error

	for i := 0; i <= bc.config.RetryCount; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := operation()
		if err == nil {
			return nil
		}
		lastErr = err

		if bc.errorHandler != nil && !bc.errorHandler.ShouldRetry(err) {
			return err
		}
		if i == bc.config.RetryCount {
			break
		}

		delay := bc.config.RetryInterval
		if bc.errorHandler != nil {
			if d := bc.errorHandler.GetRetryDelay(err); d > 0 {
				delay = d
			}
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}

		bc.logger.Warn("Retry after error", "attempt", i+1, "max_attempts", bc.config.RetryCount, "error", err)
	}

	return fmt.Errorf("operation failed after %d retries, last error: %w", bc.config.RetryCount, lastErr)
}

// DefaultErrorHandler 默认错误处理器：网络和超时错误可重试
type DefaultErrorHandler struct{}

func (de *DefaultErrorHandler) HandleError(err error) error {
	return err
}

func (de *DefaultErrorHandler) ShouldRetry(err error) bool {
	return isNetworkError(err) || isTimeoutError(err)
}

func (de *DefaultErrorHandler) GetRetryDelay(err error) time.Duration {
	return 0
}

func isNetworkError(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr)
}

func isTimeoutError(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
