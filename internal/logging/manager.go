package logging

import (
	"fmt"
	"io"
	"sync"
)

var (
	// 全局日志管理器实例
	defaultManager *Manager
	managerMu      sync.Mutex
)

// Manager 日志管理器，按模块名缓存日志器
type Manager struct {
	mu      sync.RWMutex
	root    *Logger
	closer  io.Closer
	loggers map[string]*Logger
}

// NewManager 创建新的日志管理器
func NewManager(config *Config) (*Manager, error) {
	root, closer, err := NewLogger(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create default logger: %w", err)
	}
	return newManager(root, closer), nil
}

func newManager(root *Logger, closer io.Closer) *Manager {
	return &Manager{
		root:    root,
		closer:  closer,
		loggers: map[string]*Logger{"default": root},
	}
}

// GetManager 获取全局日志管理器实例
func GetManager() *Manager {
	managerMu.Lock()
	defer managerMu.Unlock()
	if defaultManager == nil {
		defaultManager, _ = NewManager(DefaultConfig())
	}
	return defaultManager
}

// Configure 用新配置替换全局管理器。之前取得的日志器不受影响。
func Configure(config *Config) error {
	m, err := NewManager(config)
	if err != nil {
		return err
	}
	managerMu.Lock()
	old := defaultManager
	defaultManager = m
	managerMu.Unlock()
	if old != nil {
		return old.Close()
	}
	return nil
}

// UseLogger 以现有日志器作为全局根日志器
func UseLogger(l *Logger) {
	managerMu.Lock()
	defaultManager = newManager(l, nopCloser{})
	managerMu.Unlock()
}

// GetLogger 获取指定名称的日志器
func (m *Manager) GetLogger(name string) *Logger {
	m.mu.RLock()
	logger, ok := m.loggers[name]
	m.mu.RUnlock()
	if ok {
		return logger
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if logger, ok := m.loggers[name]; ok {
		return logger
	}
	logger = m.root.With("module", name)
	m.loggers[name] = logger
	return logger
}

// SetLevel 更新所有日志器的级别
func (m *Manager) SetLevel(level string) {
	m.root.SetLevel(level)
}

// Close 关闭文件输出
func (m *Manager) Close() error {
	return m.closer.Close()
}

// GetLogger 使用全局管理器获取日志器
func GetLogger(name string) *Logger {
	return GetManager().GetLogger(name)
}

// Default 获取默认日志器
func Default() *Logger {
	return GetLogger("default")
}

func Debug(msg string, args ...any) { Default().Debug(msg, args...) }

func Info(msg string, args ...any) { Default().Info(msg, args...) }

func Warn(msg string, args ...any) { Default().Warn(msg, args...) }

func Error(msg string, args ...any) { Default().Error(msg, args...) }
