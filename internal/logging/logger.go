package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config 日志配置结构
type Config struct {
	Level      string `yaml:"level"`       // debug, info, warn, error
	Format     string `yaml:"format"`      // json, text
	Output     string `yaml:"output"`      // stdout, stderr, file, discard
	OutputPath string `yaml:"output_path"` // 文件输出路径
	AddSource  bool   `yaml:"add_source"`
	TimeFormat string `yaml:"time_format"`
}

// Logger 封装的结构化日志器
type Logger struct {
	*slog.Logger
	level *slog.LevelVar
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Level:      "info",
		Format:     "text",
		Output:     "stdout",
		TimeFormat: time.RFC3339,
	}
}

// NewLogger 创建新的日志器实例
func NewLogger(config *Config) (*Logger, io.Closer, error) {
	if config == nil {
		config = DefaultConfig()
	}
	w, closer, err := openOutput(config)
	if err != nil {
		return nil, nil, err
	}
	l := NewWriterLogger(w, config)
	return l, closer, nil
}

// NewWriterLogger 创建写入 w 的日志器，测试中使用
func NewWriterLogger(w io.Writer, config *Config) *Logger {
	if config == nil {
		config = DefaultConfig()
	}
	level := new(slog.LevelVar)
	level.Set(ParseLevel(config.Level))
	return &Logger{
		Logger: slog.New(createHandler(w, config, level)),
		level:  level,
	}
}

// ParseLevel 解析日志级别，未知级别按 info 处理
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func openOutput(config *Config) (io.Writer, io.Closer, error) {
	switch strings.ToLower(config.Output) {
	case "stderr":
		return os.Stderr, nopCloser{}, nil
	case "discard":
		return io.Discard, nopCloser{}, nil
	case "file":
		if config.OutputPath == "" {
			config.OutputPath = "logs/chessarm.log"
		}
		// 确保日志目录存在
		if err := os.MkdirAll(filepath.Dir(config.OutputPath), 0o755); err != nil {
			return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		f, err := os.OpenFile(config.OutputPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		return f, f, nil
	default:
		return os.Stdout, nopCloser{}, nil
	}
}

func createHandler(w io.Writer, config *Config, level slog.Leveler) slog.Handler {
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: config.AddSource,
	}
	if config.TimeFormat != "" && config.TimeFormat != time.RFC3339 {
		layout := config.TimeFormat
		opts.ReplaceAttr = func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.String(slog.TimeKey, a.Value.Time().Format(layout))
			}
			return a
		}
	}
	if strings.ToLower(config.Format) == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// With 返回带有额外字段的日志器
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...), level: l.level}
}

// WithGroup 返回带有分组的日志器
func (l *Logger) WithGroup(name string) *Logger {
	return &Logger{Logger: l.Logger.WithGroup(name), level: l.level}
}

// SetLevel 动态更新日志级别，派生的日志器一并生效
func (l *Logger) SetLevel(level string) {
	l.level.Set(ParseLevel(level))
}
