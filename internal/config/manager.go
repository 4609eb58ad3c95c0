// Package config loads the YAML system configuration, fills defaults and
// validates it before any subsystem starts.
package config

import (
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/golang/geo/r2"
	"gopkg.in/yaml.v3"

	"chessarm/internal/board"
	"chessarm/internal/kinematics"
	"chessarm/internal/logging"
	"chessarm/internal/servo"
	"chessarm/internal/teleop"
	"chessarm/pkg/types"
)

type ConfigManager struct {
	config     types.SystemConfig
	configPath string
	configLock sync.RWMutex
	logger     *logging.Logger
}

func NewConfigManager(configPath string) *ConfigManager {
	return &ConfigManager{
		configPath: configPath,
		logger:     logging.GetLogger("config_manager"),
	}
}

func (cm *ConfigManager) LoadConfig(path string) error {
	if path != "" {
		cm.configPath = path
	}

	cm.configLock.Lock()
	defer cm.configLock.Unlock()

	data, err := os.ReadFile(cm.configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	config.Board.Markers = nil
	if err := yaml.Unmarshal(data, &config); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cm.loadCalibration(&config); err != nil {
		return err
	}

	if err := validateConfig(&config); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	cm.config = config
	cm.logger.Info("Configuration loaded", "config_path", cm.configPath)
	return nil
}

// loadCalibration 从单独的标定文件读取棋盘角点，路径相对于配置文件
func (cm *ConfigManager) loadCalibration(config *types.SystemConfig) error {
	path := config.Board.CalibrationFile
	if path == "" {
		return nil
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(filepath.Dir(cm.configPath), path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read calibration file: %w", err)
	}
	var cal types.CalibrationFile
	if err := yaml.Unmarshal(data, &cal); err != nil {
		return fmt.Errorf("failed to parse calibration file: %w", err)
	}
	config.Board.Corners = cal.Corners
	cm.logger.Info("Board calibration loaded", "path", path, "corners", len(cal.Corners))
	return nil
}

func (cm *ConfigManager) GetConfig() types.SystemConfig {
	cm.configLock.RLock()
	defer cm.configLock.RUnlock()
	return cm.config
}

func (cm *ConfigManager) GetConfigPath() string {
	return cm.configPath
}

// SetConfig 校验并写回配置文件
func (cm *ConfigManager) SetConfig(config types.SystemConfig) error {
	cm.configLock.Lock()
	defer cm.configLock.Unlock()

	if err := validateConfig(&config); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(cm.configPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	cm.config = config
	cm.logger.Info("Configuration saved", "config_path", cm.configPath)
	return nil
}

func (cm *ConfigManager) CreateDefaultConfig() error {
	return cm.SetConfig(DefaultConfig())
}

// DefaultConfig 返回桌面样机的默认配置：三舵机、无腕关节、50 Hz
func DefaultConfig() types.SystemConfig {
	return types.SystemConfig{
		LoopInterval:   20 * time.Millisecond,
		StatusInterval: 10 * time.Second,
		Arm: types.ArmConfig{
			Links: kinematics.Links{Upper: 161.3, Fore: 112.4},
			Servos: servo.Config{
				Order: []kinematics.JointName{kinematics.Base, kinematics.Shoulder, kinematics.Elbow},
				Limits: map[kinematics.JointName]servo.Limit{
					kinematics.Base:     {Min: 0, Max: 180, Zero: 90, Direction: 1, Home: 90},
					kinematics.Shoulder: {Min: 15, Max: 165, Zero: 180, Direction: -1, Home: 90},
					kinematics.Elbow:    {Min: 0, Max: 180, Zero: 0, Direction: 1, Home: 90},
				},
			},
			FrameMode: types.FrameAbsolute,
		},
		Teleop: teleop.DefaultConfig(),
		Input: types.InputConfig{
			LeftTrigger:  4,
			RightTrigger: 5,
			LeftStick:    1,
			RightStick:   3,
		},
		Transport: types.TransportConfig{
			Driver:            "serial",
			Port:              "/dev/ttyACM0",
			Backend:           "jacobsa",
			BaudRate:          115200,
			SlaveID:           1,
			Timeout:           time.Second,
			ReconnectInterval: 2 * time.Second,
		},
		Vision: types.VisionConfig{
			Source:    "-",
			FrameRate: 10,
		},
		Board: types.BoardConfig{
			Markers: maps.Clone(board.DefaultMarkers),
		},
		Sinks: types.SinksConfig{
			Redis:  types.RedisConfig{Addr: "127.0.0.1:6379", Prefix: "chessarm"},
			SQLite: types.SQLiteConfig{Path: "data/chessarm.db"},
		},
		IPC: types.IPCConfig{
			Address:    "127.0.0.1",
			Port:       7878,
			Timeout:    5 * time.Second,
			BufferSize: 64,
		},
		Logging: *logging.DefaultConfig(),
	}
}

var knownDrivers = map[string]bool{"serial": true, "modbus": true, "none": true}

func validateConfig(config *types.SystemConfig) error {
	if config.LoopInterval <= 0 {
		config.LoopInterval = 20 * time.Millisecond
	}
	if config.StatusInterval <= 0 {
		config.StatusInterval = 10 * time.Second
	}
	if config.Arm.FrameMode == "" {
		config.Arm.FrameMode = types.FrameAbsolute
	}
	if config.Transport.ReconnectInterval <= 0 {
		config.Transport.ReconnectInterval = 2 * time.Second
	}
	if config.Transport.Timeout <= 0 {
		config.Transport.Timeout = time.Second
	}
	if config.Transport.RetryCount < 0 {
		return fmt.Errorf("transport: retry_count must not be negative")
	}
	if config.Transport.RetryCount > 0 && config.Transport.RetryInterval <= 0 {
		config.Transport.RetryInterval = 200 * time.Millisecond
	}
	if config.Transport.BaudRate <= 0 {
		config.Transport.BaudRate = 115200
	}
	if config.Vision.FrameRate <= 0 {
		config.Vision.FrameRate = 10
	}
	if len(config.Board.Markers) == 0 {
		config.Board.Markers = maps.Clone(board.DefaultMarkers)
	}
	if config.Sinks.Redis.Prefix == "" {
		config.Sinks.Redis.Prefix = "chessarm"
	}
	if config.IPC.Timeout <= 0 {
		config.IPC.Timeout = 5 * time.Second
	}
	if config.IPC.BufferSize <= 0 {
		config.IPC.BufferSize = 64
	}

	if _, err := kinematics.NewSolver(config.Arm.Links, config.Arm.Servos.Mapping()); err != nil {
		return fmt.Errorf("arm: %w", err)
	}
	if err := config.Arm.Servos.Validate(); err != nil {
		return fmt.Errorf("arm servos: %w", err)
	}
	switch config.Arm.FrameMode {
	case types.FrameAbsolute, types.FrameDelta:
	default:
		return fmt.Errorf("arm: unknown frame mode %q", config.Arm.FrameMode)
	}
	if _, err := teleop.NewIntegrator(config.Teleop); err != nil {
		return fmt.Errorf("teleop: %w", err)
	}

	config.Transport.Driver = strings.ToLower(config.Transport.Driver)
	if config.Transport.Driver == "" {
		config.Transport.Driver = "none"
	}
	if !knownDrivers[config.Transport.Driver] {
		return fmt.Errorf("transport: unknown driver %q", config.Transport.Driver)
	}
	if config.Transport.Driver != "none" && config.Transport.Port == "" {
		return fmt.Errorf("transport: %s driver needs a port", config.Transport.Driver)
	}

	if _, err := board.NewCatalog(config.Board.Markers); err != nil {
		return fmt.Errorf("board markers: %w", err)
	}
	if config.Vision.Enabled {
		if _, err := Corners(config.Board); err != nil {
			return fmt.Errorf("board: %w", err)
		}
		if config.Vision.Source == "" {
			return fmt.Errorf("vision: source must be set when vision is enabled")
		}
	}
	if config.Sinks.SQLite.Enabled && config.Sinks.SQLite.Path == "" {
		return fmt.Errorf("sinks: sqlite path must be set")
	}
	if config.Sinks.Redis.Enabled && config.Sinks.Redis.Addr == "" {
		return fmt.Errorf("sinks: redis addr must be set")
	}
	if config.IPC.Enabled && (config.IPC.Port < 0 || config.IPC.Port > 65535) {
		return fmt.Errorf("ipc: invalid port %d", config.IPC.Port)
	}
	return nil
}

// Corners converts the configured board corners into pixel points.
func Corners(cfg types.BoardConfig) ([]r2.Point, error) {
	pts := make([]r2.Point, len(cfg.Corners))
	for i, c := range cfg.Corners {
		pts[i] = r2.Point{X: c[0], Y: c[1]}
	}
	if _, err := board.NewCorners(pts); err != nil {
		return nil, err
	}
	return pts, nil
}
