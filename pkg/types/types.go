// Package types holds the configuration model shared by the control
// binary, the config manager and the simulator.
package types

import (
	"time"

	"chessarm/internal/kinematics"
	"chessarm/internal/logging"
	"chessarm/internal/servo"
	"chessarm/internal/teleop"
)

// FrameMode selects what the arm sends each tick.
type FrameMode string

const (
	FrameAbsolute FrameMode = "absolute" // current joint angles
	FrameDelta    FrameMode = "delta"    // this tick's joint deltas
)

// SystemConfig 系统配置
type SystemConfig struct {
	LoopInterval   time.Duration   `yaml:"loop_interval"`
	StatusInterval time.Duration   `yaml:"status_interval"`
	Arm            ArmConfig       `yaml:"arm"`
	Teleop         teleop.Config   `yaml:"teleop"`
	Input          InputConfig     `yaml:"input"`
	Transport      TransportConfig `yaml:"transport"`
	Vision         VisionConfig    `yaml:"vision"`
	Board          BoardConfig     `yaml:"board"`
	Sinks          SinksConfig     `yaml:"sinks"`
	IPC            IPCConfig       `yaml:"ipc"`
	Logging        logging.Config  `yaml:"logging"`
}

// ArmConfig 机械臂几何与舵机配置
type ArmConfig struct {
	Links     kinematics.Links `yaml:"links"`
	Servos    servo.Config     `yaml:"servos"`
	FrameMode FrameMode        `yaml:"frame_mode"`
}

// InputConfig describes the gamepad. An empty device disables teleop.
type InputConfig struct {
	Device       string `yaml:"device"` // e.g. /dev/input/js0
	LeftTrigger  int    `yaml:"left_trigger"`
	RightTrigger int    `yaml:"right_trigger"`
	LeftStick    int    `yaml:"left_stick"`
	RightStick   int    `yaml:"right_stick"`
}

// TransportConfig 下位机连接配置
type TransportConfig struct {
	Driver            string        `yaml:"driver"` // serial, modbus, none
	Port              string        `yaml:"port"`
	Backend           string        `yaml:"backend"` // jacobsa, tarm
	BaudRate          int           `yaml:"baud_rate"`
	SlaveID           byte          `yaml:"slave_id"`
	StartRegister     uint16        `yaml:"start_register"`
	Timeout           time.Duration `yaml:"timeout"`
	RetryCount        int           `yaml:"retry_count"`    // extra attempts per Connect
	RetryInterval     time.Duration `yaml:"retry_interval"` // delay between attempts
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
}

// VisionConfig selects where marker frames come from.
type VisionConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Source    string `yaml:"source"` // "-" for stdin, a file path, or tcp://host:port
	FrameRate int    `yaml:"frame_rate"`
}

// BoardConfig 棋盘标定与棋子编码
type BoardConfig struct {
	Corners         [][2]float64   `yaml:"corners"` // TL, TR, BR, BL in pixels
	CalibrationFile string         `yaml:"calibration_file"`
	Markers         map[int]string `yaml:"markers"`
}

// SinksConfig 快照输出
type SinksConfig struct {
	Redis  RedisConfig  `yaml:"redis"`
	SQLite SQLiteConfig `yaml:"sqlite"`
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

type SQLiteConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// IPCConfig 控制端口配置
type IPCConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Address    string        `yaml:"address"`
	Port       int           `yaml:"port"`
	Timeout    time.Duration `yaml:"timeout"`
	BufferSize int           `yaml:"buffer_size"`
}

// IPCMessage is one JSON message on the control port. Replies carry the
// request ID and either Data or Error.
type IPCMessage struct {
	Type      string                 `json:"type"`
	ID        string                 `json:"id,omitempty"`
	Source    string                 `json:"source,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// CalibrationFile is the layout of board.calibration_file.
type CalibrationFile struct {
	Corners [][2]float64 `yaml:"corners"`
}

// SnapshotRecord is one changed board placement handed to the sinks.
type SnapshotRecord struct {
	Session   string    `json:"session"`
	Seq       uint64    `json:"seq"`
	Placement string    `json:"placement"`
	Unknown   []int     `json:"unknown,omitempty"`
	Conflicts []string  `json:"conflicts,omitempty"`
	At        time.Time `json:"at"`
}
