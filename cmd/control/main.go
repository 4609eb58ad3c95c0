// Command control runs the chess robot arm: the teleop/servo loop at a fixed
// rate and, when a camera feed is configured, the board-state loop that turns
// marker detections into FEN placements.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/golang/geo/r3"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"chessarm/internal/board"
	"chessarm/internal/broadcast"
	"chessarm/internal/config"
	"chessarm/internal/core"
	"chessarm/internal/hardware"
	"chessarm/internal/input"
	"chessarm/internal/ipc"
	"chessarm/internal/kinematics"
	"chessarm/internal/logging"
	"chessarm/internal/storage"
	"chessarm/internal/vision"
	"chessarm/pkg/types"
)

type ChessArmSystem struct {
	config    types.SystemConfig
	session   string
	arm       *core.ArmController
	board     *core.BoardModule
	server    *ipc.IPCServer
	armLoop   *core.EventLoop
	boardLoop *core.EventLoop
	closers   []io.Closer
	logger    *logging.Logger
}

func NewChessArmSystem(ctx context.Context, configPath string) (*ChessArmSystem, error) {
	// 1. 加载配置，文件不存在时写入默认配置
	configManager := config.NewConfigManager(configPath)
	if err := configManager.LoadConfig(""); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		log.Printf("Config %s not found, writing defaults", configPath)
		if err := configManager.CreateDefaultConfig(); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	}
	cfg := configManager.GetConfig()

	// 2. 日志
	if err := logging.Configure(&cfg.Logging); err != nil {
		return nil, fmt.Errorf("failed to configure logging: %w", err)
	}

	s := &ChessArmSystem{
		config:  cfg,
		session: uuid.NewString(),
		logger:  logging.GetLogger("system"),
	}
	if err := s.setupArm(); err != nil {
		s.Close()
		return nil, err
	}
	if cfg.IPC.Enabled {
		s.server = ipc.NewIPCServer(cfg.IPC)
	}
	if cfg.Vision.Enabled {
		if err := s.setupBoard(ctx); err != nil {
			s.Close()
			return nil, err
		}
	}
	if s.server != nil {
		if err := s.startServer(); err != nil {
			s.Close()
			return nil, err
		}
	}
	return s, nil
}

// startServer 注册控制命令并启动控制端口
func (s *ChessArmSystem) startServer() error {
	var view ipc.BoardView
	if s.board != nil {
		view = s.board
	}
	ipc.RegisterArmCommands(s.server, s.arm, view)
	if err := s.server.Start(); err != nil {
		return err
	}
	s.closers = append(s.closers, s.server)
	return nil
}

// setupArm 创建运动学求解器、输入设备、传输层和机械臂模块
func (s *ChessArmSystem) setupArm() error {
	cfg := s.config
	solver, err := kinematics.NewSolver(cfg.Arm.Links, cfg.Arm.Servos.Mapping())
	if err != nil {
		return fmt.Errorf("failed to create solver: %w", err)
	}

	transport, err := hardware.NewTransport(cfg.Transport)
	if err != nil {
		return fmt.Errorf("failed to create transport: %w", err)
	}

	opts := core.ArmOptions{
		Solver:            solver,
		Servos:            cfg.Arm.Servos,
		Teleop:            cfg.Teleop,
		FrameMode:         cfg.Arm.FrameMode,
		ReconnectInterval: cfg.Transport.ReconnectInterval,
		Transport:         transport,
	}

	if cfg.Input.Device != "" {
		js, err := input.OpenJoystick(cfg.Input.Device, input.AxisMap{
			LeftTrigger:  cfg.Input.LeftTrigger,
			RightTrigger: cfg.Input.RightTrigger,
			LeftStick:    cfg.Input.LeftStick,
			RightStick:   cfg.Input.RightStick,
		})
		if err != nil {
			s.logger.Warn("Input device unavailable, teleop disabled", "error", err)
		} else {
			opts.Input = js
			s.closers = append(s.closers, js)
		}
	}

	arm, err := core.NewArmController(opts)
	if err != nil {
		return err
	}
	s.arm = arm
	s.armLoop = core.NewEventLoop("arm", cfg.LoopInterval)
	s.armLoop.SetStatusInterval(cfg.StatusInterval)
	return s.armLoop.RegisterModule(arm)
}

// setupBoard 标定棋盘、打开视觉输入和快照输出
func (s *ChessArmSystem) setupBoard(ctx context.Context) error {
	cfg := s.config
	corners, err := config.Corners(cfg.Board)
	if err != nil {
		return fmt.Errorf("failed to calibrate board: %w", err)
	}
	grid, err := board.NewGrid(corners)
	if err != nil {
		return fmt.Errorf("failed to calibrate board: %w", err)
	}
	catalog, err := board.NewCatalog(cfg.Board.Markers)
	if err != nil {
		return fmt.Errorf("failed to load marker catalog: %w", err)
	}

	src, err := vision.Open(ctx, cfg.Vision.Source)
	if err != nil {
		return err
	}
	s.closers = append(s.closers, src)

	var sinks []core.SnapshotSink
	if cfg.Sinks.SQLite.Enabled {
		store, err := storage.NewSqliteStore(cfg.Sinks.SQLite.Path)
		if err != nil {
			return fmt.Errorf("failed to open snapshot journal: %w", err)
		}
		s.closers = append(s.closers, store)
		if err := store.CreateSession(ctx, s.session, cfg); err != nil {
			return fmt.Errorf("failed to record session: %w", err)
		}
		sinks = append(sinks, store)
	}
	if cfg.Sinks.Redis.Enabled {
		pub, err := broadcast.Dial(ctx, cfg.Sinks.Redis)
		if err != nil {
			return err
		}
		s.closers = append(s.closers, pub)
		sinks = append(sinks, pub)
	}
	if s.server != nil {
		sinks = append(sinks, s.server)
	}

	mod := core.NewBoardModule(board.NewFuser(grid, catalog), src, s.session, sinks...)
	s.board = mod
	s.boardLoop = core.NewEventLoop("board", time.Second/time.Duration(cfg.Vision.FrameRate))
	s.boardLoop.SetStatusInterval(cfg.StatusInterval)
	return s.boardLoop.RegisterModule(mod)
}

// Run 运行所有事件循环，直到 ctx 结束或某个循环失败
func (s *ChessArmSystem) Run(ctx context.Context) error {
	s.printSystemInfo()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.armLoop.Run(gctx) })
	if s.boardLoop != nil {
		g.Go(func() error { return s.boardLoop.Run(gctx) })
	}
	return g.Wait()
}

// Close 按创建的逆序释放资源
func (s *ChessArmSystem) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			s.logger.Warn("Error releasing resource", "error", err)
		}
	}
	s.closers = nil
}

func (s *ChessArmSystem) printSystemInfo() {
	cfg := s.config
	fmt.Println("==========================================")
	fmt.Println("  Chess Arm Controller")
	fmt.Println("==========================================")
	fmt.Printf("  Session: %s\n", s.session)
	fmt.Printf("  Loop Interval: %v\n", cfg.LoopInterval)
	fmt.Printf("  Links: upper %.1f, fore %.1f, hand %.1f\n", cfg.Arm.Links.Upper, cfg.Arm.Links.Fore, cfg.Arm.Links.Hand)
	fmt.Printf("  Frame: %s (%s)\n", cfg.Arm.FrameMode, joinJoints(cfg.Arm.Servos.Order))
	fmt.Printf("  Transport: %s %s\n", cfg.Transport.Driver, cfg.Transport.Port)
	fmt.Printf("  Input: %s\n", orNone(cfg.Input.Device))
	if cfg.Vision.Enabled {
		fmt.Printf("  Vision: %s at %d fps\n", cfg.Vision.Source, cfg.Vision.FrameRate)
	} else {
		fmt.Println("  Vision: disabled")
	}
	if s.server != nil {
		fmt.Printf("  Control port: %s\n", s.server.Addr())
	}
	fmt.Println("==========================================")
}

func joinJoints(order []kinematics.JointName) string {
	parts := make([]string, len(order))
	for i, j := range order {
		parts[i] = string(j)
	}
	return strings.Join(parts, ",")
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}

// parsePose parses "x,y,z" or "x,y,z,pitch" in mm and degrees.
func parsePose(s string) (kinematics.Pose, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 && len(parts) != 4 {
		return kinematics.Pose{}, fmt.Errorf("pose %q: want x,y,z[,pitch]", s)
	}
	vals := make([]float64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return kinematics.Pose{}, fmt.Errorf("pose %q: %w", s, err)
		}
		vals[i] = v
	}
	pose := kinematics.Pose{Position: r3.Vector{X: vals[0], Y: vals[1], Z: vals[2]}}
	if len(vals) == 4 {
		pose.Pitch = kinematics.Angle(vals[3])
	}
	return pose, nil
}

func main() {
	var (
		configPath = flag.String("config", "config.yaml", "Path to configuration file")
		initOnly   = flag.Bool("init", false, "Write the default configuration and exit")
		moveTo     = flag.String("move", "", "Move the tool point to x,y,z[,pitch] after start-up")
	)
	flag.Parse()

	if *initOnly {
		if err := config.NewConfigManager(*configPath).CreateDefaultConfig(); err != nil {
			log.Fatalf("Failed to write default config: %v", err)
		}
		fmt.Printf("Default configuration written to %s\n", *configPath)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	system, err := NewChessArmSystem(ctx, *configPath)
	if err != nil {
		log.Fatalf("Failed to create chess arm system: %v", err)
	}
	defer system.Close()

	if *moveTo != "" {
		pose, err := parsePose(*moveTo)
		if err != nil {
			log.Fatalf("Invalid -move: %v", err)
		}
		if err := system.arm.MoveTo(pose); err != nil {
			log.Fatalf("Cannot move to %s: %v", *moveTo, err)
		}
	}

	done := make(chan error, 1)
	go func() { done <- system.Run(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			log.Fatalf("Chess arm system failed: %v", err)
		}
		return
	case <-ctx.Done():
	}

	fmt.Println("\nReceived shutdown signal...")

	// 添加超时机制处理系统关闭
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	select {
	case err := <-done:
		if err != nil {
			log.Printf("Error during shutdown: %v", err)
		}
		fmt.Println("Chess arm shutdown complete")
	case <-shutdownCtx.Done():
		log.Println("Shutdown timeout reached, forcing exit")
		os.Exit(1)
	}
}
