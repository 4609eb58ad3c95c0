// Package teleop turns one snapshot of gamepad axes into per-tick joint
// deltas.
package teleop

import (
	"fmt"
	"math"

	"chessarm/internal/kinematics"
)

// Axes is one snapshot of the four normalized input axes, each in [-1, 1].
type Axes struct {
	LeftTrigger  float64
	RightTrigger float64
	LeftStick    float64
	RightStick   float64
}

// Config assigns axes to joints. An empty joint name disables the axis.
type Config struct {
	MaxSpeed    float64              `yaml:"max_speed"` // degrees per tick at full deflection
	DeadZone    float64              `yaml:"dead_zone"`
	Triggers    kinematics.JointName `yaml:"triggers"`
	LeftStick   kinematics.JointName `yaml:"left_stick"`
	RightStick  kinematics.JointName `yaml:"right_stick"`
	InvertLeft  bool                 `yaml:"invert_left"`
	InvertRight bool                 `yaml:"invert_right"`
}

// DefaultConfig mirrors the bench controller: triggers swing the base,
// sticks drive shoulder and elbow.
func DefaultConfig() Config {
	return Config{
		MaxSpeed:   3.0,
		DeadZone:   0.1,
		Triggers:   kinematics.Base,
		LeftStick:  kinematics.Shoulder,
		RightStick: kinematics.Elbow,
	}
}

// Integrator computes joint deltas; it keeps no state between calls.
type Integrator struct {
	cfg Config
}

// NewIntegrator validates cfg.
func NewIntegrator(cfg Config) (*Integrator, error) {
	if cfg.MaxSpeed <= 0 {
		return nil, fmt.Errorf("max speed must be positive, got %v", cfg.MaxSpeed)
	}
	if cfg.DeadZone < 0 || cfg.DeadZone >= 1 {
		return nil, fmt.Errorf("dead zone must be in [0, 1), got %v", cfg.DeadZone)
	}
	return &Integrator{cfg: cfg}, nil
}

// Deltas returns the joint deltas for one tick.
func (in *Integrator) Deltas(a Axes) kinematics.JointState {
	out := make(kinematics.JointState, 3)
	add := func(j kinematics.JointName, v float64) {
		if j == "" {
			return
		}
		out[j] += v
	}

	add(in.cfg.Triggers, (TriggerValue(a.LeftTrigger)-TriggerValue(a.RightTrigger))*in.cfg.MaxSpeed)
	add(in.cfg.LeftStick, in.stick(a.LeftStick, in.cfg.InvertLeft))
	add(in.cfg.RightStick, in.stick(a.RightStick, in.cfg.InvertRight))
	return out
}

func (in *Integrator) stick(v float64, invert bool) float64 {
	if math.Abs(v) < in.cfg.DeadZone {
		return 0
	}
	if invert {
		v = -v
	}
	return v * in.cfg.MaxSpeed
}

// TriggerValue maps a trigger axis from [-1, 1] to [0, 1].
func TriggerValue(raw float64) float64 {
	return (raw + 1) / 2
}
