package ipc

import (
	"fmt"

	"github.com/golang/geo/r3"

	"chessarm/internal/kinematics"
	"chessarm/pkg/types"
)

// 消息类型
const (
	MsgMove      = "move"
	MsgHome      = "home"
	MsgStatus    = "status"
	MsgPlacement = "placement"
	MsgSnapshot  = "snapshot"
)

// Arm is the part of the arm controller reachable from the control port.
type Arm interface {
	MoveTo(pose kinematics.Pose) error
	Home() kinematics.JointState
	Joints() kinematics.JointState
	Status() map[string]interface{}
}

// BoardView reports the latest fused placement.
type BoardView interface {
	Placement() (string, bool)
}

// RegisterArmCommands binds the arm and, when non-nil, the board to the
// server's request types.
func RegisterArmCommands(s *IPCServer, arm Arm, view BoardView) {
	s.RegisterHandler(MsgMove, func(msg types.IPCMessage) (map[string]interface{}, error) {
		pose, err := PoseFromData(msg.Data)
		if err != nil {
			return nil, err
		}
		if err := arm.MoveTo(pose); err != nil {
			return nil, err
		}
		return map[string]interface{}{"queued": true, "pose": PoseData(pose)}, nil
	})

	s.RegisterHandler(MsgHome, func(types.IPCMessage) (map[string]interface{}, error) {
		return map[string]interface{}{"queued": true, "target": jointData(arm.Home())}, nil
	})

	s.RegisterHandler(MsgStatus, func(types.IPCMessage) (map[string]interface{}, error) {
		data := arm.Status()
		data["joints"] = jointData(arm.Joints())
		data["clients"] = s.ClientCount()
		return data, nil
	})

	s.RegisterHandler(MsgPlacement, func(types.IPCMessage) (map[string]interface{}, error) {
		if view == nil {
			return nil, fmt.Errorf("vision is disabled")
		}
		placement, ok := view.Placement()
		if !ok {
			return nil, fmt.Errorf("no board snapshot yet")
		}
		return map[string]interface{}{"placement": placement}, nil
	})
}

// PoseFromData reads x, y, z (mm) and the optional pitch (degrees) of a move
// request.
func PoseFromData(data map[string]interface{}) (kinematics.Pose, error) {
	var v [3]float64
	for i, k := range []string{"x", "y", "z"} {
		f, ok := number(data[k])
		if !ok {
			return kinematics.Pose{}, fmt.Errorf("move: %s must be a number", k)
		}
		v[i] = f
	}
	pose := kinematics.Pose{Position: r3.Vector{X: v[0], Y: v[1], Z: v[2]}}
	if raw, present := data["pitch"]; present {
		f, ok := number(raw)
		if !ok {
			return kinematics.Pose{}, fmt.Errorf("move: pitch must be a number")
		}
		pose.Pitch = kinematics.Angle(f)
	}
	return pose, nil
}

// PoseData is the inverse of PoseFromData.
func PoseData(p kinematics.Pose) map[string]interface{} {
	data := map[string]interface{}{"x": p.Position.X, "y": p.Position.Y, "z": p.Position.Z}
	if p.Pitch != nil {
		data["pitch"] = *p.Pitch
	}
	return data
}

func number(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	}
	return 0, false
}

func jointData(js kinematics.JointState) map[string]interface{} {
	out := make(map[string]interface{}, len(js))
	for j, v := range js {
		out[string(j)] = v
	}
	return out
}
