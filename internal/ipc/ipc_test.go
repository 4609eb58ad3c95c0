package ipc

import (
	"context"
	"errors"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"chessarm/internal/kinematics"
	"chessarm/pkg/types"
)

type fakeArm struct {
	mu     sync.Mutex
	moves  []kinematics.Pose
	homed  int
	reject error
}

func (f *fakeArm) MoveTo(p kinematics.Pose) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reject != nil {
		return f.reject
	}
	f.moves = append(f.moves, p)
	return nil
}

func (f *fakeArm) Home() kinematics.JointState {
	f.mu.Lock()
	f.homed++
	f.mu.Unlock()
	return kinematics.JointState{kinematics.Base: 90, kinematics.Shoulder: 100}
}

func (f *fakeArm) Joints() kinematics.JointState {
	return kinematics.JointState{kinematics.Base: 90, kinematics.Shoulder: 90}
}

func (f *fakeArm) Status() map[string]interface{} {
	return map[string]interface{}{"frame": "90.00,90.00"}
}

type fakeView struct{ placement string }

func (v fakeView) Placement() (string, bool) { return v.placement, v.placement != "" }

func startServer(t *testing.T, arm Arm, view BoardView) (*IPCServer, *IPCClient) {
	t.Helper()
	srv := NewIPCServer(types.IPCConfig{Address: "127.0.0.1", Port: 0, BufferSize: 8})
	RegisterArmCommands(srv, arm, view)
	if err := srv.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { srv.Stop() })

	host, port, err := net.SplitHostPort(srv.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	p, _ := strconv.Atoi(port)
	client := NewIPCClient(types.IPCConfig{Address: host, Port: p, Timeout: 2 * time.Second})
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return srv, client
}

func TestMoveRequest(t *testing.T) {
	arm := &fakeArm{}
	_, client := startServer(t, arm, nil)
	ctx := context.Background()

	reply, err := client.Request(ctx, types.IPCMessage{
		Type: MsgMove,
		Data: map[string]interface{}{"x": 0, "y": 150, "z": 50, "pitch": -30},
	})
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if reply.Type != "move_response" || reply.Data["queued"] != true {
		t.Errorf("reply = %+v", reply)
	}

	arm.mu.Lock()
	defer arm.mu.Unlock()
	if len(arm.moves) != 1 {
		t.Fatalf("moves = %d, want 1", len(arm.moves))
	}
	m := arm.moves[0]
	if m.Position.Y != 150 || m.Position.Z != 50 || m.Pitch == nil || *m.Pitch != -30 {
		t.Errorf("pose = %+v", m)
	}
}

func TestMoveErrors(t *testing.T) {
	arm := &fakeArm{reject: kinematics.ErrOutOfReach}
	_, client := startServer(t, arm, nil)
	ctx := context.Background()

	_, err := client.Request(ctx, types.IPCMessage{Type: MsgMove, Data: map[string]interface{}{"x": 900, "y": 0, "z": 0}})
	if err == nil || !strings.Contains(err.Error(), kinematics.ErrOutOfReach.Error()) {
		t.Errorf("unreachable move error = %v", err)
	}

	_, err = client.Request(ctx, types.IPCMessage{Type: MsgMove, Data: map[string]interface{}{"x": "far"}})
	if err == nil || !strings.Contains(err.Error(), "x must be a number") {
		t.Errorf("bad move error = %v", err)
	}
}

func TestHomeStatusPlacement(t *testing.T) {
	arm := &fakeArm{}
	_, client := startServer(t, arm, fakeView{placement: "8/8/8/8/8/8/8/4K3"})
	ctx := context.Background()

	home, err := client.Request(ctx, types.IPCMessage{Type: MsgHome})
	if err != nil {
		t.Fatalf("home: %v", err)
	}
	target, ok := home.Data["target"].(map[string]interface{})
	if !ok || target["shoulder"] != float64(100) || home.Data["queued"] != true {
		t.Errorf("home reply = %+v, want the home target", home.Data)
	}
	arm.mu.Lock()
	homed := arm.homed
	arm.mu.Unlock()
	if homed != 1 {
		t.Errorf("homed = %d", homed)
	}

	st, err := client.Request(ctx, types.IPCMessage{Type: MsgStatus})
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.Data["frame"] != "90.00,90.00" || st.Data["clients"] != float64(1) {
		t.Errorf("status = %+v", st.Data)
	}

	pl, err := client.Request(ctx, types.IPCMessage{Type: MsgPlacement})
	if err != nil {
		t.Fatalf("placement: %v", err)
	}
	if pl.Data["placement"] != "8/8/8/8/8/8/8/4K3" {
		t.Errorf("placement = %+v", pl.Data)
	}
}

func TestPlacementWithoutVision(t *testing.T) {
	_, client := startServer(t, &fakeArm{}, nil)
	if _, err := client.Request(context.Background(), types.IPCMessage{Type: MsgPlacement}); err == nil {
		t.Error("expected error without a board view")
	}
}

func TestUnknownType(t *testing.T) {
	_, client := startServer(t, &fakeArm{}, nil)
	reply, err := client.Request(context.Background(), types.IPCMessage{Type: "dance"})
	if err == nil {
		t.Fatal("expected error")
	}
	if reply.Type != "error_response" {
		t.Errorf("reply type = %s", reply.Type)
	}
}

func TestSnapshotBroadcast(t *testing.T) {
	srv, client := startServer(t, &fakeArm{}, nil)
	// A completed request guarantees the server has registered the client.
	if _, err := client.Request(context.Background(), types.IPCMessage{Type: MsgHome}); err != nil {
		t.Fatal(err)
	}

	rec := types.SnapshotRecord{Session: "s1", Seq: 3, Placement: "8/8/8/8/8/8/8/8", At: time.Now()}
	if err := srv.Publish(context.Background(), rec); err != nil {
		t.Fatal(err)
	}

	select {
	case msg := <-client.Receive():
		if msg.Type != MsgSnapshot || msg.Data["placement"] != rec.Placement || msg.Data["seq"] != float64(3) {
			t.Errorf("snapshot = %+v", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no snapshot received")
	}
}

func TestRequestAfterServerStops(t *testing.T) {
	srv, client := startServer(t, &fakeArm{}, nil)
	srv.Stop()

	select {
	case _, ok := <-client.Receive():
		if ok {
			t.Fatal("unexpected message")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("client did not notice the closed connection")
	}
	_, err := client.Request(context.Background(), types.IPCMessage{Type: MsgStatus})
	if !errors.Is(err, ErrClientClosed) {
		t.Errorf("err = %v, want ErrClientClosed", err)
	}
}

func TestPoseFromData(t *testing.T) {
	p, err := PoseFromData(map[string]interface{}{"x": 1.5, "y": 2, "z": 3})
	if err != nil {
		t.Fatal(err)
	}
	if p.Position.X != 1.5 || p.Pitch != nil {
		t.Errorf("pose = %+v", p)
	}
	back := PoseData(p)
	if back["z"] != 3.0 {
		t.Errorf("PoseData = %+v", back)
	}
	if _, ok := back["pitch"]; ok {
		t.Error("pitch should be omitted")
	}
}
