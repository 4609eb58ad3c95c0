// Command armctl sends commands to a running control process over its
// control port and can follow the board snapshots it broadcasts.
//
//	armctl [-addr 127.0.0.1:7878] status
//	armctl move X Y Z [PITCH]
//	armctl home
//	armctl placement
//	armctl watch
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/golang/geo/r3"

	"chessarm/internal/ipc"
	"chessarm/internal/kinematics"
	"chessarm/pkg/types"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:7878", "Control port address")
	timeout := flag.Duration("timeout", 5*time.Second, "Request timeout")
	flag.Parse()

	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: armctl [-addr host:port] status|home|placement|watch|move X Y Z [PITCH]")
		os.Exit(2)
	}

	host, portStr, err := net.SplitHostPort(*addr)
	if err != nil {
		log.Fatalf("Invalid address: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		log.Fatalf("Invalid port: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := ipc.NewIPCClient(types.IPCConfig{Address: host, Port: port, Timeout: *timeout})
	if err := client.Connect(ctx); err != nil {
		log.Fatal(err)
	}
	defer client.Close()

	args := flag.Args()
	switch args[0] {
	case "watch":
		watch(ctx, client)
		return
	case ipc.MsgMove:
		pose, err := poseArgs(args[1:])
		if err != nil {
			log.Fatal(err)
		}
		request(ctx, client, types.IPCMessage{Type: ipc.MsgMove, Data: ipc.PoseData(pose)})
	case ipc.MsgHome, ipc.MsgStatus, ipc.MsgPlacement:
		request(ctx, client, types.IPCMessage{Type: args[0]})
	default:
		log.Fatalf("Unknown command %q", args[0])
	}
}

func request(ctx context.Context, client *ipc.IPCClient, msg types.IPCMessage) {
	reply, err := client.Request(ctx, msg)
	if err != nil {
		log.Fatal(err)
	}
	printJSON(reply.Data)
}

func watch(ctx context.Context, client *ipc.IPCClient) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-client.Receive():
			if !ok {
				log.Println("Connection closed")
				return
			}
			if msg.Type == ipc.MsgSnapshot {
				fmt.Printf("%s  #%v  %v\n", msg.Timestamp.Format("15:04:05.000"), msg.Data["seq"], msg.Data["placement"])
			}
		}
	}
}

func poseArgs(args []string) (kinematics.Pose, error) {
	if len(args) != 3 && len(args) != 4 {
		return kinematics.Pose{}, fmt.Errorf("move needs X Y Z [PITCH]")
	}
	vals := make([]float64, len(args))
	for i, a := range args {
		v, err := strconv.ParseFloat(a, 64)
		if err != nil {
			return kinematics.Pose{}, fmt.Errorf("move: %w", err)
		}
		vals[i] = v
	}
	pose := kinematics.Pose{Position: r3.Vector{X: vals[0], Y: vals[1], Z: vals[2]}}
	if len(vals) == 4 {
		pose.Pitch = kinematics.Angle(vals[3])
	}
	return pose, nil
}

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.Fatal(err)
	}
}
