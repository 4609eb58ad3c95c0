package core

import (
	"context"

	"chessarm/internal/teleop"
	"chessarm/pkg/types"
)

// Module is one unit of work ticked by an EventLoop.
type Module interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
	Process(ctx context.Context) error
	Status() map[string]interface{}
}

// AxisSource delivers the latest gamepad axes without blocking.
type AxisSource interface {
	Poll() (teleop.Axes, error)
}

// SnapshotSink receives every changed board snapshot.
type SnapshotSink interface {
	Name() string
	Publish(ctx context.Context, rec types.SnapshotRecord) error
}
