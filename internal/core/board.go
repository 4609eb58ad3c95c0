package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"chessarm/internal/board"
	"chessarm/internal/logging"
	"chessarm/internal/vision"
	"chessarm/pkg/types"
)

// FrameSource hands out the newest vision frame once.
type FrameSource interface {
	Latest() (vision.Frame, bool)
	Err() error
}

// BoardModule fuses vision frames into board snapshots and forwards every
// change to the sinks.
type BoardModule struct {
	fuser   *board.Fuser
	source  FrameSource
	sinks   []SnapshotSink
	session string
	now     func() time.Time

	mu          sync.Mutex
	last        board.Snapshot
	hasLast     bool
	seq         uint64
	frames      uint64
	changes     uint64
	sinkErrors  uint64
	lastFrameAt time.Time
	lastUnknown []int
	sourceEnded bool

	logger *logging.Logger
}

func NewBoardModule(fuser *board.Fuser, source FrameSource, session string, sinks ...SnapshotSink) *BoardModule {
	return &BoardModule{
		fuser:   fuser,
		source:  source,
		sinks:   sinks,
		session: session,
		now:     time.Now,
		logger:  logging.GetLogger("board").With("session", session),
	}
}

func (b *BoardModule) Name() string { return "board" }

func (b *BoardModule) Start(ctx context.Context) error {
	names := make([]string, len(b.sinks))
	for i, s := range b.sinks {
		names[i] = s.Name()
	}
	b.logger.Info("Board module started", "markers", b.fuser.Catalog().Len(), "sinks", strings.Join(names, ","))
	return nil
}

func (b *BoardModule) Stop() error { return nil }

// Process fuses the newest frame, if any.
func (b *BoardModule) Process(ctx context.Context) error {
	f, ok := b.source.Latest()
	if !ok {
		b.checkSource()
		return nil
	}
	res := b.fuser.Fuse(f.Markers)

	b.mu.Lock()
	b.frames++
	b.lastFrameAt = f.At
	if !slices.Equal(res.Unknown, b.lastUnknown) {
		if len(res.Unknown) > 0 {
			b.logger.Warn("Unknown marker ids", "ids", res.Unknown)
		}
		b.lastUnknown = res.Unknown
	}
	for _, c := range res.Conflicts {
		b.logger.Warn("Several markers on one square", "square", c.String())
	}
	if b.hasLast && res.Snapshot == b.last {
		b.mu.Unlock()
		return nil
	}
	changed := board.Diff(&b.last, &res.Snapshot)
	b.last = res.Snapshot
	b.hasLast = true
	b.seq++
	b.changes++
	rec := types.SnapshotRecord{
		Session:   b.session,
		Seq:       b.seq,
		Placement: res.Snapshot.Placement(),
		Unknown:   res.Unknown,
		Conflicts: cellNames(res.Conflicts),
		At:        b.now(),
	}
	b.mu.Unlock()

	b.logger.Info("Board changed", "placement", rec.Placement, "seq", rec.Seq, "squares", describe(changed))
	b.logger.Debug("Board diagram\n" + res.Snapshot.Diagram())

	var errs []error
	for _, s := range b.sinks {
		if err := s.Publish(ctx, rec); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	if len(errs) > 0 {
		b.mu.Lock()
		b.sinkErrors += uint64(len(errs))
		b.mu.Unlock()
		return fmt.Errorf("failed to publish snapshot %d: %w", rec.Seq, errors.Join(errs...))
	}
	return nil
}

func (b *BoardModule) checkSource() {
	err := b.source.Err()
	if err == nil || b.sourceEnded {
		return
	}
	b.sourceEnded = true
	if errors.Is(err, io.EOF) {
		b.logger.Info("Vision stream ended, keeping last placement")
		return
	}
	b.logger.Warn("Vision stream stopped", "error", err)
}

// Placement returns the last rendered placement.
func (b *BoardModule) Placement() (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.hasLast {
		return "", false
	}
	return b.last.Placement(), true
}

func (b *BoardModule) Status() map[string]interface{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := map[string]interface{}{
		"frames":      humanize.Comma(int64(b.frames)),
		"changes":     humanize.Comma(int64(b.changes)),
		"sink_errors": humanize.Comma(int64(b.sinkErrors)),
	}
	if b.hasLast {
		st["placement"] = b.last.Placement()
		st["pieces"] = b.last.Occupied()
		st["last_frame"] = humanize.Time(b.lastFrameAt)
	}
	return st
}

func cellNames(cells []board.Cell) []string {
	if len(cells) == 0 {
		return nil
	}
	out := make([]string, len(cells))
	for i, c := range cells {
		out[i] = c.String()
	}
	return out
}

func describe(changes []board.Change) string {
	parts := make([]string, len(changes))
	for i, c := range changes {
		parts[i] = fmt.Sprintf("%s:%s>%s", c.Square, symbol(c.Before), symbol(c.After))
	}
	return strings.Join(parts, " ")
}

func symbol(b byte) string {
	if b == 0 {
		return "-"
	}
	return string(b)
}
