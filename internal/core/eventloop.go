// Package core runs the arm and board subsystems: fixed-rate event loops
// and the modules they tick.
package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"chessarm/internal/logging"
)

type EventLoop struct {
	name           string
	interval       time.Duration
	statusInterval time.Duration
	modules        []Module
	modulesLock    sync.RWMutex
	running        bool
	logger         *logging.Logger
}

func NewEventLoop(name string, interval time.Duration) *EventLoop {
	return &EventLoop{
		name:     name,
		interval: interval,
		logger:   logging.GetLogger("event_loop").With("loop", name),
	}
}

// SetStatusInterval enables a periodic status log. Zero disables it.
func (el *EventLoop) SetStatusInterval(d time.Duration) {
	el.statusInterval = d
}

func (el *EventLoop) RegisterModule(module Module) error {
	el.modulesLock.Lock()
	defer el.modulesLock.Unlock()

	if el.running {
		return fmt.Errorf("cannot register module %s on a running loop", module.Name())
	}
	for _, m := range el.modules {
		if m.Name() == module.Name() {
			return fmt.Errorf("module %s already registered", module.Name())
		}
	}
	el.modules = append(el.modules, module)
	el.logger.Debug("Module registered", "name", module.Name())
	return nil
}

// Run starts every module, ticks them in registration order until ctx is
// done, then stops them. A module that fails to start aborts the loop;
// per-tick errors are only logged.
func (el *EventLoop) Run(ctx context.Context) error {
	if el.interval <= 0 {
		return fmt.Errorf("event loop %s: interval must be positive", el.name)
	}

	el.modulesLock.Lock()
	if el.running {
		el.modulesLock.Unlock()
		return fmt.Errorf("event loop %s is already running", el.name)
	}
	el.running = true
	modules := append([]Module(nil), el.modules...)
	el.modulesLock.Unlock()

	defer func() {
		el.modulesLock.Lock()
		el.running = false
		el.modulesLock.Unlock()
	}()

	started := make([]Module, 0, len(modules))
	for _, m := range modules {
		if err := m.Start(ctx); err != nil {
			el.stopModules(started)
			return fmt.Errorf("failed to start module %s: %w", m.Name(), err)
		}
		started = append(started, m)
	}

	el.logger.Info("Event loop started", "interval", el.interval, "modules", len(modules))

	ticker := time.NewTicker(el.interval)
	defer ticker.Stop()

	var statusC <-chan time.Time
	if el.statusInterval > 0 {
		st := time.NewTicker(el.statusInterval)
		defer st.Stop()
		statusC = st.C
	}

	for {
		select {
		case <-ctx.Done():
			el.stopModules(started)
			el.logger.Info("Event loop stopped")
			return nil
		case <-ticker.C:
			el.processCycle(ctx, modules)
		case <-statusC:
			for _, m := range modules {
				el.logger.Info("Module status", "name", m.Name(), "status", m.Status())
			}
		}
	}
}

func (el *EventLoop) processCycle(ctx context.Context, modules []Module) {
	for _, m := range modules {
		if err := m.Process(ctx); err != nil {
			el.logger.Error("Error processing module", "name", m.Name(), "error", err)
		}
	}
}

func (el *EventLoop) stopModules(modules []Module) {
	for i := len(modules) - 1; i >= 0; i-- {
		if err := modules[i].Stop(); err != nil {
			el.logger.Error("Error stopping module", "name", modules[i].Name(), "error", err)
		}
	}
}

func (el *EventLoop) GetModuleStatus() map[string]interface{} {
	el.modulesLock.RLock()
	defer el.modulesLock.RUnlock()

	status := make(map[string]interface{}, len(el.modules))
	for _, m := range el.modules {
		status[m.Name()] = m.Status()
	}
	return status
}
