// ABOUTME: Background watchdog that detects stalled pipeline stages via progress timestamps.
// ABOUTME: Emits stage_retrying-adjacent stall warnings when a node exceeds its configured stall timeout without progress.
package runtime

import (
	"context"
	"sync"
	"time"
)

// WatchdogConfig configures the stall-detection watchdog.
type WatchdogConfig struct {
	StallTimeout  time.Duration
	CheckInterval time.Duration
}

// DefaultWatchdogConfig returns a 5 minute stall timeout with a 10 second poll.
func DefaultWatchdogConfig() WatchdogConfig {
	return WatchdogConfig{StallTimeout: 5 * time.Minute, CheckInterval: 10 * time.Second}
}

// Watchdog monitors active nodes and reports a node as stalled when it has not
// finished within StallTimeout of becoming active. It never cancels
// execution; it is purely observational.
type Watchdog struct {
	config      WatchdogConfig
	onStall     func(nodeID string, elapsed time.Duration)
	mu          sync.Mutex
	activeNodes map[string]time.Time
	warned      map[string]bool
}

// NewWatchdog creates a Watchdog that calls onStall from its monitoring
// goroutine whenever a node first exceeds its stall timeout.
func NewWatchdog(cfg WatchdogConfig, onStall func(nodeID string, elapsed time.Duration)) *Watchdog {
	return &Watchdog{
		config:      cfg,
		onStall:     onStall,
		activeNodes: make(map[string]time.Time),
		warned:      make(map[string]bool),
	}
}

// Start launches the background monitoring goroutine; it stops when ctx is done.
func (w *Watchdog) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(w.config.CheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				w.check()
			}
		}
	}()
}

// NodeStarted records a node becoming active, resetting any prior stall warning.
func (w *Watchdog) NodeStarted(nodeID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.activeNodes[nodeID] = time.Now()
	delete(w.warned, nodeID)
}

// NodeFinished stops tracking a node.
func (w *Watchdog) NodeFinished(nodeID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.activeNodes, nodeID)
	delete(w.warned, nodeID)
}

// HandleEvent routes stage lifecycle events into NodeStarted/NodeFinished, so
// a Watchdog can subscribe directly to an EventBus.
func (w *Watchdog) HandleEvent(evt Event) {
	switch evt.Kind {
	case EventStageStarted:
		w.NodeStarted(evt.NodeID)
	case EventStageCompleted, EventStageFailed:
		w.NodeFinished(evt.NodeID)
	}
}

// ActiveNodes returns the currently tracked node IDs, in no particular order.
func (w *Watchdog) ActiveNodes() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	nodes := make([]string, 0, len(w.activeNodes))
	for id := range w.activeNodes {
		nodes = append(nodes, id)
	}
	return nodes
}

func (w *Watchdog) check() {
	w.mu.Lock()
	type stall struct {
		nodeID  string
		elapsed time.Duration
	}
	var toEmit []stall
	now := time.Now()
	for nodeID, lastActivity := range w.activeNodes {
		if w.warned[nodeID] {
			continue
		}
		elapsed := now.Sub(lastActivity)
		if elapsed > w.config.StallTimeout {
			w.warned[nodeID] = true
			toEmit = append(toEmit, stall{nodeID: nodeID, elapsed: elapsed})
		}
	}
	w.mu.Unlock()

	for _, s := range toEmit {
		if w.onStall != nil {
			w.onStall(s.nodeID, s.elapsed)
		}
	}
}
