package enrich

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Gate holds jobs back until the network is usable.
type Gate interface {
	// Wait blocks until connectivity is available or ctx is done.
	Wait(ctx context.Context) error
}

// AlwaysOnline never blocks.
type AlwaysOnline struct{}

// Wait returns immediately unless ctx is already done.
func (AlwaysOnline) Wait(ctx context.Context) error {
	return ctx.Err()
}

// ManualGate is switched on and off by its owner.
type ManualGate struct {
	mu     sync.Mutex
	online bool
	opened chan struct{} // closed while online
}

// NewManualGate returns a gate in the given state.
func NewManualGate(online bool) *ManualGate {
	g := &ManualGate{opened: make(chan struct{})}
	g.Set(online)
	return g
}

// Set switches connectivity on or off.
func (g *ManualGate) Set(online bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if online == g.online {
		return
	}
	g.online = online
	if online {
		close(g.opened)
	} else {
		g.opened = make(chan struct{})
	}
}

// Wait blocks until the gate is switched on.
func (g *ManualGate) Wait(ctx context.Context) error {
	for {
		g.mu.Lock()
		online, opened := g.online, g.opened
		g.mu.Unlock()
		if online {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-opened:
		}
	}
}

// ProbeGate considers the network available when a TCP connection to addr succeeds.
// A probe result is reused for one interval.
type ProbeGate struct {
	addr     string
	interval time.Duration
	timeout  time.Duration
	log      logrus.FieldLogger

	mu        sync.Mutex
	checkedAt time.Time
	online    bool
}

// NewProbeGate builds a gate probing addr (host:port) at most once per interval.
func NewProbeGate(addr string, interval time.Duration, logger logrus.FieldLogger) *ProbeGate {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	timeout := interval
	if timeout > 5*time.Second {
		timeout = 5 * time.Second
	}
	return &ProbeGate{
		addr:     addr,
		interval: interval,
		timeout:  timeout,
		log:      logger.WithField("component", "network_gate"),
	}
}

// Wait probes until addr is reachable.
func (g *ProbeGate) Wait(ctx context.Context) error {
	for {
		if g.Online(ctx) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(g.interval):
		}
	}
}

// Online reports the cached or freshly probed connectivity state.
func (g *ProbeGate) Online(ctx context.Context) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.checkedAt.IsZero() && time.Since(g.checkedAt) < g.interval {
		return g.online
	}

	dialer := net.Dialer{Timeout: g.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", g.addr)
	online := err == nil
	if conn != nil {
		_ = conn.Close()
	}

	if online != g.online || g.checkedAt.IsZero() {
		g.log.WithFields(logrus.Fields{
			"addr":   g.addr,
			"online": online,
		}).Info("Network availability changed")
	}
	g.online = online
	g.checkedAt = time.Now()
	return online
}
