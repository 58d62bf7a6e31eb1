package worker

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Loop is a periodic job such as the remote link probe or the reaper.
type Loop interface {
	Start(ctx context.Context) (stop func())
}

// Subscriber is an event consumer with an explicit registration lifecycle.
type Subscriber interface {
	RegisterHandlers()
	Stop()
}

// Group owns the background work of a running process and stops it in
// reverse start order.
type Group struct {
	logger *zap.Logger

	mu      sync.Mutex
	names   []string
	stops   []func()
	stopped bool
}

// NewGroup returns an empty group.
func NewGroup(logger *zap.Logger) *Group {
	return &Group{logger: logger.Named("worker")}
}

// StartLoop starts loop under name. A nil loop is ignored.
func (g *Group) StartLoop(ctx context.Context, name string, loop Loop) {
	if loop == nil {
		return
	}
	g.add(name, loop.Start(ctx))
}

// StartSubscriber registers the subscriber's event handlers.
func (g *Group) StartSubscriber(name string, sub Subscriber) {
	if sub == nil {
		return
	}
	sub.RegisterHandlers()
	g.add(name, sub.Stop)
}

func (g *Group) add(name string, stop func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stopped {
		stop()
		return
	}
	g.names = append(g.names, name)
	g.stops = append(g.stops, stop)
	g.logger.Info("worker started", zap.String("worker", name))
}

// Running lists the started workers in start order.
func (g *Group) Running() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.names...)
}

// Stop halts every worker. Later calls are no-ops.
func (g *Group) Stop() {
	g.mu.Lock()
	names, stops := g.names, g.stops
	g.names, g.stops, g.stopped = nil, nil, true
	g.mu.Unlock()

	for i := len(stops) - 1; i >= 0; i-- {
		stops[i]()
		g.logger.Info("worker stopped", zap.String("worker", names[i]))
	}
}
