// Package lifecycle coordinates startup, shutdown, and detached background work
// for the service process.
package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Coordinator manages startup and shutdown hooks and tracks background tasks
// that must drain before the process exits. Shutdown runs in three ordered
// phases: shutdown hooks, then tracked tasks, then close hooks.
type Coordinator struct {
	ctx        context.Context
	cancel     context.CancelFunc
	startupWg  sync.WaitGroup
	shutdownWg sync.WaitGroup
	tasksWg    sync.WaitGroup
	ready      bool
	readyMu    sync.RWMutex

	tasksMu  sync.Mutex
	stopping bool

	closeMu   sync.Mutex
	closers   []func()
	closeOnce sync.Once
}

// New creates a Coordinator with a cancellable context.
func New() *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		ctx:    ctx,
		cancel: cancel,
	}
}

// Context returns the coordinator's context, cancelled on shutdown.
func (c *Coordinator) Context() context.Context {
	return c.ctx
}

// OnStartup registers a function to run concurrently during startup.
func (c *Coordinator) OnStartup(fn func()) {
	c.startupWg.Go(fn)
}

// OnShutdown registers a function to run concurrently during shutdown.
// Shutdown hooks should block on <-c.Context().Done() before executing cleanup.
func (c *Coordinator) OnShutdown(fn func()) {
	c.shutdownWg.Go(fn)
}

// OnClose registers a function that releases a shared resource. Close hooks
// run concurrently once every shutdown hook and tracked task has returned, so
// work still in flight during shutdown can keep using the resource.
func (c *Coordinator) OnClose(fn func()) {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	c.closers = append(c.closers, fn)
}

// Go runs fn as a tracked background task. The task receives the coordinator
// context and Shutdown waits for it alongside the shutdown hooks. Once
// Shutdown has been called no new task is started and Go reports false.
func (c *Coordinator) Go(fn func(ctx context.Context)) bool {
	c.tasksMu.Lock()
	defer c.tasksMu.Unlock()

	if c.stopping {
		return false
	}
	c.tasksWg.Go(func() {
		fn(c.ctx)
	})
	return true
}

// Ready returns true after all startup hooks have completed.
func (c *Coordinator) Ready() bool {
	c.readyMu.RLock()
	defer c.readyMu.RUnlock()
	return c.ready
}

// WaitForStartup blocks until all startup hooks have completed and sets the ready flag.
func (c *Coordinator) WaitForStartup() {
	c.startupWg.Wait()
	c.readyMu.Lock()
	c.ready = true
	c.readyMu.Unlock()
}

// Drain blocks until every tracked background task has returned. It does not
// cancel the coordinator context.
func (c *Coordinator) Drain() {
	c.tasksWg.Wait()
}

// Shutdown cancels the context, waits for shutdown hooks and background
// tasks, then runs the close hooks. The whole sequence is bounded by timeout.
func (c *Coordinator) Shutdown(timeout time.Duration) error {
	c.tasksMu.Lock()
	c.stopping = true
	c.tasksMu.Unlock()

	c.cancel()

	done := make(chan struct{})
	go func() {
		c.shutdownWg.Wait()
		c.tasksWg.Wait()
		c.closeOnce.Do(c.runClosers)
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("shutdown timeout after %v", timeout)
	}
}

func (c *Coordinator) runClosers() {
	c.closeMu.Lock()
	closers := c.closers
	c.closeMu.Unlock()

	var wg sync.WaitGroup
	for _, fn := range closers {
		wg.Go(fn)
	}
	wg.Wait()
}
