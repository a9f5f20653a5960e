package logging

import (
	"io"
	"os"
	"sync"
)

// Handler receives formatted log entries in order.
type Handler interface {
	Handle(Entry)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(Entry)

// Handle calls the function.
func (f HandlerFunc) Handle(e Entry) { f(e) }

// WriterHandler writes entries as lines to an io.Writer.
type WriterHandler struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriterHandler creates a handler writing to w. A nil writer defaults
// to os.Stderr.
func NewWriterHandler(w io.Writer) *WriterHandler {
	if w == nil {
		w = os.Stderr
	}
	return &WriterHandler{w: w}
}

// Handle writes the entry as a single line.
func (h *WriterHandler) Handle(e Entry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, _ = h.w.Write([]byte(e.String() + "\n"))
}

// Controller is the ordered logging pipeline shared by all loggers.
//
// Every message enqueues onto a single buffered channel; one worker
// goroutine delivers them, so interleaved calls from different
// goroutines still produce a strictly ordered stream. While no handler
// is attached, delivered messages accumulate in a backlog; attaching a
// handler flushes the backlog in original order before any newer
// message is handled.
type Controller struct {
	mu      sync.Mutex
	level   Level
	handler Handler
	backlog []Entry

	queue  chan Entry
	done   chan struct{}
	wg     sync.WaitGroup
	closed bool
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithLevel sets the minimum level passed through the controller.
func WithLevel(level Level) ControllerOption {
	return func(c *Controller) { c.level = level }
}

// WithHandler attaches a handler at construction time.
func WithHandler(h Handler) ControllerOption {
	return func(c *Controller) { c.handler = h }
}

// WithQueueSize sets the submission queue capacity.
func WithQueueSize(n int) ControllerOption {
	return func(c *Controller) {
		if n > 0 {
			c.queue = make(chan Entry, n)
		}
	}
}

// NewController creates and starts a controller.
func NewController(opts ...ControllerOption) *Controller {
	c := &Controller{
		level: LevelInfo,
		queue: make(chan Entry, 256),
		done:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.wg.Add(1)
	go c.process()
	return c
}

// Logger returns a logger for the given source, routed through this
// controller.
func (c *Controller) Logger(source string) *Logger {
	return &Logger{ctrl: c, source: source}
}

// SetLevel sets the minimum level passed through the controller.
func (c *Controller) SetLevel(level Level) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.level = level
}

// Level returns the current minimum level.
func (c *Controller) Level() Level {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.level
}

// SetHandler attaches the handler and flushes any backlog to it in
// original order. A nil handler detaches; later messages queue again.
func (c *Controller) SetHandler(h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.handler = h
	if h == nil {
		return
	}
	for _, e := range c.backlog {
		h.Handle(e)
	}
	c.backlog = nil
}

// Close stops the controller after draining queued messages. It is safe
// to call Close multiple times.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	close(c.done)
	c.wg.Wait()
}

func (c *Controller) enabled(level Level) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return level >= c.level
}

func (c *Controller) submit(e Entry) {
	select {
	case c.queue <- e:
	case <-c.done:
	}
}

// deliver hands one entry to the handler, or stashes it in the backlog
// when none is attached. The lock is held across the handler call so
// SetHandler's backlog flush cannot interleave with newer entries.
func (c *Controller) deliver(e Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.handler == nil {
		c.backlog = append(c.backlog, e)
		return
	}
	c.handler.Handle(e)
}

func (c *Controller) process() {
	defer c.wg.Done()

	for {
		select {
		case e := <-c.queue:
			c.deliver(e)
		case <-c.done:
			// Drain remaining queued entries before stopping.
			for {
				select {
				case e := <-c.queue:
					c.deliver(e)
				default:
					return
				}
			}
		}
	}
}
