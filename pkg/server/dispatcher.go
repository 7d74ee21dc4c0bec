package server

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"runtime"
	"runtime/debug"
	"sync"
	"time"
)

const maxAcceptDelay = time.Second

// RequestHandler answers a single parsed request.
type RequestHandler interface {
	Handle(ctx context.Context, r *http.Request) *Response
}

// Dispatcher accepts connections and serves them on a fixed pool of
// workers. Each connection carries one request. The accept loop hands each
// connection to a worker over an unbuffered channel, so when every worker
// is busy new connections wait in the listener's backlog.
type Dispatcher struct {
	handler RequestHandler
	workers int
	logger  *slog.Logger
	metrics *Metrics

	mu       sync.Mutex
	conns    map[net.Conn]struct{}
	shutdown bool
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithPoolSize sets the number of workers. Defaults to runtime.NumCPU().
func WithPoolSize(n int) DispatcherOption {
	return func(d *Dispatcher) {
		d.workers = n
	}
}

// WithDispatcherLogger sets the logger. Defaults to slog.Default().
func WithDispatcherLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithMetrics sets the collectors the dispatcher reports to.
func WithMetrics(m *Metrics) DispatcherOption {
	return func(d *Dispatcher) {
		if m != nil {
			d.metrics = m
		}
	}
}

// NewDispatcher creates a dispatcher for handler.
func NewDispatcher(handler RequestHandler, opts ...DispatcherOption) (*Dispatcher, error) {
	if handler == nil {
		return nil, errors.New("handler is required")
	}
	d := &Dispatcher{
		handler: handler,
		workers: runtime.NumCPU(),
		logger:  slog.Default(),
		conns:   make(map[net.Conn]struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.workers <= 0 {
		return nil, errors.New("pool size must be positive")
	}
	if d.metrics == nil {
		d.metrics = NewMetrics(nil)
	}
	return d, nil
}

// Serve accepts connections on ln until ctx is cancelled or accepting fails
// permanently. On return the listener and all open connections are closed
// and every worker has exited. Cancellation is not an error.
func (d *Dispatcher) Serve(ctx context.Context, ln net.Listener) error {
	conns := make(chan net.Conn)
	var wg sync.WaitGroup
	for i := range d.workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for c := range conns {
				d.serveConn(ctx, i, c)
			}
		}()
	}

	stop := context.AfterFunc(ctx, func() {
		ln.Close()
		d.closeAll()
	})

	d.logger.Info("dispatcher started", "addr", ln.Addr().String(), "workers", d.workers)
	err := d.acceptLoop(ctx, ln, conns)

	close(conns)
	if stop() {
		ln.Close()
		d.closeAll()
	}
	wg.Wait()
	d.logger.Info("dispatcher stopped")
	return err
}

func (d *Dispatcher) acceptLoop(ctx context.Context, ln net.Listener, conns chan<- net.Conn) error {
	var delay time.Duration
	for {
		c, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			delay = min(max(2*delay, 5*time.Millisecond), maxAcceptDelay)
			d.logger.Warn("accept failed, retrying", "delay", delay, "error", err)
			select {
			case <-time.After(delay):
				continue
			case <-ctx.Done():
				return nil
			}
		}
		delay = 0

		select {
		case conns <- c:
		case <-ctx.Done():
			c.Close()
			return nil
		}
	}
}

// serveConn answers the single request on c and closes it. Workers are
// only ever held by a request being read, handled or written, never by an
// idle connection.
func (d *Dispatcher) serveConn(ctx context.Context, worker int, c net.Conn) {
	if !d.track(c) {
		c.Close()
		return
	}
	defer d.untrack(c)

	d.metrics.busyWorkers.Inc()
	defer d.metrics.busyWorkers.Dec()

	logger := d.logger.With("worker", worker, "remote", c.RemoteAddr().String())
	br := bufio.NewReader(c)
	bw := bufio.NewWriter(c)

	req, err := http.ReadRequest(br)
	if err != nil {
		var opErr *net.OpError
		if errors.Is(err, io.EOF) || errors.As(err, &opErr) {
			return
		}
		logger.Info("malformed request", "error", err)
		resp := errorResponse(http.StatusBadRequest, ErrMalformed.Error())
		resp.httpResponse(nil).Write(bw)
		bw.Flush()
		return
	}

	resp := d.handle(context.WithoutCancel(ctx), logger, req)
	io.Copy(io.Discard, req.Body)
	req.Body.Close()

	if err := resp.httpResponse(req).Write(bw); err != nil {
		logger.Debug("write response failed", "error", err)
		return
	}
	if err := bw.Flush(); err != nil {
		logger.Debug("flush response failed", "error", err)
	}
}

// handle runs the handler, turning a panic into a 500.
func (d *Dispatcher) handle(ctx context.Context, logger *slog.Logger, req *http.Request) (resp *Response) {
	defer func() {
		if p := recover(); p != nil {
			logger.Error("handler panic", "method", req.Method, "path", req.URL.Path, "panic", p, "stack", string(debug.Stack()))
			resp = errorResponse(http.StatusInternalServerError, "internal error")
		}
	}()
	return d.handler.Handle(ctx, req)
}

func (d *Dispatcher) track(c net.Conn) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.shutdown {
		return false
	}
	d.conns[c] = struct{}{}
	return true
}

func (d *Dispatcher) untrack(c net.Conn) {
	d.mu.Lock()
	delete(d.conns, c)
	d.mu.Unlock()
	c.Close()
}

func (d *Dispatcher) closeAll() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.shutdown = true
	for c := range d.conns {
		c.Close()
	}
}
