package server

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
	"go.uber.org/atomic"
	"go.uber.org/multierr"

	"hermes"
	"hermes/lib/logger"
	"hermes/pubsub"
	"hermes/redis/client"
	"hermes/redis/resp"
	"hermes/settings"
)

// accept 失败后的重试间隔
const (
	minAcceptDelay = 5 * time.Millisecond
	maxAcceptDelay = time.Second
)

var (
	ErrServerClosed = errors.New("server: closed")
	errMaxClients   = errors.New("max number of clients reached")
)

// Handler accepts connections and runs one client.Client per connection.
type Handler struct {
	cfg    *settings.AppConfig
	db     *hermes.DB
	broker *pubsub.Broker

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	ln      net.Listener
	clients map[uint64]*client.Client // 存活的连接
	wg      conc.WaitGroup

	nextID  *atomic.Uint64
	closing *atomic.Bool
}

func MakeHandler(cfg *settings.AppConfig, db *hermes.DB, broker *pubsub.Broker) *Handler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Handler{
		cfg:     cfg,
		db:      db,
		broker:  broker,
		ctx:     ctx,
		cancel:  cancel,
		clients: make(map[uint64]*client.Client),
		nextID:  atomic.NewUint64(0),
		closing: atomic.NewBool(false),
	}
}

// Handle listens on the configured address and serves until Close.
func (h *Handler) Handle() error {
	ln, err := net.Listen("tcp", h.cfg.Addr())
	if err != nil {
		return err
	}
	logger.Infof("%s server running on %s, ready to accept connections.", h.cfg.Name, ln.Addr())
	return h.Serve(ln)
}

// Serve accepts connections on ln until Close is called or ln is closed,
// and then returns nil. Other accept errors, such as running out of file
// descriptors, are logged and retried with a capped backoff.
func (h *Handler) Serve(ln net.Listener) error {
	h.mu.Lock()
	if h.closing.Load() {
		h.mu.Unlock()
		_ = ln.Close()
		return ErrServerClosed
	}
	h.ln = ln
	h.mu.Unlock()

	var delay time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if h.closing.Load() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			if delay == 0 {
				delay = minAcceptDelay
			} else {
				delay *= 2
			}
			if delay > maxAcceptDelay {
				delay = maxAcceptDelay
			}
			logger.Warnf("accept error: %v; retrying in %v", err, delay)
			select {
			case <-time.After(delay):
			case <-h.ctx.Done():
				return nil
			}
			continue
		}
		delay = 0
		h.accept(conn)
	}
}

func (h *Handler) accept(conn net.Conn) {
	c := client.New(h.nextID.Inc(), conn, h.db, h.broker, h.clientOptions())
	if err := h.track(c); err != nil {
		if errors.Is(err, errMaxClients) {
			logger.Warnf("client %s rejected: %v", conn.RemoteAddr(), err)
			_, _ = conn.Write(resp.Encode(resp.NewError("ERR " + err.Error())))
		}
		_ = conn.Close()
		return
	}
	logger.Debugf("client %d %s connected", c.ID(), conn.RemoteAddr())
}

// track 登记连接并启动处理 goroutine，与 Close 互斥
func (h *Handler) track(c *client.Client) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closing.Load() {
		return ErrServerClosed
	}
	if limit := h.cfg.MaxClients; limit > 0 && len(h.clients) >= limit {
		return errMaxClients
	}
	h.clients[c.ID()] = c
	h.wg.Go(func() {
		h.serveClient(c)
	})
	return nil
}

func (h *Handler) untrack(c *client.Client) {
	h.mu.Lock()
	delete(h.clients, c.ID())
	h.mu.Unlock()
}

// serveClient 一个连接中的 panic 只断开这个连接
func (h *Handler) serveClient(c *client.Client) {
	defer h.untrack(c)

	var (
		catcher panics.Catcher
		err     error
	)
	catcher.Try(func() {
		err = c.Serve(h.ctx)
	})
	if r := catcher.Recovered(); r != nil {
		_ = c.Close()
		logger.Errorf("client %d panic: %v\n%s", c.ID(), r.Value, r.Stack)
		return
	}

	switch {
	case err == nil:
		logger.Debugf("client %d disconnected", c.ID())
	case errors.Is(err, client.ErrEvicted):
		logger.Warnf("client %d %v", c.ID(), err)
	default:
		logger.Warnf("client %d closed: %v", c.ID(), err)
	}
}

func (h *Handler) clientOptions() client.Options {
	var opts client.Options
	if h.cfg.ClientConfig != nil {
		opts.ReadBufferSize = h.cfg.ReadBufferSize
		opts.MaxQueryBuffer = h.cfg.MaxQueryBuffer
	}
	if h.cfg.PubSubConfig != nil {
		opts.MailboxSize = h.cfg.MailboxSize
	}
	return opts
}

// Clients 当前存活的连接数
func (h *Handler) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Addr returns the listener address, or nil before Serve.
func (h *Handler) Addr() net.Addr {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ln == nil {
		return nil
	}
	return h.ln.Addr()
}

// Close stops accepting, closes every live connection and waits for their
// goroutines to finish.
func (h *Handler) Close() error {
	if !h.closing.CAS(false, true) {
		return nil
	}
	h.cancel()

	var err error
	h.mu.Lock()
	if h.ln != nil {
		err = multierr.Append(err, h.ln.Close())
	}
	for _, c := range h.clients {
		err = multierr.Append(err, c.Close())
	}
	h.mu.Unlock()

	h.wg.Wait()
	logger.Info("server closed")
	return err
}
