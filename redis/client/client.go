// Package client runs one redis protocol connection: it decodes requests,
// dispatches them against the shared DB and broker, and pushes published
// messages while the connection is subscribed.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sort"

	"go.uber.org/atomic"

	"hermes"
	"hermes/lib/logger"
	"hermes/pubsub"
	"hermes/redis/parser"
	"hermes/redis/resp"
)

var ErrEvicted = errors.New("client: evicted by broker, mailbox full")

// State 连接状态
type State int

const (
	Normal State = iota
	Subscribed
)

func (s State) String() string {
	if s == Subscribed {
		return "subscribed"
	}
	return "normal"
}

type Options struct {
	ReadBufferSize int // 读缓冲区初始大小
	MaxQueryBuffer int // 读缓冲区上限，0 表示不限
	MailboxSize    int // 订阅消息积压上限
}

// Client 一个客户端连接
type Client struct {
	id     uint64
	conn   net.Conn
	db     *hermes.DB
	broker *pubsub.Broker
	opts   Options

	reader *frameReader
	out    []byte // 待写出的回复

	mailbox  *pubsub.Mailbox     // 仅在订阅状态下非空
	channels map[string]struct{} // 已订阅的频道
	quit     bool

	closed *atomic.Bool
}

type readResult struct {
	frame resp.Frame
	err   error
}

func New(id uint64, conn net.Conn, db *hermes.DB, broker *pubsub.Broker, opts Options) *Client {
	return &Client{
		id:       id,
		conn:     conn,
		db:       db,
		broker:   broker,
		opts:     opts,
		reader:   newFrameReader(conn, opts.ReadBufferSize, opts.MaxQueryBuffer),
		channels: make(map[string]struct{}),
		closed:   atomic.NewBool(false),
	}
}

func (c *Client) ID() uint64 {
	return c.id
}

func (c *Client) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// State is only meaningful on the goroutine running Serve.
func (c *Client) State() State {
	if len(c.channels) > 0 {
		return Subscribed
	}
	return Normal
}

// Close closes the underlying connection, which makes Serve return. It is
// safe to call from any goroutine and more than once.
func (c *Client) Close() error {
	if !c.closed.CAS(false, true) {
		return nil
	}
	return c.conn.Close()
}

// Serve processes the connection until the peer goes away, a fatal error
// happens, or ctx is cancelled. Every subscription of the connection has
// been removed from the broker by the time Serve returns. A nil error means
// the connection ended normally.
func (c *Client) Serve(ctx context.Context) (err error) {
	frames := make(chan readResult)
	stop := make(chan struct{})
	readerDone := make(chan struct{})
	go c.readLoop(frames, stop, readerDone)

	defer func() {
		close(stop)
		_ = c.Close()
		<-readerDone
		if n := c.broker.UnsubscribeAll(c.id); n > 0 {
			logger.Debugf("client %d dropped %d subscriptions", c.id, n)
		}
		if c.mailbox != nil {
			c.mailbox.Close()
		}
	}()

	for {
		var (
			messages <-chan pubsub.Message
			evicted  <-chan struct{}
		)
		if c.mailbox != nil {
			messages = c.mailbox.Messages()
			evicted = c.mailbox.Done()
		}

		select {
		case r := <-frames:
			if r.err != nil {
				return c.readFailed(r.err)
			}
			c.exec(r.frame)
		case msg := <-messages:
			c.push(msg)
		case <-evicted:
			return ErrEvicted
		case <-ctx.Done():
			return nil
		}

		if err := c.flush(); err != nil {
			if c.closed.Load() {
				return nil
			}
			return err
		}
		if c.quit {
			return nil
		}
	}
}

// readLoop 在独立的 goroutine 中解析请求，解析结果交给 Serve 处理
func (c *Client) readLoop(frames chan<- readResult, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		f, err := c.reader.ReadFrame()
		select {
		case frames <- readResult{frame: f, err: err}:
		case <-stop:
			return
		}
		if err != nil {
			return
		}
	}
}

func (c *Client) readFailed(err error) error {
	switch {
	case errors.Is(err, io.EOF):
		return nil
	case errors.Is(err, parser.ErrProtocol), errors.Is(err, parser.ErrLimitExceeded), errors.Is(err, ErrQueryBufferLimit):
		// 协议错误：尽量告知客户端，然后断开
		c.reply(resp.NewError("ERR Protocol error: " + err.Error()))
		_ = c.flush()
		return err
	case c.closed.Load() || errors.Is(err, net.ErrClosed):
		return nil
	default:
		return err
	}
}

// exec 校验请求并分发到命令表
func (c *Client) exec(f resp.Frame) {
	args, ok := commandArgs(f)
	if !ok {
		c.reply(resp.NewError("ERR Protocol error: expected array of bulk strings"))
		return
	}

	name := normalizeCommandName(args[0])
	cmd, ok := supportedCommands[name]
	if !ok {
		c.reply(unknownCommand(args))
		return
	}
	if !cmd.arityOK(len(args) - 1) {
		c.reply(resp.NewError(fmt.Sprintf("ERR wrong number of arguments for '%s' command", name)))
		return
	}
	if c.State() == Subscribed && !cmd.subscribed {
		c.reply(resp.NewError(fmt.Sprintf(
			"ERR Can't execute '%s': only SUBSCRIBE / UNSUBSCRIBE / PING / QUIT are allowed in this context", name)))
		return
	}
	cmd.handler(c, args[1:])
}

// push 写出一条订阅消息，已退订频道的积压消息直接丢弃
func (c *Client) push(msg pubsub.Message) {
	if _, ok := c.channels[msg.Channel]; !ok {
		return
	}
	c.reply(resp.NewArray(resp.NewBulkString("message"), resp.NewBulkString(msg.Channel), msg.Payload))
}

func (c *Client) reply(f resp.Frame) {
	c.out = resp.AppendFrame(c.out, f)
}

func (c *Client) flush() error {
	if len(c.out) == 0 {
		return nil
	}
	_, err := c.conn.Write(c.out)
	if cap(c.out) > 64*1024 {
		c.out = nil
	} else {
		c.out = c.out[:0]
	}
	return err
}

func (c *Client) subscribe(channel string) error {
	if c.mailbox == nil {
		c.mailbox = pubsub.NewMailbox(c.id, c.opts.MailboxSize)
	}
	if err := c.broker.Subscribe(c.mailbox, channel); err != nil {
		return err
	}
	c.channels[channel] = struct{}{}
	return nil
}

func (c *Client) unsubscribe(channel string) bool {
	if _, ok := c.channels[channel]; !ok {
		return false
	}
	c.broker.Unsubscribe(c.id, channel)
	delete(c.channels, channel)
	if len(c.channels) == 0 {
		// 回到普通模式，积压的消息随 mailbox 一起丢弃
		c.mailbox = nil
	}
	return true
}

// subscribedChannels 按字典序返回已订阅的频道
func (c *Client) subscribedChannels() []string {
	channels := make([]string, 0, len(c.channels))
	for ch := range c.channels {
		channels = append(channels, ch)
	}
	sort.Strings(channels)
	return channels
}

// commandArgs 请求必须是非空的 bulk string 数组
func commandArgs(f resp.Frame) ([][]byte, bool) {
	if f.Kind() != resp.Array || f.Len() == 0 {
		return nil, false
	}
	args := make([][]byte, f.Len())
	for i := range args {
		elem := f.Index(i)
		if elem.Kind() != resp.BulkString {
			return nil, false
		}
		args[i] = elem.Bytes()
	}
	return args, true
}
