package client

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hermes"
	"hermes/pubsub"
	"hermes/redis/parser"
	"hermes/redis/resp"
	"hermes/settings"
)

type testEnv struct {
	db     *hermes.DB
	broker *pubsub.Broker
	nextID uint64
}

func newTestEnv(t *testing.T) *testEnv {
	db, err := hermes.Open(&settings.DBConfig{IndexType: settings.HashMap})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return &testEnv{db: db, broker: pubsub.NewBroker()}
}

type testConn struct {
	client *Client
	peer   net.Conn
	errc   chan error
}

func (e *testEnv) connect(t *testing.T, opts Options) *testConn {
	server, peer := net.Pipe()
	e.nextID++
	c := New(e.nextID, server, e.db, e.broker, opts)
	tc := &testConn{client: c, peer: peer, errc: make(chan error, 1)}
	go func() { tc.errc <- c.Serve(context.Background()) }()
	t.Cleanup(func() { _ = peer.Close() })
	return tc
}

func (tc *testConn) send(t *testing.T, raw string) {
	t.Helper()
	require.NoError(t, tc.peer.SetWriteDeadline(time.Now().Add(2*time.Second)))
	_, err := tc.peer.Write([]byte(raw))
	require.NoError(t, err)
}

func (tc *testConn) expect(t *testing.T, want string) {
	t.Helper()
	require.NoError(t, tc.peer.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, len(want))
	_, err := io.ReadFull(tc.peer, buf)
	require.NoError(t, err)
	assert.Equal(t, want, string(buf))
}

func (tc *testConn) do(t *testing.T, want string, args ...string) {
	t.Helper()
	tc.send(t, cmd(args...))
	tc.expect(t, want)
}

func (tc *testConn) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-tc.errc:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
		return nil
	}
}

func cmd(args ...string) string {
	return string(resp.Encode(resp.NewBulkArray(args...)))
}

func TestClient_GetSet(t *testing.T) {
	env := newTestEnv(t)
	c := env.connect(t, Options{})

	c.send(t, "*3\r\n$3\r\nSET\r\n$3\r\nfoo\r\n$3\r\nbar\r\n")
	c.expect(t, "+OK\r\n")
	c.send(t, "*2\r\n$3\r\nGET\r\n$3\r\nfoo\r\n")
	c.expect(t, "$3\r\nbar\r\n")
	c.send(t, "*2\r\n$3\r\nGET\r\n$6\r\nnoexst\r\n")
	c.expect(t, "$-1\r\n")

	assert.Equal(t, 1, env.db.Size())
}

func TestClient_FragmentedAndPipelined(t *testing.T) {
	env := newTestEnv(t)
	c := env.connect(t, Options{ReadBufferSize: 4})

	raw := cmd("SET", "k", "v") + cmd("GET", "k") + cmd("PING")
	sent := make(chan error, 1)
	go func() {
		// 回复同时在写出，发送放到单独的 goroutine 中
		for i := 0; i < len(raw); i += 3 {
			end := i + 3
			if end > len(raw) {
				end = len(raw)
			}
			if _, err := c.peer.Write([]byte(raw[i:end])); err != nil {
				sent <- err
				return
			}
		}
		sent <- nil
	}()
	c.expect(t, "+OK\r\n$1\r\nv\r\n+PONG\r\n")
	assert.NoError(t, <-sent)
}

func TestClient_Commands(t *testing.T) {
	env := newTestEnv(t)
	c := env.connect(t, Options{})

	c.do(t, "+PONG\r\n", "ping")
	c.do(t, "$2\r\nhi\r\n", "PING", "hi")
	c.do(t, "$5\r\nhello\r\n", "ECHO", "hello")
	c.do(t, "+OK\r\n", "SET", "user:1", "a")
	c.do(t, "+OK\r\n", "SET", "user:2", "b")
	c.do(t, ":2\r\n", "EXISTS", "user:1", "user:2", "nope")
	c.do(t, "*2\r\n$6\r\nuser:1\r\n$6\r\nuser:2\r\n", "KEYS", "user:*")
	c.do(t, ":2\r\n", "DBSIZE")
	c.do(t, ":1\r\n", "DEL", "user:1", "nope")
	c.do(t, ":1\r\n", "DBSIZE")
}

func TestClient_Errors(t *testing.T) {
	env := newTestEnv(t)
	c := env.connect(t, Options{})

	c.do(t, "-ERR unknown command 'FOO', with args beginning with: 'a' 'b' \r\n", "FOO", "a", "b")
	c.do(t, "-ERR wrong number of arguments for 'get' command\r\n", "GET")
	c.do(t, "-ERR wrong number of arguments for 'set' command\r\n", "SET", "k")
	c.do(t, "-ERR unknown subcommand 'nope'. Try PUBSUB HELP.\r\n", "PUBSUB", "nope")

	c.send(t, "+PING\r\n")
	c.expect(t, "-ERR Protocol error: expected array of bulk strings\r\n")
	c.send(t, "*0\r\n")
	c.expect(t, "-ERR Protocol error: expected array of bulk strings\r\n")

	// 参数错误之后连接仍然可用
	c.do(t, "+PONG\r\n", "PING")
}

func TestClient_DecodeErrorClosesConnection(t *testing.T) {
	env := newTestEnv(t)
	c := env.connect(t, Options{})

	c.send(t, "*1\r\n$x\r\n")
	require.NoError(t, c.peer.SetReadDeadline(time.Now().Add(2*time.Second)))
	b, err := io.ReadAll(c.peer)
	require.NoError(t, err)
	assert.Contains(t, string(b), "-ERR Protocol error: ")

	err = c.wait(t)
	assert.ErrorIs(t, err, parser.ErrProtocol)
}

func TestClient_QueryBufferLimit(t *testing.T) {
	env := newTestEnv(t)
	c := env.connect(t, Options{ReadBufferSize: 8, MaxQueryBuffer: 64})

	go func() {
		// 对端关闭后写入会失败，忽略
		_, _ = c.peer.Write([]byte(cmd("SET", "k", string(make([]byte, 1024)))))
	}()
	require.NoError(t, c.peer.SetReadDeadline(time.Now().Add(2*time.Second)))
	b, _ := io.ReadAll(c.peer)
	assert.Contains(t, string(b), "-ERR Protocol error: ")
	assert.ErrorIs(t, c.wait(t), ErrQueryBufferLimit)
}

func TestClient_Quit(t *testing.T) {
	env := newTestEnv(t)
	c := env.connect(t, Options{})

	c.do(t, "+OK\r\n", "QUIT")
	assert.NoError(t, c.wait(t))

	_, err := c.peer.Read(make([]byte, 1))
	assert.Error(t, err)
}

func TestClient_PeerClose(t *testing.T) {
	env := newTestEnv(t)
	c := env.connect(t, Options{})

	c.do(t, "+PONG\r\n", "PING")
	require.NoError(t, c.peer.Close())
	assert.NoError(t, c.wait(t))
}

func TestClient_ContextCancel(t *testing.T) {
	env := newTestEnv(t)
	server, peer := net.Pipe()
	defer peer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	c := New(1, server, env.db, env.broker, Options{})
	errc := make(chan error, 1)
	go func() { errc <- c.Serve(ctx) }()

	cancel()
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
	}
}

func TestClient_PublishSubscribe(t *testing.T) {
	env := newTestEnv(t)
	a := env.connect(t, Options{MailboxSize: 16})
	b := env.connect(t, Options{})

	a.send(t, "*2\r\n$9\r\nSUBSCRIBE\r\n$4\r\nnews\r\n")
	a.expect(t, "*3\r\n$9\r\nsubscribe\r\n$4\r\nnews\r\n:1\r\n")

	b.send(t, "*3\r\n$7\r\nPUBLISH\r\n$4\r\nnews\r\n$5\r\nhello\r\n")
	b.expect(t, ":1\r\n")
	a.expect(t, "*3\r\n$7\r\nmessage\r\n$4\r\nnews\r\n$5\r\nhello\r\n")

	b.do(t, "*1\r\n$4\r\nnews\r\n", "PUBSUB", "CHANNELS")
	b.do(t, "*4\r\n$4\r\nnews\r\n:1\r\n$5\r\nother\r\n:0\r\n", "PUBSUB", "NUMSUB", "news", "other")

	require.NoError(t, a.peer.Close())
	assert.NoError(t, a.wait(t))
	assert.Equal(t, 0, env.broker.NumSub("news"))

	b.send(t, "*3\r\n$7\r\nPUBLISH\r\n$4\r\nnews\r\n$5\r\nhello\r\n")
	b.expect(t, ":0\r\n")
}

func TestClient_SubscribedMode(t *testing.T) {
	env := newTestEnv(t)
	c := env.connect(t, Options{})

	c.do(t, "*3\r\n$9\r\nsubscribe\r\n$1\r\na\r\n:1\r\n*3\r\n$9\r\nsubscribe\r\n$1\r\nb\r\n:2\r\n",
		"SUBSCRIBE", "a", "b")
	c.do(t, "*2\r\n$4\r\npong\r\n$0\r\n\r\n", "PING")
	c.do(t, "*2\r\n$4\r\npong\r\n$2\r\nhi\r\n", "PING", "hi")
	c.do(t, "-ERR Can't execute 'get': only SUBSCRIBE / UNSUBSCRIBE / PING / QUIT are allowed in this context\r\n",
		"GET", "k")

	c.do(t, "*3\r\n$11\r\nunsubscribe\r\n$1\r\na\r\n:1\r\n", "UNSUBSCRIBE", "a")
	assert.Equal(t, 1, env.broker.NumSub("b"))
	c.do(t, "*3\r\n$11\r\nunsubscribe\r\n$1\r\nb\r\n:0\r\n", "UNSUBSCRIBE")

	// 退订全部频道后回到普通模式
	c.do(t, "$-1\r\n", "GET", "k")
	c.do(t, "*3\r\n$11\r\nunsubscribe\r\n$-1\r\n:0\r\n", "UNSUBSCRIBE")
	assert.Equal(t, 0, env.broker.NumSub("a")+env.broker.NumSub("b"))
}

func TestClient_SubscribeTwice(t *testing.T) {
	env := newTestEnv(t)
	c := env.connect(t, Options{})

	c.do(t, "*3\r\n$9\r\nsubscribe\r\n$1\r\na\r\n:1\r\n", "SUBSCRIBE", "a")
	c.do(t, "*3\r\n$9\r\nsubscribe\r\n$1\r\na\r\n:1\r\n", "SUBSCRIBE", "a")
	assert.Equal(t, 1, env.broker.NumSub("a"))
	assert.Equal(t, 1, env.broker.Publish("a", resp.NewBulkString("x")))
	c.expect(t, "*3\r\n$7\r\nmessage\r\n$1\r\na\r\n$1\r\nx\r\n")
}

func TestClient_EvictedWhenMailboxFull(t *testing.T) {
	env := newTestEnv(t)
	a := env.connect(t, Options{MailboxSize: 1})
	b := env.connect(t, Options{})

	a.do(t, "*3\r\n$9\r\nsubscribe\r\n$4\r\nnews\r\n:1\r\n", "SUBSCRIBE", "news")

	// a 不读取，推送阻塞在写入上，mailbox 很快被塞满
	evicted := false
	for i := 0; i < 10 && !evicted; i++ {
		b.send(t, cmd("PUBLISH", "news", "x"))
		require.NoError(t, b.peer.SetReadDeadline(time.Now().Add(2*time.Second)))
		buf := make([]byte, 4)
		_, err := io.ReadFull(b.peer, buf)
		require.NoError(t, err)
		evicted = string(buf) == ":0\r\n"
	}
	require.True(t, evicted)
	assert.Equal(t, 0, env.broker.NumSub("news"))

	go func() { _, _ = io.Copy(io.Discard, a.peer) }()
	err := a.wait(t)
	assert.True(t, errors.Is(err, ErrEvicted), "got %v", err)
}

func TestClient_Close(t *testing.T) {
	env := newTestEnv(t)
	c := env.connect(t, Options{})

	c.do(t, "*3\r\n$9\r\nsubscribe\r\n$1\r\na\r\n:1\r\n", "SUBSCRIBE", "a")
	require.NoError(t, c.client.Close())
	require.NoError(t, c.client.Close())
	assert.NoError(t, c.wait(t))
	assert.Equal(t, 0, env.broker.NumSub("a"))
}
