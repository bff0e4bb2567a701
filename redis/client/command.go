package client

import (
	"fmt"
	"strings"

	"hermes/redis/resp"
)

type cmdHandler func(c *Client, args [][]byte)

// command 命令表中的一项，参数个数不含命令名
type command struct {
	minArgs    int
	maxArgs    int  // -1 表示不限
	subscribed bool // 订阅模式下是否允许执行
	handler    cmdHandler
}

func (cmd *command) arityOK(n int) bool {
	return n >= cmd.minArgs && (cmd.maxArgs < 0 || n <= cmd.maxArgs)
}

var supportedCommands = map[string]*command{
	"get":         {minArgs: 1, maxArgs: 1, handler: get},
	"set":         {minArgs: 2, maxArgs: 2, handler: set},
	"del":         {minArgs: 1, maxArgs: -1, handler: del},
	"exists":      {minArgs: 1, maxArgs: -1, handler: exists},
	"keys":        {minArgs: 1, maxArgs: 1, handler: keys},
	"dbsize":      {minArgs: 0, maxArgs: 0, handler: dbsize},
	"ping":        {minArgs: 0, maxArgs: 1, subscribed: true, handler: ping},
	"echo":        {minArgs: 1, maxArgs: 1, handler: echo},
	"quit":        {minArgs: 0, maxArgs: -1, subscribed: true, handler: quit},
	"publish":     {minArgs: 2, maxArgs: 2, handler: publish},
	"subscribe":   {minArgs: 1, maxArgs: -1, subscribed: true, handler: subscribe},
	"unsubscribe": {minArgs: 0, maxArgs: -1, subscribed: true, handler: unsubscribe},
	"pubsub":      {minArgs: 1, maxArgs: -1, handler: pubsubCmd},
}

func normalizeCommandName(b []byte) string {
	return strings.ToLower(string(b))
}

func unknownCommand(args [][]byte) resp.Frame {
	var sb strings.Builder
	fmt.Fprintf(&sb, "ERR unknown command '%s', with args beginning with: ", args[0])
	for _, arg := range args[1:] {
		fmt.Fprintf(&sb, "'%s' ", arg)
	}
	return resp.NewError(sb.String())
}

func get(c *Client, args [][]byte) {
	c.reply(c.db.Get(string(args[0])))
}

func set(c *Client, args [][]byte) {
	c.db.Set(string(args[0]), resp.NewBulk(args[1]))
	c.reply(resp.OK)
}

func del(c *Client, args [][]byte) {
	c.reply(resp.NewInteger(int64(c.db.Del(toStrings(args)...))))
}

func exists(c *Client, args [][]byte) {
	c.reply(resp.NewInteger(int64(c.db.Exists(toStrings(args)...))))
}

func keys(c *Client, args [][]byte) {
	c.reply(resp.NewBulkArray(c.db.Keys(string(args[0]))...))
}

func dbsize(c *Client, _ [][]byte) {
	c.reply(resp.NewInteger(int64(c.db.Size())))
}

func ping(c *Client, args [][]byte) {
	if c.State() == Subscribed {
		var msg []byte
		if len(args) > 0 {
			msg = args[0]
		}
		c.reply(resp.NewArray(resp.NewBulkString("pong"), resp.NewBulk(msg)))
		return
	}
	if len(args) == 0 {
		c.reply(resp.Pong)
		return
	}
	c.reply(resp.NewBulk(args[0]))
}

func echo(c *Client, args [][]byte) {
	c.reply(resp.NewBulk(args[0]))
}

func quit(c *Client, _ [][]byte) {
	c.reply(resp.OK)
	c.quit = true
}

func publish(c *Client, args [][]byte) {
	n := c.broker.Publish(string(args[0]), resp.NewBulk(args[1]))
	c.reply(resp.NewInteger(int64(n)))
}

func subscribe(c *Client, args [][]byte) {
	for _, arg := range args {
		channel := string(arg)
		if err := c.subscribe(channel); err != nil {
			c.reply(resp.NewError("ERR " + err.Error()))
			return
		}
		c.reply(subscription("subscribe", resp.NewBulkString(channel), len(c.channels)))
	}
}

func unsubscribe(c *Client, args [][]byte) {
	channels := toStrings(args)
	if len(channels) == 0 {
		channels = c.subscribedChannels()
		if len(channels) == 0 {
			c.reply(subscription("unsubscribe", resp.NewNull(), 0))
			return
		}
	}
	for _, channel := range channels {
		c.unsubscribe(channel)
		c.reply(subscription("unsubscribe", resp.NewBulkString(channel), len(c.channels)))
	}
}

// subscription 订阅/退订的确认回复：[kind, channel, 当前订阅数]
func subscription(kind string, channel resp.Frame, count int) resp.Frame {
	return resp.NewArray(resp.NewBulkString(kind), channel, resp.NewInteger(int64(count)))
}

func pubsubCmd(c *Client, args [][]byte) {
	switch strings.ToLower(string(args[0])) {
	case "channels":
		if len(args) > 2 {
			c.reply(resp.NewError("ERR wrong number of arguments for 'pubsub|channels' command"))
			return
		}
		pattern := ""
		if len(args) == 2 {
			pattern = string(args[1])
		}
		c.reply(resp.NewBulkArray(c.broker.Channels(pattern)...))
	case "numsub":
		elems := make([]resp.Frame, 0, 2*(len(args)-1))
		for _, arg := range args[1:] {
			channel := string(arg)
			elems = append(elems, resp.NewBulkString(channel), resp.NewInteger(int64(c.broker.NumSub(channel))))
		}
		c.reply(resp.NewArray(elems...))
	default:
		c.reply(resp.NewError(fmt.Sprintf("ERR unknown subcommand '%s'. Try PUBSUB HELP.", args[0])))
	}
}

func toStrings(args [][]byte) []string {
	out := make([]string, len(args))
	for i, arg := range args {
		out[i] = string(arg)
	}
	return out
}
