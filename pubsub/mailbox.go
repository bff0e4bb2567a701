package pubsub

import (
	"sync"

	"hermes/redis/resp"
)

// Message 推送给订阅者的一条消息
type Message struct {
	Channel string
	Payload resp.Frame
}

// Mailbox is the bounded delivery path of one subscribed connection. The
// broker only ever offers to it without blocking; a mailbox that is full
// or closed loses its subscriptions.
type Mailbox struct {
	id       uint64
	messages chan Message
	done     chan struct{}
	once     sync.Once
}

func NewMailbox(id uint64, size int) *Mailbox {
	if size <= 0 {
		size = 1
	}
	return &Mailbox{
		id:       id,
		messages: make(chan Message, size),
		done:     make(chan struct{}),
	}
}

func (m *Mailbox) ID() uint64 {
	return m.id
}

// Messages 待投递的消息
func (m *Mailbox) Messages() <-chan Message {
	return m.messages
}

// Done is closed once the mailbox no longer accepts messages, either because
// its owner went away or because the broker evicted it.
func (m *Mailbox) Done() <-chan struct{} {
	return m.done
}

func (m *Mailbox) Close() {
	m.once.Do(func() {
		close(m.done)
	})
}

func (m *Mailbox) IsClosed() bool {
	select {
	case <-m.done:
		return true
	default:
		return false
	}
}

// offer 非阻塞投递，messages 永远不会被 close，所以这里不会 panic
func (m *Mailbox) offer(msg Message) bool {
	if m.IsClosed() {
		return false
	}
	select {
	case m.messages <- msg:
		return true
	default:
		return false
	}
}
