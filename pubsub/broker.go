// Package pubsub fans published values out to subscribed connections
// without ever blocking the publisher.
package pubsub

import (
	"errors"
	"sort"
	"sync"

	"github.com/tidwall/match"

	"hermes/lib/logger"
	"hermes/redis/resp"
)

var ErrMailboxClosed = errors.New("pubsub: mailbox is closed")

// Broker 频道注册表：channel -> 订阅者 id -> mailbox。
// 没有订阅者的频道直接从注册表中删除。
type Broker struct {
	mu       sync.RWMutex
	channels map[string]map[uint64]*Mailbox
}

func NewBroker() *Broker {
	return &Broker{
		channels: make(map[string]map[uint64]*Mailbox),
	}
}

// Subscribe registers m on channel. Subscribing twice is a no-op.
func (b *Broker) Subscribe(m *Mailbox, channel string) error {
	if m.IsClosed() {
		return ErrMailboxClosed
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.channels[channel]
	if !ok {
		subs = make(map[uint64]*Mailbox)
		b.channels[channel] = subs
	}
	subs[m.ID()] = m
	return nil
}

// Unsubscribe removes subscriber id from channel and reports whether it
// was subscribed.
func (b *Broker) Unsubscribe(id uint64, channel string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.remove(id, channel)
}

// UnsubscribeAll removes subscriber id from every channel and returns how
// many subscriptions were dropped.
func (b *Broker) UnsubscribeAll(id uint64) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for channel := range b.channels {
		if b.remove(id, channel) {
			n++
		}
	}
	return n
}

// remove 调用方需持有写锁
func (b *Broker) remove(id uint64, channel string) bool {
	subs, ok := b.channels[channel]
	if !ok {
		return false
	}
	if _, ok = subs[id]; !ok {
		return false
	}
	delete(subs, id)
	if len(subs) == 0 {
		delete(b.channels, channel)
	}
	return true
}

// Publish offers payload to every subscriber of channel and returns the
// number of subscribers that accepted it. Subscribers whose mailbox is
// closed or full are pruned; a full mailbox is closed as well, which
// disconnects its owner.
func (b *Broker) Publish(channel string, payload resp.Frame) int {
	msg := Message{Channel: channel, Payload: payload}

	b.mu.RLock()
	subs := b.channels[channel]
	if len(subs) == 0 {
		b.mu.RUnlock()
		return 0
	}
	delivered := 0
	var stale []*Mailbox
	for _, m := range subs {
		if m.offer(msg) {
			delivered++
		} else {
			stale = append(stale, m)
		}
	}
	b.mu.RUnlock()

	if len(stale) > 0 {
		b.prune(channel, stale)
	}
	return delivered
}

func (b *Broker) prune(channel string, stale []*Mailbox) {
	var evicted []uint64
	b.mu.Lock()
	for _, m := range stale {
		if !m.IsClosed() {
			evicted = append(evicted, m.ID())
			m.Close()
		}
		// 期间可能已经退订又重新订阅，只删除同一个 mailbox
		if subs, ok := b.channels[channel]; ok && subs[m.ID()] == m {
			b.remove(m.ID(), channel)
		}
	}
	b.mu.Unlock()

	// 写日志可能阻塞，不能持有锁
	for _, id := range evicted {
		logger.Warnf("subscriber %d evicted from %q: mailbox full", id, channel)
	}
}

// NumSub 频道当前的订阅者数量
func (b *Broker) NumSub(channel string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.channels[channel])
}

// Channels 返回匹配 glob 模式、且至少有一个订阅者的频道，按字典序排列
func (b *Broker) Channels(pattern string) []string {
	b.mu.RLock()
	channels := make([]string, 0, len(b.channels))
	for channel := range b.channels {
		if pattern == "" || match.Match(channel, pattern) {
			channels = append(channels, channel)
		}
	}
	b.mu.RUnlock()
	sort.Strings(channels)
	return channels
}
