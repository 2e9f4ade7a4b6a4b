package bus

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Buffer size for each subscriber's event channel
const sendBufferSize = 16

type subscription struct {
	ch   chan string
	once sync.Once
}

func (s *subscription) close() {
	s.once.Do(func() {
		close(s.ch)
	})
}

// Memory is an in-process Bus for the single-instance deployment. All
// subscribers live in the same process as the publisher.
type Memory struct {
	mu   sync.RWMutex
	subs map[string]map[*subscription]struct{}

	l *zap.SugaredLogger
}

// NewMemory creates an in-process bus
func NewMemory(l *zap.SugaredLogger) *Memory {
	return &Memory{
		subs: make(map[string]map[*subscription]struct{}),
		l:    l,
	}
}

var _ Bus = (*Memory)(nil)

func (m *Memory) Publish(_ context.Context, channel, event string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for sub := range m.subs[channel] {
		select {
		case sub.ch <- event:
		default:
			// Subscriber buffer full: drop rather than block the
			// publisher
			m.l.Warnw("dropped event for slow subscriber", "channel", channel, "event", event)
		}
	}

	return nil
}

func (m *Memory) Subscribe(_ context.Context, channel string) (<-chan string, func(), error) {
	sub := &subscription{ch: make(chan string, sendBufferSize)}

	m.mu.Lock()
	if m.subs[channel] == nil {
		m.subs[channel] = make(map[*subscription]struct{})
	}
	m.subs[channel][sub] = struct{}{}
	m.mu.Unlock()

	cancel := func() {
		m.mu.Lock()
		delete(m.subs[channel], sub)
		m.mu.Unlock()
		sub.close()
	}

	return sub.ch, cancel, nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for channel, subs := range m.subs {
		for sub := range subs {
			sub.close()
		}
		delete(m.subs, channel)
	}

	return nil
}
