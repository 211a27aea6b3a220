package ingest

import (
	"sync"
	"time"
)

// Event 入库状态迁移事件
type Event struct {
	SongID   string    `json:"songId,omitempty"`
	Filename string    `json:"filename"`
	State    State     `json:"state"`
	Error    string    `json:"error,omitempty"`
	At       time.Time `json:"at"`
}

// EventPublisher 接收状态迁移事件
type EventPublisher interface {
	Publish(Event)
}

// Hub 事件广播，订阅者的缓冲区满时丢弃事件，不阻塞入库流程
type Hub struct {
	mu          sync.RWMutex
	subscribers map[chan Event]struct{}
	buffer      int
}

// NewHub 创建事件中心，buffer 为每个订阅者的缓冲大小
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	return &Hub{subscribers: make(map[chan Event]struct{}), buffer: buffer}
}

// Subscribe 订阅事件，返回的函数用于取消订阅并关闭通道
func (h *Hub) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, h.buffer)

	h.mu.Lock()
	h.subscribers[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subscribers, ch)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Publish 广播事件
func (h *Hub) Publish(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribers 当前订阅者数量
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}
