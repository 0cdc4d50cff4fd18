package upload

import (
	"context"
	"net/http"
	"sync"
	"time"

	"kazakh-hub/pkg/log"
)

// Connectivity 是在线状态信号：可查询当前状态，也可订阅在线/离线切换。
type Connectivity interface {
	Online() bool
	// Subscribe 返回状态切换通道和取消订阅函数。
	Subscribe() (<-chan bool, func())
}

// Monitor 周期性探测记录服务的健康检查地址，在状态切换时通知订阅者。
type Monitor struct {
	healthURL string
	interval  time.Duration
	client    *http.Client

	mu      sync.RWMutex
	online  bool
	subs    map[int]chan bool
	nextSub int
}

// NewMonitor 创建一个新的 Monitor 实例。初始状态视为在线，首次探测后修正。
func NewMonitor(healthURL string, interval, timeout time.Duration) *Monitor {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Monitor{
		healthURL: healthURL,
		interval:  interval,
		client:    &http.Client{Timeout: timeout},
		online:    true,
		subs:      make(map[int]chan bool),
	}
}

func (m *Monitor) Online() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

func (m *Monitor) Subscribe() (<-chan bool, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextSub
	m.nextSub++
	ch := make(chan bool, 1)
	m.subs[id] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			delete(m.subs, id)
			close(ch)
		})
	}
}

// Probe 执行一次健康检查并更新状态。
func (m *Monitor) Probe(ctx context.Context) bool {
	online := m.check(ctx)
	m.set(online)
	return online
}

// Run 按固定间隔探测，直到 ctx 结束。
func (m *Monitor) Run(ctx context.Context) {
	m.Probe(ctx)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Probe(ctx)
		}
	}
}

func (m *Monitor) check(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.healthURL, nil)
	if err != nil {
		return false
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (m *Monitor) set(online bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.online == online {
		return
	}
	m.online = online
	if online {
		log.Infof("[Monitor] 记录服务已恢复连接: %s", m.healthURL)
	} else {
		log.Warnf("[Monitor] 记录服务不可达: %s", m.healthURL)
	}
	for _, ch := range m.subs {
		// 通道只保留最新状态
		select {
		case <-ch:
		default:
		}
		ch <- online
	}
}
