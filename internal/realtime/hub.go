// Package realtime 实现界面刷新广播：服务端的 websocket Hub 和客户端的 Notifier。
package realtime

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"kazakh-hub/pkg/events"
	"kazakh-hub/pkg/log"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 16
)

type subscriber struct {
	conn   *websocket.Conn
	author string
	send   chan []byte
	once   sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.send) })
}

// Hub 把收到的刷新事件扇出给所有监听的连接。
type Hub struct {
	mu   sync.RWMutex
	subs map[*subscriber]struct{}
}

// NewHub 创建一个新的 Hub 实例。
func NewHub() *Hub {
	return &Hub{subs: make(map[*subscriber]struct{})}
}

// Count 返回当前连接数。
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Broadcast 向所有连接发送事件，返回送达的连接数。发送缓冲已满的连接会被断开。
func (h *Hub) Broadcast(evt events.RefreshEvent) int {
	if evt.Type == "" {
		evt.Type = events.CodesUpdated
	}
	if evt.Timestamp == 0 {
		evt.Timestamp = time.Now().UnixMilli()
	}
	b, err := json.Marshal(evt)
	if err != nil {
		log.Errorf("[Hub] 序列化刷新事件失败: %v", err)
		return 0
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	delivered := 0
	for s := range h.subs {
		select {
		case s.send <- b:
			delivered++
		default:
			log.Warnf("[Hub] 连接发送缓冲已满，断开: %s", s.author)
			delete(h.subs, s)
			s.close()
		}
	}
	return delivered
}

// Serve 接管一个已升级的连接，阻塞直到连接关闭。
// 连接上收到的 codesUpdated 消息会以该连接的作者身份重新广播。
func (h *Hub) Serve(conn *websocket.Conn, author string) {
	s := &subscriber{conn: conn, author: author, send: make(chan []byte, sendBuffer)}
	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()
	log.Infof("[Hub] 刷新连接已建立, author: %s, 当前连接数: %d", author, h.Count())

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.writeLoop(s)
	}()

	h.readLoop(s)

	h.mu.Lock()
	if _, ok := h.subs[s]; ok {
		delete(h.subs, s)
		s.close()
	}
	h.mu.Unlock()
	<-done
	_ = conn.Close()
	log.Infof("[Hub] 刷新连接已断开, author: %s", author)
}

func (h *Hub) readLoop(s *subscriber) {
	s.conn.SetReadLimit(4096)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warnf("[Hub] 读取刷新消息失败: %v", err)
			}
			return
		}
		var evt events.RefreshEvent
		if err := json.Unmarshal(message, &evt); err != nil || evt.Type != events.CodesUpdated {
			log.Warnf("[Hub] 忽略无法识别的消息: %s", string(message))
			continue
		}
		evt.Author = s.author
		h.Broadcast(evt)
	}
}

func (h *Hub) writeLoop(s *subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case msg, ok := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
