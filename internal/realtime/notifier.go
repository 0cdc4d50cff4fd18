package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"kazakh-hub/pkg/events"
	"kazakh-hub/pkg/log"
)

// Notifier 通过 websocket 向服务端 Hub 发送刷新事件，实现 upload.Notifier。
// 连接在第一次发送时建立，断开后下一次发送时重连。
type Notifier struct {
	endpoint  string
	dialer    *websocket.Dialer
	onRefresh func(events.RefreshEvent)

	mu   sync.Mutex
	conn *websocket.Conn
}

// RefreshURL 把记录服务地址转换为刷新通道的 websocket 地址。
func RefreshURL(serverURL, token string) (string, error) {
	u, err := url.Parse(strings.TrimRight(serverURL, "/"))
	if err != nil {
		return "", fmt.Errorf("invalid server url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http", "":
		u.Scheme = "ws"
	}
	u.Path += "/ws/refresh"
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// NewNotifier 创建一个新的 Notifier 实例。onRefresh 可为 nil，用于接收其他客户端广播的刷新事件。
func NewNotifier(endpoint string, onRefresh func(events.RefreshEvent)) *Notifier {
	return &Notifier{
		endpoint:  endpoint,
		dialer:    &websocket.Dialer{HandshakeTimeout: 5 * time.Second},
		onRefresh: onRefresh,
	}
}

// Notify 发送一个刷新事件。
func (n *Notifier) Notify(ctx context.Context, evt events.RefreshEvent) error {
	if evt.Type == "" {
		evt.Type = events.CodesUpdated
	}
	b, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal refresh event: %w", err)
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	for attempt := 0; attempt < 2; attempt++ {
		if n.conn == nil {
			conn, _, err := n.dialer.DialContext(ctx, n.endpoint, nil)
			if err != nil {
				return fmt.Errorf("failed to dial refresh channel: %w", err)
			}
			n.conn = conn
			go n.readLoop(conn)
		}
		_ = n.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err = n.conn.WriteMessage(websocket.TextMessage, b); err == nil {
			return nil
		}
		log.Warnf("[Notifier] 发送刷新事件失败，重新连接: %v", err)
		_ = n.conn.Close()
		n.conn = nil
	}
	return fmt.Errorf("failed to send refresh event: %w", err)
}

// readLoop 持续读取，使控制帧（ping/close）得到处理，并把广播转交给 onRefresh。
func (n *Notifier) readLoop(conn *websocket.Conn) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			n.mu.Lock()
			if n.conn == conn {
				n.conn = nil
			}
			n.mu.Unlock()
			_ = conn.Close()
			return
		}
		if n.onRefresh == nil {
			continue
		}
		var evt events.RefreshEvent
		if err := json.Unmarshal(message, &evt); err == nil {
			n.onRefresh(evt)
		}
	}
}

// Close 关闭连接。
func (n *Notifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.conn == nil {
		return nil
	}
	err := n.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = n.conn.Close()
	n.conn = nil
	return err
}
