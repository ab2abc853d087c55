// Package notify 提供尽力而为的事件通知：投递失败只记日志，不影响主流程。
package notify

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// Event 通知事件
type Event struct {
	Kind      string    `json:"kind"`   // mention / connection_request / connection_confirmed / message
	Handle    string    `json:"handle"` // 接收人
	ActorID   int64     `json:"actor_id"`
	Subject   string    `json:"subject,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Notifier 事件发布接口
type Notifier interface {
	Notify(event Event)
	Close()
}

// NATSNotifier 把事件发布到 NATS 主题 renmai.notify.<kind>
type NATSNotifier struct {
	conn *nats.Conn
}

// NewNATSNotifier 连接 NATS 服务器
func NewNATSNotifier(url string) (*NATSNotifier, error) {
	conn, err := nats.Connect(url,
		nats.Name("renmai-server"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("连接 NATS 失败: %w", err)
	}
	return &NATSNotifier{conn: conn}, nil
}

// Notify 发布事件，失败只记日志
func (n *NATSNotifier) Notify(event Event) {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		slog.Error("序列化通知事件失败", "kind", event.Kind, "error", err)
		return
	}
	subject := "renmai.notify." + event.Kind
	if err := n.conn.Publish(subject, payload); err != nil {
		slog.Error("发布通知事件失败", "subject", subject, "error", err)
	}
}

// Close 排空并关闭连接
func (n *NATSNotifier) Close() {
	if err := n.conn.Drain(); err != nil {
		slog.Warn("NATS 排空失败", "error", err)
	}
}

// NoopNotifier 空实现，未配置 NATS 时使用
type NoopNotifier struct{}

func (NoopNotifier) Notify(Event) {}
func (NoopNotifier) Close()       {}
