// Package kafka 提供了与 Kafka 消息队列交互的功能。
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"

	"kazakh-hub/internal/config"
	"kazakh-hub/pkg/events"
	"kazakh-hub/pkg/log"
)

// MaxAttempts 是单条记录事件处理失败的上限，达到后提交 offset 放弃重试。
const MaxAttempts = 3

// RecordProcessor 处理一条记录事件，使消费者与具体的索引实现解耦。
type RecordProcessor interface {
	Process(ctx context.Context, evt events.RecordEvent) error
}

// AttemptCounter 记录每条事件的失败次数。
type AttemptCounter interface {
	Incr(ctx context.Context, key string) (int64, error)
	Reset(ctx context.Context, key string) error
}

// RedisAttempts 是基于 Redis 的 AttemptCounter。
type RedisAttempts struct {
	RDB *redis.Client
	TTL time.Duration
}

func (a RedisAttempts) Incr(ctx context.Context, key string) (int64, error) {
	n, err := a.RDB.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	ttl := a.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	_ = a.RDB.Expire(ctx, key, ttl).Err()
	return n, nil
}

func (a RedisAttempts) Reset(ctx context.Context, key string) error {
	return a.RDB.Del(ctx, key).Err()
}

func attemptsKey(recordID string) string {
	return fmt.Sprintf("kafka:attempts:%s", recordID)
}

func brokers(list string) []string {
	var out []string
	for _, b := range strings.Split(list, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// Producer 把记录事件写入 Kafka。
type Producer struct {
	writer *kafka.Writer
}

// NewProducer 初始化 Kafka 生产者。
func NewProducer(cfg config.KafkaConfig) *Producer {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers(cfg.Brokers)...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
	log.Info("Kafka 生产者初始化成功")
	return &Producer{writer: w}
}

// Publish 发送一条记录事件，以记录 ID 作为消息 key。
func (p *Producer) Publish(ctx context.Context, evt events.RecordEvent) error {
	b, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(evt.RecordID), Value: b})
}

// Close 关闭生产者。
func (p *Producer) Close() error {
	return p.writer.Close()
}

// handleMessage 处理一条消息，返回是否应提交 offset。
func handleMessage(ctx context.Context, value []byte, processor RecordProcessor, attempts AttemptCounter) bool {
	var evt events.RecordEvent
	if err := json.Unmarshal(value, &evt); err != nil {
		// 消息格式错误，直接提交，避免阻塞队列
		log.Errorf("无法解析 Kafka 消息: %v, value: %s", err, string(value))
		return true
	}

	key := attemptsKey(evt.RecordID)
	if err := processor.Process(ctx, evt); err != nil {
		log.Errorf("处理记录事件失败: RecordID=%s, Error: %v", evt.RecordID, err)
		n, incErr := attempts.Incr(ctx, key)
		if incErr != nil {
			// Redis 异常时保守处理：不提交 offset，让 Kafka 重试
			return false
		}
		if n >= MaxAttempts {
			log.Errorf("记录事件多次失败(>=%d)，提交 offset 终止重试: RecordID=%s", MaxAttempts, evt.RecordID)
			return true
		}
		return false
	}

	log.Infof("记录事件处理成功: RecordID=%s", evt.RecordID)
	_ = attempts.Reset(ctx, key)
	return true
}

// processMessage 在原位重试同一条消息，直到 handleMessage 要求提交 offset。
// 只有 ctx 结束时返回 false，此时消息不提交，重启后从该 offset 继续。
func processMessage(ctx context.Context, value []byte, processor RecordProcessor, attempts AttemptCounter, sleep func(context.Context, time.Duration) error) bool {
	for retry := 0; ; retry++ {
		if handleMessage(ctx, value, processor, attempts) {
			return true
		}
		if err := sleep(ctx, retryDelay(retry)); err != nil {
			return false
		}
	}
}

// retryDelay 返回第 retry 次重试前的等待时间，指数增长，上限 30 秒。
func retryDelay(retry int) time.Duration {
	if retry > 5 {
		return 30 * time.Second
	}
	d := time.Second << retry
	if d > 30*time.Second {
		d = 30 * time.Second
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// StartConsumer 启动一个 Kafka 消费者处理记录事件，阻塞直到 ctx 结束或读取失败。
// 提交后续消息的 offset 会隐式确认之前的消息，所以失败的消息必须在读取下一条之前处理完。
func StartConsumer(ctx context.Context, cfg config.KafkaConfig, processor RecordProcessor, attempts AttemptCounter) {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers(cfg.Brokers),
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})
	defer func() {
		if err := r.Close(); err != nil {
			log.Errorf("关闭 Kafka 消费者失败: %v", err)
		}
	}()

	log.Infof("Kafka 消费者已启动，正在监听主题 '%s'", cfg.Topic)
	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.Error("从 Kafka 读取消息失败", err)
			}
			return
		}
		log.Infof("收到 Kafka 消息: offset %d", m.Offset)

		if !processMessage(ctx, m.Value, processor, attempts, sleepCtx) {
			return
		}
		if err := r.CommitMessages(ctx, m); err != nil {
			log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
		}
	}
}
