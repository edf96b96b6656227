// Package kafka 提供了与 Kafka 消息队列交互的功能。
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/segmentio/kafka-go"

	"company-qa-go/internal/config"
	"company-qa-go/pkg/log"
	"company-qa-go/pkg/tasks"
)

// maxAttempts 是单个任务的最大处理次数，达到后提交 offset 放弃重试。
const maxAttempts = 3

// TaskProcessor 处理一个重建索引任务。
type TaskProcessor interface {
	Process(ctx context.Context, task tasks.ReindexTask) error
}

// AttemptCounter 记录任务的失败次数。
type AttemptCounter interface {
	IncrTaskAttempts(ctx context.Context, taskID string) (int64, error)
	ResetTaskAttempts(ctx context.Context, taskID string) error
}

// messageWriter 是 kafka.Writer 中用到的部分。
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// messageReader 是 kafka.Reader 中用到的部分。
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

func brokerList(brokers string) []string {
	var out []string
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// Producer 把重建任务写入 Kafka。
type Producer struct {
	writer messageWriter
}

// NewProducer 创建 Kafka 生产者。
func NewProducer(cfg config.KafkaConfig) *Producer {
	w := &kafka.Writer{
		Addr:     kafka.TCP(brokerList(cfg.Brokers)...),
		Topic:    cfg.Topic,
		Balancer: &kafka.LeastBytes{},
	}
	log.Info("Kafka 生产者初始化成功")
	return &Producer{writer: w}
}

// ProduceReindexTask 发送一个重建索引任务。
func (p *Producer) ProduceReindexTask(ctx context.Context, task tasks.ReindexTask) error {
	taskBytes, err := json.Marshal(task)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(task.Object), Value: taskBytes}); err != nil {
		return fmt.Errorf("failed to produce reindex task: %w", err)
	}
	log.Infof("[Kafka] 已投递重建任务 %s, object: %s, by: %s", task.ID, task.Object, task.RequestedBy)
	return nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

// Consumer 消费重建任务并交给 TaskProcessor 处理。
type Consumer struct {
	reader    messageReader
	processor TaskProcessor
	attempts  AttemptCounter
}

// NewConsumer 创建 Kafka 消费者。
func NewConsumer(cfg config.KafkaConfig, processor TaskProcessor, attempts AttemptCounter) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokerList(cfg.Brokers),
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})
	return &Consumer{reader: r, processor: processor, attempts: attempts}
}

// Run 持续消费直到 ctx 被取消。
func (c *Consumer) Run(ctx context.Context) {
	log.Info("[Kafka] 消费者已启动")
	defer func() {
		if err := c.reader.Close(); err != nil {
			log.Errorf("关闭 Kafka 消费者失败: %v", err)
		}
	}()

	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				log.Info("[Kafka] 消费者已停止")
				return
			}
			log.Error("从 Kafka 读取消息失败", err)
			return
		}
		c.handle(ctx, m)
	}
}

// handle 处理单条消息。成功、格式错误或失败达到上限时提交 offset；
// 其余失败不提交，让 Kafka 重新投递。
func (c *Consumer) handle(ctx context.Context, m kafka.Message) {
	log.Infof("收到 Kafka 消息: offset %d", m.Offset)

	var task tasks.ReindexTask
	if err := json.Unmarshal(m.Value, &task); err != nil {
		log.Errorf("无法解析 Kafka 消息: %v, value: %s", err, string(m.Value))
		c.commit(ctx, m)
		return
	}
	taskID := task.ID
	if taskID == "" {
		taskID = fmt.Sprintf("%d-%d", m.Partition, m.Offset)
	}

	if err := c.processor.Process(ctx, task); err != nil {
		log.Errorf("处理重建任务失败: %s, Error: %v", taskID, err)
		attempts, incErr := c.attempts.IncrTaskAttempts(ctx, taskID)
		if incErr != nil {
			// Redis 异常时不提交 offset，让 Kafka 重试
			return
		}
		if attempts >= maxAttempts {
			log.Errorf("重建任务多次失败(>=%d)，提交 offset 终止重试: %s", maxAttempts, taskID)
			c.commit(ctx, m)
		}
		return
	}

	log.Infof("重建任务处理成功: %s", taskID)
	_ = c.attempts.ResetTaskAttempts(ctx, taskID)
	c.commit(ctx, m)
}

func (c *Consumer) commit(ctx context.Context, m kafka.Message) {
	if err := c.reader.CommitMessages(ctx, m); err != nil {
		log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
	}
}
