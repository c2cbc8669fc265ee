// Package kafka 提供了与 Kafka 消息队列交互的功能。
package kafka

import (
	"context"
	"encoding/json"

	"zhiwen-go/internal/config"
	"zhiwen-go/pkg/log"
	"zhiwen-go/pkg/tasks"

	"github.com/segmentio/kafka-go"
)

// TaskProcessor 定义了可以处理摄取任务的服务接口。
// 它将 Kafka 消费者与具体的管道实现解耦。
type TaskProcessor interface {
	Process(ctx context.Context, task tasks.DocumentProcessingTask) error
}

var producer *kafka.Writer

// InitProducer 初始化 Kafka 生产者。
func InitProducer(cfg config.KafkaConfig) {
	producer = &kafka.Writer{
		Addr:     kafka.TCP(cfg.Brokers),
		Topic:    cfg.Topic,
		Balancer: &kafka.LeastBytes{},
	}
	log.Info("Kafka 生产者初始化成功")
}

// ProduceDocumentTask 发送一个文档摄取任务到 Kafka（即发即忘）。
func ProduceDocumentTask(task tasks.DocumentProcessingTask) error {
	taskBytes, err := json.Marshal(task)
	if err != nil {
		return err
	}

	return producer.WriteMessages(context.Background(),
		kafka.Message{
			Key:   []byte(task.DocumentID),
			Value: taskBytes,
		},
	)
}

// StartConsumer 启动 Kafka 消费者处理文档摄取任务。
// 单消费者顺序处理，保证同一文档不会有两次摄取并行执行。
// 无论处理结果如何都提交 offset：管道内部已把任何失败转换为文档的
// error 状态并落库，重新投递只会重复一次注定失败的尝试。
func StartConsumer(cfg config.KafkaConfig, processor TaskProcessor) {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  []string{cfg.Brokers},
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
	})

	log.Infof("Kafka 消费者已启动，正在监听主题 '%s'", cfg.Topic)

	for {
		m, err := r.FetchMessage(context.Background())
		if err != nil {
			log.Error("从 Kafka 读取消息失败", err)
			break
		}

		var task tasks.DocumentProcessingTask
		if err := json.Unmarshal(m.Value, &task); err != nil {
			log.Errorf("无法解析 Kafka 消息: %v, value: %s", err, string(m.Value))
			if err := r.CommitMessages(context.Background(), m); err != nil {
				log.Errorf("提交错误消息失败: %v", err)
			}
			continue
		}

		log.Infof("开始处理摄取任务: DocumentID=%s, Filename=%s", task.DocumentID, task.Filename)
		if err := processor.Process(context.Background(), task); err != nil {
			// Process 只在状态落库本身失败时返回错误，属于不可恢复情形
			log.Errorf("摄取任务处理异常: DocumentID=%s, Error: %v", task.DocumentID, err)
		} else {
			log.Infof("摄取任务处理结束: DocumentID=%s", task.DocumentID)
		}
		if err := r.CommitMessages(context.Background(), m); err != nil {
			log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
		}
	}

	if err := r.Close(); err != nil {
		log.Fatalf("关闭 Kafka 消费者失败: %v", err)
	}
}
