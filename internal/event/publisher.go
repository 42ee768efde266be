// Package event 运行结束事件，供外部协作方（界面、报表）订阅
package event

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"woo_sync_v1_202610/internal/config"
	"woo_sync_v1_202610/internal/model"
)

// RunFinished 一次运行结束
type RunFinished struct {
	RunID         string         `json:"run_id"`
	SiteID        int64          `json:"site_id"`
	Kind          model.RunKind  `json:"kind"`
	State         model.RunState `json:"state"`
	StartedAt     time.Time      `json:"started_at"`
	FinishedAt    time.Time      `json:"finished_at"`
	Pulled        int            `json:"pulled"`
	Created       int            `json:"created"`
	Updated       int            `json:"updated"`
	Skipped       int            `json:"skipped"`
	Failed        int            `json:"failed"`
	RemoteDeleted int            `json:"remote_deleted"`
	Canceled      bool           `json:"canceled"`
	FatalError    string         `json:"fatal_error,omitempty"`
}

// FromReport 从运行报告生成事件
func FromReport(rep *model.RunReport) RunFinished {
	ev := RunFinished{
		RunID:         rep.RunID,
		SiteID:        rep.SiteID,
		Kind:          rep.Kind,
		State:         rep.State,
		StartedAt:     rep.StartedAt,
		Pulled:        rep.Pulled,
		Created:       rep.Count(model.OutcomeCreated),
		Updated:       rep.Count(model.OutcomeUpdated),
		Skipped:       rep.Count(model.OutcomeSkipped),
		Failed:        rep.Count(model.OutcomeFailed),
		RemoteDeleted: rep.RemoteDeleted,
		Canceled:      rep.Canceled,
		FatalError:    rep.FatalError,
	}
	if rep.FinishedAt != nil {
		ev.FinishedAt = *rep.FinishedAt
	}
	return ev
}

// Publisher 事件发布
type Publisher interface {
	PublishRunFinished(ctx context.Context, ev RunFinished) error
	Close() error
}

// New kafka.enabled 为 false 时返回 NoopPublisher
func New(cfg config.KafkaConfig, log *zap.Logger) Publisher {
	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		return NoopPublisher{}
	}
	return NewKafkaPublisher(cfg.Brokers, cfg.Topic, log)
}

// ==================== Kafka ====================

// messageWriter kafka.Writer 的子集
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaPublisher struct {
	writer messageWriter
	topic  string
	log    *zap.Logger
}

func NewKafkaPublisher(brokers []string, topic string, log *zap.Logger) *KafkaPublisher {
	if topic == "" {
		topic = "woo-sync.runs"
	}
	if log == nil {
		log = zap.NewNop()
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
		WriteTimeout: 10 * time.Second,
	}
	log.Info("Kafka 发布已启用", zap.String("topic", topic), zap.Strings("brokers", brokers))
	return &KafkaPublisher{writer: w, topic: topic, log: log.Named("event")}
}

// PublishRunFinished 以站点 ID 作为分区 key，同一站点的事件有序
func (p *KafkaPublisher) PublishRunFinished(ctx context.Context, ev RunFinished) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Key:   []byte(strconv.FormatInt(ev.SiteID, 10)),
		Value: data,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(ev.Kind)},
			{Key: "run_id", Value: []byte(ev.RunID)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.log.Warn("发送运行事件失败", zap.String("run_id", ev.RunID), zap.Error(err))
		return fmt.Errorf("发送运行事件失败: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// ==================== Noop ====================

type NoopPublisher struct{}

func (NoopPublisher) PublishRunFinished(context.Context, RunFinished) error { return nil }
func (NoopPublisher) Close() error                                          { return nil }
