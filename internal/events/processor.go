package events

import (
	"context"
	"log/slog"

	xerrors "github.com/Maxxit-ai/maxxit-latest-sub005/internal/errors"
	"github.com/Maxxit-ai/maxxit-latest-sub005/internal/observability/alerting"
	"github.com/Maxxit-ai/maxxit-latest-sub005/internal/observability/metrics"
	"github.com/Maxxit-ai/maxxit-latest-sub005/pkg/logger"
)

// Processor 消费事件并写入审计日志、指标与告警。
type Processor struct {
	consumer    Consumer
	workerCount int
	audit       *slog.Logger
	alerter     alerting.Dispatcher
}

// ProcessorOption 定义可选配置。
type ProcessorOption func(*Processor)

// WithAuditLogger 指定审计日志输出。
func WithAuditLogger(l *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		p.audit = l
	}
}

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) ProcessorOption {
	return func(p *Processor) {
		p.alerter = dispatcher
	}
}

// NewProcessor 构造 Processor。
func NewProcessor(consumer Consumer, opts ...ProcessorOption) *Processor {
	p := &Processor{consumer: consumer, workerCount: 1}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.audit == nil {
		p.audit = logger.Audit()
	}
	return p
}

// Start 启动消费循环，直到 ctx 结束。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置事件消费者")
	}
	return p.consumer.Consume(ctx, p.workerCount, p.Handle)
}

// Handle 处理单个事件。
func (p *Processor) Handle(ctx context.Context, event Event) error {
	attrs := []any{
		slog.String("event_id", event.ID),
		slog.String("type", string(event.Type)),
		slog.String("venue", event.Venue),
		slog.String("user_wallet", event.UserWallet),
		slog.Time("at", event.At),
	}
	switch event.Type {
	case TypeMilestone:
		p.audit.InfoContext(ctx, "里程碑达成", append(attrs, slog.String("milestone", event.Milestone))...)
		metrics.Milestones.WithLabelValues(event.Venue, event.Milestone).Inc()
	case TypeTransaction:
		p.audit.InfoContext(ctx, "交易已发送", append(attrs,
			slog.String("operation", event.Operation),
			slog.String("tx_hash", event.TxHash))...)
	case TypePhase:
		p.audit.InfoContext(ctx, "阶段变更", append(attrs, slog.String("phase", event.Phase))...)
	case TypeReset:
		p.audit.WarnContext(ctx, "连接已重置", attrs...)
	case TypeFailure:
		p.audit.WarnContext(ctx, "操作失败", append(attrs,
			slog.String("operation", event.Operation),
			slog.String("code", string(event.Code)),
			slog.String("message", event.Message))...)
		metrics.SetupFailures.WithLabelValues(event.Venue, event.Operation, string(event.Code)).Inc()
		if err := p.alert(ctx, event); err != nil {
			metrics.EventsHandled.WithLabelValues(string(event.Type), "alert_error").Inc()
			return nil
		}
	default:
		logger.L().Warn("未知事件类型", attrs...)
		metrics.EventsHandled.WithLabelValues(string(event.Type), "ignored").Inc()
		return nil
	}
	metrics.EventsHandled.WithLabelValues(string(event.Type), "ok").Inc()
	return nil
}

func (p *Processor) alert(ctx context.Context, event Event) error {
	if p.alerter == nil || !xerrors.AttributesOf(event.Code).Alert {
		return nil
	}
	err := p.alerter.Notify(ctx, alerting.Event{
		Code:       event.Code,
		Message:    event.Message,
		Severity:   xerrors.AttributesOf(event.Code).Severity,
		Venue:      event.Venue,
		UserWallet: event.UserWallet,
		Operation:  event.Operation,
		Metadata:   event.Metadata,
		OccurredAt: event.At,
	})
	if err != nil {
		logger.L().Error("告警通知失败",
			slog.Any("error", err),
			slog.String("event_id", event.ID),
			slog.String("code", string(event.Code)))
	}
	return err
}
