package alerting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/slack-go/slack"

	xerrors "github.com/Maxxit-ai/maxxit-latest-sub005/internal/errors"
	"github.com/Maxxit-ai/maxxit-latest-sub005/pkg/logger"
)

// Channel 表示通知渠道。
type Channel string

// 支持的通知渠道
const (
	ChannelAudit Channel = "audit"
	ChannelSlack Channel = "slack"
)

// Event 描述一次需要告警的事件。
type Event struct {
	Code       xerrors.Code
	Message    string
	Severity   xerrors.Severity
	Venue      string
	UserWallet string
	Operation  string
	Metadata   map[string]string
	OccurredAt time.Time
}

// FromError 根据统一错误构建告警事件。
func FromError(err error, venue, userWallet, operation string) Event {
	event := Event{
		Code:       xerrors.CodeOf(err),
		Message:    xerrors.UserMessage(err),
		Severity:   xerrors.SeverityOf(err),
		Venue:      venue,
		UserWallet: userWallet,
		Operation:  operation,
		OccurredAt: time.Now(),
	}
	if e, ok := xerrors.From(err); ok {
		event.Metadata = e.Metadata()
	}
	return event
}

// Notifier 负责将事件发送到指定渠道。
type Notifier interface {
	Channel() Channel
	Notify(ctx context.Context, event Event) error
}

// Dispatcher 将事件广播给多个通知器。
type Dispatcher interface {
	Notify(ctx context.Context, event Event) error
}

// FanoutDispatcher 实现将事件投递到多个通知器的逻辑。
type FanoutDispatcher struct {
	notifiers map[Channel]Notifier
}

// NewFanout 创建一个新的 FanoutDispatcher。
func NewFanout(notifiers ...Notifier) *FanoutDispatcher {
	set := make(map[Channel]Notifier, len(notifiers))
	for _, n := range notifiers {
		if n == nil {
			continue
		}
		set[n.Channel()] = n
	}
	return &FanoutDispatcher{notifiers: set}
}

// Notify 将事件广播至所有注册渠道。
func (d *FanoutDispatcher) Notify(ctx context.Context, event Event) error {
	if d == nil {
		return nil
	}
	var errs []error
	for _, notifier := range d.notifiers {
		if err := notifier.Notify(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("channel %s: %w", notifier.Channel(), err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// AuditNotifier 将告警写入审计日志。
type AuditNotifier struct {
	Logger *slog.Logger
}

// Channel 返回审计渠道。
func (n *AuditNotifier) Channel() Channel { return ChannelAudit }

// Notify 写入一条审计记录。
func (n *AuditNotifier) Notify(ctx context.Context, event Event) error {
	log := logger.Audit()
	if n != nil && n.Logger != nil {
		log = n.Logger
	}
	attrs := []any{
		slog.String("code", string(event.Code)),
		slog.String("severity", string(event.Severity)),
		slog.String("venue", event.Venue),
		slog.String("user_wallet", event.UserWallet),
		slog.String("operation", event.Operation),
		slog.Time("occurred_at", event.OccurredAt),
	}
	for _, k := range sortedKeys(event.Metadata) {
		attrs = append(attrs, slog.String("meta."+k, event.Metadata[k]))
	}
	log.WarnContext(ctx, event.Message, attrs...)
	return nil
}

// SlackSender 负责向 Slack 渠道发送消息。
type SlackSender interface {
	Send(ctx context.Context, channel, content string) error
}

// WebhookSender 通过 incoming webhook 投递。
type WebhookSender struct {
	URL string
}

// Send 实现 SlackSender。
func (s *WebhookSender) Send(ctx context.Context, channel, content string) error {
	return slack.PostWebhookContext(ctx, s.URL, &slack.WebhookMessage{
		Channel: channel,
		Text:    content,
	})
}

// APISender 使用 bot token 调用 chat.postMessage。
type APISender struct {
	client *slack.Client
}

// NewAPISender 创建基于 bot token 的发送器。
func NewAPISender(token string) *APISender {
	return &APISender{client: slack.New(token)}
}

// Send 实现 SlackSender。
func (s *APISender) Send(ctx context.Context, channel, content string) error {
	_, _, err := s.client.PostMessageContext(ctx, channel, slack.MsgOptionText(content, false))
	return err
}

// SlackNotifier 通过 Slack 发送告警。
type SlackNotifier struct {
	Sender    SlackSender
	ChannelID string
}

// NewSlackNotifier 根据配置选择 webhook 或 bot token，均未配置时返回 nil。
func NewSlackNotifier(webhookURL, token, channel string) *SlackNotifier {
	switch {
	case strings.TrimSpace(webhookURL) != "":
		return &SlackNotifier{Sender: &WebhookSender{URL: webhookURL}, ChannelID: channel}
	case strings.TrimSpace(token) != "" && channel != "":
		return &SlackNotifier{Sender: NewAPISender(token), ChannelID: channel}
	default:
		return nil
	}
}

// Channel 返回 Slack 渠道。
func (n *SlackNotifier) Channel() Channel { return ChannelSlack }

// Notify 发送 Slack 消息。
func (n *SlackNotifier) Notify(ctx context.Context, event Event) error {
	if n == nil || n.Sender == nil {
		logger.L().Warn("SlackNotifier 未正确配置，跳过发送", slog.String("code", string(event.Code)))
		return nil
	}
	content := fmt.Sprintf("*[%s]* %s - %s", event.Severity, event.Code, event.Message)
	if event.Venue != "" {
		content += fmt.Sprintf("\nvenue: %s", event.Venue)
	}
	if event.Operation != "" {
		content += fmt.Sprintf("\noperation: %s", event.Operation)
	}
	if event.UserWallet != "" {
		content += fmt.Sprintf("\nwallet: %s", event.UserWallet)
	}
	for _, k := range sortedKeys(event.Metadata) {
		content += fmt.Sprintf("\n- %s: %s", k, event.Metadata[k])
	}
	return n.Sender.Send(ctx, n.ChannelID, content)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
