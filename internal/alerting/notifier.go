package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"sentinel-monitor/internal/domain"
)

// 通知类型。
const (
	KindPriceTrigger   = "price-trigger"
	KindSentinelPaused = "sentinel-paused"
)

// Notification 封装一次哨兵告警的上下文。Target 为空时只记日志。
type Notification struct {
	Kind         string
	Target       string
	SentinelID   uuid.UUID
	SentinelName string
	Price        decimal.Decimal
	Threshold    decimal.Decimal
	Condition    domain.Condition
	Network      domain.Network
	Timestamp    time.Time
	Detail       string
}

// Notifier 定义告警输送接口。投递是尽力而为的: 失败不会中断监控循环。
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TriggerNotice 构造阈值命中通知。
func TriggerNotice(s domain.Sentinel, price decimal.Decimal, at time.Time) Notification {
	return Notification{
		Kind:         KindPriceTrigger,
		Target:       s.NotifyTarget,
		SentinelID:   s.ID,
		SentinelName: s.Name,
		Price:        price,
		Threshold:    s.Threshold,
		Condition:    s.Condition,
		Network:      s.Network,
		Timestamp:    at,
	}
}

// PauseNotice 构造哨兵因余额耗尽被暂停的通知。
func PauseNotice(s domain.Sentinel, detail string, at time.Time) Notification {
	return Notification{
		Kind:         KindSentinelPaused,
		Target:       s.NotifyTarget,
		SentinelID:   s.ID,
		SentinelName: s.Name,
		Threshold:    s.Threshold,
		Condition:    s.Condition,
		Network:      s.Network,
		Timestamp:    at,
		Detail:       detail,
	}
}

// WebhookNotifier 把通知 POST 到哨兵各自的 webhook 地址。
type WebhookNotifier struct {
	client    *http.Client
	userAgent string
	logger    zerolog.Logger
}

// NewWebhookNotifier 构造 webhook 告警器。
func NewWebhookNotifier(timeout time.Duration, userAgent string, logger zerolog.Logger) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if userAgent == "" {
		userAgent = "sentinel-monitor"
	}

	return &WebhookNotifier{
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
		logger:    logger.With().Str("component", "alert_webhook").Logger(),
	}
}

type webhookPayload struct {
	Kind         string `json:"kind"`
	SentinelID   string `json:"sentinelId"`
	SentinelName string `json:"sentinelName,omitempty"`
	Message      string `json:"message"`
	Price        string `json:"price,omitempty"`
	Threshold    string `json:"threshold"`
	Condition    string `json:"condition"`
	Network      string `json:"network"`
	Timestamp    string `json:"timestamp"`
}

// Notify 推送单条通知。没有配置 target 的哨兵只落一条日志。
func (n *WebhookNotifier) Notify(ctx context.Context, note Notification) error {
	if note.Target == "" {
		n.logger.Info().
			Str("kind", note.Kind).
			Str("sentinel", note.SentinelID.String()).
			Msg("未配置通知地址, 仅记录日志: " + renderMessage(note))
		return nil
	}

	payload := webhookPayload{
		Kind:         note.Kind,
		SentinelID:   note.SentinelID.String(),
		SentinelName: note.SentinelName,
		Message:      renderMessage(note),
		Threshold:    note.Threshold.String(),
		Condition:    string(note.Condition),
		Network:      string(note.Network),
		Timestamp:    note.Timestamp.UTC().Format(time.RFC3339),
	}
	if note.Kind == KindPriceTrigger {
		payload.Price = note.Price.String()
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, note.Target, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", n.userAgent)

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook 响应码异常: %d", resp.StatusCode)
	}

	n.logger.Info().
		Str("kind", note.Kind).
		Str("sentinel", note.SentinelID.String()).
		Str("target", note.Target).
		Msg("告警已发送 (webhook)")
	return nil
}

func renderMessage(note Notification) string {
	builder := strings.Builder{}
	switch note.Kind {
	case KindSentinelPaused:
		builder.WriteString("[Sentinel Paused]\n")
		builder.WriteString(fmt.Sprintf("Sentinel: %s\n", displayName(note)))
		builder.WriteString(fmt.Sprintf("Network: %s\n", note.Network))
		builder.WriteString("Monitoring paused: wallet can no longer cover check fees.\n")
	default:
		builder.WriteString("[Sentinel Alert]\n")
		builder.WriteString(fmt.Sprintf("Sentinel: %s\n", displayName(note)))
		builder.WriteString(fmt.Sprintf("Price: %s\n", note.Price.String()))
		builder.WriteString(fmt.Sprintf("Threshold: %s %s\n", note.Condition, note.Threshold.String()))
		builder.WriteString(fmt.Sprintf("Network: %s\n", note.Network))
	}
	builder.WriteString(fmt.Sprintf("Time: %s UTC\n", note.Timestamp.UTC().Format(time.RFC3339)))
	if note.Detail != "" {
		builder.WriteString(note.Detail)
	}
	return builder.String()
}

func displayName(note Notification) string {
	if note.SentinelName != "" {
		return note.SentinelName
	}
	return note.SentinelID.String()
}

var _ Notifier = (*WebhookNotifier)(nil)
