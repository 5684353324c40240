// Package notifications pushes operational events (budget thresholds,
// provider outages, usage persistence failures) to an SNS topic the dashboard
// backend subscribes to.
package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"

	"github.com/replydesk/aigateway/internal/budget"
)

type NotificationType string

const (
	NotificationBudgetWarning      NotificationType = "budget_warning"
	NotificationBudgetCritical     NotificationType = "budget_critical"
	NotificationBudgetExceeded     NotificationType = "budget_exceeded"
	NotificationProviderDown       NotificationType = "provider_down"
	NotificationProviderUp         NotificationType = "provider_up"
	NotificationUsagePersistFailed NotificationType = "usage_persist_failed"
)

type Notification struct {
	Type     NotificationType `json:"type"`
	TenantID string           `json:"tenant_id,omitempty"`
	Message  string           `json:"message"`
	Data     map[string]any   `json:"data,omitempty"`
}

type Notifier interface {
	Send(ctx context.Context, notification Notification) error
}

type SNSNotifier struct {
	client   *sns.Client
	topicArn string
}

func NewSNSNotifier(ctx context.Context, region, topicArn string) (*SNSNotifier, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewSNSNotifierWithConfig(cfg, topicArn), nil
}

func NewSNSNotifierWithConfig(cfg aws.Config, topicArn string) *SNSNotifier {
	return &SNSNotifier{
		client:   sns.NewFromConfig(cfg),
		topicArn: topicArn,
	}
}

func (n *SNSNotifier) Send(ctx context.Context, notification Notification) error {
	message, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	input := &sns.PublishInput{
		TopicArn: aws.String(n.topicArn),
		Message:  aws.String(string(message)),
		MessageAttributes: map[string]snstypes.MessageAttributeValue{
			"Type": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(notification.Type)),
			},
		},
	}

	if notification.TenantID != "" {
		input.MessageAttributes["TenantID"] = snstypes.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(notification.TenantID),
		}
	}

	if _, err := n.client.Publish(ctx, input); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}

	slog.Info("notification sent",
		"type", notification.Type,
		"tenant_id", notification.TenantID,
	)

	return nil
}

// BudgetAlertHandler adapts a Notifier into a budget alert handler, mapping
// alert levels onto notification types. Sends use a detached timeout so a
// slow SNS call cannot stall usage recording.
func BudgetAlertHandler(n Notifier) budget.AlertHandler {
	return func(alert budget.Alert) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		var typ NotificationType
		switch alert.Level {
		case budget.AlertLevelWarning:
			typ = NotificationBudgetWarning
		case budget.AlertLevelCritical:
			typ = NotificationBudgetCritical
		default:
			typ = NotificationBudgetExceeded
		}

		err := n.Send(ctx, Notification{
			Type:     typ,
			TenantID: alert.TenantID,
			Message: fmt.Sprintf("tenant %s at %.0f%% of %s budget",
				alert.TenantID, alert.Percentage*100, alert.Unit),
			Data: map[string]any{
				"current_use": alert.CurrentUse,
				"limit":       alert.Limit,
				"percentage":  alert.Percentage,
			},
		})
		if err != nil {
			slog.Error("failed to send budget notification",
				"error", err,
				"tenant_id", alert.TenantID,
				"level", alert.Level,
			)
		}
	}
}

// InMemoryNotifier collects notifications for tests and local development.
type InMemoryNotifier struct {
	mu            sync.Mutex
	notifications []Notification
	handlers      []func(Notification)
}

func NewInMemoryNotifier() *InMemoryNotifier {
	return &InMemoryNotifier{}
}

func (n *InMemoryNotifier) Send(ctx context.Context, notification Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.notifications = append(n.notifications, notification)
	for _, handler := range n.handlers {
		handler(notification)
	}

	return nil
}

func (n *InMemoryNotifier) OnNotification(handler func(Notification)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handlers = append(n.handlers, handler)
}

func (n *InMemoryNotifier) Notifications() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	result := make([]Notification, len(n.notifications))
	copy(result, n.notifications)
	return result
}
