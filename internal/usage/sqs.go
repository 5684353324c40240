package usage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/replydesk/aigateway/internal/domain"
)

// EventSink receives a copy of every usage record for downstream consumers
// (billing exports, the dashboard's analytics pipeline). Delivery is best
// effort and never blocks or fails the request path.
type EventSink interface {
	Publish(ctx context.Context, record domain.UsageRecord) error
}

type SQSSink struct {
	client   *sqs.Client
	queueURL string
}

func NewSQSSink(ctx context.Context, region, queueURL string) (*SQSSink, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewSQSSinkWithConfig(cfg, queueURL), nil
}

func NewSQSSinkWithConfig(cfg aws.Config, queueURL string) *SQSSink {
	return &SQSSink{
		client:   sqs.NewFromConfig(cfg),
		queueURL: queueURL,
	}
}

func (s *SQSSink) Publish(ctx context.Context, record domain.UsageRecord) error {
	body, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal usage record: %w", err)
	}

	_, err = s.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(s.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"TenantID": {
				DataType:    aws.String("String"),
				StringValue: aws.String(record.TenantID),
			},
			"RequestID": {
				DataType:    aws.String("String"),
				StringValue: aws.String(record.RequestID),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("send usage event: %w", err)
	}

	return nil
}
