package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"

	"github.com/cochaviz/bitbuild/internal/build"
)

var _ build.Notifier = (*Notifier)(nil)

// Notifier publishes build notifications to an SNS topic.
type Notifier struct {
	Client   SNSAPI
	TopicARN string
}

// NewNotifier returns a Notifier publishing to topicARN.
func NewNotifier(clients Clients, topicARN string) *Notifier {
	return &Notifier{Client: clients.SNS, TopicARN: topicARN}
}

func (n *Notifier) Notify(ctx context.Context, title, body string) error {
	_, err := n.Client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(n.TopicARN),
		Subject:  aws.String(title),
		Message:  aws.String(body),
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", n.TopicARN, err)
	}
	return nil
}
