package notify

// Package notify pushes recommendations to operators outside the service.
//
// Responsibilities:
//   - Publish recommendations at or above a minimum urgency to an SNS topic
//   - Format the alert subject and body from the explained recommendation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"go.uber.org/zap"

	"github.com/YasmineBenYamna/AI-Enhanced-Crop-Monitoring-and-Sensor-Based-Anomaly-Detection/internal/metrics"
	"github.com/YasmineBenYamna/AI-Enhanced-Crop-Monitoring-and-Sensor-Based-Anomaly-Detection/internal/models"
)

const channelSNS = "sns"

// snsSubjectLimit is the SNS maximum subject length.
const snsSubjectLimit = 100

// Publisher is the subset of the SNS client the notifier uses.
type Publisher interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSNotifier publishes recommendations to an SNS topic.
type SNSNotifier struct {
	client     Publisher
	topicARN   string
	minUrgency models.Urgency
	logger     *zap.Logger
}

// NewSNSNotifier loads the default AWS configuration for region and creates
// a notifier for topicARN.
func NewSNSNotifier(ctx context.Context, region, topicARN string, minUrgency models.Urgency, logger *zap.Logger) (*SNSNotifier, error) {
	if topicARN == "" {
		return nil, errors.New("sns topic arn is required")
	}
	opts := []func(*awsconfig.LoadOptions) error{}
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to load AWS config: %w", err)
	}
	return NewSNSNotifierWithClient(sns.NewFromConfig(cfg), topicARN, minUrgency, logger), nil
}

// NewSNSNotifierWithClient creates a notifier over an existing client.
func NewSNSNotifierWithClient(client Publisher, topicARN string, minUrgency models.Urgency, logger *zap.Logger) *SNSNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	if minUrgency.Rank() == 0 {
		minUrgency = models.UrgencyHigh
	}
	return &SNSNotifier{client: client, topicARN: topicARN, minUrgency: minUrgency, logger: logger}
}

// Notify publishes rec when its urgency reaches the configured minimum.
func (n *SNSNotifier) Notify(ctx context.Context, rec *models.Recommendation) error {
	if rec == nil || rec.Urgency.Rank() < n.minUrgency.Rank() {
		metrics.NotificationsTotal.WithLabelValues(channelSNS, "skipped").Inc()
		return nil
	}

	out, err := n.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(n.topicARN),
		Subject:  aws.String(subject(rec)),
		Message:  aws.String(message(rec)),
	})
	if err != nil {
		metrics.NotificationsTotal.WithLabelValues(channelSNS, "error").Inc()
		return fmt.Errorf("failed to publish recommendation %s to SNS: %w", rec.ID, err)
	}

	metrics.NotificationsTotal.WithLabelValues(channelSNS, "sent").Inc()
	n.logger.Info("recommendation published",
		zap.String("recommendation_id", rec.ID),
		zap.Int64("plot_id", rec.PlotID),
		zap.String("message_id", aws.ToString(out.MessageId)),
	)
	return nil
}

func subject(rec *models.Recommendation) string {
	s := fmt.Sprintf("Plot %d: %s", rec.PlotID, rec.Summary)
	if len(s) > snsSubjectLimit {
		s = s[:snsSubjectLimit-3] + "..."
	}
	// SNS rejects control characters in subjects.
	return strings.Map(func(r rune) rune {
		if r < 0x20 {
			return ' '
		}
		return r
	}, s)
}

func message(rec *models.Recommendation) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Crop Monitoring Recommendation\n\n")
	fmt.Fprintf(&b, "Plot: %d\n", rec.PlotID)
	fmt.Fprintf(&b, "Anomaly: %d\n", rec.AnomalyID)
	fmt.Fprintf(&b, "Action: %s\n", rec.Action)
	fmt.Fprintf(&b, "Urgency: %s\n", rec.Urgency)
	fmt.Fprintf(&b, "Confidence: %.2f\n\n", rec.Confidence)
	b.WriteString(rec.Explanation)
	if len(rec.Details.RecommendedActions) > 0 {
		b.WriteString("\n\nRecommended steps:")
		for i, a := range rec.Details.RecommendedActions {
			fmt.Fprintf(&b, "\n%d. %s", i+1, a)
		}
	}
	return b.String()
}
