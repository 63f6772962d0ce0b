package billing

import (
	"context"
	"errors"
	"time"

	"outreach-platform/pkg/logger"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// QueueAPI is the subset of the SQS client the consumer uses.
type QueueAPI interface {
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// Consumer long-polls an SQS queue of billing events. Failed messages are
// left on the queue so SQS redelivers them after the visibility timeout.
type Consumer struct {
	client    QueueAPI
	queueURL  string
	processor PayloadProcessor

	// ErrorBackoff is the pause after a failed receive.
	ErrorBackoff time.Duration
}

func NewConsumer(client QueueAPI, queueURL string, p PayloadProcessor) *Consumer {
	return &Consumer{client: client, queueURL: queueURL, processor: p, ErrorBackoff: 5 * time.Second}
}

// Run polls until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) {
	log := logger.From(ctx).With("queue_url", c.queueURL)
	log.Info("billing queue consumer started")
	defer log.Info("billing queue consumer stopped")

	for ctx.Err() == nil {
		if err := c.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error("billing queue receive failed", "err", err)
			t := time.NewTimer(c.ErrorBackoff)
			select {
			case <-ctx.Done():
				t.Stop()
				return
			case <-t.C:
			}
		}
	}
}

// Poll receives and handles one batch.
func (c *Consumer) Poll(ctx context.Context) error {
	out, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(c.queueURL),
		MaxNumberOfMessages: 10,
		WaitTimeSeconds:     20,
	})
	if err != nil {
		return err
	}

	log := logger.From(ctx)
	for _, msg := range out.Messages {
		id := aws.ToString(msg.MessageId)
		_, err := c.processor.ProcessPayload(ctx, []byte(aws.ToString(msg.Body)))
		switch {
		case errors.Is(err, ErrMalformed):
			log.Warn("dropping malformed billing message", "message_id", id, "err", err)
		case err != nil:
			log.Error("billing message failed; leaving for redelivery", "message_id", id, "err", err)
			continue
		}
		if _, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
			QueueUrl:      aws.String(c.queueURL),
			ReceiptHandle: msg.ReceiptHandle,
		}); err != nil {
			log.Error("delete billing message failed", "message_id", id, "err", err)
		}
	}
	return nil
}
