package queue

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/rotisserie/eris"
)

const defaultRegion = "us-east-1"

// ErrQueueURLRequired is returned by NewSQSClient without a queue URL.
var ErrQueueURLRequired = eris.New("SQS_QUEUE_URL is required")

type sqsSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSClient publishes job messages to an SQS queue. On a FIFO queue messages
// are grouped per study and deduplicated per job.
type SQSClient struct {
	client   sqsSender
	queueURL string
	fifo     bool
}

func NewSQSClient(ctx context.Context, region, queueURL string) (*SQSClient, error) {
	queueURL = strings.TrimSpace(queueURL)
	if queueURL == "" {
		return nil, ErrQueueURLRequired
	}
	if strings.TrimSpace(region) == "" {
		region = defaultRegion
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, eris.Wrap(err, "load aws config")
	}
	return newSQSClient(sqs.NewFromConfig(cfg), queueURL), nil
}

func newSQSClient(client sqsSender, queueURL string) *SQSClient {
	return &SQSClient{client: client, queueURL: queueURL, fifo: strings.HasSuffix(queueURL, ".fifo")}
}

func (s *SQSClient) Send(ctx context.Context, msg Message) error {
	payload, err := EncodeMessage(msg)
	if err != nil {
		return eris.Wrap(err, "encode job message")
	}
	in := &sqs.SendMessageInput{
		QueueUrl:          aws.String(s.queueURL),
		MessageBody:       aws.String(string(payload)),
		MessageAttributes: attributes(msg),
	}
	if s.fifo {
		in.MessageGroupId = aws.String(firstNonEmpty(msg.StudyID, msg.JobID))
		in.MessageDeduplicationId = aws.String(msg.JobID)
	}
	if _, err := s.client.SendMessage(ctx, in); err != nil {
		return eris.Wrapf(err, "sqs send job %s", msg.JobID)
	}
	return nil
}

func attributes(msg Message) map[string]sqstypes.MessageAttributeValue {
	out := make(map[string]sqstypes.MessageAttributeValue, 2)
	for name, v := range map[string]string{"job_id": msg.JobID, "study_id": msg.StudyID} {
		if v == "" {
			continue
		}
		out[name] = sqstypes.MessageAttributeValue{DataType: aws.String("String"), StringValue: aws.String(v)}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

var _ Client = (*SQSClient)(nil)
