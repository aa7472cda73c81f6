package queue

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

type fakeSender struct {
	input *sqs.SendMessageInput
	err   error
}

func (f *fakeSender) SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.input = params
	return &sqs.SendMessageOutput{}, f.err
}

func TestSQSClientSend(t *testing.T) {
	fake := &fakeSender{}
	c := newSQSClient(fake, "https://sqs.local/jobs")

	msg := NewMessage("job-1", "s-1", "req-1", time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	if err := c.Send(context.Background(), msg); err != nil {
		t.Fatalf("send: %v", err)
	}
	if aws.ToString(fake.input.QueueUrl) != "https://sqs.local/jobs" {
		t.Fatalf("unexpected queue url %q", aws.ToString(fake.input.QueueUrl))
	}
	got, err := DecodeMessage([]byte(aws.ToString(fake.input.MessageBody)))
	if err != nil || got != msg {
		t.Fatalf("unexpected body %q err=%v", aws.ToString(fake.input.MessageBody), err)
	}
	if aws.ToString(fake.input.MessageAttributes["study_id"].StringValue) != "s-1" {
		t.Fatalf("expected study_id attribute, got %+v", fake.input.MessageAttributes)
	}
	if fake.input.MessageGroupId != nil || fake.input.MessageDeduplicationId != nil {
		t.Fatalf("standard queues must not set FIFO fields")
	}
}

func TestSQSClientSendFIFO(t *testing.T) {
	fake := &fakeSender{}
	c := newSQSClient(fake, "https://sqs.local/jobs.fifo")

	if err := c.Send(context.Background(), Message{JobID: "job-2", StudyID: "s-2"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if aws.ToString(fake.input.MessageGroupId) != "s-2" || aws.ToString(fake.input.MessageDeduplicationId) != "job-2" {
		t.Fatalf("unexpected fifo fields group=%v dedup=%v", fake.input.MessageGroupId, fake.input.MessageDeduplicationId)
	}
}

func TestSQSClientSendError(t *testing.T) {
	c := newSQSClient(&fakeSender{err: errors.New("denied")}, "q")
	err := c.Send(context.Background(), Message{JobID: "job-1"})
	if err == nil || !strings.Contains(err.Error(), "sqs send job job-1") {
		t.Fatalf("expected wrapped send error, got %v", err)
	}
}

func TestNewSQSClientRequiresURL(t *testing.T) {
	if _, err := NewSQSClient(context.Background(), "", " "); !errors.Is(err, ErrQueueURLRequired) {
		t.Fatalf("expected ErrQueueURLRequired, got %v", err)
	}
}
