package queue

import "context"

// Client hands job messages to whatever runs them: SQS for the split
// api/worker deployment, the Dispatcher when everything runs in one process.
type Client interface {
	Send(ctx context.Context, msg Message) error
}
