package queue

import (
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
)

// MessageVersion is the payload version this build writes and the newest it
// reads.
const MessageVersion = 1

// ErrUnsupportedVersion is returned for payloads written by a newer producer.
var ErrUnsupportedVersion = eris.New("unsupported message version")

// Message asks a worker to run one estimation job. It carries only IDs; the
// job row holds the documents and sub-step flags.
type Message struct {
	JobID      string `json:"jobId"`
	StudyID    string `json:"studyId"`
	RequestID  string `json:"requestId,omitempty"`
	EnqueuedAt string `json:"enqueuedAt"`
	Version    int    `json:"version"`
}

// NewMessage stamps a message for a freshly created job.
func NewMessage(jobID, studyID, requestID string, enqueuedAt time.Time) Message {
	return Message{
		JobID:      jobID,
		StudyID:    studyID,
		RequestID:  requestID,
		EnqueuedAt: enqueuedAt.UTC().Format(time.RFC3339),
		Version:    MessageVersion,
	}
}

func EncodeMessage(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}

// DecodeMessage parses a payload. A missing version is read as version 1.
func DecodeMessage(payload []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Message{}, err
	}
	if msg.Version > MessageVersion {
		return Message{}, eris.Wrapf(ErrUnsupportedVersion, "version %d", msg.Version)
	}
	return msg, nil
}
