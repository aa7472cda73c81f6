package studies

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"trial-estimator/internal/derive"
	"trial-estimator/internal/documents"
	"trial-estimator/internal/llm"
	"trial-estimator/internal/queue"
	"trial-estimator/internal/shared/storage/object"
	"trial-estimator/internal/shared/storage/object/local"
)

var defaultReplies = map[string]string{
	derive.ProvidedSpec.Name:  "```python\n{'num_subj': 40, 'enroll_dur': 6, 'subj_dur': 12, 'num_sites': 5, 'dmc/ia': False}\n```",
	derive.WorkOrderSpec.Name: "{'study_number': 'ABC-1', 'sponsor': 'Acme'}",
	derive.AssumedSpec.Name:   "{'sdtm_sd': 18}",
	derive.RefreshSpec.Name:   "{}",
	derive.DMCSpec.Name:       "{}",
}

// tagLLM answers by request tag and counts calls.
type tagLLM struct {
	mu      sync.Mutex
	replies map[string]string
	errs    map[string]error
	calls   map[string]int
}

func newTagLLM() *tagLLM {
	replies := make(map[string]string, len(defaultReplies))
	for k, v := range defaultReplies {
		replies[k] = v
	}
	return &tagLLM{replies: replies, errs: map[string]error{}, calls: map[string]int{}}
}

func (s *tagLLM) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[req.Tag]++
	if err := s.errs[req.Tag]; err != nil {
		return llm.Response{}, err
	}
	return llm.Response{Text: s.replies[req.Tag], Model: "stub"}, nil
}

func (s *tagLLM) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		n += c
	}
	return n
}

type queueStub struct {
	mu       sync.Mutex
	messages []queue.Message
	err      error
}

func (q *queueStub) Send(ctx context.Context, msg queue.Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.messages = append(q.messages, msg)
	return nil
}

func (q *queueStub) count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.messages)
}

// countingStore counts object writes.
type countingStore struct {
	object.ObjectStore
	mu    sync.Mutex
	saves int
}

func (c *countingStore) Save(ctx context.Context, namespace, fileName string, r io.Reader) (string, int64, string, error) {
	c.mu.Lock()
	c.saves++
	c.mu.Unlock()
	return c.ObjectStore.Save(ctx, namespace, fileName, r)
}

func (c *countingStore) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saves
}

func newTestService(t *testing.T) (*Service, *MemoryRepo, *tagLLM, *queueStub) {
	t.Helper()
	repo := NewMemoryRepo()
	model := newTagLLM()
	q := &queueStub{}
	svc := &Service{
		Repo:        repo,
		Docs:        documents.NewService(local.New(t.TempDir())),
		JobQueue:    q,
		LLM:         model,
		Assumptions: derive.DefaultAssumptions(),
	}
	return svc, repo, model, q
}

func pdfUpload(purpose documents.Purpose, name string) Upload {
	return Upload{
		Purpose:     purpose,
		FileName:    name,
		ContentType: "application/pdf",
		Body:        bytes.NewReader([]byte("%PDF-1.7\n1 0 obj\n<<>>\nendobj\n")),
	}
}

func createStudy(t *testing.T, svc *Service, stages ...string) Study {
	t.Helper()
	study, err := svc.CreateStudy(context.Background(), stages)
	if err != nil {
		t.Fatalf("create study: %v", err)
	}
	return study
}

// runFirstJob submits the protocol and processes the resulting job.
func runFirstJob(t *testing.T, svc *Service, studyID string) Job {
	t.Helper()
	job, err := svc.Submit(context.Background(), studyID, SubmitInput{
		Uploads: []Upload{pdfUpload(documents.PurposeStudy, "protocol.pdf")},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := svc.ProcessJob(context.Background(), job.ID); err != nil {
		t.Fatalf("process job: %v", err)
	}
	done, err := svc.GetJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if done.Status != StatusFinished {
		t.Fatalf("expected finished job, got %s (%s: %s)", done.Status, done.ErrorCode, done.ErrorMessage)
	}
	return done
}

var errInvalidKey = errors.New("invalid api key")
