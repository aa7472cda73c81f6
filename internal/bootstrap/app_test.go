package bootstrap

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/goleak"

	"trial-estimator/internal/documents"
	"trial-estimator/internal/shared/config"
	"trial-estimator/internal/shared/storage/db"
	"trial-estimator/internal/studies"
)

func devConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		Env:               "dev",
		ObjectStoreType:   "local",
		LocalStoreDir:     t.TempDir(),
		LLMProvider:       "placeholder",
		WorkerConcurrency: 2,
		ExtractionTimeout: 5 * time.Second,
	}
}

func TestBuildDevUsesMemoryAndDispatcher(t *testing.T) {
	defer goleak.VerifyNone(t)

	app, err := Build(devConfig(t), db.DefaultServerOptions())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer app.Close()

	if app.DB != nil {
		t.Fatalf("expected no database in dev without DATABASE_URL")
	}
	if _, ok := app.StudiesRepo.(*studies.MemoryRepo); !ok {
		t.Fatalf("expected memory repo, got %T", app.StudiesRepo)
	}
	if app.Dispatcher == nil || app.StudiesService.JobQueue == nil {
		t.Fatalf("expected in-process dispatcher to back the job queue")
	}

	resp := httptest.NewRecorder()
	app.Router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected health 200, got %d", resp.Code)
	}
}

func TestBuildRequiresDatabaseOutsideDev(t *testing.T) {
	cfg := devConfig(t)
	cfg.Env = "production"
	if _, err := Build(cfg, db.DefaultServerOptions()); err == nil {
		t.Fatal("expected error without DATABASE_URL in production")
	}
}

func TestBuildRejectsMissingProviderKeyOutsideDev(t *testing.T) {
	cfg := devConfig(t)
	cfg.Env = "staging"
	cfg.LLMProvider = "anthropic"
	cfg.LLMModel = "claude-sonnet-4-5"
	if _, err := NewLLM(cfg); err == nil {
		t.Fatal("expected error without ANTHROPIC_API_KEY")
	}

	cfg.Env = "dev"
	client, err := NewLLM(cfg)
	if err != nil || client == nil {
		t.Fatalf("dev must fall back to the placeholder, got %v", err)
	}
}

func TestDispatcherRunsSubmittedJob(t *testing.T) {
	defer goleak.VerifyNone(t)

	app, err := Build(devConfig(t), db.DefaultServerOptions())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer app.Close()

	ctx := context.Background()
	svc := app.StudiesService
	study, err := svc.CreateStudy(ctx, []string{"biostats"})
	if err != nil {
		t.Fatalf("CreateStudy: %v", err)
	}
	job, err := svc.Submit(ctx, study.ID, studies.SubmitInput{
		Uploads: []studies.Upload{{
			Purpose:     documents.PurposeStudy,
			FileName:    "protocol.pdf",
			ContentType: "application/pdf",
			Body:        bytes.NewReader([]byte("%PDF-1.7\n1 0 obj\n<<>>\nendobj\n")),
		}},
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		got, err := svc.GetJob(ctx, job.ID)
		if err != nil {
			t.Fatalf("GetJob: %v", err)
		}
		if got.Status == studies.StatusFailed {
			if got.ErrorCode != studies.ErrorCodeExtractionFailed {
				t.Fatalf("expected %s, got %s", studies.ErrorCodeExtractionFailed, got.ErrorCode)
			}
			return
		}
		if got.Status == studies.StatusFinished {
			t.Fatalf("placeholder provider cannot finish a job")
		}
		if time.Now().After(deadline) {
			t.Fatalf("job still %s after deadline", got.Status)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
