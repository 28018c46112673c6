package bootstrap

import (
	"context"
	"errors"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"ingest_server/adapter/out/cache"
	"ingest_server/adapter/out/storage"
	"ingest_server/config"
	"ingest_server/core/domain"
	"ingest_server/core/port/out"
	"ingest_server/core/service/ingest"
)

// stallingProvider parks the first caller inside ListRootFolders until
// released, keeping a run in flight for as long as the test needs.
type stallingProvider struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func newStallingProvider() *stallingProvider {
	return &stallingProvider{
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (p *stallingProvider) ListRootFolders(ctx context.Context) ([]out.MailFolder, error) {
	p.once.Do(func() { close(p.started) })
	select {
	case <-p.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return nil, errors.New("mailbox unavailable")
}

func (p *stallingProvider) ListChildFolders(ctx context.Context, folderID string) ([]out.MailFolder, error) {
	return nil, errors.New("mailbox unavailable")
}

func (p *stallingProvider) ListMessages(ctx context.Context, folderID string, max int) ([]out.MessageSummary, error) {
	return nil, errors.New("mailbox unavailable")
}

func (p *stallingProvider) GetMessage(ctx context.Context, messageID string) (*domain.RawMessage, error) {
	return nil, errors.New("mailbox unavailable")
}

func (p *stallingProvider) GetAttachments(ctx context.Context, messageID string) ([]domain.Attachment, error) {
	return nil, errors.New("mailbox unavailable")
}

func adminToken(t *testing.T, secret string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"admin": true,
		"sub":   "ops",
		"exp":   float64(time.Now().Add(time.Hour).Unix()),
	})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatal(err)
	}
	return signed
}

func newSharedDeps(t *testing.T, provider out.MailProvider) *Dependencies {
	t.Helper()
	cfg := &config.Config{
		Environment:    "development",
		ImageURLPrefix: "/static/newsletters",
		AdminJWTSecret: "test-secret",
		SyncInterval:   time.Hour,
	}
	store, err := storage.NewLocalImageStore(t.TempDir(), cfg.ImageURLPrefix)
	if err != nil {
		t.Fatal(err)
	}
	coordinator := ingest.NewCoordinator(
		ingest.CoordinatorConfig{Folder: ingest.FolderSpec{Ref: "Newsletters"}, MaxMessages: 10},
		provider,
		ingest.NewSenderValidator([]string{"letters.example"}),
		ingest.NewLinkUnwrapper(nil, ""),
		ingest.NewContentSanitizer(),
		store,
		nil,
		cache.NoopSeenCache{},
		nil,
	)
	return &Dependencies{
		Config:      cfg,
		ImageStore:  store,
		SeenCache:   cache.NoopSeenCache{},
		Coordinator: coordinator,
	}
}

func triggerRun(t *testing.T, app *fiber.App, secret string) int {
	t.Helper()
	req := httptest.NewRequest("POST", "/api/v1/ingest/run", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken(t, secret))
	resp, err := app.Test(req, 5000)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	return resp.StatusCode
}

// The HTTP trigger and the schedule loop must contend on one
// coordinator when both run in the same process: a run started on
// either surface makes the other's trigger a 409 no-op.
func TestSharedDeps_RunInFlightBlocksHTTPTrigger(t *testing.T) {
	provider := newStallingProvider()
	deps := newSharedDeps(t, provider)
	app := NewAPIWithDeps(deps.Config, deps)

	worker := NewWorkerWithDeps(deps.Config, deps)
	if worker.Dependencies().Coordinator != deps.Coordinator {
		t.Fatal("worker wired to a different coordinator than the API")
	}

	runDone := make(chan error, 1)
	go func() {
		_, err := deps.Coordinator.Run(context.Background(), false)
		runDone <- err
	}()
	<-provider.started

	if status := triggerRun(t, app, deps.Config.AdminJWTSecret); status != fiber.StatusConflict {
		t.Errorf("trigger during in-flight run: status = %d, want 409", status)
	}

	close(provider.release)
	if err := <-runDone; err == nil {
		t.Error("expected the stalled run to abort on provider failure")
	}

	// With the coordinator free again, the trigger runs and reports
	// the aborted summary.
	if status := triggerRun(t, app, deps.Config.AdminJWTSecret); status != fiber.StatusOK {
		t.Errorf("trigger after run finished: status = %d, want 200", status)
	}
}
