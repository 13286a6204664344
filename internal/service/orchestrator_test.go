package service

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/example/romanticbot/internal/models"
)

type orchestratorFixture struct {
	users    *memUserStore
	gens     *memGenerationStore
	storage  *mockStorage
	images   *mockImageEditor
	videos   *mockVideoGenerator
	notifier *mockNotifier
	orch     *Orchestrator
}

func newOrchestratorFixture(t *testing.T) *orchestratorFixture {
	t.Helper()
	f := &orchestratorFixture{
		users:   newMemUserStore(&models.User{ID: 1, TelegramID: 100}),
		gens:    newMemGenerationStore(),
		storage: newMockStorage(),
		images: &mockImageEditor{editFn: func(ctx context.Context, photo1, photo2 []byte) ([]byte, error) {
			return []byte("romantic-image"), nil
		}},
		videos: &mockVideoGenerator{generateFn: func(ctx context.Context, imageURL string) (string, error) {
			return "https://videos.test/final.mp4", nil
		}},
		notifier: &mockNotifier{},
	}
	quota := NewQuotaService(f.users)
	f.orch = NewOrchestrator(slog.Default(), f.gens, f.users, quota, f.images, f.videos, f.storage, newTestRecorder(), 2)
	f.orch.SetNotifier(f.notifier)
	return f
}

// readyGeneration seeds a generation in PROCESSING_PHOTOS with both photos
// uploaded, the state the pipeline hands to the orchestrator.
func (f *orchestratorFixture) readyGeneration(t *testing.T) *models.Generation {
	t.Helper()
	ctx := context.Background()
	gen, err := f.gens.Create(ctx, 1)
	if err != nil {
		t.Fatalf("create generation: %v", err)
	}
	url1, _ := f.storage.Upload(ctx, []byte("photo-1"), "image/jpeg")
	url2, _ := f.storage.Upload(ctx, []byte("photo-2"), "image/jpeg")
	ok, err := f.gens.Advance(ctx, gen.ID, models.StatusWaitingPhotos, models.StatusProcessingPhotos,
		models.GenerationPatch{Photo1URL: &url1, Photo2URL: &url2})
	if err != nil || !ok {
		t.Fatalf("seed generation: ok=%v err=%v", ok, err)
	}
	seeded, _ := f.gens.FindByID(ctx, gen.ID)
	return seeded
}

func TestOrchestratorSuccess(t *testing.T) {
	f := newOrchestratorFixture(t)
	gen := f.readyGeneration(t)

	f.orch.run(context.Background(), gen)

	final := f.gens.mustGet(gen.ID)
	if final.Status != models.StatusCompleted {
		t.Fatalf("status = %s, want %s", final.Status, models.StatusCompleted)
	}
	if final.RomanticImageURL == "" {
		t.Error("romantic image url not persisted")
	}
	if final.VideoURL != "https://videos.test/final.mp4" {
		t.Errorf("video url = %q", final.VideoURL)
	}

	user, _ := f.users.FindByID(context.Background(), 1)
	if user.GenerationsUsed != 1 {
		t.Errorf("GenerationsUsed = %d, want 1", user.GenerationsUsed)
	}

	want := []string{"image_started", "video_started", "video_ready:https://videos.test/final.mp4"}
	got := f.notifier.all()
	if len(got) != len(want) {
		t.Fatalf("notifications = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("notification[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestOrchestratorImageFailure(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.images.editFn = func(ctx context.Context, photo1, photo2 []byte) ([]byte, error) {
		return nil, errors.New("provider overloaded")
	}
	gen := f.readyGeneration(t)

	f.orch.run(context.Background(), gen)

	final := f.gens.mustGet(gen.ID)
	if final.Status != models.StatusError {
		t.Fatalf("status = %s, want %s", final.Status, models.StatusError)
	}
	if f.videos.calls != 0 {
		t.Errorf("video generator called %d times after image failure", f.videos.calls)
	}

	// A failed run is not charged.
	user, _ := f.users.FindByID(context.Background(), 1)
	if user.GenerationsUsed != 0 {
		t.Errorf("GenerationsUsed = %d, want 0", user.GenerationsUsed)
	}

	got := f.notifier.all()
	if len(got) == 0 || got[len(got)-1] != "failed" {
		t.Errorf("notifications = %v, want failure last", got)
	}
}

func TestOrchestratorVideoFailure(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.videos.generateFn = func(ctx context.Context, imageURL string) (string, error) {
		return "", errors.New("prediction failed")
	}
	gen := f.readyGeneration(t)

	f.orch.run(context.Background(), gen)

	final := f.gens.mustGet(gen.ID)
	if final.Status != models.StatusError {
		t.Fatalf("status = %s, want %s", final.Status, models.StatusError)
	}
	if final.RomanticImageURL == "" {
		t.Error("romantic image url should survive the video failure")
	}
	user, _ := f.users.FindByID(context.Background(), 1)
	if user.GenerationsUsed != 0 {
		t.Errorf("GenerationsUsed = %d, want 0", user.GenerationsUsed)
	}
}

func TestOrchestratorDiscardsStaleRun(t *testing.T) {
	f := newOrchestratorFixture(t)
	gen := f.readyGeneration(t)

	// The user resets while the image call is in flight; the row moves to
	// ERROR underneath the run.
	f.images.editFn = func(ctx context.Context, photo1, photo2 []byte) ([]byte, error) {
		if _, err := f.gens.MarkError(ctx, gen.ID); err != nil {
			t.Fatalf("mark error: %v", err)
		}
		return []byte("late-image"), nil
	}

	f.orch.run(context.Background(), gen)

	final := f.gens.mustGet(gen.ID)
	if final.Status != models.StatusError {
		t.Fatalf("status = %s, want %s", final.Status, models.StatusError)
	}
	if final.RomanticImageURL != "" {
		t.Error("stale run must not persist artifacts")
	}
	if f.videos.calls != 0 {
		t.Errorf("video generator called %d times on a stale run", f.videos.calls)
	}

	// Discarding is silent: the reset already answered the user.
	for _, event := range f.notifier.all() {
		if event == "failed" {
			t.Error("stale run must not send a failure notification")
		}
	}

	user, _ := f.users.FindByID(context.Background(), 1)
	if user.GenerationsUsed != 0 {
		t.Errorf("GenerationsUsed = %d, want 0", user.GenerationsUsed)
	}
}

func TestOrchestratorUserLookupFailure(t *testing.T) {
	f := newOrchestratorFixture(t)
	gen := f.readyGeneration(t)
	gen.UserID = 999 // no such user

	f.orch.run(context.Background(), gen)

	final := f.gens.mustGet(gen.ID)
	if final.Status != models.StatusError {
		t.Fatalf("status = %s, want %s", final.Status, models.StatusError)
	}
}
