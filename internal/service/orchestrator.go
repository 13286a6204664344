package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/example/romanticbot/internal/metrics"
	"github.com/example/romanticbot/internal/models"
)

// A whole run covers one image call (tens of seconds) and one video call
// (minutes), so the ceiling is generous.
const runTimeout = 30 * time.Minute

// ImageEditor combines the two uploaded photos into one romantic scene.
type ImageEditor interface {
	Edit(ctx context.Context, photo1, photo2 []byte) ([]byte, error)
}

// VideoGenerator animates the combined image into the final video.
type VideoGenerator interface {
	Generate(ctx context.Context, imageURL string) (string, error)
}

// Notifier receives stage-transition and terminal events for rendering to the
// user. chatID is the user's external chat identifier.
type Notifier interface {
	ImageStarted(chatID int64)
	VideoStarted(chatID int64)
	VideoReady(chatID int64, videoURL string)
	GenerationFailed(chatID int64)
}

// Orchestrator drives a generation through the two external synthesis calls.
// Each run is an independent goroutine touching only its own generation row,
// so one slow synthesis job never blocks other users. The semaphore caps
// concurrent runs to protect provider rate limits.
type Orchestrator struct {
	log         *slog.Logger
	generations GenerationStore
	users       UserStore
	quota       *QuotaService
	images      ImageEditor
	videos      VideoGenerator
	storage     ObjectStorage
	notifier    Notifier
	metrics     metrics.Recorder
	sem         chan struct{}
}

func NewOrchestrator(log *slog.Logger, generations GenerationStore, users UserStore, quota *QuotaService, images ImageEditor, videos VideoGenerator, storage ObjectStorage, metrics metrics.Recorder, maxConcurrent int) *Orchestrator {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Orchestrator{
		log:         log,
		generations: generations,
		users:       users,
		quota:       quota,
		images:      images,
		videos:      videos,
		storage:     storage,
		metrics:     metrics,
		sem:         make(chan struct{}, maxConcurrent),
	}
}

// SetNotifier wires the gateway adapter in after construction; the bot needs
// the orchestrator and the orchestrator needs the bot.
func (o *Orchestrator) SetNotifier(n Notifier) {
	o.notifier = n
}

// Launch runs orchestration for gen in the background. The update context is
// deliberately not inherited: the chat interaction finishes long before the
// pipeline does.
func (o *Orchestrator) Launch(gen *models.Generation) {
	go o.run(context.Background(), gen)
}

func (o *Orchestrator) run(ctx context.Context, gen *models.Generation) {
	o.sem <- struct{}{}
	defer func() { <-o.sem }()

	ctx, cancel := context.WithTimeout(ctx, runTimeout)
	defer cancel()

	start := time.Now()

	user, err := o.users.FindByID(ctx, gen.UserID)
	if err != nil || user == nil {
		o.log.Error("orchestrator: user lookup failed", "generation_id", gen.ID, "user_id", gen.UserID, "err", err)
		_, _ = o.generations.MarkError(ctx, gen.ID)
		o.metrics.GenerationFailed("user")
		return
	}
	chatID := user.TelegramID

	if ok := o.advance(ctx, gen.ID, chatID, models.StatusProcessingPhotos, models.StatusGeneratingImage, models.GenerationPatch{}, "image"); !ok {
		return
	}
	o.notifier.ImageStarted(chatID)

	photo1, _, err := o.storage.Download(ctx, gen.Photo1URL)
	if err != nil {
		o.fail(ctx, gen.ID, chatID, "storage", err)
		return
	}
	photo2, _, err := o.storage.Download(ctx, gen.Photo2URL)
	if err != nil {
		o.fail(ctx, gen.ID, chatID, "storage", err)
		return
	}

	imageBytes, err := o.images.Edit(ctx, photo1, photo2)
	if err != nil {
		o.fail(ctx, gen.ID, chatID, "image", err)
		return
	}
	imageURL, err := o.storage.Upload(ctx, imageBytes, "image/png")
	if err != nil {
		o.fail(ctx, gen.ID, chatID, "storage", err)
		return
	}

	if ok := o.advance(ctx, gen.ID, chatID, models.StatusGeneratingImage, models.StatusGeneratingVideo, models.GenerationPatch{RomanticImageURL: &imageURL}, "video"); !ok {
		return
	}
	o.notifier.VideoStarted(chatID)

	videoURL, err := o.videos.Generate(ctx, imageURL)
	if err != nil {
		o.fail(ctx, gen.ID, chatID, "video", err)
		return
	}

	if ok := o.advance(ctx, gen.ID, chatID, models.StatusGeneratingVideo, models.StatusCompleted, models.GenerationPatch{VideoURL: &videoURL}, "complete"); !ok {
		return
	}

	if err := o.quota.ConsumeOnCompletion(ctx, gen.UserID); err != nil {
		// The video is already delivered below; the missed charge is logged
		// rather than failing the user's finished generation.
		o.log.Error("consume on completion failed", "generation_id", gen.ID, "user_id", gen.UserID, "err", err)
	}

	o.metrics.GenerationCompleted(time.Since(start))
	o.log.Info("generation completed", "generation_id", gen.ID, "user_id", gen.UserID, "duration", time.Since(start))
	o.notifier.VideoReady(chatID, videoURL)
}

// advance applies one stage transition. A conditional-update miss means the
// row moved underneath us (user reset, duplicate callback); the work is
// silently discarded per the stale-transition policy.
func (o *Orchestrator) advance(ctx context.Context, id string, chatID int64, expected, next models.GenerationStatus, patch models.GenerationPatch, stage string) bool {
	ok, err := o.generations.Advance(ctx, id, expected, next, patch)
	if err != nil {
		o.fail(ctx, id, chatID, stage, err)
		return false
	}
	if !ok {
		o.log.Warn("stale transition discarded", "generation_id", id, "expected", expected, "next", next)
		return false
	}
	return true
}

func (o *Orchestrator) fail(ctx context.Context, id string, chatID int64, stage string, err error) {
	o.log.Error("generation failed", "generation_id", id, "stage", stage, "err", err)
	if _, markErr := o.generations.MarkError(ctx, id); markErr != nil {
		o.log.Error("mark generation error failed", "generation_id", id, "err", markErr)
	}
	o.metrics.GenerationFailed(stage)
	o.notifier.GenerationFailed(chatID)
}
