package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/example/romanticbot/internal/metrics"
	"github.com/example/romanticbot/internal/models"
)

var (
	ErrQuotaExceeded         = errors.New("generation quota exceeded")
	ErrActiveGeneration      = errors.New("an active generation already exists")
	ErrNoActiveGeneration    = errors.New("no active generation")
	ErrNotAwaitingPhotos     = errors.New("generation is not awaiting photos")
	ErrPhotosAlreadyComplete = errors.New("both photos already submitted")
)

// GenerationStore is the slice of the generation repository the pipeline and
// the orchestrator depend on.
type GenerationStore interface {
	Create(ctx context.Context, userID int64) (*models.Generation, error)
	FindByID(ctx context.Context, id string) (*models.Generation, error)
	FindActiveByUser(ctx context.Context, userID int64) (*models.Generation, error)
	Advance(ctx context.Context, id string, expected, next models.GenerationStatus, patch models.GenerationPatch) (bool, error)
	MarkError(ctx context.Context, id string) (bool, error)
}

// ObjectStorage is the put/get contract of the object-store collaborator.
type ObjectStorage interface {
	Upload(ctx context.Context, data []byte, contentType string) (string, error)
	Download(ctx context.Context, url string) ([]byte, string, error)
}

// Launcher starts asynchronous orchestration for a generation whose photos
// are complete.
type Launcher interface {
	Launch(gen *models.Generation)
}

// PhotoResult describes what SubmitPhoto did with the uploaded photo.
type PhotoResult struct {
	Generation        *models.Generation
	PhotosSubmitted   int
	ProcessingStarted bool
}

// PipelineService owns the generation lifecycle: admission, photo intake and
// the reset path. Stage transitions go through the store's conditional
// Advance, so a row can never skip or regress a stage.
type PipelineService struct {
	log          *slog.Logger
	generations  GenerationStore
	quota        *QuotaService
	storage      ObjectStorage
	orchestrator Launcher
	metrics      metrics.Recorder
}

func NewPipelineService(log *slog.Logger, generations GenerationStore, quota *QuotaService, storage ObjectStorage, orchestrator Launcher, metrics metrics.Recorder) *PipelineService {
	return &PipelineService{
		log:          log,
		generations:  generations,
		quota:        quota,
		storage:      storage,
		orchestrator: orchestrator,
		metrics:      metrics,
	}
}

// StartGeneration admits the user against the quota ledger and creates a new
// generation waiting for photos. Admission is checked once, here; it is not
// re-checked mid-pipeline.
func (s *PipelineService) StartGeneration(ctx context.Context, userID int64) (*models.Generation, error) {
	ok, err := s.quota.CanStart(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrQuotaExceeded
	}

	active, err := s.generations.FindActiveByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("find active generation: %w", err)
	}
	if active != nil {
		return nil, ErrActiveGeneration
	}

	gen, err := s.generations.Create(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("create generation: %w", err)
	}
	s.metrics.GenerationStarted()
	s.log.Info("generation started", "generation_id", gen.ID, "user_id", userID)
	return gen, nil
}

// ActiveGeneration returns the user's in-flight generation, or nil.
func (s *PipelineService) ActiveGeneration(ctx context.Context, userID int64) (*models.Generation, error) {
	gen, err := s.generations.FindActiveByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("find active generation: %w", err)
	}
	return gen, nil
}

// SubmitPhoto stores an uploaded photo and fills the first empty slot. The
// second photo atomically moves the generation to PROCESSING_PHOTOS and hands
// it to the orchestrator; the caller is not blocked on media generation.
func (s *PipelineService) SubmitPhoto(ctx context.Context, generationID string, data []byte, contentType string) (*PhotoResult, error) {
	gen, err := s.generations.FindByID(ctx, generationID)
	if err != nil {
		return nil, fmt.Errorf("find generation: %w", err)
	}
	if gen == nil {
		return nil, ErrNoActiveGeneration
	}
	if gen.Status != models.StatusWaitingPhotos {
		if !gen.Status.Terminal() && gen.Photo1URL != "" && gen.Photo2URL != "" {
			return nil, ErrPhotosAlreadyComplete
		}
		return nil, ErrNotAwaitingPhotos
	}

	url, err := s.storage.Upload(ctx, data, contentType)
	if err != nil {
		return nil, fmt.Errorf("upload photo: %w", err)
	}

	if gen.Photo1URL == "" {
		ok, err := s.generations.Advance(ctx, gen.ID, models.StatusWaitingPhotos, models.StatusWaitingPhotos, models.GenerationPatch{Photo1URL: &url})
		if err != nil {
			return nil, fmt.Errorf("store first photo: %w", err)
		}
		if !ok {
			return nil, ErrNotAwaitingPhotos
		}
		gen.Photo1URL = url
		return &PhotoResult{Generation: gen, PhotosSubmitted: 1}, nil
	}

	ok, err := s.generations.Advance(ctx, gen.ID, models.StatusWaitingPhotos, models.StatusProcessingPhotos, models.GenerationPatch{Photo2URL: &url})
	if err != nil {
		return nil, fmt.Errorf("store second photo: %w", err)
	}
	if !ok {
		return nil, ErrNotAwaitingPhotos
	}
	gen.Photo2URL = url
	gen.Status = models.StatusProcessingPhotos

	s.orchestrator.Launch(gen)
	s.log.Info("photos complete, orchestration launched", "generation_id", gen.ID, "user_id", gen.UserID)
	return &PhotoResult{Generation: gen, PhotosSubmitted: 2, ProcessingStarted: true}, nil
}

// ResetActive force-transitions the user's active generation to ERROR. This
// is the only externally triggerable exit from the generating stages; an
// external call already in flight is not aborted, its late result is
// discarded by the conditional Advance.
func (s *PipelineService) ResetActive(ctx context.Context, userID int64) (*models.Generation, error) {
	gen, err := s.generations.FindActiveByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("find active generation: %w", err)
	}
	if gen == nil {
		return nil, ErrNoActiveGeneration
	}
	if _, err := s.generations.MarkError(ctx, gen.ID); err != nil {
		return nil, fmt.Errorf("reset generation: %w", err)
	}
	s.metrics.GenerationFailed("reset")
	s.log.Info("generation reset", "generation_id", gen.ID, "user_id", userID, "was_status", gen.Status)
	gen.Status = models.StatusError
	return gen, nil
}
