package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/example/romanticbot/internal/models"
)

type GenerationRepository struct {
	db *sql.DB
}

func NewGenerationRepository(db *sql.DB) *GenerationRepository {
	return &GenerationRepository{db: db}
}

const generationColumns = `id, user_id, status, COALESCE(photo1_url, ''), COALESCE(photo2_url, ''), COALESCE(romantic_image_url, ''), COALESCE(video_url, ''), created_at, updated_at`

func scanGeneration(row *sql.Row) (*models.Generation, error) {
	var g models.Generation
	if err := row.Scan(&g.ID, &g.UserID, &g.Status, &g.Photo1URL, &g.Photo2URL, &g.RomanticImageURL, &g.VideoURL, &g.CreatedAt, &g.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan generation: %w", err)
	}
	return &g, nil
}

func (r *GenerationRepository) Create(ctx context.Context, userID int64) (*models.Generation, error) {
	g := &models.Generation{
		ID:     uuid.NewString(),
		UserID: userID,
		Status: models.StatusWaitingPhotos,
	}
	const query = `INSERT INTO generations (id, user_id, status) VALUES (?, ?, ?)`
	if _, err := r.db.ExecContext(ctx, query, g.ID, g.UserID, g.Status); err != nil {
		return nil, fmt.Errorf("insert generation: %w", err)
	}
	return g, nil
}

func (r *GenerationRepository) FindByID(ctx context.Context, id string) (*models.Generation, error) {
	const query = `SELECT ` + generationColumns + ` FROM generations WHERE id = ?`
	return scanGeneration(r.db.QueryRowContext(ctx, query, id))
}

// FindActiveByUser returns the most recently created non-terminal generation
// for the user, or nil when none is in flight.
func (r *GenerationRepository) FindActiveByUser(ctx context.Context, userID int64) (*models.Generation, error) {
	const query = `
SELECT ` + generationColumns + `
FROM generations
WHERE user_id = ? AND status IN (?, ?, ?, ?)
ORDER BY created_at DESC
LIMIT 1`
	row := r.db.QueryRowContext(ctx, query, userID,
		models.StatusWaitingPhotos, models.StatusProcessingPhotos,
		models.StatusGeneratingImage, models.StatusGeneratingVideo)
	return scanGeneration(row)
}

// Advance moves a generation from expected to next in one conditional UPDATE,
// persisting any artifact URLs from the patch. It reports false when the row
// was not in the expected status, which callers must treat as a stale or
// duplicate transition.
func (r *GenerationRepository) Advance(ctx context.Context, id string, expected, next models.GenerationStatus, patch models.GenerationPatch) (bool, error) {
	set := []string{"status = ?", "updated_at = NOW()"}
	args := []any{next}
	if patch.Photo1URL != nil {
		set = append(set, "photo1_url = ?")
		args = append(args, *patch.Photo1URL)
	}
	if patch.Photo2URL != nil {
		set = append(set, "photo2_url = ?")
		args = append(args, *patch.Photo2URL)
	}
	if patch.RomanticImageURL != nil {
		set = append(set, "romantic_image_url = ?")
		args = append(args, *patch.RomanticImageURL)
	}
	if patch.VideoURL != nil {
		set = append(set, "video_url = ?")
		args = append(args, *patch.VideoURL)
	}
	args = append(args, id, expected)

	query := fmt.Sprintf(`UPDATE generations SET %s WHERE id = ? AND status = ?`, strings.Join(set, ", "))
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("advance generation: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("advance rows affected: %w", err)
	}
	return affected > 0, nil
}

// MarkError force-transitions a non-terminal generation to ERROR. Terminal
// rows are left untouched.
func (r *GenerationRepository) MarkError(ctx context.Context, id string) (bool, error) {
	const query = `
UPDATE generations SET status = ?, updated_at = NOW()
WHERE id = ? AND status IN (?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, query, models.StatusError, id,
		models.StatusWaitingPhotos, models.StatusProcessingPhotos,
		models.StatusGeneratingImage, models.StatusGeneratingVideo)
	if err != nil {
		return false, fmt.Errorf("mark generation error: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark error rows affected: %w", err)
	}
	return affected > 0, nil
}

func (r *GenerationRepository) ListRecent(ctx context.Context, limit int) ([]models.Generation, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `
SELECT ` + generationColumns + `
FROM generations
ORDER BY created_at DESC
LIMIT ?`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list generations: %w", err)
	}
	defer rows.Close()

	var out []models.Generation
	for rows.Next() {
		var g models.Generation
		if err := rows.Scan(&g.ID, &g.UserID, &g.Status, &g.Photo1URL, &g.Photo2URL, &g.RomanticImageURL, &g.VideoURL, &g.CreatedAt, &g.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan generation: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (r *GenerationRepository) CountByStatus(ctx context.Context) (map[models.GenerationStatus]int, error) {
	const query = `SELECT status, COUNT(*) FROM generations GROUP BY status`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("count generations: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.GenerationStatus]int)
	for rows.Next() {
		var status models.GenerationStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts[status] = count
	}
	return counts, rows.Err()
}
