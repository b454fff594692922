package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"cvforge/internal/database"
)

var (
	ErrCVNotFound     = errors.New("cv not found")
	ErrSubdomainTaken = errors.New("subdomain already taken")
)

// CVRepository stores permanent CVs. Every lookup is scoped to the owning user.
type CVRepository struct {
	db *gorm.DB
}

func NewCVRepository(db *gorm.DB) *CVRepository {
	return &CVRepository{db: db}
}

func (r *CVRepository) Create(ctx context.Context, cv *database.CV) error {
	if err := r.db.WithContext(ctx).Omit(clause.Associations).Create(cv).Error; err != nil {
		return fmt.Errorf("create cv: %w", err)
	}
	return nil
}

func (r *CVRepository) ListByUser(ctx context.Context, userID uint) ([]database.CV, error) {
	var cvs []database.CV
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("updated_at DESC").
		Find(&cvs).Error
	if err != nil {
		return nil, fmt.Errorf("list cvs: %w", err)
	}
	return cvs, nil
}

func (r *CVRepository) GetForUser(ctx context.Context, id, userID uint) (database.CV, error) {
	var cv database.CV
	err := r.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		Take(&cv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return database.CV{}, ErrCVNotFound
	}
	if err != nil {
		return database.CV{}, fmt.Errorf("get cv: %w", err)
	}
	return cv, nil
}

// Update overwrites the editable fields of a CV. user_id is never written.
func (r *CVRepository) Update(ctx context.Context, cv *database.CV) error {
	res := r.db.WithContext(ctx).
		Model(&database.CV{}).
		Where("id = ? AND user_id = ?", cv.ID, cv.UserID).
		Updates(map[string]any{
			"title":             cv.Title,
			"template_id":       cv.TemplateID,
			"main_color":        cv.MainColor,
			"data":              cv.Data,
			"photo_key":         cv.PhotoKey,
			"is_premium_locked": cv.IsPremiumLocked,
		})
	if res.Error != nil {
		return fmt.Errorf("update cv: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrCVNotFound
	}
	return nil
}

func (r *CVRepository) Delete(ctx context.Context, id, userID uint) error {
	res := r.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		Delete(&database.CV{})
	if res.Error != nil {
		return fmt.Errorf("delete cv: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrCVNotFound
	}
	return nil
}

// Publish exposes the CV at subdomain. Subdomains are globally unique.
func (r *CVRepository) Publish(ctx context.Context, id, userID uint, subdomain string, at time.Time) error {
	res := r.db.WithContext(ctx).
		Model(&database.CV{}).
		Where("id = ? AND user_id = ?", id, userID).
		Updates(map[string]any{
			"subdomain":    subdomain,
			"is_published": true,
			"published_at": at,
		})
	if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
		return ErrSubdomainTaken
	}
	if res.Error != nil {
		return fmt.Errorf("publish cv: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrCVNotFound
	}
	return nil
}

// Unpublish releases the subdomain so another CV may take it.
func (r *CVRepository) Unpublish(ctx context.Context, id, userID uint) error {
	res := r.db.WithContext(ctx).
		Model(&database.CV{}).
		Where("id = ? AND user_id = ?", id, userID).
		Updates(map[string]any{
			"subdomain":    nil,
			"is_published": false,
			"published_at": nil,
		})
	if res.Error != nil {
		return fmt.Errorf("unpublish cv: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrCVNotFound
	}
	return nil
}

// CountBySourceDraft is used by tests and the admin CLI to audit conversions.
func (r *CVRepository) CountBySourceDraft(ctx context.Context, draftID string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&database.CV{}).Where("source_draft_id = ?", draftID).Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("count cvs: %w", err)
	}
	return n, nil
}
