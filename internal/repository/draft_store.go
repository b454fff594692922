package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"cvforge/internal/database"
	"cvforge/internal/draft"
)

var _ draft.Store = (*DraftRepository)(nil)

// maxWriteAttempts bounds retries when the row that blocked an insert is gone
// by the time it is read back.
const maxWriteAttempts = 3

var errConflictVanished = errors.New("conflicting draft disappeared")

var (
	// Predicates are literal so postgres and sqlite both infer the partial index.
	activeHashConflict = clause.OnConflict{
		Columns:     []clause.Column{{Name: "content_hash"}},
		TargetWhere: clause.Where{Exprs: []clause.Expression{clause.Expr{SQL: "status = 'draft'"}}},
		DoNothing:   true,
	}
	sourceDraftConflict = clause.OnConflict{
		Columns:     []clause.Column{{Name: "source_draft_id"}},
		TargetWhere: clause.Where{Exprs: []clause.Expression{clause.Expr{SQL: "source_draft_id IS NOT NULL"}}},
		DoNothing:   true,
	}
	forUpdate = clause.Locking{Strength: "UPDATE"}
)

// DraftRepository stores drafts in the drafts table.
type DraftRepository struct {
	db *gorm.DB
}

func NewDraftRepository(db *gorm.DB) *DraftRepository {
	return &DraftRepository{db: db}
}

// Write inserts candidate unless an active draft already holds its content
// hash, in which case resolve decides how that row is reused or recycled.
func (r *DraftRepository) Write(ctx context.Context, candidate database.Draft, resolve draft.ConflictResolver) (database.Draft, draft.WriteOutcome, error) {
	for attempt := 1; ; attempt++ {
		saved, outcome, err := r.write(ctx, candidate, resolve)
		if errors.Is(err, errConflictVanished) && attempt < maxWriteAttempts {
			continue
		}
		if err != nil {
			return database.Draft{}, 0, fmt.Errorf("write draft: %w", err)
		}
		return saved, outcome, nil
	}
}

func (r *DraftRepository) write(ctx context.Context, candidate database.Draft, resolve draft.ConflictResolver) (database.Draft, draft.WriteOutcome, error) {
	var (
		saved   database.Draft
		outcome draft.WriteOutcome
	)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := candidate
		res := tx.Clauses(activeHashConflict).Create(&row)
		if res.Error != nil {
			return fmt.Errorf("insert: %w", res.Error)
		}
		if res.RowsAffected == 1 {
			saved, outcome = row, draft.Inserted
			return nil
		}

		var existing database.Draft
		err := tx.Clauses(forUpdate).
			Where("content_hash = ? AND status = ?", candidate.ContentHash, database.DraftStatusDraft).
			Take(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errConflictVanished
		}
		if err != nil {
			return fmt.Errorf("load conflicting draft: %w", err)
		}

		resolution := resolve(existing)
		next := resolution.Draft
		err = tx.Model(&database.Draft{}).
			Where("id = ?", existing.ID).
			Updates(map[string]any{
				"id":                 next.ID,
				"owner_anonymous_id": next.OwnerAnonymousID,
				"owner_user_id":      next.OwnerUserID,
				"payload":            next.Payload,
				"content_hash":       next.ContentHash,
				"status":             next.Status,
				"converted_cv_id":    next.ConvertedCVID,
				"converted_via":      next.ConvertedVia,
				"created_at":         next.CreatedAt,
				"updated_at":         next.UpdatedAt,
				"expires_at":         next.ExpiresAt,
			}).Error
		if err != nil {
			return fmt.Errorf("apply %s: %w", resolution.Outcome, err)
		}
		saved, outcome = next, resolution.Outcome
		return nil
	})
	return saved, outcome, err
}

func (r *DraftRepository) Get(ctx context.Context, id string) (database.Draft, error) {
	var d database.Draft
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&d).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return database.Draft{}, draft.ErrNotFound
	}
	if err != nil {
		return database.Draft{}, fmt.Errorf("get draft: %w", err)
	}
	return d, nil
}

// Claim binds the draft to userID after authorize accepts the locked row.
// Converted drafts and drafts already claimed by userID are left untouched.
func (r *DraftRepository) Claim(ctx context.Context, id string, userID uint, authorize draft.Authorizer) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		d, err := lockDraft(tx, id)
		if err != nil {
			return err
		}
		if err := authorize(d); err != nil {
			return err
		}
		if d.Status == database.DraftStatusConverted {
			return nil
		}
		if d.Status == database.DraftStatusClaimed && d.OwnerUserID != nil && *d.OwnerUserID == userID {
			return nil
		}

		err = tx.Model(&database.Draft{}).
			Where("id = ?", id).
			Updates(map[string]any{
				"owner_user_id": userID,
				"status":        database.DraftStatusClaimed,
			}).Error
		if err != nil {
			return fmt.Errorf("claim draft: %w", err)
		}
		return nil
	})
}

// Convert creates the CV for a draft and marks the draft converted, all in the
// transaction that holds the draft row. A draft already converted returns its
// CV; a CV already present for the draft, or an identical one the owner
// already has, is reused.
func (r *DraftRepository) Convert(ctx context.Context, id string, req draft.ConversionRequest) (draft.ConvertResult, error) {
	var result draft.ConvertResult
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		d, err := lockDraft(tx, id)
		if err != nil {
			return err
		}
		if err := req.Authorize(d); err != nil {
			return err
		}
		if d.Status == database.DraftStatusConverted && d.ConvertedCVID != nil {
			result = draft.ConvertResult{CVID: *d.ConvertedCVID, Deduplicated: true}
			return nil
		}

		cv, err := req.BuildCV(d)
		if err != nil {
			return err
		}
		existingID, err := findEquivalentCV(tx, d.ID, cv)
		if err != nil {
			return err
		}
		if existingID != 0 {
			result = draft.ConvertResult{CVID: existingID, Deduplicated: true}
		} else {
			res := tx.Clauses(sourceDraftConflict).Omit(clause.Associations).Create(&cv)
			if res.Error != nil {
				return fmt.Errorf("insert cv: %w", res.Error)
			}
			result = draft.ConvertResult{CVID: cv.ID}
			if res.RowsAffected == 0 || cv.ID == 0 {
				existingID, err := findEquivalentCV(tx, d.ID, cv)
				if err != nil {
					return err
				}
				if existingID == 0 {
					return fmt.Errorf("insert cv: conflicting cv for draft %s not found", d.ID)
				}
				result = draft.ConvertResult{CVID: existingID, Deduplicated: true}
			}
		}

		via := string(req.Trigger)
		err = tx.Model(&database.Draft{}).
			Where("id = ?", id).
			Updates(map[string]any{
				"status":          database.DraftStatusConverted,
				"owner_user_id":   req.UserID,
				"converted_cv_id": result.CVID,
				"converted_via":   &via,
			}).Error
		if err != nil {
			return fmt.Errorf("mark draft converted: %w", err)
		}
		return nil
	})
	if err != nil {
		return draft.ConvertResult{}, err
	}
	return result, nil
}

// PurgeExpired deletes drafts that expired before the cutoff.
func (r *DraftRepository) PurgeExpired(ctx context.Context, before time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("expires_at < ?", before).Delete(&database.Draft{})
	if res.Error != nil {
		return 0, fmt.Errorf("purge drafts: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func lockDraft(tx *gorm.DB, id string) (database.Draft, error) {
	var d database.Draft
	err := tx.Clauses(forUpdate).Where("id = ?", id).Take(&d).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return database.Draft{}, draft.ErrNotFound
	}
	if err != nil {
		return database.Draft{}, fmt.Errorf("lock draft: %w", err)
	}
	return d, nil
}

// findEquivalentCV locates the CV a previous conversion of draftID produced,
// falling back to a live same-owner CV with identical template, color and
// title. It returns 0 when neither exists.
func findEquivalentCV(tx *gorm.DB, draftID string, cv database.CV) (uint, error) {
	var existing database.CV
	err := tx.Unscoped().Where("source_draft_id = ?", draftID).Take(&existing).Error
	if err == nil {
		return existing.ID, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, fmt.Errorf("find cv by source draft: %w", err)
	}

	err = tx.Where("user_id = ? AND template_id = ? AND main_color = ? AND title = ?",
		cv.UserID, cv.TemplateID, cv.MainColor, cv.Title).
		Order("id").
		Take(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("find equivalent cv: %w", err)
	}
	return existing.ID, nil
}
